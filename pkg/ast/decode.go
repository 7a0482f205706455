package ast

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidProgram is returned when a program document fails schema
// validation or names an unknown key or value.
var ErrInvalidProgram = errors.New("ast: invalid program")

//go:embed schema/program.schema.json
var programSchemaJSON []byte

const programSchemaURL = "https://routecore.schemas.local/ast/program.schema.json"

var (
	programSchemaOnce sync.Once
	programSchema     *jsonschema.Schema
	programSchemaErr  error
)

func compiledProgramSchema() (*jsonschema.Schema, error) {
	programSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(programSchemaURL, bytes.NewReader(programSchemaJSON)); err != nil {
			programSchemaErr = fmt.Errorf("ast: program schema load failed: %w", err)
			return
		}
		programSchema, programSchemaErr = c.Compile(programSchemaURL)
	})
	return programSchema, programSchemaErr
}

// ValidateDocument checks a JSON program document against the schema without
// decoding the connector selections.
func ValidateDocument(data []byte) error {
	schema, err := compiledProgramSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	return nil
}

// DecodeProgram validates data and decodes it. Keys and values are parsed
// through the domain value model, so an unknown one fails here rather than
// at evaluation time.
func DecodeProgram[O any](data []byte) (*Program[O], error) {
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}
	var p Program[O]
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProgram, err)
	}
	return &p, nil
}

// EncodeProgram is the inverse of DecodeProgram.
func EncodeProgram[O any](p *Program[O]) ([]byte, error) {
	return json.Marshal(p)
}
