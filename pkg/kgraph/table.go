package kgraph

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/eligibility_table.schema.json
var tableSchemaJSON []byte

const tableSchemaURL = "https://routecore.schemas.local/kgraph/eligibility_table.schema.json"

var (
	tableSchemaOnce sync.Once
	tableSchema     *jsonschema.Schema
	tableSchemaErr  error
)

func compiledTableSchema() (*jsonschema.Schema, error) {
	tableSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(tableSchemaURL, bytes.NewReader(tableSchemaJSON)); err != nil {
			tableSchemaErr = fmt.Errorf("kgraph: table schema load failed: %w", err)
			return
		}
		tableSchema, tableSchemaErr = c.Compile(tableSchemaURL)
	})
	return tableSchema, tableSchemaErr
}

// Flows lists payment flows a connector does not support for a method.
type Flows struct {
	CaptureMethod []string `json:"capture_method,omitempty" yaml:"capture_method,omitempty"`
}

// Filter restricts one (connector, method) pair. Allow lists are inclusive;
// Not* lists are exclusions. An empty filter places no restriction.
type Filter struct {
	Currency          []string `json:"currency,omitempty" yaml:"currency,omitempty"`
	Country           []string `json:"country,omitempty" yaml:"country,omitempty"`
	NotCurrency       []string `json:"not_currency,omitempty" yaml:"not_currency,omitempty"`
	NotCountry        []string `json:"not_country,omitempty" yaml:"not_country,omitempty"`
	NotAvailableFlows *Flows   `json:"not_available_flows,omitempty" yaml:"not_available_flows,omitempty"`
}

// ConnectorFilters maps a filter key (payment method type, card network or
// payment method) to its restrictions.
type ConnectorFilters map[string]*Filter

// Table is the eligibility configuration a knowledge graph is compiled from.
type Table struct {
	Default    ConnectorFilters            `json:"default,omitempty" yaml:"default,omitempty"`
	Connectors map[string]ConnectorFilters `json:"connectors" yaml:"connectors"`
}

// ParseTable decodes a YAML or JSON table and validates it against the
// embedded schema.
func ParseTable(data []byte) (*Table, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &KgraphError{Code: CodeInvalidTable, Message: err.Error()}
	}
	// Round-trip through JSON so the validator sees JSON-native types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &KgraphError{Code: CodeInvalidTable, Message: err.Error()}
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, &KgraphError{Code: CodeInvalidTable, Message: err.Error()}
	}
	schema, err := compiledTableSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(generic); err != nil {
		return nil, &KgraphError{Code: CodeInvalidTable, Message: fmt.Sprintf("schema validation failed: %v", err)}
	}

	var t Table
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, &KgraphError{Code: CodeInvalidTable, Message: err.Error()}
	}
	return &t, nil
}

// LoadTable reads and parses a table file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kgraph: read table: %w", err)
	}
	return ParseTable(data)
}

// ConnectorNames lists the configured connectors in sorted order.
func (t *Table) ConnectorNames() []string {
	names := make([]string, 0, len(t.Connectors))
	for name := range t.Connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// filtersFor returns a connector's filters with the default section's
// restrictions applied to keys the connector lists without restrictions of
// its own. Defaults never add methods a connector does not list.
func (t *Table) filtersFor(name string) ConnectorFilters {
	own := t.Connectors[name]
	merged := make(ConnectorFilters, len(own))
	for k, f := range own {
		if f.empty() {
			if d, ok := t.Default[k]; ok {
				f = d
			}
		}
		merged[k] = f
	}
	return merged
}

func (f *Filter) empty() bool {
	if f == nil {
		return true
	}
	flows := f.NotAvailableFlows == nil || len(f.NotAvailableFlows.CaptureMethod) == 0
	return len(f.Currency) == 0 && len(f.Country) == 0 && len(f.NotCurrency) == 0 && len(f.NotCountry) == 0 && flows
}

func sortedKeys(m ConnectorFilters) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
