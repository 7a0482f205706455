package interp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

var (
	// ErrMalformedProgram is returned at load time for programs the
	// interpreter refuses to run.
	ErrMalformedProgram = errors.New("interp: malformed program")
	// ErrMissingContextValue is returned when the input does not assign a
	// key the program reads. This is a caller bug, not a non-match.
	ErrMissingContextValue = errors.New("interp: missing context value")
)

const (
	CodeMalformedProgram    = "ERR_INTERP_MALFORMED_PROGRAM"
	CodeMissingContextValue = "ERR_INTERP_MISSING_CONTEXT_VALUE"
)

// MalformedProgramError locates the first problem found in a program.
type MalformedProgramError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Rule    string `json:"rule,omitempty"`
	// Path indexes the statement chain from the rule's top-level list down
	// to the offending statement.
	Path       []int `json:"path,omitempty"`
	Comparison int   `json:"comparison"`
}

func (e *MalformedProgramError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code + ": " + e.Message)
	if e.Rule != "" {
		fmt.Fprintf(&b, " (rule=%s path=%v comparison=%d)", e.Rule, e.Path, e.Comparison)
	}
	return b.String()
}

func (e *MalformedProgramError) Unwrap() error { return ErrMalformedProgram }

// MissingContextError lists the keys the program reads that the input does
// not assign.
type MissingContextError struct {
	Code string    `json:"code"`
	Keys []dvm.Key `json:"keys"`
}

func newMissingContextError(missing dvm.KeySet) *MissingContextError {
	return &MissingContextError{Code: CodeMissingContextValue, Keys: missing.Keys()}
}

func (e *MissingContextError) Error() string {
	names := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		names[i] = k.String()
	}
	return e.Code + ": input has no value for " + strings.Join(names, ", ")
}

func (e *MissingContextError) Unwrap() error { return ErrMissingContextValue }
