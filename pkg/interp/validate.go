package interp

import (
	"fmt"
	"slices"

	"github.com/Mindburn-Labs/routecore/pkg/ast"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

// Validate checks that every comparison of p is well formed: a declared key,
// a known operator, values of that key, exactly one value for equal,
// not_equal and the ordering operators, and ordering only on number keys.
// Rule names must be present and unique.
func Validate[O any](p *ast.Program[O]) error {
	if p == nil {
		return &MalformedProgramError{Code: CodeMalformedProgram, Message: "program is nil"}
	}
	names := make(map[string]struct{}, len(p.Rules))
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.Name == "" {
			return &MalformedProgramError{Code: CodeMalformedProgram, Message: fmt.Sprintf("rule %d has no name", i)}
		}
		if _, dup := names[r.Name]; dup {
			return &MalformedProgramError{Code: CodeMalformedProgram, Message: "duplicate rule name", Rule: r.Name}
		}
		names[r.Name] = struct{}{}
		if err := validateStatements(r.Name, r.Statements, nil); err != nil {
			return err
		}
	}
	return nil
}

func validateStatements(rule string, statements []ast.IfStatement, path []int) error {
	for i, s := range statements {
		here := append(slices.Clip(path), i)
		for j, c := range s.Condition {
			if msg := checkComparison(c); msg != "" {
				return &MalformedProgramError{
					Code:       CodeMalformedProgram,
					Message:    msg,
					Rule:       rule,
					Path:       here,
					Comparison: j,
				}
			}
		}
		if err := validateStatements(rule, s.Nested, here); err != nil {
			return err
		}
	}
	return nil
}

func checkComparison(c ast.Comparison) string {
	if !c.Key.Valid() {
		return fmt.Sprintf("undeclared key %d", uint8(c.Key))
	}
	if !c.Type.Valid() {
		return fmt.Sprintf("unknown comparison %q", c.Type)
	}
	if len(c.Values) == 0 {
		return fmt.Sprintf("%s %s has no values", c.Key, c.Type)
	}
	switch c.Type {
	case ast.Equal, ast.NotEqual:
		if len(c.Values) != 1 {
			return fmt.Sprintf("%s %s takes one value, got %d", c.Key, c.Type, len(c.Values))
		}
	case ast.LessThan, ast.LessThanEqual, ast.GreaterThan, ast.GreaterThanEqual:
		if c.Key.Kind() != dvm.KindNumber {
			return fmt.Sprintf("%s is not a number key and cannot use %s", c.Key, c.Type)
		}
		if len(c.Values) != 1 {
			return fmt.Sprintf("%s %s takes one value, got %d", c.Key, c.Type, len(c.Values))
		}
	}
	for _, v := range c.Values {
		if v.Key != c.Key {
			return fmt.Sprintf("value %s does not belong to key %s", v, c.Key)
		}
		if err := dvm.Validate(v); err != nil {
			return err.Error()
		}
	}
	return ""
}
