// Package interp runs routing programs against a transaction's input. It is
// on the payment hot path: programs are validated once at construction and
// evaluation only compares values, it never consults the knowledge graph.
package interp

import (
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/routecore/pkg/ast"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

// BackendOutput is the routing decision for one input. RuleName is nil when
// no rule matched and the default selection was used.
type BackendOutput[O any] struct {
	RuleName           *string `json:"rule_name"`
	ConnectorSelection O       `json:"connector_selection"`
}

// Matched reports whether a rule, rather than the default, produced o.
func (o BackendOutput[O]) Matched() bool { return o.RuleName != nil }

// Backend evaluates one frozen program. Implementations are safe for
// concurrent use and must agree on every output.
type Backend[O any] interface {
	Execute(in *dvm.BackendInput) (BackendOutput[O], error)
	Program() *ast.Program[O]
	Strategy() Strategy
}

// Strategy names a Backend implementation.
type Strategy string

const (
	StrategyTree     Strategy = "tree"
	StrategyCompiled Strategy = "compiled"
)

// ParseStrategy accepts "tree" or "compiled"; empty means compiled.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyTree:
		return StrategyTree, nil
	case StrategyCompiled, "":
		return StrategyCompiled, nil
	default:
		return "", fmt.Errorf("interp: unknown strategy %q", s)
	}
}

// New validates p and returns the backend for strategy.
func New[O any](strategy Strategy, p *ast.Program[O]) (Backend[O], error) {
	switch strategy {
	case StrategyTree:
		tw, err := NewTreeWalker(p)
		if err != nil {
			return nil, err
		}
		return tw, nil
	case StrategyCompiled, "":
		c, err := Compile(p)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("interp: unknown strategy %q", strategy)
	}
}

// Execute validates p and runs it once against in. Callers evaluating many
// inputs should build a Backend instead.
func Execute[O any](p *ast.Program[O], in *dvm.BackendInput) (BackendOutput[O], error) {
	tw, err := NewTreeWalker(p)
	if err != nil {
		return BackendOutput[O]{}, err
	}
	return tw.Execute(in)
}

// requireKeys fails unless in assigns every key in needed.
func requireKeys(needed dvm.KeySet, in *dvm.BackendInput) error {
	if in == nil {
		if needed.Empty() {
			return nil
		}
		return newMissingContextError(needed)
	}
	if missing := needed.Minus(in.Keys()); !missing.Empty() {
		return newMissingContextError(missing)
	}
	return nil
}

func matched[O any](r *ast.Rule[O]) BackendOutput[O] {
	name := r.Name
	return BackendOutput[O]{RuleName: &name, ConnectorSelection: r.ConnectorSelection}
}

func fallback[O any](p *ast.Program[O]) BackendOutput[O] {
	return BackendOutput[O]{ConnectorSelection: p.DefaultSelection}
}

// TreeWalker evaluates the program's statement trees directly.
type TreeWalker[O any] struct {
	program *ast.Program[O]
	keys    dvm.KeySet
}

// NewTreeWalker validates p and wraps it.
func NewTreeWalker[O any](p *ast.Program[O]) (*TreeWalker[O], error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	return &TreeWalker[O]{program: p, keys: p.Keys()}, nil
}

func (t *TreeWalker[O]) Program() *ast.Program[O] { return t.program }

func (t *TreeWalker[O]) Strategy() Strategy { return StrategyTree }

// Execute returns the first rule whose statements all hold, or the default.
// On error the output carries the default selection.
func (t *TreeWalker[O]) Execute(in *dvm.BackendInput) (BackendOutput[O], error) {
	if err := requireKeys(t.keys, in); err != nil {
		return fallback(t.program), err
	}
	for i := range t.program.Rules {
		r := &t.program.Rules[i]
		if statementsHold(r.Statements, in) {
			return matched(r), nil
		}
	}
	return fallback(t.program), nil
}

// statementsHold is AND across the list and across depth.
func statementsHold(statements []ast.IfStatement, in *dvm.BackendInput) bool {
	for i := range statements {
		s := &statements[i]
		for _, c := range s.Condition {
			if !comparisonHolds(c, in) {
				return false
			}
		}
		if !statementsHold(s.Nested, in) {
			return false
		}
	}
	return true
}

func comparisonHolds(c ast.Comparison, in *dvm.BackendInput) bool {
	got, _ := in.Get(c.Key)
	switch c.Type {
	case ast.LessThan:
		return got.Number < c.Values[0].Number
	case ast.LessThanEqual:
		return got.Number <= c.Values[0].Number
	case ast.GreaterThan:
		return got.Number > c.Values[0].Number
	case ast.GreaterThanEqual:
		return got.Number >= c.Values[0].Number
	}
	hit := false
	for _, v := range c.Values {
		if v == got {
			hit = true
			break
		}
	}
	if c.Type.Logic() == ast.NegativeConjunction {
		return !hit
	}
	return hit
}
