package interp

import (
	"log/slog"

	"github.com/Mindburn-Labs/routecore/pkg/ast"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

type opcode uint8

const (
	opMember opcode = iota
	opNotMember
	opLess
	opLessEqual
	opGreater
	opGreaterEqual
)

// setThreshold is the value count above which membership uses a map.
const setThreshold = 8

type slot struct {
	key   dvm.Key
	op    opcode
	num   int64
	small []dvm.Value
	large map[dvm.Value]struct{}
}

func (s *slot) holds(in *dvm.BackendInput) bool {
	got, _ := in.Get(s.key)
	switch s.op {
	case opLess:
		return got.Number < s.num
	case opLessEqual:
		return got.Number <= s.num
	case opGreater:
		return got.Number > s.num
	case opGreaterEqual:
		return got.Number >= s.num
	}
	var hit bool
	if s.large != nil {
		_, hit = s.large[got]
	} else {
		for _, v := range s.small {
			if v == got {
				hit = true
				break
			}
		}
	}
	return hit == (s.op == opMember)
}

type compiledRule struct {
	index int
	slots []slot
}

// Compiled is the pre-resolved strategy. Each rule's statement tree is
// flattened into one conjunction of slots, since every statement at every
// depth must hold; duplicate comparisons are dropped.
type Compiled[O any] struct {
	program *ast.Program[O]
	keys    dvm.KeySet
	rules   []compiledRule
}

// Compile validates p and lowers it.
func Compile[O any](p *ast.Program[O]) (*Compiled[O], error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	c := &Compiled[O]{program: p, keys: p.Keys(), rules: make([]compiledRule, len(p.Rules))}
	total := 0
	for i := range p.Rules {
		c.rules[i] = compiledRule{index: i, slots: lowerRule(&p.Rules[i])}
		total += len(c.rules[i].slots)
	}
	slog.Default().With("component", "interp").Debug("program compiled",
		"rules", len(p.Rules),
		"slots", total,
		"keys", c.keys.String(),
	)
	return c, nil
}

func lowerRule[O any](r *ast.Rule[O]) []slot {
	var slots []slot
	seen := make(map[string]struct{})
	ast.Walk(r.Statements, func(s *ast.IfStatement, _ int) bool {
		for _, cmp := range s.Condition {
			sig := cmp.String()
			if _, dup := seen[sig]; dup {
				continue
			}
			seen[sig] = struct{}{}
			slots = append(slots, lowerComparison(cmp))
		}
		return true
	})
	return slots
}

func lowerComparison(c ast.Comparison) slot {
	s := slot{key: c.Key}
	switch c.Type {
	case ast.LessThan:
		s.op, s.num = opLess, c.Values[0].Number
		return s
	case ast.LessThanEqual:
		s.op, s.num = opLessEqual, c.Values[0].Number
		return s
	case ast.GreaterThan:
		s.op, s.num = opGreater, c.Values[0].Number
		return s
	case ast.GreaterThanEqual:
		s.op, s.num = opGreaterEqual, c.Values[0].Number
		return s
	}
	s.op = opMember
	if c.Type.Logic() == ast.NegativeConjunction {
		s.op = opNotMember
	}
	if len(c.Values) > setThreshold {
		s.large = make(map[dvm.Value]struct{}, len(c.Values))
		for _, v := range c.Values {
			s.large[v] = struct{}{}
		}
		return s
	}
	s.small = append([]dvm.Value(nil), c.Values...)
	return s
}

func (c *Compiled[O]) Program() *ast.Program[O] { return c.program }

func (c *Compiled[O]) Strategy() Strategy { return StrategyCompiled }

// Execute returns the first rule whose slots all hold, or the default. On
// error the output carries the default selection.
func (c *Compiled[O]) Execute(in *dvm.BackendInput) (BackendOutput[O], error) {
	if err := requireKeys(c.keys, in); err != nil {
		return fallback(c.program), err
	}
rules:
	for _, r := range c.rules {
		for i := range r.slots {
			if !r.slots[i].holds(in) {
				continue rules
			}
		}
		return matched(&c.program.Rules[r.index]), nil
	}
	return fallback(c.program), nil
}
