package ast

import "github.com/Mindburn-Labs/routecore/pkg/dvm"

// Walk visits statements depth-first, parents before their nested
// statements. depth is 0 for top-level statements. Returning false from fn
// stops the walk; Walk reports whether it ran to completion.
func Walk(statements []IfStatement, fn func(s *IfStatement, depth int) bool) bool {
	return walk(statements, 0, fn)
}

func walk(statements []IfStatement, depth int, fn func(*IfStatement, int) bool) bool {
	for i := range statements {
		s := &statements[i]
		if !fn(s, depth) {
			return false
		}
		if !walk(s.Nested, depth+1, fn) {
			return false
		}
	}
	return true
}

// Paths returns every root-to-leaf chain of statements, each flattened into
// the comparisons met along the way.
func Paths(statements []IfStatement) [][]Comparison {
	var out [][]Comparison
	var visit func(s IfStatement, prefix []Comparison)
	visit = func(s IfStatement, prefix []Comparison) {
		path := append(prefix[:len(prefix):len(prefix)], s.Condition...)
		if len(s.Nested) == 0 {
			out = append(out, path)
			return
		}
		for _, n := range s.Nested {
			visit(n, path)
		}
	}
	for _, s := range statements {
		visit(s, nil)
	}
	return out
}

// Comparisons returns every comparison of the rule in walk order.
func (r *Rule[O]) Comparisons() []Comparison {
	var out []Comparison
	Walk(r.Statements, func(s *IfStatement, _ int) bool {
		out = append(out, s.Condition...)
		return true
	})
	return out
}

// Keys is the set of keys the rule reads.
func (r *Rule[O]) Keys() dvm.KeySet {
	var ks dvm.KeySet
	Walk(r.Statements, func(s *IfStatement, _ int) bool {
		for _, c := range s.Condition {
			ks = ks.Add(c.Key)
		}
		return true
	})
	return ks
}

// Keys is the set of keys any rule of the program reads. An input must
// assign every one of them.
func (p *Program[O]) Keys() dvm.KeySet {
	var ks dvm.KeySet
	for i := range p.Rules {
		ks = ks.Union(p.Rules[i].Keys())
	}
	return ks
}

// Depth is the deepest statement nesting of the rule, 0 for a rule without
// statements.
func (r *Rule[O]) Depth() int {
	deepest := 0
	Walk(r.Statements, func(_ *IfStatement, d int) bool {
		deepest = max(deepest, d+1)
		return true
	})
	return deepest
}
