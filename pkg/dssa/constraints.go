package dssa

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/Mindburn-Labs/routecore/pkg/ast"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

// enumConstraint is what a rule's comparisons require of one enum key.
// allowed is nil when no positive comparison names the key.
type enumConstraint struct {
	allowed  map[dvm.Value]struct{}
	excluded map[dvm.Value]struct{}
}

func (c *enumConstraint) permits(v dvm.Value) bool {
	if c.allowed != nil {
		if _, ok := c.allowed[v]; !ok {
			return false
		}
	}
	_, out := c.excluded[v]
	return !out
}

// finite returns the values c permits when that set is enumerable: either a
// positive comparison bounds it or the key is closed.
func (c *enumConstraint) finite(key dvm.Key) ([]dvm.Value, bool) {
	var pool []dvm.Value
	switch {
	case c.allowed != nil:
		for v := range c.allowed {
			pool = append(pool, v)
		}
	case key.Closed():
		pool = dvm.Enumerate(key)
	default:
		return nil, false
	}
	out := pool[:0:0]
	for _, v := range pool {
		if c.permits(v) {
			out = append(out, v)
		}
	}
	dvm.SortValues(out)
	return out, true
}

// numberConstraint is what a rule requires of one number key: an inclusive
// range, an optional point set, and excluded points.
type numberConstraint struct {
	lo, hi   int64
	empty    bool
	points   map[int64]struct{}
	excluded map[int64]struct{}
}

func newNumberConstraint() *numberConstraint {
	return &numberConstraint{lo: math.MinInt64, hi: math.MaxInt64}
}

func (c *numberConstraint) permits(x int64) bool {
	if c.empty || x < c.lo || x > c.hi {
		return false
	}
	if c.points != nil {
		if _, ok := c.points[x]; !ok {
			return false
		}
	}
	_, out := c.excluded[x]
	return !out
}

func (c *numberConstraint) satisfiable() bool {
	if c.empty || c.lo > c.hi {
		return false
	}
	if c.points != nil {
		for p := range c.points {
			if c.permits(p) {
				return true
			}
		}
		return false
	}
	inRange := uint64(0)
	for x := range c.excluded {
		if x >= c.lo && x <= c.hi {
			inRange++
		}
	}
	// The range holds width+1 integers.
	width := uint64(c.hi) - uint64(c.lo)
	return inRange == 0 || inRange <= width
}

func (c *numberConstraint) add(cmp ast.Comparison) {
	switch cmp.Type {
	case ast.Equal, ast.In:
		next := make(map[int64]struct{}, len(cmp.Values))
		for _, v := range cmp.Values {
			if _, ok := c.points[v.Number]; c.points == nil || ok {
				next[v.Number] = struct{}{}
			}
		}
		c.points = next
	case ast.NotEqual, ast.NotIn:
		if c.excluded == nil {
			c.excluded = make(map[int64]struct{})
		}
		for _, v := range cmp.Values {
			c.excluded[v.Number] = struct{}{}
		}
	case ast.LessThan:
		n := cmp.Values[0].Number
		if n == math.MinInt64 {
			c.empty = true
			return
		}
		c.hi = min(c.hi, n-1)
	case ast.LessThanEqual:
		c.hi = min(c.hi, cmp.Values[0].Number)
	case ast.GreaterThan:
		n := cmp.Values[0].Number
		if n == math.MaxInt64 {
			c.empty = true
			return
		}
		c.lo = max(c.lo, n+1)
	case ast.GreaterThanEqual:
		c.lo = max(c.lo, cmp.Values[0].Number)
	}
}

// constraints is one rule's conditions folded per key. Every comparison at
// every depth is part of the conjunction.
type constraints struct {
	enums   map[dvm.Key]*enumConstraint
	numbers map[dvm.Key]*numberConstraint
	byKey   map[dvm.Key][]ast.Comparison
}

func collect(comparisons []ast.Comparison) *constraints {
	c := &constraints{
		enums:   make(map[dvm.Key]*enumConstraint),
		numbers: make(map[dvm.Key]*numberConstraint),
		byKey:   make(map[dvm.Key][]ast.Comparison),
	}
	for _, cmp := range comparisons {
		c.byKey[cmp.Key] = append(c.byKey[cmp.Key], cmp)
		if cmp.Key.Kind() == dvm.KindNumber {
			n, ok := c.numbers[cmp.Key]
			if !ok {
				n = newNumberConstraint()
				c.numbers[cmp.Key] = n
			}
			n.add(cmp)
			continue
		}
		e, ok := c.enums[cmp.Key]
		if !ok {
			e = &enumConstraint{}
			c.enums[cmp.Key] = e
		}
		switch cmp.Type.Logic() {
		case ast.PositiveDisjunction:
			next := make(map[dvm.Value]struct{}, len(cmp.Values))
			for _, v := range cmp.Values {
				if _, ok := e.allowed[v]; e.allowed == nil || ok {
					next[v] = struct{}{}
				}
			}
			e.allowed = next
		case ast.NegativeConjunction:
			if e.excluded == nil {
				e.excluded = make(map[dvm.Value]struct{})
			}
			for _, v := range cmp.Values {
				e.excluded[v] = struct{}{}
			}
		}
	}
	return c
}

// keys lists every constrained key in key order.
func (c *constraints) keys() []dvm.Key {
	out := make([]dvm.Key, 0, len(c.byKey))
	for k := range c.byKey {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// contradiction describes the first key no value can satisfy, or "" when
// every key is satisfiable on its own.
func (c *constraints) contradiction() string {
	for _, k := range c.keys() {
		ok := true
		if n, isNum := c.numbers[k]; isNum {
			ok = n.satisfiable()
		} else if values, finite := c.enums[k].finite(k); finite {
			ok = len(values) > 0
		}
		if !ok {
			parts := make([]string, len(c.byKey[k]))
			for i, cmp := range c.byKey[k] {
				parts[i] = cmp.String()
			}
			return fmt.Sprintf("no value of %s satisfies %s", k, strings.Join(parts, " and "))
		}
	}
	return ""
}

// implies reports whether every assignment satisfying c also satisfies
// other.
func (c *constraints) implies(other *constraints) bool {
	for k, want := range other.enums {
		have, ok := c.enums[k]
		if !ok {
			have = &enumConstraint{}
		}
		values, finite := have.finite(k)
		if finite {
			for _, v := range values {
				if !want.permits(v) {
					return false
				}
			}
			continue
		}
		if want.allowed != nil {
			return false
		}
		for v := range want.excluded {
			if _, ok := have.excluded[v]; !ok {
				return false
			}
		}
	}
	for k, want := range other.numbers {
		have, ok := c.numbers[k]
		if !ok {
			have = newNumberConstraint()
		}
		if !numberImplies(have, want) {
			return false
		}
	}
	return true
}

func numberImplies(have, want *numberConstraint) bool {
	if !have.satisfiable() {
		return true
	}
	if have.points != nil {
		for p := range have.points {
			if have.permits(p) && !want.permits(p) {
				return false
			}
		}
		return true
	}
	if want.empty || want.points != nil || have.lo < want.lo || have.hi > want.hi {
		return false
	}
	for x := range want.excluded {
		if x < have.lo || x > have.hi {
			continue
		}
		if _, ok := have.excluded[x]; !ok {
			return false
		}
	}
	return true
}
