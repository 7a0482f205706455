// Package ast is the data model of a routing program: an ordered list of
// named rules, each a tree of conditions, plus the default selection used
// when no rule matches.
//
// The connector selection type O is opaque to this package and to every
// consumer in the core.
package ast

import (
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

// ComparisonType is the operator of a Comparison.
type ComparisonType string

const (
	Equal            ComparisonType = "equal"
	NotEqual         ComparisonType = "not_equal"
	In               ComparisonType = "in"
	NotIn            ComparisonType = "not_in"
	LessThan         ComparisonType = "less_than"
	LessThanEqual    ComparisonType = "less_than_equal"
	GreaterThan      ComparisonType = "greater_than"
	GreaterThanEqual ComparisonType = "greater_than_equal"
)

// Valid reports whether c is a known operator.
func (c ComparisonType) Valid() bool {
	switch c {
	case Equal, NotEqual, In, NotIn, LessThan, LessThanEqual, GreaterThan, GreaterThanEqual:
		return true
	}
	return false
}

// Numeric reports whether c orders numbers rather than matching values.
func (c ComparisonType) Numeric() bool {
	switch c {
	case LessThan, LessThanEqual, GreaterThan, GreaterThanEqual:
		return true
	}
	return false
}

// ComparisonLogic is how a comparison combines its value set.
type ComparisonLogic uint8

const (
	// PositiveDisjunction holds when the input matches at least one value.
	PositiveDisjunction ComparisonLogic = iota + 1
	// NegativeConjunction holds when the input matches none of the values.
	NegativeConjunction
)

func (c ComparisonType) Logic() ComparisonLogic {
	if c == NotEqual || c == NotIn {
		return NegativeConjunction
	}
	return PositiveDisjunction
}

// Metadata is free-form annotation carried through serialisation untouched.
type Metadata map[string]any

// Comparison tests one key of the input against a set of values.
type Comparison struct {
	Key      dvm.Key
	Type     ComparisonType
	Values   []dvm.Value
	Metadata Metadata
}

// IfStatement holds when every comparison in Condition holds and every
// statement in Nested holds.
type IfStatement struct {
	Condition []Comparison  `json:"condition"`
	Nested    []IfStatement `json:"nested,omitempty"`
}

// Rule selects ConnectorSelection when all of its Statements hold.
type Rule[O any] struct {
	Name               string        `json:"name"`
	ConnectorSelection O             `json:"connector_selection"`
	Statements         []IfStatement `json:"statements"`
}

// Program is an ordered rule list. Order is significant: the first rule
// that matches wins.
type Program[O any] struct {
	DefaultSelection O         `json:"default_selection"`
	Rules            []Rule[O] `json:"rules"`
	Metadata         Metadata  `json:"metadata,omitempty"`
}

type comparisonJSON struct {
	Key        dvm.Key           `json:"key"`
	Comparison ComparisonType    `json:"comparison"`
	Values     []json.RawMessage `json:"values"`
	Metadata   Metadata          `json:"metadata,omitempty"`
}

func (c Comparison) MarshalJSON() ([]byte, error) {
	values := make([]json.RawMessage, len(c.Values))
	for i, v := range c.Values {
		raw, err := json.Marshal(v.Raw())
		if err != nil {
			return nil, err
		}
		values[i] = raw
	}
	return json.Marshal(comparisonJSON{Key: c.Key, Comparison: c.Type, Values: values, Metadata: c.Metadata})
}

// UnmarshalJSON parses values through the domain value model, so a program
// naming an unknown key or value fails to load.
func (c *Comparison) UnmarshalJSON(data []byte) error {
	var w comparisonJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Comparison.Valid() {
		return fmt.Errorf("ast: unknown comparison %q", w.Comparison)
	}
	values := make([]dvm.Value, len(w.Values))
	for i, raw := range w.Values {
		v, err := dvm.DecodeRaw(w.Key, raw)
		if err != nil {
			return fmt.Errorf("ast: %s value %d: %w", w.Key, i, err)
		}
		values[i] = v
	}
	*c = Comparison{Key: w.Key, Type: w.Comparison, Values: values, Metadata: w.Metadata}
	return nil
}

func (c Comparison) String() string {
	vals := make([]string, len(c.Values))
	for i, v := range c.Values {
		vals[i] = v.Display()
	}
	return fmt.Sprintf("%s %s %v", c.Key, c.Type, vals)
}

// Eq builds an equal comparison.
func Eq(v dvm.Valuer) Comparison {
	val := v.Value()
	return Comparison{Key: val.Key, Type: Equal, Values: []dvm.Value{val}}
}

// Ne builds a not_equal comparison.
func Ne(v dvm.Valuer) Comparison {
	val := v.Value()
	return Comparison{Key: val.Key, Type: NotEqual, Values: []dvm.Value{val}}
}

// OneOf builds an in comparison. All values must share a key.
func OneOf(vs ...dvm.Valuer) Comparison {
	return setComparison(In, vs)
}

// NoneOf builds a not_in comparison. All values must share a key.
func NoneOf(vs ...dvm.Valuer) Comparison {
	return setComparison(NotIn, vs)
}

func setComparison(t ComparisonType, vs []dvm.Valuer) Comparison {
	c := Comparison{Type: t, Values: make([]dvm.Value, len(vs))}
	for i, v := range vs {
		c.Values[i] = v.Value()
	}
	if len(c.Values) > 0 {
		c.Key = c.Values[0].Key
	}
	return c
}

// Num builds a numeric comparison against a number key.
func Num(key dvm.Key, t ComparisonType, n int64) Comparison {
	return Comparison{Key: key, Type: t, Values: []dvm.Value{{Key: key, Number: n}}}
}

// When is shorthand for a statement without nesting.
func When(cs ...Comparison) IfStatement {
	return IfStatement{Condition: cs}
}
