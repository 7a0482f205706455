// Package cgraph is an immutable, arena-indexed constraint graph over routing
// attribute values, and the checker that decides whether a concrete
// assignment is consistent with it.
//
// Nodes never reference each other directly; all traversal goes through
// NodeID and EdgeID indices into the graph's arenas.
package cgraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

type (
	NodeID uint32
	EdgeID uint32
)

// DomainID scopes edges to one eligibility domain so that independent rule
// sets can share a graph.
type DomainID string

// DomainInfo describes a registered domain.
type DomainInfo struct {
	ID          DomainID `json:"id"`
	Description string   `json:"description,omitempty"`
}

// Relation says whether the source requires the target to hold or to not hold.
type Relation uint8

const (
	Positive Relation = iota + 1
	Negative
)

func (r Relation) String() string {
	switch r {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return fmt.Sprintf("relation(%d)", uint8(r))
	}
}

func (r Relation) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Strength says whether an edge belongs to its source's conjunctive (All) or
// disjunctive (Any) set.
type Strength uint8

const (
	All Strength = iota + 1
	Any
)

func (s Strength) String() string {
	switch s {
	case All:
		return "all"
	case Any:
		return "any"
	default:
		return fmt.Sprintf("strength(%d)", uint8(s))
	}
}

func (s Strength) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// NodeKind is the shape of a node's own assertion.
type NodeKind uint8

const (
	// KindKey holds when the key has any value.
	KindKey NodeKind = iota + 1
	// KindValue holds when the key has exactly Value.
	KindValue
	// KindValueSet holds when the key's value is one of Set.
	KindValueSet
	// KindAggregator asserts nothing itself; only its edges count.
	KindAggregator
)

func (k NodeKind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindValue:
		return "value"
	case KindValueSet:
		return "value_set"
	case KindAggregator:
		return "aggregator"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k NodeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// NodeValue is what a node asserts. Build one with KeyNode, ValueNode,
// ValueSetNode or AggregatorNode.
type NodeValue struct {
	Kind  NodeKind
	Key   dvm.Key
	Value dvm.Value
	Set   []dvm.Value
	Label string
}

type nodeValueJSON struct {
	Kind  NodeKind `json:"kind"`
	Key   string   `json:"key,omitempty"`
	Value any      `json:"value,omitempty"`
	Set   []any    `json:"set,omitempty"`
	Label string   `json:"label,omitempty"`
}

func (n NodeValue) MarshalJSON() ([]byte, error) {
	w := nodeValueJSON{Kind: n.Kind, Label: n.Label}
	if n.Key.Valid() {
		w.Key = n.Key.String()
	}
	if n.Kind == KindValue {
		w.Value = n.Value.Raw()
	}
	for _, v := range n.Set {
		w.Set = append(w.Set, v.Raw())
	}
	return json.Marshal(w)
}

func KeyNode(k dvm.Key) NodeValue {
	return NodeValue{Kind: KindKey, Key: k}
}

func ValueNode(v dvm.Value) NodeValue {
	return NodeValue{Kind: KindValue, Key: v.Key, Value: v}
}

// ValueSetNode asserts membership of key's value in vs. Duplicates are
// dropped and the set is kept sorted so equal sets share one node.
func ValueSetNode(key dvm.Key, vs ...dvm.Value) NodeValue {
	set := make([]dvm.Value, 0, len(vs))
	seen := make(map[dvm.Value]struct{}, len(vs))
	for _, v := range vs {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		set = append(set, v)
	}
	dvm.SortValues(set)
	return NodeValue{Kind: KindValueSet, Key: key, Set: set}
}

func AggregatorNode(label string) NodeValue {
	return NodeValue{Kind: KindAggregator, Label: label}
}

// Identity is the dedup key of the node within a graph.
func (n NodeValue) Identity() string {
	switch n.Kind {
	case KindKey:
		return "k:" + n.Key.String()
	case KindValue:
		return "v:" + n.Value.String()
	case KindValueSet:
		parts := make([]string, len(n.Set))
		for i, v := range n.Set {
			parts[i] = v.Display()
		}
		return "s:" + n.Key.String() + "{" + strings.Join(parts, ",") + "}"
	case KindAggregator:
		return "a:" + n.Label
	default:
		return "?"
	}
}

func (n NodeValue) String() string {
	switch n.Kind {
	case KindKey:
		return n.Key.String() + "=*"
	case KindValue:
		return n.Value.String()
	case KindValueSet:
		return strings.TrimPrefix(n.Identity(), "s:")
	case KindAggregator:
		return "[" + n.Label + "]"
	default:
		return "?"
	}
}

func (n NodeValue) validate() error {
	switch n.Kind {
	case KindKey:
		if !n.Key.Valid() {
			return fmt.Errorf("%w: %s", dvm.ErrUnknownKey, n.Key)
		}
	case KindValue:
		if n.Value.Key != n.Key {
			return fmt.Errorf("value %s does not belong to key %s", n.Value, n.Key)
		}
		return dvm.Validate(n.Value)
	case KindValueSet:
		if len(n.Set) == 0 {
			return fmt.Errorf("empty value set for %s", n.Key)
		}
		if !sort.SliceIsSorted(n.Set, func(i, j int) bool { return n.Set[i].Less(n.Set[j]) }) {
			return fmt.Errorf("value set for %s is not normalised", n.Key)
		}
		for _, v := range n.Set {
			if v.Key != n.Key {
				return fmt.Errorf("value %s does not belong to key %s", v, n.Key)
			}
			if err := dvm.Validate(v); err != nil {
				return err
			}
		}
	case KindAggregator:
		if n.Label == "" {
			return fmt.Errorf("aggregator needs a label")
		}
	default:
		return fmt.Errorf("unknown node kind %d", uint8(n.Kind))
	}
	return nil
}

// Node is an arena entry.
type Node struct {
	ID    NodeID    `json:"id"`
	Value NodeValue `json:"value"`
}

// Edge is a directed, tagged connection between two nodes.
type Edge struct {
	ID       EdgeID   `json:"id"`
	Source   NodeID   `json:"source"`
	Target   NodeID   `json:"target"`
	Relation Relation `json:"relation"`
	Strength Strength `json:"strength"`
	Domain   DomainID `json:"domain"`
}
