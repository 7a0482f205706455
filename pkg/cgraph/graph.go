package cgraph

import (
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/routecore/pkg/canonicalize"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

// Graph is the frozen result of Builder.Build. It is safe for concurrent
// reads; checks keep their mutable state in a CheckingContext.
type Graph struct {
	nodes   []Node
	edges   []Edge
	adj     [][]EdgeID
	index   map[string]NodeID
	domains []DomainInfo
	byKey   map[dvm.Key][]NodeID

	hashOnce sync.Once
	hash     string
	hashErr  error
}

func (g *Graph) NodeCount() int { return len(g.nodes) }

func (g *Graph) EdgeCount() int { return len(g.edges) }

func (g *Graph) Node(id NodeID) (Node, bool) {
	if int(id) >= len(g.nodes) {
		return Node{}, false
	}
	return g.nodes[id], true
}

func (g *Graph) Edge(id EdgeID) (Edge, bool) {
	if int(id) >= len(g.edges) {
		return Edge{}, false
	}
	return g.edges[id], true
}

// Outgoing returns the edges leaving id in insertion order.
func (g *Graph) Outgoing(id NodeID) []Edge {
	if int(id) >= len(g.adj) {
		return nil
	}
	out := make([]Edge, len(g.adj[id]))
	for i, eid := range g.adj[id] {
		out[i] = g.edges[eid]
	}
	return out
}

// Lookup finds the node with v's identity.
func (g *Graph) Lookup(v NodeValue) (NodeID, bool) {
	id, ok := g.index[v.Identity()]
	return id, ok
}

// LookupValue is Lookup for a (Key,Value) node.
func (g *Graph) LookupValue(v dvm.Value) (NodeID, bool) {
	return g.Lookup(ValueNode(v))
}

// NodesFor lists the non-aggregator nodes asserting on key.
func (g *Graph) NodesFor(key dvm.Key) []NodeID {
	return append([]NodeID(nil), g.byKey[key]...)
}

// ValuesFor lists the distinct values of key the graph mentions, either as a
// value node or as a member of a value set, in value order.
func (g *Graph) ValuesFor(key dvm.Key) []dvm.Value {
	seen := make(map[dvm.Value]struct{})
	var out []dvm.Value
	add := func(v dvm.Value) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, id := range g.byKey[key] {
		n := g.nodes[id].Value
		switch n.Kind {
		case KindValue:
			add(n.Value)
		case KindValueSet:
			for _, v := range n.Set {
				add(v)
			}
		}
	}
	dvm.SortValues(out)
	return out
}

// Domains lists the registered domains in registration order.
func (g *Graph) Domains() []DomainInfo {
	return append([]DomainInfo(nil), g.domains...)
}

// HasDomain reports whether id was registered.
func (g *Graph) HasDomain(id DomainID) bool {
	for _, d := range g.domains {
		if d.ID == id {
			return true
		}
	}
	return false
}

type graphDocument struct {
	Domains []DomainInfo `json:"domains"`
	Nodes   []Node       `json:"nodes"`
	Edges   []Edge       `json:"edges"`
}

// Hash is the canonical content hash of the graph structure. Graphs built by
// the same sequence of builder calls hash equal.
func (g *Graph) Hash() (string, error) {
	g.hashOnce.Do(func() {
		g.hash, g.hashErr = canonicalize.CanonicalHash(graphDocument{Domains: g.domains, Nodes: g.nodes, Edges: g.edges})
	})
	return g.hash, g.hashErr
}

// Summary is a short human-readable description for logs.
func (g *Graph) Summary() string {
	var all, anyEdges, neg int
	for _, e := range g.edges {
		if e.Strength == All {
			all++
		} else {
			anyEdges++
		}
		if e.Relation == Negative {
			neg++
		}
	}
	return fmt.Sprintf("nodes=%d edges=%d (all=%d any=%d negative=%d) domains=%d",
		len(g.nodes), len(g.edges), all, anyEdges, neg, len(g.domains))
}
