package cgraph

import (
	"fmt"

	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

type edgeKey struct {
	source, target NodeID
	relation       Relation
	strength       Strength
	domain         DomainID
}

// Builder accumulates nodes and edges. It is not safe for concurrent use and
// cannot be modified after Build.
type Builder struct {
	nodes   []Node
	edges   []Edge
	adj     [][]EdgeID
	index   map[string]NodeID
	edgeIdx map[edgeKey]EdgeID
	domains map[DomainID]DomainInfo
	order   []DomainID
	frozen  bool
}

func NewBuilder() *Builder {
	return &Builder{
		index:   make(map[string]NodeID),
		edgeIdx: make(map[edgeKey]EdgeID),
		domains: make(map[DomainID]DomainInfo),
	}
}

// AddDomain registers a domain that edges may be tagged with. Registering the
// same domain twice keeps the first description.
func (b *Builder) AddDomain(id DomainID, description string) error {
	if b.frozen {
		return newGraphError(CodeBuilderFrozen, "cannot add domain %q", id)
	}
	if id == "" {
		return newGraphError(CodeUnknownDomain, "domain id must not be empty")
	}
	if _, ok := b.domains[id]; ok {
		return nil
	}
	b.domains[id] = DomainInfo{ID: id, Description: description}
	b.order = append(b.order, id)
	return nil
}

// AddNode appends a node. A node with the same identity must not exist.
func (b *Builder) AddNode(v NodeValue) (NodeID, error) {
	if b.frozen {
		return 0, newGraphError(CodeBuilderFrozen, "cannot add node %s", v)
	}
	if err := v.validate(); err != nil {
		return 0, newGraphError(CodeInvalidNodeValue, "%s: %v", v, err)
	}
	identity := v.Identity()
	if existing, ok := b.index[identity]; ok {
		return 0, newGraphError(CodeDuplicateNode, "%s already exists", v).atNode(existing)
	}
	id := NodeID(len(b.nodes))
	b.nodes = append(b.nodes, Node{ID: id, Value: v})
	b.adj = append(b.adj, nil)
	b.index[identity] = id
	return id, nil
}

// EnsureNode returns the existing node with v's identity or adds one.
func (b *Builder) EnsureNode(v NodeValue) (NodeID, error) {
	if id, ok := b.index[v.Identity()]; ok && !b.frozen {
		return id, nil
	}
	return b.AddNode(v)
}

// AddEdge connects source to target. Adding an edge identical to an existing
// one returns the existing edge.
func (b *Builder) AddEdge(source, target NodeID, rel Relation, str Strength, domain DomainID) (EdgeID, error) {
	if b.frozen {
		return 0, newGraphError(CodeBuilderFrozen, "cannot add edge %d->%d", source, target)
	}
	if int(source) >= len(b.nodes) {
		return 0, newGraphError(CodeUnknownNodeReference, "edge source %d does not exist", source).atNode(source)
	}
	if int(target) >= len(b.nodes) {
		return 0, newGraphError(CodeUnknownNodeReference, "edge target %d does not exist", target).atNode(target)
	}
	if rel != Positive && rel != Negative {
		return 0, newGraphError(CodeInvalidNodeValue, "invalid relation %s", rel)
	}
	if str != All && str != Any {
		return 0, newGraphError(CodeInvalidNodeValue, "invalid strength %s", str)
	}
	if _, ok := b.domains[domain]; !ok {
		return 0, newGraphError(CodeUnknownDomain, "domain %q is not registered", domain)
	}

	key := edgeKey{source: source, target: target, relation: rel, strength: str, domain: domain}
	if id, ok := b.edgeIdx[key]; ok {
		return id, nil
	}
	id := EdgeID(len(b.edges))
	b.edges = append(b.edges, Edge{ID: id, Source: source, Target: target, Relation: rel, Strength: str, Domain: domain})
	b.adj[source] = append(b.adj[source], id)
	b.edgeIdx[key] = id
	return id, nil
}

// Build validates the accumulated graph and freezes the builder. Cycles are
// legal and are not rejected.
func (b *Builder) Build() (*Graph, error) {
	if b.frozen {
		return nil, newGraphError(CodeBuilderFrozen, "Build called twice")
	}
	for _, e := range b.edges {
		if int(e.Source) >= len(b.nodes) || int(e.Target) >= len(b.nodes) {
			return nil, newGraphError(CodeUnknownNodeReference, "edge %d->%d", e.Source, e.Target).atEdge(e.ID)
		}
		if _, ok := b.domains[e.Domain]; !ok {
			return nil, newGraphError(CodeUnknownDomain, "edge uses domain %q", e.Domain).atEdge(e.ID)
		}
	}
	b.frozen = true

	g := &Graph{
		nodes:   b.nodes,
		edges:   b.edges,
		adj:     b.adj,
		index:   b.index,
		domains: make([]DomainInfo, 0, len(b.order)),
		byKey:   make(map[dvm.Key][]NodeID),
	}
	for _, d := range b.order {
		g.domains = append(g.domains, b.domains[d])
	}
	for _, n := range g.nodes {
		if n.Value.Kind != KindAggregator {
			g.byKey[n.Value.Key] = append(g.byKey[n.Value.Key], n.ID)
		}
	}
	return g, nil
}

// Len returns the number of nodes and edges added so far.
func (b *Builder) Len() (nodes, edges int) {
	return len(b.nodes), len(b.edges)
}

func (b *Builder) String() string {
	return fmt.Sprintf("cgraph.Builder{nodes=%d edges=%d frozen=%t}", len(b.nodes), len(b.edges), b.frozen)
}
