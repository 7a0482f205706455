package kgraph

import (
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/routecore/pkg/cgraph"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

// KnowledgeGraph is a compiled eligibility table. It is immutable and may be
// shared by any number of concurrent checks.
type KnowledgeGraph struct {
	Graph      *cgraph.Graph
	Version    string
	Domain     cgraph.DomainID
	Connectors []dvm.Connector

	connectorNodes map[dvm.Connector]cgraph.NodeID
}

// ConnectorNode returns the graph node of a configured connector.
func (kg *KnowledgeGraph) ConnectorNode(c dvm.Connector) (cgraph.NodeID, bool) {
	id, ok := kg.connectorNodes[c]
	return id, ok
}

// Configured reports whether the table lists c.
func (kg *KnowledgeGraph) Configured(c dvm.Connector) bool {
	_, ok := kg.connectorNodes[c]
	return ok
}

// NewContext returns a checking context scoped to the eligibility domain.
func (kg *KnowledgeGraph) NewContext(opts ...cgraph.ContextOption) *cgraph.CheckingContext {
	return cgraph.NewContext(append([]cgraph.ContextOption{cgraph.WithDomains(kg.Domain)}, opts...)...)
}

// CheckConnector checks whether c can serve the payment described by in. The
// input's connector value is set to c before checking. A connector the table
// does not list carries no constraints and is accepted.
func (kg *KnowledgeGraph) CheckConnector(c dvm.Connector, in *dvm.BackendInput, ctx *cgraph.CheckingContext) error {
	node, ok := kg.connectorNodes[c]
	if !ok {
		return nil
	}
	probe, err := in.With(c.Value())
	if err != nil {
		return fmt.Errorf("kgraph: %w", err)
	}
	if ctx == nil {
		ctx = kg.NewContext()
	}
	return kg.Graph.CheckValue(node, probe, ctx)
}

// Rejection records why a candidate connector was filtered out.
type Rejection struct {
	Connector dvm.Connector         `json:"connector"`
	Trace     *cgraph.AnalysisTrace `json:"trace"`
}

// Eligible filters candidates down to those that pass CheckConnector,
// preserving order. A *cgraph.GraphError from any check aborts the filter.
func (kg *KnowledgeGraph) Eligible(in *dvm.BackendInput, candidates []dvm.Connector, opts ...cgraph.ContextOption) ([]dvm.Connector, []Rejection, error) {
	ctx := kg.NewContext(opts...)
	eligible := make([]dvm.Connector, 0, len(candidates))
	var rejected []Rejection
	for _, c := range candidates {
		err := kg.CheckConnector(c, in, ctx)
		if err == nil {
			eligible = append(eligible, c)
			continue
		}
		var trace *cgraph.AnalysisTrace
		if !errors.As(err, &trace) {
			return nil, nil, err
		}
		rejected = append(rejected, Rejection{Connector: c, Trace: trace})
	}
	return eligible, rejected, nil
}
