package dssa

import (
	"slices"

	"github.com/Mindburn-Labs/routecore/pkg/cgraph"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
	"github.com/Mindburn-Labs/routecore/pkg/kgraph"
)

// EligibleValues answers "given what is fixed so far, which values of key
// are still possible?". Each legal value of key (the enumerated variants
// plus any the graph mentions) is added to partial and kept if every node
// the probe asserts checks out. A value the graph never restricts is kept,
// so connectors absent from the table are eligible as they are when
// routing. Keys partial leaves unassigned are treated as unknown.
func EligibleValues(kg *kgraph.KnowledgeGraph, partial *dvm.BackendInput, key dvm.Key, opts ...Option) ([]dvm.Value, error) {
	if kg == nil {
		return nil, ErrNoGraph
	}
	o := buildOptions(opts)
	ctx := kg.NewContext(cgraph.WithMode(cgraph.Open), cgraph.WithBudget(o.budget))

	var out []dvm.Value
	for _, v := range candidateValues(kg, key) {
		probe, err := partial.With(v)
		if err != nil {
			return nil, err
		}
		trace, err := checkAsserted(kg, probe, ctx)
		if err != nil {
			return nil, err
		}
		if trace == nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func candidateValues(kg *kgraph.KnowledgeGraph, key dvm.Key) []dvm.Value {
	values := append(dvm.Enumerate(key), kg.Graph.ValuesFor(key)...)
	dvm.SortValues(values)
	return slices.Compact(values)
}

// EligibleConnectors is EligibleValues for the connector key.
func EligibleConnectors(kg *kgraph.KnowledgeGraph, partial *dvm.BackendInput, opts ...Option) ([]dvm.Connector, error) {
	values, err := EligibleValues(kg, partial, dvm.KeyConnector, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]dvm.Connector, len(values))
	for i, v := range values {
		out[i] = dvm.Connector(v.Text)
	}
	return out, nil
}
