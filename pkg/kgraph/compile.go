// Package kgraph compiles connector eligibility tables into a constraint
// graph: which connector supports which payment methods, and under which
// currency, country and flow restrictions.
package kgraph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/routecore/pkg/canonicalize"
	"github.com/Mindburn-Labs/routecore/pkg/cgraph"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

// DomainPaymentMethods is the domain every eligibility edge is tagged with.
const DomainPaymentMethods cgraph.DomainID = "payment_methods"

// method is a resolved filter key: the asserted value plus the values it
// implies (a payment method type implies its payment method).
type method struct {
	value   dvm.Value
	implies []dvm.Value
}

// resolveFilterKey tries payment method type, then card network, then
// payment method.
func resolveFilterKey(name string) (method, error) {
	if v, err := dvm.ParseValue(dvm.KeyPaymentMethodType, name); err == nil {
		parent := dvm.PaymentMethodType(v.Text).Parent()
		return method{value: v, implies: []dvm.Value{parent.Value()}}, nil
	}
	if v, err := dvm.ParseValue(dvm.KeyCardNetwork, name); err == nil {
		return method{value: v, implies: []dvm.Value{dvm.Card.Value()}}, nil
	}
	if v, err := dvm.ParseValue(dvm.KeyPaymentMethod, name); err == nil {
		return method{value: v}, nil
	}
	return method{}, fmt.Errorf("%q is not a payment method type, card network or payment method", name)
}

func parseList(key dvm.Key, raw []string) ([]dvm.Value, string, error) {
	out := make([]dvm.Value, 0, len(raw))
	for _, r := range raw {
		v, err := dvm.ParseValue(key, r)
		if err != nil {
			return nil, r, err
		}
		out = append(out, v)
	}
	return out, "", nil
}

type restriction struct {
	field string
	key   dvm.Key
	raw   []string
	rel   cgraph.Relation
}

type compiler struct {
	b          *cgraph.Builder
	connectors map[dvm.Connector]cgraph.NodeID
}

// Compile builds the knowledge graph for t. Connectors and filter keys are
// processed in sorted order so equal tables produce identical graphs.
func Compile(ctx context.Context, t *Table) (*KnowledgeGraph, error) {
	logger := slog.Default().With("component", "kgraph")

	c := &compiler{b: cgraph.NewBuilder(), connectors: make(map[dvm.Connector]cgraph.NodeID)}
	if err := c.b.AddDomain(DomainPaymentMethods, "connector payment method eligibility"); err != nil {
		return nil, graphConstruction("", "", err)
	}

	var names []dvm.Connector
	for _, name := range t.ConnectorNames() {
		conn, err := dvm.ParseConnector(name)
		if err != nil {
			return nil, &KgraphError{Code: CodeInvalidConnectorName, Message: err.Error(), Connector: name}
		}
		if err := c.compileConnector(conn, name, t.filtersFor(name)); err != nil {
			return nil, err
		}
		names = append(names, conn)
	}
	for _, key := range sortedKeys(t.Default) {
		if _, err := resolveFilterKey(key); err != nil {
			return nil, &KgraphError{Code: CodeInvalidFilterKey, Message: err.Error(), FilterKey: key}
		}
	}

	g, err := c.b.Build()
	if err != nil {
		return nil, graphConstruction("", "", err)
	}
	version, err := canonicalize.ContentHash(t)
	if err != nil {
		return nil, fmt.Errorf("kgraph: version hash: %w", err)
	}

	kg := &KnowledgeGraph{
		Graph:          g,
		Version:        version,
		Domain:         DomainPaymentMethods,
		Connectors:     names,
		connectorNodes: c.connectors,
	}
	logger.DebugContext(ctx, "knowledge graph compiled",
		"version", version,
		"connectors", len(names),
		"graph", g.Summary(),
	)
	return kg, nil
}

func (c *compiler) compileConnector(conn dvm.Connector, rawName string, filters ConnectorFilters) error {
	connNode, err := c.b.EnsureNode(cgraph.ValueNode(conn.Value()))
	if err != nil {
		return graphConstruction(rawName, "", err)
	}
	c.connectors[conn] = connNode

	for _, key := range sortedKeys(filters) {
		m, err := resolveFilterKey(key)
		if err != nil {
			return &KgraphError{Code: CodeInvalidFilterKey, Message: err.Error(), Connector: rawName, FilterKey: key}
		}
		if err := c.compileFilter(conn, connNode, rawName, key, m, filters[key]); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) compileFilter(conn dvm.Connector, connNode cgraph.NodeID, rawName, key string, m method, f *Filter) error {
	wrap := func(err error) error { return graphConstruction(rawName, key, err) }

	agg, err := c.b.AddNode(cgraph.AggregatorNode(string(conn) + ":" + m.value.String()))
	if err != nil {
		return wrap(err)
	}
	if _, err := c.b.AddEdge(connNode, agg, cgraph.Positive, cgraph.Any, DomainPaymentMethods); err != nil {
		return wrap(err)
	}

	for _, v := range append([]dvm.Value{m.value}, m.implies...) {
		n, err := c.b.EnsureNode(cgraph.ValueNode(v))
		if err != nil {
			return wrap(err)
		}
		if _, err := c.b.AddEdge(agg, n, cgraph.Positive, cgraph.All, DomainPaymentMethods); err != nil {
			return wrap(err)
		}
	}
	if f == nil {
		return nil
	}

	restrictions := []restriction{
		{"currency", dvm.KeyCurrency, f.Currency, cgraph.Positive},
		{"country", dvm.KeyBillingCountry, f.Country, cgraph.Positive},
		{"not_currency", dvm.KeyCurrency, f.NotCurrency, cgraph.Negative},
		{"not_country", dvm.KeyBillingCountry, f.NotCountry, cgraph.Negative},
	}
	if f.NotAvailableFlows != nil {
		restrictions = append(restrictions, restriction{"not_available_flows.capture_method", dvm.KeyCaptureMethod, f.NotAvailableFlows.CaptureMethod, cgraph.Negative})
	}

	for _, r := range restrictions {
		if len(r.raw) == 0 {
			continue
		}
		values, bad, err := parseList(r.key, r.raw)
		if err != nil {
			return &KgraphError{
				Code:      CodeInvalidFilterValue,
				Message:   err.Error(),
				Connector: rawName,
				FilterKey: key,
				Field:     r.field,
				Value:     bad,
			}
		}
		set, err := c.b.EnsureNode(cgraph.ValueSetNode(r.key, values...))
		if err != nil {
			return wrap(err)
		}
		if _, err := c.b.AddEdge(agg, set, r.rel, cgraph.All, DomainPaymentMethods); err != nil {
			return wrap(err)
		}
	}
	return nil
}
