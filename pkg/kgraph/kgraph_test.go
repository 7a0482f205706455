package kgraph

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/routecore/pkg/cgraph"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

func compileFixture(t *testing.T) *KnowledgeGraph {
	t.Helper()
	table, err := LoadTable("testdata/eligibility.yaml")
	require.NoError(t, err)
	kg, err := Compile(context.Background(), table)
	require.NoError(t, err)
	return kg
}

func compileYAML(t *testing.T, doc string) (*KnowledgeGraph, error) {
	t.Helper()
	table, err := ParseTable([]byte(doc))
	if err != nil {
		return nil, err
	}
	return Compile(context.Background(), table)
}

func cardPayment(country dvm.Country, currency dvm.Currency, network dvm.CardNetwork) *dvm.BackendInput {
	return dvm.MustInput(dvm.Card, dvm.Credit, network, currency, country, dvm.CaptureAutomatic)
}

func TestCompile_ScenarioB(t *testing.T) {
	kg, err := compileYAML(t, `
connectors:
  stripe:
    card:
      currency: [USD]
`)
	require.NoError(t, err)

	stripe, ok := kg.ConnectorNode(dvm.Stripe)
	require.True(t, ok)
	setNode, ok := kg.Graph.Lookup(cgraph.ValueSetNode(dvm.KeyCurrency, dvm.USD.Value()))
	require.True(t, ok)

	var currencyEdge *cgraph.Edge
	for _, toAgg := range kg.Graph.Outgoing(stripe) {
		for _, e := range kg.Graph.Outgoing(toAgg.Target) {
			if e.Target == setNode {
				currencyEdge = &e
			}
		}
	}
	require.NotNil(t, currencyEdge)

	in := dvm.MustInput(dvm.Stripe, dvm.Card, dvm.EUR)
	err = kg.Graph.CheckValue(stripe, in, cgraph.NewContext(cgraph.WithMode(cgraph.Strict)))
	var trace *cgraph.AnalysisTrace
	require.True(t, errors.As(err, &trace), "got %v", err)

	assert.True(t, trace.CitesEdge(currencyEdge.ID))
	assert.Equal(t, cgraph.ReasonAnyEdgesFailed, trace.Steps[0].Reason)
	assert.Equal(t, cgraph.ReasonValueMismatch, trace.Last().Reason)
	assert.Equal(t, setNode, *trace.Last().Node)

	assert.NoError(t, kg.Graph.CheckValue(stripe, dvm.MustInput(dvm.Stripe, dvm.Card, dvm.USD), cgraph.NewContext()))
}

func TestEligible_Cards(t *testing.T) {
	kg := compileFixture(t)
	candidates := []dvm.Connector{dvm.Stripe, dvm.Adyen, dvm.Checkout, dvm.Worldpay}

	eligible, rejected, err := kg.Eligible(cardPayment(dvm.US, dvm.USD, dvm.Visa), candidates)
	require.NoError(t, err)
	assert.Equal(t, candidates, eligible)
	assert.Empty(t, rejected)

	eligible, rejected, err = kg.Eligible(cardPayment(dvm.DE, dvm.USD, dvm.Visa), candidates)
	require.NoError(t, err)
	assert.Equal(t, []dvm.Connector{dvm.Stripe, dvm.Adyen, dvm.Worldpay}, eligible)
	require.Len(t, rejected, 1)
	assert.Equal(t, dvm.Checkout, rejected[0].Connector)

	eligible, rejected, err = kg.Eligible(cardPayment(dvm.IN, dvm.INR, dvm.Mastercard), candidates)
	require.NoError(t, err)
	assert.Equal(t, []dvm.Connector{dvm.Checkout, dvm.Worldpay}, eligible)
	require.Len(t, rejected, 2)
	assert.Equal(t, cgraph.ReasonNegativeEdgeHeld, firstReason(rejected[1].Trace, cgraph.ReasonNegativeEdgeHeld))
}

func firstReason(trace *cgraph.AnalysisTrace, want cgraph.Reason) cgraph.Reason {
	for _, s := range trace.Steps {
		if s.Reason == want {
			return s.Reason
		}
	}
	return ""
}

func TestEligible_UnavailableFlow(t *testing.T) {
	kg := compileFixture(t)
	wallet := func(capture dvm.CaptureMethod) *dvm.BackendInput {
		return dvm.MustInput(dvm.Wallet, dvm.GooglePay, dvm.USD, dvm.US, capture)
	}

	eligible, _, err := kg.Eligible(wallet(dvm.CaptureAutomatic), []dvm.Connector{dvm.Stripe})
	require.NoError(t, err)
	assert.Equal(t, []dvm.Connector{dvm.Stripe}, eligible)

	eligible, rejected, err := kg.Eligible(wallet(dvm.CaptureManual), []dvm.Connector{dvm.Stripe})
	require.NoError(t, err)
	assert.Empty(t, eligible)
	require.Len(t, rejected, 1)
}

func TestEligible_DefaultRestrictionsApply(t *testing.T) {
	kg := compileFixture(t)
	applePay := func(currency dvm.Currency) *dvm.BackendInput {
		return dvm.MustInput(dvm.Wallet, dvm.ApplePay, currency, dvm.US, dvm.CaptureAutomatic)
	}

	assert.NoError(t, kg.CheckConnector(dvm.Stripe, applePay(dvm.USD), nil))
	assert.Error(t, kg.CheckConnector(dvm.Stripe, applePay(dvm.EUR), nil))

	// Defaults never add support: adyen does not list apple_pay.
	_, ok := kg.Graph.Lookup(cgraph.AggregatorNode("adyen:payment_method_type=apple_pay"))
	assert.False(t, ok)
}

func TestEligible_StrictMissingValue(t *testing.T) {
	kg := compileFixture(t)
	in := dvm.MustInput(dvm.Card, dvm.Credit, dvm.USD, dvm.US)

	_, _, err := kg.Eligible(in, []dvm.Connector{dvm.Checkout})
	require.ErrorIs(t, err, cgraph.ErrMissingContextValue)

	eligible, _, err := kg.Eligible(in, []dvm.Connector{dvm.Checkout}, cgraph.WithMode(cgraph.Open))
	require.NoError(t, err)
	assert.Equal(t, []dvm.Connector{dvm.Checkout}, eligible)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		is    error
		check func(t *testing.T, kerr *KgraphError)
	}{
		{
			name: "unknown connector",
			doc:  "connectors:\n  acme:\n    card:\n",
			is:   ErrInvalidConnectorName,
			check: func(t *testing.T, kerr *KgraphError) {
				assert.Equal(t, "acme", kerr.Connector)
			},
		},
		{
			name: "unknown filter key",
			doc:  "connectors:\n  stripe:\n    cash:\n",
			is:   ErrInvalidFilterKey,
			check: func(t *testing.T, kerr *KgraphError) {
				assert.Equal(t, "cash", kerr.FilterKey)
			},
		},
		{
			name: "unknown currency",
			doc:  "connectors:\n  stripe:\n    card:\n      currency: [USD, XXQ]\n",
			is:   ErrInvalidFilterValue,
			check: func(t *testing.T, kerr *KgraphError) {
				assert.Equal(t, "currency", kerr.Field)
				assert.Equal(t, "XXQ", kerr.Value)
			},
		},
		{
			name: "unknown capture method",
			doc:  "connectors:\n  stripe:\n    card:\n      not_available_flows:\n        capture_method: [later]\n",
			is:   ErrInvalidFilterValue,
		},
		{
			name: "schema violation",
			doc:  "connectors:\n  stripe:\n    card:\n      currencies: [USD]\n",
			is:   ErrInvalidTable,
		},
		{
			name: "missing connectors",
			doc:  "default: {}\n",
			is:   ErrInvalidTable,
		},
		{
			name: "bad default key",
			doc:  "default:\n  cash: {currency: [USD]}\nconnectors: {}\n",
			is:   ErrInvalidFilterKey,
		},
		{
			name: "same method twice",
			doc:  "connectors:\n  stripe:\n    card:\n    Card:\n",
			is:   ErrGraphConstruction,
			check: func(t *testing.T, kerr *KgraphError) {
				require.NotNil(t, kerr.Graph)
				assert.ErrorIs(t, kerr, cgraph.ErrDuplicateNode)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileYAML(t, tt.doc)
			require.ErrorIs(t, err, tt.is)
			var kerr *KgraphError
			require.True(t, errors.As(err, &kerr))
			if tt.check != nil {
				tt.check(t, kerr)
			}
			_, err = json.Marshal(kerr)
			assert.NoError(t, err)
		})
	}
}

func TestCompile_Deterministic(t *testing.T) {
	a := compileFixture(t)
	b := compileFixture(t)
	assert.Equal(t, a.Version, b.Version)

	ha, err := a.Graph.Hash()
	require.NoError(t, err)
	hb, err := b.Graph.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	c, err := compileYAML(t, "connectors:\n  stripe:\n    card:\n")
	require.NoError(t, err)
	assert.NotEqual(t, a.Version, c.Version)
	assert.Equal(t, []dvm.Connector{dvm.Adyen, dvm.Checkout, dvm.Stripe}, a.Connectors)
}

func TestParseTable_AcceptsJSON(t *testing.T) {
	table, err := ParseTable([]byte(`{"connectors":{"adyen":{"sepa":{"country":["DE","NL"]}}}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"DE", "NL"}, table.Connectors["adyen"]["sepa"].Country)
}

func TestKgraphError_JSON(t *testing.T) {
	kerr := &KgraphError{Code: CodeInvalidConnectorName, Message: "nope", Connector: "acme"}
	data, err := json.Marshal(kerr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"ERR_KGRAPH_INVALID_CONNECTOR_NAME","message":"nope","connector":"acme"}`, string(data))
	assert.Contains(t, kerr.Error(), "connector=acme")
}
