package cgraph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

const testDomain DomainID = "payment_methods"

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b := NewBuilder()
	require.NoError(t, b.AddDomain(testDomain, "test"))
	return b
}

func mustNode(t *testing.T, b *Builder, v NodeValue) NodeID {
	t.Helper()
	id, err := b.EnsureNode(v)
	require.NoError(t, err)
	return id
}

func mustEdge(t *testing.T, b *Builder, src, dst NodeID, rel Relation, str Strength) EdgeID {
	t.Helper()
	id, err := b.AddEdge(src, dst, rel, str, testDomain)
	require.NoError(t, err)
	return id
}

func requireTrace(t *testing.T, err error) *AnalysisTrace {
	t.Helper()
	require.Error(t, err)
	var trace *AnalysisTrace
	require.True(t, errors.As(err, &trace), "want *AnalysisTrace, got %T: %v", err, err)
	return trace
}

func TestBuilder_DuplicateNode(t *testing.T) {
	b := newTestBuilder(t)
	first, err := b.AddNode(ValueNode(dvm.Card.Value()))
	require.NoError(t, err)

	_, err = b.AddNode(ValueNode(dvm.Card.Value()))
	require.ErrorIs(t, err, ErrDuplicateNode)

	var gerr *GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, CodeDuplicateNode, gerr.Code)
	require.NotNil(t, gerr.Node)
	assert.Equal(t, first, *gerr.Node)

	again, err := b.EnsureNode(ValueNode(dvm.Card.Value()))
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestBuilder_SetIdentityIgnoresOrder(t *testing.T) {
	b := newTestBuilder(t)
	a := mustNode(t, b, ValueSetNode(dvm.KeyCurrency, dvm.EUR.Value(), dvm.USD.Value()))
	c := mustNode(t, b, ValueSetNode(dvm.KeyCurrency, dvm.USD.Value(), dvm.EUR.Value(), dvm.USD.Value()))
	assert.Equal(t, a, c)
}

func TestBuilder_UnknownNodeReference(t *testing.T) {
	b := newTestBuilder(t)
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))

	_, err := b.AddEdge(card, NodeID(7), Positive, All, testDomain)
	require.ErrorIs(t, err, ErrUnknownNodeReference)

	_, err = b.AddEdge(NodeID(9), card, Positive, All, testDomain)
	require.ErrorIs(t, err, ErrUnknownNodeReference)
}

func TestBuilder_UnknownDomain(t *testing.T) {
	b := newTestBuilder(t)
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	us := mustNode(t, b, ValueNode(dvm.US.Value()))

	_, err := b.AddEdge(card, us, Positive, All, "surcharges")
	require.ErrorIs(t, err, ErrUnknownDomain)
}

func TestBuilder_InvalidNodeValue(t *testing.T) {
	b := newTestBuilder(t)
	_, err := b.AddNode(ValueNode(dvm.Value{Key: dvm.KeyCurrency, Text: "euro"}))
	require.ErrorIs(t, err, ErrInvalidNodeValue)

	_, err = b.AddNode(NodeValue{Kind: KindValueSet, Key: dvm.KeyCurrency})
	require.ErrorIs(t, err, ErrInvalidNodeValue)

	_, err = b.AddNode(AggregatorNode(""))
	require.ErrorIs(t, err, ErrInvalidNodeValue)
}

func TestBuilder_FrozenAfterBuild(t *testing.T) {
	b := newTestBuilder(t)
	mustNode(t, b, ValueNode(dvm.Card.Value()))
	_, err := b.Build()
	require.NoError(t, err)

	_, err = b.AddNode(ValueNode(dvm.Wallet.Value()))
	require.ErrorIs(t, err, ErrBuilderFrozen)
	_, err = b.Build()
	require.ErrorIs(t, err, ErrBuilderFrozen)
}

func TestBuilder_IdenticalEdgesCollapse(t *testing.T) {
	b := newTestBuilder(t)
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	us := mustNode(t, b, ValueNode(dvm.US.Value()))

	e1 := mustEdge(t, b, card, us, Positive, All)
	e2 := mustEdge(t, b, card, us, Positive, All)
	e3 := mustEdge(t, b, card, us, Negative, All)
	assert.Equal(t, e1, e2)
	assert.NotEqual(t, e1, e3)

	g, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 2, g.EdgeCount())
	assert.Len(t, g.Outgoing(card), 2)
}

func TestCheckValue_AllEdges(t *testing.T) {
	b := newTestBuilder(t)
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	currencies := mustNode(t, b, ValueSetNode(dvm.KeyCurrency, dvm.USD.Value(), dvm.EUR.Value()))
	us := mustNode(t, b, ValueNode(dvm.US.Value()))
	toCurrency := mustEdge(t, b, card, currencies, Positive, All)
	mustEdge(t, b, card, us, Positive, All)
	g, err := b.Build()
	require.NoError(t, err)

	ok := dvm.MustInput(dvm.Card, dvm.USD, dvm.US)
	assert.NoError(t, g.CheckValue(card, ok, NewContext()))

	bad := dvm.MustInput(dvm.Card, dvm.GBP, dvm.US)
	trace := requireTrace(t, g.CheckValue(card, bad, NewContext()))
	require.Len(t, trace.Steps, 2)
	assert.Equal(t, ReasonAllEdgeFailed, trace.Steps[0].Reason)
	assert.Equal(t, toCurrency, *trace.Steps[0].Edge)
	assert.Equal(t, ReasonValueMismatch, trace.Last().Reason)
	assert.Equal(t, currencies, *trace.Last().Node)
	assert.Contains(t, trace.Last().Detail, "GBP")
}

func TestCheckValue_OwnAssertionFails(t *testing.T) {
	b := newTestBuilder(t)
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	g, err := b.Build()
	require.NoError(t, err)

	trace := requireTrace(t, g.CheckValue(card, dvm.MustInput(dvm.Wallet), NewContext()))
	assert.Equal(t, ReasonValueMismatch, trace.Last().Reason)
}

func TestCheckValue_AnyEdges(t *testing.T) {
	b := newTestBuilder(t)
	stripe := mustNode(t, b, ValueNode(dvm.Stripe.Value()))
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	wallet := mustNode(t, b, ValueNode(dvm.Wallet.Value()))
	first := mustEdge(t, b, stripe, card, Positive, Any)
	mustEdge(t, b, stripe, wallet, Positive, Any)
	g, err := b.Build()
	require.NoError(t, err)

	assert.NoError(t, g.CheckValue(stripe, dvm.MustInput(dvm.Stripe, dvm.Wallet), NewContext()))
	assert.NoError(t, g.CheckValue(stripe, dvm.MustInput(dvm.Stripe, dvm.Card), NewContext()))

	trace := requireTrace(t, g.CheckValue(stripe, dvm.MustInput(dvm.Stripe, dvm.PayLater), NewContext()))
	assert.Equal(t, ReasonAnyEdgesFailed, trace.Steps[0].Reason)
	assert.Equal(t, first, *trace.Steps[0].Edge)
	assert.Equal(t, card, *trace.Last().Node)
}

func TestCheckValue_AllAndAnyCombine(t *testing.T) {
	b := newTestBuilder(t)
	stripe := mustNode(t, b, ValueNode(dvm.Stripe.Value()))
	usd := mustNode(t, b, ValueNode(dvm.USD.Value()))
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	wallet := mustNode(t, b, ValueNode(dvm.Wallet.Value()))
	mustEdge(t, b, stripe, usd, Positive, All)
	mustEdge(t, b, stripe, card, Positive, Any)
	mustEdge(t, b, stripe, wallet, Positive, Any)
	g, err := b.Build()
	require.NoError(t, err)

	assert.NoError(t, g.CheckValue(stripe, dvm.MustInput(dvm.Stripe, dvm.USD, dvm.Card), NewContext()))
	requireTrace(t, g.CheckValue(stripe, dvm.MustInput(dvm.Stripe, dvm.EUR, dvm.Card), NewContext()))
	requireTrace(t, g.CheckValue(stripe, dvm.MustInput(dvm.Stripe, dvm.USD, dvm.Crypto), NewContext()))
}

func TestCheckValue_NegativeEdge(t *testing.T) {
	b := newTestBuilder(t)
	agg := mustNode(t, b, AggregatorNode("stripe:apple_pay"))
	manual := mustNode(t, b, ValueNode(dvm.CaptureManual.Value()))
	neg := mustEdge(t, b, agg, manual, Negative, All)
	g, err := b.Build()
	require.NoError(t, err)

	assert.NoError(t, g.CheckValue(agg, dvm.MustInput(dvm.CaptureAutomatic), NewContext()))

	trace := requireTrace(t, g.CheckValue(agg, dvm.MustInput(dvm.CaptureManual), NewContext()))
	assert.Equal(t, ReasonNegativeEdgeHeld, trace.Last().Reason)
	assert.True(t, trace.CitesEdge(neg))
}

func TestCheckValue_NegativeEdgeInvertsFullCheck(t *testing.T) {
	// The negated target holds on its own but one of its requirements fails,
	// so the target as a whole does not hold and the negative edge is met.
	b := newTestBuilder(t)
	root := mustNode(t, b, AggregatorNode("root"))
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	us := mustNode(t, b, ValueNode(dvm.US.Value()))
	mustEdge(t, b, root, card, Negative, All)
	mustEdge(t, b, card, us, Positive, All)
	g, err := b.Build()
	require.NoError(t, err)

	assert.NoError(t, g.CheckValue(root, dvm.MustInput(dvm.Card, dvm.DE), NewContext()))
	requireTrace(t, g.CheckValue(root, dvm.MustInput(dvm.Card, dvm.US), NewContext()))
}

func TestCheckValue_MissingContextValue(t *testing.T) {
	b := newTestBuilder(t)
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	usd := mustNode(t, b, ValueNode(dvm.USD.Value()))
	mustEdge(t, b, card, usd, Positive, All)
	g, err := b.Build()
	require.NoError(t, err)

	in := dvm.MustInput(dvm.Card)
	err = g.CheckValue(card, in, NewContext(WithMode(Strict)))
	require.ErrorIs(t, err, ErrMissingContextValue)
	var gerr *GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, usd, *gerr.Node)

	assert.NoError(t, g.CheckValue(card, in, NewContext(WithMode(Open))))
}

func TestCheckValue_DomainFilter(t *testing.T) {
	b := newTestBuilder(t)
	require.NoError(t, b.AddDomain("surcharge", "surcharge rules"))
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	usd := mustNode(t, b, ValueNode(dvm.USD.Value()))
	_, err := b.AddEdge(card, usd, Positive, All, "surcharge")
	require.NoError(t, err)
	g, err := b.Build()
	require.NoError(t, err)

	in := dvm.MustInput(dvm.Card, dvm.EUR)
	requireTrace(t, g.CheckValue(card, in, NewContext()))
	assert.NoError(t, g.CheckValue(card, in, NewContext(WithDomains(testDomain))))
	requireTrace(t, g.CheckValue(card, in, NewContext(WithDomains("surcharge"))))
}

func TestCheckValue_CycleTerminates(t *testing.T) {
	b := newTestBuilder(t)
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	us := mustNode(t, b, ValueNode(dvm.US.Value()))
	mustEdge(t, b, card, us, Positive, All)
	mustEdge(t, b, us, card, Positive, All)
	mustEdge(t, b, card, card, Positive, Any)
	g, err := b.Build()
	require.NoError(t, err)

	ctx := NewContext()
	assert.NoError(t, g.CheckValue(card, dvm.MustInput(dvm.Card, dvm.US), ctx))
	assert.Positive(t, ctx.Stats().CycleHits)

	requireTrace(t, g.CheckValue(card, dvm.MustInput(dvm.Card, dvm.DE), NewContext()))
}

func TestCheckValue_CycleStillResolvesOtherEdges(t *testing.T) {
	// card <-> us form a cycle; us also requires USD. Assuming card holds
	// inside the cycle must not hide the failing currency edge.
	b := newTestBuilder(t)
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	us := mustNode(t, b, ValueNode(dvm.US.Value()))
	usd := mustNode(t, b, ValueNode(dvm.USD.Value()))
	mustEdge(t, b, card, us, Positive, All)
	mustEdge(t, b, us, card, Positive, All)
	currency := mustEdge(t, b, us, usd, Positive, All)
	g, err := b.Build()
	require.NoError(t, err)

	trace := requireTrace(t, g.CheckValue(card, dvm.MustInput(dvm.Card, dvm.US, dvm.EUR), NewContext()))
	assert.True(t, trace.CitesEdge(currency))

	assert.NoError(t, g.CheckValue(card, dvm.MustInput(dvm.Card, dvm.US, dvm.USD), NewContext()))
}

func TestCheckValue_NegativeSelfLoop(t *testing.T) {
	b := newTestBuilder(t)
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	mustEdge(t, b, card, card, Negative, All)
	g, err := b.Build()
	require.NoError(t, err)

	trace := requireTrace(t, g.CheckValue(card, dvm.MustInput(dvm.Card), NewContext()))
	assert.Equal(t, ReasonNegativeEdgeHeld, trace.Last().Reason)
}

func TestCheckValue_Memoized(t *testing.T) {
	b := newTestBuilder(t)
	stripe := mustNode(t, b, ValueNode(dvm.Stripe.Value()))
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	usd := mustNode(t, b, ValueNode(dvm.USD.Value()))
	mustEdge(t, b, stripe, card, Positive, All)
	mustEdge(t, b, card, usd, Positive, All)
	g, err := b.Build()
	require.NoError(t, err)

	ctx := NewContext()
	in := dvm.MustInput(dvm.Stripe, dvm.Card, dvm.EUR)
	first := g.CheckValue(stripe, in, ctx)
	afterFirst := ctx.Stats()

	second := g.CheckValue(stripe, in, ctx)
	afterSecond := ctx.Stats()

	assert.Equal(t, first, second)
	assert.Equal(t, afterFirst.Evaluations, afterSecond.Evaluations, "second call must not re-traverse")
	assert.Equal(t, afterFirst.MemoHits+1, afterSecond.MemoHits)

	// A different input is a different memo key.
	require.NoError(t, g.CheckValue(stripe, dvm.MustInput(dvm.Stripe, dvm.Card, dvm.USD), ctx))
	assert.Greater(t, ctx.Stats().Evaluations, afterSecond.Evaluations)
}

func TestCheckValue_SharedSubgraphEvaluatedOnce(t *testing.T) {
	b := newTestBuilder(t)
	root := mustNode(t, b, AggregatorNode("root"))
	left := mustNode(t, b, AggregatorNode("left"))
	right := mustNode(t, b, AggregatorNode("right"))
	usd := mustNode(t, b, ValueNode(dvm.USD.Value()))
	mustEdge(t, b, root, left, Positive, All)
	mustEdge(t, b, root, right, Positive, All)
	mustEdge(t, b, left, usd, Positive, All)
	mustEdge(t, b, right, usd, Positive, All)
	g, err := b.Build()
	require.NoError(t, err)

	ctx := NewContext()
	require.NoError(t, g.CheckValue(root, dvm.MustInput(dvm.USD), ctx))
	assert.Equal(t, 4, ctx.Stats().Evaluations)
	assert.Equal(t, 1, ctx.Stats().MemoHits)
}

func TestCheckValue_BudgetExceeded(t *testing.T) {
	b := newTestBuilder(t)
	prev := mustNode(t, b, AggregatorNode("n0"))
	root := prev
	for i := 1; i < 50; i++ {
		next := mustNode(t, b, AggregatorNode(fmt.Sprintf("n%d", i)))
		mustEdge(t, b, prev, next, Positive, All)
		prev = next
	}
	g, err := b.Build()
	require.NoError(t, err)

	err = g.CheckValue(root, dvm.MustInput(), NewContext(WithBudget(10)))
	require.ErrorIs(t, err, ErrRecursionLimitExceeded)
	var gerr *GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, 10, gerr.Limit)

	err = g.CheckValue(root, dvm.MustInput(), NewContext(WithMaxDepth(5)))
	require.ErrorIs(t, err, ErrRecursionLimitExceeded)

	assert.NoError(t, g.CheckValue(root, dvm.MustInput(), NewContext()))
}

func TestCheckValue_UnknownNode(t *testing.T) {
	b := newTestBuilder(t)
	g, err := b.Build()
	require.NoError(t, err)
	require.ErrorIs(t, g.CheckValue(3, dvm.MustInput(), NewContext()), ErrUnknownNodeReference)
}

func TestErrorsSerialise(t *testing.T) {
	b := newTestBuilder(t)
	card := mustNode(t, b, ValueNode(dvm.Card.Value()))
	usd := mustNode(t, b, ValueNode(dvm.USD.Value()))
	mustEdge(t, b, card, usd, Positive, All)
	g, err := b.Build()
	require.NoError(t, err)

	trace := requireTrace(t, g.CheckValue(card, dvm.MustInput(dvm.Card, dvm.EUR), NewContext()))
	data, err := json.Marshal(trace)
	require.NoError(t, err)
	var decoded AnalysisTrace
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *trace, decoded)

	gerr := newGraphError(CodeDuplicateNode, "dup").atNode(card)
	data, err = json.Marshal(gerr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"ERR_GRAPH_DUPLICATE_NODE","message":"dup","node":0}`, string(data))
}

func TestGraph_Introspection(t *testing.T) {
	build := func() *Graph {
		b := newTestBuilder(t)
		card := mustNode(t, b, ValueNode(dvm.Card.Value()))
		set := mustNode(t, b, ValueSetNode(dvm.KeyCurrency, dvm.USD.Value(), dvm.EUR.Value()))
		gbp := mustNode(t, b, ValueNode(dvm.GBP.Value()))
		mustEdge(t, b, card, set, Positive, All)
		mustEdge(t, b, card, gbp, Negative, Any)
		g, err := b.Build()
		require.NoError(t, err)
		return g
	}
	g := build()

	assert.Equal(t, []dvm.Value{dvm.EUR.Value(), dvm.GBP.Value(), dvm.USD.Value()}, g.ValuesFor(dvm.KeyCurrency))
	id, ok := g.LookupValue(dvm.Card.Value())
	require.True(t, ok)
	assert.Len(t, g.Outgoing(id), 2)
	assert.True(t, g.HasDomain(testDomain))
	assert.Contains(t, g.Summary(), "nodes=3 edges=2")

	h1, err := g.Hash()
	require.NoError(t, err)
	h2, err := build().Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	var buf bytes.Buffer
	require.NoError(t, g.WriteDOT(&buf))
	assert.Contains(t, buf.String(), "digraph cgraph")
	assert.Contains(t, buf.String(), "color=red")
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("open")
	require.NoError(t, err)
	assert.Equal(t, Open, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Strict, m)
	_, err = ParseMode("lenient")
	assert.Error(t, err)
}
