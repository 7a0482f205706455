package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Routing attribute keys.
var (
	AttrOperation = attribute.Key("routecore.operation")

	AttrRule         = attribute.Key("routecore.rule")
	AttrMatched      = attribute.Key("routecore.matched")
	AttrConnector    = attribute.Key("routecore.connector")
	AttrStrategy     = attribute.Key("routecore.interp.strategy")
	AttrFallback     = attribute.Key("routecore.fallback.reason")
	AttrGraphVersion = attribute.Key("routecore.graph.version")

	AttrSnapshotID      = attribute.Key("routecore.snapshot.id")
	AttrProgramVersion  = attribute.Key("routecore.program.version")
	AttrActivation      = attribute.Key("routecore.activation.outcome")
	AttrDeadRules       = attribute.Key("routecore.dssa.dead_rules")
	AttrPartiallyDead   = attribute.Key("routecore.dssa.partially_dead_rules")
	AttrShadowedRules   = attribute.Key("routecore.dssa.shadowed_rules")
	AttrSourceURI       = attribute.Key("routecore.source.uri")
	AttrEligibleDropped = attribute.Key("routecore.eligibility.dropped")
)

// DecisionAttributes describes one routing decision. rule is empty when the
// default selection was used.
func DecisionAttributes(rule string, strategy string, graphVersion string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRule.String(rule),
		AttrMatched.Bool(rule != ""),
		AttrStrategy.String(strategy),
		AttrGraphVersion.String(graphVersion),
	}
}

// ActivationAttributes describes one activation attempt.
func ActivationAttributes(outcome, programVersion, graphVersion string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrActivation.String(outcome),
		AttrProgramVersion.String(programVersion),
		AttrGraphVersion.String(graphVersion),
	}
}

// AddSpanEvent adds an event to the span in ctx, if any.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
