package cgraph

import (
	"fmt"
	"strings"
)

// Reason classifies one step of an AnalysisTrace.
type Reason string

const (
	ReasonValueMismatch           Reason = "value_mismatch"
	ReasonAllEdgeFailed           Reason = "all_edge_failed"
	ReasonAnyEdgesFailed          Reason = "any_edges_failed"
	ReasonNegativeEdgeHeld        Reason = "negative_edge_held"
	ReasonContradictoryConditions Reason = "contradictory_conditions"
)

// TraceStep is one link of the explanation chain, outermost first.
type TraceStep struct {
	Node   *NodeID `json:"node,omitempty"`
	Edge   *EdgeID `json:"edge,omitempty"`
	Reason Reason  `json:"reason"`
	Detail string  `json:"detail,omitempty"`
}

// AnalysisTrace explains why an assignment failed a check. The first step is
// the node that was checked; the last is the assertion that did not hold.
type AnalysisTrace struct {
	Steps []TraceStep `json:"steps"`
}

func (t *AnalysisTrace) Error() string {
	if t == nil || len(t.Steps) == 0 {
		return "cgraph: check failed"
	}
	parts := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		parts[i] = s.String()
	}
	return "cgraph: check failed: " + strings.Join(parts, " -> ")
}

func (s TraceStep) String() string {
	var b strings.Builder
	b.WriteString(string(s.Reason))
	if s.Node != nil {
		fmt.Fprintf(&b, " node=%d", *s.Node)
	}
	if s.Edge != nil {
		fmt.Fprintf(&b, " edge=%d", *s.Edge)
	}
	if s.Detail != "" {
		fmt.Fprintf(&b, " (%s)", s.Detail)
	}
	return b.String()
}

// Last returns the innermost step.
func (t *AnalysisTrace) Last() TraceStep {
	if t == nil || len(t.Steps) == 0 {
		return TraceStep{}
	}
	return t.Steps[len(t.Steps)-1]
}

// Edges lists the edges cited by the trace in order.
func (t *AnalysisTrace) Edges() []EdgeID {
	if t == nil {
		return nil
	}
	var out []EdgeID
	for _, s := range t.Steps {
		if s.Edge != nil {
			out = append(out, *s.Edge)
		}
	}
	return out
}

// CitesEdge reports whether id appears anywhere in the trace.
func (t *AnalysisTrace) CitesEdge(id EdgeID) bool {
	for _, e := range t.Edges() {
		if e == id {
			return true
		}
	}
	return false
}

// NewContradictionTrace reports conditions that no single assignment can meet.
func NewContradictionTrace(detail string) *AnalysisTrace {
	return &AnalysisTrace{Steps: []TraceStep{{Reason: ReasonContradictoryConditions, Detail: detail}}}
}

// Prepend returns a new trace with step in front of t's steps.
func (t *AnalysisTrace) Prepend(step TraceStep) *AnalysisTrace {
	steps := make([]TraceStep, 0, len(t.Steps)+1)
	steps = append(steps, step)
	steps = append(steps, t.Steps...)
	return &AnalysisTrace{Steps: steps}
}

func nodeRef(id NodeID) *NodeID { return &id }

func edgeRef(id EdgeID) *EdgeID { return &id }
