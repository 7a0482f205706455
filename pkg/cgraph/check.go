package cgraph

import (
	"fmt"
	"math"
	"strings"

	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

// Mode decides how a check treats keys the input does not assign.
type Mode uint8

const (
	// Strict treats a missing key as a caller contract violation.
	Strict Mode = iota
	// Open treats a missing key as unknown: assertions on it neither hold nor
	// fail, so partial assignments can be probed.
	Open
)

func (m Mode) String() string {
	if m == Open {
		return "open"
	}
	return "strict"
}

// ParseMode accepts "strict" or "open".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "open":
		return Open, nil
	default:
		return Strict, fmt.Errorf("cgraph: unknown check mode %q", s)
	}
}

const (
	DefaultBudget   = 10_000
	DefaultMaxDepth = 512
)

// Stats counts checker work for one context.
type Stats struct {
	Evaluations int `json:"evaluations"`
	MemoHits    int `json:"memo_hits"`
	CycleHits   int `json:"cycle_hits"`
}

type memoKey struct {
	node        NodeID
	fingerprint uint64
}

// CheckingContext holds the per-check mutable state: the in-flight stack,
// the memo table and the evaluation budget. Use one context per transaction
// or analysis pass and never share it between goroutines.
type CheckingContext struct {
	mode     Mode
	domains  map[DomainID]struct{}
	budget   int
	maxDepth int

	graph   *Graph
	stack   []NodeID
	onStack map[NodeID]int
	memo    map[memoKey]error
	used    int
	stats   Stats
}

// ContextOption configures a CheckingContext.
type ContextOption func(*CheckingContext)

func WithMode(m Mode) ContextOption {
	return func(c *CheckingContext) { c.mode = m }
}

// WithDomains restricts evaluation to edges tagged with one of ids. By
// default every edge is evaluated.
func WithDomains(ids ...DomainID) ContextOption {
	return func(c *CheckingContext) {
		if len(ids) == 0 {
			c.domains = nil
			return
		}
		c.domains = make(map[DomainID]struct{}, len(ids))
		for _, id := range ids {
			c.domains[id] = struct{}{}
		}
	}
}

// WithBudget caps the node evaluations of one CheckValue call.
func WithBudget(n int) ContextOption {
	return func(c *CheckingContext) {
		if n > 0 {
			c.budget = n
		}
	}
}

// WithMaxDepth caps the in-flight stack depth.
func WithMaxDepth(n int) ContextOption {
	return func(c *CheckingContext) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

func NewContext(opts ...ContextOption) *CheckingContext {
	c := &CheckingContext{
		budget:   DefaultBudget,
		maxDepth: DefaultMaxDepth,
		onStack:  make(map[NodeID]int),
		memo:     make(map[memoKey]error),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CheckingContext) Mode() Mode { return c.mode }

func (c *CheckingContext) Stats() Stats { return c.stats }

// MemoSize is the number of cached results.
func (c *CheckingContext) MemoSize() int { return len(c.memo) }

func (c *CheckingContext) bind(g *Graph) {
	if c.graph == g {
		return
	}
	c.graph = g
	c.memo = make(map[memoKey]error)
	c.stack = c.stack[:0]
	clear(c.onStack)
}

func (c *CheckingContext) edgeActive(e Edge) bool {
	if c.domains == nil {
		return true
	}
	_, ok := c.domains[e.Domain]
	return ok
}

type truth uint8

const (
	truthFalse truth = iota
	truthTrue
	truthUnknown
)

// noLink marks a result that did not depend on any provisional assumption.
const noLink = math.MaxInt

type outcome struct {
	err error
	// low is the shallowest stack position whose provisional result this
	// outcome relied on.
	low int
}

// CheckValue decides whether the assignment in input is consistent with the
// constraints reachable from node. It returns nil when satisfied, an
// *AnalysisTrace when not, and a *GraphError when the check itself cannot be
// completed (unknown node, missing context value in Strict mode, or an
// exhausted budget).
func (g *Graph) CheckValue(node NodeID, input *dvm.BackendInput, ctx *CheckingContext) error {
	if int(node) >= len(g.nodes) {
		return newGraphError(CodeUnknownNodeReference, "node %d does not exist", node).atNode(node)
	}
	if ctx == nil {
		ctx = NewContext()
	}
	ctx.bind(g)
	ctx.used = 0
	ctx.stack = ctx.stack[:0]
	clear(ctx.onStack)
	return g.check(node, input, ctx).err
}

func (g *Graph) check(id NodeID, input *dvm.BackendInput, ctx *CheckingContext) outcome {
	key := memoKey{node: id, fingerprint: input.Fingerprint()}
	if res, ok := ctx.memo[key]; ok {
		ctx.stats.MemoHits++
		return outcome{err: res, low: noLink}
	}
	if pos, ok := ctx.onStack[id]; ok {
		ctx.stats.CycleHits++
		return outcome{low: pos}
	}

	ctx.used++
	ctx.stats.Evaluations++
	if ctx.used > ctx.budget {
		e := newGraphError(CodeRecursionLimitExceeded, "evaluation budget of %d exhausted", ctx.budget).atNode(id)
		e.Limit = ctx.budget
		return outcome{err: e, low: noLink}
	}
	if len(ctx.stack) >= ctx.maxDepth {
		e := newGraphError(CodeRecursionLimitExceeded, "stack depth %d exceeded", ctx.maxDepth).atNode(id)
		e.Limit = ctx.maxDepth
		return outcome{err: e, low: noLink}
	}

	depth := len(ctx.stack)
	ctx.stack = append(ctx.stack, id)
	ctx.onStack[id] = depth
	res := g.evaluate(id, input, ctx)
	ctx.stack = ctx.stack[:depth]
	delete(ctx.onStack, id)

	if _, fatal := res.err.(*GraphError); fatal {
		return outcome{err: res.err, low: noLink}
	}
	if res.low >= depth {
		ctx.memo[key] = res.err
		res.low = noLink
	}
	return res
}

func (g *Graph) evaluate(id NodeID, input *dvm.BackendInput, ctx *CheckingContext) outcome {
	node := g.nodes[id]
	own, detail, err := assertNode(node.Value, input, ctx.mode)
	if err != nil {
		return outcome{err: err.atNode(id), low: noLink}
	}
	switch own {
	case truthFalse:
		return outcome{err: &AnalysisTrace{Steps: []TraceStep{{Node: nodeRef(id), Reason: ReasonValueMismatch, Detail: detail}}}, low: noLink}
	case truthUnknown:
		return outcome{low: noLink}
	}

	low := noLink
	var anyEdges []Edge
	for _, eid := range g.adj[id] {
		e := g.edges[eid]
		if !ctx.edgeActive(e) {
			continue
		}
		if e.Strength == Any {
			anyEdges = append(anyEdges, e)
			continue
		}
		res := g.checkEdge(e, input, ctx)
		low = min(low, res.low)
		if res.err != nil {
			if trace, ok := res.err.(*AnalysisTrace); ok {
				return outcome{err: trace.Prepend(TraceStep{Node: nodeRef(id), Edge: edgeRef(e.ID), Reason: ReasonAllEdgeFailed}), low: low}
			}
			return outcome{err: res.err, low: low}
		}
	}

	if len(anyEdges) == 0 {
		return outcome{low: low}
	}
	var first *AnalysisTrace
	for _, e := range anyEdges {
		res := g.checkEdge(e, input, ctx)
		low = min(low, res.low)
		if res.err == nil {
			return outcome{low: low}
		}
		trace, ok := res.err.(*AnalysisTrace)
		if !ok {
			return outcome{err: res.err, low: low}
		}
		if first == nil {
			first = trace
		}
	}
	step := TraceStep{
		Node:   nodeRef(id),
		Edge:   edgeRef(anyEdges[0].ID),
		Reason: ReasonAnyEdgesFailed,
		Detail: fmt.Sprintf("0 of %d alternatives hold", len(anyEdges)),
	}
	return outcome{err: first.Prepend(step), low: low}
}

// checkEdge returns a nil error when the edge's requirement on its target is
// met. For a failed positive edge the error is the target's trace.
func (g *Graph) checkEdge(e Edge, input *dvm.BackendInput, ctx *CheckingContext) outcome {
	if e.Relation == Positive {
		return g.check(e.Target, input, ctx)
	}

	target := g.nodes[e.Target]
	own, _, err := assertNode(target.Value, input, ctx.mode)
	if err != nil {
		return outcome{err: err.atNode(e.Target), low: noLink}
	}
	if own != truthTrue {
		return outcome{low: noLink}
	}
	res := g.check(e.Target, input, ctx)
	switch res.err.(type) {
	case nil:
		return outcome{
			err: &AnalysisTrace{Steps: []TraceStep{{
				Node:   nodeRef(e.Target),
				Edge:   edgeRef(e.ID),
				Reason: ReasonNegativeEdgeHeld,
				Detail: target.Value.String() + " must not hold",
			}}},
			low: res.low,
		}
	case *AnalysisTrace:
		return outcome{low: res.low}
	default:
		return res
	}
}

func assertNode(n NodeValue, input *dvm.BackendInput, mode Mode) (truth, string, *GraphError) {
	if n.Kind == KindAggregator {
		return truthTrue, "", nil
	}
	got, ok := input.Get(n.Key)
	if !ok {
		if mode == Open {
			return truthUnknown, "", nil
		}
		return truthFalse, "", newGraphError(CodeMissingContextValue, "input has no value for %s", n.Key)
	}
	switch n.Kind {
	case KindKey:
		return truthTrue, "", nil
	case KindValue:
		if got == n.Value {
			return truthTrue, "", nil
		}
		return truthFalse, fmt.Sprintf("%s is %s, want %s", n.Key, got.Display(), n.Value.Display()), nil
	case KindValueSet:
		for _, v := range n.Set {
			if v == got {
				return truthTrue, "", nil
			}
		}
		return truthFalse, fmt.Sprintf("%s is %s, not in %s", n.Key, got.Display(), strings.TrimPrefix(n.Identity(), "s:"+n.Key.String())), nil
	default:
		return truthFalse, "", newGraphError(CodeInvalidNodeValue, "unknown node kind %d", uint8(n.Kind))
	}
}
