// Package dssa is the static analyzer for routing programs. It decides, at
// activation time, whether each rule can ever be satisfied by a payment the
// knowledge graph considers valid, and answers what-if queries for rule
// authoring tools.
package dssa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/routecore/pkg/ast"
	"github.com/Mindburn-Labs/routecore/pkg/cgraph"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
	"github.com/Mindburn-Labs/routecore/pkg/kgraph"
)

var (
	// ErrWorldLimitExceeded is returned when a rule leaves more candidate
	// worlds open than the configured limit.
	ErrWorldLimitExceeded = errors.New("dssa: world limit exceeded")
	ErrNoGraph            = errors.New("dssa: knowledge graph is nil")
)

// DefaultMaxWorlds bounds the worlds enumerated per rule.
const DefaultMaxWorlds = 4096

// maxReportedWorlds bounds DeadWorlds per rule.
const maxReportedWorlds = 16

// Verdict is the analyzer's finding for one rule.
type Verdict string

const (
	Satisfiable   Verdict = "satisfiable"
	PartiallyDead Verdict = "partially_dead"
	Dead          Verdict = "dead"
)

// DeadWorld is one candidate assignment the graph rejects.
type DeadWorld struct {
	Assignment []dvm.Value           `json:"assignment"`
	Trace      *cgraph.AnalysisTrace `json:"trace"`
}

// RuleAnalysis is the finding for one rule. Trace explains a Dead verdict;
// ShadowedBy names an earlier rule that matches every input this one does.
type RuleAnalysis struct {
	Rule       string                `json:"rule"`
	Index      int                   `json:"index"`
	Verdict    Verdict               `json:"verdict"`
	Trace      *cgraph.AnalysisTrace `json:"trace,omitempty"`
	Worlds     int                   `json:"worlds"`
	DeadWorlds []DeadWorld           `json:"dead_worlds,omitempty"`
	ShadowedBy string                `json:"shadowed_by,omitempty"`
}

// Report is the analysis of a whole program against one graph version.
type Report struct {
	GraphVersion string         `json:"graph_version"`
	Rules        []RuleAnalysis `json:"rules"`
}

// Count returns how many rules received v.
func (r *Report) Count(v Verdict) int {
	n := 0
	for _, ra := range r.Rules {
		if ra.Verdict == v {
			n++
		}
	}
	return n
}

// Dead lists the rules that can never match an eligible payment.
func (r *Report) Dead() []RuleAnalysis {
	var out []RuleAnalysis
	for _, ra := range r.Rules {
		if ra.Verdict == Dead {
			out = append(out, ra)
		}
	}
	return out
}

// Shadowed lists the rules an earlier rule always pre-empts.
func (r *Report) Shadowed() []RuleAnalysis {
	var out []RuleAnalysis
	for _, ra := range r.Rules {
		if ra.ShadowedBy != "" {
			out = append(out, ra)
		}
	}
	return out
}

type options struct {
	maxWorlds int
	budget    int
	selection any
}

// Option configures Analyze and EligibleValues.
type Option func(*options)

func WithMaxWorlds(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxWorlds = n
		}
	}
}

// WithBudget sets the evaluation budget of each graph check.
func WithBudget(n int) Option {
	return func(o *options) { o.budget = n }
}

// WithSelection makes a world also require that at least one connector of
// the rule's selection is eligible for it. fn must accept the program's
// selection type; worlds that already assign a connector are not probed.
func WithSelection[O any](fn func(O) []dvm.Connector) Option {
	return func(o *options) { o.selection = fn }
}

func buildOptions(opts []Option) options {
	o := options{maxWorlds: DefaultMaxWorlds, budget: cgraph.DefaultBudget}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Analyze checks every rule of p against kg. Rules are treated as a single
// conjunction of all their comparisons. A rule is Dead when each candidate
// world fails the graph, PartiallyDead when some do.
//
// A *cgraph.GraphError from the checker, ErrWorldLimitExceeded or a context
// error aborts the analysis.
func Analyze[O any](ctx context.Context, p *ast.Program[O], kg *kgraph.KnowledgeGraph, opts ...Option) (*Report, error) {
	if kg == nil {
		return nil, ErrNoGraph
	}
	logger := slog.Default().With("component", "dssa")
	o := buildOptions(opts)

	var selector func(O) []dvm.Connector
	if o.selection != nil {
		fn, ok := o.selection.(func(O) []dvm.Connector)
		if !ok {
			return nil, fmt.Errorf("dssa: selection function %T does not accept the program's selection type", o.selection)
		}
		selector = fn
	}

	a := &analyzer[O]{
		kg:        kg,
		maxWorlds: o.maxWorlds,
		selector:  selector,
		check:     kg.NewContext(cgraph.WithMode(cgraph.Open), cgraph.WithBudget(o.budget)),
	}
	report := &Report{GraphVersion: kg.Version, Rules: make([]RuleAnalysis, 0, len(p.Rules))}
	summaries := make([]*constraints, 0, len(p.Rules))

	for i := range p.Rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := &p.Rules[i]
		c := collect(r.Comparisons())
		contradiction := c.contradiction()
		ra, err := a.rule(r, i, c, contradiction)
		if err != nil {
			return nil, fmt.Errorf("dssa: rule %q: %w", r.Name, err)
		}
		if contradiction == "" {
			for j, earlier := range summaries {
				if earlier != nil && c.implies(earlier) {
					ra.ShadowedBy = p.Rules[j].Name
					break
				}
			}
			summaries = append(summaries, c)
		} else {
			summaries = append(summaries, nil)
		}
		report.Rules = append(report.Rules, ra)
	}

	stats := a.check.Stats()
	logger.InfoContext(ctx, "program analyzed",
		"graph_version", kg.Version,
		"rules", len(p.Rules),
		"dead", report.Count(Dead),
		"partially_dead", report.Count(PartiallyDead),
		"shadowed", len(report.Shadowed()),
		"evaluations", stats.Evaluations,
		"memo_hits", stats.MemoHits,
	)
	return report, nil
}

type analyzer[O any] struct {
	kg        *kgraph.KnowledgeGraph
	maxWorlds int
	selector  func(O) []dvm.Connector
	check     *cgraph.CheckingContext
}

func (a *analyzer[O]) rule(r *ast.Rule[O], index int, c *constraints, contradiction string) (RuleAnalysis, error) {
	ra := RuleAnalysis{Rule: r.Name, Index: index}
	if contradiction != "" {
		ra.Verdict = Dead
		ra.Trace = cgraph.NewContradictionTrace(contradiction)
		return ra, nil
	}

	dims := dimensions(c, a.kg)
	if n := worldCount(dims, a.maxWorlds); n > a.maxWorlds {
		return ra, fmt.Errorf("%w: more than %d worlds", ErrWorldLimitExceeded, a.maxWorlds)
	}

	var connectors []dvm.Connector
	if a.selector != nil {
		connectors = a.selector(r.ConnectorSelection)
	}

	var (
		dead     int
		firstErr error
	)
	eachWorld(dims, func(values []dvm.Value) bool {
		ra.Worlds++
		trace, err := a.world(values, connectors)
		if err != nil {
			firstErr = err
			return false
		}
		if trace == nil {
			return true
		}
		dead++
		if ra.Trace == nil {
			ra.Trace = trace
		}
		if len(ra.DeadWorlds) < maxReportedWorlds {
			ra.DeadWorlds = append(ra.DeadWorlds, DeadWorld{Assignment: values, Trace: trace})
		}
		return true
	})
	if firstErr != nil {
		return ra, firstErr
	}

	switch {
	case dead == 0:
		ra.Verdict = Satisfiable
	case dead == ra.Worlds:
		ra.Verdict = Dead
	default:
		ra.Verdict = PartiallyDead
		ra.Trace = nil
	}
	return ra, nil
}

// world checks one assignment. It returns the trace of the first failing
// check, or nil when the world is consistent with the graph.
func (a *analyzer[O]) world(values []dvm.Value, connectors []dvm.Connector) (*cgraph.AnalysisTrace, error) {
	in, err := dvm.NewInput(values...)
	if err != nil {
		return nil, err
	}
	trace, err := checkAsserted(a.kg, in, a.check)
	if trace != nil || err != nil {
		return trace, err
	}
	if len(connectors) == 0 {
		return nil, nil
	}
	if _, assigned := in.Get(dvm.KeyConnector); assigned {
		return nil, nil
	}

	var first *cgraph.AnalysisTrace
	for _, conn := range connectors {
		err := a.kg.CheckConnector(conn, in, a.check)
		if err == nil {
			return nil, nil
		}
		var t *cgraph.AnalysisTrace
		if !errors.As(err, &t) {
			return nil, err
		}
		if first == nil {
			first = t
		}
	}
	return first, nil
}

// checkAsserted runs the checker on every graph node the input asserts, in
// key order, and returns the first failure's trace.
func checkAsserted(kg *kgraph.KnowledgeGraph, in *dvm.BackendInput, ctx *cgraph.CheckingContext) (*cgraph.AnalysisTrace, error) {
	for _, v := range in.Values() {
		node, ok := kg.Graph.LookupValue(v)
		if !ok {
			continue
		}
		err := kg.Graph.CheckValue(node, in, ctx)
		if err == nil {
			continue
		}
		var trace *cgraph.AnalysisTrace
		if errors.As(err, &trace) {
			return trace, nil
		}
		return nil, err
	}
	return nil, nil
}
