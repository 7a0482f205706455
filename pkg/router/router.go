// Package router is the per-payment entry point: it runs the active routing
// program, resolves the selected connectors for the payment and drops the
// ones the knowledge graph says cannot serve it.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/routecore/pkg/activation"
	"github.com/Mindburn-Labs/routecore/pkg/cgraph"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
	"github.com/Mindburn-Labs/routecore/pkg/interp"
	"github.com/Mindburn-Labs/routecore/pkg/kgraph"
	"github.com/Mindburn-Labs/routecore/pkg/observability"
)

var (
	ErrNotActivated        = errors.New("router: no active snapshot")
	ErrNoEligibleConnector = errors.New("router: no eligible connector")
	ErrInvalidSelection    = errors.New("router: invalid connector selection")
)

// Fallback reasons.
const (
	FallbackMissingContext = "missing_context_value"
	FallbackIneligible     = "no_eligible_connector"
)

// Decision is the routing outcome for one payment. Connectors is the
// ordered list to attempt. RuleName is nil when the default selection was
// used.
type Decision struct {
	SnapshotID     string             `json:"snapshot_id"`
	ProgramVersion string             `json:"program_version"`
	GraphVersion   string             `json:"graph_version"`
	RuleName       *string            `json:"rule_name"`
	Selection      Selection          `json:"selection"`
	Connectors     []dvm.Connector    `json:"connectors"`
	Rejected       []kgraph.Rejection `json:"rejected,omitempty"`
	Fallback       string             `json:"fallback,omitempty"`
	Unfiltered     bool               `json:"unfiltered,omitempty"`
}

type options struct {
	telemetry      *observability.Provider
	checkOpts      []cgraph.ContextOption
	filter         bool
	missingLogRate rate.Limit
}

type Option func(*options)

func WithTelemetry(p *observability.Provider) Option { return func(o *options) { o.telemetry = p } }

// WithCheckOptions configures the eligibility checks, e.g. check mode and
// budget.
func WithCheckOptions(opts ...cgraph.ContextOption) Option {
	return func(o *options) { o.checkOpts = append(o.checkOpts, opts...) }
}

// WithEligibilityFilter turns post-selection filtering on or off. It is on
// by default.
func WithEligibilityFilter(on bool) Option { return func(o *options) { o.filter = on } }

// WithMissingValueLogRate bounds the ERROR lines logged for inputs missing
// a key the program reads, per second. Zero disables them.
func WithMissingValueLogRate(perSecond float64) Option {
	return func(o *options) { o.missingLogRate = rate.Limit(perSecond) }
}

// Router routes payments with the snapshot active in a manager. It is safe
// for concurrent use.
type Router struct {
	manager *activation.Manager[Selection]
	opts    options
	logger  *slog.Logger
	missing *rate.Limiter
}

func New(m *activation.Manager[Selection], opts ...Option) *Router {
	o := options{filter: true, missingLogRate: 1}
	for _, opt := range opts {
		opt(&o)
	}
	burst := 1
	if o.missingLogRate <= 0 {
		burst = 0
	}
	return &Router{
		manager: m,
		opts:    o,
		logger:  slog.Default().With("component", "router"),
		missing: rate.NewLimiter(o.missingLogRate, burst),
	}
}

// Route decides the connectors for one payment. Evaluation problems never
// drop the payment: an input missing a key the program reads falls back to
// the default selection, and a graph that cannot complete a check leaves
// the candidates unfiltered. ErrNoEligibleConnector is returned together
// with the decision when every candidate, including the default's, was
// rejected.
func (r *Router) Route(ctx context.Context, paymentID string, in *dvm.BackendInput) (_ *Decision, err error) {
	snap := r.manager.Current()
	if snap == nil {
		return nil, ErrNotActivated
	}
	ctx, finish := r.opts.telemetry.TrackOperation(ctx, "router.route",
		observability.AttrSnapshotID.String(snap.ID))
	defer func() { finish(err) }()

	out, err := snap.Backend.Execute(in)
	d := &Decision{
		SnapshotID:     snap.ID,
		ProgramVersion: snap.Version.String(),
		GraphVersion:   snap.Graph.Version,
		RuleName:       out.RuleName,
		Selection:      out.ConnectorSelection,
	}
	if err != nil {
		if !errors.Is(err, interp.ErrMissingContextValue) {
			return nil, fmt.Errorf("router: %w", err)
		}
		d.Fallback = FallbackMissingContext
		r.opts.telemetry.RecordFallback(ctx, observability.AttrFallback.String(FallbackMissingContext))
		if r.missing.Allow() {
			r.logger.ErrorContext(ctx, "input missing routing keys, using default selection",
				"payment_id", paymentID,
				"snapshot", snap.ID,
				"error", err,
			)
		}
		err = nil
	}

	candidates, err := d.Selection.Resolve(paymentID)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	d.Connectors, d.Rejected, d.Unfiltered = r.filter(ctx, snap.Graph, in, candidates)
	if len(d.Connectors) == 0 && d.RuleName != nil {
		// The matched rule's connectors are all ineligible: try the default.
		d.Fallback = FallbackIneligible
		r.opts.telemetry.RecordFallback(ctx, observability.AttrFallback.String(FallbackIneligible))
		d.Selection = snap.Program.DefaultSelection
		if candidates, err = d.Selection.Resolve(paymentID); err != nil {
			return nil, fmt.Errorf("router: %w", err)
		}
		var rejected []kgraph.Rejection
		d.Connectors, rejected, d.Unfiltered = r.filter(ctx, snap.Graph, in, candidates)
		d.Rejected = append(d.Rejected, rejected...)
	}

	rule := ""
	if d.RuleName != nil {
		rule = *d.RuleName
	}
	r.opts.telemetry.RecordDecision(ctx, observability.DecisionAttributes(rule, string(snap.Backend.Strategy()), snap.Graph.Version)...)
	if len(d.Connectors) == 0 {
		return d, ErrNoEligibleConnector
	}
	return d, nil
}

func (r *Router) filter(ctx context.Context, kg *kgraph.KnowledgeGraph, in *dvm.BackendInput, candidates []dvm.Connector) ([]dvm.Connector, []kgraph.Rejection, bool) {
	if !r.opts.filter || in == nil {
		return candidates, nil, !r.opts.filter
	}
	start := time.Now()
	eligible, rejected, err := kg.Eligible(in, candidates, r.opts.checkOpts...)
	if err != nil {
		r.logger.WarnContext(ctx, "eligibility check failed, candidates left unfiltered",
			"graph_version", kg.Version,
			"error", err,
		)
		return candidates, nil, true
	}
	if len(rejected) > 0 {
		observability.AddSpanEvent(ctx, "eligibility.filtered",
			observability.AttrEligibleDropped.Int(len(rejected)))
	}
	r.logger.DebugContext(ctx, "eligibility filtered",
		"candidates", len(candidates),
		"eligible", len(eligible),
		"elapsed", time.Since(start),
	)
	return eligible, rejected, false
}
