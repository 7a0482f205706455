// Package activation owns the routing configuration that is live. A
// candidate (program plus knowledge graph) is validated, compiled and
// statically analysed off the hot path; if it passes, it becomes an
// immutable Snapshot that is swapped in atomically. Readers never lock.
package activation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Mindburn-Labs/routecore/pkg/ast"
	"github.com/Mindburn-Labs/routecore/pkg/canonicalize"
	"github.com/Mindburn-Labs/routecore/pkg/dssa"
	"github.com/Mindburn-Labs/routecore/pkg/interp"
	"github.com/Mindburn-Labs/routecore/pkg/kgraph"
	"github.com/Mindburn-Labs/routecore/pkg/observability"
)

// Metadata keys read from ast.Program.Metadata.
const (
	MetaVersion = "version"
	MetaEngine  = "engine" // semver constraint, e.g. ">= 1.0, < 2"
)

// Policy decides what happens to a candidate with dead rules.
type Policy string

const (
	PolicyReject Policy = "reject"
	PolicyWarn   Policy = "warn"
	// PolicyIgnore skips static analysis entirely.
	PolicyIgnore Policy = "ignore"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyReject, PolicyWarn, PolicyIgnore:
		return p, nil
	case "":
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("activation: unknown dead rule policy %q", s)
	}
}

// Candidate is a configuration offered for activation. Graph may be nil to
// keep the active snapshot's graph. Version may be empty when the program's
// metadata carries one.
type Candidate[O any] struct {
	Version string
	Source  string
	Program *ast.Program[O]
	Graph   *kgraph.KnowledgeGraph
}

// Snapshot is an activated configuration. It is never mutated.
type Snapshot[O any] struct {
	ID          string
	Version     *semver.Version
	Source      string
	ProgramHash string
	ContentHash string // ProgramHash plus graph version
	Program     *ast.Program[O]
	Graph       *kgraph.KnowledgeGraph
	Backend     interp.Backend[O]
	Report      *dssa.Report
	ActivatedAt time.Time
}

// Info summarises a snapshot for history listings.
type Info struct {
	ID           string    `json:"id"`
	Version      string    `json:"version"`
	GraphVersion string    `json:"graph_version"`
	Source       string    `json:"source,omitempty"`
	DeadRules    int       `json:"dead_rules"`
	ActivatedAt  time.Time `json:"activated_at"`
}

func (s *Snapshot[O]) Info() Info {
	info := Info{
		ID:           s.ID,
		Version:      s.Version.String(),
		GraphVersion: s.Graph.Version,
		Source:       s.Source,
		ActivatedAt:  s.ActivatedAt,
	}
	if s.Report != nil {
		info.DeadRules = s.Report.Count(dssa.Dead)
	}
	return info
}

type options struct {
	policy         Policy
	strategy       interp.Strategy
	engine         *semver.Version
	analysis       []dssa.Option
	telemetry      *observability.Provider
	clock          func() time.Time
	allowDowngrade bool
	historySize    int
}

type Option func(*options)

func WithPolicy(p Policy) Option { return func(o *options) { o.policy = p } }

func WithStrategy(s interp.Strategy) Option { return func(o *options) { o.strategy = s } }

// WithEngineVersion sets the version programs' engine constraints are
// checked against.
func WithEngineVersion(v *semver.Version) Option { return func(o *options) { o.engine = v } }

func WithAnalysis(opts ...dssa.Option) Option {
	return func(o *options) { o.analysis = append(o.analysis, opts...) }
}

func WithTelemetry(p *observability.Provider) Option { return func(o *options) { o.telemetry = p } }

func WithClock(fn func() time.Time) Option { return func(o *options) { o.clock = fn } }

// WithAllowDowngrade accepts candidates whose version is not newer than the
// active one.
func WithAllowDowngrade(allow bool) Option { return func(o *options) { o.allowDowngrade = allow } }

func WithHistorySize(n int) Option { return func(o *options) { o.historySize = n } }

// Manager holds the active snapshot.
type Manager[O any] struct {
	current atomic.Pointer[Snapshot[O]]
	opts    options
	logger  *slog.Logger
	reloads singleflight.Group

	mu         sync.Mutex // serialises activations
	history    []Info
	onActivate []func(*Snapshot[O])
}

func NewManager[O any](opts ...Option) *Manager[O] {
	o := options{
		policy:      PolicyReject,
		strategy:    interp.StrategyCompiled,
		clock:       time.Now,
		historySize: 16,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager[O]{
		opts:   o,
		logger: slog.Default().With("component", "activation"),
	}
}

// Current returns the active snapshot, or nil before the first activation.
func (m *Manager[O]) Current() *Snapshot[O] {
	return m.current.Load()
}

// OnActivate registers fn to run after each successful activation.
func (m *Manager[O]) OnActivate(fn func(*Snapshot[O])) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onActivate = append(m.onActivate, fn)
}

// History lists recent activations, newest last.
func (m *Manager[O]) History() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Info(nil), m.history...)
}

// Activate validates c and makes it the active snapshot. On any error the
// active snapshot is unchanged. Re-activating the content already active is
// a no-op that returns the current snapshot.
func (m *Manager[O]) Activate(ctx context.Context, c Candidate[O]) (_ *Snapshot[O], err error) {
	ctx, finish := m.opts.telemetry.TrackOperation(ctx, "activation.activate",
		observability.AttrSourceURI.String(c.Source))
	outcome := "rejected"
	defer func() {
		version := c.Version
		graph := ""
		if c.Graph != nil {
			graph = c.Graph.Version
		}
		m.opts.telemetry.RecordActivation(ctx, observability.ActivationAttributes(outcome, version, graph)...)
		finish(err)
	}()

	if c.Program == nil {
		return nil, fmt.Errorf("%w: program is nil", ErrInvalidCandidate)
	}

	snap, callbacks, err := m.activate(ctx, &c, &outcome)
	if err != nil {
		return nil, err
	}
	for _, fn := range callbacks {
		fn(snap)
	}
	return snap, nil
}

func (m *Manager[O]) activate(ctx context.Context, c *Candidate[O], outcome *string) (*Snapshot[O], []func(*Snapshot[O]), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current.Load()
	if c.Graph == nil {
		if prev == nil {
			return nil, nil, ErrNoGraph
		}
		c.Graph = prev.Graph
	}

	version, err := candidateVersion(*c)
	if err != nil {
		return nil, nil, err
	}
	c.Version = version.String()
	if err := m.checkEngine(*c); err != nil {
		return nil, nil, err
	}

	programHash, err := canonicalize.ContentHash(c.Program)
	if err != nil {
		return nil, nil, fmt.Errorf("activation: hash program: %w", err)
	}
	hash := programHash + ":" + c.Graph.Version
	if prev != nil && prev.ContentHash == hash && prev.Version.Equal(version) {
		*outcome = "unchanged"
		return prev, nil, nil
	}
	// A rebuilt graph under the same program needs no version bump.
	graphOnly := prev != nil && prev.ProgramHash == programHash && prev.Version.Equal(version)
	if prev != nil && !graphOnly && !m.opts.allowDowngrade && !version.GreaterThan(prev.Version) {
		return nil, nil, &RejectedError{
			Code:    CodeStaleVersion,
			Message: fmt.Sprintf("active version is %s", prev.Version),
			Version: c.Version,
		}
	}

	backend, err := interp.New(m.opts.strategy, c.Program)
	if err != nil {
		return nil, nil, err
	}

	var report *dssa.Report
	if m.opts.policy != PolicyIgnore {
		report, err = dssa.Analyze(ctx, c.Program, c.Graph, m.opts.analysis...)
		if err != nil {
			return nil, nil, fmt.Errorf("activation: analyze: %w", err)
		}
		if dead := report.Dead(); len(dead) > 0 {
			names := make([]string, len(dead))
			for i, ra := range dead {
				names[i] = ra.Rule
			}
			if m.opts.policy == PolicyReject {
				return nil, nil, &RejectedError{
					Code:    CodeDeadRules,
					Message: fmt.Sprintf("%d rule(s) can never match an eligible payment", len(dead)),
					Version: c.Version,
					Rules:   names,
					Report:  report,
				}
			}
			m.logger.WarnContext(ctx, "activating program with dead rules",
				"version", c.Version,
				"rules", names,
			)
		}
	}

	snap := &Snapshot[O]{
		ID:          uuid.NewString(),
		Version:     version,
		Source:      c.Source,
		ProgramHash: programHash,
		ContentHash: hash,
		Program:     c.Program,
		Graph:       c.Graph,
		Backend:     backend,
		Report:      report,
		ActivatedAt: m.opts.clock(),
	}
	m.current.Store(snap)
	*outcome = "activated"

	m.history = append(m.history, snap.Info())
	if over := len(m.history) - m.opts.historySize; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}

	m.logger.InfoContext(ctx, "snapshot activated",
		"id", snap.ID,
		"version", c.Version,
		"graph_version", c.Graph.Version,
		"strategy", backend.Strategy(),
		"rules", len(c.Program.Rules),
		"source", c.Source,
	)
	return snap, slices.Clone(m.onActivate), nil
}

// Loader produces a candidate, typically by fetching it from a source.
type Loader[O any] func(ctx context.Context) (Candidate[O], error)

// Reload runs load and activates the result. Concurrent reloads with the
// same key share one load and activation.
func (m *Manager[O]) Reload(ctx context.Context, key string, load Loader[O]) (*Snapshot[O], error) {
	v, err, shared := m.reloads.Do(key, func() (any, error) {
		c, err := load(ctx)
		if err != nil {
			return nil, fmt.Errorf("activation: load %s: %w", key, err)
		}
		if c.Source == "" {
			c.Source = key
		}
		return m.Activate(ctx, c)
	})
	if shared {
		m.logger.DebugContext(ctx, "reload shared", "key", key)
	}
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot[O]), nil
}

// Notifier delivers change notifications naming the source that changed.
type Notifier interface {
	Listen(ctx context.Context, fn func(ctx context.Context, source string)) error
}

// Watch reloads on every notification until ctx is done or n fails. Failed
// reloads are logged and the active snapshot is kept.
func (m *Manager[O]) Watch(ctx context.Context, n Notifier, load func(ctx context.Context, source string) (Candidate[O], error)) error {
	return n.Listen(ctx, func(ctx context.Context, source string) {
		_, err := m.Reload(ctx, source, func(ctx context.Context) (Candidate[O], error) {
			return load(ctx, source)
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "reload failed", "source", source, "error", err)
		}
	})
}

func candidateVersion[O any](c Candidate[O]) (*semver.Version, error) {
	raw := c.Version
	if raw == "" {
		if s, ok := c.Program.Metadata[MetaVersion].(string); ok {
			raw = s
		}
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: no version", ErrInvalidCandidate)
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrInvalidCandidate, raw, err)
	}
	return v, nil
}

func (m *Manager[O]) checkEngine(c Candidate[O]) error {
	raw, ok := c.Program.Metadata[MetaEngine].(string)
	if !ok || raw == "" || m.opts.engine == nil {
		return nil
	}
	constraint, err := semver.NewConstraint(raw)
	if err != nil {
		return fmt.Errorf("%w: engine constraint %q: %v", ErrInvalidCandidate, raw, err)
	}
	if ok, reasons := constraint.Validate(m.opts.engine); !ok {
		msgs := make([]string, len(reasons))
		for i, r := range reasons {
			msgs[i] = r.Error()
		}
		return &RejectedError{
			Code:    CodeIncompatibleEngine,
			Message: fmt.Sprintf("engine %s: %s", m.opts.engine, strings.Join(msgs, "; ")),
			Version: c.Version,
		}
	}
	return nil
}
