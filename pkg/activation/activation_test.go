package activation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/routecore/pkg/ast"
	"github.com/Mindburn-Labs/routecore/pkg/dssa"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
	"github.com/Mindburn-Labs/routecore/pkg/interp"
	"github.com/Mindburn-Labs/routecore/pkg/kgraph"
)

const stripeUSD = "connectors:\n  stripe:\n    card:\n      currency: [USD]\n"

func compileGraph(t *testing.T, doc string) *kgraph.KnowledgeGraph {
	t.Helper()
	table, err := kgraph.ParseTable([]byte(doc))
	require.NoError(t, err)
	kg, err := kgraph.Compile(context.Background(), table)
	require.NoError(t, err)
	return kg
}

func rule(name string, cs ...ast.Comparison) ast.Rule[[]string] {
	return ast.Rule[[]string]{Name: name, ConnectorSelection: []string{name}, Statements: []ast.IfStatement{ast.When(cs...)}}
}

func program(version string, rules ...ast.Rule[[]string]) *ast.Program[[]string] {
	p := &ast.Program[[]string]{DefaultSelection: []string{"adyen"}, Rules: rules}
	if version != "" {
		p.Metadata = ast.Metadata{MetaVersion: version}
	}
	return p
}

var (
	liveRule = rule("usd_cards", ast.Eq(dvm.Card), ast.Eq(dvm.USD))
	deadRule = rule("stripe_eur", ast.Eq(dvm.Stripe), ast.Eq(dvm.EUR))
)

func TestActivate(t *testing.T) {
	kg := compileGraph(t, stripeUSD)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager[[]string](WithClock(func() time.Time { return at }))
	require.Nil(t, m.Current())

	snap, err := m.Activate(context.Background(), Candidate[[]string]{
		Program: program("1.0.0", liveRule),
		Graph:   kg,
		Source:  "file://program.json",
	})
	require.NoError(t, err)

	assert.Same(t, snap, m.Current())
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "1.0.0", snap.Version.String())
	assert.Equal(t, at, snap.ActivatedAt)
	assert.Equal(t, interp.StrategyCompiled, snap.Backend.Strategy())
	require.NotNil(t, snap.Report)
	assert.Equal(t, 1, snap.Report.Count(dssa.Satisfiable))

	out, err := snap.Backend.Execute(dvm.MustInput(dvm.Card, dvm.USD))
	require.NoError(t, err)
	assert.Equal(t, []string{"usd_cards"}, out.ConnectorSelection)

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, Info{
		ID:           snap.ID,
		Version:      "1.0.0",
		GraphVersion: kg.Version,
		Source:       "file://program.json",
		ActivatedAt:  at,
	}, history[0])
}

func TestActivate_DeadRulePolicy(t *testing.T) {
	kg := compileGraph(t, stripeUSD)
	candidate := Candidate[[]string]{Program: program("1.0.0", liveRule, deadRule), Graph: kg}

	t.Run("reject", func(t *testing.T) {
		m := NewManager[[]string]()
		_, err := m.Activate(context.Background(), candidate)
		require.ErrorIs(t, err, ErrDeadRules)

		var rej *RejectedError
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, CodeDeadRules, rej.Code)
		assert.Equal(t, []string{"stripe_eur"}, rej.Rules)
		assert.Equal(t, "1.0.0", rej.Version)
		require.NotNil(t, rej.Report)
		assert.Nil(t, m.Current())
		assert.Empty(t, m.History())
	})

	t.Run("warn", func(t *testing.T) {
		m := NewManager[[]string](WithPolicy(PolicyWarn))
		snap, err := m.Activate(context.Background(), candidate)
		require.NoError(t, err)
		assert.Equal(t, 1, snap.Report.Count(dssa.Dead))
		assert.Equal(t, 1, snap.Info().DeadRules)
	})

	t.Run("ignore", func(t *testing.T) {
		m := NewManager[[]string](WithPolicy(PolicyIgnore), WithStrategy(interp.StrategyTree))
		snap, err := m.Activate(context.Background(), candidate)
		require.NoError(t, err)
		assert.Nil(t, snap.Report)
		assert.Equal(t, interp.StrategyTree, snap.Backend.Strategy())
	})
}

func TestActivate_RejectionKeepsPrevious(t *testing.T) {
	kg := compileGraph(t, stripeUSD)
	m := NewManager[[]string]()
	first, err := m.Activate(context.Background(), Candidate[[]string]{Program: program("1.0.0", liveRule), Graph: kg})
	require.NoError(t, err)

	_, err = m.Activate(context.Background(), Candidate[[]string]{Program: program("1.1.0", liveRule, deadRule)})
	require.ErrorIs(t, err, ErrDeadRules)
	assert.Same(t, first, m.Current())

	malformed := program("1.2.0", liveRule, liveRule)
	_, err = m.Activate(context.Background(), Candidate[[]string]{Program: malformed})
	require.ErrorIs(t, err, interp.ErrMalformedProgram)
	assert.Same(t, first, m.Current())
}

func TestActivate_Versions(t *testing.T) {
	kg := compileGraph(t, stripeUSD)
	ctx := context.Background()
	m := NewManager[[]string]()

	first, err := m.Activate(ctx, Candidate[[]string]{Program: program("1.0.0", liveRule), Graph: kg})
	require.NoError(t, err)

	again, err := m.Activate(ctx, Candidate[[]string]{Program: program("1.0.0", liveRule), Graph: kg})
	require.NoError(t, err)
	assert.Same(t, first, again, "identical content is a no-op")
	assert.Len(t, m.History(), 1)

	other := rule("eur_cards", ast.Eq(dvm.Card), ast.Eq(dvm.EUR))
	for _, v := range []string{"1.0.0", "0.9.0"} {
		_, err = m.Activate(ctx, Candidate[[]string]{Program: program(v, liveRule, other)})
		require.ErrorIs(t, err, ErrStaleVersion, v)
	}

	// Explicit version wins over metadata.
	snap, err := m.Activate(ctx, Candidate[[]string]{Version: "v1.1", Program: program("0.1.0", liveRule, other)})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", snap.Version.String())
	assert.Same(t, kg, snap.Graph, "a candidate without a graph keeps the active one")

	_, err = m.Activate(ctx, Candidate[[]string]{Program: program("", liveRule)})
	require.ErrorIs(t, err, ErrInvalidCandidate)
	_, err = m.Activate(ctx, Candidate[[]string]{Program: program("next", liveRule)})
	require.ErrorIs(t, err, ErrInvalidCandidate)
	_, err = m.Activate(ctx, Candidate[[]string]{})
	require.ErrorIs(t, err, ErrInvalidCandidate)

	down := NewManager[[]string](WithAllowDowngrade(true))
	_, err = down.Activate(ctx, Candidate[[]string]{Program: program("2.0.0", liveRule), Graph: kg})
	require.NoError(t, err)
	_, err = down.Activate(ctx, Candidate[[]string]{Program: program("1.0.0", other), Graph: kg})
	require.NoError(t, err)
	assert.Len(t, down.History(), 2)
}

func TestActivate_GraphOnlyChange(t *testing.T) {
	ctx := context.Background()
	m := NewManager[[]string]()
	first, err := m.Activate(ctx, Candidate[[]string]{Program: program("1.0.0", liveRule), Graph: compileGraph(t, stripeUSD)})
	require.NoError(t, err)

	wider := compileGraph(t, "connectors:\n  stripe:\n    card:\n      currency: [USD, EUR]\n")
	require.NotEqual(t, first.Graph.Version, wider.Version)
	snap, err := m.Activate(ctx, Candidate[[]string]{Program: program("1.0.0", liveRule), Graph: wider})
	require.NoError(t, err)
	assert.NotSame(t, first, snap)
	assert.Same(t, wider, m.Current().Graph)
	assert.Equal(t, first.ProgramHash, snap.ProgramHash)
	assert.NotEqual(t, first.ContentHash, snap.ContentHash)
	assert.Len(t, m.History(), 2)

	// A changed program still needs a newer version, graph change or not.
	other := rule("eur_cards", ast.Eq(dvm.Card), ast.Eq(dvm.EUR))
	_, err = m.Activate(ctx, Candidate[[]string]{Program: program("1.0.0", liveRule, other), Graph: compileGraph(t, stripeUSD)})
	require.ErrorIs(t, err, ErrStaleVersion)
	assert.Same(t, snap, m.Current())
}

func TestActivate_NoGraph(t *testing.T) {
	m := NewManager[[]string]()
	_, err := m.Activate(context.Background(), Candidate[[]string]{Program: program("1.0.0", liveRule)})
	require.ErrorIs(t, err, ErrNoGraph)
}

func TestActivate_EngineConstraint(t *testing.T) {
	kg := compileGraph(t, stripeUSD)
	m := NewManager[[]string](WithEngineVersion(semver.MustParse("1.4.0")))

	p := program("1.0.0", liveRule)
	p.Metadata[MetaEngine] = ">= 2.0"
	_, err := m.Activate(context.Background(), Candidate[[]string]{Program: p, Graph: kg})
	require.ErrorIs(t, err, ErrIncompatibleEngine)

	p.Metadata[MetaEngine] = "not a constraint"
	_, err = m.Activate(context.Background(), Candidate[[]string]{Program: p, Graph: kg})
	require.ErrorIs(t, err, ErrInvalidCandidate)

	p.Metadata[MetaEngine] = "^1.2"
	_, err = m.Activate(context.Background(), Candidate[[]string]{Program: p, Graph: kg})
	require.NoError(t, err)
}

func TestActivate_HistoryBounded(t *testing.T) {
	kg := compileGraph(t, stripeUSD)
	m := NewManager[[]string](WithHistorySize(2))
	for _, v := range []string{"1.0.0", "1.0.1", "1.0.2"} {
		_, err := m.Activate(context.Background(), Candidate[[]string]{Program: program(v, liveRule), Graph: kg})
		require.NoError(t, err)
	}
	history := m.History()
	require.Len(t, history, 2)
	assert.Equal(t, "1.0.1", history[0].Version)
	assert.Equal(t, "1.0.2", history[1].Version)
}

func TestOnActivate(t *testing.T) {
	kg := compileGraph(t, stripeUSD)
	m := NewManager[[]string]()

	var seen []string
	m.OnActivate(func(s *Snapshot[[]string]) {
		seen = append(seen, s.Version.String())
		// Callbacks run outside the activation lock.
		_ = m.History()
	})
	for _, v := range []string{"1.0.0", "1.0.0", "1.1.0"} {
		_, err := m.Activate(context.Background(), Candidate[[]string]{Program: program(v, liveRule), Graph: kg})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, seen)
}

func TestReload_CollapsesConcurrentCalls(t *testing.T) {
	kg := compileGraph(t, stripeUSD)
	m := NewManager[[]string]()

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) (Candidate[[]string], error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return Candidate[[]string]{Program: program("1.0.0", liveRule), Graph: kg}, nil
	}

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := m.Reload(context.Background(), "file://program.json", load)
			if assert.NoError(t, err) {
				ids[i] = snap.ID
			}
		}()
	}
	<-entered
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, m.History(), 1)
	assert.Equal(t, "file://program.json", m.Current().Source)
}

func TestReload_LoadError(t *testing.T) {
	m := NewManager[[]string]()
	boom := errors.New("bucket unavailable")
	_, err := m.Reload(context.Background(), "s3://routing/program.json", func(context.Context) (Candidate[[]string], error) {
		return Candidate[[]string]{}, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "s3://routing/program.json")
}

type chanNotifier chan string

func (c chanNotifier) Listen(ctx context.Context, fn func(ctx context.Context, source string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-c:
			fn(ctx, s)
		}
	}
}

func TestWatch(t *testing.T) {
	kg := compileGraph(t, stripeUSD)
	m := NewManager[[]string]()
	versions := map[string]*ast.Program[[]string]{
		"v1":  program("1.0.0", liveRule),
		"bad": program("2.0.0", liveRule, deadRule),
		"v2":  program("1.1.0", liveRule, rule("gbp", ast.Eq(dvm.GBP))),
	}

	n := make(chanNotifier)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Watch(ctx, n, func(_ context.Context, source string) (Candidate[[]string], error) {
			return Candidate[[]string]{Program: versions[source], Graph: kg}, nil
		})
	}()

	n <- "v1"
	n <- "bad"
	n <- "v2"
	require.Eventually(t, func() bool {
		cur := m.Current()
		return cur != nil && cur.Version.String() == "1.1.0"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, m.History(), 2)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyReject, "WARN": PolicyWarn, " ignore ": PolicyIgnore, "reject": PolicyReject} {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParsePolicy("panic")
	assert.Error(t, err)
}

func TestConcurrentReaders(t *testing.T) {
	kg := compileGraph(t, stripeUSD)
	m := NewManager[[]string]()
	_, err := m.Activate(context.Background(), Candidate[[]string]{Program: program("1.0.0", liveRule), Graph: kg})
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := dvm.MustInput(dvm.Card, dvm.USD)
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := m.Current()
				_, err := snap.Backend.Execute(in)
				assert.NoError(t, err)
			}
		}()
	}
	for i := 1; i <= 5; i++ {
		v := semver.New(1, uint64(i), 0, "", "").String()
		_, err := m.Activate(context.Background(), Candidate[[]string]{Program: program(v, liveRule)})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, "1.5.0", m.Current().Version.String())
}
