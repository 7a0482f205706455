package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/routecore/pkg/activation"
	"github.com/Mindburn-Labs/routecore/pkg/config"
	"github.com/Mindburn-Labs/routecore/pkg/observability"
	"github.com/Mindburn-Labs/routecore/pkg/router"
)

// runWatchCmd activates the configured program and keeps it current:
// local file sources are watched with fsnotify, and when Redis is
// configured a publish on its channel triggers a reload of every source.
func runWatchCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("watch", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var common commonFlags
	common.register(cmd)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	cfg, src, err := common.load(stderr)
	if err != nil {
		return fail(stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := watch(ctx, cfg, src, stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fail(stderr, err)
	}
	return 0
}

func watch(ctx context.Context, cfg *config.Config, src *sources, stdout io.Writer) error {
	logger := slog.Default().With("component", "watch")

	tcfg := observability.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	tcfg.Insecure = cfg.Telemetry.Insecure
	tcfg.SampleRate = cfg.Telemetry.SampleRate
	tcfg.Environment = cfg.Telemetry.Environment
	telemetry, err := observability.New(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() { _ = telemetry.Shutdown(context.WithoutCancel(ctx)) }()

	mopts, err := managerOptions(cfg)
	if err != nil {
		return err
	}
	m := activation.NewManager[router.Selection](append(mopts, activation.WithTelemetry(telemetry))...)
	m.OnActivate(func(s *activation.Snapshot[router.Selection]) {
		_, _ = fmt.Fprintf(stdout, "activated %s version %s (graph %s)\n", s.ID, s.Version, s.Graph.Version)
	})

	load := func(ctx context.Context) (activation.Candidate[router.Selection], error) {
		return src.candidate(ctx, cfg.GraphSource, cfg.ProgramSource)
	}
	if _, err := m.Reload(ctx, cfg.ProgramSource, load); err != nil {
		return err
	}
	reload := func(ctx context.Context, _ string) (activation.Candidate[router.Selection], error) {
		return load(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)
	if paths := localPaths(cfg.GraphSource, cfg.ProgramSource); len(paths) > 0 {
		fw := activation.NewFileWatcher(cfg.Engine.ReloadDebounce, paths...)
		g.Go(func() error { return m.Watch(ctx, fw, reload) })
	}
	if cfg.Redis.Addr != "" {
		rn := activation.DialRedisNotifier(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		defer func() { _ = rn.Close() }()
		g.Go(func() error { return m.Watch(ctx, rn, reload) })
	}
	logger.InfoContext(ctx, "watching", "graph", cfg.GraphSource, "program", cfg.ProgramSource)
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	return g.Wait()
}

// localPaths returns the file paths among uris.
func localPaths(uris ...string) []string {
	var out []string
	for _, uri := range uris {
		u, err := url.Parse(uri)
		if err != nil {
			continue
		}
		switch u.Scheme {
		case "":
			out = append(out, uri)
		case "file":
			out = append(out, u.Host+u.Path)
		}
	}
	return out
}
