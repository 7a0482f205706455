package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/Mindburn-Labs/routecore/pkg/activation"
	"github.com/Mindburn-Labs/routecore/pkg/ast"
	"github.com/Mindburn-Labs/routecore/pkg/celrule"
	"github.com/Mindburn-Labs/routecore/pkg/config"
	"github.com/Mindburn-Labs/routecore/pkg/kgraph"
	"github.com/Mindburn-Labs/routecore/pkg/router"
	"github.com/Mindburn-Labs/routecore/pkg/store"
)

// setupLogging installs the default logger described by cfg.
func setupLogging(cfg *config.Config, w io.Writer) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// sources resolves graph and program URIs into compiled configuration.
type sources struct {
	cfg      *config.Config
	fetcher  *store.Fetcher
	compiler *celrule.Compiler
}

func newSources(cfg *config.Config) (*sources, error) {
	c, err := celrule.NewCompiler()
	if err != nil {
		return nil, err
	}
	return &sources{cfg: cfg, fetcher: store.NewFetcher(), compiler: c}, nil
}

func (s *sources) graph(ctx context.Context, uri string) (*kgraph.KnowledgeGraph, error) {
	data, err := s.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	table, err := kgraph.ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	return kgraph.Compile(ctx, table)
}

// program loads a routing program. YAML documents are rule sets with CEL
// conditions; sql:// reads the profile's active program from the
// configured database; anything else is a JSON program.
func (s *sources) program(ctx context.Context, uri string) (*ast.Program[router.Selection], string, error) {
	if strings.HasPrefix(uri, "sql://") {
		return s.sqlProgram(ctx, strings.TrimPrefix(uri, "sql://"))
	}
	data, err := s.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, "", err
	}
	switch strings.ToLower(filepath.Ext(uriPath(uri))) {
	case ".yaml", ".yml":
		p, err := router.ParseRuleSet(data, s.compiler)
		return p, "", err
	default:
		p, err := ast.DecodeProgram[router.Selection](data)
		return p, "", err
	}
}

func (s *sources) sqlProgram(ctx context.Context, profile string) (*ast.Program[router.Selection], string, error) {
	if profile == "" {
		profile = s.cfg.Database.ProfileID
	}
	src, err := store.OpenSQLProgramSource(s.cfg.Database.Driver, s.cfg.Database.DSN)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = src.Close() }()
	rec, err := src.Active(ctx, profile)
	if err != nil {
		return nil, "", err
	}
	p, err := ast.DecodeProgram[router.Selection](rec.Data)
	return p, rec.Version, err
}

// candidate loads both documents for activation.
func (s *sources) candidate(ctx context.Context, graphURI, programURI string) (activation.Candidate[router.Selection], error) {
	kg, err := s.graph(ctx, graphURI)
	if err != nil {
		return activation.Candidate[router.Selection]{}, err
	}
	p, version, err := s.program(ctx, programURI)
	if err != nil {
		return activation.Candidate[router.Selection]{}, err
	}
	return activation.Candidate[router.Selection]{
		Version: version,
		Source:  programURI,
		Program: p,
		Graph:   kg,
	}, nil
}

func uriPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		return u.Path
	}
	return uri
}
