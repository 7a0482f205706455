package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Mindburn-Labs/routecore/pkg/activation"
	"github.com/Mindburn-Labs/routecore/pkg/ast"
	"github.com/Mindburn-Labs/routecore/pkg/celrule"
	"github.com/Mindburn-Labs/routecore/pkg/dssa"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
	"github.com/Mindburn-Labs/routecore/pkg/router"
	"github.com/Mindburn-Labs/routecore/pkg/store"
)

// runCompileCmd compiles an eligibility table and prints a summary or its
// DOT rendering. With --rules it compiles a YAML rule set to a JSON
// program instead.
func runCompileCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("compile", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		common commonFlags
		dot    bool
		rules  string
	)
	common.register(cmd)
	cmd.BoolVar(&dot, "dot", false, "Print the compiled graph in Graphviz DOT")
	cmd.StringVar(&rules, "rules", "", "YAML rule set to compile to a JSON program")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	cfg, src, err := common.load(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	ctx := context.Background()

	if rules != "" {
		data, err := os.ReadFile(rules)
		if err != nil {
			return fail(stderr, err)
		}
		p, err := router.ParseRuleSet(data, src.compiler)
		if err != nil {
			return fail(stderr, err)
		}
		out, err := ast.EncodeProgram(p)
		if err != nil {
			return fail(stderr, err)
		}
		_, _ = fmt.Fprintln(stdout, string(out))
		return 0
	}

	kg, err := src.graph(ctx, cfg.GraphSource)
	if err != nil {
		return fail(stderr, err)
	}
	if dot {
		if err := kg.Graph.WriteDOT(stdout); err != nil {
			return fail(stderr, err)
		}
		return 0
	}
	summary := struct {
		Version    string          `json:"version"`
		Connectors []dvm.Connector `json:"connectors"`
		Nodes      int             `json:"nodes"`
		Edges      int             `json:"edges"`
	}{kg.Version, kg.Connectors, kg.Graph.NodeCount(), kg.Graph.EdgeCount()}
	if common.json {
		_ = writeJSON(stdout, summary)
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "graph %s: %d connectors, %d nodes, %d edges\n",
		summary.Version, len(summary.Connectors), summary.Nodes, summary.Edges)
	return 0
}

// runAnalyzeCmd reports each rule's verdict. Exit code 1 when a rule is
// dead.
func runAnalyzeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("analyze", flag.ContinueOnError)
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
	ctx := context.Background()

	c, err := src.candidate(ctx, cfg.GraphSource, cfg.ProgramSource)
	if err != nil {
		return fail(stderr, err)
	}
	report, err := dssa.Analyze(ctx, c.Program, c.Graph, analysisOptions(cfg)...)
	if err != nil {
		return fail(stderr, err)
	}

	if common.json {
		_ = writeJSON(stdout, report)
	} else {
		_, _ = fmt.Fprintf(stdout, "graph %s, %d rules\n", report.GraphVersion, len(report.Rules))
		for _, ra := range report.Rules {
			line := fmt.Sprintf("  %-24s %s", ra.Rule, ra.Verdict)
			if ra.ShadowedBy != "" {
				line += " (shadowed by " + ra.ShadowedBy + ")"
			}
			if ra.Trace != nil && ra.Verdict == dssa.Dead {
				line += ": " + ra.Trace.Last().Detail
			}
			_, _ = fmt.Fprintln(stdout, line)
		}
	}
	if report.Count(dssa.Dead) > 0 {
		return 1
	}
	return 0
}

func parseInput(raw string) (*dvm.BackendInput, error) {
	if raw == "" {
		return nil, errors.New("--input is required")
	}
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(raw[1:])
		if err != nil {
			return nil, err
		}
		raw = string(data)
	}
	var in dvm.BackendInput
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// runEvalCmd activates the configured program and routes one payment.
// Exit code 1 when no connector is eligible.
func runEvalCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("eval", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		common    commonFlags
		input     string
		paymentID string
	)
	common.register(cmd)
	cmd.StringVar(&input, "input", "", "Payment as a JSON object, or @file (REQUIRED)")
	cmd.StringVar(&paymentID, "payment-id", "pay_cli", "Payment ID used for volume splits")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	in, err := parseInput(input)
	if err != nil {
		return fail(stderr, err)
	}
	cfg, src, err := common.load(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	ctx := context.Background()

	mopts, err := managerOptions(cfg)
	if err != nil {
		return fail(stderr, err)
	}
	ropts, err := routerOptions(cfg)
	if err != nil {
		return fail(stderr, err)
	}
	c, err := src.candidate(ctx, cfg.GraphSource, cfg.ProgramSource)
	if err != nil {
		return fail(stderr, err)
	}
	m := activation.NewManager[router.Selection](mopts...)
	if _, err := m.Activate(ctx, c); err != nil {
		return fail(stderr, err)
	}

	d, err := router.New(m, ropts...).Route(ctx, paymentID, in)
	if err != nil && !errors.Is(err, router.ErrNoEligibleConnector) {
		return fail(stderr, err)
	}
	if common.json {
		_ = writeJSON(stdout, d)
	} else {
		rule := "<default>"
		if d.RuleName != nil {
			rule = *d.RuleName
		}
		_, _ = fmt.Fprintf(stdout, "rule: %s\n", rule)
		_, _ = fmt.Fprintf(stdout, "connectors: %s\n", joinConnectors(d.Connectors))
		for _, r := range d.Rejected {
			_, _ = fmt.Fprintf(stdout, "rejected: %s\n", r.Connector)
		}
		if d.Fallback != "" {
			_, _ = fmt.Fprintf(stdout, "fallback: %s\n", d.Fallback)
		}
	}
	if err != nil {
		return 1
	}
	return 0
}

// runWhatIfCmd lists the values of --key (or the connectors) the graph
// still allows for a partial payment.
func runWhatIfCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("whatif", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		common commonFlags
		input  string
		key    string
		when   string
	)
	common.register(cmd)
	cmd.StringVar(&input, "input", "{}", "Partial payment as a JSON object, or @file")
	cmd.StringVar(&when, "when", "", "Partial payment as a CEL conjunction of == comparisons")
	cmd.StringVar(&key, "key", "connector", "Key to enumerate")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	cfg, src, err := common.load(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	in, err := parseInput(input)
	if err != nil {
		return fail(stderr, err)
	}
	if when != "" {
		if in, err = assignFromCEL(src.compiler, in, when); err != nil {
			return fail(stderr, err)
		}
	}
	k, err := dvm.ParseKey(key)
	if err != nil {
		return fail(stderr, err)
	}
	kg, err := src.graph(context.Background(), cfg.GraphSource)
	if err != nil {
		return fail(stderr, err)
	}
	values, err := dssa.EligibleValues(kg, in, k, dssa.WithBudget(cfg.Engine.Budget))
	if err != nil {
		return fail(stderr, err)
	}
	if common.json {
		_ = writeJSON(stdout, values)
		return 0
	}
	for _, v := range values {
		_, _ = fmt.Fprintln(stdout, v.Display())
	}
	return 0
}

// assignFromCEL adds the equalities of a CEL conjunction to in.
func assignFromCEL(c *celrule.Compiler, in *dvm.BackendInput, src string) (*dvm.BackendInput, error) {
	st, err := c.Lower(src)
	if err != nil {
		return nil, err
	}
	for _, cmp := range st.Condition {
		if cmp.Type != ast.Equal {
			return nil, fmt.Errorf("--when accepts only == comparisons, got %s", cmp)
		}
		if in, err = in.With(cmp.Values[0]); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func joinConnectors(cs []dvm.Connector) string {
	if len(cs) == 0 {
		return "<none>"
	}
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// runHistoryCmd lists the programs published for a profile in the
// configured database, newest first.
func runHistoryCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("history", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		common  commonFlags
		profile string
		limit   int
	)
	common.register(cmd)
	cmd.StringVar(&profile, "profile", "", "Profile ID (default from PROFILE_ID)")
	cmd.IntVar(&limit, "limit", 0, "Maximum programs to list (default from DATABASE_QUERY_LIMIT)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	cfg, _, err := common.load(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	if profile == "" {
		profile = cfg.Database.ProfileID
	}
	if limit <= 0 {
		limit = cfg.Database.QueryLimit
	}

	src, err := store.OpenSQLProgramSource(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fail(stderr, err)
	}
	defer func() { _ = src.Close() }()
	recs, err := src.List(context.Background(), profile, limit)
	if err != nil {
		return fail(stderr, err)
	}

	type entry struct {
		ID         string    `json:"id"`
		Version    string    `json:"version"`
		Active     bool      `json:"active"`
		ModifiedAt time.Time `json:"modified_at"`
	}
	entries := make([]entry, len(recs))
	for i, r := range recs {
		entries[i] = entry{r.ID, r.Version, r.Active, r.ModifiedAt}
	}
	if common.json {
		_ = writeJSON(stdout, entries)
		return 0
	}
	for _, e := range entries {
		marker := " "
		if e.Active {
			marker = "*"
		}
		_, _ = fmt.Fprintf(stdout, "%s %-10s %-24s %s\n", marker, e.Version, e.ID, e.ModifiedAt.Format(time.RFC3339))
	}
	return 0
}
