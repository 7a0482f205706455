package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/routecore/pkg/activation"
	"github.com/Mindburn-Labs/routecore/pkg/cgraph"
	"github.com/Mindburn-Labs/routecore/pkg/config"
	"github.com/Mindburn-Labs/routecore/pkg/dssa"
	"github.com/Mindburn-Labs/routecore/pkg/interp"
	"github.com/Mindburn-Labs/routecore/pkg/router"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "0.1.0-dev"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing. Exit codes: 0 success, 1 the command
// ran and found a problem (dead rules, no eligible connector), 2 usage or
// runtime error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "compile":
		return runCompileCmd(args[2:], stdout, stderr)
	case "analyze":
		return runAnalyzeCmd(args[2:], stdout, stderr)
	case "eval":
		return runEvalCmd(args[2:], stdout, stderr)
	case "whatif":
		return runWhatIfCmd(args[2:], stdout, stderr)
	case "watch":
		return runWatchCmd(args[2:], stdout, stderr)
	case "history":
		return runHistoryCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "routecore %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorCyan  = "\033[36m"
	colorGreen = "\033[32m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%srouteCore %s%s\n", colorBold, version, colorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", colorBold, colorReset)
	fmt.Fprintln(w, "  routecore <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "AUTHORING")
	printCommand(w, "compile", "Compile an eligibility table (--dot) or a rule set (--rules)")
	printCommand(w, "analyze", "Report dead and shadowed rules of a program")
	printCommand(w, "whatif", "List values or connectors still possible for a partial payment")

	printSection(w, "ROUTING")
	printCommand(w, "eval", "Route one payment (--input JSON)")
	printCommand(w, "watch", "Keep a program active, reloading on change")
	printCommand(w, "history", "List programs published for a profile")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", colorBold+colorCyan, title, colorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", colorGreen, name, colorReset, desc)
}

// commonFlags are shared by the commands that load configuration.
type commonFlags struct {
	config  string
	graph   string
	program string
	json    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "YAML configuration overlay")
	fs.StringVar(&c.graph, "graph", "", "Eligibility table URI (default from GRAPH_SOURCE)")
	fs.StringVar(&c.program, "program", "", "Program URI (default from PROGRAM_SOURCE)")
	fs.BoolVar(&c.json, "json", false, "Output results as JSON")
}

// load reads configuration, applies flag overrides and installs logging.
func (c *commonFlags) load(stderr io.Writer) (*config.Config, *sources, error) {
	cfg := config.Load()
	if c.config != "" {
		var err error
		if cfg, err = config.LoadFile(c.config); err != nil {
			return nil, nil, err
		}
	}
	if c.graph != "" {
		cfg.GraphSource = c.graph
	}
	if c.program != "" {
		cfg.ProgramSource = c.program
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := setupLogging(cfg, stderr); err != nil {
		return nil, nil, err
	}
	src, err := newSources(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, src, nil
}

func analysisOptions(cfg *config.Config) []dssa.Option {
	return []dssa.Option{
		dssa.WithMaxWorlds(cfg.Engine.MaxWorlds),
		dssa.WithBudget(cfg.Engine.Budget),
		dssa.WithSelection(router.Selection.Connectors),
	}
}

func managerOptions(cfg *config.Config) ([]activation.Option, error) {
	policy, err := activation.ParsePolicy(cfg.Engine.DeadRulePolicy)
	if err != nil {
		return nil, err
	}
	strategy, err := interp.ParseStrategy(cfg.Engine.Strategy)
	if err != nil {
		return nil, err
	}
	engine, err := semver.NewVersion(cfg.Engine.Version)
	if err != nil {
		return nil, fmt.Errorf("engine version: %w", err)
	}
	return []activation.Option{
		activation.WithPolicy(policy),
		activation.WithStrategy(strategy),
		activation.WithEngineVersion(engine),
		activation.WithAnalysis(analysisOptions(cfg)...),
	}, nil
}

func routerOptions(cfg *config.Config) ([]router.Option, error) {
	mode, err := cgraph.ParseMode(cfg.Engine.CheckMode)
	if err != nil {
		return nil, err
	}
	return []router.Option{
		router.WithCheckOptions(cgraph.WithMode(mode), cgraph.WithBudget(cfg.Engine.Budget)),
		router.WithMissingValueLogRate(cfg.Engine.MissingLogRate),
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 2
}
