package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"convlint/internal/baseline"
	"convlint/internal/config"
	"convlint/internal/kernel"
	"convlint/internal/logging"
	"convlint/internal/report"
	"convlint/internal/runner"
	"convlint/internal/watch"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	format     string
	noColor    bool

	// check flags
	asOf       string
	noBaseline bool

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "convlint",
	Short: "convlint - convention linter for C# codebases",
	Long: `convlint checks a C# codebase against the team's convention changelog.

Source files are parsed into facts, rules run as native checks and as
Datalog over the fact base, and accepted findings live in a baseline so
new violations stand out from old debt.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return err
			}
		}
		workspace, err = filepath.Abs(workspace)
		if err != nil {
			return err
		}

		path := configPath
		if path == "" {
			path = filepath.Join(workspace, config.DefaultFileName)
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if format != "" {
			cfg.Output.Format = format
		}
		if noColor {
			cfg.Output.Color = false
		}

		if err := logging.Initialize(workspace, logging.Options{
			Debug:      cfg.Logging.Debug || verbose,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			logger.Warn("file logging disabled", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Lint the workspace and report convention violations",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := runner.Options{NoBaseline: noBaseline}
		if asOf != "" {
			t, err := time.Parse("2006-01-02", asOf)
			if err != nil {
				return fmt.Errorf("--as-of wants YYYY-MM-DD: %w", err)
			}
			opts.AsOf = t
		}

		r, err := runner.New(workspace, cfg, opts)
		if err != nil {
			return err
		}
		result, err := r.Run(cmd.Context())
		if err != nil {
			return err
		}

		renderer, err := report.New(cfg.Output.Format, cfg.Output.Color)
		if err != nil {
			return err
		}
		if tr, ok := renderer.(*report.TextRenderer); ok {
			tr.FilesScanned = result.Stats.FilesScanned
		}
		if err := renderer.Render(os.Stdout, result.Findings); err != nil {
			return err
		}

		logger.Info("check complete",
			zap.String("run_id", result.RunID),
			zap.Int("findings", len(result.Findings)),
			zap.Int("files", result.Stats.FilesScanned),
			zap.Duration("duration", result.Stats.Duration))

		if result.ExitCode() != 0 {
			cmd.SilenceErrors = true
			return errFindings
		}
		return nil
	},
}

// errFindings distinguishes "violations found" from internal failures so
// main can exit 1 instead of 2.
var errFindings = fmt.Errorf("convention violations found")

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the active rule set",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Bare "rules" behaves like "rules list".
		return rulesListCmd.RunE(cmd, args)
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active rules with severity and title",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := runner.New(workspace, cfg, runner.Options{})
		if err != nil {
			return err
		}
		for _, rule := range r.Registry().Rules() {
			adopted := ""
			if d := r.Document(); d != nil {
				if date, ok := d.AdoptionDate(rule.ID()); ok {
					adopted = fmt.Sprintf("  (adopted %s)", date.Format("2006-01-02"))
				}
			}
			fmt.Fprintf(os.Stdout, "%-32s %-8s %s%s\n", rule.ID(), rule.Severity(), rule.Title(), adopted)
		}
		return nil
	},
}

var rulesExplainCmd = &cobra.Command{
	Use:   "explain <rule-id>",
	Short: "Show the convention entry behind a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		r, err := runner.New(workspace, cfg, runner.Options{})
		if err != nil {
			return err
		}

		rule, ok := r.Registry().Rule(id)
		if !ok {
			return fmt.Errorf("unknown rule %q; try `convlint rules list`", id)
		}
		fmt.Fprintf(os.Stdout, "%s (%s)\n%s\n\n", rule.ID(), rule.Severity(), rule.Title())

		d := r.Document()
		if d == nil {
			fmt.Fprintf(os.Stdout, "no convention document at %s\n", cfg.Conventions.Path)
			return nil
		}
		entry, ok := d.EntryForRule(rule.DocAnchor())
		if !ok {
			fmt.Fprintln(os.Stdout, "no convention entry anchors this rule")
			return nil
		}

		rendered, err := glamour.Render(entry.Markdown(), "dark")
		if err != nil {
			// Fall back to plain markdown on dumb terminals.
			fmt.Fprintln(os.Stdout, entry.Markdown())
			return nil
		}
		fmt.Fprint(os.Stdout, rendered)
		return nil
	},
}

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Extract the fact base and print it as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		stats := engine.GetStats()

		out := struct {
			Total      int            `json:"total"`
			Predicates map[string]int `json:"predicates"`
		}{stats.TotalFacts, stats.PredicateCounts}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <datalog-query>",
	Short: "Run a Datalog query against the fact base",
	Long: `Run a Datalog query against the extracted facts, for example:

  convlint query 'cs_class(File, ID, Name, Line, /public)'
  convlint query 'violation(Rule, File, Line, Symbol, Message, Severity)'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}

		result, err := engine.Query(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.Bindings); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%d bindings in %v\n", len(result.Bindings), result.Duration)
		return nil
	},
}

// buildEngine runs scan and parse, then returns an engine loaded with the
// workspace's facts and user rules.
func buildEngine(ctx context.Context) (*kernel.Engine, error) {
	r, err := runner.New(workspace, cfg, runner.Options{NoBaseline: true})
	if err != nil {
		return nil, err
	}
	if _, err := r.Run(ctx); err != nil {
		return nil, err
	}
	return r.Engine(ctx)
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage the accepted-findings baseline",
}

var baselineUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Accept all current findings into the baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := runner.New(workspace, cfg, runner.Options{NoBaseline: true})
		if err != nil {
			return err
		}
		result, err := r.Run(cmd.Context())
		if err != nil {
			return err
		}

		store, err := baseline.Open(filepath.Join(workspace, cfg.Baseline.DatabasePath))
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.Update(result.Findings)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "baseline updated: %d findings accepted, %d pruned (run %s)\n",
			run.Accepted, run.Pruned, run.ID)
		return nil
	},
}

var baselineShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List baselined findings",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := baseline.Open(filepath.Join(workspace, cfg.Baseline.DatabasePath))
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.Entries()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stdout, "baseline is empty")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(os.Stdout, "%-32s %-40s %s  (since %s)\n",
				e.RuleID, e.File, e.Symbol, e.FirstSeen.Format("2006-01-02"))
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-lint on file changes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		r, err := runner.New(workspace, cfg, runner.Options{})
		if err != nil {
			return err
		}

		renderer, err := report.New(cfg.Output.Format, cfg.Output.Color)
		if err != nil {
			return err
		}

		result, err := r.Run(ctx)
		if err != nil {
			return err
		}
		if tr, ok := renderer.(*report.TextRenderer); ok {
			tr.FilesScanned = result.Stats.FilesScanned
		}
		if err := renderer.Render(os.Stdout, result.Findings); err != nil {
			return err
		}

		w, err := watch.New(workspace, cfg.Kernel.RuleDir, r, func(res *runner.RunResult) {
			fmt.Fprintf(os.Stdout, "\n--- %s ---\n", time.Now().Format("15:04:05"))
			if err := renderer.Render(os.Stdout, res.Findings); err != nil {
				logger.Error("render failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		fmt.Fprintln(os.Stderr, "watching for changes, ctrl-c to stop")
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)

		select {
		case <-sig:
		case <-ctx.Done():
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the convlint version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "convlint %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: <workspace>/.convlint.yml)")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "", "Output format: text, json, sarif")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	checkCmd.Flags().StringVar(&asOf, "as-of", "", "Only apply rules adopted on or before this date (YYYY-MM-DD)")
	checkCmd.Flags().BoolVar(&noBaseline, "no-baseline", false, "Report baselined findings too")

	rulesCmd.AddCommand(rulesListCmd, rulesExplainCmd)
	baselineCmd.AddCommand(baselineUpdateCmd, baselineShowCmd)
	rootCmd.AddCommand(checkCmd, rulesCmd, factsCmd, queryCmd, baselineCmd, watchCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if err == errFindings {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "convlint: %v\n", err)
		os.Exit(2)
	}
}
