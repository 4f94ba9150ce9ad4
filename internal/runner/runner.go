// Package runner orchestrates a full lint pass: scan, parse, fact
// extraction, rule evaluation and baseline filtering.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"convlint/internal/baseline"
	"convlint/internal/config"
	"convlint/internal/doc"
	"convlint/internal/kernel"
	"convlint/internal/logging"
	"convlint/internal/rules"
	"convlint/internal/rules/plugin"
	"convlint/internal/scan"
	"convlint/internal/syntax"
)

// Stats summarizes one lint pass.
type Stats struct {
	FilesScanned int           `json:"files_scanned"`
	FilesParsed  int           `json:"files_parsed"`
	ParseErrors  int           `json:"parse_errors"`
	Facts        int           `json:"facts"`
	DatalogRules int           `json:"datalog_rules"`
	Duration     time.Duration `json:"duration"`
}

// RunResult is the outcome of a lint pass.
type RunResult struct {
	RunID    string          `json:"run_id"`
	Findings []rules.Finding `json:"findings"`
	Stats    Stats           `json:"stats"`
}

// Options tunes a runner beyond the config file.
type Options struct {
	// AsOf drops findings from rules the convention document adopted after
	// this date. Zero means all rules apply.
	AsOf time.Time
	// NoBaseline skips baseline filtering even when a store exists.
	NoBaseline bool
}

// Runner executes lint passes over one workspace.
type Runner struct {
	workspace string
	cfg       *config.Config
	opts      Options
	registry  *rules.Registry
	document  *doc.Document // nil when the convention document is absent

	mu        sync.Mutex
	models    map[string]*syntax.File // keyed by workspace-relative path
	facts     map[string][]kernel.Fact
	scanFacts []kernel.Fact // file_topology facts from the last full scan
}

// New builds a runner: registry with plugins loaded, convention document
// parsed when present.
func New(workspace string, cfg *config.Config, opts Options) (*Runner, error) {
	r := &Runner{
		workspace: workspace,
		cfg:       cfg,
		opts:      opts,
		registry:  rules.NewRegistry(cfg.Rules),
		models:    make(map[string]*syntax.File),
		facts:     make(map[string][]kernel.Fact),
	}

	pluginDir := filepath.Join(workspace, cfg.Rules.PluginDir)
	loaded, err := plugin.LoadDir(pluginDir)
	if err != nil {
		return nil, err
	}
	for _, rule := range loaded {
		r.registry.Register(rule)
	}

	docPath := filepath.Join(workspace, cfg.Conventions.Path)
	if _, statErr := os.Stat(docPath); statErr == nil {
		d, err := doc.Load(docPath)
		if err != nil {
			return nil, err
		}
		r.document = d
	}
	return r, nil
}

// Registry exposes the active rule set, for the rules subcommands.
func (r *Runner) Registry() *rules.Registry { return r.registry }

// Document returns the parsed convention document, or nil.
func (r *Runner) Document() *doc.Document { return r.document }

// Run executes a full lint pass over the workspace.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	scanner := scan.NewScanner(r.cfg.Scanner)
	scanResult, err := scanner.ScanWorkspace(r.workspace)
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}

	parsed, parseErrors, err := r.parseFiles(ctx, scanResult.Files)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.models = make(map[string]*syntax.File, len(parsed))
	r.facts = make(map[string][]kernel.Fact, len(parsed))
	for _, f := range parsed {
		r.models[f.Path] = f
		r.facts[f.Path] = syntax.Facts(f)
	}
	r.scanFacts = scanResult.Facts()
	r.mu.Unlock()

	result, err := r.evaluate(ctx)
	if err != nil {
		return nil, err
	}
	result.Stats.FilesScanned = len(scanResult.Files)
	result.Stats.FilesParsed = len(parsed)
	result.Stats.ParseErrors = parseErrors
	result.Stats.Duration = time.Since(start)

	logging.Rules("lint pass %s: %d findings across %d files in %v",
		result.RunID, len(result.Findings), result.Stats.FilesScanned, result.Stats.Duration)
	return result, nil
}

// LintFiles re-parses just the given workspace-relative paths and re-evaluates
// the whole fact base. Deleted files fall out of the cached model set.
func (r *Runner) LintFiles(ctx context.Context, paths []string) (*RunResult, error) {
	start := time.Now()

	parser := syntax.NewParser()
	defer parser.Close()

	parseErrors := 0
	r.mu.Lock()
	for _, rel := range paths {
		abs := filepath.Join(r.workspace, rel)
		if _, err := os.Stat(abs); err != nil {
			delete(r.models, rel)
			delete(r.facts, rel)
			continue
		}
		f, err := parser.ParseFile(ctx, abs)
		if err != nil {
			logging.Watch("re-parse %s failed: %v", rel, err)
			parseErrors++
			continue
		}
		f.Path = rel
		if f.ParseErrored {
			parseErrors++
		}
		r.models[rel] = f
		r.facts[rel] = syntax.Facts(f)
	}
	count := len(r.models)
	r.mu.Unlock()

	result, err := r.evaluate(ctx)
	if err != nil {
		return nil, err
	}
	result.Stats.FilesScanned = count
	result.Stats.FilesParsed = count
	result.Stats.ParseErrors = parseErrors
	result.Stats.Duration = time.Since(start)
	return result, nil
}

// parseFiles parses sources with a bounded worker pool, one parser per worker.
// Files that fail to parse are logged and skipped, never fatal.
func (r *Runner) parseFiles(ctx context.Context, files []scan.SourceFile) ([]*syntax.File, int, error) {
	workers := r.cfg.Scanner.Workers
	if workers <= 0 {
		workers = 8
	}

	jobs := make(chan scan.SourceFile)
	var mu sync.Mutex
	var parsed []*syntax.File
	parseErrors := 0

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			parser := syntax.NewParser()
			defer parser.Close()
			for sf := range jobs {
				f, err := parser.ParseFile(gctx, sf.AbsPath)
				if err != nil {
					logging.Syntax("parse %s failed: %v", sf.Path, err)
					mu.Lock()
					parseErrors++
					mu.Unlock()
					continue
				}
				f.Path = sf.Path
				mu.Lock()
				if f.ParseErrored {
					parseErrors++
				}
				parsed = append(parsed, f)
				mu.Unlock()
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, sf := range files {
			select {
			case jobs <- sf:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return parsed, parseErrors, nil
}

// Engine builds a fresh engine over the cached facts and user rules, for
// the facts and query commands. Run must have populated the caches first.
func (r *Runner) Engine(ctx context.Context) (*kernel.Engine, error) {
	engine, _, _, _, err := r.buildEngine()
	return engine, err
}

// buildEngine creates an engine, loads user Datalog rules and the cached
// facts, and evaluates. Derived atoms cannot be retracted, so each pass
// starts from a clean engine.
func (r *Runner) buildEngine() (*kernel.Engine, int, int, []kernel.RuleFileError, error) {
	engine, err := kernel.NewEngine(kernel.Config{
		FactLimit:    r.cfg.Kernel.FactLimit,
		QueryTimeout: r.cfg.QueryTimeout(),
		AutoEval:     false,
	})
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("create engine: %w", err)
	}

	ruleDir := filepath.Join(r.workspace, r.cfg.Kernel.RuleDir)
	loadedRules, failed, err := engine.LoadRuleDir(ruleDir)
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("load rule dir: %w", err)
	}
	for _, f := range failed {
		logging.Kernel("skipping rule file %s: %v", f.Path, f.Err)
	}

	factCount := 0

	r.mu.Lock()
	if err := engine.AddFacts(r.scanFacts); err != nil {
		r.mu.Unlock()
		return nil, 0, 0, nil, fmt.Errorf("add scan facts: %w", err)
	}
	factCount += len(r.scanFacts)
	for _, facts := range r.facts {
		if err := engine.AddFacts(facts); err != nil {
			r.mu.Unlock()
			return nil, 0, 0, nil, fmt.Errorf("add facts: %w", err)
		}
		factCount += len(facts)
	}
	r.mu.Unlock()

	if err := engine.RecomputeRules(); err != nil {
		return nil, 0, 0, nil, fmt.Errorf("evaluate rules: %w", err)
	}
	return engine, factCount, len(loadedRules), failed, nil
}

// evaluate runs all rule layers over the cached models and facts.
func (r *Runner) evaluate(ctx context.Context) (*RunResult, error) {
	engine, factCount, loadedRules, failedRules, err := r.buildEngine()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	models := make([]*syntax.File, 0, len(r.models))
	for _, f := range r.models {
		models = append(models, f)
	}
	r.mu.Unlock()

	var findings []rules.Finding
	for _, f := range models {
		if f.ParseErrored && !r.cfg.RuleDisabled("syntax/parse-error") {
			findings = append(findings, rules.Finding{
				RuleID:   "syntax/parse-error",
				File:     f.Path,
				Line:     1,
				Symbol:   filepath.Base(f.Path),
				Message:  "file has syntax errors; convention checks may be incomplete",
				Severity: rules.SeverityWarning,
			})
		}
		findings = append(findings, r.registry.Check(f)...)
	}

	datalog, err := r.datalogFindings(engine)
	if err != nil {
		return nil, err
	}
	findings = append(findings, datalog...)

	// A rule file the author got wrong is reported, not swallowed.
	for _, f := range failedRules {
		file := f.Path
		if rel, relErr := filepath.Rel(r.workspace, f.Path); relErr == nil {
			file = filepath.ToSlash(rel)
		}
		findings = append(findings, rules.Finding{
			RuleID:   "kernel/rule-load",
			File:     file,
			Symbol:   filepath.Base(f.Path),
			Message:  fmt.Sprintf("failed to load Datalog rule file: %v", f.Err),
			Severity: rules.SeverityError,
		})
	}

	findings = r.filterAsOf(findings)
	findings = rules.Dedupe(findings)
	rules.Sort(findings)

	if !r.opts.NoBaseline {
		findings, err = r.filterBaseline(findings)
		if err != nil {
			return nil, err
		}
	}

	return &RunResult{
		RunID:    uuid.NewString(),
		Findings: findings,
		Stats: Stats{
			Facts:        factCount,
			DatalogRules: loadedRules,
		},
	}, nil
}

// datalogFindings converts derived violation atoms into findings, honoring
// inline suppressions on the cited line.
func (r *Runner) datalogFindings(engine *kernel.Engine) ([]rules.Finding, error) {
	violations, err := engine.Violations()
	if err != nil {
		return nil, fmt.Errorf("collect violations: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var findings []rules.Finding
	for _, v := range violations {
		if len(v.Args) != 6 {
			logging.Kernel("ignoring malformed violation fact: %v", v.Args)
			continue
		}
		f := rules.Finding{
			RuleID:   argString(v.Args[0]),
			File:     argString(v.Args[1]),
			Line:     argInt(v.Args[2]),
			Symbol:   argString(v.Args[3]),
			Message:  argString(v.Args[4]),
			Severity: argSeverity(v.Args[5]),
		}
		if r.cfg.RuleDisabled(f.RuleID) {
			continue
		}
		if model, ok := r.models[f.File]; ok && model.Suppressed(f.Line, f.RuleID) {
			continue
		}
		if override, ok := r.cfg.Rules.Severity[f.RuleID]; ok {
			if sev, ok := rules.ParseSeverity(override); ok {
				f.Severity = sev
			}
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// filterAsOf drops findings from rules adopted after the cutoff date.
func (r *Runner) filterAsOf(findings []rules.Finding) []rules.Finding {
	if r.opts.AsOf.IsZero() || r.document == nil {
		return findings
	}
	kept := findings[:0]
	for _, f := range findings {
		if r.document.AdoptedAfter(f.RuleID, r.opts.AsOf) {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// filterBaseline removes accepted findings when a baseline database exists.
func (r *Runner) filterBaseline(findings []rules.Finding) ([]rules.Finding, error) {
	dbPath := filepath.Join(r.workspace, r.cfg.Baseline.DatabasePath)
	if _, err := os.Stat(dbPath); err != nil {
		return findings, nil
	}
	store, err := baseline.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open baseline: %w", err)
	}
	defer store.Close()
	return store.Filter(findings)
}

// ExitCode maps a run to the process exit code: 0 clean, 1 findings.
func (r *RunResult) ExitCode() int {
	if len(r.Findings) > 0 {
		return 1
	}
	return 0
}

func argString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimPrefix(s, "/")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func argInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func argSeverity(v any) rules.Severity {
	if sev, ok := rules.ParseSeverity(argString(v)); ok {
		return sev
	}
	return rules.SeverityWarning
}
