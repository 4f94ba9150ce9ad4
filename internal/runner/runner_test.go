package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"convlint/internal/baseline"
	"convlint/internal/config"
	"convlint/internal/rules"
)

const workerSource = `using System;

namespace Workers
{
    public class Worker
    {
        public void Run()
        {
            try { Step(); }
            catch (IOException) { }
        }

        public async Task Load() { await Step(); }
    }
}
`

const cleanSource = `using System;

namespace Workers
{
    public class Helper
    {
        public void Assist() { }
    }
}
`

func writeWorkspaceFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestRunner(t *testing.T, root string, opts Options) *Runner {
	t.Helper()
	r, err := New(root, config.DefaultConfig(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func ruleIDs(findings []rules.Finding) map[string]int {
	out := map[string]int{}
	for _, f := range findings {
		out[f.RuleID]++
	}
	return out
}

func TestRun(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/Worker.cs", workerSource)
	writeWorkspaceFile(t, root, "src/Helper.cs", cleanSource)

	r := newTestRunner(t, root, Options{})
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.RunID == "" {
		t.Error("missing run ID")
	}
	if result.Stats.FilesScanned != 2 || result.Stats.FilesParsed != 2 {
		t.Errorf("stats = %+v", result.Stats)
	}
	if result.Stats.Facts == 0 {
		t.Error("no facts extracted")
	}

	got := ruleIDs(result.Findings)
	if got["exception/no-empty-catch"] != 1 {
		t.Errorf("findings = %v", got)
	}
	if got["naming/async-suffix"] != 1 {
		t.Errorf("findings = %v", got)
	}
	if result.ExitCode() != 1 {
		t.Errorf("ExitCode = %d, want 1", result.ExitCode())
	}
}

func TestRunCleanWorkspace(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/Helper.cs", cleanSource)

	r := newTestRunner(t, root, Options{})
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Findings) != 0 {
		t.Fatalf("findings = %v", result.Findings)
	}
	if result.ExitCode() != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode())
	}
}

func TestRunWithDatalogRule(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/Legacy.cs", `using System.Web;

public class Legacy { }
`)
	writeWorkspaceFile(t, root, ".convlint/rules/legacy.mg",
		`violation("custom/no-system-web", File, 0, "System.Web", "System.Web is legacy; migrate to ASP.NET Core", /warning) :- cs_using(File, "System.Web").
`)

	r := newTestRunner(t, root, Options{})
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.DatalogRules != 1 {
		t.Errorf("DatalogRules = %d", result.Stats.DatalogRules)
	}

	got := ruleIDs(result.Findings)
	if got["custom/no-system-web"] != 1 {
		t.Fatalf("findings = %v", got)
	}
	for _, f := range result.Findings {
		if f.RuleID == "custom/no-system-web" && f.Severity != rules.SeverityWarning {
			t.Errorf("severity = %q", f.Severity)
		}
	}
}

func TestRunBadDatalogRuleFile(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/Helper.cs", cleanSource)
	writeWorkspaceFile(t, root, ".convlint/rules/broken.mg", "this is (not mangle\n")

	r := newTestRunner(t, root, Options{})
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	got := ruleIDs(result.Findings)
	if got["kernel/rule-load"] != 1 {
		t.Fatalf("findings = %v", got)
	}
	for _, f := range result.Findings {
		if f.RuleID != "kernel/rule-load" {
			continue
		}
		if f.Severity != rules.SeverityError {
			t.Errorf("severity = %q", f.Severity)
		}
		if f.File != ".convlint/rules/broken.mg" {
			t.Errorf("file = %q", f.File)
		}
	}
	if result.ExitCode() != 1 {
		t.Errorf("ExitCode = %d, want 1", result.ExitCode())
	}
}

func TestDatalogFindingHonorsConfig(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/Legacy.cs", `using System.Web;

public class Legacy { }
`)
	writeWorkspaceFile(t, root, ".convlint/rules/legacy.mg",
		`violation("custom/no-system-web", File, 0, "System.Web", "System.Web is legacy", /warning) :- cs_using(File, "System.Web").
`)

	cfg := config.DefaultConfig()
	cfg.Rules.Disabled = []string{"custom/no-system-web"}
	r, err := New(root, cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := ruleIDs(result.Findings); got["custom/no-system-web"] != 0 {
		t.Fatalf("disabled Datalog rule still reported: %v", got)
	}

	cfg = config.DefaultConfig()
	cfg.Rules.Severity = map[string]string{"custom/no-system-web": "error"}
	r, err = New(root, cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	result, err = r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range result.Findings {
		if f.RuleID == "custom/no-system-web" {
			found = true
			if f.Severity != rules.SeverityError {
				t.Errorf("severity = %q, want error", f.Severity)
			}
		}
	}
	if !found {
		t.Fatal("expected custom/no-system-web finding")
	}
}

func TestRunParseErrorDoesNotAbort(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/Broken.cs", "public class Broken { public void Bad( {")
	writeWorkspaceFile(t, root, "src/Worker.cs", workerSource)

	r := newTestRunner(t, root, Options{})
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("broken file should not abort the run: %v", err)
	}
	if result.Stats.ParseErrors == 0 {
		t.Error("expected parse errors to be counted")
	}
	got := ruleIDs(result.Findings)
	if got["exception/no-empty-catch"] != 1 {
		t.Errorf("healthy file findings lost: %v", got)
	}
	if got["syntax/parse-error"] != 1 {
		t.Errorf("broken file not reported: %v", got)
	}
	for _, f := range result.Findings {
		if f.RuleID == "syntax/parse-error" && f.File != "src/Broken.cs" {
			t.Errorf("parse-error file = %q", f.File)
		}
	}
}

func TestLintFilesAfterEdit(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/Worker.cs", workerSource)

	r := newTestRunner(t, root, Options{})
	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := ruleIDs(first.Findings); got["exception/no-empty-catch"] != 1 {
		t.Fatalf("initial findings = %v", got)
	}

	// Fix the empty catch and re-lint just that file.
	writeWorkspaceFile(t, root, "src/Worker.cs", cleanSource)
	second, err := r.LintFiles(context.Background(), []string{"src/Worker.cs"})
	if err != nil {
		t.Fatal(err)
	}
	if got := ruleIDs(second.Findings); got["exception/no-empty-catch"] != 0 {
		t.Fatalf("stale findings survived re-lint: %v", got)
	}
}

func TestLintFilesRemovesDeleted(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/Worker.cs", workerSource)

	r := newTestRunner(t, root, Options{})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(root, "src/Worker.cs")); err != nil {
		t.Fatal(err)
	}
	result, err := r.LintFiles(context.Background(), []string{"src/Worker.cs"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Findings) != 0 {
		t.Fatalf("findings for deleted file: %v", result.Findings)
	}
}

func TestAsOfFiltering(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/Worker.cs", workerSource)
	writeWorkspaceFile(t, root, "CONVENTIONS.md", `# Conventions

## 2024-05-01 — Exception handling
<!-- rule: exception/no-empty-catch -->

No empty catch blocks.
`)

	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRunner(t, root, Options{AsOf: cutoff})
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	got := ruleIDs(result.Findings)
	if got["exception/no-empty-catch"] != 0 {
		t.Errorf("rule adopted 2024-05-01 should be inactive as of 2024-01-01: %v", got)
	}
	// Unanchored rules still apply.
	if got["naming/async-suffix"] != 1 {
		t.Errorf("findings = %v", got)
	}
}

func TestBaselineFiltering(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/Worker.cs", workerSource)
	cfg := config.DefaultConfig()

	r, err := New(root, cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Findings) == 0 {
		t.Fatal("expected findings before baselining")
	}

	store, err := baseline.Open(filepath.Join(root, cfg.Baseline.DatabasePath))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Update(first.Findings); err != nil {
		t.Fatal(err)
	}
	store.Close()

	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Findings) != 0 {
		t.Fatalf("baselined findings survived: %v", second.Findings)
	}

	// NoBaseline bypasses the store.
	r2, err := New(root, cfg, Options{NoBaseline: true})
	if err != nil {
		t.Fatal(err)
	}
	third, err := r2.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(third.Findings) == 0 {
		t.Fatal("NoBaseline should skip filtering")
	}
}
