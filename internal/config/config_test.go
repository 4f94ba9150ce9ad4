package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), DefaultFileName))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rules.TestNameParts != 3 {
		t.Fatalf("TestNameParts = %d, want 3", cfg.Rules.TestNameParts)
	}
	if cfg.Output.Format != "text" {
		t.Fatalf("Format = %q, want text", cfg.Output.Format)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	ws := t.TempDir()
	yml := `
rules:
  disabled: [tests/aaa-comments]
  test_name_parts: 2
  severity:
    exception/no-empty-catch: error
output:
  format: json
`
	path := filepath.Join(ws, DefaultFileName)
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.RuleDisabled("tests/aaa-comments") {
		t.Fatalf("expected tests/aaa-comments disabled")
	}
	if cfg.RuleDisabled("naming/try-validate") {
		t.Fatalf("naming/try-validate should not be disabled")
	}
	if cfg.Rules.TestNameParts != 2 {
		t.Fatalf("TestNameParts = %d, want 2", cfg.Rules.TestNameParts)
	}
	if got := cfg.Rules.Severity["exception/no-empty-catch"]; got != "error" {
		t.Fatalf("severity override = %q, want error", got)
	}
	if cfg.Output.Format != "json" {
		t.Fatalf("Format = %q, want json", cfg.Output.Format)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONVLINT_FORMAT", "sarif")
	t.Setenv("CONVLINT_WORKERS", "2")

	cfg, err := Load(filepath.Join(t.TempDir(), DefaultFileName))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output.Format != "sarif" {
		t.Fatalf("Format = %q, want sarif", cfg.Output.Format)
	}
	if cfg.Scanner.Workers != 2 {
		t.Fatalf("Workers = %d, want 2", cfg.Scanner.Workers)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	ws := t.TempDir()
	cfg := DefaultConfig()
	cfg.Output.Format = "json"

	path := filepath.Join(ws, DefaultFileName)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Output.Format != "json" {
		t.Fatalf("round trip lost format: %q", loaded.Output.Format)
	}
}
