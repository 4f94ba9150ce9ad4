package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"convlint/internal/rules"
	"convlint/internal/syntax"
)

const repoScript = `package main

func RuleDefinitions() []map[string]any {
	return []map[string]any{
		{
			"id":             "team/repository-suffix",
			"title":          "Repository classes end in Repository",
			"target":         "class",
			"name_pattern":   ".*Repo$",
			"require_suffix": "Repository",
			"severity":       "warning",
		},
		{
			"id":             "team/no-handler-prefix",
			"title":          "Methods must not start with Handle",
			"forbid_pattern": "^Handle[A-Z]",
			"severity":       "info",
			"message":        "use an imperative verb instead of Handle*",
		},
	}
}
`

func writeScript(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func parseSource(t *testing.T, src string) *syntax.File {
	t.Helper()
	p := syntax.NewParser()
	defer p.Close()
	f, err := p.Parse(context.Background(), "Sample.cs", []byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "team.go", repoScript)

	loaded, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("got %d rules, want 2", len(loaded))
	}
	if loaded[0].ID() != "team/no-handler-prefix" || loaded[1].ID() != "team/repository-suffix" {
		t.Fatalf("unexpected rule order: %s, %s", loaded[0].ID(), loaded[1].ID())
	}
}

func TestLoadDirMissing(t *testing.T) {
	loaded, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if loaded != nil {
		t.Fatalf("got %v, want nil", loaded)
	}
}

func TestLoadDirRejectsBadDefinition(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "bad.go", `package main

func RuleDefinitions() []map[string]any {
	return []map[string]any{{"id": "team/empty"}}
}
`)
	if _, err := LoadDir(dir); err == nil {
		t.Fatal("definition without any requirement should be rejected")
	}
}

func TestPluginRuleCheck(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "team.go", repoScript)

	loaded, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	src := `public class StudentRepo
{
    public void HandleSave(Student s) { }
    public void Save(Student s) { }
}
`
	f := parseSource(t, src)

	var all []rules.Finding
	for _, rule := range loaded {
		all = append(all, rule.Check(f)...)
	}
	if len(all) != 2 {
		t.Fatalf("got %d findings, want 2: %v", len(all), all)
	}

	byRule := map[string]rules.Finding{}
	for _, finding := range all {
		byRule[finding.RuleID] = finding
	}
	if f, ok := byRule["team/repository-suffix"]; !ok || f.Symbol != "class:StudentRepo" {
		t.Errorf("repository-suffix finding = %+v", f)
	}
	if f, ok := byRule["team/no-handler-prefix"]; !ok || f.Message != "use an imperative verb instead of Handle*" {
		t.Errorf("no-handler-prefix finding = %+v", f)
	}
}
