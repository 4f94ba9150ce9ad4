package scan

import (
	"os"
	"path/filepath"
	"testing"

	"convlint/internal/config"
)

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**/*.cs", "Program.cs", true},
		{"**/*.cs", "src/Api/Program.cs", true},
		{"**/*.cs", "src/Api/Program.fs", false},
		{"bin/**", "bin/Debug/App.dll", true},
		{"bin/**", "src/bin.cs", false},
		{"**/Migrations/**", "src/Data/Migrations/Init.cs", true},
		{"**/Migrations/**", "src/Data/Init.cs", false},
		{"obj/**", "obj/", true},
		{"*.cs", "Program.cs", true},
		{"*.cs", "src/Program.cs", false},
	}
	for _, tt := range tests {
		if got := matchGlob(tt.pattern, tt.path); got != tt.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestIsTestFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"src/Services/StudentService.cs", false},
		{"src/Services/StudentServiceTests.cs", true},
		{"src/Services/StudentServiceTest.cs", true},
		{"School.Api.Tests/StudentControllerTests.cs", true},
		{"tests/Helpers.cs", true},
		{"src/Contest.cs", false},
	}
	for _, tt := range tests {
		if got := IsTestFile(tt.path); got != tt.want {
			t.Errorf("IsTestFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func defaultScannerConfig() config.ScannerConfig {
	return config.DefaultConfig().Scanner
}

func TestScanWorkspace(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/Program.cs", "class Program { }")
	writeFile(t, root, "src/Services/StudentService.cs", "class StudentService { }")
	writeFile(t, root, "tests/StudentServiceTests.cs", "class StudentServiceTests { }")
	writeFile(t, root, "bin/Debug/Generated.cs", "class Generated { }")
	writeFile(t, root, "README.md", "# readme")
	writeFile(t, root, ".git/config", "[core]")

	s := NewScanner(defaultScannerConfig())
	result, err := s.ScanWorkspace(root)
	if err != nil {
		t.Fatalf("ScanWorkspace: %v", err)
	}

	if len(result.Files) != 3 {
		t.Fatalf("got %d files, want 3: %+v", len(result.Files), result.Files)
	}

	byPath := map[string]SourceFile{}
	for _, f := range result.Files {
		byPath[f.Path] = f
		if f.Hash == "" {
			t.Errorf("%s has empty hash", f.Path)
		}
	}
	if _, ok := byPath["bin/Debug/Generated.cs"]; ok {
		t.Error("bin/ should be excluded")
	}
	if !byPath["tests/StudentServiceTests.cs"].IsTest {
		t.Error("tests/StudentServiceTests.cs should be a test file")
	}
	if byPath["src/Program.cs"].IsTest {
		t.Error("src/Program.cs should not be a test file")
	}
}

func TestScanWorkspaceCacheHits(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/Program.cs", "class Program { }")

	s := NewScanner(defaultScannerConfig())
	if _, err := s.ScanWorkspace(root); err != nil {
		t.Fatal(err)
	}

	result, err := s.ScanWorkspace(root)
	if err != nil {
		t.Fatal(err)
	}
	if result.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", result.CacheHits)
	}
}

func TestFileCacheInvalidation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.cs", "one")

	cache := NewFileCache(root)
	full := filepath.Join(root, "a.cs")
	info, _ := os.Stat(full)
	cache.Update(full, info, "hash-one")
	if err := cache.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded := NewFileCache(root)
	if h, ok := reloaded.Get(full, info); !ok || h != "hash-one" {
		t.Fatalf("Get = %q, %v after reload", h, ok)
	}

	// Changing the content length must invalidate the entry.
	writeFile(t, root, "a.cs", "two plus more")
	info2, _ := os.Stat(full)
	if _, ok := reloaded.Get(full, info2); ok {
		t.Error("cache should miss after size change")
	}
}

func TestResultFacts(t *testing.T) {
	r := &Result{Files: []SourceFile{
		{Path: "src/A.cs", Hash: "abc", ModTime: 100, IsTest: false},
		{Path: "tests/ATests.cs", Hash: "def", ModTime: 200, IsTest: true},
	}}

	facts := r.Facts()
	if len(facts) != 2 {
		t.Fatalf("got %d facts", len(facts))
	}
	if facts[0].Predicate != "file_topology" {
		t.Fatalf("predicate = %q", facts[0].Predicate)
	}
	if facts[0].Args[0] != "src/A.cs" || facts[0].Args[4] != "/false" {
		t.Errorf("unexpected args: %v", facts[0].Args)
	}
	if facts[1].Args[4] != "/true" {
		t.Errorf("test flag not set: %v", facts[1].Args)
	}
}
