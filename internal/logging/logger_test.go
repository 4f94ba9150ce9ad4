package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetForTest() {
	CloseAll()
	logsDir = ""
	optsMu.Lock()
	opts = Options{}
	logLevel = LevelInfo
	optsMu.Unlock()
}

func TestInitializeDisabledIsNoOp(t *testing.T) {
	defer resetForTest()
	ws := t.TempDir()

	if err := Initialize(ws, Options{Debug: false}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Scan("should not be written")
	if _, err := os.Stat(filepath.Join(ws, ".convlint", "logs")); !os.IsNotExist(err) {
		t.Fatalf("logs directory should not exist in disabled mode")
	}
}

func TestInitializeWritesCategoryFile(t *testing.T) {
	defer resetForTest()
	ws := t.TempDir()

	if err := Initialize(ws, Options{Debug: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Kernel("fact store ready")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(ws, ".convlint", "logs"))
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}
	var found bool
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_kernel.log") {
			found = true
			data, err := os.ReadFile(filepath.Join(ws, ".convlint", "logs", e.Name()))
			if err != nil {
				t.Fatalf("read log: %v", err)
			}
			if !strings.Contains(string(data), "fact store ready") {
				t.Fatalf("log missing message: %s", data)
			}
		}
	}
	if !found {
		t.Fatalf("expected kernel log file, got %v", entries)
	}
}

func TestCategoryFilter(t *testing.T) {
	defer resetForTest()
	ws := t.TempDir()

	err := Initialize(ws, Options{
		Debug:      true,
		Level:      "debug",
		Categories: map[string]bool{"scan": false},
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if IsCategoryEnabled(CategoryScan) {
		t.Fatalf("scan should be disabled")
	}
	if !IsCategoryEnabled(CategoryRules) {
		t.Fatalf("rules should default to enabled")
	}
}

func TestLevelGating(t *testing.T) {
	defer resetForTest()
	ws := t.TempDir()

	if err := Initialize(ws, Options{Debug: true, Level: "error"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	l := Get(CategoryRules)
	l.Info("not written")
	l.Error("written")
	CloseAll()

	entries, _ := os.ReadDir(filepath.Join(ws, ".convlint", "logs"))
	for _, e := range entries {
		data, _ := os.ReadFile(filepath.Join(ws, ".convlint", "logs", e.Name()))
		if strings.Contains(string(data), "not written") {
			t.Fatalf("info should be gated at error level")
		}
	}
}
