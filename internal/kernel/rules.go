package kernel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"convlint/internal/logging"
)

// RuleFileError records a custom rule file that failed to load.
type RuleFileError struct {
	Path string
	Err  error
}

func (r RuleFileError) Error() string {
	return fmt.Sprintf("%s: %v", r.Path, r.Err)
}

// LoadRuleDir loads every .mg file in dir as additional rules. A file that
// fails to parse or analyze is reported but does not abort loading of the
// rest; the engine stays usable either way.
func (e *Engine) LoadRuleDir(dir string) (loaded []string, failed []RuleFileError, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read rule dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mg") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			failed = append(failed, RuleFileError{Path: path, Err: readErr})
			continue
		}
		if loadErr := e.LoadSchemaString(string(data)); loadErr != nil {
			logging.Get(logging.CategoryKernel).Warn("rule file %s rejected: %v", path, loadErr)
			failed = append(failed, RuleFileError{Path: path, Err: loadErr})
			continue
		}
		logging.Kernel("loaded rule file %s", path)
		loaded = append(loaded, path)
	}
	return loaded, failed, nil
}

// Violations returns all derived violation facts.
// violation(Rule, File, Line, Symbol, Message, Severity)
func (e *Engine) Violations() ([]Fact, error) {
	return e.GetFacts("violation")
}
