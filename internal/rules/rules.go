// Package rules holds the built-in convention checks and the registry
// that runs them against parsed source files.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"convlint/internal/config"
	"convlint/internal/logging"
	"convlint/internal/syntax"
)

// Severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ParseSeverity maps a config string to a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(s) {
	case "error":
		return SeverityError, true
	case "warning", "warn":
		return SeverityWarning, true
	case "info":
		return SeverityInfo, true
	}
	return "", false
}

// Rank orders severities for sorting, highest first.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// Finding is a single convention violation.
type Finding struct {
	RuleID   string   `json:"rule_id"`
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Symbol   string   `json:"symbol"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Fingerprint is a stable identity for baseline matching. The line number is
// deliberately excluded so findings survive unrelated edits above them.
func (f Finding) Fingerprint() string {
	h := sha256.Sum256([]byte(f.RuleID + "|" + f.File + "|" + f.Symbol + "|" + f.Message))
	return hex.EncodeToString(h[:])
}

func (f Finding) String() string {
	return fmt.Sprintf("%s:%d: [%s] %s", f.File, f.Line, f.RuleID, f.Message)
}

// Rule checks one convention against a parsed file.
type Rule interface {
	ID() string
	Title() string
	Severity() Severity
	// DocAnchor is the rule anchor used in the convention document.
	DocAnchor() string
	Check(f *syntax.File) []Finding
}

// baseRule carries the metadata shared by the built-in rules.
type baseRule struct {
	id       string
	title    string
	severity Severity
}

func (b baseRule) ID() string         { return b.id }
func (b baseRule) Title() string      { return b.title }
func (b baseRule) Severity() Severity { return b.severity }
func (b baseRule) DocAnchor() string  { return b.id }

// Registry holds the active rule set with config overrides applied.
type Registry struct {
	cfg   config.RulesConfig
	rules []Rule
}

// NewRegistry builds the registry of built-in rules, dropping disabled ones.
func NewRegistry(cfg config.RulesConfig) *Registry {
	r := &Registry{cfg: cfg}
	for _, rule := range builtins(cfg) {
		if r.disabled(rule.ID()) {
			logging.RulesDebug("rule %s disabled by config", rule.ID())
			continue
		}
		r.rules = append(r.rules, rule)
	}
	return r
}

func builtins(cfg config.RulesConfig) []Rule {
	return []Rule{
		&tryValidateRule{baseRule{"naming/try-validate", "Bool-returning validators are named TryValidate*", SeverityWarning}},
		&asyncSuffixRule{baseRule{"naming/async-suffix", "Async methods end in Async", SeverityWarning}},
		&emptyCatchRule{baseRule{"exception/no-empty-catch", "Catch blocks must not be empty", SeverityError}},
		&rethrowBareRule{baseRule{"exception/rethrow-bare", "Rethrow with throw; to keep the stack trace", SeverityError}},
		&exceptionSuffixRule{baseRule{"exception/name-suffix", "Exception types end in Exception", SeverityWarning}},
		&bareExceptionRule{baseRule{"exception/no-bare-exception", "Catching Exception requires logging or rethrow", SeverityWarning}},
		&testNamePartsRule{baseRule{"tests/name-parts", "Test names follow Member_Scenario_Expectation", SeverityWarning}, cfg.TestNameParts},
		&aaaCommentsRule{baseRule{"tests/aaa-comments", "Tests carry Arrange/Act/Assert comments", SeverityInfo}},
		&actionVerbRule{baseRule{"webapi/action-verb", "Controller actions declare an HTTP verb attribute", SeverityWarning}},
		&controllerAttrsRule{baseRule{"webapi/controller-attributes", "Controllers carry [ApiController] and [Route]", SeverityWarning}},
	}
}

// Register adds a rule loaded from outside the built-in set, typically a
// plugin. Disabled IDs are still honored.
func (r *Registry) Register(rule Rule) {
	if r.disabled(rule.ID()) {
		logging.RulesDebug("plugin rule %s disabled by config", rule.ID())
		return
	}
	r.rules = append(r.rules, rule)
}

// Rules returns the active rules sorted by ID.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Rule looks up an active rule by ID.
func (r *Registry) Rule(id string) (Rule, bool) {
	for _, rule := range r.rules {
		if rule.ID() == id {
			return rule, true
		}
	}
	return nil, false
}

// Check runs every active rule over the file, honoring inline suppressions
// and severity overrides from config.
func (r *Registry) Check(f *syntax.File) []Finding {
	var findings []Finding
	for _, rule := range r.rules {
		for _, finding := range rule.Check(f) {
			if f.Suppressed(finding.Line, finding.RuleID) {
				logging.RulesDebug("%s suppressed at %s:%d", finding.RuleID, f.Path, finding.Line)
				continue
			}
			if sev, ok := r.severityOverride(finding.RuleID); ok {
				finding.Severity = sev
			}
			findings = append(findings, finding)
		}
	}
	return findings
}

func (r *Registry) disabled(id string) bool {
	for _, d := range r.cfg.Disabled {
		if d == id {
			return true
		}
	}
	return false
}

func (r *Registry) severityOverride(id string) (Severity, bool) {
	raw, ok := r.cfg.Severity[id]
	if !ok {
		return "", false
	}
	return ParseSeverity(raw)
}

// Sort orders findings by file, line, then rule ID for stable output.
func Sort(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.RuleID < b.RuleID
	})
}

// Dedupe removes findings with identical fingerprints and lines, keeping the
// first occurrence. Datalog and Go rules can overlap on user-defined rules.
func Dedupe(findings []Finding) []Finding {
	seen := make(map[string]bool, len(findings))
	out := findings[:0]
	for _, f := range findings {
		key := fmt.Sprintf("%s:%d", f.Fingerprint(), f.Line)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
