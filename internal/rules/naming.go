package rules

import (
	"fmt"
	"strings"

	"convlint/internal/syntax"
)

// tryValidateRule enforces the validation naming split: methods that report
// validity as a bool are TryValidate*, methods that throw are Validate*.
type tryValidateRule struct{ baseRule }

func (r *tryValidateRule) Check(f *syntax.File) []Finding {
	var findings []Finding
	for _, m := range f.AllMethods() {
		switch {
		case strings.HasPrefix(m.Name, "TryValidate"):
			if !m.ReturnsBool() {
				findings = append(findings, Finding{
					RuleID: r.id, File: f.Path, Line: m.Line, Symbol: m.ID(),
					Message:  fmt.Sprintf("%s does not return bool; throwing validators are named Validate%s", m.Name, strings.TrimPrefix(m.Name, "TryValidate")),
					Severity: r.severity,
				})
			}
		case strings.HasPrefix(m.Name, "Validate"):
			if m.ReturnsBool() {
				findings = append(findings, Finding{
					RuleID: r.id, File: f.Path, Line: m.Line, Symbol: m.ID(),
					Message:  fmt.Sprintf("%s returns bool; bool-returning validators are named Try%s", m.Name, m.Name),
					Severity: r.severity,
				})
			}
		}
	}
	return findings
}

// asyncSuffixRule requires async methods to end in Async.
type asyncSuffixRule struct{ baseRule }

func (r *asyncSuffixRule) Check(f *syntax.File) []Finding {
	var findings []Finding
	for _, m := range f.AllMethods() {
		if !m.IsAsync() || strings.HasSuffix(m.Name, "Async") {
			continue
		}
		// Entry points and test methods keep their natural names.
		if m.Name == "Main" || isTestMethod(m) {
			continue
		}
		// Controller actions are routed by name; the suffix is not idiomatic there.
		if m.Class != nil && isController(m.Class) {
			continue
		}
		findings = append(findings, Finding{
			RuleID: r.id, File: f.Path, Line: m.Line, Symbol: m.ID(),
			Message:  fmt.Sprintf("async method %s should be named %sAsync", m.Name, m.Name),
			Severity: r.severity,
		})
	}
	return findings
}

var testAttributes = []string{"Fact", "Theory", "Test", "TestMethod", "TestCase"}

func isTestMethod(m *syntax.Method) bool {
	for _, attr := range testAttributes {
		if m.HasAttribute(attr) {
			return true
		}
	}
	return false
}
