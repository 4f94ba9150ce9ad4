package rules

import (
	"fmt"
	"strings"

	"convlint/internal/syntax"
)

// testNamePartsRule checks the Member_Scenario_Expectation naming shape on
// attributed test methods.
type testNamePartsRule struct {
	baseRule
	parts int
}

func (r *testNamePartsRule) Check(f *syntax.File) []Finding {
	want := r.parts
	if want <= 0 {
		want = 3
	}
	var findings []Finding
	for _, m := range f.AllMethods() {
		if !isTestMethod(m) {
			continue
		}
		got := len(strings.Split(m.Name, "_"))
		if got >= want {
			continue
		}
		findings = append(findings, Finding{
			RuleID: r.id, File: f.Path, Line: m.Line, Symbol: m.ID(),
			Message:  fmt.Sprintf("test name %s has %d underscore-separated parts, want %d (Member_Scenario_Expectation)", m.Name, got, want),
			Severity: r.severity,
		})
	}
	return findings
}

// aaaCommentsRule looks for the arrange/act/assert section comments inside
// test method bodies.
type aaaCommentsRule struct{ baseRule }

func (r *aaaCommentsRule) Check(f *syntax.File) []Finding {
	var findings []Finding
	for _, m := range f.AllMethods() {
		if !isTestMethod(m) {
			continue
		}
		body := methodLines(f, m)
		var missing []string
		for _, section := range []string{"arrange", "act", "assert"} {
			if !hasSectionComment(body, section) {
				missing = append(missing, section)
			}
		}
		if len(missing) == 0 {
			continue
		}
		findings = append(findings, Finding{
			RuleID: r.id, File: f.Path, Line: m.Line, Symbol: m.ID(),
			Message:  fmt.Sprintf("test %s is missing section comments: %s", m.Name, strings.Join(missing, ", ")),
			Severity: r.severity,
		})
	}
	return findings
}

// methodLines returns the source lines from the method's declaration to the
// next declaration in the file. Good enough for comment scanning.
func methodLines(f *syntax.File, m *syntax.Method) []string {
	end := f.LineCount()
	for _, other := range f.AllMethods() {
		if other.Line > m.Line && other.Line-1 < end {
			end = other.Line - 1
		}
	}
	var lines []string
	for n := m.Line; n <= end; n++ {
		lines = append(lines, f.Line(n))
	}
	return lines
}

func hasSectionComment(lines []string, section string) bool {
	for _, line := range lines {
		idx := strings.Index(line, "//")
		if idx < 0 {
			continue
		}
		comment := strings.ToLower(strings.TrimSpace(line[idx+2:]))
		if comment == section || strings.HasPrefix(comment, section+" ") {
			return true
		}
	}
	return false
}
