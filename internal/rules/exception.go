package rules

import (
	"fmt"
	"strings"

	"convlint/internal/syntax"
)

// emptyCatchRule flags catch blocks with no statements at all.
type emptyCatchRule struct{ baseRule }

func (r *emptyCatchRule) Check(f *syntax.File) []Finding {
	var findings []Finding
	for _, m := range f.AllMethods() {
		for _, c := range m.Catches {
			if !c.Empty {
				continue
			}
			findings = append(findings, Finding{
				RuleID: r.id, File: f.Path, Line: c.Line, Symbol: m.ID(),
				Message:  "empty catch block swallows the exception; log or rethrow",
				Severity: r.severity,
			})
		}
	}
	return findings
}

// rethrowBareRule flags `throw ex;`, which resets the stack trace.
type rethrowBareRule struct{ baseRule }

func (r *rethrowBareRule) Check(f *syntax.File) []Finding {
	var findings []Finding
	for _, m := range f.AllMethods() {
		for _, c := range m.Catches {
			if c.Rethrow != syntax.RethrowExpression {
				continue
			}
			findings = append(findings, Finding{
				RuleID: r.id, File: f.Path, Line: c.Line, Symbol: m.ID(),
				Message:  "rethrow with `throw;` to preserve the original stack trace",
				Severity: r.severity,
			})
		}
	}
	return findings
}

// exceptionSuffixRule requires types deriving from an exception type to carry
// the Exception suffix themselves.
type exceptionSuffixRule struct{ baseRule }

func (r *exceptionSuffixRule) Check(f *syntax.File) []Finding {
	var findings []Finding
	for _, c := range f.Classes {
		if c.Kind != "class" || strings.HasSuffix(c.Name, "Exception") {
			continue
		}
		for _, base := range c.Bases {
			if strings.HasSuffix(base, "Exception") {
				findings = append(findings, Finding{
					RuleID: r.id, File: f.Path, Line: c.Line, Symbol: c.ID(),
					Message:  fmt.Sprintf("%s derives from %s and should be named %sException", c.Name, base, c.Name),
					Severity: r.severity,
				})
				break
			}
		}
	}
	return findings
}

// bareExceptionRule flags catching System.Exception without doing anything
// observable with it.
type bareExceptionRule struct{ baseRule }

func (r *bareExceptionRule) Check(f *syntax.File) []Finding {
	var findings []Finding
	for _, m := range f.AllMethods() {
		for _, c := range m.Catches {
			if c.ExceptionType != "Exception" && c.ExceptionType != "System.Exception" {
				continue
			}
			// Empty handlers are the no-empty-catch rule's problem.
			if c.Empty || c.Rethrow != syntax.RethrowNone || c.HasInvocation {
				continue
			}
			findings = append(findings, Finding{
				RuleID: r.id, File: f.Path, Line: c.Line, Symbol: m.ID(),
				Message:  "catching Exception without logging or rethrowing hides failures; catch a specific type",
				Severity: r.severity,
			})
		}
	}
	return findings
}
