package rules

import (
	"fmt"
	"strings"

	"convlint/internal/syntax"
)

var httpVerbAttributes = []string{
	"HttpGet", "HttpPost", "HttpPut", "HttpDelete",
	"HttpPatch", "HttpHead", "HttpOptions",
}

// isController recognizes ASP.NET controller classes by suffix or base type.
func isController(c *syntax.Class) bool {
	if c.Kind != "class" {
		return false
	}
	if strings.HasSuffix(c.Name, "Controller") {
		return true
	}
	for _, base := range c.Bases {
		if base == "Controller" || base == "ControllerBase" ||
			strings.HasSuffix(base, ".Controller") || strings.HasSuffix(base, ".ControllerBase") {
			return true
		}
	}
	return false
}

// actionVerbRule requires public controller actions to carry an HTTP verb
// attribute so routing is explicit.
type actionVerbRule struct{ baseRule }

func (r *actionVerbRule) Check(f *syntax.File) []Finding {
	var findings []Finding
	for _, c := range f.Classes {
		if !isController(c) || hasModifierString(c.Modifiers, "abstract") {
			continue
		}
		for _, m := range c.Methods {
			if !m.IsPublic() || m.IsStatic() || m.Name == c.Name {
				continue
			}
			if m.HasAttribute("NonAction") {
				continue
			}
			if hasAnyAttribute(m, httpVerbAttributes) {
				continue
			}
			findings = append(findings, Finding{
				RuleID: r.id, File: f.Path, Line: m.Line, Symbol: m.ID(),
				Message:  fmt.Sprintf("action %s has no HTTP verb attribute; add [HttpGet], [HttpPost], ... or mark it [NonAction]", m.Name),
				Severity: r.severity,
			})
		}
	}
	return findings
}

// controllerAttrsRule requires [ApiController] and [Route] on concrete
// public controllers.
type controllerAttrsRule struct{ baseRule }

func (r *controllerAttrsRule) Check(f *syntax.File) []Finding {
	var findings []Finding
	for _, c := range f.Classes {
		if !isController(c) || !c.IsPublic() || hasModifierString(c.Modifiers, "abstract") {
			continue
		}
		var missing []string
		if !c.HasAttribute("ApiController") {
			missing = append(missing, "[ApiController]")
		}
		if !c.HasAttribute("Route") {
			missing = append(missing, "[Route]")
		}
		if len(missing) == 0 {
			continue
		}
		findings = append(findings, Finding{
			RuleID: r.id, File: f.Path, Line: c.Line, Symbol: c.ID(),
			Message:  fmt.Sprintf("controller %s is missing %s", c.Name, strings.Join(missing, " and ")),
			Severity: r.severity,
		})
	}
	return findings
}

func hasAnyAttribute(m *syntax.Method, names []string) bool {
	for _, name := range names {
		if m.HasAttribute(name) {
			return true
		}
	}
	return false
}

func hasModifierString(mods []string, want string) bool {
	for _, m := range mods {
		if m == want {
			return true
		}
	}
	return false
}
