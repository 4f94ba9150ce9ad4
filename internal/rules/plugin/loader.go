// Package plugin loads user rule scripts interpreted with yaegi. A script is
// a plain Go file in .convlint/plugins/ that defines
//
//	func RuleDefinitions() []map[string]any
//
// where each map declares one rule: id, title, severity, target
// ("method" or "class"), name_pattern, forbid_pattern, require_suffix,
// require_attribute, message.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"convlint/internal/logging"
	"convlint/internal/rules"
	"convlint/internal/syntax"
)

const definitionFuncName = "RuleDefinitions"

// Definition is one declarative rule from a plugin script.
type Definition struct {
	ID               string
	Title            string
	Severity         rules.Severity
	Target           string // "method" or "class"
	NamePattern      *regexp.Regexp
	ForbidPattern    *regexp.Regexp
	RequireSuffix    string
	RequireAttribute string
	Message          string
	Source           string
}

// LoadDir evaluates every .go file in dir and returns the rules it defines.
// A missing directory is not an error.
func LoadDir(dir string) ([]rules.Rule, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}

	var loaded []rules.Rule
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" {
			continue
		}
		path := filepath.Join(trimmed, entry.Name())
		fileRules, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, fileRules...)
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].ID() < loaded[j].ID() })
	if len(loaded) > 0 {
		logging.Rules("loaded %d plugin rules from %s", len(loaded), trimmed)
	}
	return loaded, nil
}

func loadFile(path string) ([]rules.Rule, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}
	fnValue, err := i.Eval(definitionFuncName)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s must define %s() []map[string]any: %w", path, definitionFuncName, err)
	}
	raw, err := invokeDefinitions(fnValue)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}

	out := make([]rules.Rule, 0, len(raw))
	for idx, m := range raw {
		def, err := parseDefinition(m)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s definition[%d]: %w", path, idx, err)
		}
		def.Source = path
		out = append(out, &pluginRule{def: def})
	}
	return out, nil
}

func invokeDefinitions(value reflect.Value) ([]map[string]any, error) {
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", definitionFuncName)
	}
	results := value.Call(nil)
	if len(results) != 1 {
		return nil, fmt.Errorf("%s must return []map[string]any", definitionFuncName)
	}
	if defs, ok := results[0].Interface().([]map[string]any); ok {
		return defs, nil
	}
	// The interpreter may hand back []interface{} depending on how the
	// script builds the slice.
	val := results[0]
	if val.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must return []map[string]any", definitionFuncName)
	}
	defs := make([]map[string]any, val.Len())
	for i := 0; i < val.Len(); i++ {
		m, ok := val.Index(i).Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not map[string]any", definitionFuncName, i)
		}
		defs[i] = m
	}
	return defs, nil
}

func parseDefinition(m map[string]any) (Definition, error) {
	def := Definition{
		Severity: rules.SeverityWarning,
		Target:   "method",
	}

	str := func(key string) string {
		if v, ok := m[key].(string); ok {
			return v
		}
		return ""
	}

	def.ID = str("id")
	if def.ID == "" {
		return def, fmt.Errorf("missing id")
	}
	def.Title = str("title")
	def.Message = str("message")

	if s := str("severity"); s != "" {
		sev, ok := rules.ParseSeverity(s)
		if !ok {
			return def, fmt.Errorf("unknown severity %q", s)
		}
		def.Severity = sev
	}
	if t := str("target"); t != "" {
		if t != "method" && t != "class" {
			return def, fmt.Errorf("unknown target %q", t)
		}
		def.Target = t
	}
	if p := str("name_pattern"); p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return def, fmt.Errorf("name_pattern: %w", err)
		}
		def.NamePattern = re
	}
	if p := str("forbid_pattern"); p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return def, fmt.Errorf("forbid_pattern: %w", err)
		}
		def.ForbidPattern = re
	}
	def.RequireSuffix = str("require_suffix")
	def.RequireAttribute = str("require_attribute")

	if def.ForbidPattern == nil && def.RequireSuffix == "" && def.RequireAttribute == "" {
		return def, fmt.Errorf("definition has no forbid_pattern, require_suffix or require_attribute")
	}
	return def, nil
}

// pluginRule adapts a Definition to the rule interface.
type pluginRule struct {
	def Definition
}

func (r *pluginRule) ID() string               { return r.def.ID }
func (r *pluginRule) Title() string            { return r.def.Title }
func (r *pluginRule) Severity() rules.Severity { return r.def.Severity }
func (r *pluginRule) DocAnchor() string        { return r.def.ID }

func (r *pluginRule) Check(f *syntax.File) []rules.Finding {
	var findings []rules.Finding
	if r.def.Target == "class" {
		for _, c := range f.Classes {
			if r.def.NamePattern != nil && !r.def.NamePattern.MatchString(c.Name) {
				continue
			}
			if msg, bad := r.violates(c.Name, classHasAttribute(c, r.def.RequireAttribute)); bad {
				findings = append(findings, rules.Finding{
					RuleID: r.def.ID, File: f.Path, Line: c.Line, Symbol: c.ID(),
					Message: msg, Severity: r.def.Severity,
				})
			}
		}
		return findings
	}

	for _, m := range f.AllMethods() {
		if r.def.NamePattern != nil && !r.def.NamePattern.MatchString(m.Name) {
			continue
		}
		if msg, bad := r.violates(m.Name, methodHasAttribute(m, r.def.RequireAttribute)); bad {
			findings = append(findings, rules.Finding{
				RuleID: r.def.ID, File: f.Path, Line: m.Line, Symbol: m.ID(),
				Message: msg, Severity: r.def.Severity,
			})
		}
	}
	return findings
}

// violates applies the declarative requirements to one selected symbol.
func (r *pluginRule) violates(name string, hasRequiredAttr bool) (string, bool) {
	if r.def.ForbidPattern != nil && r.def.ForbidPattern.MatchString(name) {
		return r.message(fmt.Sprintf("%s matches forbidden pattern %s", name, r.def.ForbidPattern)), true
	}
	if r.def.RequireSuffix != "" && !strings.HasSuffix(name, r.def.RequireSuffix) {
		return r.message(fmt.Sprintf("%s should end in %s", name, r.def.RequireSuffix)), true
	}
	if r.def.RequireAttribute != "" && !hasRequiredAttr {
		return r.message(fmt.Sprintf("%s is missing [%s]", name, r.def.RequireAttribute)), true
	}
	return "", false
}

func (r *pluginRule) message(fallback string) string {
	if r.def.Message != "" {
		return r.def.Message
	}
	return fallback
}

func classHasAttribute(c *syntax.Class, attr string) bool {
	return attr != "" && c.HasAttribute(attr)
}

func methodHasAttribute(m *syntax.Method, attr string) bool {
	return attr != "" && m.HasAttribute(attr)
}
