// Package syntax parses C# source files into a convention-oriented model
// using tree-sitter, and projects that model into kernel facts.
package syntax

import (
	"fmt"
	"strings"
)

// RethrowKind classifies what a catch block does with the caught exception.
type RethrowKind string

const (
	RethrowNone       RethrowKind = "none"       // swallows the exception
	RethrowBare       RethrowKind = "bare"       // throw;
	RethrowExpression RethrowKind = "expression" // throw ex;
	RethrowWrap       RethrowKind = "wrap"       // throw new Something(ex);
)

// File is the parsed representation of a single C# source file.
type File struct {
	Path      string
	Namespace string
	Usings    []Using
	Classes   []*Class

	// ParseErrored is set when tree-sitter reported error nodes; the model
	// still contains whatever could be recovered.
	ParseErrored bool

	lines []string
}

// Using is a using directive.
type Using struct {
	Namespace string
	Line      int
}

// Attribute is a C# attribute such as [HttpGet("{id}")].
type Attribute struct {
	Name string
	Args string
	Line int
}

// Class covers class, interface, struct and record declarations.
type Class struct {
	Name       string
	Kind       string // class, interface, struct, record
	Line       int
	Modifiers  []string
	Bases      []string
	Attributes []Attribute
	Methods    []*Method
}

// ID returns the stable fact identifier for the class.
func (c *Class) ID() string { return fmt.Sprintf("%s:%s", c.Kind, c.Name) }

// IsPublic reports whether the class carries the public modifier.
func (c *Class) IsPublic() bool { return hasModifier(c.Modifiers, "public") }

// HasAttribute reports whether the class carries the named attribute.
// Comparison ignores an "Attribute" suffix, matching C# usage.
func (c *Class) HasAttribute(name string) bool { return hasAttribute(c.Attributes, name) }

// Visibility returns the declared access level, defaulting to internal.
func (c *Class) Visibility() string {
	for _, m := range []string{"public", "private", "protected", "internal"} {
		if hasModifier(c.Modifiers, m) {
			return m
		}
	}
	return "internal"
}

// Parameter is a method parameter.
type Parameter struct {
	Name string
	Type string
}

// Method covers method and constructor declarations.
type Method struct {
	Name        string
	Class       *Class
	Line        int
	ReturnType  string // empty for constructors
	Modifiers   []string
	Parameters  []Parameter
	Attributes  []Attribute
	Catches     []Catch
	Throws      []Throw
	Invocations []Invocation
}

// ID returns the stable fact identifier for the method.
func (m *Method) ID() string {
	if m.Class != nil {
		return fmt.Sprintf("method:%s.%s", m.Class.Name, m.Name)
	}
	return fmt.Sprintf("method:%s", m.Name)
}

// IsAsync reports whether the method carries the async modifier.
func (m *Method) IsAsync() bool { return hasModifier(m.Modifiers, "async") }

// IsPublic reports whether the method carries the public modifier.
func (m *Method) IsPublic() bool { return hasModifier(m.Modifiers, "public") }

// IsStatic reports whether the method carries the static modifier.
func (m *Method) IsStatic() bool { return hasModifier(m.Modifiers, "static") }

// HasAttribute reports whether the method carries the named attribute.
func (m *Method) HasAttribute(name string) bool { return hasAttribute(m.Attributes, name) }

// ReturnsBool reports whether the method returns a boolean.
func (m *Method) ReturnsBool() bool {
	rt := strings.TrimSpace(m.ReturnType)
	return rt == "bool" || rt == "Boolean" || rt == "System.Boolean" ||
		rt == "Task<bool>" || rt == "ValueTask<bool>"
}

// Catch is a catch clause.
type Catch struct {
	ExceptionType string // empty for catch { }
	Line          int
	Empty         bool
	Rethrow       RethrowKind
	HasInvocation bool // something is at least called in the handler
}

// Throw is a throw statement or expression.
type Throw struct {
	ExceptionType string // empty for bare rethrow
	Line          int
}

// Invocation is a call site inside a method body.
type Invocation struct {
	Callee string
	Line   int
}

// Line returns the 1-based source line, or "" when out of range.
func (f *File) Line(n int) string {
	if n < 1 || n > len(f.lines) {
		return ""
	}
	return f.lines[n-1]
}

// LineCount returns the number of source lines.
func (f *File) LineCount() int { return len(f.lines) }

// Suppressed reports whether a finding for ruleID at the given line is
// silenced by an inline "convlint:disable" comment on that line or the
// line above. A bare disable silences every rule; "convlint:disable a, b"
// silences only the listed IDs.
func (f *File) Suppressed(line int, ruleID string) bool {
	for _, n := range []int{line, line - 1} {
		text := f.Line(n)
		idx := strings.Index(text, "convlint:disable")
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(text[idx+len("convlint:disable"):])
		if rest == "" {
			return true
		}
		for _, id := range strings.Split(rest, ",") {
			if strings.TrimSpace(id) == ruleID {
				return true
			}
		}
	}
	return false
}

// AllMethods returns every method in the file, in declaration order.
func (f *File) AllMethods() []*Method {
	var out []*Method
	for _, c := range f.Classes {
		out = append(out, c.Methods...)
	}
	return out
}

func hasModifier(mods []string, want string) bool {
	for _, m := range mods {
		if m == want {
			return true
		}
	}
	return false
}

func hasAttribute(attrs []Attribute, name string) bool {
	want := strings.TrimSuffix(name, "Attribute")
	for _, a := range attrs {
		if strings.TrimSuffix(a.Name, "Attribute") == want {
			return true
		}
	}
	return false
}
