package syntax

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"convlint/internal/logging"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
)

// Parser turns C# source into File models. Not safe for concurrent use;
// create one per worker.
type Parser struct {
	parser *sitter.Parser
}

// NewParser creates a C# parser.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(csharp.GetLanguage())
	return &Parser{parser: p}
}

// Close releases the underlying tree-sitter parser.
func (p *Parser) Close() {
	p.parser.Close()
}

// ParseFile reads and parses a file from disk.
func (p *Parser) ParseFile(ctx context.Context, path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, path, content)
}

// Parse parses the given source. Error nodes in the tree set ParseErrored
// but extraction still recovers what it can.
func (p *Parser) Parse(ctx context.Context, path string, content []byte) (*File, error) {
	start := time.Now()
	logging.SyntaxDebug("parsing %s (%d bytes)", filepath.Base(path), len(content))

	tree, err := p.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	file := &File{
		Path:  path,
		lines: strings.Split(string(content), "\n"),
	}

	root := tree.RootNode()
	file.ParseErrored = root.HasError()

	x := &extractor{content: content, file: file}
	x.walk(root)

	logging.SyntaxDebug("parsed %s: %d classes, %d methods in %v",
		filepath.Base(path), len(file.Classes), len(file.AllMethods()), time.Since(start))
	return file, nil
}

type extractor struct {
	content []byte
	file    *File
}

func (x *extractor) text(n *sitter.Node) string {
	return n.Content(x.content)
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// walk descends the tree collecting usings, namespaces and type declarations.
func (x *extractor) walk(n *sitter.Node) {
	switch n.Type() {
	case "using_directive":
		x.addUsing(n)
		return
	case "namespace_declaration", "file_scoped_namespace_declaration":
		if name := n.ChildByFieldName("name"); name != nil && x.file.Namespace == "" {
			x.file.Namespace = x.text(name)
		}
	case "class_declaration":
		x.addClass(n, "class")
		return
	case "interface_declaration":
		x.addClass(n, "interface")
		return
	case "struct_declaration":
		x.addClass(n, "struct")
		return
	case "record_declaration":
		x.addClass(n, "record")
		return
	case "ERROR":
		x.recoverError(n)
		return
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		x.walk(n.Child(i))
	}
}

// recoverError salvages declarations from an ERROR node. A syntax error can
// collapse a whole class into loose tokens (keyword, identifier, surviving
// method_declaration children), so reassemble what the grammar could not.
func (x *extractor) recoverError(n *sitter.Node) {
	var c *Class
	pendingKind := ""
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "class", "interface", "struct", "record":
			pendingKind = child.Type()
		case "identifier":
			if pendingKind != "" && c == nil {
				c = &Class{Name: x.text(child), Kind: pendingKind, Line: line(child)}
				x.file.Classes = append(x.file.Classes, c)
			}
			pendingKind = ""
		case "method_declaration":
			if c != nil {
				if m := x.method(child, c); m != nil {
					c.Methods = append(c.Methods, m)
				}
			}
		case "ERROR":
			x.recoverError(child)
		default:
			x.walk(child)
		}
	}
}

func (x *extractor) addUsing(n *sitter.Node) {
	// The namespace is the sole named child (identifier or qualified_name).
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "identifier", "qualified_name":
			x.file.Usings = append(x.file.Usings, Using{
				Namespace: x.text(child),
				Line:      line(n),
			})
			return
		}
	}
}

func (x *extractor) addClass(n *sitter.Node, kind string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}

	c := &Class{
		Name:       x.text(nameNode),
		Kind:       kind,
		Line:       line(n),
		Modifiers:  x.modifiers(n),
		Attributes: x.attributes(n),
	}

	// The grammar hangs the base list off the declaration as an unnamed
	// field, so scan children by type rather than ChildByFieldName.
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() != "base_list" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			c.Bases = append(c.Bases, strings.TrimSpace(x.text(child.NamedChild(j))))
		}
	}

	if body := n.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			member := body.NamedChild(i)
			switch member.Type() {
			case "method_declaration":
				if m := x.method(member, c); m != nil {
					c.Methods = append(c.Methods, m)
				}
			case "constructor_declaration":
				if m := x.method(member, c); m != nil {
					m.ReturnType = ""
					c.Methods = append(c.Methods, m)
				}
			case "class_declaration":
				x.addClass(member, "class") // nested types become top-level entries
			}
		}
	}

	x.file.Classes = append(x.file.Classes, c)
}

func (x *extractor) method(n *sitter.Node, owner *Class) *Method {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	m := &Method{
		Name:       x.text(nameNode),
		Class:      owner,
		Line:       line(n),
		Modifiers:  x.modifiers(n),
		Attributes: x.attributes(n),
	}

	if ret := n.ChildByFieldName("type"); ret != nil {
		m.ReturnType = strings.TrimSpace(x.text(ret))
	} else if ret := n.ChildByFieldName("returns"); ret != nil {
		m.ReturnType = strings.TrimSpace(x.text(ret))
	}

	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			pn := params.NamedChild(i)
			if pn.Type() != "parameter" {
				continue
			}
			var param Parameter
			if t := pn.ChildByFieldName("type"); t != nil {
				param.Type = strings.TrimSpace(x.text(t))
			}
			if name := pn.ChildByFieldName("name"); name != nil {
				param.Name = x.text(name)
			}
			m.Parameters = append(m.Parameters, param)
		}
	}

	if body := n.ChildByFieldName("body"); body != nil {
		x.scanBody(body, m)
	}
	return m
}

// scanBody walks a method body collecting catches, throws and invocations.
func (x *extractor) scanBody(n *sitter.Node, m *Method) {
	switch n.Type() {
	case "catch_clause":
		m.Catches = append(m.Catches, x.catch(n))
		// Children of the catch are scanned inside x.catch for rethrows; still
		// descend for nested try/invocations below.
	case "throw_statement", "throw_expression":
		m.Throws = append(m.Throws, Throw{
			ExceptionType: x.thrownType(n),
			Line:          line(n),
		})
	case "invocation_expression":
		if fn := n.ChildByFieldName("function"); fn != nil {
			m.Invocations = append(m.Invocations, Invocation{
				Callee: x.text(fn),
				Line:   line(n),
			})
		}
	case "local_function_statement", "lambda_expression", "anonymous_method_expression":
		// Nested function bodies still belong to the enclosing method for
		// convention purposes; keep walking.
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		x.scanBody(n.Child(i), m)
	}
}

func (x *extractor) catch(n *sitter.Node) Catch {
	c := Catch{Line: line(n), Rethrow: RethrowNone}

	var block *sitter.Node
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "catch_declaration":
			if t := child.ChildByFieldName("type"); t != nil {
				c.ExceptionType = strings.TrimSpace(x.text(t))
			}
		case "block":
			block = child
		}
	}
	if block == nil {
		c.Empty = true
		return c
	}

	c.Empty = block.NamedChildCount() == 0

	var scan func(*sitter.Node)
	scan = func(b *sitter.Node) {
		switch b.Type() {
		case "throw_statement", "throw_expression":
			kind := RethrowWrap
			if b.NamedChildCount() == 0 {
				kind = RethrowBare
			} else if b.NamedChild(0).Type() == "identifier" {
				kind = RethrowExpression
			}
			if rethrowRank(kind) > rethrowRank(c.Rethrow) {
				c.Rethrow = kind
			}
		case "invocation_expression":
			c.HasInvocation = true
		case "try_statement":
			return // nested handler owns its own throws
		}
		for i := 0; i < int(b.ChildCount()); i++ {
			scan(b.Child(i))
		}
	}
	scan(block)
	return c
}

// rethrowRank orders kinds so the most faithful rethrow in a block wins.
func rethrowRank(k RethrowKind) int {
	switch k {
	case RethrowBare:
		return 3
	case RethrowExpression:
		return 2
	case RethrowWrap:
		return 1
	}
	return 0
}

func (x *extractor) thrownType(n *sitter.Node) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "object_creation_expression" {
			if t := child.ChildByFieldName("type"); t != nil {
				return strings.TrimSpace(x.text(t))
			}
		}
	}
	return ""
}

func (x *extractor) modifiers(n *sitter.Node) []string {
	var mods []string
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() == "modifier" {
			mods = append(mods, x.text(child))
		}
	}
	return mods
}

func (x *extractor) attributes(n *sitter.Node) []Attribute {
	var attrs []Attribute
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() != "attribute_list" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			attr := child.NamedChild(j)
			if attr.Type() != "attribute" {
				continue
			}
			a := Attribute{Line: line(attr)}
			if name := attr.ChildByFieldName("name"); name != nil {
				a.Name = x.text(name)
			}
			for k := 0; k < int(attr.NamedChildCount()); k++ {
				if arg := attr.NamedChild(k); arg.Type() == "attribute_argument_list" {
					a.Args = strings.Trim(x.text(arg), "()")
				}
			}
			if a.Name != "" {
				attrs = append(attrs, a)
			}
		}
	}
	return attrs
}
