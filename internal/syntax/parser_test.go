package syntax

import (
	"context"
	"testing"
)

const sampleController = `using System;
using System.Threading.Tasks;
using Microsoft.AspNetCore.Mvc;

namespace School.Api.Controllers
{
    [ApiController]
    [Route("api/[controller]")]
    public class StudentController : ControllerBase
    {
        private readonly IStudentService _service;

        public StudentController(IStudentService service)
        {
            _service = service;
        }

        [HttpGet("{id}")]
        public async Task<IActionResult> GetStudent(int id)
        {
            try
            {
                var student = await _service.FindAsync(id);
                return Ok(student);
            }
            catch (StudentNotFoundException ex)
            {
                _logger.LogWarning(ex, "student missing");
                throw;
            }
            catch (Exception)
            {
            }
            return NotFound();
        }

        public bool TryValidateStudent(Student student)
        {
            if (student == null)
            {
                return false;
            }
            return student.Age > 0;
        }
    }
}
`

func parseSample(t *testing.T, src string) *File {
	t.Helper()
	p := NewParser()
	defer p.Close()

	f, err := p.Parse(context.Background(), "Controllers/StudentController.cs", []byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func findClass(t *testing.T, f *File, name string) *Class {
	t.Helper()
	for _, c := range f.Classes {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("class %s not found in %v", name, f.Classes)
	return nil
}

func findMethod(t *testing.T, c *Class, name string) *Method {
	t.Helper()
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("method %s not found on %s", name, c.Name)
	return nil
}

func TestParseUsingsAndNamespace(t *testing.T) {
	f := parseSample(t, sampleController)

	if f.Namespace != "School.Api.Controllers" {
		t.Fatalf("Namespace = %q", f.Namespace)
	}
	if len(f.Usings) != 3 {
		t.Fatalf("got %d usings, want 3: %v", len(f.Usings), f.Usings)
	}
	if f.Usings[2].Namespace != "Microsoft.AspNetCore.Mvc" {
		t.Fatalf("Usings[2] = %q", f.Usings[2].Namespace)
	}
}

func TestParseClassAttributesAndBases(t *testing.T) {
	f := parseSample(t, sampleController)
	c := findClass(t, f, "StudentController")

	if c.Kind != "class" {
		t.Fatalf("Kind = %q", c.Kind)
	}
	if !c.IsPublic() {
		t.Fatal("expected public class")
	}
	if !c.HasAttribute("ApiController") || !c.HasAttribute("Route") {
		t.Fatalf("attributes = %v", c.Attributes)
	}
	if len(c.Bases) != 1 || c.Bases[0] != "ControllerBase" {
		t.Fatalf("Bases = %v", c.Bases)
	}
}

func TestParseMethodModifiersAndAttributes(t *testing.T) {
	f := parseSample(t, sampleController)
	c := findClass(t, f, "StudentController")
	m := findMethod(t, c, "GetStudent")

	if !m.IsAsync() {
		t.Fatal("GetStudent should be async")
	}
	if !m.IsPublic() {
		t.Fatal("GetStudent should be public")
	}
	if m.ReturnType != "Task<IActionResult>" {
		t.Fatalf("ReturnType = %q", m.ReturnType)
	}
	if !m.HasAttribute("HttpGet") {
		t.Fatalf("attributes = %v", m.Attributes)
	}
	if len(m.Parameters) != 1 || m.Parameters[0].Name != "id" || m.Parameters[0].Type != "int" {
		t.Fatalf("Parameters = %v", m.Parameters)
	}
}

func TestParseCatchClauses(t *testing.T) {
	f := parseSample(t, sampleController)
	c := findClass(t, f, "StudentController")
	m := findMethod(t, c, "GetStudent")

	if len(m.Catches) != 2 {
		t.Fatalf("got %d catches, want 2: %v", len(m.Catches), m.Catches)
	}

	first := m.Catches[0]
	if first.ExceptionType != "StudentNotFoundException" {
		t.Fatalf("first catch type = %q", first.ExceptionType)
	}
	if first.Empty {
		t.Fatal("first catch is not empty")
	}
	if first.Rethrow != RethrowBare {
		t.Fatalf("first catch rethrow = %q, want bare", first.Rethrow)
	}
	if !first.HasInvocation {
		t.Fatal("first catch logs, HasInvocation should be true")
	}

	second := m.Catches[1]
	if second.ExceptionType != "Exception" {
		t.Fatalf("second catch type = %q", second.ExceptionType)
	}
	if !second.Empty {
		t.Fatal("second catch should be empty")
	}
	if second.Rethrow != RethrowNone {
		t.Fatalf("second catch rethrow = %q, want none", second.Rethrow)
	}
}

func TestParseBoolReturningMethod(t *testing.T) {
	f := parseSample(t, sampleController)
	c := findClass(t, f, "StudentController")
	m := findMethod(t, c, "TryValidateStudent")

	if !m.ReturnsBool() {
		t.Fatalf("ReturnType = %q, ReturnsBool should be true", m.ReturnType)
	}
	if m.IsAsync() {
		t.Fatal("TryValidateStudent is not async")
	}
}

func TestParseConstructor(t *testing.T) {
	f := parseSample(t, sampleController)
	c := findClass(t, f, "StudentController")
	ctor := findMethod(t, c, "StudentController")

	if ctor.ReturnType != "" {
		t.Fatalf("constructor return type = %q", ctor.ReturnType)
	}
}

func TestSuppressed(t *testing.T) {
	src := `using System;

public class Thing
{
    // convlint:disable exception/no-empty-catch
    public void Swallow()
    {
        try { Work(); } catch (Exception) { }
    }
}
`
	f := parseSample(t, src)

	if !f.Suppressed(6, "exception/no-empty-catch") {
		t.Fatal("line below a scoped disable should be suppressed")
	}
	if f.Suppressed(6, "naming/async-suffix") {
		t.Fatal("unlisted rule should not be suppressed")
	}
	if f.Suppressed(2, "exception/no-empty-catch") {
		t.Fatal("unrelated line should not be suppressed")
	}
}

func TestParseErroredStillExtracts(t *testing.T) {
	src := `using System;
public class Broken
{
    public void Ok() { }
    public void Bad( {
}
`
	f := parseSample(t, src)
	if !f.ParseErrored {
		t.Fatal("expected ParseErrored")
	}
	if len(f.Classes) == 0 {
		t.Fatal("extraction should recover the class")
	}
	if f.Classes[0].Name != "Broken" {
		t.Errorf("recovered class = %q, want Broken", f.Classes[0].Name)
	}
}

func TestFactsProjection(t *testing.T) {
	f := parseSample(t, sampleController)
	facts := Facts(f)

	byPredicate := map[string]int{}
	for _, fact := range facts {
		byPredicate[fact.Predicate]++
		if fact.Args[0] != f.Path {
			t.Fatalf("fact %s does not lead with the file path: %v", fact.Predicate, fact.Args)
		}
	}

	if byPredicate["cs_using"] != 3 {
		t.Fatalf("cs_using = %d, want 3", byPredicate["cs_using"])
	}
	if byPredicate["cs_class"] != 1 {
		t.Fatalf("cs_class = %d, want 1", byPredicate["cs_class"])
	}
	if byPredicate["cs_method"] != 3 {
		t.Fatalf("cs_method = %d, want 3 (ctor + 2 methods)", byPredicate["cs_method"])
	}
	if byPredicate["cs_catch"] != 2 {
		t.Fatalf("cs_catch = %d, want 2", byPredicate["cs_catch"])
	}
}
