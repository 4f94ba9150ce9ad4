package syntax

import (
	"convlint/internal/kernel"
)

// Facts projects a parsed file into kernel facts matching the embedded
// schema. Enum-like values are emitted as Mangle name constants so Datalog
// rules can match them without string comparison.
func Facts(f *File) []kernel.Fact {
	var facts []kernel.Fact

	for _, u := range f.Usings {
		facts = append(facts, kernel.Fact{
			Predicate: "cs_using",
			Args:      []any{f.Path, u.Namespace},
		})
	}

	for _, c := range f.Classes {
		facts = append(facts, kernel.Fact{
			Predicate: "cs_class",
			Args:      []any{f.Path, c.ID(), c.Name, c.Line, "/" + c.Visibility()},
		})
		for _, b := range c.Bases {
			facts = append(facts, kernel.Fact{
				Predicate: "cs_base",
				Args:      []any{f.Path, c.ID(), b},
			})
		}
		for _, a := range c.Attributes {
			facts = append(facts, kernel.Fact{
				Predicate: "cs_attribute",
				Args:      []any{f.Path, c.ID(), a.Name, a.Args, a.Line},
			})
		}

		for _, m := range c.Methods {
			facts = append(facts, kernel.Fact{
				Predicate: "cs_method",
				Args: []any{
					f.Path, m.ID(), c.ID(), m.Name, m.Line, m.ReturnType,
					boolName(m.IsAsync()), boolName(m.IsPublic()),
				},
			})
			for idx, p := range m.Parameters {
				facts = append(facts, kernel.Fact{
					Predicate: "cs_parameter",
					Args:      []any{f.Path, m.ID(), idx, p.Name, p.Type},
				})
			}
			for _, a := range m.Attributes {
				facts = append(facts, kernel.Fact{
					Predicate: "cs_attribute",
					Args:      []any{f.Path, m.ID(), a.Name, a.Args, a.Line},
				})
			}
			for _, ct := range m.Catches {
				facts = append(facts, kernel.Fact{
					Predicate: "cs_catch",
					Args: []any{
						f.Path, m.ID(), ct.ExceptionType, ct.Line,
						boolName(ct.Empty), "/" + string(ct.Rethrow),
					},
				})
			}
			for _, th := range m.Throws {
				facts = append(facts, kernel.Fact{
					Predicate: "cs_throw",
					Args:      []any{f.Path, m.ID(), th.ExceptionType, th.Line},
				})
			}
			for _, inv := range m.Invocations {
				facts = append(facts, kernel.Fact{
					Predicate: "cs_invocation",
					Args:      []any{f.Path, m.ID(), inv.Callee, inv.Line},
				})
			}
		}
	}

	return facts
}

func boolName(b bool) string {
	if b {
		return "/true"
	}
	return "/false"
}
