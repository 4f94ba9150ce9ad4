// Package doc parses the team convention document, a markdown changelog
// where each dated entry records a convention decision and anchors the rule
// IDs that enforce it.
package doc

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"convlint/internal/logging"
)

// Entry is one dated convention decision.
type Entry struct {
	Date  time.Time
	Title string
	Line  int
	// Rules anchored to this entry via <!-- rule: id --> comments.
	Rules []string
	// Body is the entry's markdown, heading excluded.
	Body string
	// Before and After hold the fenced snippets labeled as such, when present.
	Before string
	After  string
}

// Document is a parsed convention changelog, newest entry first.
type Document struct {
	Path    string
	Entries []Entry
}

var (
	headingRe = regexp.MustCompile(`^##\s+(\d{4}-\d{2}-\d{2})\s*[—–-]+\s*(.+?)\s*$`)
	anchorRe  = regexp.MustCompile(`<!--\s*rule:\s*([a-z0-9/_-]+)\s*-->`)
)

// Load reads and parses the convention document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("doc: parse %s: %w", path, err)
	}
	d.Path = path
	logging.Get(logging.CategoryDoc).Info("parsed %s: %d entries", path, len(d.Entries))
	return d, nil
}

// Parse parses changelog markdown. Entries keep document order.
func Parse(content string) (*Document, error) {
	d := &Document{}
	lines := strings.Split(content, "\n")

	var current *Entry
	var body []string

	flush := func() {
		if current == nil {
			return
		}
		current.Body = strings.TrimSpace(strings.Join(body, "\n"))
		current.Before, current.After = extractSnippets(body)
		d.Entries = append(d.Entries, *current)
		current = nil
		body = nil
	}

	for i, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			date, err := time.Parse("2006-01-02", m[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: bad date %q", i+1, m[1])
			}
			current = &Entry{Date: date, Title: m[2], Line: i + 1}
			continue
		}
		if current == nil {
			continue
		}
		for _, anchor := range anchorRe.FindAllStringSubmatch(line, -1) {
			current.Rules = append(current.Rules, anchor[1])
		}
		body = append(body, line)
	}
	flush()
	return d, nil
}

// extractSnippets pulls the fenced blocks that follow a Before/After label.
func extractSnippets(lines []string) (before, after string) {
	label := ""
	var fence []string
	inFence := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				code := strings.Join(fence, "\n")
				switch label {
				case "before":
					if before == "" {
						before = code
					}
				case "after":
					if after == "" {
						after = code
					}
				}
				inFence = false
				fence = nil
				label = ""
			} else {
				inFence = true
			}
			continue
		}
		if inFence {
			fence = append(fence, line)
			continue
		}
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "before") {
			label = "before"
		} else if strings.HasPrefix(lower, "after") {
			label = "after"
		}
	}
	return before, after
}

// EntryForRule returns the most recent entry anchored to the rule ID.
func (d *Document) EntryForRule(id string) (*Entry, bool) {
	var found *Entry
	for i := range d.Entries {
		e := &d.Entries[i]
		for _, r := range e.Rules {
			if r != id {
				continue
			}
			if found == nil || e.Date.After(found.Date) {
				found = e
			}
		}
	}
	return found, found != nil
}

// AdoptionDate returns the earliest entry date that anchors the rule.
func (d *Document) AdoptionDate(id string) (time.Time, bool) {
	var adopted time.Time
	ok := false
	for _, e := range d.Entries {
		for _, r := range e.Rules {
			if r != id {
				continue
			}
			if !ok || e.Date.Before(adopted) {
				adopted = e.Date
				ok = true
			}
		}
	}
	return adopted, ok
}

// AdoptedAfter reports whether the rule's adoption post-dates asOf. Rules
// with no anchoring entry count as always adopted.
func (d *Document) AdoptedAfter(id string, asOf time.Time) bool {
	adopted, ok := d.AdoptionDate(id)
	if !ok {
		return false
	}
	return adopted.After(asOf)
}

// RuleIDs returns every anchored rule ID, deduplicated, in document order.
func (d *Document) RuleIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range d.Entries {
		for _, r := range e.Rules {
			if seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// Markdown renders the entry back to markdown for terminal display.
func (e *Entry) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s — %s\n\n", e.Date.Format("2006-01-02"), e.Title)
	b.WriteString(e.Body)
	return b.String()
}
