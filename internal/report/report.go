// Package report renders lint results for terminals, tooling and CI.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"

	"convlint/internal/rules"
)

// Summary aggregates a run's findings by severity.
type Summary struct {
	Files    int `json:"files"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
}

// Total returns the overall finding count.
func (s Summary) Total() int { return s.Errors + s.Warnings + s.Infos }

// Summarize counts findings by severity.
func Summarize(findings []rules.Finding) Summary {
	s := Summary{}
	files := map[string]bool{}
	for _, f := range findings {
		files[f.File] = true
		switch f.Severity {
		case rules.SeverityError:
			s.Errors++
		case rules.SeverityWarning:
			s.Warnings++
		default:
			s.Infos++
		}
	}
	s.Files = len(files)
	return s
}

// Renderer writes findings in one output format.
type Renderer interface {
	Render(w io.Writer, findings []rules.Finding) error
}

// New returns the renderer for a format name: text, json or sarif.
func New(format string, color bool) (Renderer, error) {
	switch format {
	case "", "text":
		return &TextRenderer{Color: color}, nil
	case "json":
		return &JSONRenderer{}, nil
	case "sarif":
		return &SARIFRenderer{}, nil
	}
	return nil, fmt.Errorf("report: unknown format %q", format)
}

// TextRenderer prints findings grouped by file with severity colors.
type TextRenderer struct {
	Color bool
	// FilesScanned is reported in the clean-run summary when set.
	FilesScanned int
}

var (
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff5f5f")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffaf00"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5fafff"))

	fileStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)

	ruleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8787af"))

	summaryStyle = lipgloss.NewStyle().
			Bold(true).
			MarginTop(1)
)

func (r *TextRenderer) severityLabel(s rules.Severity) string {
	label := string(s)
	if !r.Color {
		return label
	}
	switch s {
	case rules.SeverityError:
		return errorStyle.Render(label)
	case rules.SeverityWarning:
		return warningStyle.Render(label)
	default:
		return infoStyle.Render(label)
	}
}

func (r *TextRenderer) Render(w io.Writer, findings []rules.Finding) error {
	if len(findings) == 0 {
		fmt.Fprintf(w, "no convention violations found in %d files\n", r.FilesScanned)
		return nil
	}

	byFile := map[string][]rules.Finding{}
	var files []string
	for _, f := range findings {
		if _, seen := byFile[f.File]; !seen {
			files = append(files, f.File)
		}
		byFile[f.File] = append(byFile[f.File], f)
	}
	sort.Strings(files)

	for _, file := range files {
		header := file
		if r.Color {
			header = fileStyle.Render(file)
		}
		fmt.Fprintln(w, header)
		for _, f := range byFile[file] {
			rule := f.RuleID
			if r.Color {
				rule = ruleStyle.Render(rule)
			}
			fmt.Fprintf(w, "  %4d  %-8s %s  %s\n", f.Line, r.severityLabel(f.Severity), rule, f.Message)
		}
		fmt.Fprintln(w)
	}

	s := Summarize(findings)
	line := fmt.Sprintf("%d findings in %d files (%d errors, %d warnings, %d info)",
		s.Total(), s.Files, s.Errors, s.Warnings, s.Infos)
	if r.Color {
		line = summaryStyle.Render(line)
	}
	fmt.Fprintln(w, line)
	return nil
}
