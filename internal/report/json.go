package report

import (
	"encoding/json"
	"io"

	"convlint/internal/rules"
)

// JSONRenderer emits a machine-readable document with findings and summary.
type JSONRenderer struct{}

type jsonDocument struct {
	Findings []rules.Finding `json:"findings"`
	Summary  Summary         `json:"summary"`
}

func (r *JSONRenderer) Render(w io.Writer, findings []rules.Finding) error {
	doc := jsonDocument{
		Findings: findings,
		Summary:  Summarize(findings),
	}
	if doc.Findings == nil {
		doc.Findings = []rules.Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
