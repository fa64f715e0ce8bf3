package report

import (
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// jsonDocument is the machine-readable rendering of a run.
type jsonDocument struct {
	Version     string                      `json:"version"`
	Title       string                      `json:"title,omitempty"`
	GeneratedAt string                      `json:"generated_at"`
	StartedAt   string                      `json:"started_at,omitempty"`
	Summary     Summary                     `json:"summary"`
	Entries     []Entry                     `json:"entries"`
	Named       map[string]float64          `json:"named_metrics,omitempty"`
	Derived     []types.DerivedMetricResult `json:"derived_metrics,omitempty"`
	Totals      Totals                      `json:"totals"`
}

// JSON renders the run as an indented JSON document.
func JSON(r *Run) ([]byte, error) {
	doc := jsonDocument{
		Version:     "1.0",
		Title:       r.Title,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Summary:     summarize(r.Entries),
		Entries:     r.Entries,
		Named:       r.Named,
		Derived:     r.Derived,
		Totals:      sumTotals(r.Entries),
	}
	if !r.StartedAt.IsZero() {
		doc.StartedAt = r.StartedAt.UTC().Format(time.RFC3339)
	}
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return out, nil
}
