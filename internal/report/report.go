// Package report renders an evaluation run as JSON, Markdown, or JUnit XML.
// A run is the ordered list of graded cases plus the frozen metric totals;
// renderers never recompute scores, they only present what the runner and
// collector already decided.
package report

import (
	"time"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// Entry pairs one graded candidate output with the case it belongs to.
// Group and Winner carry comparative context: candidates that were graded
// together share a Group, and at most one of them is the Winner.
type Entry struct {
	Description string            `json:"description"`
	Group       string            `json:"group,omitempty"`
	Winner      bool              `json:"winner,omitempty"`
	Result      *types.CaseResult `json:"result"`
}

// Run holds everything a renderer needs.
type Run struct {
	Title     string
	StartedAt time.Time
	Entries   []Entry
	Named     map[string]float64
	Derived   []types.DerivedMetricResult
}

// Summary is the roll-up across all entries of a run.
type Summary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Errored  int     `json:"errored"`
	PassRate float64 `json:"pass_rate"`
}

// entryStatus classifies one entry for presentation. A case that could not
// be evaluated is an error, never a plain failure.
func entryStatus(e Entry) string {
	switch {
	case e.Result == nil || e.Result.Error != "":
		return "error"
	case e.Result.Pass:
		return "pass"
	default:
		return "fail"
	}
}

func summarize(entries []Entry) Summary {
	s := Summary{Total: len(entries)}
	for _, e := range entries {
		switch entryStatus(e) {
		case "pass":
			s.Passed++
		case "fail":
			s.Failed++
		default:
			s.Errored++
		}
	}
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total)
	}
	return s
}

// Totals accumulates token, cost, and wall-time figures across a run.
type Totals struct {
	Tokens     int     `json:"tokens"`
	CostUSD    float64 `json:"cost_usd"`
	DurationMS int64   `json:"duration_ms"`
}

func sumTotals(entries []Entry) Totals {
	var t Totals
	for _, e := range entries {
		if e.Result == nil {
			continue
		}
		for _, oc := range e.Result.Results {
			t.DurationMS += oc.DurationMS
			if oc.Result != nil && oc.Result.TokensUsed != nil {
				t.Tokens += oc.Result.TokensUsed.Total
				t.CostUSD += oc.Result.TokensUsed.CostUSD
			}
		}
	}
	return t
}

// winnersByGroup returns, per comparative group in first-seen order, the
// description of the entry that won it. Groups with no winner map to "".
func winnersByGroup(entries []Entry) ([]string, map[string]string) {
	var order []string
	winners := make(map[string]string)
	for _, e := range entries {
		if e.Group == "" {
			continue
		}
		if _, seen := winners[e.Group]; !seen {
			order = append(order, e.Group)
			winners[e.Group] = ""
		}
		if e.Winner {
			winners[e.Group] = e.Description
		}
	}
	return order, winners
}
