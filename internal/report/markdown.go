package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// Markdown writes a Markdown-formatted report to w, suitable for a PR
// comment or a CI job summary.
func Markdown(w io.Writer, r *Run) error {
	title := r.Title
	if title == "" {
		title = "Verdict Evaluation Report"
	}

	if _, err := fmt.Fprintf(w, "## %s\n\n", title); err != nil {
		return err
	}
	if !r.StartedAt.IsZero() {
		if _, err := fmt.Fprintf(w, "**Run at:** %s\n\n", r.StartedAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}

	s := summarize(r.Entries)
	if _, err := fmt.Fprintf(w, "**Results:** %d total, %d passed, %d failed, %d could not be evaluated (pass rate %.1f%%)\n\n",
		s.Total, s.Passed, s.Failed, s.Errored, s.PassRate*100); err != nil {
		return err
	}

	t := sumTotals(r.Entries)
	if t.CostUSD > 0 {
		if _, err := fmt.Fprintf(w, "**Cost:** $%.6f (%d tokens)\n\n", t.CostUSD, t.Tokens); err != nil {
			return err
		}
	}
	if t.DurationMS > 0 {
		if _, err := fmt.Fprintf(w, "**Evaluation time:** %dms\n\n", t.DurationMS); err != nil {
			return err
		}
	}

	if len(r.Entries) == 0 {
		_, err := fmt.Fprintln(w, "_No cases evaluated._")
		return err
	}

	if err := caseTable(w, r.Entries); err != nil {
		return err
	}
	if err := winnerSection(w, r.Entries); err != nil {
		return err
	}
	if err := namedMetricTable(w, r.Named); err != nil {
		return err
	}
	return derivedMetricTable(w, r.Derived)
}

func caseTable(w io.Writer, entries []Entry) error {
	if _, err := fmt.Fprintln(w, "| Case | Status | Score | Detail |"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "|------|--------|-------|--------|"); err != nil {
		return err
	}
	for _, e := range entries {
		status := entryStatus(e)
		var score float64
		detail := ""
		if e.Result != nil {
			score = e.Result.Score
			detail = e.Result.Reason
			if e.Result.Error != "" {
				detail = e.Result.Error
			}
		}
		if _, err := fmt.Fprintf(w, "| %s | %s %s | %.3f | %s |\n",
			mdCell(e.Description), statusIcon(status), status, score, mdCell(detail)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func winnerSection(w io.Writer, entries []Entry) error {
	order, winners := winnersByGroup(entries)
	if len(order) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "### Comparative winners"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "| Group | Winner |"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "|-------|--------|"); err != nil {
		return err
	}
	for _, g := range order {
		winner := winners[g]
		if winner == "" {
			winner = "_none_"
		}
		if _, err := fmt.Fprintf(w, "| %s | %s |\n", mdCell(g), mdCell(winner)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func namedMetricTable(w io.Writer, named map[string]float64) error {
	if len(named) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "### Metrics"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "| Metric | Total |"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "|--------|-------|"); err != nil {
		return err
	}
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "| %s | %.4f |\n", mdCell(name), named[name]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func derivedMetricTable(w io.Writer, derived []types.DerivedMetricResult) error {
	if len(derived) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "### Derived metrics"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "| Metric | Value |"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "|--------|-------|"); err != nil {
		return err
	}
	for _, d := range derived {
		value := fmt.Sprintf("%.4f", d.Value)
		if d.Error != "" {
			value = fmt.Sprintf(":warning: %s", mdCell(d.Error))
		}
		if _, err := fmt.Fprintf(w, "| %s | %s |\n", mdCell(d.Name), value); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func statusIcon(status string) string {
	switch status {
	case "pass":
		return ":white_check_mark:"
	case "fail":
		return ":x:"
	case "error":
		return ":warning:"
	default:
		return ":grey_question:"
	}
}

// mdCell makes a value safe for a table cell and keeps rows readable.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 100 {
		s = s[:97] + "..."
	}
	return s
}
