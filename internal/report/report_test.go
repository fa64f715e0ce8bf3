package report_test

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/verdictlabs/verdict/engine/internal/report"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

func passingEntry(desc string) report.Entry {
	return report.Entry{
		Description: desc,
		Result: &types.CaseResult{
			Pass:   true,
			Score:  1,
			Reason: "all 1 weighted assertions passed",
			Results: []types.AssertionOutcome{
				{
					Assertion:  types.Assertion{Type: "contains"},
					Result:     &types.GradingResult{Pass: true, Score: 1},
					DurationMS: 12,
				},
			},
		},
	}
}

func failingEntry(desc, reason string) report.Entry {
	return report.Entry{
		Description: desc,
		Result: &types.CaseResult{
			Pass:   false,
			Score:  0,
			Reason: reason,
			Results: []types.AssertionOutcome{
				{
					Assertion:  types.Assertion{Type: "equals"},
					Result:     &types.GradingResult{Pass: false, Score: 0, Reason: reason},
					DurationMS: 5,
				},
			},
		},
	}
}

func erroredEntry(desc string) report.Entry {
	return report.Entry{
		Description: desc,
		Result: &types.CaseResult{
			Pass:  false,
			Error: "could not evaluate: trace data is not available",
			Results: []types.AssertionOutcome{
				{
					Assertion: types.Assertion{Type: "trace-span-count"},
					Err:       "trace data is not available",
				},
			},
		},
	}
}

func TestJSONReport(t *testing.T) {
	run := &report.Run{
		Title:     "nightly eval",
		StartedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Entries: []report.Entry{
			passingEntry("greets the user"),
			failingEntry("refuses politely", "output does not match"),
		},
		Named:   map[string]float64{"accuracy": 1.5},
		Derived: []types.DerivedMetricResult{{Name: "f1", Value: 0.8}},
	}

	out, err := report.JSON(run)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var doc struct {
		Title   string `json:"title"`
		Summary struct {
			Total    int     `json:"total"`
			Passed   int     `json:"passed"`
			Failed   int     `json:"failed"`
			PassRate float64 `json:"pass_rate"`
		} `json:"summary"`
		Entries []struct {
			Description string `json:"description"`
		} `json:"entries"`
		Named  map[string]float64 `json:"named_metrics"`
		Totals struct {
			DurationMS int64 `json:"duration_ms"`
		} `json:"totals"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}

	if doc.Title != "nightly eval" {
		t.Errorf("title: got %q", doc.Title)
	}
	if doc.Summary.Total != 2 || doc.Summary.Passed != 1 || doc.Summary.Failed != 1 {
		t.Errorf("summary: got %+v", doc.Summary)
	}
	if doc.Summary.PassRate != 0.5 {
		t.Errorf("pass rate: got %f, want 0.5", doc.Summary.PassRate)
	}
	if len(doc.Entries) != 2 || doc.Entries[0].Description != "greets the user" {
		t.Errorf("entries: got %+v", doc.Entries)
	}
	if doc.Named["accuracy"] != 1.5 {
		t.Errorf("named metric: got %v", doc.Named)
	}
	if doc.Totals.DurationMS != 17 {
		t.Errorf("total duration: got %d, want 17", doc.Totals.DurationMS)
	}
}

func TestJSONReportTokenTotals(t *testing.T) {
	e := passingEntry("judged case")
	e.Result.Results[0].Result.TokensUsed = &types.TokenUsage{Prompt: 40, Completion: 2, Total: 42, CostUSD: 0.0003}

	out, err := report.JSON(&report.Run{Entries: []report.Entry{e}})
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var doc struct {
		Totals struct {
			Tokens  int     `json:"tokens"`
			CostUSD float64 `json:"cost_usd"`
		} `json:"totals"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if doc.Totals.Tokens != 42 {
		t.Errorf("tokens: got %d, want 42", doc.Totals.Tokens)
	}
	if doc.Totals.CostUSD != 0.0003 {
		t.Errorf("cost: got %f, want 0.0003", doc.Totals.CostUSD)
	}
}

func TestMarkdownReport(t *testing.T) {
	run := &report.Run{
		Title:     "rollout check",
		StartedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Entries: []report.Entry{
			passingEntry("greets the user"),
			failingEntry("refuses politely", "output does not match"),
			erroredEntry("traced flow"),
		},
		Named: map[string]float64{"accuracy": 2},
		Derived: []types.DerivedMetricResult{
			{Name: "f1", Value: 0.8},
			{Name: "broken", Error: "unknown metric \"missing\""},
		},
	}

	var buf bytes.Buffer
	if err := report.Markdown(&buf, run); err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"## rollout check",
		"3 total, 1 passed, 1 failed, 1 could not be evaluated",
		"pass rate 33.3%",
		"| greets the user | :white_check_mark: pass |",
		"| refuses politely | :x: fail |",
		"| traced flow | :warning: error |",
		"could not evaluate: trace data is not available",
		"### Metrics",
		"| accuracy | 2.0000 |",
		"### Derived metrics",
		"| f1 | 0.8000 |",
		":warning: unknown metric",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q\n%s", want, out)
		}
	}
}

func TestMarkdownEmptyRun(t *testing.T) {
	var buf bytes.Buffer
	if err := report.Markdown(&buf, &report.Run{}); err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	if !strings.Contains(buf.String(), "_No cases evaluated._") {
		t.Errorf("expected empty-run marker, got:\n%s", buf.String())
	}
}

func TestMarkdownComparativeWinners(t *testing.T) {
	a := passingEntry("candidate a")
	a.Group = "variants"
	a.Winner = true
	b := failingEntry("candidate b", "judge selected candidate 0")
	b.Group = "variants"

	var buf bytes.Buffer
	if err := report.Markdown(&buf, &report.Run{Entries: []report.Entry{a, b}}); err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "### Comparative winners") {
		t.Fatalf("missing winners section:\n%s", out)
	}
	if !strings.Contains(out, "| variants | candidate a |") {
		t.Errorf("missing winner row:\n%s", out)
	}
}

func TestMarkdownEscapesCells(t *testing.T) {
	e := failingEntry("pipe | case", strings.Repeat("x", 150))

	var buf bytes.Buffer
	if err := report.Markdown(&buf, &report.Run{Entries: []report.Entry{e}}); err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, `pipe \| case`) {
		t.Errorf("pipe not escaped:\n%s", out)
	}
	if !strings.Contains(out, "xxx...") {
		t.Errorf("long reason not truncated:\n%s", out)
	}
}

func TestJUnitReport(t *testing.T) {
	run := &report.Run{
		Title: "suite",
		Entries: []report.Entry{
			passingEntry("greets the user"),
			failingEntry("refuses politely", "output does not match"),
			erroredEntry("traced flow"),
		},
	}

	out, err := report.JUnit(run)
	if err != nil {
		t.Fatalf("JUnit: %v", err)
	}
	if !strings.HasPrefix(string(out), "<?xml") {
		t.Errorf("missing xml header: %q", string(out[:40]))
	}

	var doc struct {
		Tests    int `xml:"tests,attr"`
		Failures int `xml:"failures,attr"`
		Errors   int `xml:"errors,attr"`
		Suites   []struct {
			Cases []struct {
				Name    string `xml:"name,attr"`
				Failure *struct {
					Message string `xml:"message,attr"`
				} `xml:"failure"`
				Error *struct {
					Message string `xml:"message,attr"`
				} `xml:"error"`
			} `xml:"testcase"`
		} `xml:"testsuite"`
	}
	if err := xml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal junit: %v", err)
	}

	if doc.Tests != 3 || doc.Failures != 1 || doc.Errors != 1 {
		t.Fatalf("counts: got tests=%d failures=%d errors=%d", doc.Tests, doc.Failures, doc.Errors)
	}
	cases := doc.Suites[0].Cases
	if len(cases) != 3 {
		t.Fatalf("cases: got %d, want 3", len(cases))
	}
	if cases[0].Failure != nil || cases[0].Error != nil {
		t.Errorf("passing case should have no failure or error node")
	}
	if cases[1].Failure == nil || cases[1].Failure.Message != "output does not match" {
		t.Errorf("failing case: got %+v", cases[1].Failure)
	}
	if cases[2].Error == nil || !strings.Contains(cases[2].Error.Message, "could not evaluate") {
		t.Errorf("errored case: got %+v", cases[2].Error)
	}
	if cases[1].Error != nil {
		t.Errorf("failed case must not be reported as an error")
	}
}
