package report

import (
	"encoding/xml"
	"fmt"
)

// JUnit XML as consumed by CI systems. Each case maps to a testcase; a case
// that failed its assertions is a <failure>, a case that could not be
// evaluated at all is an <error>.

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Errors   int         `xml:"errors,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr,omitempty"`
	Time      string        `xml:"time,attr"`
	Failure   *junitProblem `xml:"failure,omitempty"`
	Error     *junitProblem `xml:"error,omitempty"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
	Detail  string `xml:",chardata"`
}

// JUnit renders the run as a JUnit XML document.
func JUnit(r *Run) ([]byte, error) {
	title := r.Title
	if title == "" {
		title = "verdict"
	}

	s := summarize(r.Entries)
	suite := junitSuite{
		Name:     title,
		Tests:    s.Total,
		Failures: s.Failed,
		Errors:   s.Errored,
		Cases:    make([]junitCase, 0, len(r.Entries)),
	}

	var totalSec float64
	for i, e := range r.Entries {
		name := e.Description
		if name == "" {
			name = fmt.Sprintf("case %d", i)
		}
		tc := junitCase{Name: name, ClassName: e.Group}

		var caseMS int64
		if e.Result != nil {
			for _, oc := range e.Result.Results {
				caseMS += oc.DurationMS
			}
		}
		sec := float64(caseMS) / 1000
		totalSec += sec
		tc.Time = fmt.Sprintf("%.3f", sec)

		switch entryStatus(e) {
		case "error":
			msg := "could not evaluate"
			if e.Result != nil && e.Result.Error != "" {
				msg = e.Result.Error
			}
			tc.Error = &junitProblem{Message: msg, Detail: outcomeDetail(e)}
		case "fail":
			msg := "assertions failed"
			if e.Result.Reason != "" {
				msg = e.Result.Reason
			}
			tc.Failure = &junitProblem{Message: msg, Detail: outcomeDetail(e)}
		}
		suite.Cases = append(suite.Cases, tc)
	}
	suite.Time = fmt.Sprintf("%.3f", totalSec)

	doc := junitSuites{
		Name:     title,
		Tests:    suite.Tests,
		Failures: suite.Failures,
		Errors:   suite.Errors,
		Time:     suite.Time,
		Suites:   []junitSuite{suite},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal junit report: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// outcomeDetail lists each assertion's verdict so the CI log shows what
// passed and what did not without opening the JSON report.
func outcomeDetail(e Entry) string {
	if e.Result == nil {
		return ""
	}
	detail := ""
	for _, oc := range e.Result.Results {
		switch {
		case oc.Err != "":
			detail += fmt.Sprintf("[error] %s: %s\n", oc.Assertion.Type, oc.Err)
		case oc.Result == nil:
			detail += fmt.Sprintf("[error] %s: no result\n", oc.Assertion.Type)
		case oc.Result.Pass:
			detail += fmt.Sprintf("[pass] %s (score %.3f)\n", oc.Assertion.Type, oc.Result.Score)
		default:
			detail += fmt.Sprintf("[fail] %s (score %.3f): %s\n", oc.Assertion.Type, oc.Result.Score, oc.Result.Reason)
		}
	}
	return detail
}
