package types

// Missing-variable policies for template rendering.
const (
	MissingVarError = "error"
	MissingVarEmpty = "empty"
)

// TestCase declares what to grade: an ordered list of assertions plus an
// optional case-level threshold. When Threshold is nil the case passes only if
// every positively weighted assertion passes.
type TestCase struct {
	Description string         `json:"description,omitempty"`
	Vars        map[string]any `json:"vars,omitempty"`
	Assert      []Assertion    `json:"assert"`
	Threshold   *float64       `json:"threshold,omitempty"`
	Options     CaseOptions    `json:"options,omitempty"`
}

// CaseOptions carries per-case overrides of engine defaults.
type CaseOptions struct {
	Provider     string `json:"provider,omitempty"`
	RubricPrompt string `json:"rubric_prompt,omitempty"`
	OnMissingVar string `json:"on_missing_var,omitempty"`
}

// CaseInput is the produced artifact under grading. LatencyMS is the
// wall-clock duration of the producing call as measured by the caller; the
// engine never times providers it did not invoke. GroupID links sibling
// candidates for comparative assertions.
type CaseInput struct {
	Output    string         `json:"output"`
	Prompt    string         `json:"prompt,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Vars      map[string]any `json:"vars,omitempty"`
	LatencyMS int64          `json:"latency_ms,omitempty"`
	Trace     *Trace         `json:"trace,omitempty"`
	GroupID   string         `json:"group_id,omitempty"`
}

// AssertionOutcome pairs one assertion with its grading result. Err is set
// only when the assertion could not be evaluated at all, which is distinct
// from an evaluated-and-failed result.
type AssertionOutcome struct {
	Assertion  Assertion      `json:"assertion"`
	Result     *GradingResult `json:"result,omitempty"`
	Err        string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// CaseResult aggregates every assertion outcome for one input. Results keeps
// declared assertion order regardless of evaluation order.
type CaseResult struct {
	Pass        bool               `json:"pass"`
	Score       float64            `json:"score"`
	Reason      string             `json:"reason,omitempty"`
	Results     []AssertionOutcome `json:"results"`
	NamedScores map[string]float64 `json:"named_scores,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// AssertionTemplate is a named reusable assertion. Templates load from a
// library file and are referenced from test cases via $ref.
type AssertionTemplate struct {
	Name   string    `json:"name" yaml:"name"`
	Assert Assertion `json:"assert" yaml:"assert"`
}

// DerivedMetric names an arithmetic expression computed over the run's
// recorded named metrics.
type DerivedMetric struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}
