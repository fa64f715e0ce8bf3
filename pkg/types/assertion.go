package types

import "strings"

// Strategy identifiers. An assertion's Type names the grading strategy that
// evaluates it; prefixing any base type with "not-" inverts the outcome.
const (
	TypeContains     = "contains"
	TypeIContains    = "icontains"
	TypeContainsAll  = "contains-all"
	TypeContainsAny  = "contains-any"
	TypeEquals       = "equals"
	TypeStartsWith   = "starts-with"
	TypeRegex        = "regex"
	TypeIsJSON       = "is-json"
	TypeContainsJSON = "contains-json"
	TypeIsXML        = "is-xml"
	TypeContainsXML  = "contains-xml"
	TypeContainsHTML = "contains-html"
	TypeIsSQL        = "is-sql"

	TypeLevenshtein = "levenshtein"
	TypeRougeN      = "rouge-n"
	TypeBLEU        = "bleu"
	TypeGLEU        = "gleu"
	TypeMETEOR      = "meteor"
	TypeFScore      = "f-score"

	TypeSimilar             = "similar"
	TypeClassifier          = "classifier"
	TypeLLMRubric           = "llm-rubric"
	TypeFactuality          = "factuality"
	TypeGEval               = "g-eval"
	TypePI                  = "pi"
	TypeAnswerRelevance     = "answer-relevance"
	TypeContextRecall       = "context-recall"
	TypeContextRelevance    = "context-relevance"
	TypeContextFaithfulness = "context-faithfulness"
	TypeGuardrails          = "guardrails"

	TypeTraceSpanCount    = "trace-span-count"
	TypeTraceSpanDuration = "trace-span-duration"
	TypeTraceErrorSpans   = "trace-error-spans"

	TypeWebhook    = "webhook"
	TypeJavascript = "javascript"
	TypePython     = "python"
	TypeLatency    = "latency"

	TypeAssertSet  = "assert-set"
	TypeSelectBest = "select-best"
	TypeMaxScore   = "max-score"
)

// NegationPrefix marks an inverted assertion type.
const NegationPrefix = "not-"

// Assertion is one declared check against a produced output. Value holds the
// reference before resolution: a literal, a list graded element-wise, or a
// file:// pointer loaded at grading time.
type Assertion struct {
	Type        string         `json:"type" yaml:"type"`
	Value       any            `json:"value,omitempty" yaml:"value,omitempty"`
	Threshold   *float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Weight      *float64       `json:"weight,omitempty" yaml:"weight,omitempty"`
	Provider    string         `json:"provider,omitempty" yaml:"provider,omitempty"`
	Metric      string         `json:"metric,omitempty" yaml:"metric,omitempty"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	ContextPath string         `json:"context_path,omitempty" yaml:"context_path,omitempty"`
	Ref         string         `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Assert      []Assertion    `json:"assert,omitempty" yaml:"assert,omitempty"`
}

// BaseType returns the strategy name with any negation prefix stripped.
func (a *Assertion) BaseType() string {
	return strings.TrimPrefix(a.Type, NegationPrefix)
}

// Negated reports whether the assertion's outcome is inverted.
func (a *Assertion) Negated() bool {
	return strings.HasPrefix(a.Type, NegationPrefix)
}

// EffectiveWeight returns the declared aggregation weight. Unset weights
// default to 1; an explicit 0 keeps the assertion out of the aggregate.
func (a *Assertion) EffectiveWeight() float64 {
	if a.Weight == nil {
		return 1
	}
	return *a.Weight
}

// EffectiveThreshold returns the declared threshold, or def when unset.
func (a *Assertion) EffectiveThreshold(def float64) float64 {
	if a.Threshold == nil {
		return def
	}
	return *a.Threshold
}

// GradingResult is the outcome of one strategy evaluation. Score stays in
// [0, 1]; distance-based strategies record a normalized similarity while the
// pass decision compares the raw distance to the threshold.
type GradingResult struct {
	Pass             bool               `json:"pass"`
	Score            float64            `json:"score"`
	Reason           string             `json:"reason"`
	ComponentResults []GradingResult    `json:"component_results,omitempty"`
	NamedScores      map[string]float64 `json:"named_scores,omitempty"`
	TokensUsed       *TokenUsage        `json:"tokens_used,omitempty"`
}

// TokenUsage records provider token consumption for judge-backed checks.
type TokenUsage struct {
	Prompt     int     `json:"prompt"`
	Completion int     `json:"completion"`
	Total      int     `json:"total"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
}

// Add accumulates usage from a follow-up provider call.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Total += other.Total
	u.CostUSD += other.CostUSD
}
