package assertion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/verdictlabs/verdict/engine/internal/assertion/classify"
	"github.com/verdictlabs/verdict/engine/internal/assertion/embedding"
	"github.com/verdictlabs/verdict/engine/internal/assertion/judge"
	"github.com/verdictlabs/verdict/engine/internal/llm"
	"github.com/verdictlabs/verdict/engine/pkg/types"
	"github.com/yalp/jsonpath"
)

const (
	defaultRubricThreshold  = 0.8
	defaultGEvalThreshold   = 0.5
	defaultSimilarThreshold = 0.75
	defaultPIThreshold      = 0.5
)

// rubricStrategy drives the judge-backed checks that share the score-format
// contract: llm-rubric, g-eval, answer-relevance, the context family, and
// guardrails. Each op picks a rubric, composes the judge content, and
// compares the verdict score against its default threshold.
type rubricStrategy struct {
	judge *judge.Judge
	op    string
}

type rubricConfig struct {
	MetaEval bool
}

func (s *rubricStrategy) Remote() bool { return true }

func (s *rubricStrategy) Evaluate(ctx context.Context, in *Input) (*types.GradingResult, error) {
	var cfg rubricConfig
	if err := decodeConfig(in.Assertion, &cfg); err != nil {
		return nil, err
	}

	content, err := s.compose(in)
	if err != nil {
		return nil, err
	}

	rubric, def := rubricDefaults(s.op)
	req := &judge.Request{
		Rubric:       rubric,
		SystemPrompt: in.RubricPrompt,
		Content:      content,
		Model:        in.Assertion.Provider,
		MetaEval:     cfg.MetaEval,
	}
	verdict, err := s.judge.Score(ctx, req)
	if err != nil {
		return nil, err
	}

	threshold := in.Assertion.EffectiveThreshold(def)
	pass := verdict.Score >= threshold
	if verdict.Pass != nil {
		pass = *verdict.Pass
	}
	res := &types.GradingResult{
		Pass:       pass,
		Score:      clamp01(verdict.Score),
		Reason:     fmt.Sprintf("%s: judge scored %.2f (threshold %.2f): %s", s.op, verdict.Score, threshold, verdict.Reason),
		TokensUsed: verdict.Tokens,
	}
	return res, nil
}

// compose builds the judge user message for this op. Output text always goes
// through WrapOutput so judged content cannot steer the judge.
func (s *rubricStrategy) compose(in *Input) (string, error) {
	a := in.Assertion
	wrapped := judge.WrapOutput(in.Output)

	switch s.op {
	case types.TypeLLMRubric:
		criterion, err := rubricCriterion(a, in)
		if err != nil {
			return "", err
		}
		return "Criterion: " + criterion + "\n\nOutput:\n" + wrapped, nil

	case types.TypeGEval:
		steps, err := gevalSteps(a, in.Value)
		if err != nil {
			return "", err
		}
		return steps + "\n\nOutput:\n" + wrapped, nil

	case types.TypeAnswerRelevance:
		if strings.TrimSpace(in.Prompt) == "" {
			return "", types.NewResourceError("prompt", errors.New("answer-relevance requires the original prompt"))
		}
		return "Question:\n" + in.Prompt + "\n\nAnswer:\n" + wrapped, nil

	case types.TypeContextRecall:
		contextText, err := gradingContext(in)
		if err != nil {
			return "", err
		}
		expected, err := stringValue(a, in.Value)
		if err != nil {
			return "", err
		}
		return "Context:\n" + contextText + "\n\nExpected answer:\n" + judge.WrapOutput(expected), nil

	case types.TypeContextRelevance:
		if strings.TrimSpace(in.Prompt) == "" {
			return "", types.NewResourceError("prompt", errors.New("context-relevance requires the original prompt"))
		}
		contextText, err := gradingContext(in)
		if err != nil {
			return "", err
		}
		return "Question:\n" + in.Prompt + "\n\nContext:\n" + judge.WrapOutput(contextText), nil

	case types.TypeContextFaithfulness:
		contextText, err := gradingContext(in)
		if err != nil {
			return "", err
		}
		return "Context:\n" + contextText + "\n\nOutput:\n" + wrapped, nil

	case types.TypeGuardrails:
		if in.Value != nil {
			policy, err := stringValue(a, in.Value)
			if err != nil {
				return "", err
			}
			return "Policy:\n" + policy + "\n\nOutput:\n" + wrapped, nil
		}
		return "Output:\n" + wrapped, nil

	default:
		return "", &types.UnknownTypeError{Type: s.op}
	}
}

func rubricDefaults(op string) (rubric string, threshold float64) {
	switch op {
	case types.TypeLLMRubric:
		return "default", defaultRubricThreshold
	case types.TypeGEval:
		return "g-eval", defaultGEvalThreshold
	case types.TypeAnswerRelevance:
		return "answer-relevance", 0
	case types.TypeContextRecall:
		return "context-recall", 0
	case types.TypeContextRelevance:
		return "context-relevance", 0
	case types.TypeContextFaithfulness:
		return "context-faithfulness", 0
	case types.TypeGuardrails:
		return "guardrails", 0
	}
	return "default", defaultGEvalThreshold
}

// rubricCriterion allows llm-rubric to run with an empty value when the case
// supplies a rubric prompt override.
func rubricCriterion(a *types.Assertion, in *Input) (string, error) {
	if a.Value == nil && in.RubricPrompt != "" {
		return "see system prompt", nil
	}
	return stringValue(a, a.Value)
}

func gevalSteps(a *types.Assertion, value any) (string, error) {
	list, ok := value.([]any)
	if !ok {
		criterion, err := stringValue(a, value)
		if err != nil {
			return "", err
		}
		return "Evaluation steps:\n1. " + criterion, nil
	}
	if len(list) == 0 {
		return "", types.NewConfigError(a.Type, "requires at least one evaluation step")
	}
	var b strings.Builder
	b.WriteString("Evaluation steps:")
	for i, el := range list {
		step, err := stringValue(a, el)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, step)
	}
	return b.String(), nil
}

// gradingContext locates the context document for the context family. An
// explicit context_path runs as a JSONPath query over {vars, output, prompt};
// otherwise vars["context"] is used. Output is included parsed when it is
// itself JSON so paths can reach into structured outputs.
func gradingContext(in *Input) (string, error) {
	if path := in.Assertion.ContextPath; path != "" {
		var outDoc any = in.Output
		var parsed any
		if err := json.Unmarshal([]byte(in.Output), &parsed); err == nil {
			outDoc = parsed
		}
		doc := map[string]any{"vars": in.Vars, "output": outDoc, "prompt": in.Prompt}
		v, err := jsonpath.Read(doc, path)
		if err != nil {
			return "", types.NewResourceError("context", fmt.Errorf("context_path %q: %w", path, err))
		}
		return anyToText(v), nil
	}
	if v, ok := in.Vars["context"]; ok {
		return anyToText(v), nil
	}
	return "", types.NewResourceError("context", errors.New("no context variable and no context_path configured"))
}

// anyToText renders an extracted context value: strings pass through, string
// lists join as paragraphs, everything else renders as JSON.
func anyToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		allStrings := true
		for _, el := range t {
			s, ok := el.(string)
			if !ok {
				allStrings = false
				break
			}
			parts = append(parts, s)
		}
		if allStrings {
			return strings.Join(parts, "\n\n")
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

// factualityStrategy compares the output to an expert answer through the
// five-way factuality rubric. Per-category scores are configurable; by
// default only a disagreement fails.
type factualityStrategy struct {
	judge *judge.Judge
}

type factualityConfig struct {
	Subset     *float64
	Superset   *float64
	Equivalent *float64
	Disagree   *float64
	Differ     *float64
}

func (s *factualityStrategy) Remote() bool { return true }

func (s *factualityStrategy) Evaluate(ctx context.Context, in *Input) (*types.GradingResult, error) {
	var cfg factualityConfig
	if err := decodeConfig(in.Assertion, &cfg); err != nil {
		return nil, err
	}
	expert, err := stringValue(in.Assertion, in.Value)
	if err != nil {
		return nil, err
	}

	req := &judge.Request{
		Rubric:  "factuality",
		Content: "Expert answer:\n" + expert + "\n\nSubmitted answer:\n" + judge.WrapOutput(in.Output),
		Model:   in.Assertion.Provider,
	}
	choice, tokens, err := s.judge.Choose(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		score float64
		label string
	)
	switch choice {
	case 'A':
		score, label = categoryScore(cfg.Subset, 1), "subset of the expert answer"
	case 'B':
		score, label = categoryScore(cfg.Superset, 1), "superset of the expert answer"
	case 'C':
		score, label = categoryScore(cfg.Equivalent, 1), "equivalent to the expert answer"
	case 'D':
		score, label = categoryScore(cfg.Disagree, 0), "disagrees with the expert answer"
	case 'E':
		score, label = categoryScore(cfg.Differ, 1), "differs without factual impact"
	default:
		return nil, types.NewProviderError(s.judge.ProviderName(), false, fmt.Errorf("unexpected factuality choice %q", string(choice)))
	}

	res := &types.GradingResult{
		Pass:       score > 0,
		Score:      clamp01(score),
		Reason:     fmt.Sprintf("factuality (%s): output is a %s", string(choice), label),
		TokensUsed: tokens,
	}
	return res, nil
}

func categoryScore(override *float64, def float64) float64 {
	if override != nil {
		return *override
	}
	return def
}

// similarStrategy embeds the output and each reference and passes when the
// best match clears the threshold in the metric's own direction.
type similarStrategy struct {
	embedder embedding.Embedder
}

type similarConfig struct {
	Distance string
}

func (s *similarStrategy) Remote() bool { return true }

func (s *similarStrategy) Evaluate(ctx context.Context, in *Input) (*types.GradingResult, error) {
	var cfg similarConfig
	if err := decodeConfig(in.Assertion, &cfg); err != nil {
		return nil, err
	}
	metric, err := embedding.ParseMetric(cfg.Distance)
	if err != nil {
		return nil, types.NewConfigError(in.Assertion.Type+".config", "%v", err)
	}
	refs, err := referenceStrings(in.Assertion, in.Value)
	if err != nil {
		return nil, err
	}

	outVec, err := s.embedder.Embed(ctx, in.Output)
	if err != nil {
		return nil, err
	}

	var best float64
	haveBest := false
	for _, ref := range refs {
		refVec, err := s.embedder.Embed(ctx, ref)
		if err != nil {
			return nil, err
		}
		score, err := metric.Score(outVec, refVec)
		if err != nil {
			return nil, types.NewProviderError(s.embedder.Model(), false, err)
		}
		if !haveBest || metric.Better(score, best) {
			best = score
			haveBest = true
		}
	}

	threshold := in.Assertion.EffectiveThreshold(defaultSimilarThreshold)
	pass := metric.Passes(best, threshold)
	score := similarityScore(metric, best)
	direction := ">="
	noun := "similarity"
	if metric == embedding.MetricEuclidean {
		noun = "distance"
		direction = "<="
	}
	if !pass {
		direction = invertDirection(direction)
	}
	return &types.GradingResult{
		Pass:  pass,
		Score: score,
		Reason: fmt.Sprintf("%s %s %.4f %s threshold %.4f%s",
			string(metric), noun, best, direction, threshold, refSuffix(len(refs))),
	}, nil
}

// similarityScore keeps GradingResult.Score in [0, 1]: euclidean distances
// map through 1/(1+d), everything else clamps.
func similarityScore(metric embedding.Metric, raw float64) float64 {
	if metric == embedding.MetricEuclidean {
		return 1 / (1 + raw)
	}
	return clamp01(raw)
}

func invertDirection(dir string) string {
	if dir == ">=" {
		return "<"
	}
	return ">"
}

// classifierStrategy passes when the named class's probability clears the
// threshold. The default threshold 0 is pass-permissive for any output the
// classifier labels at all.
type classifierStrategy struct {
	classifier classify.Classifier
}

func (s *classifierStrategy) Remote() bool { return true }

func (s *classifierStrategy) Evaluate(ctx context.Context, in *Input) (*types.GradingResult, error) {
	class, err := stringValue(in.Assertion, in.Value)
	if err != nil {
		return nil, err
	}
	scores, err := s.classifier.Classify(ctx, in.Output)
	if err != nil {
		return nil, err
	}
	p, ok := classify.Probability(scores, class)
	if !ok {
		top, _ := classify.Top(scores)
		return failResult(0, "classifier %s returned no score for class %q (top class %q)", s.classifier.Model(), class, top.Label), nil
	}
	threshold := in.Assertion.EffectiveThreshold(0)
	if p >= threshold {
		return passResult(clamp01(p), "class %q probability %.4f >= threshold %.4f", class, p, threshold), nil
	}
	return failResult(clamp01(p), "class %q probability %.4f below threshold %.4f", class, p, threshold), nil
}

// piStrategy scores the prompt/output pair against a question through the
// preference-index endpoint.
type piStrategy struct {
	scorer *llm.PIScorer
}

func (s *piStrategy) Remote() bool { return true }

func (s *piStrategy) Evaluate(ctx context.Context, in *Input) (*types.GradingResult, error) {
	question, err := stringValue(in.Assertion, in.Value)
	if err != nil {
		return nil, err
	}
	score, err := s.scorer.Score(ctx, in.Prompt, in.Output, question)
	if err != nil {
		return nil, err
	}
	threshold := in.Assertion.EffectiveThreshold(defaultPIThreshold)
	if score >= threshold {
		return passResult(clamp01(score), "pi score %.4f >= threshold %.4f", score, threshold), nil
	}
	return failResult(clamp01(score), "pi score %.4f below threshold %.4f", score, threshold), nil
}
