package judge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/verdictlabs/verdict/engine/internal/cache"
	"github.com/verdictlabs/verdict/engine/internal/llm"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

const (
	judgeMaxTokens = 256

	metaEvalRuns              = 3
	metaEvalTemperature       = 0.3
	metaEvalVarianceThreshold = 0.2
)

// Verdict is a judge's graded opinion of one piece of content.
type Verdict struct {
	Score  float64
	Reason string
	Pass   *bool // set only when the judge stated pass/fail explicitly
	Tokens *types.TokenUsage
	Cached bool
}

// Request describes one judge call. Content is the fully composed user
// message; callers wrap graded output with WrapOutput before composing.
type Request struct {
	Rubric       string // registry rubric name; "" means "default"
	SystemPrompt string // overrides the registry rubric when non-empty
	Content      string
	Model        string // "" uses the provider default
	MetaEval     bool   // force meta-evaluation for this call only
}

// Judge runs rubric-driven grading calls against an LLM provider, with an
// optional verdict cache and optional meta-evaluation.
type Judge struct {
	provider llm.Provider
	rubrics  *RubricRegistry
	store    *cache.Store
	timeout  time.Duration
	metaEval bool
}

// Option configures a Judge.
type Option func(*Judge)

// WithStore attaches a verdict cache. nil disables caching.
func WithStore(s *cache.Store) Option {
	return func(j *Judge) { j.store = s }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(j *Judge) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithMetaEval forces meta-evaluation on or off regardless of environment.
func WithMetaEval(enabled bool) Option {
	return func(j *Judge) { j.metaEval = enabled }
}

// WithRegistry replaces the built-in rubric registry.
func WithRegistry(r *RubricRegistry) Option {
	return func(j *Judge) { j.rubrics = r }
}

// New creates a Judge on the given provider. Timeout comes from
// VERDICT_JUDGE_TIMEOUT_S (default 30s) and meta-evaluation from
// VERDICT_JUDGE_META_EVAL, unless options override them.
func New(provider llm.Provider, opts ...Option) *Judge {
	j := &Judge{
		provider: provider,
		rubrics:  NewRubricRegistry(),
		timeout:  time.Duration(timeoutSecondsFromEnv()) * time.Second,
		metaEval: os.Getenv("VERDICT_JUDGE_META_EVAL") == "true",
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Rubrics exposes the registry so callers can register custom rubrics.
func (j *Judge) Rubrics() *RubricRegistry { return j.rubrics }

// ProviderName names the backing provider, for error reporting and logs.
func (j *Judge) ProviderName() string { return j.provider.Name() }

// timeoutSecondsFromEnv reads VERDICT_JUDGE_TIMEOUT_S, defaulting to 30.
func timeoutSecondsFromEnv() int {
	v := os.Getenv("VERDICT_JUDGE_TIMEOUT_S")
	if v == "" {
		return 30
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 30
	}
	return n
}

// resolve picks the system prompt and model for a request.
func (j *Judge) resolve(req *Request) (systemPrompt, model string, err error) {
	systemPrompt = req.SystemPrompt
	if systemPrompt == "" {
		name := req.Rubric
		if name == "" {
			name = "default"
		}
		rubric, rErr := j.rubrics.Get(name)
		if rErr != nil {
			return "", "", rErr
		}
		systemPrompt = rubric.SystemPrompt
	}
	model = req.Model
	if model == "" {
		model = j.provider.DefaultModel()
	}
	return systemPrompt, model, nil
}

func (j *Judge) complete(ctx context.Context, systemPrompt, content, model string, temperature float64) (*llm.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	return j.provider.Complete(ctx, &llm.CompletionRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: content}},
		Temperature:  temperature,
		MaxTokens:    judgeMaxTokens,
	})
}

// Score runs a score-rubric judge call and parses the verdict. Results are
// served from and written to the verdict cache when one is attached.
func (j *Judge) Score(ctx context.Context, req *Request) (*Verdict, error) {
	systemPrompt, model, err := j.resolve(req)
	if err != nil {
		return nil, err
	}

	var key string
	if j.store != nil {
		key = cache.VerdictKey(model, systemPrompt, req.Content)
		if cached, cErr := j.store.GetVerdict(key); cErr == nil && cached != nil {
			return &Verdict{Score: cached.Score, Reason: cached.Reason, Cached: true}, nil
		}
	}

	var verdict *Verdict
	if j.metaEval || req.MetaEval {
		verdict, err = j.scoreMetaEval(ctx, systemPrompt, req.Content, model)
	} else {
		verdict, err = j.scoreSingle(ctx, systemPrompt, req.Content, model)
	}
	if err != nil {
		return nil, err
	}

	if j.store != nil {
		if putErr := j.store.PutVerdict(key, &cache.Verdict{
			Score:  verdict.Score,
			Reason: verdict.Reason,
			Model:  model,
		}); putErr != nil {
			slog.Warn("verdict cache write failed", "err", putErr)
		}
	}

	return verdict, nil
}

func (j *Judge) scoreSingle(ctx context.Context, systemPrompt, content, model string) (*Verdict, error) {
	resp, err := j.complete(ctx, systemPrompt, content, model, 0.0)
	if err != nil {
		return nil, err
	}

	result, err := ParseScoreResult(resp.Content)
	if err != nil {
		return nil, types.NewProviderError(j.provider.Name(), false, fmt.Errorf("parse judge response: %w", err))
	}

	return &Verdict{
		Score:  result.Score,
		Reason: result.Reason,
		Pass:   result.Pass,
		Tokens: resp.Usage(),
	}, nil
}

// scoreMetaEval runs the judge several times concurrently at a nonzero
// temperature, takes the median score, and flags high variance in the
// reason.
func (j *Judge) scoreMetaEval(ctx context.Context, systemPrompt, content, model string) (*Verdict, error) {
	type runResult struct {
		score  float64
		reason string
		tokens *types.TokenUsage
		err    error
	}
	results := make([]runResult, metaEvalRuns)

	var wg sync.WaitGroup
	for i := 0; i < metaEvalRuns; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			resp, err := j.complete(ctx, systemPrompt, content, model, metaEvalTemperature)
			if err != nil {
				results[idx] = runResult{err: err}
				return
			}
			sr, err := ParseScoreResult(resp.Content)
			if err != nil {
				results[idx] = runResult{err: err}
				return
			}
			results[idx] = runResult{score: sr.Score, reason: sr.Reason, tokens: resp.Usage()}
		}(i)
	}
	wg.Wait()

	var scores []float64
	var reasons []string
	tokens := &types.TokenUsage{}
	var firstErr error
	for i, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		scores = append(scores, r.score)
		reasons = append(reasons, fmt.Sprintf("Run %d: %s", i+1, r.reason))
		tokens.Add(r.tokens)
	}

	if len(scores) == 0 {
		return nil, fmt.Errorf("all %d meta-eval runs failed: %w", metaEvalRuns, firstErr)
	}

	sort.Float64s(scores)
	median := scores[len(scores)/2]

	spread := scores[len(scores)-1] - scores[0]
	var varianceNote string
	if spread > metaEvalVarianceThreshold {
		varianceNote = fmt.Sprintf(" [HIGH VARIANCE: spread=%.2f across %d runs]", spread, len(scores))
	}

	return &Verdict{
		Score:  median,
		Reason: strings.Join(reasons, " | ") + " | Median selected." + varianceNote,
		Tokens: tokens,
	}, nil
}

// Choose runs a choice-rubric judge call (factuality) and returns the
// selected category letter. Choice calls are not cached.
func (j *Judge) Choose(ctx context.Context, req *Request) (byte, *types.TokenUsage, error) {
	systemPrompt, model, err := j.resolve(req)
	if err != nil {
		return 0, nil, err
	}

	resp, err := j.complete(ctx, systemPrompt, req.Content, model, 0.0)
	if err != nil {
		return 0, nil, err
	}

	choice, err := ParseChoice(resp.Content)
	if err != nil {
		return 0, resp.Usage(), types.NewProviderError(j.provider.Name(), false, err)
	}
	return choice, resp.Usage(), nil
}

// Pick runs an index-rubric judge call (select-best) and returns the chosen
// candidate index. Pick calls are not cached.
func (j *Judge) Pick(ctx context.Context, req *Request) (int, *types.TokenUsage, error) {
	systemPrompt, model, err := j.resolve(req)
	if err != nil {
		return 0, nil, err
	}

	resp, err := j.complete(ctx, systemPrompt, req.Content, model, 0.0)
	if err != nil {
		return 0, nil, err
	}

	idx, err := ParseIndex(resp.Content)
	if err != nil {
		return 0, resp.Usage(), types.NewProviderError(j.provider.Name(), false, err)
	}
	return idx, resp.Usage(), nil
}
