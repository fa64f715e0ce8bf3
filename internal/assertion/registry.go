package assertion

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/verdictlabs/verdict/engine/internal/assertion/classify"
	"github.com/verdictlabs/verdict/engine/internal/assertion/embedding"
	"github.com/verdictlabs/verdict/engine/internal/assertion/judge"
	"github.com/verdictlabs/verdict/engine/internal/llm"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// Registry maps assertion type strings to Strategy implementations. Local
// strategies are always registered; provider-backed ones register only when
// the corresponding option supplies a client.
type Registry struct {
	strategies map[string]Strategy
	judge      *judge.Judge
	caps       []string
}

// registryConfig holds optional provider-backed configuration.
type registryConfig struct {
	judge      *judge.Judge
	embedder   embedding.Embedder
	classifier classify.Classifier
	piScorer   *llm.PIScorer
	httpClient *http.Client
	workDir    string
}

// RegistryOption configures optional strategies on a Registry.
type RegistryOption func(*registryConfig)

// WithJudge enables the judge-backed strategies and the select-best selector.
func WithJudge(j *judge.Judge) RegistryOption {
	return func(cfg *registryConfig) { cfg.judge = j }
}

// WithEmbedder enables the similar strategy.
func WithEmbedder(e embedding.Embedder) RegistryOption {
	return func(cfg *registryConfig) { cfg.embedder = e }
}

// WithClassifier enables the classifier strategy.
func WithClassifier(c classify.Classifier) RegistryOption {
	return func(cfg *registryConfig) { cfg.classifier = c }
}

// WithPIScorer enables the pi strategy.
func WithPIScorer(s *llm.PIScorer) RegistryOption {
	return func(cfg *registryConfig) { cfg.piScorer = s }
}

// WithHTTPClient replaces the webhook strategy's HTTP client.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(cfg *registryConfig) { cfg.httpClient = c }
}

// WithWorkDir sets the directory code assertions run in and resolve
// relative paths against.
func WithWorkDir(dir string) RegistryOption {
	return func(cfg *registryConfig) { cfg.workDir = dir }
}

// NewRegistry creates a registry with the built-in strategies registered.
// Content, structural, distance, trace, webhook, code, and latency checks are
// always available. Judge, similar, classifier, and pi register when the
// corresponding RegistryOption is provided.
func NewRegistry(opts ...RegistryOption) *Registry {
	cfg := registryConfig{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(&cfg)
	}

	r := &Registry{strategies: make(map[string]Strategy)}

	for _, op := range []string{
		types.TypeContains, types.TypeIContains, types.TypeContainsAll,
		types.TypeContainsAny, types.TypeEquals, types.TypeStartsWith, types.TypeRegex,
	} {
		r.Register(op, &contentStrategy{op: op})
	}

	r.Register(types.TypeIsJSON, &jsonStrategy{})
	r.Register(types.TypeContainsJSON, &jsonStrategy{contains: true})
	r.Register(types.TypeIsXML, &xmlStrategy{})
	r.Register(types.TypeContainsXML, &xmlStrategy{contains: true})
	r.Register(types.TypeContainsHTML, &htmlStrategy{})
	r.Register(types.TypeIsSQL, &sqlStrategy{})

	for _, op := range []string{
		types.TypeLevenshtein, types.TypeRougeN, types.TypeBLEU,
		types.TypeGLEU, types.TypeMETEOR, types.TypeFScore,
	} {
		r.Register(op, &distanceStrategy{op: op})
	}

	r.Register(types.TypeTraceSpanCount, &spanCountStrategy{})
	r.Register(types.TypeTraceSpanDuration, &spanDurationStrategy{})
	r.Register(types.TypeTraceErrorSpans, &errorSpansStrategy{})

	r.Register(types.TypeWebhook, &webhookStrategy{client: cfg.httpClient})
	r.Register(types.TypeJavascript, &codeStrategy{lang: langJavascript, workDir: cfg.workDir})
	r.Register(types.TypePython, &codeStrategy{lang: langPython, workDir: cfg.workDir})
	r.Register(types.TypeLatency, &latencyStrategy{})

	caps := []string{"content", "structural", "distance", "composition", "trace", "webhook", "code", "latency"}

	if cfg.judge != nil {
		r.judge = cfg.judge
		for _, op := range []string{
			types.TypeLLMRubric, types.TypeGEval, types.TypeAnswerRelevance,
			types.TypeContextRecall, types.TypeContextRelevance,
			types.TypeContextFaithfulness, types.TypeGuardrails,
		} {
			r.Register(op, &rubricStrategy{judge: cfg.judge, op: op})
		}
		r.Register(types.TypeFactuality, &factualityStrategy{judge: cfg.judge})
		caps = append(caps, "judge", "comparative")
		slog.Debug("judge strategies registered",
			"pass_permissive", []string{types.TypeAnswerRelevance, types.TypeContextRecall, types.TypeContextRelevance, types.TypeContextFaithfulness, types.TypeGuardrails})
	}
	if cfg.embedder != nil {
		r.Register(types.TypeSimilar, &similarStrategy{embedder: cfg.embedder})
		caps = append(caps, "similar")
	}
	if cfg.classifier != nil {
		r.Register(types.TypeClassifier, &classifierStrategy{classifier: cfg.classifier})
		caps = append(caps, "classifier")
	}
	if cfg.piScorer != nil {
		r.Register(types.TypePI, &piStrategy{scorer: cfg.piScorer})
		caps = append(caps, "pi")
	}

	sort.Strings(caps)
	r.caps = caps
	return r
}

// Register adds a strategy for a base assertion type.
func (r *Registry) Register(assertionType string, s Strategy) {
	r.strategies[assertionType] = s
}

// Get returns the strategy for an assertion type. A "not-" prefix resolves to
// the base strategy wrapped in the inverting decorator.
func (r *Registry) Get(assertionType string) (Strategy, error) {
	base := strings.TrimPrefix(assertionType, types.NegationPrefix)
	s, ok := r.strategies[base]
	if !ok {
		return nil, &types.UnknownTypeError{Type: assertionType}
	}
	if base != assertionType {
		return &negated{inner: s}, nil
	}
	return s, nil
}

// Has reports whether assertionType can be evaluated by this registry,
// negation prefix and composition types included.
func (r *Registry) Has(assertionType string) bool {
	base := strings.TrimPrefix(assertionType, types.NegationPrefix)
	if Structural(base) {
		if base != assertionType {
			return false
		}
		if base == types.TypeSelectBest {
			return r.judge != nil
		}
		return true
	}
	_, ok := r.strategies[base]
	return ok
}

// Judge exposes the configured judge for the comparative selector. Nil when
// no judge was configured.
func (r *Registry) Judge() *judge.Judge { return r.judge }

// Capabilities lists the strategy groups this registry can serve, sorted,
// for the initialize handshake.
func (r *Registry) Capabilities() []string { return r.caps }

// Structural reports whether baseType is a composition operator evaluated by
// the case runner rather than a registered strategy.
func Structural(baseType string) bool {
	switch baseType {
	case types.TypeAssertSet, types.TypeSelectBest, types.TypeMaxScore:
		return true
	}
	return false
}

// Comparative reports whether baseType grades sibling candidates against each
// other instead of one output in isolation.
func Comparative(baseType string) bool {
	return baseType == types.TypeSelectBest || baseType == types.TypeMaxScore
}

// Validate walks an assertion tree before grading starts. Unknown types,
// negated composition operators, empty assert-sets, and comparative
// assertions nested inside an assert-set all fail fast.
func (r *Registry) Validate(asserts []types.Assertion) error {
	return r.validate(asserts, false)
}

func (r *Registry) validate(asserts []types.Assertion, nested bool) error {
	for i := range asserts {
		a := &asserts[i]
		base := a.BaseType()
		if Structural(base) {
			if a.Negated() {
				return types.NewConfigError("type", "%s cannot be negated", a.Type)
			}
			if Comparative(base) {
				if nested {
					return types.NewConfigError("type", "%s cannot appear inside an assert-set", a.Type)
				}
				if base == types.TypeSelectBest && r.judge == nil {
					return types.NewConfigError("type", "select-best requires a configured judge")
				}
				continue
			}
			if len(a.Assert) == 0 {
				return types.NewConfigError("assert", "assert-set requires a non-empty assert list")
			}
			if err := r.validate(a.Assert, true); err != nil {
				return err
			}
			continue
		}
		if _, ok := r.strategies[base]; !ok {
			return &types.UnknownTypeError{Type: a.Type}
		}
	}
	return nil
}

// negated inverts the wrapped strategy's outcome: pass flips, and scores in
// [0, 1] remap to 1-score so aggregation still rewards the desired direction.
// Errors pass through, a check that could not run stays could-not-run.
type negated struct {
	inner Strategy
}

func (n *negated) Remote() bool { return n.inner.Remote() }

func (n *negated) Evaluate(ctx context.Context, in *Input) (*types.GradingResult, error) {
	res, err := n.inner.Evaluate(ctx, in)
	if err != nil {
		return nil, err
	}
	out := *res
	out.Pass = !res.Pass
	if res.Score >= 0 && res.Score <= 1 {
		out.Score = 1 - res.Score
	}
	out.Reason = "negated: " + res.Reason
	return &out, nil
}
