package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"

	"github.com/verdictlabs/verdict/engine/internal/assertion"
	"github.com/verdictlabs/verdict/engine/internal/assertion/classify"
	"github.com/verdictlabs/verdict/engine/internal/assertion/embedding"
	"github.com/verdictlabs/verdict/engine/internal/assertion/judge"
	"github.com/verdictlabs/verdict/engine/internal/cache"
	"github.com/verdictlabs/verdict/engine/internal/llm"
	"github.com/verdictlabs/verdict/engine/internal/metrics"
	"github.com/verdictlabs/verdict/engine/internal/report"
	"github.com/verdictlabs/verdict/engine/internal/resolver"
	"github.com/verdictlabs/verdict/engine/internal/runner"
	"github.com/verdictlabs/verdict/engine/internal/trace"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

const (
	engineVersion   = "0.3.0"
	protocolVersion = 1
)

// RegisterBuiltinHandlers registers the built-in JSON-RPC handlers on s.
// VERDICT_* env vars configure providers and caches: judge and embedding
// strategies light up only when a provider key is present, and initialize
// reports the resulting capability set to the client.
func RegisterBuiltinHandlers(s *Server) {
	opts := buildRegistryOptions(s.logger)
	registry := assertion.NewRegistry(opts...)
	res := resolver.New(workDirectory(), types.MissingVarError)
	run := runner.New(registry, res)

	s.RegisterHandler(types.MethodInitialize, handleInitialize(registry.Capabilities(), s.maxConcurrent))
	s.RegisterHandler(types.MethodEvaluateCase, handleEvaluateCase(run))
	s.RegisterHandler(types.MethodEvaluateGroup, handleEvaluateGroup(run))
	s.RegisterHandler(types.MethodResolveTemplates, handleResolveTemplates())
	s.RegisterHandler(types.MethodComputeMetrics, handleComputeMetrics(run))
	s.RegisterHandler(types.MethodReport, handleReport(run))
	s.RegisterHandler(types.MethodShutdown, handleShutdown)
}

// buildRegistryOptions reads env vars and constructs RegistryOption values
// for the provider-backed strategy families.
func buildRegistryOptions(logger *slog.Logger) []assertion.RegistryOption {
	var opts []assertion.RegistryOption

	if dir := workDirectory(); dir != "" {
		opts = append(opts, assertion.WithWorkDir(dir))
	}

	store := openCacheStore(logger)

	if embedder := buildEmbedder(logger, store); embedder != nil {
		opts = append(opts, assertion.WithEmbedder(embedder))
	}

	if provider, name := buildJudgeProvider(logger); provider != nil {
		jopts := []judge.Option{}
		if store != nil {
			jopts = append(jopts, judge.WithStore(store))
		}
		opts = append(opts, assertion.WithJudge(judge.New(provider, jopts...)))
		logger.Info("judge enabled", "provider", name)
	}

	if key := os.Getenv("VERDICT_HF_API_KEY"); key != "" {
		c := classify.NewHFClassifier(classify.HFConfig{
			APIKey: key,
			Model:  os.Getenv("VERDICT_HF_MODEL"),
		})
		opts = append(opts, assertion.WithClassifier(c))
		logger.Info("classifier enabled", "provider", "huggingface")
	}

	if key := os.Getenv("VERDICT_PI_API_KEY"); key != "" {
		scorer, err := llm.NewPIScorer(llm.PIScorerConfig{
			APIKey:  key,
			BaseURL: os.Getenv("VERDICT_PI_BASE_URL"),
		})
		if err != nil {
			logger.Warn("failed to create pi scorer", "err", err)
		} else {
			opts = append(opts, assertion.WithPIScorer(scorer))
			logger.Info("pi scorer enabled")
		}
	}

	return opts
}

// buildEmbedder selects an embedding backend. VERDICT_EMBEDDING_PROVIDER is
// "openai", "onnx", or "auto" (default): auto prefers OpenAI when a key is
// set and falls back to the local ONNX model when compiled in.
func buildEmbedder(logger *slog.Logger, store *cache.Store) embedding.Embedder {
	openAIKey := os.Getenv("VERDICT_OPENAI_API_KEY")
	provider := os.Getenv("VERDICT_EMBEDDING_PROVIDER")
	if provider == "" {
		provider = "auto"
	}

	var embedder embedding.Embedder

	if openAIKey != "" && (provider == "auto" || provider == "openai") {
		e, err := embedding.NewOpenAIEmbedder(embedding.EmbedderConfig{
			APIKey:  openAIKey,
			Model:   os.Getenv("VERDICT_EMBEDDING_MODEL"),
			BaseURL: os.Getenv("VERDICT_OPENAI_BASE_URL"),
		})
		if err != nil {
			logger.Warn("failed to create OpenAI embedder", "err", err)
		} else {
			embedder = e
			logger.Info("embedding enabled", "provider", "openai")
		}
	}

	if embedder == nil && (provider == "onnx" || (provider == "auto" && openAIKey == "")) {
		if embedding.ONNXAvailable {
			e, err := embedding.NewONNXEmbedder(embedding.EmbedderConfig{
				ModelDir: os.Getenv("VERDICT_ONNX_MODEL_DIR"),
			})
			if err != nil {
				logger.Warn("failed to create ONNX embedder", "err", err)
			} else {
				embedder = e
				logger.Info("embedding enabled", "provider", "onnx")
			}
		} else if provider == "onnx" {
			logger.Warn("onnx embedding requested but not compiled in, rebuild with -tags onnx")
		}
	}

	if embedder != nil && store != nil {
		embedder = embedding.NewCachedEmbedder(embedder, store)
	}
	return embedder
}

// buildJudgeProvider constructs the LLM provider behind judge-backed
// strategies. VERDICT_JUDGE_RPM > 0 wraps it in the rate-limiting decorator.
func buildJudgeProvider(logger *slog.Logger) (llm.Provider, string) {
	key := os.Getenv("VERDICT_OPENAI_API_KEY")
	if key == "" {
		return nil, ""
	}

	p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:  key,
		Model:   os.Getenv("VERDICT_JUDGE_MODEL"),
		BaseURL: os.Getenv("VERDICT_OPENAI_BASE_URL"),
	})
	if err != nil {
		logger.Warn("failed to create judge provider", "err", err)
		return nil, ""
	}

	var provider llm.Provider = p
	if rpm := envInt("VERDICT_JUDGE_RPM", 0); rpm > 0 {
		cfg := llm.DefaultRateLimiterConfig()
		cfg.RequestsPerMinute = rpm
		limited, err := llm.NewRateLimitedProvider(provider, cfg)
		if err != nil {
			logger.Warn("failed to create rate limiter", "err", err)
		} else {
			provider = limited
		}
	}
	return provider, p.Name()
}

// openCacheStore opens the shared SQLite cache. Failures log and return nil;
// every strategy works uncached.
func openCacheStore(logger *slog.Logger) *cache.Store {
	dir := cacheDirectory()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("failed to create cache dir", "dir", dir, "err", err)
		return nil
	}
	store, err := cache.Open(filepath.Join(dir, "verdict.db"), envInt("VERDICT_CACHE_MAX_MB", 500))
	if err != nil {
		logger.Warn("failed to open cache", "err", err)
		return nil
	}
	return store
}

// cacheDirectory returns the cache directory from env or default.
func cacheDirectory() string {
	if dir := os.Getenv("VERDICT_CACHE_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".verdict", "cache")
}

// workDirectory returns the base directory for file:// values and code
// assertions. Empty means the process working directory.
func workDirectory() string {
	return os.Getenv("VERDICT_WORK_DIR")
}

// envInt reads an int from an env var with a fallback default.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func protocolError(message, detail string) *types.RPCError {
	return types.NewRPCError(types.ErrProtocol, message, types.ErrTypeProtocol, false, detail)
}

// prepareTrace normalizes and validates a caller-supplied trace before any
// strategy reads it. A nil trace is fine; trace assertions surface that case
// themselves.
func prepareTrace(tr *types.Trace) *types.RPCError {
	if tr == nil {
		return nil
	}
	trace.Normalize(tr)
	return trace.Validate(tr)
}

func requireInitialized(session *Session, method string) *types.RPCError {
	if session.State() != StateInitialized {
		return protocolError(
			method+" called before initialize",
			"call initialize first to establish a session",
		)
	}
	return nil
}

func handleInitialize(caps []string, maxConcurrent int) Handler {
	return func(session *Session, params json.RawMessage) (any, *types.RPCError) {
		if session.State() != StateUninitialized {
			return nil, protocolError(
				"initialize called on already-initialized session",
				"initialize may only be called once per session",
			)
		}

		var p types.InitializeParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocolError("invalid initialize params", err.Error())
		}

		if p.ProtocolVersion != protocolVersion {
			return nil, protocolError(
				fmt.Sprintf("protocol version %d not supported; engine supports version %d", p.ProtocolVersion, protocolVersion),
				"upgrade the engine binary or downgrade the SDK protocol_version",
			)
		}

		supported := make(map[string]bool, len(caps))
		for _, c := range caps {
			supported[c] = true
		}
		missing := []string{}
		for _, req := range p.RequiredCapabilities {
			if !supported[req] {
				missing = append(missing, req)
			}
		}

		session.SetState(StateInitialized)

		return &types.InitializeResult{
			EngineVersion:         engineVersion,
			ProtocolVersion:       protocolVersion,
			Capabilities:          caps,
			Missing:               missing,
			Compatible:            len(missing) == 0,
			MaxConcurrentRequests: maxConcurrent,
		}, nil
	}
}

func handleEvaluateCase(run *runner.Runner) Handler {
	return func(session *Session, params json.RawMessage) (any, *types.RPCError) {
		if rpcErr := requireInitialized(session, types.MethodEvaluateCase); rpcErr != nil {
			return nil, rpcErr
		}

		var p types.EvaluateCaseParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocolError("invalid evaluate_case params", err.Error())
		}
		if rpcErr := prepareTrace(p.Input.Trace); rpcErr != nil {
			return nil, rpcErr
		}

		result, err := run.GradeCase(context.Background(), &p.Case, &p.Input)
		if err != nil {
			return nil, types.RPCErrorFor(err)
		}

		session.RecordCase(report.Entry{
			Description: p.Case.Description,
			Result:      result,
		})

		return &types.EvaluateCaseResult{Result: result}, nil
	}
}

func handleEvaluateGroup(run *runner.Runner) Handler {
	return func(session *Session, params json.RawMessage) (any, *types.RPCError) {
		if rpcErr := requireInitialized(session, types.MethodEvaluateGroup); rpcErr != nil {
			return nil, rpcErr
		}

		var p types.EvaluateGroupParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocolError("invalid evaluate_group params", err.Error())
		}

		inputs := make([]*types.CaseInput, len(p.Inputs))
		for i := range p.Inputs {
			if rpcErr := prepareTrace(p.Inputs[i].Trace); rpcErr != nil {
				return nil, rpcErr
			}
			inputs[i] = &p.Inputs[i]
		}

		results, err := run.GradeGroup(context.Background(), &p.Case, inputs)
		if err != nil {
			return nil, types.RPCErrorFor(err)
		}

		winner := groupWinner(&p.Case, results)
		for i, res := range results {
			e := report.Entry{
				Description: candidateDescription(&p.Case, len(results), i),
				Result:      res,
				Winner:      winner != nil && *winner == i,
			}
			if comparativeIndex(&p.Case) >= 0 {
				e.Group = groupLabel(p.Inputs[i].GroupID)
			}
			session.RecordCase(e)
		}

		return &types.EvaluateGroupResult{Results: results, Winner: winner}, nil
	}
}

// comparativeIndex returns the slot of the first comparative assertion, or -1.
func comparativeIndex(tc *types.TestCase) int {
	for j := range tc.Assert {
		if assertion.Comparative(tc.Assert[j].BaseType()) {
			return j
		}
	}
	return -1
}

// groupWinner finds the candidate a comparative assertion selected: the
// highest comparative score, provided some candidate actually won. Ties keep
// the first candidate, matching the selector.
func groupWinner(tc *types.TestCase, results []*types.CaseResult) *int {
	j := comparativeIndex(tc)
	if j < 0 {
		return nil
	}

	best := -1
	bestScore := 0.0
	anyPass := false
	for i, res := range results {
		if res == nil || j >= len(res.Results) || res.Results[j].Result == nil {
			continue
		}
		r := res.Results[j].Result
		if r.Pass {
			anyPass = true
		}
		if best == -1 || r.Score > bestScore {
			best = i
			bestScore = r.Score
		}
	}
	if best < 0 || !anyPass {
		return nil
	}
	return &best
}

func candidateDescription(tc *types.TestCase, total, i int) string {
	desc := tc.Description
	if desc == "" {
		desc = "case"
	}
	if total <= 1 {
		return tc.Description
	}
	return fmt.Sprintf("%s (candidate %d)", desc, i)
}

func groupLabel(groupID string) string {
	if groupID == "" {
		return "default"
	}
	return groupID
}

func handleResolveTemplates() Handler {
	return func(session *Session, params json.RawMessage) (any, *types.RPCError) {
		if rpcErr := requireInitialized(session, types.MethodResolveTemplates); rpcErr != nil {
			return nil, rpcErr
		}

		var p types.ResolveTemplatesParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocolError("invalid resolve_templates params", err.Error())
		}

		lib := p.Library
		if p.LibraryPath != "" {
			loaded, err := resolver.LoadTemplateLibrary(libraryPath(p.LibraryPath))
			if err != nil {
				return nil, types.RPCErrorFor(err)
			}
			lib = append(lib, loaded...)
		}

		expanded, err := resolver.ExpandRefs(p.Assert, lib)
		if err != nil {
			return nil, types.RPCErrorFor(err)
		}

		return &types.ResolveTemplatesResult{Assert: expanded}, nil
	}
}

// libraryPath anchors a relative library path at the work directory.
func libraryPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if dir := workDirectory(); dir != "" {
		return filepath.Join(dir, path)
	}
	return path
}

func handleComputeMetrics(run *runner.Runner) Handler {
	return func(session *Session, params json.RawMessage) (any, *types.RPCError) {
		if rpcErr := requireInitialized(session, types.MethodComputeMetrics); rpcErr != nil {
			return nil, rpcErr
		}

		var p types.ComputeMetricsParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocolError("invalid compute_metrics params", err.Error())
		}

		named := run.Collector().Freeze()
		derived := metrics.ComputeDerived(p.Derived, named)
		session.SetDerived(derived)

		return &types.ComputeMetricsResult{Named: named, Derived: derived}, nil
	}
}

func handleReport(run *runner.Runner) Handler {
	return func(session *Session, params json.RawMessage) (any, *types.RPCError) {
		if rpcErr := requireInitialized(session, types.MethodReport); rpcErr != nil {
			return nil, rpcErr
		}

		var p types.ReportParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocolError("invalid report params", err.Error())
		}

		entries, startedAt := session.Entries()
		r := &report.Run{
			Title:     p.Title,
			StartedAt: startedAt,
			Entries:   entries,
			Named:     run.Collector().Freeze(),
			Derived:   session.Derived(),
		}

		format := strings.ToLower(p.Format)
		if format == "" {
			format = "markdown"
		}

		var content []byte
		var err error
		switch format {
		case "json":
			content, err = report.JSON(r)
		case "markdown", "md":
			format = "markdown"
			var b strings.Builder
			err = report.Markdown(&b, r)
			content = []byte(b.String())
		case "junit", "xml":
			format = "junit"
			content, err = report.JUnit(r)
		default:
			return nil, protocolError(
				fmt.Sprintf("unsupported report format %q", p.Format),
				"supported formats: json, markdown, junit",
			)
		}
		if err != nil {
			return nil, protocolError("failed to render report", err.Error())
		}

		return &types.ReportResult{Format: format, Content: string(content)}, nil
	}
}

func handleShutdown(session *Session, _ json.RawMessage) (any, *types.RPCError) {
	if session.State() != StateInitialized {
		return nil, protocolError(
			"shutdown called on uninitialized or already-shutting-down session",
			"call initialize before shutdown",
		)
	}

	session.SetState(StateShuttingDown)
	cases, assertions := session.Stats()

	return &types.ShutdownResult{
		CasesEvaluated:      int(cases),
		AssertionsEvaluated: int(assertions),
	}, nil
}
