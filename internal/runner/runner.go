// Package runner grades test cases. It resolves assertion values, schedules
// strategy evaluation with local checks inline and provider-backed checks on
// a bounded pool, folds weighted results into case-level grades, and applies
// comparative selectors across sibling candidates after the join barrier.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/verdictlabs/verdict/engine/internal/assertion"
	"github.com/verdictlabs/verdict/engine/internal/metrics"
	"github.com/verdictlabs/verdict/engine/internal/resolver"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// DefaultWorkers bounds concurrent remote evaluations unless
// VERDICT_MAX_WORKERS overrides it.
const DefaultWorkers = 8

// Runner grades test cases against produced outputs. A Runner is safe for
// concurrent use; the metrics collector is its only mutable state.
type Runner struct {
	registry  *assertion.Registry
	resolver  *resolver.Resolver
	collector *metrics.Collector
	workers   int
}

// Option configures a Runner.
type Option func(*Runner)

// WithCollector attaches the run-level metrics collector shared across cases.
func WithCollector(c *metrics.Collector) Option {
	return func(r *Runner) { r.collector = c }
}

// WithWorkers overrides the remote evaluation pool size.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// New builds a Runner over a strategy registry and value resolver. The pool
// size comes from VERDICT_MAX_WORKERS when set.
func New(reg *assertion.Registry, res *resolver.Resolver, opts ...Option) *Runner {
	r := &Runner{registry: reg, resolver: res, workers: workersFromEnv()}
	for _, o := range opts {
		o(r)
	}
	if r.collector == nil {
		r.collector = metrics.NewCollector()
	}
	return r
}

// Collector exposes the run-level metrics collector for the derived-metric
// read phase.
func (r *Runner) Collector() *metrics.Collector { return r.collector }

func workersFromEnv() int {
	if v := os.Getenv("VERDICT_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultWorkers
}

// GradeCase grades one produced output against the test case. Comparative
// assertions see a group of one. The returned error is reserved for
// configuration problems and cancellation; everything the taxonomy counts as
// "evaluated and failed" or "could not evaluate" lands in the CaseResult.
func (r *Runner) GradeCase(ctx context.Context, tc *types.TestCase, in *types.CaseInput) (*types.CaseResult, error) {
	results, err := r.GradeGroup(ctx, tc, []*types.CaseInput{in})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// GradeGroup grades sibling outputs of one test case. Inputs sharing a
// GroupID compare against each other for select-best and max-score; inputs
// without one form a single implicit group. Results keep input order.
func (r *Runner) GradeGroup(ctx context.Context, tc *types.TestCase, inputs []*types.CaseInput) ([]*types.CaseResult, error) {
	if tc == nil || len(tc.Assert) == 0 {
		return nil, types.NewConfigError("assert", "test case declares no assertions")
	}
	if len(inputs) == 0 {
		return nil, types.NewConfigError("inputs", "no outputs to grade")
	}
	if err := r.registry.Validate(tc.Assert); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	start := time.Now()

	res := r.resolver.WithPolicy(tc.Options.OnMissingVar)
	vars := make([]map[string]any, len(inputs))
	units := make([][]*unit, len(inputs))
	outcomes := make([][]types.AssertionOutcome, len(inputs))
	for i, in := range inputs {
		vars[i] = mergeVars(tc.Vars, in.Vars)
		units[i] = make([]*unit, len(tc.Assert))
		outcomes[i] = make([]types.AssertionOutcome, len(tc.Assert))
		for j := range tc.Assert {
			a := &tc.Assert[j]
			outcomes[i][j].Assertion = *a
			if assertion.Comparative(a.BaseType()) {
				continue // graded in the selector pass
			}
			u, err := r.prepare(res, a, vars[i], tc.Options.Provider)
			if err != nil {
				return nil, err
			}
			units[i][j] = u
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	var inlineErr error
dispatch:
	for i := range inputs {
		for j := range tc.Assert {
			u := units[i][j]
			if u == nil {
				continue
			}
			if u.remote {
				g.Go(func() error {
					oc, err := r.evaluateUnit(gctx, u, tc, inputs[i], vars[i])
					if err != nil {
						return err
					}
					outcomes[i][j] = oc
					return nil
				})
				continue
			}
			oc, err := r.evaluateUnit(gctx, u, tc, inputs[i], vars[i])
			if err != nil {
				inlineErr = err
				break dispatch
			}
			outcomes[i][j] = oc
		}
	}
	if inlineErr != nil {
		cancel()
	}
	if err := g.Wait(); err != nil && inlineErr == nil {
		inlineErr = err
	}
	if inlineErr != nil {
		return nil, inlineErr
	}

	if err := r.applySelectors(ctx, tc, inputs, outcomes); err != nil {
		return nil, err
	}

	results := make([]*types.CaseResult, len(inputs))
	for i := range inputs {
		results[i] = r.finishCase(tc, outcomes[i])
	}

	slog.Debug("group graded",
		"run_id", runID,
		"candidates", len(inputs),
		"assertions", len(tc.Assert),
		"duration_ms", time.Since(start).Milliseconds())
	return results, nil
}

// unit is one prepared evaluation: a leaf strategy with its resolved value,
// or an assert-set of nested units. A unit is remote when anything in it
// leaves the process.
type unit struct {
	a          *types.Assertion
	strat      assertion.Strategy
	value      any
	resolveErr error // pending ResourceError, graded as a failure
	members    []*unit
	remote     bool
}

// prepare resolves one assertion into an executable unit. Value resolution
// happens here, before any evaluation starts, so configuration mistakes
// abort the run with nothing graded. Resource problems ride along on the
// unit and grade as failing results.
func (r *Runner) prepare(res *resolver.Resolver, a *types.Assertion, vars map[string]any, defaultProvider string) (*unit, error) {
	if a.Provider == "" && defaultProvider != "" {
		cp := *a
		cp.Provider = defaultProvider
		a = &cp
	}
	u := &unit{a: a}

	if a.BaseType() == types.TypeAssertSet {
		u.members = make([]*unit, len(a.Assert))
		for k := range a.Assert {
			m, err := r.prepare(res, &a.Assert[k], vars, defaultProvider)
			if err != nil {
				return nil, err
			}
			u.members[k] = m
			if m.remote {
				u.remote = true
			}
		}
		return u, nil
	}

	strat, err := r.registry.Get(a.Type)
	if err != nil {
		return nil, err
	}
	u.strat = strat
	u.remote = strat.Remote()

	value, err := res.Resolve(a.Value, vars)
	if err != nil {
		var resErr *types.ResourceError
		if errors.As(err, &resErr) {
			u.resolveErr = err
			return u, nil
		}
		return nil, err
	}
	u.value = value
	return u, nil
}

// evaluateUnit grades one prepared unit and classifies its errors: taxonomy
// errors that mean "evaluated and failed" become failing results, "could not
// evaluate" errors land in the outcome's Err field, and configuration
// mistakes or cancellation abort the run.
func (r *Runner) evaluateUnit(ctx context.Context, u *unit, tc *types.TestCase, in *types.CaseInput, vars map[string]any) (types.AssertionOutcome, error) {
	oc := types.AssertionOutcome{Assertion: *u.a}
	start := time.Now()

	var res *types.GradingResult
	var err error
	switch {
	case u.resolveErr != nil:
		err = u.resolveErr
	case u.members != nil:
		res, err = r.evaluateSet(ctx, u, tc, in, vars)
	default:
		res, err = u.strat.Evaluate(ctx, &assertion.Input{
			Output:       in.Output,
			Value:        u.value,
			Assertion:    u.a,
			Vars:         vars,
			Prompt:       in.Prompt,
			RubricPrompt: tc.Options.RubricPrompt,
			LatencyMS:    in.LatencyMS,
			Trace:        in.Trace,
		})
	}
	oc.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		if abortsRun(err) {
			return oc, err
		}
		if soft := softResult(u.a, err); soft != nil {
			oc.Result = soft
			return oc, nil
		}
		oc.Err = err.Error()
		return oc, nil
	}
	oc.Result = res
	return oc, nil
}

// evaluateSet grades an assert-set's members sequentially and folds them into
// one result under the set's own threshold, so the set contributes a single
// weighted unit to its parent. A member that could not be evaluated makes the
// whole set unevaluable.
func (r *Runner) evaluateSet(ctx context.Context, u *unit, tc *types.TestCase, in *types.CaseInput, vars map[string]any) (*types.GradingResult, error) {
	components := make([]types.GradingResult, len(u.members))
	items := make([]aggItem, len(u.members))
	for k, m := range u.members {
		oc, err := r.evaluateUnit(ctx, m, tc, in, vars)
		if err != nil {
			return nil, err
		}
		if oc.Err != "" {
			return nil, errors.New(oc.Err)
		}
		components[k] = *oc.Result
		items[k] = aggItem{pass: oc.Result.Pass, score: oc.Result.Score, weight: m.a.EffectiveWeight()}
	}

	pass, score, vacuous := aggregate(items, u.a.Threshold)
	res := &types.GradingResult{Pass: pass, Score: score, ComponentResults: components}
	switch {
	case vacuous:
		res.Reason = "no weighted checks in set"
	case u.a.Threshold != nil && pass:
		res.Reason = fmt.Sprintf("set score %.4f meets threshold %g", score, *u.a.Threshold)
	case u.a.Threshold != nil:
		res.Reason = fmt.Sprintf("set score %.4f below threshold %g", score, *u.a.Threshold)
	case pass:
		res.Reason = fmt.Sprintf("all %d checks passed", countWeighted(items))
	default:
		for k, it := range items {
			if it.weight > 0 && !it.pass {
				res.Reason = fmt.Sprintf("%s: %s", u.a.Assert[k].Type, components[k].Reason)
				break
			}
		}
	}
	return res, nil
}

// finishCase records the case's metric samples and folds its outcomes into
// the case-level grade.
func (r *Runner) finishCase(tc *types.TestCase, outcomes []types.AssertionOutcome) *types.CaseResult {
	samples := collectSamples(outcomes)
	for _, s := range samples {
		if err := r.collector.Record(s.name, s.score, s.weight); err != nil {
			slog.Warn("metric sample dropped", "metric", s.name, "err", err)
		}
	}
	return buildCaseResult(tc, outcomes, samples)
}

// abortsRun reports whether an evaluation error ends the whole run instead
// of grading one assertion: configuration mistakes and cancellation do,
// everything else stays local to its outcome.
func abortsRun(err error) bool {
	var cfgErr *types.ConfigError
	var unkErr *types.UnknownTypeError
	var schErr *types.SchemaError
	return errors.As(err, &cfgErr) || errors.As(err, &unkErr) || errors.As(err, &schErr) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// softResult converts "evaluated and failed" taxonomy errors into failing
// results. Trace-unavailable and webhook transport errors return nil: those
// mean the check could not be evaluated, which the outcome records as a hard
// error distinct from a failure.
func softResult(a *types.Assertion, err error) *types.GradingResult {
	var traceErr *types.TraceUnavailableError
	if errors.As(err, &traceErr) {
		return nil
	}
	var provErr *types.ProviderError
	if errors.As(err, &provErr) {
		if a.BaseType() == types.TypeWebhook {
			return nil
		}
		return &types.GradingResult{Pass: false, Score: 0, Reason: provErr.Error()}
	}
	var resErr *types.ResourceError
	if errors.As(err, &resErr) {
		return &types.GradingResult{Pass: false, Score: 0, Reason: resErr.Error()}
	}
	var codeErr *types.CodeError
	if errors.As(err, &codeErr) {
		return &types.GradingResult{Pass: false, Score: 0, Reason: codeErr.Error()}
	}
	return nil
}

// mergeVars overlays per-input vars on the case vars.
func mergeVars(base, over map[string]any) map[string]any {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
