package assertion

import (
	"context"
	"fmt"

	"github.com/verdictlabs/verdict/engine/internal/trace"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// traceConfig decodes trace-check options from config, falling back to a
// map-shaped assertion value. Both forms appear in the wild.
func traceConfig(in *Input, out any) error {
	if len(in.Assertion.Config) > 0 {
		return decodeConfig(in.Assertion, out)
	}
	if m, ok := in.Value.(map[string]any); ok {
		return decodeMap(m, out, in.Assertion.Type+".value")
	}
	return nil
}

// requireTrace returns the input's trace or the typed could-not-evaluate
// error that keeps missing telemetry distinct from a failed check.
func requireTrace(in *Input) (*types.Trace, error) {
	if in.Trace == nil {
		return nil, &types.TraceUnavailableError{Check: in.Assertion.Type}
	}
	return in.Trace, nil
}

// spanCountStrategy checks how many spans match a glob pattern.
type spanCountStrategy struct{}

type spanCountConfig struct {
	Pattern string
	Min     *int
	Max     *int
}

func (s *spanCountStrategy) Remote() bool { return false }

func (s *spanCountStrategy) Evaluate(_ context.Context, in *Input) (*types.GradingResult, error) {
	var cfg spanCountConfig
	if err := traceConfig(in, &cfg); err != nil {
		return nil, err
	}
	if cfg.Min == nil && cfg.Max == nil {
		return nil, types.NewConfigError(in.Assertion.Type, "requires min or max")
	}

	tr, err := requireTrace(in)
	if err != nil {
		return nil, err
	}
	matched, err := trace.Match(tr, cfg.Pattern)
	if err != nil {
		return nil, types.NewConfigError(in.Assertion.Type+".pattern", "invalid glob %q: %v", cfg.Pattern, err)
	}

	count := len(matched)
	if cfg.Min != nil && count < *cfg.Min {
		return failResult(0, "%d span(s) match %q, fewer than min %d", count, cfg.Pattern, *cfg.Min), nil
	}
	if cfg.Max != nil && count > *cfg.Max {
		return failResult(0, "%d span(s) match %q, more than max %d", count, cfg.Pattern, *cfg.Max), nil
	}
	return passResult(1, "%d span(s) match %q within bounds%s", count, cfg.Pattern, countBounds(cfg.Min, cfg.Max)), nil
}

func countBounds(min, max *int) string {
	switch {
	case min != nil && max != nil:
		return fmt.Sprintf(" [%d, %d]", *min, *max)
	case min != nil:
		return fmt.Sprintf(" [>= %d]", *min)
	case max != nil:
		return fmt.Sprintf(" [<= %d]", *max)
	}
	return ""
}

// spanDurationStrategy checks a duration percentile of matching spans
// against a millisecond ceiling.
type spanDurationStrategy struct{}

type spanDurationConfig struct {
	Pattern    string
	MaxMS      float64
	Percentile float64
}

func (s *spanDurationStrategy) Remote() bool { return false }

func (s *spanDurationStrategy) Evaluate(_ context.Context, in *Input) (*types.GradingResult, error) {
	var cfg spanDurationConfig
	if err := traceConfig(in, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxMS <= 0 {
		return nil, types.NewConfigError(in.Assertion.Type, "requires a positive maxMs")
	}
	pct := cfg.Percentile
	if pct == 0 {
		pct = 100
	}
	if pct < 0 || pct > 100 {
		return nil, types.NewConfigError(in.Assertion.Type, "percentile must be in (0, 100], got %g", pct)
	}

	tr, err := requireTrace(in)
	if err != nil {
		return nil, err
	}
	matched, err := trace.Match(tr, cfg.Pattern)
	if err != nil {
		return nil, types.NewConfigError(in.Assertion.Type+".pattern", "invalid glob %q: %v", cfg.Pattern, err)
	}
	if len(matched) == 0 {
		return failResult(0, "no spans match %q, duration cannot be verified", cfg.Pattern), nil
	}

	value := trace.Percentile(trace.Durations(matched), pct)
	if value <= cfg.MaxMS {
		return passResult(1, "p%g duration %.1fms <= %.1fms across %d span(s)", pct, value, cfg.MaxMS, len(matched)), nil
	}
	return failResult(0, "p%g duration %.1fms exceeds %.1fms across %d span(s)", pct, value, cfg.MaxMS, len(matched)), nil
}

// errorSpansStrategy bounds the number or rate of error-status spans.
type errorSpansStrategy struct{}

type errorSpansConfig struct {
	Pattern  string
	MaxCount *int
	MaxRate  *float64
}

func (s *errorSpansStrategy) Remote() bool { return false }

func (s *errorSpansStrategy) Evaluate(_ context.Context, in *Input) (*types.GradingResult, error) {
	var cfg errorSpansConfig
	if err := traceConfig(in, &cfg); err != nil {
		return nil, err
	}

	tr, err := requireTrace(in)
	if err != nil {
		return nil, err
	}
	matched, err := trace.Match(tr, cfg.Pattern)
	if err != nil {
		return nil, types.NewConfigError(in.Assertion.Type+".pattern", "invalid glob %q: %v", cfg.Pattern, err)
	}

	errCount := trace.ErrorCount(matched)
	if cfg.MaxRate != nil {
		rate := trace.ErrorRate(matched)
		if rate <= *cfg.MaxRate {
			return passResult(1, "error rate %.3f <= %.3f (%d of %d spans)", rate, *cfg.MaxRate, errCount, len(matched)), nil
		}
		return failResult(0, "error rate %.3f exceeds %.3f (%d of %d spans)", rate, *cfg.MaxRate, errCount, len(matched)), nil
	}

	maxCount := 0
	if cfg.MaxCount != nil {
		maxCount = *cfg.MaxCount
	}
	if errCount <= maxCount {
		return passResult(1, "%d error span(s) <= max %d", errCount, maxCount), nil
	}
	return failResult(0, "%d error span(s) exceed max %d", errCount, maxCount), nil
}
