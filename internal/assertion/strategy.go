// Package assertion implements the grading strategies. Every assertion type
// maps to a Strategy; the Registry resolves type strings to strategies and
// wraps negated types in an inverting decorator. Strategies are stateless
// with respect to a single evaluation and safe for concurrent use.
package assertion

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-viper/mapstructure/v2"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// Input carries everything a strategy may inspect when grading one output.
// Value is the assertion's reference after resolution: templates rendered,
// file:// references loaded, lists kept as []any.
type Input struct {
	Output       string
	Value        any
	Assertion    *types.Assertion
	Vars         map[string]any
	Prompt       string
	RubricPrompt string
	LatencyMS    int64
	Trace        *types.Trace
}

// Strategy grades one output against one assertion. Evaluate returns a
// GradingResult for anything that counts as evaluated, passed or failed; it
// returns an error only when the check could not run at all.
type Strategy interface {
	Evaluate(ctx context.Context, in *Input) (*types.GradingResult, error)

	// Remote reports whether evaluation leaves the process (model provider,
	// webhook, subprocess). The runner schedules remote strategies on the
	// bounded worker pool and gives local ones the fast path.
	Remote() bool
}

func passResult(score float64, format string, args ...any) *types.GradingResult {
	return &types.GradingResult{Pass: true, Score: score, Reason: fmt.Sprintf(format, args...)}
}

func failResult(score float64, format string, args ...any) *types.GradingResult {
	return &types.GradingResult{Pass: false, Score: score, Reason: fmt.Sprintf(format, args...)}
}

// decodeConfig maps the assertion's free-form config block onto a typed
// struct. Keys match field names case-insensitively; type mismatches are
// reported as config errors keyed by the assertion type.
func decodeConfig(a *types.Assertion, out any) error {
	if len(a.Config) == 0 {
		return nil
	}
	return decodeMap(a.Config, out, a.Type+".config")
}

func decodeMap(m map[string]any, out any, field string) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build config decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return types.NewConfigError(field, "%v", err)
	}
	return nil
}

// stringValue coerces a resolved reference value to text. Scalars format the
// way JSON renders them; structured values are rejected so a misconfigured
// reference fails loudly instead of matching against "map[...]".
func stringValue(a *types.Assertion, v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case nil:
		return "", types.NewConfigError(a.Type, "requires a value")
	default:
		return "", types.NewConfigError(a.Type, "value must be a string or scalar, got %T", v)
	}
}

// referenceStrings returns the reference value as a list: a []any fans out
// element-wise, anything else becomes a single-element list.
func referenceStrings(a *types.Assertion, v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		s, err := stringValue(a, v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	if len(list) == 0 {
		return nil, types.NewConfigError(a.Type, "requires at least one value")
	}
	out := make([]string, len(list))
	for i, el := range list {
		s, err := stringValue(a, el)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// floatValue coerces a resolved reference to a number.
func floatValue(a *types.Assertion, v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, types.NewConfigError(a.Type, "value %q is not a number", t)
		}
		return f, nil
	default:
		return 0, types.NewConfigError(a.Type, "value must be a number, got %T", v)
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func boolToScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
