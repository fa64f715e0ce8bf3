package assertion

import (
	"context"
	"regexp"
	"strings"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// maxRegexPatternLength caps regex pattern size so a pathological config
// cannot stall the engine.
const maxRegexPatternLength = 10000

// contentStrategy implements the pure string checks: contains, icontains,
// contains-all, contains-any, equals, starts-with, and regex. All are
// synchronous and deterministic with binary scores.
type contentStrategy struct {
	op string
}

func (s *contentStrategy) Remote() bool { return false }

func (s *contentStrategy) Evaluate(_ context.Context, in *Input) (*types.GradingResult, error) {
	switch s.op {
	case types.TypeContains, types.TypeIContains:
		needle, err := stringValue(in.Assertion, in.Value)
		if err != nil {
			return nil, err
		}
		haystack := in.Output
		if s.op == types.TypeIContains {
			haystack = strings.ToLower(haystack)
			needle = strings.ToLower(needle)
		}
		if strings.Contains(haystack, needle) {
			return passResult(1, "output contains %q", needle), nil
		}
		return failResult(0, "output does not contain %q", needle), nil

	case types.TypeContainsAll:
		needles, err := referenceStrings(in.Assertion, in.Value)
		if err != nil {
			return nil, err
		}
		var missing []string
		for _, n := range needles {
			if !strings.Contains(in.Output, n) {
				missing = append(missing, n)
			}
		}
		score := float64(len(needles)-len(missing)) / float64(len(needles))
		if len(missing) == 0 {
			return passResult(1, "output contains all %d values", len(needles)), nil
		}
		return failResult(score, "output missing values: %q", missing), nil

	case types.TypeContainsAny:
		needles, err := referenceStrings(in.Assertion, in.Value)
		if err != nil {
			return nil, err
		}
		for _, n := range needles {
			if strings.Contains(in.Output, n) {
				return passResult(1, "output contains %q", n), nil
			}
		}
		return failResult(0, "output contains none of %q", needles), nil

	case types.TypeEquals:
		want, err := stringValue(in.Assertion, in.Value)
		if err != nil {
			return nil, err
		}
		if in.Output == want {
			return passResult(1, "output equals expected value"), nil
		}
		return failResult(0, "output does not equal %q", truncate(want, 120)), nil

	case types.TypeStartsWith:
		prefix, err := stringValue(in.Assertion, in.Value)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(in.Output, prefix) {
			return passResult(1, "output starts with %q", prefix), nil
		}
		return failResult(0, "output does not start with %q", prefix), nil

	case types.TypeRegex:
		pattern, err := stringValue(in.Assertion, in.Value)
		if err != nil {
			return nil, err
		}
		if len(pattern) > maxRegexPatternLength {
			return nil, types.NewConfigError(s.op, "regex pattern exceeds maximum length: %d > %d", len(pattern), maxRegexPatternLength)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, types.NewConfigError(s.op, "invalid regex %q: %v", pattern, err)
		}
		if re.MatchString(in.Output) {
			return passResult(1, "output matches /%s/", pattern), nil
		}
		return failResult(0, "output does not match /%s/", pattern), nil

	default:
		return nil, &types.UnknownTypeError{Type: s.op}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
