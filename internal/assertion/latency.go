package assertion

import (
	"context"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// latencyStrategy compares the caller-measured production latency against a
// millisecond ceiling. The engine never times providers it did not invoke,
// so an absent measurement is a resource problem, not a slow response.
type latencyStrategy struct{}

func (s *latencyStrategy) Remote() bool { return false }

func (s *latencyStrategy) Evaluate(_ context.Context, in *Input) (*types.GradingResult, error) {
	if in.Assertion.Threshold == nil {
		return nil, types.NewConfigError(types.TypeLatency, "requires a threshold in milliseconds")
	}
	maxMS := *in.Assertion.Threshold
	if maxMS <= 0 {
		return nil, types.NewConfigError(types.TypeLatency, "threshold must be positive, got %g", maxMS)
	}
	if in.LatencyMS <= 0 {
		return nil, types.NewResourceError("latency", types.ErrLatencyUnset)
	}
	if float64(in.LatencyMS) <= maxMS {
		return passResult(1, "latency %dms <= %gms", in.LatencyMS, maxMS), nil
	}
	return failResult(0, "latency %dms exceeds %gms", in.LatencyMS, maxMS), nil
}
