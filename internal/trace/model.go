package trace

import "github.com/verdictlabs/verdict/engine/pkg/types"

// ErrorCount returns how many of the given spans finished with error status.
func ErrorCount(spans []types.Span) int {
	n := 0
	for i := range spans {
		if spans[i].IsError() {
			n++
		}
	}
	return n
}

// ErrorRate returns the fraction of spans with error status, 0 for an empty
// slice.
func ErrorRate(spans []types.Span) float64 {
	if len(spans) == 0 {
		return 0
	}
	return float64(ErrorCount(spans)) / float64(len(spans))
}

// Durations returns the wall time of each span in milliseconds.
func Durations(spans []types.Span) []float64 {
	out := make([]float64, len(spans))
	for i := range spans {
		out[i] = spans[i].DurationMS()
	}
	return out
}
