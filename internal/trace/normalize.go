package trace

import (
	"sort"
	"strings"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// Normalize trims the trace ID, defaults span status to ok, and orders spans
// by start time so percentile and count checks see a stable view.
func Normalize(t *types.Trace) {
	t.TraceID = strings.TrimSpace(t.TraceID)
	for i := range t.Spans {
		if t.Spans[i].Status == "" {
			t.Spans[i].Status = types.SpanStatusOK
		}
	}
	sort.SliceStable(t.Spans, func(i, j int) bool {
		return t.Spans[i].StartUnixNano < t.Spans[j].StartUnixNano
	})
}
