package types

// Span status values.
const (
	SpanStatusOK    = "ok"
	SpanStatusError = "error"
)

// Trace is a flat list of spans captured while the graded output was
// produced. Callers attach it to a CaseInput; the engine never collects
// traces itself.
type Trace struct {
	TraceID string `json:"trace_id,omitempty"`
	Spans   []Span `json:"spans"`
}

// Span is one timed operation inside a trace.
type Span struct {
	SpanID        string            `json:"span_id"`
	ParentID      string            `json:"parent_id,omitempty"`
	Name          string            `json:"name"`
	StartUnixNano int64             `json:"start_unix_nano"`
	EndUnixNano   int64             `json:"end_unix_nano"`
	Status        string            `json:"status,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// DurationMS returns the span's wall time in milliseconds.
func (s *Span) DurationMS() float64 {
	return float64(s.EndUnixNano-s.StartUnixNano) / 1e6
}

// IsError reports whether the span finished with error status.
func (s *Span) IsError() bool {
	return s.Status == SpanStatusError
}
