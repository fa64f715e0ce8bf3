package trace

import (
	"strings"
	"testing"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

func span(id, parent, name string, start, end int64, status string) types.Span {
	return types.Span{
		SpanID:        id,
		ParentID:      parent,
		Name:          name,
		StartUnixNano: start,
		EndUnixNano:   end,
		Status:        status,
	}
}

func validTrace() *types.Trace {
	return &types.Trace{
		TraceID: "trc_001",
		Spans: []types.Span{
			span("s1", "", "agent.run", 0, 50_000_000, types.SpanStatusOK),
			span("s2", "s1", "tool.search", 5_000_000, 20_000_000, types.SpanStatusOK),
			span("s3", "s1", "llm.generate", 20_000_000, 45_000_000, types.SpanStatusError),
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		trace   func() *types.Trace
		wantMsg string
	}{
		{
			name:  "valid trace passes",
			trace: validTrace,
		},
		{
			name: "span missing name",
			trace: func() *types.Trace {
				tr := validTrace()
				tr.Spans[1].Name = "   "
				return tr
			},
			wantMsg: "missing required field: name",
		},
		{
			name: "invalid span status",
			trace: func() *types.Trace {
				tr := validTrace()
				tr.Spans[0].Status = "pending"
				return tr
			},
			wantMsg: "invalid status",
		},
		{
			name: "span ends before it starts",
			trace: func() *types.Trace {
				tr := validTrace()
				tr.Spans[2].EndUnixNano = tr.Spans[2].StartUnixNano - 1
				return tr
			},
			wantMsg: "ends before it starts",
		},
		{
			name: "duplicate span id",
			trace: func() *types.Trace {
				tr := validTrace()
				tr.Spans[2].SpanID = "s2"
				return tr
			},
			wantMsg: "duplicate span_id",
		},
		{
			name: "span is its own parent",
			trace: func() *types.Trace {
				tr := validTrace()
				tr.Spans[1].ParentID = "s2"
				return tr
			},
			wantMsg: "its own parent",
		},
		{
			name: "too many spans",
			trace: func() *types.Trace {
				tr := &types.Trace{TraceID: "trc_big", Spans: make([]types.Span, MaxSpansPerTrace+1)}
				for i := range tr.Spans {
					tr.Spans[i] = span("", "", "step", 0, 1, "")
				}
				return tr
			},
			wantMsg: "exceeds max spans",
		},
		{
			name: "oversized span payload",
			trace: func() *types.Trace {
				tr := validTrace()
				tr.Spans[0].Attributes = map[string]string{"blob": strings.Repeat("x", MaxSpanPayload)}
				return tr
			},
			wantMsg: "exceeds max payload size",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.trace())
			if tc.wantMsg == "" {
				if err != nil {
					t.Fatalf("expected no error, got code=%d message=%q", err.Code, err.Message)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantMsg)
			}
			if !strings.Contains(err.Message, tc.wantMsg) {
				t.Errorf("expected message containing %q, got %q", tc.wantMsg, err.Message)
			}
			if err.Code != types.ErrProtocol {
				t.Errorf("expected code %d, got %d", types.ErrProtocol, err.Code)
			}
			if err.Data == nil {
				t.Fatal("expected non-nil error data")
			}
			if err.Data.ErrorType != types.ErrTypeProtocol {
				t.Errorf("expected error type %q, got %q", types.ErrTypeProtocol, err.Data.ErrorType)
			}
			if err.Data.Retryable {
				t.Error("expected retryable=false for trace validation errors")
			}
			if err.Data.Detail == "" {
				t.Error("expected non-empty detail in error data")
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Run("trims whitespace from trace id", func(t *testing.T) {
		tr := &types.Trace{TraceID: "  trc_123  "}
		Normalize(tr)
		if tr.TraceID != "trc_123" {
			t.Errorf("expected TraceID %q, got %q", "trc_123", tr.TraceID)
		}
	})

	t.Run("defaults empty status to ok", func(t *testing.T) {
		tr := &types.Trace{TraceID: "trc_123", Spans: []types.Span{
			span("s1", "", "a", 0, 1, ""),
			span("s2", "", "b", 0, 1, types.SpanStatusError),
		}}
		Normalize(tr)
		if tr.Spans[0].Status != types.SpanStatusOK {
			t.Errorf("expected status %q, got %q", types.SpanStatusOK, tr.Spans[0].Status)
		}
		if tr.Spans[1].Status != types.SpanStatusError {
			t.Errorf("expected error status preserved, got %q", tr.Spans[1].Status)
		}
	})

	t.Run("orders spans by start time", func(t *testing.T) {
		tr := &types.Trace{TraceID: "trc_123", Spans: []types.Span{
			span("s3", "", "late", 30, 40, ""),
			span("s1", "", "early", 0, 10, ""),
			span("s2", "", "middle", 10, 20, ""),
		}}
		Normalize(tr)
		want := []string{"early", "middle", "late"}
		for i, name := range want {
			if tr.Spans[i].Name != name {
				t.Errorf("span %d: expected %q, got %q", i, name, tr.Spans[i].Name)
			}
		}
	})
}

func TestMatch(t *testing.T) {
	tr := validTrace()

	tests := []struct {
		name    string
		pattern string
		want    int
		wantErr bool
	}{
		{name: "empty pattern matches all", pattern: "", want: 3},
		{name: "star matches all", pattern: "*", want: 3},
		{name: "exact name", pattern: "tool.search", want: 1},
		{name: "prefix glob", pattern: "tool.*", want: 1},
		{name: "case insensitive", pattern: "TOOL.*", want: 1},
		{name: "single char wildcard", pattern: "agent.ru?", want: 1},
		{name: "no match", pattern: "db.*", want: 0},
		{name: "invalid glob", pattern: "[", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Match(tr, tc.pattern)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for pattern %q, got %d span(s)", tc.pattern, len(got))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tc.want {
				t.Errorf("pattern %q: expected %d span(s), got %d", tc.pattern, tc.want, len(got))
			}
		})
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{name: "empty", values: nil, p: 50, want: 0},
		{name: "single value", values: []float64{7}, p: 50, want: 7},
		{name: "p50 of four", values: []float64{1, 2, 3, 4}, p: 50, want: 2},
		{name: "p100 is max", values: []float64{3, 1, 2}, p: 100, want: 3},
		{name: "above 100 clamps to max", values: []float64{3, 1, 2}, p: 150, want: 3},
		{name: "zero clamps to min", values: []float64{3, 1, 2}, p: 0, want: 1},
		{name: "unsorted input", values: []float64{9, 1, 5, 3, 7}, p: 60, want: 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Percentile(tc.values, tc.p); got != tc.want {
				t.Errorf("Percentile(%v, %g) = %g, want %g", tc.values, tc.p, got, tc.want)
			}
		})
	}
}

func TestSpanHelpers(t *testing.T) {
	tr := validTrace()

	t.Run("ErrorCount", func(t *testing.T) {
		if got := ErrorCount(tr.Spans); got != 1 {
			t.Errorf("expected 1 error span, got %d", got)
		}
	})

	t.Run("ErrorRate", func(t *testing.T) {
		if got := ErrorRate(tr.Spans); got != 1.0/3.0 {
			t.Errorf("expected error rate 1/3, got %g", got)
		}
		if got := ErrorRate(nil); got != 0 {
			t.Errorf("expected 0 for empty spans, got %g", got)
		}
	})

	t.Run("Durations", func(t *testing.T) {
		got := Durations(tr.Spans)
		want := []float64{50, 15, 25}
		if len(got) != len(want) {
			t.Fatalf("expected %d durations, got %d", len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("duration %d: expected %gms, got %gms", i, want[i], got[i])
			}
		}
	})
}
