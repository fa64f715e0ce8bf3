package trace

import (
	"fmt"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

const (
	MaxTraceSize     = 10485760 // 10 MB
	MaxSpansPerTrace = 10000
	MaxSpanPayload   = 1048576 // 1 MB
)

var validStatuses = map[string]struct{}{
	"":                    {},
	types.SpanStatusOK:    {},
	types.SpanStatusError: {},
}

// Validate enforces the ingest limits on a caller-supplied trace. Returns nil
// when the trace is usable, or an RPCError describing the first violation.
func Validate(t *types.Trace) *types.RPCError {
	traceBytes, err := json.Marshal(t)
	if err != nil {
		return types.NewRPCError(
			types.ErrProtocol,
			"trace could not be serialized for size check",
			types.ErrTypeProtocol,
			false,
			"Ensure all trace fields contain valid JSON-serializable values.",
		)
	}
	if len(traceBytes) > MaxTraceSize {
		return types.NewRPCError(
			types.ErrProtocol,
			fmt.Sprintf("trace exceeds max size: %d > %d bytes", len(traceBytes), MaxTraceSize),
			types.ErrTypeProtocol,
			false,
			fmt.Sprintf("Reduce trace size by filtering spans or truncating attributes. Max allowed: %d bytes (10 MB).", MaxTraceSize),
		)
	}
	if len(t.Spans) > MaxSpansPerTrace {
		return types.NewRPCError(
			types.ErrProtocol,
			fmt.Sprintf("trace exceeds max spans: %d > %d", len(t.Spans), MaxSpansPerTrace),
			types.ErrTypeProtocol,
			false,
			fmt.Sprintf("Reduce the number of spans to %d or fewer.", MaxSpansPerTrace),
		)
	}

	seen := make(map[string]struct{}, len(t.Spans))
	for i := range t.Spans {
		s := &t.Spans[i]
		if strings.TrimSpace(s.Name) == "" {
			return types.NewRPCError(
				types.ErrProtocol,
				"trace span missing required field: name",
				types.ErrTypeProtocol,
				false,
				"Every span must include a non-empty name string.",
			)
		}
		if s.SpanID != "" {
			if _, dup := seen[s.SpanID]; dup {
				return types.NewRPCError(
					types.ErrProtocol,
					fmt.Sprintf("trace contains duplicate span_id %q", s.SpanID),
					types.ErrTypeProtocol,
					false,
					"Every span_id must be unique within the trace.",
				)
			}
			seen[s.SpanID] = struct{}{}
		}
		if s.ParentID != "" && s.ParentID == s.SpanID {
			return types.NewRPCError(
				types.ErrProtocol,
				fmt.Sprintf("trace span %q is its own parent", s.Name),
				types.ErrTypeProtocol,
				false,
				"A span's parent_id must reference a different span.",
			)
		}
		if _, ok := validStatuses[s.Status]; !ok {
			return types.NewRPCError(
				types.ErrProtocol,
				fmt.Sprintf("trace span %q has invalid status %q", s.Name, s.Status),
				types.ErrTypeProtocol,
				false,
				`Span status must be "ok", "error", or omitted.`,
			)
		}
		if s.EndUnixNano < s.StartUnixNano {
			return types.NewRPCError(
				types.ErrProtocol,
				fmt.Sprintf("trace span %q ends before it starts", s.Name),
				types.ErrTypeProtocol,
				false,
				"Span end_unix_nano must be >= start_unix_nano.",
			)
		}
		spanBytes, err := json.Marshal(s)
		if err != nil {
			return types.NewRPCError(
				types.ErrProtocol,
				fmt.Sprintf("trace span %q could not be serialized for size check", s.Name),
				types.ErrTypeProtocol,
				false,
				"Ensure all span fields contain valid JSON-serializable values.",
			)
		}
		if len(spanBytes) > MaxSpanPayload {
			return types.NewRPCError(
				types.ErrProtocol,
				fmt.Sprintf("trace span %q exceeds max payload size: %d > %d bytes", s.Name, len(spanBytes), MaxSpanPayload),
				types.ErrTypeProtocol,
				false,
				fmt.Sprintf("Reduce the span payload to %d bytes (1 MB) or fewer by truncating attributes.", MaxSpanPayload),
			)
		}
	}

	return nil
}
