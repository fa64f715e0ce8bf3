package types_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

func TestTrace_JSON_RoundTrip(t *testing.T) {
	original := types.Trace{
		TraceID: "trace-001",
		Spans: []types.Span{
			{
				SpanID:        "span-001",
				Name:          "llm.generate",
				StartUnixNano: 1_700_000_000_000_000_000,
				EndUnixNano:   1_700_000_000_350_000_000,
				Status:        types.SpanStatusOK,
				Attributes:    map[string]string{"model": "gpt-4.1"},
			},
			{
				SpanID:        "span-002",
				ParentID:      "span-001",
				Name:          "tool.search",
				StartUnixNano: 1_700_000_000_100_000_000,
				EndUnixNano:   1_700_000_000_200_000_000,
				Status:        types.SpanStatusError,
			},
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var restored types.Trace
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if restored.TraceID != original.TraceID {
		t.Errorf("TraceID: got %q, want %q", restored.TraceID, original.TraceID)
	}
	if len(restored.Spans) != len(original.Spans) {
		t.Fatalf("Spans length: got %d, want %d", len(restored.Spans), len(original.Spans))
	}
	if restored.Spans[1].ParentID != "span-001" {
		t.Errorf("Spans[1].ParentID: got %q, want %q", restored.Spans[1].ParentID, "span-001")
	}
	if !restored.Spans[1].IsError() {
		t.Error("Spans[1].IsError: got false, want true")
	}
	if got := restored.Spans[0].DurationMS(); got != 350 {
		t.Errorf("Spans[0].DurationMS: got %f, want 350", got)
	}
}

func TestAssertion_Negation(t *testing.T) {
	tests := []struct {
		typ      string
		baseType string
		negated  bool
	}{
		{"contains", "contains", false},
		{"not-contains", "contains", true},
		{"not-is-json", "is-json", true},
		{"starts-with", "starts-with", false},
	}

	for _, tt := range tests {
		a := types.Assertion{Type: tt.typ}
		if got := a.BaseType(); got != tt.baseType {
			t.Errorf("BaseType(%q): got %q, want %q", tt.typ, got, tt.baseType)
		}
		if got := a.Negated(); got != tt.negated {
			t.Errorf("Negated(%q): got %v, want %v", tt.typ, got, tt.negated)
		}
	}
}

func TestAssertion_EffectiveWeight(t *testing.T) {
	var a types.Assertion
	if got := a.EffectiveWeight(); got != 1 {
		t.Errorf("unset weight: got %f, want 1", got)
	}

	zero := 0.0
	a.Weight = &zero
	if got := a.EffectiveWeight(); got != 0 {
		t.Errorf("explicit zero weight: got %f, want 0", got)
	}

	half := 0.5
	a.Weight = &half
	if got := a.EffectiveWeight(); got != 0.5 {
		t.Errorf("weight 0.5: got %f, want 0.5", got)
	}
}

func TestCaseResult_JSON_RoundTrip(t *testing.T) {
	threshold := 0.8
	original := types.CaseResult{
		Pass:  true,
		Score: 0.91,
		Results: []types.AssertionOutcome{
			{
				Assertion: types.Assertion{Type: "llm-rubric", Value: "is polite", Threshold: &threshold},
				Result: &types.GradingResult{
					Pass:   true,
					Score:  0.91,
					Reason: "polite and responsive",
					TokensUsed: &types.TokenUsage{
						Prompt:     120,
						Completion: 30,
						Total:      150,
						CostUSD:    0.0004,
					},
				},
				DurationMS: 420,
			},
			{
				Assertion:  types.Assertion{Type: "trace-span-count", Config: map[string]any{"pattern": "tool.*"}},
				Err:        "trace-span-count: no trace attached to input",
				DurationMS: 1,
			},
		},
		NamedScores: map[string]float64{"politeness": 0.91},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var restored types.CaseResult
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !restored.Pass {
		t.Error("Pass: got false, want true")
	}
	if len(restored.Results) != 2 {
		t.Fatalf("Results length: got %d, want 2", len(restored.Results))
	}
	if restored.Results[0].Result == nil || restored.Results[0].Result.TokensUsed == nil {
		t.Fatal("Results[0] token usage lost in round-trip")
	}
	if restored.Results[0].Result.TokensUsed.Total != 150 {
		t.Errorf("TokensUsed.Total: got %d, want 150", restored.Results[0].Result.TokensUsed.Total)
	}
	if restored.Results[1].Err == "" {
		t.Error("Results[1].Err: got empty, want trace unavailability message")
	}
	if restored.Results[1].Result != nil {
		t.Error("Results[1].Result: got non-nil, want nil for unevaluated assertion")
	}
	if restored.NamedScores["politeness"] != 0.91 {
		t.Errorf("NamedScores[politeness]: got %f, want 0.91", restored.NamedScores["politeness"])
	}
}

func TestRequest_JSON_RoundTrip(t *testing.T) {
	original := types.Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  types.MethodEvaluateCase,
		Params:  json.RawMessage(`{"case":{"assert":[]},"input":{"output":"hi"}}`),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var restored types.Request
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if restored.JSONRPC != "2.0" {
		t.Errorf("JSONRPC: got %q, want %q", restored.JSONRPC, "2.0")
	}
	if restored.ID != original.ID {
		t.Errorf("ID: got %d, want %d", restored.ID, original.ID)
	}
	if restored.Method != original.Method {
		t.Errorf("Method: got %q, want %q", restored.Method, original.Method)
	}
}

func TestResponse_WithError(t *testing.T) {
	rpcErr := types.NewRPCError(
		types.ErrTraceUnavailable,
		"no trace attached",
		types.ErrTypeTraceUnavailable,
		false,
		"trace-span-count",
	)
	resp := types.NewErrorResponse(42, rpcErr)

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var restored types.Response
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if restored.JSONRPC != "2.0" {
		t.Errorf("JSONRPC: got %q, want %q", restored.JSONRPC, "2.0")
	}
	if restored.ID != 42 {
		t.Errorf("ID: got %d, want 42", restored.ID)
	}
	if restored.Error == nil {
		t.Fatal("Error is nil after round-trip")
	}
	if restored.Error.Code != types.ErrTraceUnavailable {
		t.Errorf("Error.Code: got %d, want %d", restored.Error.Code, types.ErrTraceUnavailable)
	}
	if restored.Error.Data == nil {
		t.Fatal("Error.Data is nil")
	}
	if restored.Error.Data.ErrorType != types.ErrTypeTraceUnavailable {
		t.Errorf("Error.Data.ErrorType: got %q, want %q", restored.Error.Data.ErrorType, types.ErrTypeTraceUnavailable)
	}
	if restored.Error.Data.Retryable {
		t.Error("Error.Data.Retryable: got true, want false")
	}
	if len(restored.Result) != 0 {
		t.Errorf("Result should be empty for error response, got %s", restored.Result)
	}
}

func TestRPCErrorFor_Taxonomy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      int
		errType   string
		retryable bool
	}{
		{
			name:    "config error",
			err:     types.NewConfigError("assert[2].type", "unknown assertion type %q", "frobnicate"),
			code:    types.ErrBadConfig,
			errType: types.ErrTypeConfig,
		},
		{
			name:    "resource error",
			err:     types.NewResourceError("file://refs/expected.json", types.ErrResourceNotFound),
			code:    types.ErrResourceMissing,
			errType: types.ErrTypeResource,
		},
		{
			name:    "trace unavailable",
			err:     &types.TraceUnavailableError{Check: "trace-error-spans"},
			code:    types.ErrTraceUnavailable,
			errType: types.ErrTypeTraceUnavailable,
		},
		{
			name:      "provider error",
			err:       types.NewProviderError("openai", true, errors.New("429 too many requests")),
			code:      types.ErrProviderUnavailable,
			errType:   types.ErrTypeProvider,
			retryable: true,
		},
		{
			name:    "wrapped trace error wins over outer resource",
			err:     &types.ResourceError{Resource: "trace", Err: &types.TraceUnavailableError{Check: "trace-span-duration"}},
			code:    types.ErrTraceUnavailable,
			errType: types.ErrTypeTraceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpcErr := types.RPCErrorFor(tt.err)
			if rpcErr.Code != tt.code {
				t.Errorf("Code: got %d, want %d", rpcErr.Code, tt.code)
			}
			if rpcErr.Data == nil {
				t.Fatal("Data is nil")
			}
			if rpcErr.Data.ErrorType != tt.errType {
				t.Errorf("ErrorType: got %q, want %q", rpcErr.Data.ErrorType, tt.errType)
			}
			if rpcErr.Data.Retryable != tt.retryable {
				t.Errorf("Retryable: got %v, want %v", rpcErr.Data.Retryable, tt.retryable)
			}
		})
	}
}
