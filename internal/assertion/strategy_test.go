package assertion

import (
	"errors"
	"testing"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

func fptr(f float64) *float64 { return &f }

// makeInput builds the minimal Input most strategy tests need: the resolved
// value is mirrored onto the assertion the way the runner does it.
func makeInput(typ string, value any, output string) *Input {
	return &Input{
		Output:    output,
		Value:     value,
		Assertion: &types.Assertion{Type: typ, Value: value},
	}
}

func wantConfigError(t *testing.T, err error) *types.ConfigError {
	t.Helper()
	var cfgErr *types.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	return cfgErr
}

func TestStringValue(t *testing.T) {
	a := &types.Assertion{Type: types.TypeContains}

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "string", value: "hello", want: "hello"},
		{name: "bool", value: true, want: "true"},
		{name: "int", value: 42, want: "42"},
		{name: "float", value: 2.5, want: "2.5"},
		{name: "whole float", value: float64(7), want: "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := stringValue(a, tt.value)
			if err != nil {
				t.Fatalf("stringValue(%v): %v", tt.value, err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := stringValue(a, nil); err == nil {
		t.Error("nil value should be a config error")
	}
	if _, err := stringValue(a, map[string]any{"k": "v"}); err == nil {
		t.Error("structured value should be a config error")
	}
}

func TestReferenceStrings(t *testing.T) {
	a := &types.Assertion{Type: types.TypeContainsAll}

	got, err := referenceStrings(a, "single")
	if err != nil {
		t.Fatalf("referenceStrings: %v", err)
	}
	if len(got) != 1 || got[0] != "single" {
		t.Errorf("scalar: got %v, want [single]", got)
	}

	got, err = referenceStrings(a, []any{"a", 2, true})
	if err != nil {
		t.Fatalf("referenceStrings list: %v", err)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "2" || got[2] != "true" {
		t.Errorf("list: got %v", got)
	}

	if _, err := referenceStrings(a, []any{}); err == nil {
		t.Error("empty list should be a config error")
	}
	if _, err := referenceStrings(a, []any{"ok", nil}); err == nil {
		t.Error("nil element should be a config error")
	}
}

func TestDecodeConfigWeakTyping(t *testing.T) {
	a := &types.Assertion{
		Type:   types.TypeRougeN,
		Config: map[string]any{"n": "2"},
	}
	var cfg distanceConfig
	if err := decodeConfig(a, &cfg); err != nil {
		t.Fatalf("decodeConfig: %v", err)
	}
	if cfg.N != 2 {
		t.Errorf("n: got %d, want 2", cfg.N)
	}
}

func TestDecodeConfigCaseInsensitiveKeys(t *testing.T) {
	a := &types.Assertion{
		Type:   types.TypeTraceSpanDuration,
		Config: map[string]any{"maxMs": 250.0, "percentile": 95},
	}
	var cfg spanDurationConfig
	if err := decodeConfig(a, &cfg); err != nil {
		t.Fatalf("decodeConfig: %v", err)
	}
	if cfg.MaxMS != 250 {
		t.Errorf("maxMs: got %g, want 250", cfg.MaxMS)
	}
	if cfg.Percentile != 95 {
		t.Errorf("percentile: got %g, want 95", cfg.Percentile)
	}
}

func TestDecodeConfigTypeMismatch(t *testing.T) {
	a := &types.Assertion{
		Type:   types.TypeTraceSpanCount,
		Config: map[string]any{"min": []any{"not", "a", "number"}},
	}
	var cfg spanCountConfig
	err := decodeConfig(a, &cfg)
	cfgErr := wantConfigError(t, err)
	if cfgErr.Field != types.TypeTraceSpanCount+".config" {
		t.Errorf("field: got %q", cfgErr.Field)
	}
}
