package classify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/verdictlabs/verdict/engine/internal/assertion/classify"
)

func TestProbability(t *testing.T) {
	scores := []classify.ClassScore{
		{Label: "POSITIVE", Score: 0.7},
		{Label: "NEGATIVE", Score: 0.3},
	}

	p, ok := classify.Probability(scores, "NEGATIVE")
	if !ok || p != 0.3 {
		t.Errorf("Probability(NEGATIVE) = %v, %v; want 0.3, true", p, ok)
	}

	// case-insensitive lookup
	p, ok = classify.Probability(scores, "positive")
	if !ok || p != 0.7 {
		t.Errorf("Probability(positive) = %v, %v; want 0.7, true", p, ok)
	}

	if _, ok := classify.Probability(scores, "toxic"); ok {
		t.Error("Probability of absent label should report false")
	}
}

func TestTop(t *testing.T) {
	scores := []classify.ClassScore{
		{Label: "a", Score: 0.2},
		{Label: "b", Score: 0.5},
		{Label: "c", Score: 0.3},
	}
	best, ok := classify.Top(scores)
	if !ok || best.Label != "b" {
		t.Errorf("Top = %+v, %v; want label b", best, ok)
	}

	if _, ok := classify.Top(nil); ok {
		t.Error("Top of empty scores should report false")
	}
}

func TestMockClassifierCycling(t *testing.T) {
	mock := classify.NewMockClassifier(
		[]classify.ClassScore{{Label: "first", Score: 1}},
		[]classify.ClassScore{{Label: "second", Score: 1}},
	)

	ctx := context.Background()
	want := []string{"first", "second", "first"}
	for i, label := range want {
		scores, err := mock.Classify(ctx, "text")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if scores[0].Label != label {
			t.Errorf("call %d: got %q, want %q", i, scores[0].Label, label)
		}
	}
	if mock.GetCallCount() != 3 {
		t.Errorf("call count = %d, want 3", mock.GetCallCount())
	}
}

func TestMockClassifierDefaults(t *testing.T) {
	mock := classify.NewMockClassifier()
	scores, err := mock.Classify(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(scores) != 1 || scores[0].Label != "NEUTRAL" {
		t.Errorf("unexpected default scores: %+v", scores)
	}
	if mock.Model() != "mock-classifier" {
		t.Errorf("Model() = %q", mock.Model())
	}
}

func TestMockClassifierErrorsAndInputs(t *testing.T) {
	boom := errors.New("boom")
	mock := classify.NewMockClassifier([]classify.ClassScore{{Label: "ok", Score: 1}})
	mock.Errors = []error{boom}

	if _, err := mock.Classify(context.Background(), "first input"); !errors.Is(err, boom) {
		t.Fatalf("expected configured error, got %v", err)
	}
	if _, err := mock.Classify(context.Background(), "second input"); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(mock.Inputs) != 2 || mock.Inputs[0] != "first input" {
		t.Errorf("inputs not recorded: %v", mock.Inputs)
	}
}
