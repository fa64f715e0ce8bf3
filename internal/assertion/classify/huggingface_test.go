package classify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/verdictlabs/verdict/engine/internal/assertion/classify"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

type capturedHFRequest struct {
	path    string
	auth    string
	inputs  string
	waitFor bool
}

func newHFTestServer(t *testing.T, statusCode int, body any, captured *capturedHFRequest) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if captured != nil {
			var req struct {
				Inputs  string `json:"inputs"`
				Options struct {
					WaitForModel bool `json:"wait_for_model"`
				} `json:"options"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			captured.path = r.URL.Path
			captured.auth = r.Header.Get("Authorization")
			captured.inputs = req.Inputs
			captured.waitFor = req.Options.WaitForModel
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestHFClassifier_Success(t *testing.T) {
	var captured capturedHFRequest
	srv := newHFTestServer(t, http.StatusOK, [][]map[string]any{
		{
			{"label": "POSITIVE", "score": 0.98},
			{"label": "NEGATIVE", "score": 0.02},
		},
	}, &captured)
	defer srv.Close()

	clf := classify.NewHFClassifier(classify.HFConfig{
		APIKey:  "hf-test-token",
		Model:   "my-org/my-model",
		BaseURL: srv.URL,
	})

	scores, err := clf.Classify(context.Background(), "great product")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 labels, got %d", len(scores))
	}
	if scores[0].Label != "POSITIVE" || scores[0].Score != 0.98 {
		t.Errorf("unexpected first score: %+v", scores[0])
	}

	if captured.path != "/models/my-org/my-model" {
		t.Errorf("path = %q, want /models/my-org/my-model", captured.path)
	}
	if captured.auth != "Bearer hf-test-token" {
		t.Errorf("auth = %q, want bearer token", captured.auth)
	}
	if captured.inputs != "great product" {
		t.Errorf("inputs = %q", captured.inputs)
	}
	if !captured.waitFor {
		t.Error("wait_for_model should be set")
	}
}

func TestHFClassifier_FlatResponseShape(t *testing.T) {
	srv := newHFTestServer(t, http.StatusOK, []map[string]any{
		{"label": "toxic", "score": 0.91},
	}, nil)
	defer srv.Close()

	clf := classify.NewHFClassifier(classify.HFConfig{BaseURL: srv.URL})
	scores, err := clf.Classify(context.Background(), "text")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(scores) != 1 || scores[0].Label != "toxic" {
		t.Errorf("unexpected scores: %+v", scores)
	}
}

func TestHFClassifier_AnonymousWithoutKey(t *testing.T) {
	var captured capturedHFRequest
	srv := newHFTestServer(t, http.StatusOK, [][]map[string]any{
		{{"label": "NEUTRAL", "score": 1.0}},
	}, &captured)
	defer srv.Close()

	clf := classify.NewHFClassifier(classify.HFConfig{BaseURL: srv.URL})
	if _, err := clf.Classify(context.Background(), "text"); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if captured.auth != "" {
		t.Errorf("anonymous request should not send Authorization, got %q", captured.auth)
	}
}

func TestHFClassifier_DefaultModel(t *testing.T) {
	clf := classify.NewHFClassifier(classify.HFConfig{})
	if clf.Model() != "distilbert-base-uncased-finetuned-sst-2-english" {
		t.Errorf("default model: got %q", clf.Model())
	}
}

func TestHFClassifier_ModelLoadingRetryable(t *testing.T) {
	srv := newHFTestServer(t, http.StatusServiceUnavailable, map[string]any{
		"error":          "Model distilbert is currently loading",
		"estimated_time": 20.0,
	}, nil)
	defer srv.Close()

	clf := classify.NewHFClassifier(classify.HFConfig{BaseURL: srv.URL})
	_, err := clf.Classify(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error for loading model, got nil")
	}
	var provErr *types.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %T: %v", err, err)
	}
	if !provErr.Retryable {
		t.Error("model-loading 503 should be retryable")
	}
}

func TestHFClassifier_UnauthorizedNotRetryable(t *testing.T) {
	srv := newHFTestServer(t, http.StatusUnauthorized, map[string]any{
		"error": "Invalid token",
	}, nil)
	defer srv.Close()

	clf := classify.NewHFClassifier(classify.HFConfig{BaseURL: srv.URL})
	_, err := clf.Classify(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var provErr *types.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %T: %v", err, err)
	}
	if provErr.Retryable {
		t.Error("401 should not be retryable")
	}
}

func TestHFClassifier_EmptyScores(t *testing.T) {
	srv := newHFTestServer(t, http.StatusOK, [][]map[string]any{{}}, nil)
	defer srv.Close()

	clf := classify.NewHFClassifier(classify.HFConfig{BaseURL: srv.URL})
	_, err := clf.Classify(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error for empty scores, got nil")
	}
}

func TestHFClassifier_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clf := classify.NewHFClassifier(classify.HFConfig{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := clf.Classify(ctx, "text"); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
