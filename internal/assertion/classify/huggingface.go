package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

const (
	hfDefaultModel   = "distilbert-base-uncased-finetuned-sst-2-english"
	hfDefaultBaseURL = "https://api-inference.huggingface.co"

	hfProvider = "huggingface"
)

// HFConfig configures an HFClassifier.
type HFConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// HFClassifier calls the HuggingFace serverless inference API for
// text-classification models. The API accepts anonymous requests at a low
// rate, so the key is optional.
type HFClassifier struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
}

// NewHFClassifier creates a Classifier backed by the HuggingFace inference
// API. cfg.Model defaults to a sentiment model; override it for moderation
// or NLI classifiers.
func NewHFClassifier(cfg HFConfig) *HFClassifier {
	model := cfg.Model
	if model == "" {
		model = hfDefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = hfDefaultBaseURL
	}
	return &HFClassifier{
		client:  &http.Client{Timeout: 60 * time.Second},
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
	}
}

// Model returns the classification model name.
func (c *HFClassifier) Model() string { return c.model }

type hfRequest struct {
	Inputs  string `json:"inputs"`
	Options struct {
		WaitForModel bool `json:"wait_for_model"`
	} `json:"options"`
}

type hfError struct {
	Error string `json:"error"`
}

// Classify posts text to the inference endpoint and returns the label
// scores. wait_for_model holds the request while a cold model loads instead
// of failing with a 503.
func (c *HFClassifier) Classify(ctx context.Context, text string) ([]ClassScore, error) {
	reqBody := hfRequest{Inputs: text}
	reqBody.Options.WaitForModel = true

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("huggingface classify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/"+c.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("huggingface classify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.NewProviderError(hfProvider, true, fmt.Errorf("http: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewProviderError(hfProvider, true, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr hfError
		msg := string(raw)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusServiceUnavailable ||
			resp.StatusCode >= 500
		return nil, types.NewProviderError(hfProvider, retryable,
			fmt.Errorf("API error (HTTP %d): %s", resp.StatusCode, msg))
	}

	scores, err := parseHFScores(raw)
	if err != nil {
		return nil, types.NewProviderError(hfProvider, false, err)
	}
	return scores, nil
}

// parseHFScores handles both response shapes the inference API produces for
// text-classification: [[{label,score},...]] per input, and the flat
// [{label,score},...] some deployments return.
func parseHFScores(raw []byte) ([]ClassScore, error) {
	var nested [][]ClassScore
	if err := json.Unmarshal(raw, &nested); err == nil {
		if len(nested) == 0 || len(nested[0]) == 0 {
			return nil, fmt.Errorf("empty classification in response")
		}
		return nested[0], nil
	}

	var flat []ClassScore
	if err := json.Unmarshal(raw, &flat); err == nil {
		if len(flat) == 0 {
			return nil, fmt.Errorf("empty classification in response")
		}
		return flat, nil
	}

	return nil, fmt.Errorf("unexpected classification response shape: %s", truncateBody(raw))
}

func truncateBody(raw []byte) string {
	const max = 200
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
