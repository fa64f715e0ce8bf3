package llm

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

const piDefaultBaseURL = "https://api.withpi.ai/v1"

// PIScorerConfig configures a PIScorer.
type PIScorerConfig struct {
	APIKey  string
	BaseURL string
}

// PIScorer calls a preference-index scoring endpoint: given the original
// input, the produced output, and a scoring question, it returns a
// preference score in [0, 1].
type PIScorer struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

// NewPIScorer creates a preference-index scoring client.
func NewPIScorer(cfg PIScorerConfig) (*PIScorer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pi scorer: APIKey is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = piDefaultBaseURL
	}
	return &PIScorer{
		client:  &http.Client{Timeout: 30 * time.Second},
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
	}, nil
}

type piScoreRequest struct {
	LLMInput    string `json:"llm_input"`
	LLMOutput   string `json:"llm_output"`
	ScoringSpec []struct {
		Question string `json:"question"`
	} `json:"scoring_spec"`
}

type piScoreResponse struct {
	TotalScore float64 `json:"total_score"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Score rates how well output answers input under the given question.
func (s *PIScorer) Score(ctx context.Context, input, output, question string) (float64, error) {
	reqBody := piScoreRequest{LLMInput: input, LLMOutput: output}
	reqBody.ScoringSpec = []struct {
		Question string `json:"question"`
	}{{Question: question}}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return 0, fmt.Errorf("pi score: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/scoring_system/score", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("pi score: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, types.NewProviderError("pi", true, fmt.Errorf("http: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, types.NewProviderError("pi", true, fmt.Errorf("read body: %w", err))
	}

	var result piScoreResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, types.NewProviderError("pi", false, fmt.Errorf("unmarshal response: %w", err))
	}
	if result.Error != nil {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return 0, types.NewProviderError("pi", retryable, fmt.Errorf("API error: %s", result.Error.Message))
	}
	if resp.StatusCode != http.StatusOK {
		return 0, types.NewProviderError("pi", resp.StatusCode >= 500, fmt.Errorf("status %d", resp.StatusCode))
	}
	if result.TotalScore < 0 || result.TotalScore > 1 {
		return 0, types.NewProviderError("pi", false, fmt.Errorf("score %v outside [0,1]", result.TotalScore))
	}
	return result.TotalScore, nil
}
