package assertion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

const (
	defaultWebhookTimeoutMS = 30000
	maxWebhookResponseBytes = 1 << 20
)

// webhookStrategy POSTs the output to a grading endpoint and adopts its
// verdict. Transport failures, non-2xx statuses, and malformed responses are
// provider errors, not failing grades; only a timeout converts to a failing
// result so a slow endpoint cannot stall the run. Under negation the
// endpoint's score remaps to 1-score like any other [0, 1] strategy.
type webhookStrategy struct {
	client *http.Client
}

type webhookConfig struct {
	TimeoutMS int
}

type webhookRequest struct {
	Output  string         `json:"output"`
	Context webhookContext `json:"context"`
}

type webhookContext struct {
	Prompt string         `json:"prompt,omitempty"`
	Vars   map[string]any `json:"vars,omitempty"`
}

type webhookResponse struct {
	Pass   *bool    `json:"pass"`
	Score  *float64 `json:"score,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

func (s *webhookStrategy) Remote() bool { return true }

func (s *webhookStrategy) Evaluate(ctx context.Context, in *Input) (*types.GradingResult, error) {
	var cfg webhookConfig
	if err := decodeConfig(in.Assertion, &cfg); err != nil {
		return nil, err
	}
	url, err := stringValue(in.Assertion, in.Value)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, types.NewConfigError(in.Assertion.Type, "value must be an http(s) URL, got %q", url)
	}

	timeoutMS := cfg.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = defaultWebhookTimeoutMS
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	body, err := json.Marshal(webhookRequest{
		Output:  in.Output,
		Context: webhookContext{Prompt: in.Prompt, Vars: in.Vars},
	})
	if err != nil {
		return nil, types.NewConfigError(in.Assertion.Type, "marshal webhook payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewConfigError(in.Assertion.Type, "build webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failResult(0, "webhook timed out after %dms", timeoutMS), nil
		}
		return nil, types.NewProviderError("webhook", true, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseBytes))
	if err != nil {
		return nil, types.NewProviderError("webhook", true, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, types.NewProviderError("webhook", retryable,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200)))
	}

	var wr webhookResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, types.NewProviderError("webhook", false, fmt.Errorf("malformed response: %w", err))
	}
	if wr.Pass == nil {
		return nil, types.NewProviderError("webhook", false, errors.New("response missing required pass field"))
	}

	score := boolToScore(*wr.Pass)
	if wr.Score != nil {
		score = clamp01(*wr.Score)
	}
	reason := wr.Reason
	if reason == "" {
		if *wr.Pass {
			reason = "webhook passed"
		} else {
			reason = "webhook failed"
		}
	}
	return &types.GradingResult{Pass: *wr.Pass, Score: score, Reason: reason}, nil
}
