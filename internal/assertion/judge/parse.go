package judge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
)

// ScoreResult is the parsed shape of a score-rubric verdict. Pass is set
// only when the judge stated it explicitly.
type ScoreResult struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
	Pass   *bool   `json:"pass,omitempty"`
}

// ParseScoreResult extracts {"score": ..., "reason": ...} from a judge
// response. It takes the span from the first '{' to the last '}' so prose
// around the verdict, or JSON injected inside the graded output, cannot
// displace the judge's own object.
func ParseScoreResult(response string) (*ScoreResult, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end < start {
		return nil, errors.New("no JSON object found in response")
	}

	var result ScoreResult
	if err := json.Unmarshal([]byte(response[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("parse score JSON: %w", err)
	}
	if result.Score < 0 || result.Score > 1 {
		return nil, fmt.Errorf("score %v outside [0,1]", result.Score)
	}
	return &result, nil
}

// ParseChoice extracts a category letter A through E from a judge response.
// It prefers a parenthesized letter like "(B)" and falls back to the first
// standalone letter.
func ParseChoice(response string) (byte, error) {
	for i := 0; i+2 < len(response); i++ {
		if response[i] == '(' && response[i+2] == ')' {
			if c := upperChoice(response[i+1]); c != 0 {
				return c, nil
			}
		}
	}
	for _, field := range strings.Fields(response) {
		token := strings.Trim(field, ".,:;")
		if len(token) == 1 {
			if c := upperChoice(token[0]); c != 0 {
				return c, nil
			}
		}
	}
	return 0, fmt.Errorf("no choice letter A-E found in %q", truncate(response, 120))
}

func upperChoice(b byte) byte {
	switch {
	case b >= 'A' && b <= 'E':
		return b
	case b >= 'a' && b <= 'e':
		return b - 'a' + 'A'
	}
	return 0
}

// ParseIndex extracts a candidate index from a judge response. The rubric
// demands a bare integer; a single trailing period is tolerated.
func ParseIndex(response string) (int, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(response), ".")
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("response is not a bare index: %q", truncate(response, 120))
	}
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
