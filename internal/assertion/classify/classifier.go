// Package classify provides text-classification providers backing
// probability-thresholded assertions.
package classify

import (
	"context"
	"strings"
)

// ClassScore is one label's probability from a classification model.
type ClassScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier scores text across a model's labels.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]ClassScore, error)
	Model() string
}

// Probability returns the named label's score. Label comparison is
// case-insensitive; returns false when the label is absent.
func Probability(scores []ClassScore, label string) (float64, bool) {
	for _, s := range scores {
		if strings.EqualFold(s.Label, label) {
			return s.Score, true
		}
	}
	return 0, false
}

// Top returns the highest-scoring label, or false for an empty result.
func Top(scores []ClassScore) (ClassScore, bool) {
	if len(scores) == 0 {
		return ClassScore{}, false
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	return best, true
}
