package classify

import (
	"context"
	"sync"
)

// MockClassifier implements Classifier with canned scores for tests.
type MockClassifier struct {
	mu        sync.Mutex
	Scores    [][]ClassScore
	Errors    []error
	CallCount int
	Inputs    []string
}

// NewMockClassifier creates a MockClassifier cycling through the given score
// sets. With none configured it answers a single neutral label.
func NewMockClassifier(scores ...[]ClassScore) *MockClassifier {
	return &MockClassifier{Scores: scores}
}

func (m *MockClassifier) Model() string { return "mock-classifier" }

func (m *MockClassifier) Classify(_ context.Context, text string) ([]ClassScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.CallCount
	m.CallCount++
	m.Inputs = append(m.Inputs, text)

	if idx < len(m.Errors) && m.Errors[idx] != nil {
		return nil, m.Errors[idx]
	}
	if len(m.Scores) > 0 {
		return m.Scores[idx%len(m.Scores)], nil
	}
	return []ClassScore{{Label: "NEUTRAL", Score: 1.0}}, nil
}

// GetCallCount returns the number of times Classify has been called.
func (m *MockClassifier) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}
