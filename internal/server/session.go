package server

import (
	"sync"
	"time"

	"github.com/verdictlabs/verdict/engine/internal/report"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// SessionState represents the lifecycle state of a session.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateInitialized
	StateShuttingDown
)

// Session tracks lifecycle state, evaluation counters, and the graded cases
// accumulated for the end-of-run report.
type Session struct {
	mu                  sync.Mutex
	state               SessionState
	startedAt           time.Time
	casesEvaluated      int64
	assertionsEvaluated int64
	entries             []report.Entry
	derived             []types.DerivedMetricResult
}

// NewSession creates a new Session in the Uninitialized state.
func NewSession() *Session {
	return &Session{
		state:     StateUninitialized,
		startedAt: time.Now(),
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session to a new state.
func (s *Session) SetState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// RecordCase appends one graded case to the run and bumps the counters.
func (s *Session) RecordCase(e report.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	s.casesEvaluated++
	if e.Result != nil {
		s.assertionsEvaluated += int64(len(e.Result.Results))
	}
}

// Stats returns a snapshot of the evaluation counters.
func (s *Session) Stats() (cases, assertions int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.casesEvaluated, s.assertionsEvaluated
}

// Entries returns a copy of the graded cases recorded so far, with the
// session start time for the report header.
func (s *Session) Entries() ([]report.Entry, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]report.Entry, len(s.entries))
	copy(entries, s.entries)
	return entries, s.startedAt
}

// SetDerived stores the most recent derived-metric computation so the report
// can include it.
func (s *Session) SetDerived(derived []types.DerivedMetricResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.derived = derived
}

// Derived returns the stored derived-metric results.
func (s *Session) Derived() []types.DerivedMetricResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.derived
}
