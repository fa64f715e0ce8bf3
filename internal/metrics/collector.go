// Package metrics accumulates named metric samples across a grading run and
// evaluates derived-metric expressions over the frozen totals once the run
// completes.
package metrics

import (
	"errors"
	"sync"
)

// ErrFrozen is returned by Record after the read phase has begun.
var ErrFrozen = errors.New("metrics collector is frozen")

// Sample is one recorded (score, weight) observation for a named metric.
type Sample struct {
	Score  float64
	Weight float64
}

// Collector gathers per-assertion metric samples during a run.
// It is safe for concurrent use. Freeze is the barrier between the write
// phase (grading) and the read phase (derived-metric computation): once
// frozen, Record fails and the totals never change again.
type Collector struct {
	mu      sync.Mutex
	frozen  bool
	samples map[string][]Sample
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{samples: make(map[string][]Sample)}
}

// Record appends one observation for the named metric.
func (c *Collector) Record(name string, score, weight float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ErrFrozen
	}
	c.samples[name] = append(c.samples[name], Sample{Score: score, Weight: weight})
	return nil
}

// Freeze ends the write phase and returns the weighted sum per metric,
// Σ(score·weight). Sums rather than means feed the derived expressions
// because precision/recall style formulas need counting semantics. Freeze is
// idempotent.
func (c *Collector) Freeze() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true

	totals := make(map[string]float64, len(c.samples))
	for name, samples := range c.samples {
		sum := 0.0
		for _, s := range samples {
			sum += s.Score * s.Weight
		}
		totals[name] = sum
	}
	return totals
}

// Frozen reports whether the read phase has begun.
func (c *Collector) Frozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}

// Samples returns a copy of the raw observations for the named metric.
func (c *Collector) Samples(name string) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, len(c.samples[name]))
	copy(out, c.samples[name])
	return out
}
