package llm

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// FaultConfig defines the failure modes a FaultInjector mixes into an
// otherwise healthy provider. Used to exercise the provider-error handling
// paths: transport errors, timeouts, and malformed judge payloads.
type FaultConfig struct {
	ErrorRate     float64       // probability [0,1] of a transport-style error
	MalformedRate float64       // probability [0,1] of a non-JSON response body
	LatencyJitter time.Duration // random additional latency [0, LatencyJitter)
	TimeoutAfter  time.Duration // if > 0, blocks then returns DeadlineExceeded
}

// FaultInjector wraps a Provider and injects configurable faults.
type FaultInjector struct {
	inner  Provider
	config FaultConfig
	rng    *rand.Rand
	mu     sync.Mutex
}

// NewFaultInjector creates a FaultInjector with a time-based seed.
func NewFaultInjector(inner Provider, config FaultConfig) *FaultInjector {
	return NewFaultInjectorWithSeed(inner, config, time.Now().UnixNano())
}

// NewFaultInjectorWithSeed creates a FaultInjector with a deterministic seed
// so tests can pin the fault sequence.
func NewFaultInjectorWithSeed(inner Provider, config FaultConfig, seed int64) *FaultInjector {
	return &FaultInjector{
		inner:  inner,
		config: config,
		rng:    rand.New(rand.NewSource(seed)), //nolint:gosec
	}
}

// Name returns the provider name prefixed with "fault:".
func (f *FaultInjector) Name() string {
	return "fault:" + f.inner.Name()
}

// DefaultModel delegates to the inner provider.
func (f *FaultInjector) DefaultModel() string {
	return f.inner.DefaultModel()
}

// Complete rolls the configured faults before delegating.
func (f *FaultInjector) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	f.mu.Lock()
	errorRoll := f.rng.Float64()
	malformedRoll := f.rng.Float64()
	var jitter time.Duration
	if f.config.LatencyJitter > 0 {
		jitter = time.Duration(f.rng.Int63n(int64(f.config.LatencyJitter)))
	}
	f.mu.Unlock()

	if f.config.ErrorRate > 0 && errorRoll < f.config.ErrorRate {
		return nil, types.NewProviderError(f.Name(), true, context.DeadlineExceeded)
	}

	if f.config.TimeoutAfter > 0 {
		select {
		case <-time.After(f.config.TimeoutAfter):
		case <-ctx.Done():
		}
		return nil, context.DeadlineExceeded
	}

	if jitter > 0 {
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp, err := f.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if f.config.MalformedRate > 0 && malformedRoll < f.config.MalformedRate && resp != nil {
		mangled := *resp
		mangled.Content = "I think the answer deserves a 7 out of 10, maybe?"
		return &mangled, nil
	}
	return resp, nil
}
