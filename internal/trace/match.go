// Package trace holds the span-trace helpers behind the trace assertions:
// glob matching over span names, percentile math, normalization, and the
// ingest-time validation limits.
package trace

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// globCache caches compiled patterns; an assertion set reuses the same
// handful across every case in a run.
var globCache sync.Map // map[string]glob.Glob

// CompilePattern compiles a case-insensitive glob over span names.
func CompilePattern(pattern string) (glob.Glob, error) {
	if cached, ok := globCache.Load(pattern); ok {
		return cached.(glob.Glob), nil
	}
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, err
	}
	globCache.Store(pattern, g)
	return g, nil
}

// Match returns the spans whose names match pattern, case-insensitively.
// An empty pattern matches every span.
func Match(t *types.Trace, pattern string) ([]types.Span, error) {
	if pattern == "" || pattern == "*" {
		return t.Spans, nil
	}
	g, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	var out []types.Span
	for _, s := range t.Spans {
		if g.Match(strings.ToLower(s.Name)) {
			out = append(out, s)
		}
	}
	return out, nil
}
