// Package nlp implements the token-overlap text metrics behind the
// distance/overlap assertion strategies: ROUGE-N, BLEU, GLEU, METEOR, and
// token-level F-beta. All scores are normalized to [0, 1] and identical
// inputs score 1.0 under the n-gram metrics.
package nlp

import (
	"strings"
	"unicode"
)

// Score decomposes an overlap metric into precision, recall, and their
// harmonic mean.
type Score struct {
	Precision float64
	Recall    float64
	F1        float64
}

// Tokenize lowercases s and splits it on any non-letter, non-digit run.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ngramCounts returns the multiset of n-grams in tokens, joined with a
// separator that cannot appear inside a token.
func ngramCounts(tokens []string, n int) map[string]int {
	if n <= 0 || len(tokens) < n {
		return nil
	}
	counts := make(map[string]int, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x1f")]++
	}
	return counts
}

// clippedOverlap sums min(candidate count, reference count) per n-gram.
func clippedOverlap(cand, ref map[string]int) int {
	matches := 0
	for gram, c := range cand {
		if r, ok := ref[gram]; ok {
			if r < c {
				matches += r
			} else {
				matches += c
			}
		}
	}
	return matches
}

func totalCount(counts map[string]int) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}

func harmonic(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}
