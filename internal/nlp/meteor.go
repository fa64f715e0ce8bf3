package nlp

import "math"

// METEOR parameters (exact-match variant of the original metric).
const (
	meteorAlpha = 0.9 // recall weight in the harmonic mean
	meteorBeta  = 3.0 // fragmentation exponent
	meteorGamma = 0.5 // fragmentation weight
)

// METEOR computes the exact-match METEOR score of a candidate against a
// reference: recall-weighted harmonic mean of unigram precision and recall,
// discounted by a fragmentation penalty over the aligned chunks.
func METEOR(candidate, reference string) float64 {
	candTokens := Tokenize(candidate)
	refTokens := Tokenize(reference)

	if len(candTokens) == 0 && len(refTokens) == 0 {
		return 1
	}
	if len(candTokens) == 0 || len(refTokens) == 0 {
		return 0
	}

	alignment := alignUnigrams(candTokens, refTokens)
	matches := len(alignment)
	if matches == 0 {
		return 0
	}

	precision := float64(matches) / float64(len(candTokens))
	recall := float64(matches) / float64(len(refTokens))
	fmean := precision * recall / (meteorAlpha*precision + (1-meteorAlpha)*recall)

	chunks := countChunks(alignment)
	penalty := meteorGamma * math.Pow(float64(chunks)/float64(matches), meteorBeta)
	return fmean * (1 - penalty)
}

// alignUnigrams maps candidate positions to reference positions using exact
// matches, preferring the earliest unused reference occurrence.
func alignUnigrams(cand, ref []string) [][2]int {
	used := make([]bool, len(ref))
	var alignment [][2]int
	for ci, token := range cand {
		for ri, rt := range ref {
			if !used[ri] && rt == token {
				used[ri] = true
				alignment = append(alignment, [2]int{ci, ri})
				break
			}
		}
	}
	return alignment
}

// countChunks counts maximal runs of adjacent alignment pairs. Fewer chunks
// means the matched words appear in the same order and adjacency.
func countChunks(alignment [][2]int) int {
	if len(alignment) == 0 {
		return 0
	}
	chunks := 1
	for i := 1; i < len(alignment); i++ {
		prev, cur := alignment[i-1], alignment[i]
		if cur[0] != prev[0]+1 || cur[1] != prev[1]+1 {
			chunks++
		}
	}
	return chunks
}
