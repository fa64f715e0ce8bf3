package nlp

// RougeN computes the ROUGE-N overlap between a candidate and a reference.
// Both inputs empty score 1.0; exactly one empty scores 0.
func RougeN(candidate, reference string, n int) Score {
	candTokens := Tokenize(candidate)
	refTokens := Tokenize(reference)

	if len(candTokens) == 0 && len(refTokens) == 0 {
		return Score{Precision: 1, Recall: 1, F1: 1}
	}
	if len(candTokens) < n || len(refTokens) < n {
		return Score{}
	}

	cand := ngramCounts(candTokens, n)
	ref := ngramCounts(refTokens, n)
	matches := clippedOverlap(cand, ref)

	var s Score
	if ct := totalCount(cand); ct > 0 {
		s.Precision = float64(matches) / float64(ct)
	}
	if rt := totalCount(ref); rt > 0 {
		s.Recall = float64(matches) / float64(rt)
	}
	s.F1 = harmonic(s.Precision, s.Recall)
	return s
}

// FScore computes the beta-weighted F-measure over unigram overlap. Beta > 1
// weights recall higher, beta < 1 weights precision higher; beta 1 is the
// balanced harmonic mean.
func FScore(candidate, reference string, beta float64) Score {
	s := RougeN(candidate, reference, 1)
	if beta == 1 {
		return s
	}
	b2 := beta * beta
	denom := b2*s.Precision + s.Recall
	if denom == 0 {
		s.F1 = 0
		return s
	}
	s.F1 = (1 + b2) * s.Precision * s.Recall / denom
	return s
}
