package nlp

import "math"

// maxBLEUOrder caps the n-gram order used by BLEU and GLEU.
const maxBLEUOrder = 4

// smoothEpsilon stands in for zero n-gram precisions so one missing order
// degrades the score smoothly instead of zeroing it.
const smoothEpsilon = 1e-7

// BLEU computes the sentence-level BLEU score of a candidate against a
// reference with uniform weights over n-gram orders 1..4 and the standard
// brevity penalty. Orders longer than the candidate are skipped so short
// identical strings still score 1.0 exactly.
func BLEU(candidate, reference string) float64 {
	candTokens := Tokenize(candidate)
	refTokens := Tokenize(reference)

	if len(candTokens) == 0 && len(refTokens) == 0 {
		return 1
	}
	if len(candTokens) == 0 || len(refTokens) == 0 {
		return 0
	}

	maxOrder := maxBLEUOrder
	if len(candTokens) < maxOrder {
		maxOrder = len(candTokens)
	}

	logSum := 0.0
	weight := 1.0 / float64(maxOrder)
	for n := 1; n <= maxOrder; n++ {
		cand := ngramCounts(candTokens, n)
		ref := ngramCounts(refTokens, n)
		matches := clippedOverlap(cand, ref)
		total := totalCount(cand)
		precision := smoothEpsilon
		if matches > 0 && total > 0 {
			precision = float64(matches) / float64(total)
		}
		logSum += weight * math.Log(precision)
	}

	bp := 1.0
	if len(candTokens) < len(refTokens) {
		bp = math.Exp(1 - float64(len(refTokens))/float64(len(candTokens)))
	}
	score := bp * math.Exp(logSum)
	if score > 1 {
		score = 1
	}
	return score
}

// GLEU computes the sentence-level Google-BLEU score: n-gram matches pooled
// over orders 1..4, scored as min(precision, recall). Unlike BLEU it rewards
// recall symmetrically, which makes it better behaved on short sentences.
func GLEU(candidate, reference string) float64 {
	candTokens := Tokenize(candidate)
	refTokens := Tokenize(reference)

	if len(candTokens) == 0 && len(refTokens) == 0 {
		return 1
	}
	if len(candTokens) == 0 || len(refTokens) == 0 {
		return 0
	}

	var matches, candTotal, refTotal int
	for n := 1; n <= maxBLEUOrder; n++ {
		cand := ngramCounts(candTokens, n)
		ref := ngramCounts(refTokens, n)
		matches += clippedOverlap(cand, ref)
		candTotal += totalCount(cand)
		refTotal += totalCount(ref)
	}
	if candTotal == 0 || refTotal == 0 {
		return 0
	}

	precision := float64(matches) / float64(candTotal)
	recall := float64(matches) / float64(refTotal)
	if precision < recall {
		return precision
	}
	return recall
}
