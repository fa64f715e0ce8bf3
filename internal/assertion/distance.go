package assertion

import (
	"context"
	"fmt"

	"github.com/agnivade/levenshtein"
	"github.com/verdictlabs/verdict/engine/internal/nlp"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// Default thresholds for the overlap metrics. Levenshtein is the odd one out:
// its threshold is a maximum edit distance, not a minimum score.
const (
	defaultLevenshteinDistance = 5.0
	defaultRougeThreshold      = 0.75
	defaultBLEUThreshold       = 0.5
	defaultGLEUThreshold       = 0.5
	defaultMETEORThreshold     = 0.5
	defaultFScoreThreshold     = 0.5
)

// distanceStrategy implements the deterministic text-similarity checks:
// levenshtein, rouge-n, bleu, gleu, meteor, and f-score. Multiple reference
// values grade element-wise and keep the best match.
type distanceStrategy struct {
	op string
}

type distanceConfig struct {
	N    int
	Beta float64
}

func (s *distanceStrategy) Remote() bool { return false }

func (s *distanceStrategy) Evaluate(_ context.Context, in *Input) (*types.GradingResult, error) {
	var cfg distanceConfig
	if err := decodeConfig(in.Assertion, &cfg); err != nil {
		return nil, err
	}

	refs, err := referenceStrings(in.Assertion, in.Value)
	if err != nil {
		return nil, err
	}

	if s.op == types.TypeLevenshtein {
		return s.evaluateLevenshtein(in, refs)
	}

	var (
		best      float64
		bestScore nlp.Score
		def       float64
		label     string
	)
	haveBest := false
	for _, ref := range refs {
		var (
			score  float64
			detail nlp.Score
		)
		switch s.op {
		case types.TypeRougeN:
			n := cfg.N
			if n == 0 {
				n = 1
			}
			if n < 1 || n > 4 {
				return nil, types.NewConfigError(s.op+".config", "n must be between 1 and 4, got %d", n)
			}
			detail = nlp.RougeN(in.Output, ref, n)
			score = detail.F1
			def = defaultRougeThreshold
			label = fmt.Sprintf("rouge-%d", n)
		case types.TypeBLEU:
			score = nlp.BLEU(in.Output, ref)
			def = defaultBLEUThreshold
			label = "bleu"
		case types.TypeGLEU:
			score = nlp.GLEU(in.Output, ref)
			def = defaultGLEUThreshold
			label = "gleu"
		case types.TypeMETEOR:
			score = nlp.METEOR(in.Output, ref)
			def = defaultMETEORThreshold
			label = "meteor"
		case types.TypeFScore:
			beta := cfg.Beta
			if beta == 0 {
				beta = 1
			}
			if beta < 0 {
				return nil, types.NewConfigError(s.op+".config", "beta must be positive, got %g", beta)
			}
			detail = nlp.FScore(in.Output, ref, beta)
			score = detail.F1
			def = defaultFScoreThreshold
			label = fmt.Sprintf("f%g-score", beta)
		default:
			return nil, &types.UnknownTypeError{Type: s.op}
		}
		if !haveBest || score > best {
			best = score
			bestScore = detail
			haveBest = true
		}
	}

	threshold := in.Assertion.EffectiveThreshold(def)
	res := failResult(best, "%s score %.4f below threshold %.4f%s", label, best, threshold, refSuffix(len(refs)))
	if best >= threshold {
		res = passResult(best, "%s score %.4f >= threshold %.4f%s", label, best, threshold, refSuffix(len(refs)))
	}
	if s.op == types.TypeRougeN || s.op == types.TypeFScore {
		res.NamedScores = map[string]float64{
			"precision": bestScore.Precision,
			"recall":    bestScore.Recall,
			"f1":        bestScore.F1,
		}
	}
	return res, nil
}

// evaluateLevenshtein passes when the smallest edit distance to any reference
// is at or under the threshold. The recorded score is a normalized similarity
// so aggregation still sees [0, 1].
func (s *distanceStrategy) evaluateLevenshtein(in *Input, refs []string) (*types.GradingResult, error) {
	maxDist := in.Assertion.EffectiveThreshold(defaultLevenshteinDistance)
	if maxDist < 0 {
		return nil, types.NewConfigError(s.op, "threshold must be >= 0, got %g", maxDist)
	}

	best := -1
	bestRef := ""
	for _, ref := range refs {
		d := levenshtein.ComputeDistance(in.Output, ref)
		if best < 0 || d < best {
			best = d
			bestRef = ref
		}
	}

	score := 1.0
	if longest := max(len([]rune(in.Output)), len([]rune(bestRef))); longest > 0 {
		score = clamp01(1 - float64(best)/float64(longest))
	}
	if float64(best) <= maxDist {
		return passResult(score, "edit distance %d <= %g%s", best, maxDist, refSuffix(len(refs))), nil
	}
	return failResult(score, "edit distance %d exceeds %g%s", best, maxDist, refSuffix(len(refs))), nil
}

func refSuffix(n int) string {
	if n <= 1 {
		return ""
	}
	return fmt.Sprintf(" (best of %d references)", n)
}
