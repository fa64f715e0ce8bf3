package runner

import (
	"fmt"
	"strings"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// aggItem is one weighted pass/score contribution to an aggregate.
type aggItem struct {
	pass   bool
	score  float64
	weight float64
}

// metricSample is one named-metric observation collected from a graded
// assertion, recorded after the case's join barrier.
type metricSample struct {
	name   string
	score  float64
	weight float64
}

// aggregate computes the weighted mean score and pass decision for a set of
// graded assertions. With a threshold the aggregate score decides; without
// one every positively weighted assertion must pass. Zero-weight items count
// toward neither. vacuous reports that nothing carried weight, in which case
// the set passes with score 0.
func aggregate(items []aggItem, threshold *float64) (pass bool, score float64, vacuous bool) {
	var sum, weightSum float64
	allPass := true
	for _, it := range items {
		if it.weight <= 0 {
			continue
		}
		sum += it.score * it.weight
		weightSum += it.weight
		if !it.pass {
			allPass = false
		}
	}
	if weightSum == 0 {
		return true, 0, true
	}
	score = sum / weightSum
	if threshold != nil {
		return score >= *threshold, score, false
	}
	return allPass, score, false
}

func countWeighted(items []aggItem) int {
	n := 0
	for _, it := range items {
		if it.weight > 0 {
			n++
		}
	}
	return n
}

// buildCaseResult folds assertion outcomes into the case-level grade.
// Outcomes that could not be evaluated fail the case through the Error field
// so callers can tell "could not evaluate" from "evaluated and failed".
func buildCaseResult(tc *types.TestCase, outcomes []types.AssertionOutcome, samples []metricSample) *types.CaseResult {
	items := make([]aggItem, 0, len(outcomes))
	var errs []string
	for i := range outcomes {
		oc := &outcomes[i]
		if oc.Err != "" {
			errs = append(errs, oc.Err)
			continue
		}
		if oc.Result == nil {
			continue
		}
		items = append(items, aggItem{
			pass:   oc.Result.Pass,
			score:  oc.Result.Score,
			weight: oc.Assertion.EffectiveWeight(),
		})
	}

	pass, score, vacuous := aggregate(items, tc.Threshold)
	cr := &types.CaseResult{Pass: pass, Score: score, Results: outcomes}

	if len(samples) > 0 {
		named := make(map[string]float64, len(samples))
		for _, s := range samples {
			named[s.name] += s.score * s.weight
		}
		cr.NamedScores = named
	}

	if len(errs) > 0 {
		cr.Pass = false
		cr.Error = "could not evaluate: " + strings.Join(errs, "; ")
		cr.Reason = fmt.Sprintf("%d of %d assertions could not be evaluated", len(errs), len(outcomes))
		return cr
	}

	switch {
	case vacuous:
		cr.Reason = fmt.Sprintf("no weighted assertions; %d metric-only assertions recorded", len(items))
	case tc.Threshold != nil && pass:
		cr.Reason = fmt.Sprintf("aggregate score %.4f meets threshold %g", score, *tc.Threshold)
	case tc.Threshold != nil:
		cr.Reason = fmt.Sprintf("aggregate score %.4f below threshold %g", score, *tc.Threshold)
	case pass:
		cr.Reason = fmt.Sprintf("all %d weighted assertions passed", countWeighted(items))
	default:
		cr.Reason = firstFailure(outcomes)
	}
	return cr
}

// firstFailure names the first weighted assertion that failed, in declared
// order, for the case-level reason.
func firstFailure(outcomes []types.AssertionOutcome) string {
	for i := range outcomes {
		oc := &outcomes[i]
		if oc.Result == nil || oc.Result.Pass || oc.Assertion.EffectiveWeight() <= 0 {
			continue
		}
		return fmt.Sprintf("%s: %s", oc.Assertion.Type, oc.Result.Reason)
	}
	return "assertion failed"
}

// collectSamples gathers (metric, score, weight) observations from graded
// outcomes, descending into assert-set components. Zero-weight assertions
// are metric-only: excluded from aggregation but still counted, so their
// samples record at weight 1.
func collectSamples(outcomes []types.AssertionOutcome) []metricSample {
	var out []metricSample
	for i := range outcomes {
		oc := &outcomes[i]
		if oc.Result == nil {
			continue
		}
		out = append(out, sampleTree(&oc.Assertion, oc.Result)...)
	}
	return out
}

func sampleTree(a *types.Assertion, res *types.GradingResult) []metricSample {
	var out []metricSample
	if a.Metric != "" {
		out = append(out, metricSample{name: a.Metric, score: res.Score, weight: metricWeight(a)})
	}
	if a.BaseType() == types.TypeAssertSet {
		for k := range a.Assert {
			if k >= len(res.ComponentResults) {
				break
			}
			out = append(out, sampleTree(&a.Assert[k], &res.ComponentResults[k])...)
		}
	}
	return out
}

func metricWeight(a *types.Assertion) float64 {
	w := a.EffectiveWeight()
	if w == 0 {
		return 1
	}
	return w
}
