package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/verdictlabs/verdict/engine/internal/assertion"
	"github.com/verdictlabs/verdict/engine/internal/assertion/judge"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// applySelectors fills in comparative assertion outcomes once every sibling
// candidate has graded. Candidates sharing a GroupID compare against each
// other; inputs without one form a single implicit group.
func (r *Runner) applySelectors(ctx context.Context, tc *types.TestCase, inputs []*types.CaseInput, outcomes [][]types.AssertionOutcome) error {
	groups := [][]int(nil)
	for j := range tc.Assert {
		a := &tc.Assert[j]
		if !assertion.Comparative(a.BaseType()) {
			continue
		}
		if groups == nil {
			groups = groupCandidates(inputs)
		}
		for _, members := range groups {
			var err error
			switch a.BaseType() {
			case types.TypeSelectBest:
				err = r.selectBest(ctx, tc, a, j, members, inputs, outcomes)
			case types.TypeMaxScore:
				maxScore(a, j, members, outcomes)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// groupCandidates partitions input indexes by GroupID, keeping input order
// within and across groups.
func groupCandidates(inputs []*types.CaseInput) [][]int {
	var order []string
	byID := make(map[string][]int)
	for i, in := range inputs {
		if _, ok := byID[in.GroupID]; !ok {
			order = append(order, in.GroupID)
		}
		byID[in.GroupID] = append(byID[in.GroupID], i)
	}
	out := make([][]int, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// selectBest makes one judge call over the group's candidates, numbered from
// zero, and marks the chosen index as the winner. A response that does not
// name a valid candidate index fails the whole group; no candidate wins by
// default.
func (r *Runner) selectBest(ctx context.Context, tc *types.TestCase, a *types.Assertion, idx int, members []int, inputs []*types.CaseInput, outcomes [][]types.AssertionOutcome) error {
	jdg := r.registry.Judge()
	if jdg == nil {
		return types.NewConfigError(a.Type, "requires a configured judge")
	}

	if len(members) == 1 {
		oc := &outcomes[members[0]][idx]
		oc.Assertion = *a
		oc.Result = &types.GradingResult{Pass: true, Score: 1, Reason: "only candidate in group"}
		return nil
	}

	criterion := ""
	if a.Value != nil {
		resolved, err := r.resolver.WithPolicy(tc.Options.OnMissingVar).Resolve(a.Value, tc.Vars)
		if err != nil {
			return err
		}
		criterion = fmt.Sprintf("%v", resolved)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Criterion: %s\n\n", criterion)
	for n, i := range members {
		fmt.Fprintf(&b, "Candidate %d:\n%s\n\n", n, judge.WrapOutput(inputs[i].Output))
	}

	provider := a.Provider
	if provider == "" {
		provider = tc.Options.Provider
	}

	start := time.Now()
	pick, tokens, err := jdg.Pick(ctx, &judge.Request{
		Rubric:  "select-best",
		Content: strings.TrimRight(b.String(), "\n"),
		Model:   provider,
	})
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if abortsRun(err) {
			return err
		}
		failGroup(a, idx, members, outcomes, elapsed,
			fmt.Sprintf("select-best judge returned no usable index: %v", err))
		return nil
	}
	if pick < 0 || pick >= len(members) {
		failGroup(a, idx, members, outcomes, elapsed,
			fmt.Sprintf("select-best judge chose index %d of %d candidates", pick, len(members)))
		return nil
	}

	for n, i := range members {
		oc := &outcomes[i][idx]
		oc.Assertion = *a
		oc.DurationMS = elapsed
		if n == pick {
			oc.Result = &types.GradingResult{
				Pass:       true,
				Score:      1,
				Reason:     fmt.Sprintf("selected as best of %d candidates", len(members)),
				TokensUsed: tokens,
			}
			continue
		}
		oc.Result = &types.GradingResult{
			Pass:   false,
			Score:  0,
			Reason: fmt.Sprintf("judge selected candidate %d", pick),
		}
	}
	return nil
}

// failGroup marks every candidate's comparative outcome failed with the same
// reason. Used when the judge response names no valid winner.
func failGroup(a *types.Assertion, idx int, members []int, outcomes [][]types.AssertionOutcome, elapsed int64, reason string) {
	for _, i := range members {
		oc := &outcomes[i][idx]
		oc.Assertion = *a
		oc.DurationMS = elapsed
		oc.Result = &types.GradingResult{Pass: false, Score: 0, Reason: reason}
	}
}

// maxScore ranks the group by each candidate's already-graded aggregate
// score; no provider call is made. Without a threshold the highest score
// wins and ties break to the first declared candidate. With a threshold
// every candidate meeting it passes.
func maxScore(a *types.Assertion, idx int, members []int, outcomes [][]types.AssertionOutcome) {
	aggs := make([]float64, len(members))
	for n, i := range members {
		aggs[n] = candidateAggregate(outcomes[i])
	}
	best := 0
	for n := 1; n < len(members); n++ {
		if aggs[n] > aggs[best] {
			best = n
		}
	}

	for n, i := range members {
		oc := &outcomes[i][idx]
		oc.Assertion = *a
		switch {
		case a.Threshold != nil && aggs[n] >= *a.Threshold:
			oc.Result = &types.GradingResult{Pass: true, Score: aggs[n],
				Reason: fmt.Sprintf("aggregate score %.4f meets threshold %g", aggs[n], *a.Threshold)}
		case a.Threshold != nil:
			oc.Result = &types.GradingResult{Pass: false, Score: aggs[n],
				Reason: fmt.Sprintf("aggregate score %.4f below threshold %g", aggs[n], *a.Threshold)}
		case n == best:
			oc.Result = &types.GradingResult{Pass: true, Score: aggs[n],
				Reason: fmt.Sprintf("highest aggregate score %.4f of %d candidates", aggs[n], len(members))}
		default:
			oc.Result = &types.GradingResult{Pass: false, Score: aggs[n],
				Reason: fmt.Sprintf("lower aggregate score %.4f; candidate %d won with %.4f", aggs[n], best, aggs[best])}
		}
	}
}

// candidateAggregate is a candidate's pre-comparative weighted score, the
// quantity max-score ranks on.
func candidateAggregate(outcomes []types.AssertionOutcome) float64 {
	items := make([]aggItem, 0, len(outcomes))
	for i := range outcomes {
		oc := &outcomes[i]
		if assertion.Comparative(oc.Assertion.BaseType()) || oc.Result == nil {
			continue
		}
		items = append(items, aggItem{
			pass:   oc.Result.Pass,
			score:  oc.Result.Score,
			weight: oc.Assertion.EffectiveWeight(),
		})
	}
	_, score, _ := aggregate(items, nil)
	return score
}
