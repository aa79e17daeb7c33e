// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package selection

import (
	"context"
	"math"
)

// successiveRejection fixes its round structure before any training happens:
// k candidates are whittled down over exactly k-1 rounds, one elimination per
// round, with the cumulative per-survivor budget following the closed-form
// successive-rejects allocation over a total budget of k*u units. Only the
// ranking that decides who is dropped is computed online.
type successiveRejection struct {
	opts PolicyOptions
}

func (*successiveRejection) Name() string { return PolicyNameSR }

type srRound struct {
	entrants int
	delta    int
}

// logBar is the 1/2 + sum_{i=2..k} 1/i normalizer from the closed-form
// allocation.
func logBar(k int) float64 {
	b := 0.5
	for i := 2; i <= k; i++ {
		b += 1.0 / float64(i)
	}
	return b
}

// schedule precomputes the rejection rounds for k candidates over a total
// budget of k*u. Cumulative budgets round up, never down; monotonicity is
// enforced so a later round never grants less than an earlier one.
func (s *successiveRejection) schedule(k, u int) []srRound {
	if k == 1 {
		return []srRound{{entrants: 1, delta: u}}
	}
	total := k * u
	bar := logBar(k)
	rounds := make([]srRound, 0, k-1)
	cum := 0
	for r := 1; r <= k-1; r++ {
		cumR := int(math.Ceil(float64(total-k) / (bar * float64(k+1-r))))
		if cumR < 1 {
			cumR = 1
		}
		if cumR < cum {
			cumR = cum
		}
		rounds = append(rounds, srRound{
			entrants: k - (r - 1),
			delta:    cumR - cum,
		})
		cum = cumR
	}
	return rounds
}

func (s *successiveRejection) PredictedUnits(k, u int) float64 {
	total := 0
	for _, r := range s.schedule(k, u) {
		total += r.entrants * r.delta
	}
	return float64(total)
}

func (*successiveRejection) MinViableU(int) int { return 1 }

func (s *successiveRejection) Refine(ctx context.Context, candidates []ScoredCandidate, u int, ev Evaluator) (*RefineResult, error) {
	if err := validateRefineArgs(candidates, u); err != nil {
		return nil, err
	}

	all := newEntrants(candidates)
	entrants := all
	res := &RefineResult{}

	for i, round := range s.schedule(len(candidates), u) {
		if ctx.Err() != nil {
			res.Canceled = true
			break
		}
		r := i + 1
		trace := RoundTrace{Round: r, Budget: float64(round.delta), Entrants: ids(entrants)}

		if round.delta > 0 {
			out := trainRound(ctx, ev, entrants, float64(round.delta), s.opts.Workers, r)
			res.BudgetUsed += out.used
			res.Failures = append(res.Failures, out.failures...)
			if out.canceled {
				res.Canceled = true
			}
		}

		live := alive(entrants)
		rankByMetric(live)
		// The schedule dictates exactly one rejection per round; failures
		// are on top of it, not instead of it.
		if len(live) > 1 && !res.Canceled {
			live = live[:len(live)-1]
		}
		entrants = live
		trace.Survivors = ids(entrants)
		res.Rounds = append(res.Rounds, trace)

		if res.Canceled || len(entrants) <= 1 {
			break
		}
	}

	return finish(entrants, all, res), nil
}
