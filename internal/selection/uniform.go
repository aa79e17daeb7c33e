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

// uniformAllocation is the control policy: no elimination, every candidate
// receives the full per-survivor budget, and the best final metric wins. With
// Checkpoints > 1 the budget is split into evenly spaced rounds so callers
// observe intermediate metrics.
type uniformAllocation struct {
	opts PolicyOptions
}

func (*uniformAllocation) Name() string { return PolicyNameUniform }

func (u *uniformAllocation) PredictedUnits(k, units int) float64 {
	return float64(k * units)
}

func (*uniformAllocation) MinViableU(int) int { return 1 }

// schedule splits u into per-checkpoint increments, rounding up so no round
// grants less than its even share; the final round absorbs the difference so
// the cumulative total is exactly u.
func (ua *uniformAllocation) schedule(u int) []int {
	c := ua.opts.Checkpoints
	if c > u {
		c = u
	}
	deltas := make([]int, 0, c)
	cum := 0
	for j := 1; j <= c; j++ {
		cumJ := u
		if j < c {
			cumJ = int(math.Ceil(float64(u*j) / float64(c)))
		}
		deltas = append(deltas, cumJ-cum)
		cum = cumJ
	}
	return deltas
}

func (ua *uniformAllocation) Refine(ctx context.Context, candidates []ScoredCandidate, u int, ev Evaluator) (*RefineResult, error) {
	if err := validateRefineArgs(candidates, u); err != nil {
		return nil, err
	}

	all := newEntrants(candidates)
	entrants := all
	res := &RefineResult{}

	for i, delta := range ua.schedule(u) {
		if ctx.Err() != nil {
			res.Canceled = true
			break
		}
		r := i + 1
		trace := RoundTrace{Round: r, Budget: float64(delta), Entrants: ids(entrants)}

		out := trainRound(ctx, ev, entrants, float64(delta), ua.opts.Workers, r)
		res.BudgetUsed += out.used
		res.Failures = append(res.Failures, out.failures...)
		if out.canceled {
			res.Canceled = true
		}

		entrants = alive(entrants)
		trace.Survivors = ids(entrants)
		res.Rounds = append(res.Rounds, trace)

		if res.Canceled || len(entrants) == 0 {
			break
		}
	}

	return finish(entrants, all, res), nil
}
