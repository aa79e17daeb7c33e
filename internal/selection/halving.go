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

// successiveHalving spends more budget on fewer, more promising candidates
// each round: only the top 1/eta fraction survives a round, and the
// per-survivor cumulative budget follows a geometric schedule which reaches U
// in the final round.
type successiveHalving struct {
	opts PolicyOptions
}

func (*successiveHalving) Name() string { return PolicyNameSH }

// shRound is one precomputed round of the halving schedule.
type shRound struct {
	// entrants is how many candidates enter this round.
	entrants int
	// survivors is how many remain after the round's elimination.
	survivors int
	// delta is the additional per-entrant budget granted this round.
	delta int
}

// rounds returns ceil(log_eta(k)).
func (s *successiveHalving) rounds(k int) int {
	if k <= 1 {
		return 1
	}
	eta := s.opts.Eta
	r := 0
	pow := 1
	for pow < k {
		pow *= eta
		r++
	}
	return r
}

// survivorsAfter is max(1, ceil(k/eta^r)).
func survivorsAfter(k, eta, r int) int {
	pow := 1
	for i := 0; i < r; i++ {
		pow *= eta
	}
	s := (k + pow - 1) / pow
	if s < 1 {
		s = 1
	}
	return s
}

// schedule precomputes the halving bracket for k candidates and a
// per-survivor budget of u. Per-round budgets round up, never down, so every
// survivor receives at least its scheduled minimum; the final round absorbs
// any surplus so the cumulative budget lands exactly on u.
func (s *successiveHalving) schedule(k, u int) []shRound {
	eta := s.opts.Eta
	totalRounds := s.rounds(k)
	rounds := make([]shRound, 0, totalRounds)
	cum := 0
	for r := 1; r <= totalRounds; r++ {
		var cumR int
		if r == totalRounds {
			cumR = u
		} else {
			cumR = int(math.Ceil(float64(u) / math.Pow(float64(eta), float64(totalRounds-r))))
			if cumR < 1 {
				cumR = 1
			}
			if cumR > u {
				cumR = u
			}
		}
		delta := cumR - cum
		if delta < 0 {
			delta = 0
		}
		rounds = append(rounds, shRound{
			entrants:  survivorsAfter(k, eta, r-1),
			survivors: survivorsAfter(k, eta, r),
			delta:     delta,
		})
		cum = cumR
	}
	return rounds
}

func (s *successiveHalving) PredictedUnits(k, u int) float64 {
	total := 0
	for _, r := range s.schedule(k, u) {
		total += r.entrants * r.delta
	}
	return float64(total)
}

// MinViableU grants every round at least one fresh budget unit.
func (s *successiveHalving) MinViableU(k int) int {
	return s.rounds(k)
}

func (s *successiveHalving) Refine(ctx context.Context, candidates []ScoredCandidate, u int, ev Evaluator) (*RefineResult, error) {
	if err := validateRefineArgs(candidates, u); err != nil {
		return nil, err
	}

	all := newEntrants(candidates)
	entrants := all
	res := &RefineResult{}
	sched := s.schedule(len(candidates), u)

	for i, round := range sched {
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
		keep := round.survivors
		if keep > len(live) {
			keep = len(live)
		}
		if keep < 1 && len(live) > 0 {
			keep = 1
		}
		entrants = live[:keep]
		trace.Survivors = ids(entrants)
		res.Rounds = append(res.Rounds, trace)

		// Terminate once a single candidate remains (ahead of schedule
		// only when failures thin the field) or on cancel.
		if res.Canceled || len(entrants) <= 1 {
			break
		}
	}

	return finish(entrants, all, res), nil
}
