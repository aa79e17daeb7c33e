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

// Package selection implements the budget-aware allocation engine: the
// coordinator that turns a wall-clock budget into an allocation plan, the
// filtering driver that narrows a large candidate pool with cheap proxy
// scores, and the refinement policy family (successive halving, successive
// rejection, uniform allocation) that spends metered training budget on the
// survivors.
package selection

import (
	"math"
	"sort"
)

// Candidate is one architecture under consideration. The engine treats the
// encoding as an opaque blob; only the sampler and evaluator interpret it.
type Candidate struct {
	ID       string
	Encoding string
}

// Observation is one (cumulative budget, metric) measurement of a candidate.
type Observation struct {
	Budget float64
	Metric float64
}

// ScoredCandidate is a Candidate together with everything the engine has
// learned about it: the phase-1 proxy score, the latest phase-2 metric, the
// training budget consumed so far and the observation history. Observations
// are append-only.
type ScoredCandidate struct {
	Candidate

	// Score is the proxy score from the filtering phase.
	Score float64
	// Metric is the most recent partial-training metric. Candidates which
	// have never been trained hold -Inf.
	Metric float64
	// Used is the cumulative training budget consumed by this candidate.
	Used float64
	// History holds every (budget, metric) observation in order.
	History []Observation
	// Failed marks a candidate permanently eliminated by an evaluation
	// failure.
	Failed bool
}

func newScored(c Candidate) *ScoredCandidate {
	return &ScoredCandidate{
		Candidate: c,
		Metric:    math.Inf(-1),
	}
}

// rankByMetric orders candidates best-first by their latest metric, failed
// candidates last, ties broken by candidate ID so repeat runs rank
// identically.
func rankByMetric(cands []*ScoredCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Failed != b.Failed {
			return !a.Failed
		}
		if a.Metric != b.Metric {
			return a.Metric > b.Metric
		}
		return a.ID < b.ID
	})
}

// rankByScore orders candidates best-first by proxy score with the same
// deterministic tie-breaking as rankByMetric.
func rankByScore(cands []*ScoredCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Failed != b.Failed {
			return !a.Failed
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ID < b.ID
	})
}
