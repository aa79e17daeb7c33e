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

import "context"

// Evaluator is the engine's only window onto model quality. Score is the
// near-zero-cost proxy used by the filtering phase; TrainPartial spends real
// training budget. Implementations may be simulated (precomputed ground truth) or
// live (actually driving training); the engine never branches on which.
//
// TrainPartial reports both the metric reached and the budget actually
// consumed, which may differ from the requested amount.
type Evaluator interface {
	// Score computes the filtering-phase proxy score for a candidate.
	Score(ctx context.Context, c Candidate) (float64, error)

	// TrainPartial trains a candidate for the given number of additional
	// budget units and returns the metric reached and the budget actually
	// consumed.
	TrainPartial(ctx context.Context, c Candidate, budget float64) (metric float64, used float64, err error)
}

// CandidateSampler draws candidates from a search space. Next reports false
// once the space is exhausted.
type CandidateSampler interface {
	Next() (Candidate, bool)
}

// ScoreCache is the shared proxy-score cache used by the filtering driver so
// re-sampled candidates are cache hits rather than recomputations. Add is
// insert-if-absent: it returns the winning value, which is the existing one
// when another writer got there first. Implementations must be safe for
// concurrent use.
type ScoreCache interface {
	Get(ctx context.Context, id string) (float64, bool, error)
	Add(ctx context.Context, id string, score float64) (float64, error)
}
