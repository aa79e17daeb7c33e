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

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"arch-funnel.dev/arch-funnel/internal/telemetry"
)

var (
	filterLogger = logrus.WithFields(logrus.Fields{
		"app":       "archfunnel",
		"component": "selection.filter",
	})

	mCandidatesScored = telemetry.Counter("selection/candidates_scored", "candidates scored during filtering")
	mScoreFailures    = telemetry.Counter("selection/score_failures", "proxy scoring calls which failed")
	mScoreCacheHits   = telemetry.Counter("selection/score_cache_hits", "proxy scores served from the cache")
)

// FilterOptions carries the filtering-phase tunables.
type FilterOptions struct {
	// Workers bounds how many scoring calls run concurrently. Defaults
	// to 1 (serial).
	Workers int
	// Cache, when set, memoizes proxy scores across runs. Cache errors
	// degrade to scoring without it.
	Cache ScoreCache
	// MaxDraws caps how many samples are drawn while collecting n unique
	// candidates, guarding against samplers that repeat themselves.
	// Defaults to 50*n.
	MaxDraws int
}

// FilterResult is the outcome of one filtering run.
type FilterResult struct {
	// TopK holds the k best candidates by proxy score, best first.
	TopK []ScoredCandidate
	// Scored lists every scored candidate in exploration order.
	Scored []ScoredCandidate
	// Exhausted reports that the sampler ran dry (or kept repeating
	// itself) before n unique candidates were drawn.
	Exhausted bool
	// Failures lists candidates whose proxy scoring failed.
	Failures []EvaluationFailure
}

// Filter explores up to n unique candidates from the sampler, scores each
// with the cheap proxy, and keeps the k best. Fewer than n candidates is not
// an error: the result carries whatever the sampler could produce, with
// Exhausted set. A sampler that produces nothing at all is an error of kind
// KindSamplerExhausted. Duplicate draws are skipped and do not count
// against n.
func Filter(ctx context.Context, n, k int, sampler CandidateSampler, ev Evaluator, opts FilterOptions) (*FilterResult, error) {
	if n < 1 {
		return nil, NewConfigurationError("n must be at least 1, got %d", n)
	}
	if k < 1 {
		return nil, NewConfigurationError("k must be at least 1, got %d", k)
	}
	if k > n {
		return nil, NewConfigurationError("k (%d) must not exceed n (%d)", k, n)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxDraws < 1 {
		opts.MaxDraws = 50 * n
	}

	res := &FilterResult{}
	candidates := drawUnique(n, sampler, opts.MaxDraws, res)
	if len(candidates) == 0 {
		return nil, &Error{
			ErrKind: KindSamplerExhausted,
			Msg:     "sampler produced no candidates to filter",
		}
	}

	scored := make([]ScoredCandidate, len(candidates))
	failed := make([]error, len(candidates))

	g := &errgroup.Group{}
	g.SetLimit(opts.Workers)
	for i := range candidates {
		i := i
		c := candidates[i]
		g.Go(func() error {
			score, err := lookupOrScore(ctx, c, ev, opts.Cache)
			if err != nil {
				failed[i] = err
				return nil
			}
			sc := newScored(c)
			sc.Score = score
			scored[i] = *sc
			return nil
		})
	}
	// Errors are folded into per-candidate slots above.
	_ = g.Wait()

	for i, err := range failed {
		if err == nil {
			res.Scored = append(res.Scored, scored[i])
			telemetry.RecordUnitMeasurement(ctx, mCandidatesScored)
			continue
		}
		res.Failures = append(res.Failures, EvaluationFailure{
			ID:      candidates[i].ID,
			Message: err.Error(),
		})
		telemetry.RecordUnitMeasurement(ctx, mScoreFailures)
		filterLogger.WithFields(logrus.Fields{
			"candidate": candidates[i].ID,
			"error":     err.Error(),
		}).Warn("Proxy scoring failed, candidate skipped.")
	}
	if len(res.Scored) == 0 {
		return nil, &Error{
			ErrKind: KindEvaluationFailure,
			Msg:     "proxy scoring failed for every candidate",
		}
	}

	ranked := make([]*ScoredCandidate, len(res.Scored))
	for i := range res.Scored {
		ranked[i] = &res.Scored[i]
	}
	rankByScore(ranked)
	if k > len(ranked) {
		k = len(ranked)
	}
	res.TopK = make([]ScoredCandidate, k)
	for i := 0; i < k; i++ {
		res.TopK[i] = *ranked[i]
	}
	return res, nil
}

// drawUnique collects up to n unique candidates, marking the result exhausted
// when the sampler runs dry or the draw cap is hit first.
func drawUnique(n int, sampler CandidateSampler, maxDraws int, res *FilterResult) []Candidate {
	seen := make(map[string]struct{}, n)
	candidates := make([]Candidate, 0, n)
	draws := 0
	for len(candidates) < n {
		if draws >= maxDraws {
			res.Exhausted = true
			break
		}
		c, ok := sampler.Next()
		if !ok {
			res.Exhausted = true
			break
		}
		draws++
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		candidates = append(candidates, c)
	}
	return candidates
}

// lookupOrScore consults the cache first, scoring and publishing on a miss.
// The cache's insert-if-absent contract makes the first published score
// authoritative, so concurrent scorers of the same candidate converge.
func lookupOrScore(ctx context.Context, c Candidate, ev Evaluator, cache ScoreCache) (float64, error) {
	if cache != nil {
		score, ok, err := cache.Get(ctx, c.ID)
		if err != nil {
			filterLogger.WithError(err).Warn("Score cache lookup failed, scoring directly.")
		} else if ok {
			telemetry.RecordUnitMeasurement(ctx, mScoreCacheHits)
			return score, nil
		}
	}
	score, err := ev.Score(ctx, c)
	if err != nil {
		return 0, err
	}
	if cache != nil {
		stored, err := cache.Add(ctx, c.ID, score)
		if err != nil {
			filterLogger.WithError(err).Warn("Score cache publish failed.")
			return score, nil
		}
		return stored, nil
	}
	return score, nil
}
