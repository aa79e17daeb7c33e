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
	"time"

	"github.com/sirupsen/logrus"
)

var runnerLogger = logrus.WithFields(logrus.Fields{
	"app":       "archfunnel",
	"component": "selection.runner",
})

const defaultProfileSamples = 5

// Runner glues the pipeline together: profile the evaluator's per-call
// costs, coordinate an allocation plan, filter the search space, and refine
// the survivors.
type Runner struct {
	// Coordinator converts budgets into plans.
	Coordinator *Coordinator
	// Policy refines the filtered survivors.
	Policy Policy
	// NewSampler produces a fresh pass over the search space. Samplers
	// are single-use, so every run gets its own.
	NewSampler func() CandidateSampler
	// Evaluator backs both phases.
	Evaluator Evaluator
	// FilterOpts tunes the filtering phase.
	FilterOpts FilterOptions
	// ProfileSamples is how many calls the cost profiles average over.
	// Defaults to 5.
	ProfileSamples int
}

// SelectResult is the outcome of one end-to-end selection run.
type SelectResult struct {
	// Best is the selected architecture.
	Best ScoredCandidate
	// Plan is the allocation the run executed.
	Plan AllocationPlan
	// Filter carries the filtering-phase diagnostics.
	Filter *FilterResult
	// Refine carries the refinement-phase diagnostics. Nil for
	// filter-only runs resolved by proxy score.
	Refine *RefineResult
	// TimeUsage is the wall-clock seconds the run took, profiling
	// included.
	TimeUsage float64
}

// ProfileFiltering measures the evaluator's proxy-scoring cost in seconds
// per call, averaged over a handful of freshly sampled candidates.
func (r *Runner) ProfileFiltering(ctx context.Context) (float64, error) {
	return r.profile(ctx, func(ctx context.Context, c Candidate) error {
		_, err := r.Evaluator.Score(ctx, c)
		return err
	})
}

// ProfileRefinement measures the evaluator's cost of one training budget
// unit in seconds, averaged the same way.
func (r *Runner) ProfileRefinement(ctx context.Context) (float64, error) {
	return r.profile(ctx, func(ctx context.Context, c Candidate) error {
		_, _, err := r.Evaluator.TrainPartial(ctx, c, 1)
		return err
	})
}

func (r *Runner) profile(ctx context.Context, call func(context.Context, Candidate) error) (float64, error) {
	samples := r.ProfileSamples
	if samples < 1 {
		samples = defaultProfileSamples
	}
	sampler := r.NewSampler()
	start := time.Now()
	measured := 0
	for i := 0; i < samples; i++ {
		c, ok := sampler.Next()
		if !ok {
			break
		}
		if err := call(ctx, c); err != nil {
			return 0, err
		}
		measured++
	}
	if measured == 0 {
		return 0, &Error{ErrKind: KindSamplerExhausted, Msg: "sampler produced no candidates to profile"}
	}
	return time.Since(start).Seconds() / float64(measured), nil
}

// Select runs the whole pipeline against a wall-clock budget in seconds. The
// reported TimeUsage covers everything inside the call, profiling included.
func (r *Runner) Select(ctx context.Context, budget float64, filterOnly bool) (*SelectResult, error) {
	start := time.Now()

	scoreTime, err := r.ProfileFiltering(ctx)
	if err != nil {
		return nil, err
	}
	trainTime := 0.0
	if !filterOnly {
		trainTime, err = r.ProfileRefinement(ctx)
		if err != nil {
			return nil, err
		}
	}

	plan, err := r.Coordinator.Coordinate(budget, scoreTime, trainTime, filterOnly)
	if err != nil {
		return nil, err
	}
	res, err := r.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	res.TimeUsage = time.Since(start).Seconds()
	return res, nil
}

// Run executes an already coordinated plan: filter N down to the top K, then
// refine the survivors with U units each. Filter-only plans resolve on the
// proxy score without spending training budget.
func (r *Runner) Run(ctx context.Context, plan AllocationPlan) (*SelectResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	filtered, err := Filter(ctx, plan.N, plan.K, r.NewSampler(), r.Evaluator, r.FilterOpts)
	if err != nil {
		return nil, err
	}
	res := &SelectResult{Plan: plan, Filter: filtered}

	if plan.Status == PlanFilterOnly {
		refined, err := RefineFilterOnly(filtered.TopK)
		if err != nil {
			return nil, err
		}
		res.Best = refined.Best
		return res, nil
	}

	refined, err := r.Policy.Refine(ctx, filtered.TopK, plan.U, r.Evaluator)
	if err != nil {
		return nil, err
	}
	res.Refine = refined
	res.Best = refined.Best

	runnerLogger.WithFields(logrus.Fields{
		"best":       res.Best.ID,
		"metric":     res.Best.Metric,
		"budgetUsed": refined.BudgetUsed,
	}).Debug("Selection run finished.")
	return res, nil
}
