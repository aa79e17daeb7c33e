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
	"errors"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"arch-funnel.dev/arch-funnel/internal/telemetry"
)

var (
	refineLogger = logrus.WithFields(logrus.Fields{
		"app":       "archfunnel",
		"component": "selection.refine",
	})

	mRoundsRun     = telemetry.Counter("selection/refine_rounds", "refinement rounds run")
	mTrainFailures = telemetry.Counter("selection/train_failures", "partial training calls which failed")
)

const (
	// PolicyNameSH selects successive halving.
	PolicyNameSH = "sh"
	// PolicyNameSR selects successive rejection.
	PolicyNameSR = "sr"
	// PolicyNameUniform selects uniform allocation.
	PolicyNameUniform = "uniform"
)

// Policy is one member of the refinement-phase allocation family. Policies
// share the refine contract and differ only in their round structure.
type Policy interface {
	// Name identifies the policy ("sh", "sr" or "uniform").
	Name() string

	// PredictedUnits is the total training budget, in units, the policy
	// will consume carrying k candidates through a per-survivor budget of
	// u. The coordinator prices plans with it.
	PredictedUnits(k, u int) float64

	// MinViableU is the smallest u which still admits at least one full
	// round for k candidates.
	MinViableU(k int) int

	// Refine runs the policy over the survivors, granting each up to u
	// budget units, and returns the best candidate together with the
	// budget actually consumed. Candidates whose evaluation fails are
	// eliminated with a worst-possible metric; only malformed parameters
	// produce an error.
	Refine(ctx context.Context, candidates []ScoredCandidate, u int, ev Evaluator) (*RefineResult, error)
}

// PolicyOptions carries the shared policy tunables.
type PolicyOptions struct {
	// Eta is the successive-halving reduction factor. Defaults to 3.
	Eta int
	// Workers bounds how many evaluator calls are dispatched concurrently
	// within a round. Defaults to 1 (serial).
	Workers int
	// Checkpoints splits uniform allocation into evenly spaced rounds so
	// callers get intermediate metrics. Defaults to 1 (a single round).
	Checkpoints int
}

func (o PolicyOptions) withDefaults() PolicyOptions {
	if o.Eta == 0 {
		o.Eta = 3
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Checkpoints < 1 {
		o.Checkpoints = 1
	}
	return o
}

// NewPolicy builds a refinement policy by name.
func NewPolicy(name string, opts PolicyOptions) (Policy, error) {
	opts = opts.withDefaults()
	if opts.Eta < 2 {
		return nil, NewConfigurationError("eta must be at least 2, got %d", opts.Eta)
	}
	switch name {
	case PolicyNameSH:
		return &successiveHalving{opts: opts}, nil
	case PolicyNameSR:
		return &successiveRejection{opts: opts}, nil
	case PolicyNameUniform:
		return &uniformAllocation{opts: opts}, nil
	}
	return nil, NewConfigurationError("unknown refinement policy %q", name)
}

// RoundTrace records one elimination round for diagnostics.
type RoundTrace struct {
	Round     int
	Budget    float64 // additional budget granted per entrant this round
	Entrants  []string
	Survivors []string
}

// RefineResult is the outcome of one refinement run.
type RefineResult struct {
	// Best is the winning candidate by final-round metric.
	Best ScoredCandidate
	// BudgetUsed is the training budget actually consumed across all
	// rounds and candidates.
	BudgetUsed float64
	// Rounds traces every round in order.
	Rounds []RoundTrace
	// Failures lists candidates eliminated by evaluation failures.
	Failures []EvaluationFailure
	// Canceled reports that the run was aborted between rounds; Best is
	// the best candidate seen so far.
	Canceled bool
}

// validateRefineArgs is the shared precondition check for all policies.
func validateRefineArgs(candidates []ScoredCandidate, u int) error {
	if len(candidates) == 0 {
		return NewConfigurationError("at least one candidate is required")
	}
	if u < 1 {
		return NewConfigurationError("u must be at least 1, got %d", u)
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.ID == "" {
			return NewConfigurationError("candidate with empty id")
		}
		if _, ok := seen[c.ID]; ok {
			return NewConfigurationError("duplicate candidate id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

func newEntrants(candidates []ScoredCandidate) []*ScoredCandidate {
	entrants := make([]*ScoredCandidate, len(candidates))
	for i := range candidates {
		c := candidates[i]
		if len(c.History) == 0 {
			c.Metric = math.Inf(-1)
		}
		entrants[i] = &c
	}
	return entrants
}

// roundOutcome is what one synchronized training round produced.
type roundOutcome struct {
	used     float64
	failures []EvaluationFailure
	canceled bool
}

// trainRound trains every entrant for the given additional budget. Calls
// within the round have no ordering dependency and are dispatched on a
// bounded worker pool; the round is a synchronization barrier, so trainRound
// only returns once every call has finished. A failed call marks its entrant
// failed with a worst-possible metric; the round carries on for the rest.
func trainRound(ctx context.Context, ev Evaluator, entrants []*ScoredCandidate, budget float64, workers, round int) roundOutcome {
	type slot struct {
		used float64
		err  error
	}
	results := make([]slot, len(entrants))

	g := &errgroup.Group{}
	g.SetLimit(workers)
	for i := range entrants {
		i := i
		e := entrants[i]
		g.Go(func() error {
			metric, used, err := ev.TrainPartial(ctx, e.Candidate, budget)
			if err != nil {
				results[i] = slot{err: err}
				return nil
			}
			e.Metric = metric
			e.Used += used
			e.History = append(e.History, Observation{Budget: e.Used, Metric: metric})
			results[i] = slot{used: used}
			return nil
		})
	}
	// Errors are folded into per-entrant results above.
	_ = g.Wait()

	out := roundOutcome{}
	for i, r := range results {
		if r.err != nil {
			if errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded) {
				out.canceled = true
				continue
			}
			e := entrants[i]
			e.Failed = true
			e.Metric = math.Inf(-1)
			out.failures = append(out.failures, EvaluationFailure{
				ID:      e.ID,
				Round:   round,
				Message: r.err.Error(),
			})
			telemetry.RecordUnitMeasurement(ctx, mTrainFailures)
			refineLogger.WithFields(logrus.Fields{
				"candidate": e.ID,
				"round":     round,
				"error":     r.err.Error(),
			}).Warn("Partial training failed, candidate eliminated.")
			continue
		}
		out.used += r.used
	}
	telemetry.RecordUnitMeasurement(context.Background(), mRoundsRun)
	return out
}

// alive filters out failed entrants.
func alive(entrants []*ScoredCandidate) []*ScoredCandidate {
	out := entrants[:0:0]
	for _, e := range entrants {
		if !e.Failed {
			out = append(out, e)
		}
	}
	return out
}

func ids(entrants []*ScoredCandidate) []string {
	out := make([]string, len(entrants))
	for i, e := range entrants {
		out[i] = e.ID
	}
	return out
}

// finish assembles the result shared by every policy: the ranked best among
// the entrants which reached the end, or among everything when all failed.
func finish(entrants, all []*ScoredCandidate, res *RefineResult) *RefineResult {
	live := alive(entrants)
	if len(live) == 0 {
		live = all
	}
	rankByMetric(live)
	res.Best = *live[0]
	return res
}

// RefineFilterOnly resolves a filter-only plan: the best candidate by proxy
// score wins and no training budget is spent.
func RefineFilterOnly(candidates []ScoredCandidate) (*RefineResult, error) {
	if len(candidates) == 0 {
		return nil, NewConfigurationError("at least one candidate is required")
	}
	entrants := newEntrants(candidates)
	rankByScore(entrants)
	best := *entrants[0]
	best.Metric = best.Score
	return &RefineResult{Best: best}, nil
}
