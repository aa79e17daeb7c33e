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
	"math"

	"github.com/sirupsen/logrus"
)

var coordinatorLogger = logrus.WithFields(logrus.Fields{
	"app":       "archfunnel",
	"component": "selection.coordinator",
})

// TieBreak selects between competing feasible plans.
type TieBreak string

const (
	// TieBreakSurvivors prefers more survivors with shallower refinement.
	TieBreakSurvivors TieBreak = "survivors"
	// TieBreakDepth prefers fewer survivors trained more deeply.
	TieBreakDepth TieBreak = "depth"
)

// CoordinatorConfig carries the static search-space metadata and tunables the
// coordinator needs. All values are explicit so a Coordinate call is a pure
// function of its inputs.
type CoordinatorConfig struct {
	// SearchSpaceSize caps N.
	SearchSpaceSize int
	// MaxK caps how many survivors may enter refinement.
	MaxK int
	// MinU and MaxU bound the per-survivor training budget considered.
	MinU int
	MaxU int
	// Policy predicts the refinement cost of carrying K survivors through
	// a budget of U units each.
	Policy Policy
	// TieBreak picks between feasible plans; defaults to TieBreakSurvivors.
	TieBreak TieBreak
}

// Coordinator converts a total time budget plus empirically measured
// per-unit costs into an AllocationPlan.
type Coordinator struct {
	cfg CoordinatorConfig
}

// NewCoordinator validates the config and returns a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.SearchSpaceSize < 1 {
		return nil, NewConfigurationError("search space size must be positive, got %d", cfg.SearchSpaceSize)
	}
	if cfg.MaxK < 1 {
		return nil, NewConfigurationError("maxK must be positive, got %d", cfg.MaxK)
	}
	if cfg.MinU < 1 {
		cfg.MinU = 1
	}
	if cfg.MaxU < cfg.MinU {
		return nil, NewConfigurationError("maxU (%d) must be at least minU (%d)", cfg.MaxU, cfg.MinU)
	}
	if cfg.Policy == nil {
		return nil, NewConfigurationError("a refinement policy is required to predict plan cost")
	}
	switch cfg.TieBreak {
	case TieBreakSurvivors, TieBreakDepth:
	case "":
		cfg.TieBreak = TieBreakSurvivors
	default:
		return nil, NewConfigurationError("unknown tie break %q", cfg.TieBreak)
	}
	return &Coordinator{cfg: cfg}, nil
}

// Coordinate searches the (N, K) grid for the plan whose predicted cost fits
// the budget: N*scoreTime for filtering plus the policy's predicted training
// cost for carrying K survivors through U units each. When nothing fits it
// returns the smallest legal plan flagged PlanInsufficientBudget rather than
// failing.
func (c *Coordinator) Coordinate(budget, scoreTime, trainTime float64, filterOnly bool) (AllocationPlan, error) {
	if budget <= 0 {
		return AllocationPlan{}, NewConfigurationError("budget must be positive, got %v", budget)
	}
	if scoreTime < 0 {
		return AllocationPlan{}, NewConfigurationError("score time must not be negative, got %v", scoreTime)
	}
	if filterOnly {
		return c.coordinateFilterOnly(budget, scoreTime), nil
	}
	if trainTime <= 0 {
		return AllocationPlan{}, NewConfigurationError("train time must be positive, got %v", trainTime)
	}

	best, found := c.searchGrid(budget, scoreTime, trainTime)
	if !found {
		coordinatorLogger.WithFields(logrus.Fields{
			"budget":    budget,
			"scoreTime": scoreTime,
			"trainTime": trainTime,
		}).Warn("Budget admits no plan, falling back to the smallest legal plan.")
		return AllocationPlan{N: 1, K: 1, U: c.minViableU(1), Status: PlanInsufficientBudget}, nil
	}

	coordinatorLogger.WithFields(logrus.Fields{
		"n": best.N,
		"k": best.K,
		"u": best.U,
	}).Debug("Coordinated allocation plan.")
	return best, nil
}

func (c *Coordinator) coordinateFilterOnly(budget, scoreTime float64) AllocationPlan {
	n := c.cfg.SearchSpaceSize
	if scoreTime > 0 {
		n = int(math.Floor(budget / scoreTime))
		if n > c.cfg.SearchSpaceSize {
			n = c.cfg.SearchSpaceSize
		}
	}
	if n < 1 {
		return AllocationPlan{N: 1, K: 1, U: 1, Status: PlanInsufficientBudget}
	}
	k := c.cfg.MaxK
	if k > n {
		k = n
	}
	return AllocationPlan{N: n, K: k, U: 1, Status: PlanFilterOnly}
}

// searchGrid walks K from 1 up to the cap and, for each K, finds the deepest
// U whose predicted refinement cost leaves room to filter at least K
// candidates. Feasible plans compete under the configured tie break.
func (c *Coordinator) searchGrid(budget, scoreTime, trainTime float64) (AllocationPlan, bool) {
	maxK := c.cfg.MaxK
	if maxK > c.cfg.SearchSpaceSize {
		maxK = c.cfg.SearchSpaceSize
	}

	var best AllocationPlan
	found := false
	for k := 1; k <= maxK; k++ {
		minU := c.minViableU(k)
		for u := c.cfg.MaxU; u >= minU; u-- {
			refineCost := c.cfg.Policy.PredictedUnits(k, u) * trainTime
			remaining := budget - refineCost
			if remaining < 0 {
				continue
			}
			n := c.cfg.SearchSpaceSize
			if scoreTime > 0 {
				affordable := int(math.Floor(remaining / scoreTime))
				if affordable < n {
					n = affordable
				}
			}
			if n < k {
				// Even the shallowest feasible depth must leave
				// enough filtering budget to surface K survivors.
				continue
			}
			p := AllocationPlan{N: n, K: k, U: u, Status: PlanOK}
			if !found || c.better(p, best) {
				best = p
				found = true
			}
			break // deepest feasible U for this K
		}
	}
	return best, found
}

// better reports whether a should replace b under the configured tie break.
func (c *Coordinator) better(a, b AllocationPlan) bool {
	if c.cfg.TieBreak == TieBreakDepth {
		if a.U != b.U {
			return a.U > b.U
		}
		if a.K != b.K {
			return a.K > b.K
		}
		return a.N > b.N
	}
	if a.K != b.K {
		return a.K > b.K
	}
	if a.U != b.U {
		return a.U > b.U
	}
	return a.N > b.N
}

// minViableU is the smallest per-survivor budget that still admits at least
// one full round of the configured policy for k survivors.
func (c *Coordinator) minViableU(k int) int {
	min := c.cfg.Policy.MinViableU(k)
	if min < c.cfg.MinU {
		min = c.cfg.MinU
	}
	return min
}

// ScheduleU converts a refinement-phase time budget into the deepest
// per-survivor budget the policy can spend on k candidates within it. Used by
// callers which pin K up front, such as the benchmark harness.
func (c *Coordinator) ScheduleU(k int, timeBudget, trainTime float64) (int, error) {
	if k < 1 {
		return 0, NewConfigurationError("k must be at least 1, got %d", k)
	}
	if trainTime <= 0 {
		return 0, NewConfigurationError("train time must be positive, got %v", trainTime)
	}
	minU := c.minViableU(k)
	for u := c.cfg.MaxU; u > minU; u-- {
		if c.cfg.Policy.PredictedUnits(k, u)*trainTime <= timeBudget {
			return u, nil
		}
	}
	return minU, nil
}
