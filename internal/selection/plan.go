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

// PlanStatus is the side-channel status attached to an AllocationPlan.
type PlanStatus string

const (
	// PlanOK means the plan fits the requested budget.
	PlanOK PlanStatus = "ok"
	// PlanInsufficientBudget means no plan fit the budget and the smallest
	// legal plan was returned instead. Callers decide whether to proceed.
	PlanInsufficientBudget PlanStatus = "insufficient_budget"
	// PlanFilterOnly means refinement is disabled: U carries the minimum
	// representable training budget and the best filtering score decides.
	PlanFilterOnly PlanStatus = "filter_only"
)

// AllocationPlan is the coordinator's answer to a budget: explore N
// candidates in the filtering phase, promote the top K into refinement, and
// grant each survivor up to U budget units of training. The plan is immutable
// and consumed by exactly one filtering+refinement run.
type AllocationPlan struct {
	N      int
	K      int
	U      int
	Status PlanStatus
}

// Validate rejects malformed plans. A violation here is a caller bug, so it
// aborts the call instead of degrading.
func (p AllocationPlan) Validate() error {
	if p.K < 1 {
		return NewConfigurationError("plan k must be at least 1, got %d", p.K)
	}
	if p.N < p.K {
		return NewConfigurationError("plan n (%d) must be at least k (%d)", p.N, p.K)
	}
	if p.U < 1 {
		return NewConfigurationError("plan u must be at least 1, got %d", p.U)
	}
	return nil
}
