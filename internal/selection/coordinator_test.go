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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanValidate(t *testing.T) {
	assert.NoError(t, AllocationPlan{N: 10, K: 3, U: 5}.Validate())
	assert.True(t, IsConfigurationError(AllocationPlan{N: 10, K: 0, U: 5}.Validate()))
	assert.True(t, IsConfigurationError(AllocationPlan{N: 2, K: 3, U: 5}.Validate()))
	assert.True(t, IsConfigurationError(AllocationPlan{N: 10, K: 3, U: 0}.Validate()))
}

func newTestCoordinator(t *testing.T, policyName string, maxK, maxU int) *Coordinator {
	policy, err := NewPolicy(policyName, PolicyOptions{})
	require.NoError(t, err)
	c, err := NewCoordinator(CoordinatorConfig{
		SearchSpaceSize: 10000,
		MaxK:            maxK,
		MaxU:            maxU,
		Policy:          policy,
	})
	require.NoError(t, err)
	return c
}

func TestNewCoordinatorValidation(t *testing.T) {
	policy, err := NewPolicy(PolicyNameSH, PolicyOptions{})
	require.NoError(t, err)

	_, err = NewCoordinator(CoordinatorConfig{SearchSpaceSize: 0, MaxK: 1, MaxU: 1, Policy: policy})
	assert.True(t, IsConfigurationError(err))
	_, err = NewCoordinator(CoordinatorConfig{SearchSpaceSize: 10, MaxK: 0, MaxU: 1, Policy: policy})
	assert.True(t, IsConfigurationError(err))
	_, err = NewCoordinator(CoordinatorConfig{SearchSpaceSize: 10, MaxK: 1, MaxU: 0, Policy: policy})
	assert.True(t, IsConfigurationError(err))
	_, err = NewCoordinator(CoordinatorConfig{SearchSpaceSize: 10, MaxK: 1, MaxU: 1})
	assert.True(t, IsConfigurationError(err))
	_, err = NewCoordinator(CoordinatorConfig{SearchSpaceSize: 10, MaxK: 1, MaxU: 1, Policy: policy, TieBreak: "bogus"})
	assert.True(t, IsConfigurationError(err))
}

func TestCoordinateArgValidation(t *testing.T) {
	c := newTestCoordinator(t, PolicyNameSH, 10, 100)

	_, err := c.Coordinate(0, 0.1, 1, false)
	assert.True(t, IsConfigurationError(err))
	_, err = c.Coordinate(10, -0.1, 1, false)
	assert.True(t, IsConfigurationError(err))
	_, err = c.Coordinate(10, 0.1, 0, false)
	assert.True(t, IsConfigurationError(err))
}

func TestCoordinateTightBudget(t *testing.T) {
	// With 10s total, 0.02s per score and 5s per training unit, the only
	// viable refinement is a single candidate with a single unit, leaving
	// 5s to filter 250 candidates.
	c := newTestCoordinator(t, PolicyNameSH, 10, 100)

	plan, err := c.Coordinate(10, 0.02, 5.0, false)
	require.NoError(t, err)
	assert.Equal(t, AllocationPlan{N: 250, K: 1, U: 1, Status: PlanOK}, plan)
}

func TestCoordinatePrefersMoreSurvivors(t *testing.T) {
	c := newTestCoordinator(t, PolicyNameUniform, 8, 50)

	// Uniform cost is k*u, so plans from wide-and-shallow to
	// narrow-and-deep all fit. Survivor tie-breaking picks the widest.
	plan, err := c.Coordinate(110, 0.01, 1.0, false)
	require.NoError(t, err)
	assert.Equal(t, 8, plan.K)
	assert.Equal(t, PlanOK, plan.Status)
	assert.GreaterOrEqual(t, plan.N, plan.K)
}

func TestCoordinateDepthTieBreak(t *testing.T) {
	policy, err := NewPolicy(PolicyNameUniform, PolicyOptions{})
	require.NoError(t, err)
	c, err := NewCoordinator(CoordinatorConfig{
		SearchSpaceSize: 10000,
		MaxK:            8,
		MaxU:            50,
		Policy:          policy,
		TieBreak:        TieBreakDepth,
	})
	require.NoError(t, err)

	// Both k=1 and k=2 can afford the full depth of 50; at equal depth
	// the wider plan wins.
	plan, err := c.Coordinate(110, 0.01, 1.0, false)
	require.NoError(t, err)
	assert.Equal(t, 50, plan.U)
	assert.Equal(t, 2, plan.K)
}

func TestCoordinateInsufficientBudget(t *testing.T) {
	c := newTestCoordinator(t, PolicyNameSH, 10, 100)

	plan, err := c.Coordinate(0.5, 0.1, 10.0, false)
	require.NoError(t, err)
	assert.Equal(t, PlanInsufficientBudget, plan.Status)
	assert.Equal(t, 1, plan.K)
	assert.Equal(t, 1, plan.N)
	assert.NoError(t, plan.Validate())
}

func TestCoordinateFilterOnly(t *testing.T) {
	c := newTestCoordinator(t, PolicyNameSH, 10, 100)

	plan, err := c.Coordinate(10, 0.02, 0, true)
	require.NoError(t, err)
	assert.Equal(t, PlanFilterOnly, plan.Status)
	assert.Equal(t, 500, plan.N)
	assert.Equal(t, 10, plan.K)
	assert.Equal(t, 1, plan.U)

	// A budget too small to score anything degrades gracefully.
	plan, err = c.Coordinate(0.01, 0.02, 0, true)
	require.NoError(t, err)
	assert.Equal(t, PlanInsufficientBudget, plan.Status)
}

func TestCoordinateCapsAtSearchSpace(t *testing.T) {
	policy, err := NewPolicy(PolicyNameSH, PolicyOptions{})
	require.NoError(t, err)
	c, err := NewCoordinator(CoordinatorConfig{
		SearchSpaceSize: 100,
		MaxK:            5,
		MaxU:            10,
		Policy:          policy,
	})
	require.NoError(t, err)

	plan, err := c.Coordinate(1e6, 0.001, 0.001, false)
	require.NoError(t, err)
	assert.Equal(t, 100, plan.N)
	assert.LessOrEqual(t, plan.K, 5)
}

func TestScheduleU(t *testing.T) {
	c := newTestCoordinator(t, PolicyNameUniform, 10, 100)

	// Uniform spends k*u, so k=10 over 500s at 1s per unit fits u=50.
	u, err := c.ScheduleU(10, 500, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 50, u)

	// Nothing fits: fall back to the minimum viable depth.
	u, err = c.ScheduleU(10, 1, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 1, u)

	_, err = c.ScheduleU(0, 500, 1.0)
	assert.True(t, IsConfigurationError(err))
	_, err = c.ScheduleU(10, 500, 0)
	assert.True(t, IsConfigurationError(err))
}
