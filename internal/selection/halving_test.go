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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHalvingSchedule(t *testing.T) {
	sh := &successiveHalving{opts: PolicyOptions{Eta: 3, Workers: 1, Checkpoints: 1}}

	sched := sh.schedule(9, 9)
	require.Len(t, sched, 2)
	assert.Equal(t, shRound{entrants: 9, survivors: 3, delta: 3}, sched[0])
	assert.Equal(t, shRound{entrants: 3, survivors: 1, delta: 6}, sched[1])
	assert.Equal(t, 45.0, sh.PredictedUnits(9, 9))

	// Cumulative budget always lands exactly on u in the final round.
	for _, k := range []int{1, 2, 5, 27, 100} {
		for _, u := range []int{sh.MinViableU(k), 7, 50} {
			cum := 0
			for _, r := range sh.schedule(k, u) {
				cum += r.delta
			}
			assert.Equal(t, u, cum, "k=%d u=%d", k, u)
		}
	}
}

func TestHalvingScheduleRoundsUp(t *testing.T) {
	sh := &successiveHalving{opts: PolicyOptions{Eta: 3, Workers: 1, Checkpoints: 1}}

	// u=10 over 3 rounds: ceil(10/9)=2, ceil(10/3)=4, 10.
	sched := sh.schedule(27, 10)
	require.Len(t, sched, 3)
	assert.Equal(t, 2, sched[0].delta)
	assert.Equal(t, 2, sched[1].delta)
	assert.Equal(t, 6, sched[2].delta)
}

func TestHalvingSurvivorCounts(t *testing.T) {
	assert.Equal(t, 4, survivorsAfter(10, 3, 1))
	assert.Equal(t, 2, survivorsAfter(10, 3, 2))
	assert.Equal(t, 1, survivorsAfter(10, 3, 3))
	assert.Equal(t, 1, survivorsAfter(1, 3, 1))
}

func TestHalvingMinViableU(t *testing.T) {
	sh := &successiveHalving{opts: PolicyOptions{Eta: 3, Workers: 1, Checkpoints: 1}}
	assert.Equal(t, 1, sh.MinViableU(1))
	assert.Equal(t, 1, sh.MinViableU(3))
	assert.Equal(t, 2, sh.MinViableU(4))
	assert.Equal(t, 3, sh.MinViableU(10))
}

func TestHalvingRefine(t *testing.T) {
	candidates, quality := makeCandidates(9)
	ev := newFakeEvaluator(quality)

	p, err := NewPolicy(PolicyNameSH, PolicyOptions{Eta: 3})
	require.NoError(t, err)

	res, err := p.Refine(context.Background(), candidates, 9, ev)
	require.NoError(t, err)

	assert.Equal(t, "arch-008", res.Best.ID)
	assert.Equal(t, 45.0, res.BudgetUsed)
	require.Len(t, res.Rounds, 2)
	assert.Len(t, res.Rounds[0].Entrants, 9)
	assert.Len(t, res.Rounds[0].Survivors, 3)
	assert.Len(t, res.Rounds[1].Survivors, 1)

	// The winner received the full per-survivor budget.
	assert.Equal(t, 9.0, ev.consumedBy("arch-008"))
	// Round-one losers received only the first increment.
	assert.Equal(t, 3.0, ev.consumedBy("arch-000"))
}

func TestHalvingSingleCandidate(t *testing.T) {
	candidates, quality := makeCandidates(1)
	ev := newFakeEvaluator(quality)

	p, err := NewPolicy(PolicyNameSH, PolicyOptions{Eta: 3})
	require.NoError(t, err)

	res, err := p.Refine(context.Background(), candidates, 7, ev)
	require.NoError(t, err)
	assert.Equal(t, "arch-000", res.Best.ID)
	// A lone candidate still consumes its whole grant.
	assert.Equal(t, 7.0, res.BudgetUsed)
}
