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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSampler replays a fixed sequence, repeats included.
type sliceSampler struct {
	seq  []Candidate
	next int
}

func (s *sliceSampler) Next() (Candidate, bool) {
	if s.next >= len(s.seq) {
		return Candidate{}, false
	}
	c := s.seq[s.next]
	s.next++
	return c, true
}

// countingCache wraps the memory semantics with hit accounting.
type countingCache struct {
	mu     sync.Mutex
	scores map[string]float64
	hits   int
	adds   int
}

func newCountingCache() *countingCache {
	return &countingCache{scores: map[string]float64{}}
}

func (c *countingCache) Get(_ context.Context, id string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	score, ok := c.scores[id]
	if ok {
		c.hits++
	}
	return score, ok, nil
}

func (c *countingCache) Add(_ context.Context, id string, score float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adds++
	if stored, ok := c.scores[id]; ok {
		return stored, nil
	}
	c.scores[id] = score
	return score, nil
}

func TestFilterArgValidation(t *testing.T) {
	ev := newFakeEvaluator(nil)
	sampler := &sliceSampler{}

	_, err := Filter(context.Background(), 0, 1, sampler, ev, FilterOptions{})
	assert.True(t, IsConfigurationError(err))
	_, err = Filter(context.Background(), 5, 0, sampler, ev, FilterOptions{})
	assert.True(t, IsConfigurationError(err))
	_, err = Filter(context.Background(), 5, 6, sampler, ev, FilterOptions{})
	assert.True(t, IsConfigurationError(err))
}

func TestFilterTopK(t *testing.T) {
	candidates, quality := makeCandidates(10)
	seq := make([]Candidate, len(candidates))
	for i, c := range candidates {
		seq[i] = c.Candidate
	}
	ev := newFakeEvaluator(quality)

	res, err := Filter(context.Background(), 10, 3, &sliceSampler{seq: seq}, ev, FilterOptions{Workers: 4})
	require.NoError(t, err)

	require.Len(t, res.TopK, 3)
	assert.Equal(t, "arch-009", res.TopK[0].ID)
	assert.Equal(t, "arch-008", res.TopK[1].ID)
	assert.Equal(t, "arch-007", res.TopK[2].ID)
	assert.Len(t, res.Scored, 10)
	assert.False(t, res.Exhausted)
}

func TestFilterScoredFollowsDrawOrder(t *testing.T) {
	candidates, quality := makeCandidates(6)
	// Draw in reverse so exploration order differs from rank order.
	seq := make([]Candidate, len(candidates))
	for i, c := range candidates {
		seq[len(seq)-1-i] = c.Candidate
	}
	ev := newFakeEvaluator(quality)

	res, err := Filter(context.Background(), 6, 2, &sliceSampler{seq: seq}, ev, FilterOptions{Workers: 3})
	require.NoError(t, err)
	require.Len(t, res.Scored, 6)
	for i, sc := range res.Scored {
		assert.Equal(t, seq[i].ID, sc.ID)
	}
}

func TestFilterBreaksScoreTiesByID(t *testing.T) {
	seq := []Candidate{{ID: "arch-c"}, {ID: "arch-b"}, {ID: "arch-a"}}
	ev := newFakeEvaluator(map[string]float64{
		"arch-a": 1.0,
		"arch-b": 1.0,
		"arch-c": 2.0,
	})

	res, err := Filter(context.Background(), 3, 3, &sliceSampler{seq: seq}, ev, FilterOptions{})
	require.NoError(t, err)
	require.Len(t, res.TopK, 3)
	assert.Equal(t, "arch-c", res.TopK[0].ID)
	assert.Equal(t, "arch-a", res.TopK[1].ID)
	assert.Equal(t, "arch-b", res.TopK[2].ID)
}

func TestFilterSkipsDuplicates(t *testing.T) {
	candidates, quality := makeCandidates(3)
	seq := []Candidate{
		candidates[0].Candidate,
		candidates[0].Candidate,
		candidates[1].Candidate,
		candidates[1].Candidate,
		candidates[2].Candidate,
	}
	ev := newFakeEvaluator(quality)

	res, err := Filter(context.Background(), 3, 2, &sliceSampler{seq: seq}, ev, FilterOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Scored, 3)
	assert.False(t, res.Exhausted)
}

func TestFilterExhaustedSampler(t *testing.T) {
	candidates, quality := makeCandidates(4)
	seq := make([]Candidate, len(candidates))
	for i, c := range candidates {
		seq[i] = c.Candidate
	}
	ev := newFakeEvaluator(quality)

	// Asking for more than the sampler holds is not an error.
	res, err := Filter(context.Background(), 100, 2, &sliceSampler{seq: seq}, ev, FilterOptions{})
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Len(t, res.Scored, 4)
	require.Len(t, res.TopK, 2)
	assert.Equal(t, "arch-003", res.TopK[0].ID)
}

func TestFilterDrawCap(t *testing.T) {
	candidates, quality := makeCandidates(1)
	// A sampler stuck on one candidate forever.
	seq := make([]Candidate, 500)
	for i := range seq {
		seq[i] = candidates[0].Candidate
	}
	ev := newFakeEvaluator(quality)

	res, err := Filter(context.Background(), 3, 1, &sliceSampler{seq: seq}, ev, FilterOptions{MaxDraws: 10})
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Len(t, res.Scored, 1)
}

func TestFilterUsesCache(t *testing.T) {
	candidates, quality := makeCandidates(5)
	seq := make([]Candidate, len(candidates))
	for i, c := range candidates {
		seq[i] = c.Candidate
	}
	cache := newCountingCache()
	ev := newFakeEvaluator(quality)

	_, err := Filter(context.Background(), 5, 2, &sliceSampler{seq: seq}, ev, FilterOptions{Cache: cache})
	require.NoError(t, err)
	assert.Equal(t, 0, cache.hits)
	assert.Equal(t, 5, cache.adds)

	// A second pass over the same candidates is all cache hits.
	res, err := Filter(context.Background(), 5, 2, &sliceSampler{seq: seq}, ev, FilterOptions{Cache: cache})
	require.NoError(t, err)
	assert.Equal(t, 5, cache.hits)
	assert.Equal(t, "arch-004", res.TopK[0].ID)
}

func TestFilterScoringFailures(t *testing.T) {
	candidates, quality := makeCandidates(4)
	seq := make([]Candidate, len(candidates))
	for i, c := range candidates {
		seq[i] = c.Candidate
	}
	ev := newFakeEvaluator(quality)
	ev.failScore["arch-003"] = true

	res, err := Filter(context.Background(), 4, 2, &sliceSampler{seq: seq}, ev, FilterOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Scored, 3)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "arch-003", res.Failures[0].ID)
	// The best scorable candidate wins.
	assert.Equal(t, "arch-002", res.TopK[0].ID)
}

func TestFilterEmptySampler(t *testing.T) {
	ev := newFakeEvaluator(nil)

	// A sampler with nothing to give is exhaustion, not a scoring failure.
	_, err := Filter(context.Background(), 3, 1, &sliceSampler{}, ev, FilterOptions{})
	require.Error(t, err)
	assert.Equal(t, KindSamplerExhausted, KindOf(err))
}

func TestFilterAllScoringFailed(t *testing.T) {
	candidates, quality := makeCandidates(2)
	seq := []Candidate{candidates[0].Candidate, candidates[1].Candidate}
	ev := newFakeEvaluator(quality)
	ev.failScore["arch-000"] = true
	ev.failScore["arch-001"] = true

	_, err := Filter(context.Background(), 2, 1, &sliceSampler{seq: seq}, ev, FilterOptions{})
	require.Error(t, err)
	assert.Equal(t, KindEvaluationFailure, KindOf(err))
}
