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

package evaluator

import (
	"fmt"
	"math/rand"
	"sync"

	"arch-funnel.dev/arch-funnel/internal/selection"
)

// opCount is how many operation slots a synthetic encoding carries.
const opCount = 6

// Space is a synthetic search space: a fixed population of candidates with
// ground truth generated deterministically from a seed, so runs against the
// same (size, seed) pair are reproducible. Proxy scores are the final metric
// plus noise, which gives filtering real but imperfect signal, the same
// regime a live proxy operates in.
type Space struct {
	candidates []selection.Candidate
	truth      map[string]GroundTruth
	bestID     string
	seed       int64

	mu    sync.Mutex
	draws int64
}

// NewSpace generates a synthetic space of the given size from the seed.
func NewSpace(size int, seed int64) *Space {
	rng := rand.New(rand.NewSource(seed))
	s := &Space{
		candidates: make([]selection.Candidate, size),
		truth:      make(map[string]GroundTruth, size),
		seed:       seed,
	}
	bestFinal := -1.0
	for i := 0; i < size; i++ {
		c := selection.Candidate{
			ID:       fmt.Sprintf("arch-%05d", i),
			Encoding: randomEncoding(rng),
		}
		final := 0.5 + 0.5*rng.Float64()
		gt := GroundTruth{
			Score:    final + 0.05*rng.NormFloat64(),
			Final:    final,
			HalfLife: 1 + 9*rng.Float64(),
		}
		s.candidates[i] = c
		s.truth[c.ID] = gt
		if final > bestFinal {
			bestFinal = final
			s.bestID = c.ID
		}
	}
	return s
}

func randomEncoding(rng *rand.Rand) string {
	ops := make([]byte, opCount)
	for i := range ops {
		ops[i] = byte('0' + rng.Intn(5))
	}
	return string(ops)
}

// Size is the number of candidates in the space.
func (s *Space) Size() int { return len(s.candidates) }

// Truth exposes the generated ground truth, keyed by candidate ID.
func (s *Space) Truth() map[string]GroundTruth { return s.truth }

// BestID is the candidate with the highest final metric, the target an
// ideal selection run would find.
func (s *Space) BestID() string { return s.bestID }

// Sampler returns a fresh single-use pass over the space in a permuted
// order. Each call permutes differently, but deterministically given the
// space's seed and the call sequence.
func (s *Space) Sampler() selection.CandidateSampler {
	s.mu.Lock()
	s.draws++
	pass := s.draws
	s.mu.Unlock()

	rng := rand.New(rand.NewSource(s.seed + pass))
	return &permSampler{
		candidates: s.candidates,
		order:      rng.Perm(len(s.candidates)),
	}
}

type permSampler struct {
	candidates []selection.Candidate
	order      []int
	next       int
}

func (p *permSampler) Next() (selection.Candidate, bool) {
	if p.next >= len(p.order) {
		return selection.Candidate{}, false
	}
	c := p.candidates[p.order[p.next]]
	p.next++
	return c, true
}
