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

// Package evaluator provides the evaluator backends the engine runs
// against: a simulated one backed by precomputed ground truth, and a remote
// one that drives a real training service over HTTP.
package evaluator

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"arch-funnel.dev/arch-funnel/internal/selection"
)

// GroundTruth is the precomputed truth for one candidate in a simulated
// space.
type GroundTruth struct {
	// Score is the proxy score the filtering phase observes.
	Score float64
	// Final is the metric the candidate converges to with unlimited
	// training.
	Final float64
	// HalfLife is the cumulative budget at which the candidate reaches
	// half of Final. Smaller values converge faster.
	HalfLife float64
}

// Simulated evaluates candidates against ground truth without any real
// training. Partial training follows a saturating learning curve in the
// cumulative budget, so interleaved rounds observe the same trajectory a
// single long run would.
type Simulated struct {
	truth map[string]GroundTruth

	mu  sync.Mutex
	cum map[string]float64
}

// NewSimulated builds a simulated evaluator over the given ground truth.
func NewSimulated(truth map[string]GroundTruth) *Simulated {
	return &Simulated{
		truth: truth,
		cum:   make(map[string]float64),
	}
}

func (s *Simulated) Score(ctx context.Context, c selection.Candidate) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	gt, ok := s.truth[c.ID]
	if !ok {
		return 0, errors.Errorf("no ground truth for candidate %q", c.ID)
	}
	return gt.Score, nil
}

func (s *Simulated) TrainPartial(ctx context.Context, c selection.Candidate, budget float64) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	gt, ok := s.truth[c.ID]
	if !ok {
		return 0, 0, errors.Errorf("no ground truth for candidate %q", c.ID)
	}

	s.mu.Lock()
	s.cum[c.ID] += budget
	cum := s.cum[c.ID]
	s.mu.Unlock()

	metric := gt.Final * cum / (cum + gt.HalfLife)
	return metric, budget, nil
}

// Reset clears the accumulated training state so a fresh run starts cold.
func (s *Simulated) Reset() {
	s.mu.Lock()
	s.cum = make(map[string]float64)
	s.mu.Unlock()
}

// Consumed reports the cumulative budget a candidate has received.
func (s *Simulated) Consumed(id string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cum[id]
}
