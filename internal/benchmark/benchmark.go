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

// Package benchmark compares the refinement policies against each other on a
// simulated search space: every policy sees the same candidate sets and the
// same budget ladder, so differences in outcome are down to allocation alone.
package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"arch-funnel.dev/arch-funnel/internal/config"
	"arch-funnel.dev/arch-funnel/internal/evaluator"
	"arch-funnel.dev/arch-funnel/internal/selection"
)

var logger = logrus.WithFields(logrus.Fields{
	"app":       "archfunnel",
	"component": "benchmark",
})

// Config parametrizes one benchmark sweep.
type Config struct {
	// Runs is how many repetitions each (policy, budget) cell averages
	// over. Every repetition draws a fresh candidate set.
	Runs int
	// Steps is how many budget levels the sweep visits between MinBudget
	// and MaxBudget.
	Steps int
	// Models is how many candidates enter refinement in every run.
	Models int
	// MinBudget and MaxBudget bound the refinement-phase time budget, in
	// seconds.
	MinBudget float64
	MaxBudget float64
	// TrainTime is the simulated cost of one training budget unit, in
	// seconds.
	TrainTime float64
	// MaxU caps the per-survivor budget the scheduler may pick.
	MaxU int
	// Eta is the successive-halving reduction factor.
	Eta int
	// SpaceSize and Seed parametrize the synthetic search space.
	SpaceSize int
	Seed      int64
	// Policies lists the policy names to compare.
	Policies []string
	// ResultDir receives the JSON result file. Empty skips writing.
	ResultDir string
}

// FromView reads the sweep parameters from configuration.
func FromView(cfg config.View) Config {
	return Config{
		Runs:      cfg.GetInt("benchmark.runs"),
		Steps:     cfg.GetInt("benchmark.steps"),
		Models:    cfg.GetInt("benchmark.models"),
		MinBudget: cfg.GetFloat64("benchmark.minBudget"),
		MaxBudget: cfg.GetFloat64("benchmark.maxBudget"),
		TrainTime: cfg.GetFloat64("benchmark.trainTime"),
		MaxU:      cfg.GetInt("coordinator.maxU"),
		Eta:       cfg.GetInt("refinement.eta"),
		SpaceSize: cfg.GetInt("searchspace.size"),
		Seed:      cfg.GetInt64("searchspace.seed"),
		Policies:  cfg.GetStringSlice("benchmark.policies"),
		ResultDir: cfg.GetString("benchmark.resultDir"),
	}
}

func (c Config) withDefaults() Config {
	if c.Runs < 1 {
		c.Runs = 20
	}
	if c.Steps < 1 {
		c.Steps = 8
	}
	if c.Models < 2 {
		c.Models = 10
	}
	if c.MinBudget <= 0 {
		c.MinBudget = 10
	}
	if c.MaxBudget < c.MinBudget {
		c.MaxBudget = 10 * c.MinBudget
	}
	if c.TrainTime <= 0 {
		c.TrainTime = 1
	}
	if c.MaxU < 1 {
		c.MaxU = 200
	}
	if c.SpaceSize < c.Models {
		c.SpaceSize = 100 * c.Models
	}
	if len(c.Policies) == 0 {
		c.Policies = []string{selection.PolicyNameSH, selection.PolicyNameSR, selection.PolicyNameUniform}
	}
	return c
}

// Cell is the aggregated outcome of one (policy, budget) combination.
type Cell struct {
	Policy string  `json:"policy"`
	Budget float64 `json:"budget"`
	// U is the per-survivor budget the scheduler picked for this cell.
	U int `json:"u"`
	// HitRate is the fraction of runs which selected the candidate with
	// the best true final metric in its set.
	HitRate float64 `json:"hit_rate"`
	// AvgRegret is the mean gap between the best true final metric in the
	// set and that of the selected candidate.
	AvgRegret float64 `json:"avg_regret"`
	// AvgBudgetUsed is the mean training budget the policy consumed.
	AvgBudgetUsed float64 `json:"avg_budget_used"`
}

// Report is the full sweep outcome.
type Report struct {
	Config Config `json:"config"`
	Cells  []Cell `json:"cells"`
}

// Run executes the sweep and writes the report to the result directory.
func Run(ctx context.Context, c Config) (*Report, error) {
	c = c.withDefaults()
	space := evaluator.NewSpace(c.SpaceSize, c.Seed)

	report := &Report{Config: c}
	for step := 0; step < c.Steps; step++ {
		budget := c.MinBudget
		if c.Steps > 1 {
			budget += (c.MaxBudget - c.MinBudget) * float64(step) / float64(c.Steps-1)
		}
		for _, name := range c.Policies {
			cell, err := runCell(ctx, c, space, name, budget)
			if err != nil {
				return nil, err
			}
			report.Cells = append(report.Cells, *cell)
			logger.WithFields(logrus.Fields{
				"policy":  cell.Policy,
				"budget":  cell.Budget,
				"u":       cell.U,
				"hitRate": cell.HitRate,
				"regret":  cell.AvgRegret,
			}).Info("Benchmark cell finished.")
		}
	}

	if c.ResultDir != "" {
		if err := writeReport(c.ResultDir, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// runCell averages one (policy, budget) combination over the configured
// repetitions. Every repetition uses a cold evaluator so no training state
// leaks between runs, and repetition r draws the same candidate set for
// every policy.
func runCell(ctx context.Context, c Config, space *evaluator.Space, policyName string, budget float64) (*Cell, error) {
	policy, err := selection.NewPolicy(policyName, selection.PolicyOptions{Eta: c.Eta})
	if err != nil {
		return nil, err
	}
	coordinator, err := selection.NewCoordinator(selection.CoordinatorConfig{
		SearchSpaceSize: space.Size(),
		MaxK:            c.Models,
		MaxU:            c.MaxU,
		Policy:          policy,
	})
	if err != nil {
		return nil, err
	}
	u, err := coordinator.ScheduleU(c.Models, budget, c.TrainTime)
	if err != nil {
		return nil, err
	}

	cell := &Cell{Policy: policyName, Budget: budget, U: u}
	truth := space.Truth()
	for run := 0; run < c.Runs; run++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev := evaluator.NewSimulated(truth)
		candidates, bestID, bestFinal, err := drawSet(ctx, space, ev, c.Models, run)
		if err != nil {
			return nil, err
		}

		res, err := policy.Refine(ctx, candidates, u, ev)
		if err != nil {
			return nil, err
		}
		if res.Best.ID == bestID {
			cell.HitRate++
		}
		cell.AvgRegret += bestFinal - truth[res.Best.ID].Final
		cell.AvgBudgetUsed += res.BudgetUsed
	}
	cell.HitRate /= float64(c.Runs)
	cell.AvgRegret /= float64(c.Runs)
	cell.AvgBudgetUsed /= float64(c.Runs)
	return cell, nil
}

// drawSet samples and proxy-scores one candidate set. The run index steers
// the sampler pass, so set r is identical across policies but differs across
// repetitions.
func drawSet(ctx context.Context, space *evaluator.Space, ev selection.Evaluator, k, run int) ([]selection.ScoredCandidate, string, float64, error) {
	sampler := space.Sampler()
	// Skip ahead so each repetition sees a different region of the space.
	for i := 0; i < run*k; i++ {
		if _, ok := sampler.Next(); !ok {
			sampler = space.Sampler()
		}
	}

	truth := space.Truth()
	candidates := make([]selection.ScoredCandidate, 0, k)
	bestID := ""
	bestFinal := -1.0
	for len(candidates) < k {
		c, ok := sampler.Next()
		if !ok {
			return nil, "", 0, errors.New("search space too small for the requested candidate set")
		}
		score, err := ev.Score(ctx, c)
		if err != nil {
			return nil, "", 0, err
		}
		candidates = append(candidates, selection.ScoredCandidate{Candidate: c, Score: score})
		if final := truth[c.ID].Final; final > bestFinal {
			bestFinal = final
			bestID = c.ID
		}
	}
	return candidates, bestID, bestFinal, nil
}

func writeReport(dir string, report *Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating result directory")
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding report")
	}
	path := filepath.Join(dir, fmt.Sprintf("benchmark-%s.json", xid.New()))
	if err := ioutil.WriteFile(path, payload, 0o644); err != nil {
		return errors.Wrap(err, "writing report")
	}
	logger.WithField("path", path).Info("Benchmark report written.")
	return nil
}
