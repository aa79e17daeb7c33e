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

package benchmark

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	return Config{
		Runs:      3,
		Steps:     2,
		Models:    5,
		MinBudget: 10,
		MaxBudget: 50,
		TrainTime: 1,
		MaxU:      20,
		Eta:       3,
		SpaceSize: 100,
		Seed:      11,
		Policies:  []string{"sh", "uniform"},
	}
}

func TestRunSweep(t *testing.T) {
	report, err := Run(context.Background(), smallConfig())
	require.NoError(t, err)

	// One cell per (budget step, policy).
	require.Len(t, report.Cells, 4)
	for _, cell := range report.Cells {
		assert.GreaterOrEqual(t, cell.HitRate, 0.0)
		assert.LessOrEqual(t, cell.HitRate, 1.0)
		assert.GreaterOrEqual(t, cell.AvgRegret, 0.0)
		assert.Greater(t, cell.AvgBudgetUsed, 0.0)
		assert.GreaterOrEqual(t, cell.U, 1)
	}
}

func TestRunDeterministic(t *testing.T) {
	a, err := Run(context.Background(), smallConfig())
	require.NoError(t, err)
	b, err := Run(context.Background(), smallConfig())
	require.NoError(t, err)
	assert.Equal(t, a.Cells, b.Cells)
}

func TestRunWritesReport(t *testing.T) {
	cfg := smallConfig()
	cfg.ResultDir = t.TempDir()

	report, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(cfg.ResultDir, "benchmark-*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	payload, err := ioutil.ReadFile(files[0])
	require.NoError(t, err)
	var written Report
	require.NoError(t, json.Unmarshal(payload, &written))
	assert.Equal(t, report.Cells, written.Cells)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, smallConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromView(t *testing.T) {
	cfg := viper.New()
	cfg.Set("benchmark.runs", 7)
	cfg.Set("benchmark.steps", 3)
	cfg.Set("benchmark.models", 12)
	cfg.Set("benchmark.minBudget", 5.0)
	cfg.Set("benchmark.maxBudget", 50.0)
	cfg.Set("benchmark.trainTime", 2.0)
	cfg.Set("benchmark.policies", []string{"sr"})
	cfg.Set("coordinator.maxU", 30)
	cfg.Set("refinement.eta", 2)
	cfg.Set("searchspace.size", 500)
	cfg.Set("searchspace.seed", 9)

	c := FromView(cfg)
	assert.Equal(t, 7, c.Runs)
	assert.Equal(t, 3, c.Steps)
	assert.Equal(t, 12, c.Models)
	assert.Equal(t, 5.0, c.MinBudget)
	assert.Equal(t, 50.0, c.MaxBudget)
	assert.Equal(t, 2.0, c.TrainTime)
	assert.Equal(t, []string{"sr"}, c.Policies)
	assert.Equal(t, 30, c.MaxU)
	assert.Equal(t, 2, c.Eta)
	assert.Equal(t, 500, c.SpaceSize)
	assert.Equal(t, int64(9), c.Seed)
}
