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

// Package engine is the selection engine server: it exposes the coordinator,
// the filtering phase, the refinement phase and the end-to-end selection run
// over a JSON HTTP API.
package engine

import (
	"github.com/pkg/errors"

	"arch-funnel.dev/arch-funnel/internal/appmain"
	"arch-funnel.dev/arch-funnel/internal/config"
	"arch-funnel.dev/arch-funnel/internal/evaluator"
	"arch-funnel.dev/arch-funnel/internal/scorecache"
	"arch-funnel.dev/arch-funnel/internal/selection"
)

// BindService creates the engine service and binds it to serving.
func BindService(p *appmain.Params, b *appmain.Bindings) error {
	s, err := newEngineService(p.Config())
	if err != nil {
		return err
	}
	b.AddCloserErr(s.cache.Close)
	s.registerRoutes(b.Router())
	return nil
}

func newEngineService(cfg config.View) (*engineService, error) {
	space := evaluator.NewSpace(cfg.GetInt("searchspace.size"), cfg.GetInt64("searchspace.seed"))

	ev, err := newEvaluator(cfg, space)
	if err != nil {
		return nil, err
	}

	policyOpts := selection.PolicyOptions{
		Eta:         cfg.GetInt("refinement.eta"),
		Workers:     cfg.GetInt("refinement.workers"),
		Checkpoints: cfg.GetInt("refinement.checkpoints"),
	}
	policy, err := selection.NewPolicy(cfg.GetString("refinement.policy"), policyOpts)
	if err != nil {
		return nil, err
	}

	coordinator, err := selection.NewCoordinator(selection.CoordinatorConfig{
		SearchSpaceSize: space.Size(),
		MaxK:            cfg.GetInt("coordinator.maxK"),
		MinU:            cfg.GetInt("coordinator.minU"),
		MaxU:            cfg.GetInt("coordinator.maxU"),
		Policy:          policy,
		TieBreak:        selection.TieBreak(cfg.GetString("coordinator.tieBreak")),
	})
	if err != nil {
		return nil, err
	}

	cache := scorecache.New(cfg)
	runner := &selection.Runner{
		Coordinator: coordinator,
		Policy:      policy,
		NewSampler:  space.Sampler,
		Evaluator:   ev,
		FilterOpts: selection.FilterOptions{
			Workers: cfg.GetInt("filtering.workers"),
			Cache:   cache,
		},
	}

	return &engineService{
		cfg:        cfg,
		space:      space,
		runner:     runner,
		cache:      cache,
		policyOpts: policyOpts,
	}, nil
}

func newEvaluator(cfg config.View, space *evaluator.Space) (selection.Evaluator, error) {
	switch backend := cfg.GetString("evaluator.backend"); backend {
	case "", "simulated":
		return evaluator.NewSimulated(space.Truth()), nil
	case "remote":
		return evaluator.NewRemote(evaluator.RemoteConfig{
			ScoreURL: cfg.GetString("evaluator.remote.scoreURL"),
			TrainURL: cfg.GetString("evaluator.remote.trainURL"),
			Timeout:  cfg.GetDuration("evaluator.remote.timeout"),
		})
	default:
		return nil, errors.Errorf("unknown evaluator backend %q", backend)
	}
}
