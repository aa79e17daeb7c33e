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

// Package scorecache persists proxy scores across selection runs so
// re-encountered candidates are cache hits rather than recomputations.
package scorecache

import (
	"context"

	"arch-funnel.dev/arch-funnel/internal/config"
	"arch-funnel.dev/arch-funnel/internal/telemetry"
)

// Service is a proxy-score store. Add is insert-if-absent and returns the
// winning value, so concurrent writers of the same candidate converge on one
// score. Implementations are safe for concurrent use.
type Service interface {
	// HealthCheck indicates if the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Get looks up a candidate's cached score.
	Get(ctx context.Context, id string) (float64, bool, error)

	// Add stores a score unless one already exists, returning the value
	// now in the cache.
	Add(ctx context.Context, id string, score float64) (float64, error)

	// Close releases the connection to the backend.
	Close() error
}

// New creates a Service for the configured backend: "redis" for a shared
// cache, anything else for in-process memory.
func New(cfg config.View) Service {
	var s Service
	if cfg.GetString("scorecache.backend") == "redis" {
		s = newRedis(cfg)
	} else {
		s = newMemory()
	}
	if cfg.GetBool(telemetry.ConfigNameEnableMetrics) {
		return &instrumentedService{s: s}
	}
	return s
}
