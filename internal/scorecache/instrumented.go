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

package scorecache

import (
	"context"

	"go.opencensus.io/trace"

	"arch-funnel.dev/arch-funnel/internal/telemetry"
)

var (
	mScoreCacheGetCount  = telemetry.Counter("scorecache/getcount", "number of score lookups")
	mScoreCacheHitCount  = telemetry.Counter("scorecache/hitcount", "number of score lookups served from the cache")
	mScoreCacheAddCount  = telemetry.Counter("scorecache/addcount", "number of scores published")
	mScoreCacheLostCount = telemetry.Counter("scorecache/lostcount", "number of publishes that lost to an existing score")
)

// instrumentedService wraps a scorecache service with metrics and tracing.
type instrumentedService struct {
	s Service
}

func (is *instrumentedService) Close() error {
	return is.s.Close()
}

func (is *instrumentedService) HealthCheck(ctx context.Context) error {
	return is.s.HealthCheck(ctx)
}

func (is *instrumentedService) Get(ctx context.Context, id string) (float64, bool, error) {
	ctx, span := trace.StartSpan(ctx, "scorecache/instrumented.Get")
	defer span.End()
	defer telemetry.RecordUnitMeasurement(ctx, mScoreCacheGetCount)
	score, ok, err := is.s.Get(ctx, id)
	if err == nil && ok {
		telemetry.RecordUnitMeasurement(ctx, mScoreCacheHitCount)
	}
	return score, ok, err
}

func (is *instrumentedService) Add(ctx context.Context, id string, score float64) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "scorecache/instrumented.Add")
	defer span.End()
	defer telemetry.RecordUnitMeasurement(ctx, mScoreCacheAddCount)
	stored, err := is.s.Add(ctx, id, score)
	if err == nil && stored != score {
		telemetry.RecordUnitMeasurement(ctx, mScoreCacheLostCount)
	}
	return stored, err
}
