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
	"sync"
)

// memoryBackend is the in-process Service used when no shared cache is
// deployed. Scores live for the lifetime of the process.
type memoryBackend struct {
	mu     sync.RWMutex
	scores map[string]float64
}

func newMemory() Service {
	return &memoryBackend{scores: make(map[string]float64)}
}

func (mb *memoryBackend) HealthCheck(context.Context) error { return nil }

func (mb *memoryBackend) Close() error { return nil }

func (mb *memoryBackend) Get(_ context.Context, id string) (float64, bool, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	score, ok := mb.scores[id]
	return score, ok, nil
}

func (mb *memoryBackend) Add(_ context.Context, id string, score float64) (float64, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if stored, ok := mb.scores[id]; ok {
		return stored, nil
	}
	mb.scores[id] = score
	return score, nil
}
