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
	"fmt"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToMemory(t *testing.T) {
	cfg := viper.New()
	s := New(cfg)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.HealthCheck(context.Background()))
	_, ok, err := s.Get(context.Background(), "arch-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryAddAndGet(t *testing.T) {
	s := newMemory()
	ctx := context.Background()

	stored, err := s.Add(ctx, "arch-a", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, stored)

	stored, err = s.Add(ctx, "arch-a", 0.9)
	require.NoError(t, err)
	assert.Equal(t, 0.5, stored)

	score, ok, err := s.Get(ctx, "arch-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.5, score)
}

func TestMemoryConcurrentAdds(t *testing.T) {
	s := newMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]float64, 50)
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, err := s.Add(ctx, "arch-a", float64(i))
			require.NoError(t, err)
			results[i] = stored
		}()
	}
	wg.Wait()

	// Every writer observed the same winning score.
	winner, ok, err := s.Get(ctx, "arch-a")
	require.NoError(t, err)
	require.True(t, ok)
	for i, r := range results {
		assert.Equal(t, winner, r, fmt.Sprintf("writer %d", i))
	}
}
