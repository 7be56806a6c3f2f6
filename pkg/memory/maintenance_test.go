// Copyright 2026 Hivekit
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivekit/hive/pkg/storage"
)

func TestMaintainRemovesExpired(t *testing.T) {
	objects := storage.NewMemStore()
	s, clock := newTestStore(Config{Objects: objects})
	ctx := context.Background()

	_, err := s.Store(ctx, StoreInput{Key: "w", Value: []byte("1")})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreInput{Key: "p", Value: []byte("2"), Tier: TierPersistent, TTL: time.Hour})
	require.NoError(t, err)
	require.Equal(t, 1, objects.Len())

	clock.Advance(2 * time.Hour)
	s.Maintain(ctx)

	assert.Equal(t, 0, s.Stats().Total.Count)
	assert.Equal(t, 0, objects.Len(), "expired persistent entry removes its artifact")
}

func TestMaintainPromotesHighScorers(t *testing.T) {
	s, _ := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "k", Value: []byte("v"), Importance: 1})
	require.NoError(t, err)

	s.Maintain(ctx)

	assert.Equal(t, 0, s.Stats().Tiers[TierWorking].Count)
	assert.Equal(t, 1, s.Stats().Tiers[TierEpisodic].Count)
}

func TestMaintainDemotesStaleEpisodic(t *testing.T) {
	s, clock := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{
		Key: "k", Value: []byte("v"), Tier: TierEpisodic,
		Importance: 0.5, Decay: 1, TTL: -1,
	})
	require.NoError(t, err)

	clock.Advance(12 * time.Hour)
	s.Maintain(ctx)

	entries := s.Search(SearchFilter{Tier: TierWorking})
	require.Len(t, entries, 1)
	assert.Equal(t, "k", entries[0].Key)
	assert.InDelta(t, 0.4, entries[0].Importance, 1e-9)
}

func TestMaintainDeletesStaleWorking(t *testing.T) {
	s, clock := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{
		Key: "k", Value: []byte("v"),
		Importance: 0.5, Decay: 1, TTL: -1,
	})
	require.NoError(t, err)

	clock.Advance(22 * time.Hour)
	s.Maintain(ctx)

	assert.Equal(t, 0, s.Stats().Total.Count)
}

func TestMaintainSkipsPinned(t *testing.T) {
	s, clock := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{
		Key: "k", Value: []byte("v"), Tier: TierEpisodic,
		Importance: 0.5, Decay: 1, Pinned: true,
	})
	require.NoError(t, err)

	clock.Advance(72 * time.Hour)
	s.Maintain(ctx)

	assert.Equal(t, 1, s.Stats().Tiers[TierEpisodic].Count)
}

func TestMaintenanceLifecycle(t *testing.T) {
	s, _ := newTestStore(Config{MaintenanceInterval: time.Second})
	require.NoError(t, s.StartMaintenance())
	// Idempotent start.
	require.NoError(t, s.StartMaintenance())
	s.StopMaintenance()
	s.StopMaintenance()
}
