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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivekit/hive/pkg/storage"
)

func newTestStore(cfg Config) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	s := NewStore(cfg)
	s.now = clock.Now
	return s, clock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestStoreDefaults(t *testing.T) {
	s, clock := newTestStore(Config{})
	e, err := s.Store(context.Background(), StoreInput{Key: "k", Value: []byte("v")})
	require.NoError(t, err)

	assert.Equal(t, TierWorking, e.Tier)
	assert.Equal(t, CategoryOther, e.Category)
	assert.Equal(t, 0.5, e.Importance)
	require.NotNil(t, e.ExpiresAt)
	assert.Equal(t, clock.Now().Add(5*time.Minute), *e.ExpiresAt)
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	s, _ := newTestStore(Config{})
	_, err := s.Store(context.Background(), StoreInput{Value: []byte("v")})
	require.Error(t, err)
}

func TestRetrieveSearchesTiersInOrder(t *testing.T) {
	s, _ := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "k", Value: []byte("hot"), Tier: TierWorking})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreInput{Key: "k", Value: []byte("cold"), Tier: TierEpisodic})
	require.NoError(t, err)

	v, err := s.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("hot"), v)

	v, err = s.Retrieve(ctx, "k", TierEpisodic)
	require.NoError(t, err)
	assert.Equal(t, []byte("cold"), v)

	v, err = s.Retrieve(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

// Heavily accessed important entries migrate out of the working tier on
// their own.
func TestRetrieveAutoPromotion(t *testing.T) {
	s, _ := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "k", Value: []byte("v"), Importance: 0.9, Tier: TierWorking})
	require.NoError(t, err)

	for i := 0; i < 11; i++ {
		v, err := s.Retrieve(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
	}

	v, err := s.Retrieve(ctx, "k", TierEpisodic)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	v, err = s.Retrieve(ctx, "k", TierWorking)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestExpiredEntryReadsAsAbsent(t *testing.T) {
	s, clock := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "k", Value: []byte("v")})
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	v, err := s.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestPinnedEntryNeverExpires(t *testing.T) {
	s, clock := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "k", Value: []byte("v"), Pinned: true})
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	s.Maintain(ctx)
	v, err := s.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestFullTierEvictsLowestScored(t *testing.T) {
	s, _ := newTestStore(Config{Tiers: map[Tier]TierConfig{
		TierWorking: {MaxEntries: 2, TTL: 5 * time.Minute, PromoteAt: 0.7, DemoteAt: 0.1},
	}})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "low", Value: []byte("1"), Importance: 0.1})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreInput{Key: "high", Value: []byte("2"), Importance: 0.9})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreInput{Key: "new", Value: []byte("3"), Importance: 0.5})
	require.NoError(t, err)

	v, err := s.Retrieve(ctx, "low", TierWorking)
	require.NoError(t, err)
	assert.Nil(t, v, "lowest-scored entry should have been evicted")
	assert.Equal(t, int64(1), s.Stats().Evictions)
}

func TestFullTierOfPinnedEntriesSoftExceeds(t *testing.T) {
	s, _ := newTestStore(Config{Tiers: map[Tier]TierConfig{
		TierWorking: {MaxEntries: 1, TTL: 5 * time.Minute},
	}})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "a", Value: []byte("1"), Pinned: true})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreInput{Key: "b", Value: []byte("2")})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Stats().Tiers[TierWorking].Count)
}

func TestPromoteBoostsImportance(t *testing.T) {
	s, _ := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "k", Value: []byte("v"), Importance: 0.5})
	require.NoError(t, err)

	require.True(t, s.Promote(ctx, "k", TierWorking))
	entries := s.Search(SearchFilter{Tier: TierEpisodic})
	require.Len(t, entries, 1)
	assert.InDelta(t, 0.6, entries[0].Importance, 1e-9)

	// Promotion out of persistent is impossible.
	require.True(t, s.Promote(ctx, "k", TierEpisodic))
	assert.False(t, s.Promote(ctx, "k", TierPersistent))
}

func TestDemoteFromWorkingDeletes(t *testing.T) {
	s, _ := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "k", Value: []byte("v")})
	require.NoError(t, err)

	require.True(t, s.Demote(ctx, "k", TierWorking))
	v, err := s.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDemoteRefusesPinned(t *testing.T) {
	s, _ := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "k", Value: []byte("v"), Tier: TierEpisodic, Pinned: true})
	require.NoError(t, err)
	assert.False(t, s.Demote(ctx, "k", TierEpisodic))
}

func TestDemoteReducesImportance(t *testing.T) {
	s, _ := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "k", Value: []byte("v"), Tier: TierEpisodic, Importance: 0.5})
	require.NoError(t, err)

	require.True(t, s.Demote(ctx, "k", TierEpisodic))
	entries := s.Search(SearchFilter{Tier: TierWorking})
	require.Len(t, entries, 1)
	assert.InDelta(t, 0.4, entries[0].Importance, 1e-9)
}

func TestPersistentTierWritesToObjectStore(t *testing.T) {
	objects := storage.NewMemStore()
	s, _ := newTestStore(Config{Objects: objects})
	ctx := context.Background()

	_, err := s.Store(ctx, StoreInput{Key: "k", Value: []byte("v"), Tier: TierPersistent})
	require.NoError(t, err)
	assert.Equal(t, 1, objects.Len())

	assert.True(t, s.Delete(ctx, "k"))
	assert.Equal(t, 0, objects.Len())
}

func TestClearPersistentRemovesArtifacts(t *testing.T) {
	objects := storage.NewMemStore()
	s, _ := newTestStore(Config{Objects: objects})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "a", Value: []byte("1"), Tier: TierPersistent})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreInput{Key: "b", Value: []byte("2"), Tier: TierWorking})
	require.NoError(t, err)

	s.Clear(ctx)
	assert.Equal(t, 0, objects.Len())
	assert.Equal(t, 0, s.Stats().Total.Count)
}

func TestLoadPersistentSkipsCorruptDocuments(t *testing.T) {
	objects := storage.NewMemStore()
	ctx := context.Background()

	first, _ := newTestStore(Config{Objects: objects})
	_, err := first.Store(ctx, StoreInput{Key: "good", Value: []byte("v"), Tier: TierPersistent})
	require.NoError(t, err)
	require.NoError(t, objects.Put(ctx, ObjectKeyPrefix+"bad", []byte("{not json")))

	second, _ := newTestStore(Config{Objects: objects})
	require.NoError(t, second.LoadPersistent(ctx))

	v, err := second.Retrieve(ctx, "good", TierPersistent)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
	v, err = second.Retrieve(ctx, "bad", TierPersistent)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestNamespacedStoresShareOneObjectStore(t *testing.T) {
	objects := storage.NewMemStore()
	ctx := context.Background()

	a, _ := newTestStore(Config{Objects: objects, Namespace: "sess-a"})
	b, _ := newTestStore(Config{Objects: objects, Namespace: "sess-b"})
	_, err := a.Store(ctx, StoreInput{Key: "plan", Value: []byte("alpha"), Tier: TierPersistent})
	require.NoError(t, err)
	_, err = b.Store(ctx, StoreInput{Key: "plan", Value: []byte("beta"), Tier: TierPersistent})
	require.NoError(t, err)

	keys, err := objects.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		ObjectKeyPrefix + "sess-a/plan",
		ObjectKeyPrefix + "sess-b/plan",
	}, keys)

	// Reload sees only its own namespace.
	a2, _ := newTestStore(Config{Objects: objects, Namespace: "sess-a"})
	require.NoError(t, a2.LoadPersistent(ctx))
	v, err := a2.Retrieve(ctx, "plan", TierPersistent)
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), v)

	// Deleting in one namespace leaves the other's artifact intact.
	assert.True(t, a2.Delete(ctx, "plan"))
	keys, err = objects.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ObjectKeyPrefix + "sess-b/plan"}, keys)
}

func TestSearchFilterAndOrder(t *testing.T) {
	s, _ := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "a", Value: []byte("1"), Importance: 0.2, Category: CategoryTask, Tags: []string{"x"}})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreInput{Key: "b", Value: []byte("2"), Importance: 0.9, Category: CategoryTask, Tags: []string{"x", "y"}})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreInput{Key: "c", Value: []byte("3"), Importance: 0.7, Category: CategoryContext})
	require.NoError(t, err)

	results := s.Search(SearchFilter{Category: CategoryTask})
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].Key, "higher importance ranks first")

	results = s.Search(SearchFilter{Tags: []string{"x", "y"}})
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Key)

	results = s.Search(SearchFilter{MinImportance: 0.5})
	assert.Len(t, results, 2)

	results = s.Search(SearchFilter{Limit: 1})
	assert.Len(t, results, 1)
}

func TestCompressionRoundTrip(t *testing.T) {
	s, _ := newTestStore(Config{CompressionThreshold: 64})
	ctx := context.Background()
	big := []byte(strings.Repeat("abcdefgh", 100))

	_, err := s.Store(ctx, StoreInput{Key: "big", Value: big})
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Stats().Compressions)

	v, err := s.Retrieve(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, big, v)
}

func TestStatsPerTier(t *testing.T) {
	s, _ := newTestStore(Config{})
	ctx := context.Background()
	_, err := s.Store(ctx, StoreInput{Key: "a", Value: []byte("12345"), Importance: 0.4})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreInput{Key: "b", Value: []byte("678"), Importance: 0.6, Tier: TierEpisodic})
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Tiers[TierWorking].Count)
	assert.Equal(t, int64(5), stats.Tiers[TierWorking].SizeBytes)
	assert.InDelta(t, 0.4, stats.Tiers[TierWorking].AvgImportance, 1e-9)
	assert.Equal(t, 2, stats.Total.Count)
	assert.Equal(t, int64(8), stats.Total.SizeBytes)
	assert.InDelta(t, 0.5, stats.Total.AvgImportance, 1e-9)
}
