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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hivekit/hive/pkg/observability"
	"github.com/hivekit/hive/pkg/storage"
)

// DefaultCompressionThreshold is the value size above which entries are
// gzip-compressed in place.
const DefaultCompressionThreshold = 1 * 1024 * 1024

// ObjectKeyPrefix namespaces persistent-tier documents in the object
// store, keeping them apart from other document families sharing it.
const ObjectKeyPrefix = "memory/persistent/"

// Config configures a Store. Zero values get defaults.
type Config struct {
	// Tiers overrides per-tier bounds; omitted tiers use the contractual
	// defaults.
	Tiers map[Tier]TierConfig

	// Objects backs the persistent tier. Nil keeps the persistent tier
	// memory-only.
	Objects storage.ObjectStore

	// Namespace scopes persistent-tier document keys, so several stores
	// (one per session) can share one object store without colliding.
	Namespace string

	// CompressionThreshold in bytes; 0 uses the default, negative disables.
	CompressionThreshold int

	// MaintenanceInterval for the background loop. Default: 5 minutes.
	MaintenanceInterval time.Duration

	Logger *zap.Logger
	Tracer observability.Tracer
}

// StoreInput is the request shape for Store.
type StoreInput struct {
	Key        string
	Value      []byte
	Tier       Tier          // default: working
	Category   Category      // default: other
	Importance float64       // default: 0.5
	Decay      float64       // default: 0.1
	TTL        time.Duration // default: tier TTL; negative disables expiry
	Tags       []string
	AgentID    string
	Metadata   map[string]string
	Pinned     bool
}

// SearchFilter selects entries; zero fields match everything. Tags are
// conjunctive.
type SearchFilter struct {
	Tier          Tier
	Category      Category
	AgentID       string
	Tags          []string
	MinImportance float64
	Limit         int
}

// TierStats summarizes one tier.
type TierStats struct {
	Count          int
	SizeBytes      int64
	AvgImportance  float64
	AvgAccessCount float64
	Oldest         time.Time
	Newest         time.Time
}

// Stats is the per-tier breakdown plus a total row.
type Stats struct {
	Tiers map[Tier]TierStats
	Total TierStats

	Hits         int64
	Misses       int64
	Evictions    int64
	Compressions int64
}

// Store is the tiered memory store. A session owns exactly one Store; the
// single mutex covers all tiers so cross-tier migration is atomic.
type Store struct {
	mu      sync.Mutex
	tiers   map[Tier]map[string]*Entry
	configs map[Tier]TierConfig

	objects              storage.ObjectStore
	keyPrefix            string
	compressionThreshold int
	interval             time.Duration

	logger *zap.Logger
	tracer observability.Tracer
	now    func() time.Time

	cron *cron.Cron

	hits         atomic.Int64
	misses       atomic.Int64
	evictions    atomic.Int64
	compressions atomic.Int64
}

// NewStore creates a tiered store with defaults applied.
func NewStore(cfg Config) *Store {
	configs := defaultTierConfigs()
	for tier, override := range cfg.Tiers {
		configs[tier] = override
	}
	threshold := cfg.CompressionThreshold
	if threshold == 0 {
		threshold = DefaultCompressionThreshold
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	prefix := ObjectKeyPrefix
	if cfg.Namespace != "" {
		prefix += cfg.Namespace + "/"
	}
	tiers := make(map[Tier]map[string]*Entry, len(Tiers))
	for _, t := range Tiers {
		tiers[t] = make(map[string]*Entry)
	}
	return &Store{
		tiers:                tiers,
		configs:              configs,
		objects:              cfg.Objects,
		keyPrefix:            prefix,
		compressionThreshold: threshold,
		interval:             cfg.MaintenanceInterval,
		logger:               cfg.Logger,
		tracer:               cfg.Tracer,
		now:                  time.Now,
	}
}

// Store inserts or replaces an entry. A full tier evicts its lowest-scored
// unpinned entry; when every entry is pinned the tier temporarily exceeds
// its soft bound. Persistent-tier entries are also written to the object
// store.
func (s *Store) Store(ctx context.Context, in StoreInput) (*Entry, error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanMemoryStore,
		observability.WithAttribute("key", in.Key))
	defer s.tracer.EndSpan(span)

	if in.Key == "" {
		return nil, fmt.Errorf("memory: key is required")
	}
	tier := in.Tier
	if tier == "" {
		tier = TierWorking
	}
	if _, ok := s.configs[tier]; !ok {
		return nil, fmt.Errorf("memory: unknown tier %q", tier)
	}
	category := in.Category
	if category == "" {
		category = CategoryOther
	}
	importance := in.Importance
	if importance == 0 {
		importance = 0.5
	}
	decay := in.Decay
	if decay == 0 {
		decay = 0.1
	}

	now := s.now()
	entry := &Entry{
		ID:           newEntryID(),
		Key:          in.Key,
		Tier:         tier,
		Category:     category,
		Importance:   clamp01(importance),
		Decay:        clamp01(decay),
		CreatedAt:    now,
		LastAccessed: now,
		Pinned:       in.Pinned,
		AgentID:      in.AgentID,
		Tags:         in.Tags,
		Metadata:     in.Metadata,
	}
	entry.Value, entry.Compressed = s.maybeCompress(in.Value)

	ttl := in.TTL
	if ttl == 0 {
		ttl = s.configs[tier].TTL
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		entry.ExpiresAt = &expires
	}
	entry.PromotionScore = promotionScore(entry, now)
	entry.DemotionScore = demotionScore(entry, now)

	s.mu.Lock()
	s.evictForInsertLocked(tier, entry.Key, now)
	s.tiers[tier][entry.Key] = entry
	s.mu.Unlock()

	if tier == TierPersistent {
		if err := s.persist(ctx, entry); err != nil {
			s.logger.Warn("persistent memory write failed",
				zap.String("key", entry.Key), zap.Error(err))
		}
	}
	s.tracer.RecordMetric("memory.entries", 1, map[string]string{"tier": string(tier)})
	return entry, nil
}

// evictForInsertLocked makes room for one insert. Replacing an existing key
// never needs eviction.
func (s *Store) evictForInsertLocked(tier Tier, key string, now time.Time) {
	cfg := s.configs[tier]
	entries := s.tiers[tier]
	if cfg.MaxEntries <= 0 || len(entries) < cfg.MaxEntries {
		return
	}
	if _, replacing := entries[key]; replacing {
		return
	}

	var victim *Entry
	for _, e := range entries {
		if e.Pinned {
			continue
		}
		if victim == nil || promotionScore(e, now) < promotionScore(victim, now) {
			victim = e
		}
	}
	if victim == nil {
		s.logger.Warn("memory tier over capacity, all entries pinned",
			zap.String("tier", string(tier)), zap.Int("max", cfg.MaxEntries))
		return
	}
	delete(entries, victim.Key)
	s.evictions.Add(1)
	s.logger.Debug("evicted memory entry",
		zap.String("tier", string(tier)), zap.String("key", victim.Key))
}

// Retrieve returns the entry's value, searching working → episodic →
// persistent when tier is omitted. A hit bumps the access count and may
// immediately promote the entry.
func (s *Store) Retrieve(ctx context.Context, key string, tier ...Tier) ([]byte, error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanMemoryRetrieve,
		observability.WithAttribute("key", key))
	defer s.tracer.EndSpan(span)

	order := Tiers
	if len(tier) > 0 && tier[0] != "" {
		order = []Tier{tier[0]}
	}

	now := s.now()
	s.mu.Lock()
	var found *Entry
	for _, t := range order {
		if e, ok := s.tiers[t][key]; ok {
			if e.expired(now) {
				delete(s.tiers[t], key)
				continue
			}
			found = e
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		s.misses.Add(1)
		return nil, nil
	}

	found.AccessCount++
	found.LastAccessed = now
	found.PromotionScore = promotionScore(found, now)
	found.DemotionScore = demotionScore(found, now)

	// Retrieval-time promotion fires once the access-frequency term has
	// saturated; the maintenance loop promotes on score alone.
	persistNeeded := false
	if cfg := s.configs[found.Tier]; cfg.PromoteAt > 0 && found.AccessCount > 10 &&
		found.PromotionScore >= cfg.PromoteAt && nextTier(found.Tier) != "" {
		s.promoteLocked(found)
		persistNeeded = found.Tier == TierPersistent
	}
	value, compressed := found.Value, found.Compressed
	s.mu.Unlock()

	if persistNeeded {
		if err := s.persist(ctx, found); err != nil {
			s.logger.Warn("persistent memory write failed",
				zap.String("key", found.Key), zap.Error(err))
		}
	}
	s.hits.Add(1)
	return s.maybeDecompress(value, compressed)
}

// Search returns entries matching the filter, ordered by
// 0.7·importance + 0.3·norm(accessCount) descending.
func (s *Store) Search(filter SearchFilter) []*Entry {
	now := s.now()
	s.mu.Lock()
	var matches []*Entry
	for tier, entries := range s.tiers {
		if filter.Tier != "" && tier != filter.Tier {
			continue
		}
		for _, e := range entries {
			if e.expired(now) {
				continue
			}
			if filter.Category != "" && e.Category != filter.Category {
				continue
			}
			if filter.AgentID != "" && e.AgentID != filter.AgentID {
				continue
			}
			if e.Importance < filter.MinImportance {
				continue
			}
			if !hasAllTags(e.Tags, filter.Tags) {
				continue
			}
			matches = append(matches, e)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return searchRank(matches[i]) > searchRank(matches[j])
	})
	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	return matches
}

func searchRank(e *Entry) float64 {
	return 0.7*e.Importance + 0.3*normalizeAccess(e.AccessCount)
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		ok := false
		for _, h := range have {
			if h == w {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Delete removes an entry. When tier is omitted it deletes from every tier;
// returns true if any deletion occurred.
func (s *Store) Delete(ctx context.Context, key string, tier ...Tier) bool {
	order := Tiers
	if len(tier) > 0 && tier[0] != "" {
		order = []Tier{tier[0]}
	}
	deleted := false
	var dropArtifact bool
	s.mu.Lock()
	for _, t := range order {
		if _, ok := s.tiers[t][key]; ok {
			delete(s.tiers[t], key)
			deleted = true
			if t == TierPersistent {
				dropArtifact = true
			}
		}
	}
	s.mu.Unlock()

	if dropArtifact {
		s.unpersist(ctx, key)
	}
	return deleted
}

// Promote moves the entry one tier up, boosting importance by 20% (capped
// at 1). Returns false for persistent-tier entries and unknown keys.
func (s *Store) Promote(ctx context.Context, key string, from Tier) bool {
	s.mu.Lock()
	e, ok := s.tiers[from][key]
	if !ok || nextTier(from) == "" {
		s.mu.Unlock()
		return false
	}
	s.promoteLocked(e)
	promoted := e.Tier == TierPersistent
	s.mu.Unlock()

	if promoted {
		if err := s.persist(ctx, e); err != nil {
			s.logger.Warn("persistent memory write failed",
				zap.String("key", key), zap.Error(err))
		}
	}
	return true
}

// promoteLocked moves e from its tier to the next one up.
func (s *Store) promoteLocked(e *Entry) {
	target := nextTier(e.Tier)
	delete(s.tiers[e.Tier], e.Key)
	e.Importance = clamp01(e.Importance * 1.2)
	// The entry re-earns its access history in the new tier.
	e.AccessCount = 0
	from := e.Tier
	e.Tier = target
	// Tier TTLs differ; re-derive expiry against the target tier.
	if ttl := s.configs[target].TTL; ttl > 0 {
		expires := s.now().Add(ttl)
		e.ExpiresAt = &expires
	} else {
		e.ExpiresAt = nil
	}
	s.evictForInsertLocked(target, e.Key, s.now())
	s.tiers[target][e.Key] = e
	s.logger.Debug("promoted memory entry",
		zap.String("key", e.Key), zap.String("from", string(from)),
		zap.String("to", string(target)))
}

// Demote moves the entry one tier down, reducing importance by 20%.
// Demotion from working deletes the entry. Pinned entries are refused.
func (s *Store) Demote(ctx context.Context, key string, from Tier) bool {
	s.mu.Lock()
	e, ok := s.tiers[from][key]
	if !ok || e.Pinned {
		s.mu.Unlock()
		return false
	}
	wasPersistent := from == TierPersistent
	s.demoteLocked(e)
	s.mu.Unlock()

	if wasPersistent {
		s.unpersist(ctx, key)
	}
	return true
}

// demoteLocked moves e one tier down, deleting it when demoted out of
// working.
func (s *Store) demoteLocked(e *Entry) {
	delete(s.tiers[e.Tier], e.Key)
	target := prevTier(e.Tier)
	if target == "" {
		s.evictions.Add(1)
		s.logger.Debug("deleted memory entry on demotion from working",
			zap.String("key", e.Key))
		return
	}
	from := e.Tier
	e.Importance = clamp01(e.Importance * 0.8)
	e.Tier = target
	if ttl := s.configs[target].TTL; ttl > 0 {
		expires := s.now().Add(ttl)
		e.ExpiresAt = &expires
	} else {
		e.ExpiresAt = nil
	}
	s.evictForInsertLocked(target, e.Key, s.now())
	s.tiers[target][e.Key] = e
	s.logger.Debug("demoted memory entry",
		zap.String("key", e.Key), zap.String("from", string(from)),
		zap.String("to", string(target)))
}

// Clear truncates one tier, or all tiers when omitted. Clearing the
// persistent tier also removes stored artifacts.
func (s *Store) Clear(ctx context.Context, tier ...Tier) {
	order := Tiers
	if len(tier) > 0 && tier[0] != "" {
		order = []Tier{tier[0]}
	}
	var persistentKeys []string
	s.mu.Lock()
	for _, t := range order {
		if t == TierPersistent {
			for key := range s.tiers[t] {
				persistentKeys = append(persistentKeys, key)
			}
		}
		s.tiers[t] = make(map[string]*Entry)
	}
	s.mu.Unlock()

	for _, key := range persistentKeys {
		s.unpersist(ctx, key)
	}
}

// Stats returns the per-tier breakdown plus a total row and counter values.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{
		Tiers:        make(map[Tier]TierStats, len(Tiers)),
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
		Evictions:    s.evictions.Load(),
		Compressions: s.compressions.Load(),
	}
	var totalImportance, totalAccess float64
	for _, t := range Tiers {
		ts := TierStats{}
		var imp, acc float64
		for _, e := range s.tiers[t] {
			ts.Count++
			ts.SizeBytes += int64(len(e.Value))
			imp += e.Importance
			acc += float64(e.AccessCount)
			if ts.Oldest.IsZero() || e.CreatedAt.Before(ts.Oldest) {
				ts.Oldest = e.CreatedAt
			}
			if e.CreatedAt.After(ts.Newest) {
				ts.Newest = e.CreatedAt
			}
		}
		if ts.Count > 0 {
			ts.AvgImportance = imp / float64(ts.Count)
			ts.AvgAccessCount = acc / float64(ts.Count)
		}
		out.Tiers[t] = ts

		out.Total.Count += ts.Count
		out.Total.SizeBytes += ts.SizeBytes
		totalImportance += imp
		totalAccess += acc
		if out.Total.Oldest.IsZero() || (!ts.Oldest.IsZero() && ts.Oldest.Before(out.Total.Oldest)) {
			out.Total.Oldest = ts.Oldest
		}
		if ts.Newest.After(out.Total.Newest) {
			out.Total.Newest = ts.Newest
		}
	}
	if out.Total.Count > 0 {
		out.Total.AvgImportance = totalImportance / float64(out.Total.Count)
		out.Total.AvgAccessCount = totalAccess / float64(out.Total.Count)
	}
	return out
}

// LoadPersistent restores persistent-tier entries from the object store.
// Corrupted documents are logged and skipped; one bad document never
// prevents loading of others.
func (s *Store) LoadPersistent(ctx context.Context) error {
	if s.objects == nil {
		return nil
	}
	keys, err := s.objects.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persistent memory: %w", err)
	}
	loaded := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, s.keyPrefix) {
			continue
		}
		doc, err := s.objects.Get(ctx, key)
		if err != nil {
			s.logger.Warn("failed to read persistent memory document",
				zap.String("key", key), zap.Error(err))
			continue
		}
		var entry Entry
		if err := json.Unmarshal(doc, &entry); err != nil {
			s.logger.Warn("skipping corrupted persistent memory document",
				zap.String("key", key), zap.Error(err))
			continue
		}
		entry.Tier = TierPersistent
		s.mu.Lock()
		s.tiers[TierPersistent][entry.Key] = &entry
		s.mu.Unlock()
		loaded++
	}
	if loaded > 0 {
		s.logger.Info("persistent memory restored", zap.Int("entries", loaded))
	}
	return nil
}

func (s *Store) persist(ctx context.Context, e *Entry) error {
	if s.objects == nil {
		return nil
	}
	s.mu.Lock()
	doc, err := json.Marshal(e)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	return s.objects.Put(ctx, s.keyPrefix+e.Key, doc)
}

func (s *Store) unpersist(ctx context.Context, key string) {
	if s.objects == nil {
		return
	}
	if err := s.objects.Delete(ctx, s.keyPrefix+key); err != nil {
		s.logger.Warn("failed to delete persistent memory document",
			zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) maybeCompress(value []byte) ([]byte, bool) {
	if s.compressionThreshold <= 0 || len(value) < s.compressionThreshold {
		return value, false
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(value); err != nil {
		return value, false
	}
	if err := gz.Close(); err != nil {
		return value, false
	}
	if buf.Len() >= len(value) {
		return value, false
	}
	s.compressions.Add(1)
	return buf.Bytes(), true
}

func (s *Store) maybeDecompress(value []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return value, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(value))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress entry: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
