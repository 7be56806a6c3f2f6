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

// Package memory implements the three-tier agent memory: a small working
// set, a larger episodic tier, and an unbounded persistent tier backed by
// an object store. Entries migrate between tiers automatically based on
// importance, access frequency, and recency.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// Tier identifies one of the three memory levels.
type Tier string

const (
	TierWorking    Tier = "working"
	TierEpisodic   Tier = "episodic"
	TierPersistent Tier = "persistent"
)

// Tiers lists the levels in retrieval order (hottest first).
var Tiers = []Tier{TierWorking, TierEpisodic, TierPersistent}

// Category classifies what an entry holds.
type Category string

const (
	CategoryTask      Category = "task"
	CategoryContext   Category = "context"
	CategoryLearning  Category = "learning"
	CategoryKnowledge Category = "knowledge"
	CategoryOther     Category = "other"
)

// TierConfig bounds one tier. The zero value means "use the contractual
// default for that tier".
type TierConfig struct {
	// MaxEntries is a soft bound; 0 means unbounded.
	MaxEntries int

	// TTL applied to entries stored without an explicit TTL; 0 disables
	// expiry.
	TTL time.Duration

	// PromoteAt is the promotion-score threshold; 0 disables promotion.
	PromoteAt float64

	// DemoteAt is the demotion-score threshold; entries at or below it are
	// demoted (or deleted, from the working tier).
	DemoteAt float64
}

// defaultTierConfigs are contractual: tests and external expectations
// assume exactly these numbers.
func defaultTierConfigs() map[Tier]TierConfig {
	return map[Tier]TierConfig{
		TierWorking:    {MaxEntries: 100, TTL: 5 * time.Minute, PromoteAt: 0.7, DemoteAt: 0.1},
		TierEpisodic:   {MaxEntries: 1000, TTL: 24 * time.Hour, PromoteAt: 0.85, DemoteAt: 0.2},
		TierPersistent: {DemoteAt: 0.1},
	}
}

// Entry is one stored memory item. Values are opaque bytes; values above
// the store's compression threshold are held gzip-compressed.
type Entry struct {
	ID           string            `json:"id"`
	Key          string            `json:"key"`
	Value        []byte            `json:"value"`
	Compressed   bool              `json:"compressed,omitempty"`
	Tier         Tier              `json:"tier"`
	Category     Category          `json:"category"`
	Importance   float64           `json:"importance"`
	Decay        float64           `json:"decay"`
	AccessCount  int               `json:"accessCount"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastAccessed time.Time         `json:"lastAccessed"`
	ExpiresAt    *time.Time        `json:"expiresAt,omitempty"`
	Pinned       bool              `json:"pinned,omitempty"`
	AgentID      string            `json:"agentId,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// Derived at maintenance time and on retrieval.
	PromotionScore float64 `json:"promotionScore"`
	DemotionScore  float64 `json:"demotionScore"`
}

// expired reports whether the entry's TTL has lapsed. Pinned entries never
// expire.
func (e *Entry) expired(now time.Time) bool {
	return !e.Pinned && e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// promotionScore computes 0.5·importance + 0.3·norm(access) + 0.2·recency,
// where norm(x) = min(x/10, 1) and recency decays linearly over 24h.
func promotionScore(e *Entry, now time.Time) float64 {
	return 0.5*e.Importance + 0.3*normalizeAccess(e.AccessCount) + 0.2*recencyBoost(e.LastAccessed, now)
}

// demotionScore computes 1 − promotion − staleness, where staleness grows
// with idle time scaled by the entry's decay coefficient.
func demotionScore(e *Entry, now time.Time) float64 {
	idle := now.Sub(e.LastAccessed)
	staleness := e.Decay * clamp01(idle.Hours()/24)
	return 1 - promotionScore(e, now) - staleness
}

func normalizeAccess(count int) float64 {
	return clamp01(float64(count) / 10)
}

func recencyBoost(lastAccessed, now time.Time) float64 {
	idle := now.Sub(lastAccessed)
	if idle <= 0 {
		return 1
	}
	return clamp01(1 - idle.Hours()/24)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// nextTier returns the tier above t, or "" from persistent.
func nextTier(t Tier) Tier {
	switch t {
	case TierWorking:
		return TierEpisodic
	case TierEpisodic:
		return TierPersistent
	default:
		return ""
	}
}

// prevTier returns the tier below t, or "" from working.
func prevTier(t Tier) Tier {
	switch t {
	case TierPersistent:
		return TierEpisodic
	case TierEpisodic:
		return TierWorking
	default:
		return ""
	}
}

func newEntryID() string { return "mem-" + uuid.NewString() }
