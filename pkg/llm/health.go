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

package llm

import (
	"context"
	"sync"
	"time"
)

const (
	// healthCacheTTL is how long a probe result stays fresh.
	healthCacheTTL = 5 * time.Minute

	// rateLimitCooldown is how long a throttled provider is considered
	// unhealthy before re-probing.
	rateLimitCooldown = 60 * time.Second
)

type healthEntry struct {
	healthy   bool
	checkedAt time.Time

	// cooldownUntil, when set, pins the provider unhealthy regardless of
	// probe results until the deadline passes.
	cooldownUntil time.Time
}

// healthCache caches provider availability. It is the router's only shared
// mutable state; a single RWMutex guards it.
type healthCache struct {
	mu      sync.RWMutex
	entries map[string]healthEntry
	ttl     time.Duration
	now     func() time.Time
}

func newHealthCache(ttl time.Duration) *healthCache {
	if ttl <= 0 {
		ttl = healthCacheTTL
	}
	return &healthCache{
		entries: make(map[string]healthEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// isHealthy returns the cached health for a provider, probing on miss or
// expiry.
func (h *healthCache) isHealthy(ctx context.Context, p Provider) bool {
	name := p.Name()
	now := h.now()

	h.mu.RLock()
	entry, ok := h.entries[name]
	h.mu.RUnlock()

	if ok {
		if now.Before(entry.cooldownUntil) {
			return false
		}
		if now.Sub(entry.checkedAt) < h.ttl && entry.cooldownUntil.IsZero() {
			return entry.healthy
		}
	}

	healthy := p.IsAvailable(ctx)

	h.mu.Lock()
	h.entries[name] = healthEntry{healthy: healthy, checkedAt: now}
	h.mu.Unlock()
	return healthy
}

// markUnhealthy pins a provider down until its next probe window.
func (h *healthCache) markUnhealthy(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[name] = healthEntry{healthy: false, checkedAt: h.now()}
}

// coolDown pins a provider unhealthy for the rate-limit window.
func (h *healthCache) coolDown(name string, d time.Duration) {
	if d <= 0 {
		d = rateLimitCooldown
	}
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[name] = healthEntry{healthy: false, checkedAt: now, cooldownUntil: now.Add(d)}
}

// invalidate drops the cached entry so the next check re-probes.
func (h *healthCache) invalidate(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, name)
}
