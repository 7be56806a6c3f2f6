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
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiterConfig configures the shared per-provider rate limiter.
type RateLimiterConfig struct {
	// Enabled enables rate limiting.
	Enabled bool

	// RequestsPerSecond is the sustained request rate. Default: 2.
	RequestsPerSecond float64

	// TokensPerMinute bounds token throughput over a sliding one-minute
	// window. 0 disables token-based limiting.
	TokensPerMinute int64

	// BurstCapacity is the maximum burst of requests allowed. Default: 5.
	BurstCapacity int

	// MinDelay is the minimum spacing between requests.
	MinDelay time.Duration

	// Logger for throttle events.
	Logger *zap.Logger
}

// RateLimiter implements token-bucket request limiting plus a sliding-window
// token budget. One limiter is shared by all clients of a provider.
type RateLimiter struct {
	config RateLimiterConfig

	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	lastCall   time.Time

	windowMu    sync.Mutex
	tokenWindow []tokenUsage
}

type tokenUsage struct {
	timestamp time.Time
	tokens    int64
}

// NewRateLimiter creates a rate limiter with defaults applied.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 2
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = 5
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &RateLimiter{
		config:     config,
		tokens:     float64(config.BurstCapacity),
		maxTokens:  float64(config.BurstCapacity),
		refillRate: config.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a request slot is available or the context is done.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	if rl == nil || !rl.config.Enabled {
		return nil
	}
	for {
		if wait := rl.tryAcquire(); wait <= 0 {
			return nil
		} else {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// tryAcquire takes a bucket token, returning 0 on success or a suggested
// wait duration when the bucket is dry or MinDelay has not elapsed.
func (rl *RateLimiter) tryAcquire() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens = min(rl.maxTokens, rl.tokens+elapsed*rl.refillRate)
	rl.lastRefill = now

	if rl.config.MinDelay > 0 {
		if since := now.Sub(rl.lastCall); since < rl.config.MinDelay {
			return rl.config.MinDelay - since
		}
	}
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		rl.lastCall = now
		return 0
	}
	// Time until one token refills.
	return time.Duration((1.0 - rl.tokens) / rl.refillRate * float64(time.Second))
}

// RecordTokens charges consumed tokens against the sliding window.
func (rl *RateLimiter) RecordTokens(n int64) {
	if rl == nil || !rl.config.Enabled || rl.config.TokensPerMinute <= 0 || n <= 0 {
		return
	}
	rl.windowMu.Lock()
	defer rl.windowMu.Unlock()
	rl.pruneWindowLocked(time.Now())
	rl.tokenWindow = append(rl.tokenWindow, tokenUsage{timestamp: time.Now(), tokens: n})
}

// TokenBudgetExceeded reports whether the sliding-window token budget is
// spent. Callers should back off before issuing more requests.
func (rl *RateLimiter) TokenBudgetExceeded() bool {
	if rl == nil || !rl.config.Enabled || rl.config.TokensPerMinute <= 0 {
		return false
	}
	rl.windowMu.Lock()
	defer rl.windowMu.Unlock()
	now := time.Now()
	rl.pruneWindowLocked(now)
	var total int64
	for _, u := range rl.tokenWindow {
		total += u.tokens
	}
	if total >= rl.config.TokensPerMinute {
		rl.config.Logger.Warn("token budget exceeded",
			zap.Int64("window_tokens", total),
			zap.Int64("budget", rl.config.TokensPerMinute))
		return true
	}
	return false
}

func (rl *RateLimiter) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := rl.tokenWindow[:0]
	for _, u := range rl.tokenWindow {
		if u.timestamp.After(cutoff) {
			kept = append(kept, u)
		}
	}
	rl.tokenWindow = kept
}

// Global per-provider limiters so all clients of one backend share a budget.
var (
	limitersMu sync.Mutex
	limiters   = map[string]*RateLimiter{}
)

// SharedRateLimiter returns the process-wide limiter for a provider name,
// creating it from config on first use.
func SharedRateLimiter(provider string, config RateLimiterConfig) *RateLimiter {
	limitersMu.Lock()
	defer limitersMu.Unlock()
	if rl, ok := limiters[provider]; ok {
		return rl
	}
	rl := NewRateLimiter(config)
	limiters[provider] = rl
	return rl
}

// isThrottlingError reports whether an error message looks like backend
// throttling (HTTP 429 and friends).
func isThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimit(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "too many requests", "rate limit", "throttl"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
