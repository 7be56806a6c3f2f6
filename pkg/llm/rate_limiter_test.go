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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterDisabledNeverBlocks(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Enabled: false})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Acquire(ctx))
	}
}

func TestRateLimiterBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstCapacity:     3,
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Acquire(ctx))
	}

	// Bucket is dry; a short deadline should expire before refill.
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := rl.Acquire(shortCtx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRateLimiterTokenBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Enabled:         true,
		TokensPerMinute: 1000,
	})
	assert.False(t, rl.TokenBudgetExceeded())
	rl.RecordTokens(600)
	assert.False(t, rl.TokenBudgetExceeded())
	rl.RecordTokens(500)
	assert.True(t, rl.TokenBudgetExceeded())
}

func TestSharedRateLimiterIsPerProvider(t *testing.T) {
	a := SharedRateLimiter("prov-a", RateLimiterConfig{Enabled: true})
	a2 := SharedRateLimiter("prov-a", RateLimiterConfig{Enabled: true})
	b := SharedRateLimiter("prov-b", RateLimiterConfig{Enabled: true})
	assert.Same(t, a, a2)
	assert.NotSame(t, a, b)
}

func TestIsThrottlingError(t *testing.T) {
	assert.False(t, isThrottlingError(nil))
	assert.False(t, isThrottlingError(errors.New("connection refused")))
	assert.True(t, isThrottlingError(errors.New("API error (status 429): slow down")))
	assert.True(t, isThrottlingError(NewProviderError("x", KindRateLimit, "throttled")))
}
