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

package comm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivekit/hive/pkg/types"
)

func testMessage(id, from, to string) *types.Message {
	return &types.Message{ID: id, From: from, To: to, Type: types.MessageCoordination}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus(nil, nil)
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "a1", AgentTopic("a1"), nil, 10)
	require.NoError(t, err)

	delivered, dropped, err := b.Publish(ctx, AgentTopic("a1"), testMessage("m1", "a2", "a1"))
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, dropped)

	msg := <-sub.Channel
	assert.Equal(t, "m1", msg.ID)
}

func TestPublishPreservesOrder(t *testing.T) {
	b := NewBus(nil, nil)
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "a1", AgentTopic("a1"), nil, 20)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, _, err := b.Publish(ctx, AgentTopic("a1"), testMessage(fmt.Sprintf("m%d", i), "a2", "a1"))
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		msg := <-sub.Channel
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.ID)
	}
}

func TestPublishWildcardPattern(t *testing.T) {
	b := NewBus(nil, nil)
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "observer", "session.*", nil, 10)
	require.NoError(t, err)

	delivered, _, err := b.Publish(ctx, SessionTopic("s-1"), testMessage("m1", "a1", ""))
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, "m1", (<-sub.Channel).ID)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := NewBus(nil, nil)
	defer b.Close()
	ctx := context.Background()

	_, err := b.Subscribe(ctx, "slow", AgentTopic("slow"), nil, 1)
	require.NoError(t, err)

	_, _, err = b.Publish(ctx, AgentTopic("slow"), testMessage("m1", "a1", "slow"))
	require.NoError(t, err)
	_, dropped, err := b.Publish(ctx, AgentTopic("slow"), testMessage("m2", "a1", "slow"))
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
}

func TestFilterMatching(t *testing.T) {
	tests := []struct {
		name   string
		filter *Filter
		msg    *types.Message
		want   bool
	}{
		{"nil filter accepts all", nil, testMessage("m", "a1", "a2"), true},
		{"from match", &Filter{FromAgents: []string{"a1"}}, testMessage("m", "a1", "a2"), true},
		{"from mismatch", &Filter{FromAgents: []string{"a3"}}, testMessage("m", "a1", "a2"), false},
		{"type match", &Filter{Types: []types.MessageType{types.MessageCoordination}}, testMessage("m", "a1", "a2"), true},
		{"type mismatch", &Filter{Types: []types.MessageType{types.MessageError}}, testMessage("m", "a1", "a2"), false},
		{"priority floor", &Filter{MinPriority: 2}, &types.Message{From: "a1", Priority: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.matches(tt.msg))
		})
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(nil, nil)
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "a1", AgentTopic("a1"), nil, 10)
	require.NoError(t, err)
	require.NoError(t, b.Unsubscribe(ctx, sub.ID))

	_, open := <-sub.Channel
	assert.False(t, open)

	err = b.Unsubscribe(ctx, sub.ID)
	assert.Equal(t, types.CodeNotFound, types.CodeOf(err))

	delivered, _, err := b.Publish(ctx, AgentTopic("a1"), testMessage("m1", "a2", "a1"))
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
}

func TestStats(t *testing.T) {
	b := NewBus(nil, nil)
	defer b.Close()
	ctx := context.Background()

	_, err := b.Subscribe(ctx, "a1", AgentTopic("a1"), nil, 10)
	require.NoError(t, err)
	_, _, err = b.Publish(ctx, AgentTopic("a1"), testMessage("m1", "a2", "a1"))
	require.NoError(t, err)

	stats, err := b.Stats(AgentTopic("a1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalPublished)
	assert.Equal(t, int64(1), stats.TotalDelivered)
	assert.Equal(t, 1, stats.Subscribers)
	assert.False(t, stats.LastPublishAt.IsZero())

	_, err = b.Stats("ghost")
	assert.Equal(t, types.CodeNotFound, types.CodeOf(err))
}

func TestCloseRefusesFurtherUse(t *testing.T) {
	b := NewBus(nil, nil)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "a1", AgentTopic("a1"), nil, 10)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, open := <-sub.Channel
	assert.False(t, open)

	_, _, err = b.Publish(ctx, AgentTopic("a1"), testMessage("m1", "a2", "a1"))
	assert.Error(t, err)
	_, err = b.Subscribe(ctx, "a2", AgentTopic("a2"), nil, 10)
	assert.Error(t, err)
	assert.NoError(t, b.Close(), "double close is a no-op")
}
