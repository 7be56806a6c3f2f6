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

// Package comm provides the topic pub/sub message bus the session manager
// uses to deliver messages along topology-computed routes.
//
// Delivery is in publish order per subscriber channel, which gives the
// per-(sender,receiver) FIFO guarantee as long as a sender publishes from a
// single goroutine.
package comm

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hivekit/hive/pkg/observability"
	"github.com/hivekit/hive/pkg/types"
)

// Span names for bus operations.
const (
	SpanBusPublish     = "bus.publish"
	SpanBusSubscribe   = "bus.subscribe"
	SpanBusUnsubscribe = "bus.unsubscribe"
)

// DefaultBufferSize is the subscriber channel capacity when the caller
// passes zero.
const DefaultBufferSize = 100

// AgentTopic is the point-to-point topic for one agent.
func AgentTopic(agentID string) string { return "agent." + agentID }

// SessionTopic is the broadcast topic for one session.
func SessionTopic(sessionID string) string { return "session." + sessionID }

// Filter restricts which messages a subscription receives. Zero fields
// match everything; set fields are conjunctive.
type Filter struct {
	FromAgents  []string
	Types       []types.MessageType
	MinPriority int
}

func (f *Filter) matches(msg *types.Message) bool {
	if f == nil {
		return true
	}
	if len(f.FromAgents) > 0 && !containsString(f.FromAgents, msg.From) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == msg.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return msg.Priority >= f.MinPriority
}

// Subscription is an active topic subscription. Consumers read from
// Channel; the bus closes it on Unsubscribe and Close.
type Subscription struct {
	ID      string
	AgentID string
	Topic   string
	Filter  *Filter
	Channel <-chan *types.Message
	Created time.Time

	channel chan *types.Message
	closed  atomic.Bool
}

// TopicStats summarizes one topic's traffic.
type TopicStats struct {
	Topic          string
	TotalPublished int64
	TotalDelivered int64
	TotalDropped   int64
	Subscribers    int
	LastPublishAt  time.Time
}

type topicCounters struct {
	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	lastAt    atomic.Value // time.Time
}

// Bus is a topic-based pub/sub message bus. Safe for concurrent use.
//
// Publish never blocks on a slow subscriber: messages are dropped when a
// subscriber buffer is full.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	topics map[string]*topicCounters

	tracer observability.Tracer
	logger *zap.Logger

	totalPublished atomic.Int64
	totalDelivered atomic.Int64
	totalDropped   atomic.Int64

	closed atomic.Bool
}

// NewBus creates an empty message bus.
func NewBus(tracer observability.Tracer, logger *zap.Logger) *Bus {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[string]*Subscription),
		topics: make(map[string]*topicCounters),
		tracer: tracer,
		logger: logger,
	}
}

// Publish fans a message out to every matching subscription and returns
// the delivered and dropped counts.
func (b *Bus) Publish(ctx context.Context, topic string, msg *types.Message) (int, int, error) {
	if b.closed.Load() {
		return 0, 0, fmt.Errorf("message bus is closed")
	}
	if topic == "" {
		return 0, 0, fmt.Errorf("topic cannot be empty")
	}
	if msg == nil {
		return 0, 0, fmt.Errorf("message cannot be nil")
	}

	_, span := b.tracer.StartSpan(ctx, SpanBusPublish)
	defer b.tracer.EndSpan(span)
	span.SetAttribute("topic", topic)
	span.SetAttribute("from", msg.From)

	delivered, dropped := 0, 0
	b.mu.RLock()
	for _, sub := range b.subs {
		if !matchesTopic(sub.Topic, topic) || !sub.Filter.matches(msg) {
			continue
		}
		select {
		case sub.channel <- msg:
			delivered++
		default:
			dropped++
		}
	}
	b.mu.RUnlock()

	b.totalPublished.Add(1)
	b.totalDelivered.Add(int64(delivered))
	b.totalDropped.Add(int64(dropped))

	tc := b.countersFor(topic)
	tc.published.Add(1)
	tc.delivered.Add(int64(delivered))
	tc.dropped.Add(int64(dropped))
	tc.lastAt.Store(time.Now())

	span.SetAttribute("delivered", delivered)
	span.SetAttribute("dropped", dropped)
	b.logger.Debug("bus publish",
		zap.String("topic", topic),
		zap.String("from", msg.From),
		zap.String("message_id", msg.ID),
		zap.Int("delivered", delivered),
		zap.Int("dropped", dropped))

	return delivered, dropped, nil
}

// Subscribe registers a subscription to a topic pattern. Patterns use
// path.Match semantics: "session.*" matches "session.s-1".
func (b *Bus) Subscribe(ctx context.Context, agentID, topicPattern string, filter *Filter, bufferSize int) (*Subscription, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("message bus is closed")
	}
	if agentID == "" {
		return nil, fmt.Errorf("agent ID cannot be empty")
	}
	if topicPattern == "" {
		return nil, fmt.Errorf("topic pattern cannot be empty")
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	_, span := b.tracer.StartSpan(ctx, SpanBusSubscribe)
	defer b.tracer.EndSpan(span)
	span.SetAttribute("agent_id", agentID)
	span.SetAttribute("topic_pattern", topicPattern)

	ch := make(chan *types.Message, bufferSize)
	sub := &Subscription{
		ID:      fmt.Sprintf("%s-%s-%d", agentID, topicPattern, time.Now().UnixNano()),
		AgentID: agentID,
		Topic:   topicPattern,
		Filter:  filter,
		Channel: ch,
		Created: time.Now(),
		channel: ch,
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Info("bus subscribe",
		zap.String("subscription_id", sub.ID),
		zap.String("agent_id", agentID),
		zap.String("topic_pattern", topicPattern))
	return sub, nil
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(ctx context.Context, subscriptionID string) error {
	_, span := b.tracer.StartSpan(ctx, SpanBusUnsubscribe)
	defer b.tracer.EndSpan(span)
	span.SetAttribute("subscription_id", subscriptionID)

	b.mu.Lock()
	sub, found := b.subs[subscriptionID]
	if !found {
		b.mu.Unlock()
		return types.NewError(types.CodeNotFound, "subscription not found: %s", subscriptionID)
	}
	delete(b.subs, subscriptionID)
	b.mu.Unlock()

	if sub.closed.CompareAndSwap(false, true) {
		close(sub.channel)
	}
	b.logger.Info("bus unsubscribe",
		zap.String("subscription_id", subscriptionID),
		zap.String("agent_id", sub.AgentID))
	return nil
}

// SubscriptionsFor returns the active subscriptions held by an agent.
func (b *Bus) SubscriptionsFor(agentID string) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Subscription
	for _, sub := range b.subs {
		if sub.AgentID == agentID {
			out = append(out, sub)
		}
	}
	return out
}

// Topics returns every topic that has seen a publish.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.topics))
	for t := range b.topics {
		out = append(out, t)
	}
	return out
}

// Stats returns the traffic summary for one topic.
func (b *Bus) Stats(topic string) (*TopicStats, error) {
	b.mu.RLock()
	tc, ok := b.topics[topic]
	var subscribers int
	if ok {
		for _, sub := range b.subs {
			if matchesTopic(sub.Topic, topic) {
				subscribers++
			}
		}
	}
	b.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.CodeNotFound, "topic not found: %s", topic)
	}

	stats := &TopicStats{
		Topic:          topic,
		TotalPublished: tc.published.Load(),
		TotalDelivered: tc.delivered.Load(),
		TotalDropped:   tc.dropped.Load(),
		Subscribers:    subscribers,
	}
	if v := tc.lastAt.Load(); v != nil {
		stats.LastPublishAt = v.(time.Time)
	}
	return stats, nil
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	for id, sub := range b.subs {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.channel)
		}
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.logger.Info("message bus closed",
		zap.Int64("total_published", b.totalPublished.Load()),
		zap.Int64("total_delivered", b.totalDelivered.Load()),
		zap.Int64("total_dropped", b.totalDropped.Load()))
	return nil
}

func (b *Bus) countersFor(topic string) *topicCounters {
	b.mu.Lock()
	defer b.mu.Unlock()
	tc, ok := b.topics[topic]
	if !ok {
		tc = &topicCounters{}
		b.topics[topic] = tc
	}
	return tc
}

// matchesTopic reports whether a concrete topic matches a subscription
// pattern, by exact match or path.Match wildcards.
func matchesTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	ok, err := path.Match(pattern, topic)
	return err == nil && ok
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
