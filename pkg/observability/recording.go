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

package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecordingTracer captures every span and metric for inspection in tests.
// Thread-safe: all methods can be called concurrently.
type RecordingTracer struct {
	mu      sync.RWMutex
	spans   []*Span
	metrics []Metric
}

// Metric is a single recorded metric sample.
type Metric struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// NewRecordingTracer creates a tracer that records spans in memory.
func NewRecordingTracer() *RecordingTracer {
	return &RecordingTracer{}
}

// StartSpan creates a new span and links it to its parent.
func (r *RecordingTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := &Span{
		TraceID:    uuid.NewString(),
		SpanID:     uuid.NewString(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]any),
	}
	for _, opt := range opts {
		opt(span)
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}
	return ContextWithSpan(ctx, span), span
}

// EndSpan completes the span and stores it.
func (r *RecordingTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, span)
}

// RecordMetric stores the metric sample.
func (r *RecordingTracer) RecordMetric(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, Metric{Name: name, Value: value, Labels: labels})
}

// Flush is a no-op.
func (r *RecordingTracer) Flush(ctx context.Context) error { return nil }

// Spans returns a copy of all completed spans.
func (r *RecordingTracer) Spans() []*Span {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Span, len(r.spans))
	copy(out, r.spans)
	return out
}

// SpansByName returns all completed spans with the given name.
func (r *RecordingTracer) SpansByName(name string) []*Span {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Span
	for _, s := range r.spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Metrics returns a copy of all recorded metric samples.
func (r *RecordingTracer) Metrics() []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

// Reset clears captured spans and metrics.
func (r *RecordingTracer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = nil
	r.metrics = nil
}

var _ Tracer = (*RecordingTracer)(nil)
