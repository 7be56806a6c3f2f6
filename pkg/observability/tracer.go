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

// Package observability provides tracing and metrics for the hive runtime.
//
// The coordinator instruments session dispatch, pool distribution, topology
// routing, memory tier migration, and LLM generation. Production deployments
// plug in an exporting tracer; the default is no-op.
package observability

import (
	"context"
	"time"
)

// Span names used across the runtime.
const (
	SpanSessionCreate     = "session.create"
	SpanSessionCheckpoint = "session.checkpoint"
	SpanSessionResume     = "session.resume"
	SpanSessionDispatch   = "session.dispatch"
	SpanPoolDistribute    = "pool.distribute"
	SpanPoolAutoScale     = "pool.autoscale"
	SpanTopologyRoute     = "topology.route"
	SpanMemoryStore       = "memory.store"
	SpanMemoryRetrieve    = "memory.retrieve"
	SpanMemoryMaintain    = "memory.maintain"
	SpanLLMSelect         = "llm.select"
	SpanLLMGenerate       = "llm.generate"
)

// Tracer instruments runtime operations.
//
// Thread-safe: all methods can be called concurrently.
type Tracer interface {
	// StartSpan creates a new span and returns a context containing it.
	// The span is linked to its parent via context propagation.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span)

	// EndSpan completes a span and calculates its duration.
	// Always call via defer after StartSpan.
	EndSpan(span *Span)

	// RecordMetric records a point-in-time metric value with labels.
	RecordMetric(name string, value float64, labels map[string]string)

	// Flush forces export of buffered traces and metrics.
	Flush(ctx context.Context) error
}

// StatusCode represents the final status of a span.
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

// Status is the final status of a span with an optional message.
type Status struct {
	Code    StatusCode
	Message string
}

// Event is a point-in-time occurrence within a span.
type Event struct {
	Timestamp  time.Time
	Name       string
	Attributes map[string]any
}

// Span represents a unit of work with timing and metadata.
// Spans form a tree via ParentID references.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string

	Name       string
	Attributes map[string]any

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Events []Event
	Status Status
}

// SetAttribute sets a key-value attribute on the span.
func (s *Span) SetAttribute(key string, value any) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]any)
	}
	s.Attributes[key] = value
}

// AddEvent adds a timestamped event to the span.
func (s *Span) AddEvent(name string, attrs map[string]any) {
	s.Events = append(s.Events, Event{Timestamp: time.Now(), Name: name, Attributes: attrs})
}

// RecordError marks the span failed and records the error message.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.Status = Status{Code: StatusError, Message: err.Error()}
	s.SetAttribute("error.message", err.Error())
}

// SpanOption is a functional option for configuring spans.
type SpanOption func(*Span)

// WithAttribute returns a SpanOption that sets an attribute.
func WithAttribute(key string, value any) SpanOption {
	return func(s *Span) { s.SetAttribute(key, value) }
}

// SpanFromContext retrieves the current span from context, if any.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanContextKey).(*Span); ok {
		return span
	}
	return nil
}

// ContextWithSpan returns a new context with the span attached.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey, span)
}

type contextKey string

const spanContextKey contextKey = "hive.span"
