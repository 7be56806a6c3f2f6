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

// Package llm provides the provider contract and the rule-driven router
// that maps a task characterization to a provider choice with health-aware
// fallback. Concrete adapters live in subpackages (ollama, perplexity,
// openai, anthropic).
package llm

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single generation call unless overridden.
const DefaultTimeout = 30 * time.Second

// CostTier classifies a provider by cost.
type CostTier string

const (
	CostFree   CostTier = "free"
	CostLow    CostTier = "low"
	CostMedium CostTier = "medium"
	CostHigh   CostTier = "high"
)

// Complexity classifies a request by how demanding it is.
type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityCritical Complexity = "critical"
)

// Rank orders complexities (higher = more demanding).
func (c Complexity) Rank() int {
	switch c {
	case ComplexityLow:
		return 0
	case ComplexityMedium:
		return 1
	case ComplexityHigh:
		return 2
	case ComplexityCritical:
		return 3
	default:
		return 1
	}
}

// TaskType classifies what kind of work a generation request serves.
type TaskType string

const (
	TaskGeneration    TaskType = "generation"
	TaskDebugging     TaskType = "debugging"
	TaskSummarization TaskType = "summarization"
	TaskResearch      TaskType = "research"
)

// TaskCharacteristics carries the signals the router uses to pick a
// provider. When absent on a request, the router estimates one from the
// prompt (see Estimate).
type TaskCharacteristics struct {
	TaskType             TaskType   `json:"taskType,omitempty" yaml:"taskType,omitempty"`
	Complexity           Complexity `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	ContextSize          int        `json:"contextSize,omitempty" yaml:"contextSize,omitempty"`
	ExpectedOutputTokens int        `json:"expectedOutputTokens,omitempty" yaml:"expectedOutputTokens,omitempty"`
	Iteration            int        `json:"iteration,omitempty" yaml:"iteration,omitempty"`
	AgentRole            string     `json:"agentRole,omitempty" yaml:"agentRole,omitempty"`
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Options are the normalized request options shared by all providers.
type Options struct {
	Model            string
	Temperature      float64 // 0..2
	MaxTokens        int
	TopP             float64
	Stream           bool
	Stop             []string
	PresencePenalty  float64
	FrequencyPenalty float64
	Role             string // agent role issuing the request
	ConversationID   string
	Timeout          time.Duration

	// Task carries explicit characteristics; nil means "estimate".
	Task *TaskCharacteristics
}

// Request is a generation request. Either Prompt or Messages is set;
// a bare Prompt is treated as a single user message.
type Request struct {
	Prompt   string
	Messages []ChatMessage
	Options  Options
}

// AsMessages normalizes the request into a message list.
func (r *Request) AsMessages() []ChatMessage {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	return []ChatMessage{{Role: "user", Content: r.Prompt}}
}

// PromptText returns a flat text rendering of the request for estimation.
func (r *Request) PromptText() string {
	if r.Prompt != "" {
		return r.Prompt
	}
	var text string
	for _, m := range r.Messages {
		text += m.Content + "\n"
	}
	return text
}

// Usage tracks token consumption for one response.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Metadata identifies how a response was produced.
type Metadata struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	SelectionReason string `json:"selectionReason,omitempty"`
	LatencyMs       int64  `json:"latencyMs"`
}

// Response is a provider's answer to a generation request.
type Response struct {
	Content    string         `json:"content"`
	StopReason string         `json:"stopReason,omitempty"`
	Usage      Usage          `json:"usage"`
	Metadata   Metadata       `json:"metadata"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Capabilities advertises what a provider backend can do.
type Capabilities struct {
	Modalities      []string `json:"modalities"` // "text", "image"
	MaxContextSize  int      `json:"maxContextSize"`
	Streaming       bool     `json:"streaming"`
	FunctionCalling bool     `json:"functionCalling"`
	Vision          bool     `json:"vision"`
	CostTier        CostTier `json:"costTier"`
}

// Provider is the uniform contract over one LLM backend.
//
// Implementations are safe for concurrent use.
type Provider interface {
	// Generate produces a completion for the request.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// IsAvailable probes backend health. Implementations should keep this
	// cheap; the router caches results.
	IsAvailable(ctx context.Context) bool

	// Capabilities describes the backend.
	Capabilities() Capabilities

	// Name returns the provider name (e.g. "ollama").
	Name() string

	// Model returns the configured model identifier.
	Model() string
}
