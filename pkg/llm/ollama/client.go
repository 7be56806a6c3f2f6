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

// Package ollama implements the provider contract over a local Ollama
// server's /api/chat endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hivekit/hive/pkg/llm"
)

// Config holds configuration for the Ollama client.
type Config struct {
	Endpoint    string        // Default: http://localhost:11434
	Model       string        // Default: llama3.1
	MaxTokens   int           // Default: model-aware
	Temperature float64       // Default: 0.8
	Timeout     time.Duration // Default: 120s

	RateLimiter llm.RateLimiterConfig
}

// Client talks to a local Ollama server.
type Client struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	rateLimiter *llm.RateLimiter
}

// defaultMaxTokens picks an output budget by model size. Small local models
// degrade on long generations.
func defaultMaxTokens(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "70b") || strings.Contains(lower, "72b") ||
		strings.Contains(lower, "405b"):
		return 8192
	case strings.Contains(lower, "13b") || strings.Contains(lower, "14b") ||
		strings.Contains(lower, "20b") || strings.Contains(lower, "32b"):
		return 6144
	default:
		return 4096
	}
}

// NewClient creates an Ollama client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens(cfg.Model)
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	var limiter *llm.RateLimiter
	if cfg.RateLimiter.Enabled {
		limiter = llm.SharedRateLimiter("ollama", cfg.RateLimiter)
	}
	return &Client{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		rateLimiter: limiter,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string  { return "ollama" }
func (c *Client) Model() string { return c.model }

// Capabilities describes the local backend. Local inference is free.
func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Modalities:     []string{"text"},
		MaxContextSize: 32_768,
		Streaming:      true,
		CostTier:       llm.CostFree,
	}
}

// IsAvailable probes the server's tags endpoint.
func (c *Client) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Generate sends a non-streaming chat completion.
func (c *Client) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	model := c.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}
	temperature := c.temperature
	if req.Options.Temperature > 0 {
		temperature = req.Options.Temperature
	}
	maxTokens := c.maxTokens
	if req.Options.MaxTokens > 0 {
		maxTokens = req.Options.MaxTokens
	}

	apiReq := chatRequest{
		Model:    model,
		Messages: convertMessages(req.AsMessages()),
		Stream:   false,
		Options: map[string]any{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}
	if len(req.Options.Stop) > 0 {
		apiReq.Options["stop"] = req.Options.Stop
	}

	resp, err := c.callAPI(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	c.rateLimiter.RecordTokens(int64(resp.PromptEvalCount + resp.EvalCount))
	return &llm.Response{
		Content:    resp.Message.Content,
		StopReason: "stop",
		Usage: llm.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
			TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
		},
		Metadata: llm.Metadata{Model: resp.Model},
		Extra: map[string]any{
			"eval_duration": resp.EvalDuration,
		},
	}, nil
}

func (c *Client) callAPI(ctx context.Context, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &llm.ProviderError{
			Provider: "ollama", Kind: llm.KindUnavailable,
			Msg: "server unreachable", Err: err,
		}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp.StatusCode, respBody)
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

func classifyStatus(status int, body []byte) error {
	msg := fmt.Sprintf("API error (status %d): %s", status, string(body))
	kind := llm.KindGeneric
	switch {
	case status == http.StatusTooManyRequests:
		kind = llm.KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = llm.KindAuthentication
	case status >= 500:
		kind = llm.KindUnavailable
	}
	return llm.NewProviderError("ollama", kind, "%s", msg)
}

func convertMessages(messages []llm.ChatMessage) []ollamaMessage {
	out := make([]ollamaMessage, len(messages))
	for i, m := range messages {
		out[i] = ollamaMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// Ollama API types

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model           string        `json:"model"`
	CreatedAt       string        `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	TotalDuration   int64         `json:"total_duration"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	EvalDuration    int64         `json:"eval_duration"`
}

var _ llm.Provider = (*Client)(nil)
