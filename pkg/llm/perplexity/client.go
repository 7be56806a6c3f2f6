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

// Package perplexity implements the provider contract over Perplexity's
// OpenAI-compatible chat completions API.
package perplexity

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
	"github.com/hivekit/hive/pkg/llm/openai"
)

// Config holds configuration for the Perplexity client.
type Config struct {
	APIKey      string        // Required
	BaseURL     string        // Default: https://api.perplexity.ai
	Model       string        // Default: sonar
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 0.7
	Timeout     time.Duration // Default: 60s

	RateLimiter llm.RateLimiterConfig
}

// Client talks to Perplexity. The wire format is OpenAI-compatible; the
// differences are the base URL, model names, and no probe-friendly models
// endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	rateLimiter *llm.RateLimiter
}

// NewClient creates a Perplexity client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "sonar"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	var limiter *llm.RateLimiter
	if cfg.RateLimiter.Enabled {
		limiter = llm.SharedRateLimiter("perplexity", cfg.RateLimiter)
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		rateLimiter: limiter,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string  { return "perplexity" }
func (c *Client) Model() string { return c.model }

func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Modalities:     []string{"text"},
		MaxContextSize: 127_000,
		Streaming:      true,
		CostTier:       llm.CostLow,
	}
}

// IsAvailable checks that a key is configured and the host resolves.
// Perplexity has no cheap unauthenticated health endpoint, so we probe with
// a HEAD request and accept any response from the server.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c.apiKey == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, c.baseURL+"/chat/completions", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return true
}

// Generate sends a chat completion request.
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
	maxTokens := c.maxTokens
	if req.Options.MaxTokens > 0 {
		maxTokens = req.Options.MaxTokens
	}
	temperature := c.temperature
	if req.Options.Temperature > 0 {
		temperature = req.Options.Temperature
	}

	messages := make([]apiMessage, 0, len(req.AsMessages()))
	for _, m := range req.AsMessages() {
		messages = append(messages, apiMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        req.Options.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &llm.ProviderError{
			Provider: "perplexity", Kind: llm.KindUnavailable,
			Msg: "backend unreachable", Err: err,
		}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, openai.ClassifyStatus("perplexity", httpResp.StatusCode, respBody)
	}

	var resp completionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewProviderError("perplexity", llm.KindGeneric, "response carried no choices")
	}

	c.rateLimiter.RecordTokens(int64(resp.Usage.TotalTokens))
	choice := resp.Choices[0]
	out := &llm.Response{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Metadata: llm.Metadata{Model: resp.Model},
	}
	if len(resp.Citations) > 0 {
		out.Extra = map[string]any{"citations": resp.Citations}
	}
	return out, nil
}

// Perplexity API types (OpenAI-compatible plus citations).

type completionRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	TopP        float64      `json:"top_p,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	ID        string   `json:"id"`
	Model     string   `json:"model"`
	Citations []string `json:"citations,omitempty"`
	Choices   []choice `json:"choices"`
	Usage     usage    `json:"usage"`
}

type choice struct {
	Index        int        `json:"index"`
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

var _ llm.Provider = (*Client)(nil)
