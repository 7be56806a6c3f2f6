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

// Package anthropic implements the provider contract over the Anthropic
// messages API.
package anthropic

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

const apiVersion = "2023-06-01"

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey      string        // Required
	BaseURL     string        // Default: https://api.anthropic.com
	Model       string        // Default: claude-sonnet-4-5
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 0.7
	Timeout     time.Duration // Default: 60s

	RateLimiter llm.RateLimiterConfig
}

// Client talks to the Anthropic messages API.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	rateLimiter *llm.RateLimiter
}

// NewClient creates an Anthropic client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
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
		limiter = llm.SharedRateLimiter("anthropic", cfg.RateLimiter)
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

func (c *Client) Name() string  { return "anthropic" }
func (c *Client) Model() string { return c.model }

func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Modalities:      []string{"text", "image"},
		MaxContextSize:  200_000,
		Streaming:       true,
		FunctionCalling: true,
		Vision:          true,
		CostTier:        llm.CostHigh,
	}
}

// IsAvailable checks that a key is configured and the API answers.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c.apiKey == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Generate sends a messages API request. System messages are lifted into the
// top-level system field per the API contract.
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

	var system string
	var messages []apiMessage
	for _, m := range req.AsMessages() {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		messages = append(messages, apiMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(messagesRequest{
		Model:         model,
		System:        system,
		Messages:      messages,
		MaxTokens:     maxTokens,
		Temperature:   temperature,
		TopP:          req.Options.TopP,
		StopSequences: req.Options.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &llm.ProviderError{
			Provider: "anthropic", Kind: llm.KindUnavailable,
			Msg: "backend unreachable", Err: err,
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

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	c.rateLimiter.RecordTokens(int64(resp.Usage.InputTokens + resp.Usage.OutputTokens))
	return &llm.Response{
		Content:    content.String(),
		StopReason: resp.StopReason,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Metadata: llm.Metadata{Model: resp.Model},
	}, nil
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
	return llm.NewProviderError("anthropic", kind, "%s", msg)
}

// Anthropic API types

type messagesRequest struct {
	Model         string       `json:"model"`
	System        string       `json:"system,omitempty"`
	Messages      []apiMessage `json:"messages"`
	MaxTokens     int          `json:"max_tokens"`
	Temperature   float64      `json:"temperature,omitempty"`
	TopP          float64      `json:"top_p,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

var _ llm.Provider = (*Client)(nil)
