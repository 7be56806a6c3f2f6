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

// Package llmtest provides a scripted in-memory provider for router and
// session tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/hivekit/hive/pkg/llm"
)

// Provider is a scripted llm.Provider. Zero value is unusable; use New.
//
// Responses play in order and the last one repeats. Errors set via FailWith
// take precedence over responses.
type Provider struct {
	name  string
	model string
	caps  llm.Capabilities

	mu        sync.Mutex
	available bool
	responses []string
	err       error
	calls     int
	probes    int
	requests  []*llm.Request
}

// New creates a scripted provider that is available and answers "ok".
func New(name string) *Provider {
	return &Provider{
		name:      name,
		model:     name + "-test-model",
		available: true,
		responses: []string{"ok"},
		caps: llm.Capabilities{
			Modalities:     []string{"text"},
			MaxContextSize: 8192,
			CostTier:       llm.CostFree,
		},
	}
}

// WithCostTier sets the advertised cost tier.
func (p *Provider) WithCostTier(t llm.CostTier) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caps.CostTier = t
	return p
}

// WithResponses scripts the contents returned by successive calls.
func (p *Provider) WithResponses(contents ...string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = contents
	return p
}

// SetAvailable flips the health probe result.
func (p *Provider) SetAvailable(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = ok
}

// FailWith makes every Generate call return err until cleared with nil.
func (p *Provider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls reports how many Generate calls were made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Probes reports how many IsAvailable calls were made.
func (p *Provider) Probes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

// LastRequest returns the most recent Generate request, or nil.
func (p *Provider) LastRequest() *llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

func (p *Provider) Name() string                   { return p.name }
func (p *Provider) Model() string                  { return p.model }
func (p *Provider) Capabilities() llm.Capabilities { return p.caps }

func (p *Provider) IsAvailable(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	return p.available
}

func (p *Provider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	call := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	err := p.err
	var content string
	if len(p.responses) > 0 {
		idx := call
		if idx >= len(p.responses) {
			idx = len(p.responses) - 1
		}
		content = p.responses[idx]
	}
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	in := llm.EstimateTokens(req.PromptText())
	out := llm.EstimateTokens(content)
	return &llm.Response{
		Content: content,
		Usage:   llm.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
		Metadata: llm.Metadata{
			Model: p.model,
		},
	}, nil
}

var _ llm.Provider = (*Provider)(nil)
