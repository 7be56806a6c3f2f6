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
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivekit/hive/pkg/observability"
	"github.com/hivekit/hive/pkg/types"
)

// CostMode biases tie-breaking between equally-matching healthy providers.
type CostMode string

const (
	// ModeCost prefers the cheapest cost tier.
	ModeCost CostMode = "cost"

	// ModeSpeed prefers the provider with the lowest observed latency.
	ModeSpeed CostMode = "speed"

	// ModeQuality prefers the highest cost tier.
	ModeQuality CostMode = "quality"
)

// costRank orders tiers cheap-to-expensive for mode tie-breaking.
func costRank(t CostTier) int {
	switch t {
	case CostFree:
		return 0
	case CostLow:
		return 1
	case CostMedium:
		return 2
	case CostHigh:
		return 3
	default:
		return 2
	}
}

// Selection is the outcome of provider selection.
type Selection struct {
	Provider Provider
	Reason   string
}

// RouterConfig configures a Router. Zero values get defaults.
type RouterConfig struct {
	// DefaultProvider is used when no rule matches. Required.
	DefaultProvider string

	// Fallbacks is the ordered fallback chain, walked after the default.
	Fallbacks []string

	// Rules is the initial rule set; may be swapped later via SetRules.
	Rules []RoutingRule

	// Mode biases tie-breaking. Default: cost.
	Mode CostMode

	// HealthTTL overrides the health cache TTL. Default: 5 minutes.
	HealthTTL time.Duration

	Logger *zap.Logger
	Tracer observability.Tracer
}

// Router maps requests to providers via priority-ordered rules, with a
// health-cached fallback chain behind the selection.
//
// Thread-safe: providers and rules are guarded by mu; health has its own
// lock. Generate holds no Router lock while a backend call is in flight.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string // registration order, used as the last tie-breaker
	rules     []RoutingRule

	defaultProvider string
	fallbacks       []string
	mode            CostMode

	health *healthCache

	// latency tracks an exponential moving average per provider, feeding
	// the speed mode tie-breaker.
	latencyMu sync.Mutex
	latency   map[string]float64

	logger *zap.Logger
	tracer observability.Tracer
}

// NewRouter creates a router. At least the default provider must be
// registered before the first Select.
func NewRouter(config RouterConfig) (*Router, error) {
	if config.DefaultProvider == "" {
		return nil, types.NewError(types.CodeInvalidConfig, "router requires a default provider")
	}
	if config.Mode == "" {
		config.Mode = ModeCost
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Tracer == nil {
		config.Tracer = observability.NewNoOpTracer()
	}
	r := &Router{
		providers:       make(map[string]Provider),
		defaultProvider: config.DefaultProvider,
		fallbacks:       config.Fallbacks,
		mode:            config.Mode,
		health:          newHealthCache(config.HealthTTL),
		latency:         make(map[string]float64),
		logger:          config.Logger,
		tracer:          config.Tracer,
	}
	r.SetRules(config.Rules)
	return r, nil
}

// RegisterProvider adds a backend under its Name(). Re-registering a name
// replaces the provider and resets its health entry.
func (r *Router) RegisterProvider(p Provider) {
	name := p.Name()
	r.mu.Lock()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
	r.mu.Unlock()
	r.health.invalidate(name)
	r.logger.Info("provider registered",
		zap.String("provider", name), zap.String("model", p.Model()))
}

// Provider returns a registered provider by name.
func (r *Router) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// SetRules replaces the active rule set. Rules are kept sorted by
// descending priority; ties keep the given order.
func (r *Router) SetRules(rules []RoutingRule) {
	sorted := make([]RoutingRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	r.mu.Lock()
	r.rules = sorted
	r.mu.Unlock()
}

// Rules returns a copy of the active rule set in evaluation order.
func (r *Router) Rules() []RoutingRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoutingRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// InvalidateHealth drops the cached health entry for a provider.
func (r *Router) InvalidateHealth(name string) { r.health.invalidate(name) }

// Select picks a provider for the request.
//
// Rules are evaluated in descending priority; the first matching rule whose
// provider is healthy wins. Equal-priority matches are tie-broken by the
// router's cost mode. With no matching rule the default provider is used,
// and when the choice is unhealthy the fallback chain is walked with a
// "Fallback from X to Y" reason. No healthy provider yields LLM_UNAVAILABLE.
func (r *Router) Select(ctx context.Context, req *Request) (Selection, error) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanLLMSelect)
	defer r.tracer.EndSpan(span)

	tc := Estimate(req)
	span.SetAttribute("task.type", string(tc.TaskType))
	span.SetAttribute("task.complexity", string(tc.Complexity))
	span.SetAttribute("task.contextSize", tc.ContextSize)

	if sel, ok := r.selectByRules(ctx, tc); ok {
		span.SetAttribute("provider", sel.Provider.Name())
		span.SetAttribute("reason", sel.Reason)
		return sel, nil
	}

	// No rule matched (or every matching rule's provider was down): the
	// default provider, then the declared fallback chain.
	wanted := r.defaultProvider
	reason := "default provider"
	for _, name := range r.chainFrom(wanted) {
		p, ok := r.Provider(name)
		if !ok {
			continue
		}
		if r.health.isHealthy(ctx, p) {
			if name != wanted {
				reason = fmt.Sprintf("Fallback from %s to %s", wanted, name)
			}
			span.SetAttribute("provider", name)
			span.SetAttribute("reason", reason)
			return Selection{Provider: p, Reason: reason}, nil
		}
		r.logger.Debug("provider unhealthy, trying next",
			zap.String("provider", name))
	}

	err := types.NewError(types.CodeLLMUnavailable, "no healthy provider available")
	span.RecordError(err)
	return Selection{}, err
}

// selectByRules evaluates the rule set and returns the winning selection.
func (r *Router) selectByRules(ctx context.Context, tc TaskCharacteristics) (Selection, bool) {
	rules := r.Rules()
	for i := 0; i < len(rules); {
		// Gather the equal-priority band starting at i.
		j := i
		for j < len(rules) && rules[j].Priority == rules[i].Priority {
			j++
		}

		var candidates []RoutingRule
		for _, rule := range rules[i:j] {
			if !rule.Condition.Matches(tc) {
				continue
			}
			p, ok := r.Provider(rule.Provider)
			if !ok {
				r.logger.Warn("rule targets unregistered provider",
					zap.String("rule", rule.Name), zap.String("provider", rule.Provider))
				continue
			}
			if !r.health.isHealthy(ctx, p) {
				continue
			}
			candidates = append(candidates, rule)
		}
		if len(candidates) > 0 {
			rule := r.tieBreak(candidates)
			p, _ := r.Provider(rule.Provider)
			reason := rule.Reason
			if reason == "" {
				reason = fmt.Sprintf("rule %s", rule.Name)
			}
			return Selection{Provider: p, Reason: reason}, true
		}
		i = j
	}
	return Selection{}, false
}

// tieBreak picks among equal-priority matching rules per the cost mode.
func (r *Router) tieBreak(candidates []RoutingRule) RoutingRule {
	if len(candidates) == 1 {
		return candidates[0]
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if r.better(c, best) {
			best = c
		}
	}
	return best
}

func (r *Router) better(a, b RoutingRule) bool {
	pa, _ := r.Provider(a.Provider)
	pb, _ := r.Provider(b.Provider)
	switch r.mode {
	case ModeSpeed:
		return r.avgLatency(a.Provider) < r.avgLatency(b.Provider)
	case ModeQuality:
		return costRank(pa.Capabilities().CostTier) > costRank(pb.Capabilities().CostTier)
	default: // cost
		return costRank(pa.Capabilities().CostTier) < costRank(pb.Capabilities().CostTier)
	}
}

// chainFrom returns the attempt order rooted at a first choice: the choice
// itself, the default, then the fallback list, deduplicated.
func (r *Router) chainFrom(first string) []string {
	seen := map[string]bool{}
	chain := make([]string, 0, 2+len(r.fallbacks))
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		chain = append(chain, name)
	}
	add(first)
	add(r.defaultProvider)
	for _, name := range r.fallbacks {
		add(name)
	}
	return chain
}

// Generate selects a provider and runs the request, advancing down the
// fallback chain on failure.
//
// Authentication failures are never retried against the same provider.
// Rate-limited providers are cooled down for the rate-limit window before
// the chain advances. When every provider fails, ALL_PROVIDERS_FAILED is
// returned wrapping the last error.
func (r *Router) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanLLMGenerate)
	defer r.tracer.EndSpan(span)

	sel, err := r.Select(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var lastErr error
	first := sel.Provider.Name()
	for _, name := range r.chainFrom(first) {
		p, ok := r.Provider(name)
		if !ok {
			continue
		}
		reason := sel.Reason
		if name != first {
			reason = fmt.Sprintf("Fallback from %s to %s", first, name)
			if !r.health.isHealthy(ctx, p) {
				continue
			}
		}

		resp, err := r.generateOnce(ctx, p, req, reason)
		if err == nil {
			span.SetAttribute("provider", name)
			return resp, nil
		}
		lastErr = err

		switch {
		case IsAuth(err):
			r.health.markUnhealthy(name)
			r.logger.Error("provider rejected credentials",
				zap.String("provider", name), zap.Error(err))
		case isThrottlingError(err):
			r.health.coolDown(name, rateLimitCooldown)
			r.logger.Warn("provider rate limited, cooling down",
				zap.String("provider", name),
				zap.Duration("cooldown", rateLimitCooldown))
		case IsUnavailable(err):
			r.health.markUnhealthy(name)
			r.logger.Warn("provider unavailable",
				zap.String("provider", name), zap.Error(err))
		default:
			r.logger.Warn("provider generation failed",
				zap.String("provider", name), zap.Error(err))
		}
	}

	err = types.WrapError(types.CodeAllProvidersFailed, lastErr, "all providers failed")
	span.RecordError(err)
	return nil, err
}

// generateOnce runs a single provider call under the request timeout and
// stamps response metadata.
func (r *Router) generateOnce(ctx context.Context, p Provider, req *Request, reason string) (*Response, error) {
	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.Generate(callCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	resp.Metadata.Provider = p.Name()
	if resp.Metadata.Model == "" {
		resp.Metadata.Model = p.Model()
	}
	resp.Metadata.SelectionReason = reason
	resp.Metadata.LatencyMs = elapsed.Milliseconds()

	r.recordLatency(p.Name(), elapsed)
	r.tracer.RecordMetric("llm.latency_ms", float64(elapsed.Milliseconds()),
		map[string]string{"provider": p.Name()})
	r.tracer.RecordMetric("llm.tokens_total", float64(resp.Usage.TotalTokens),
		map[string]string{"provider": p.Name()})
	return resp, nil
}

// recordLatency folds a sample into the per-provider moving average.
func (r *Router) recordLatency(name string, d time.Duration) {
	const alpha = 0.2
	ms := float64(d.Milliseconds())
	r.latencyMu.Lock()
	defer r.latencyMu.Unlock()
	if prev, ok := r.latency[name]; ok {
		r.latency[name] = prev*(1-alpha) + ms*alpha
	} else {
		r.latency[name] = ms
	}
}

func (r *Router) avgLatency(name string) float64 {
	r.latencyMu.Lock()
	defer r.latencyMu.Unlock()
	if ms, ok := r.latency[name]; ok {
		return ms
	}
	// Unmeasured providers sort last under speed mode.
	return float64(DefaultTimeout.Milliseconds())
}
