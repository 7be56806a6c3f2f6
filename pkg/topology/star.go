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

package topology

import (
	"sync"
	"time"

	"github.com/hivekit/hive/pkg/types"
)

// DefaultStarLoadThreshold re-elects the coordinator when its load reaches
// this multiple of the spoke average.
const DefaultStarLoadThreshold = 5.0

// Star is the hub-and-spoke variant. All spoke traffic transits the
// coordinator, so the coordinator is always reported as a bottleneck.
type Star struct {
	mu            sync.RWMutex
	maxAgents     int
	loadThreshold float64
	coordinator   string
	agents        map[string]*types.Agent
	order         []string
}

// NewStar creates a star topology. A designated coordinator ID is
// mandatory.
func NewStar(cfg Config) (*Star, error) {
	if cfg.Coordinator == "" {
		return nil, types.NewError(types.CodeInvalidConfig,
			"star topology requires a coordinator")
	}
	threshold := cfg.LoadThreshold
	if threshold <= 0 {
		threshold = DefaultStarLoadThreshold
	}
	return &Star{
		maxAgents:     cfg.MaxAgents,
		loadThreshold: threshold,
		coordinator:   cfg.Coordinator,
		agents:        make(map[string]*types.Agent),
	}, nil
}

func (s *Star) Kind() Kind { return KindStar }

// Coordinator returns the current hub ID.
func (s *Star) Coordinator() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coordinator
}

func (s *Star) AddAgent(a *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxAgents > 0 && len(s.agents) >= s.maxAgents {
		return types.NewError(types.CodeCapacityExceeded,
			"topology is full (%d agents)", s.maxAgents)
	}
	if _, exists := s.agents[a.ID]; exists {
		return nil
	}
	s.agents[a.ID] = a
	s.order = append(s.order, a.ID)
	return nil
}

// RemoveAgent detaches the agent. Removing the coordinator elects the
// first remaining agent by insertion order.
func (s *Star) RemoveAgent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return
	}
	delete(s.agents, id)
	s.order = removeID(s.order, id)
	if id == s.coordinator {
		s.coordinator = ""
		if len(s.order) > 0 {
			s.coordinator = s.order[0]
		}
	}
}

// Neighbors: the coordinator sees all spokes; a spoke sees only the
// coordinator.
func (s *Star) Neighbors(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.agents[id]; !ok {
		return nil
	}
	if id == s.coordinator {
		var out []string
		for _, other := range s.order {
			if other != id {
				out = append(out, other)
			}
		}
		return out
	}
	if _, ok := s.agents[s.coordinator]; ok {
		return []string{s.coordinator}
	}
	return nil
}

// RouteMessage routes through the hub: spoke-to-spoke is two hops, any leg
// touching the coordinator is one.
func (s *Star) RouteMessage(m *types.Message) (*Path, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.agents[m.From]; !ok {
		return nil, types.NewError(types.CodeNotFound, "unknown sender %s", m.From)
	}
	if m.IsBroadcast() {
		return s.broadcastLocked(m.From), nil
	}
	if _, ok := s.agents[m.To]; !ok {
		return nil, types.NewError(types.CodeNotFound, "unknown recipient %s", m.To)
	}

	var hops []string
	if m.From == s.coordinator || m.To == s.coordinator {
		hops = []string{m.From, m.To}
	} else {
		hops = []string{m.From, s.coordinator, m.To}
	}
	hopCount := len(hops) - 1
	return &Path{
		From:     m.From,
		To:       m.To,
		Hops:     hops,
		HopCount: hopCount,
		Latency:  time.Duration(hopCount) * hopLatency,
	}, nil
}

func (s *Star) broadcastLocked(from string) *Path {
	hops := []string{from}
	hopCount := 1
	if from != s.coordinator {
		// Spoke broadcasts transit the hub first.
		hops = append(hops, s.coordinator)
		hopCount = 2
	}
	for _, id := range s.order {
		if id != from && id != s.coordinator {
			hops = append(hops, id)
		}
	}
	return &Path{
		From:     from,
		To:       BroadcastTo,
		Hops:     hops,
		HopCount: hopCount,
		Latency:  time.Duration(hopCount) * hopLatency,
	}
}

// RouteTask prefers idle spokes, falling back to the coordinator.
func (s *Star) RouteTask(t *types.Task) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pick := func(candidates []*types.Agent) string {
		var best *types.Agent
		bestLoad := 0
		for _, a := range candidates {
			load := a.Load()
			if best == nil || load < bestLoad {
				best = a
				bestLoad = load
			}
		}
		if best == nil {
			return ""
		}
		return best.ID
	}

	var typed, idle []*types.Agent
	for _, id := range s.order {
		if id == s.coordinator {
			continue
		}
		a := s.agents[id]
		if a.GetStatus() != types.AgentIdle || !a.HasCapacity() {
			continue
		}
		if string(a.Type) == t.Type {
			typed = append(typed, a)
		}
		idle = append(idle, a)
	}
	if id := pick(typed); id != "" {
		return id, nil
	}
	if id := pick(idle); id != "" {
		return id, nil
	}
	if hub, ok := s.agents[s.coordinator]; ok && hub.HasCapacity() &&
		hub.GetStatus() != types.AgentError && hub.GetStatus() != types.AgentTerminated {
		return hub.ID, nil
	}
	return "", types.NewError(types.CodeNoWorkersAvailable, "no agent can accept task %s", t.ID)
}

// CalculateMetrics: coordinator legs are one hop, spoke-to-spoke two. The
// coordinator is always reported as a bottleneck.
func (s *Star) CalculateMetrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]*types.Agent, 0, len(s.order))
	loads := make([]int, 0, len(s.order))
	for _, id := range s.order {
		agents = append(agents, s.agents[id])
		loads = append(loads, s.agents[id].Load())
	}
	m := Metrics{Efficiency: 1, MessageLatency: hopLatency, LoadBalance: loadBalanceOf(loads), Connectivity: 1}
	m.Bottlenecks = bottlenecksOf(agents)
	if _, ok := s.agents[s.coordinator]; ok && !containsString(m.Bottlenecks, s.coordinator) {
		m.Bottlenecks = append(m.Bottlenecks, s.coordinator)
	}

	n := len(s.order)
	if n < 2 {
		return m
	}
	spokes := n - 1
	// Coordinator↔spoke pairs at 1 hop, spoke↔spoke pairs at 2.
	coordPairs := float64(spokes)
	spokePairs := float64(spokes*(spokes-1)) / 2
	avg := (coordPairs + 2*spokePairs) / (coordPairs + spokePairs)
	m.Efficiency = 1 / avg
	m.MessageLatency = time.Duration(avg * float64(hopLatency))
	return m
}

// Validate requires the coordinator to be a present agent.
func (s *Star) Validate() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[s.coordinator]
	return ok
}

// Reorganize re-elects the coordinator when its load reaches the
// threshold multiple of the spoke average and a lower-loaded candidate
// exists.
func (s *Star) Reorganize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	hub, ok := s.agents[s.coordinator]
	if !ok || len(s.order) < 2 {
		return
	}
	hubLoad := hub.Load()
	var spokeTotal, spokes int
	for _, id := range s.order {
		if id == s.coordinator {
			continue
		}
		spokeTotal += s.agents[id].Load()
		spokes++
	}
	avg := float64(spokeTotal) / float64(spokes)
	if float64(hubLoad) < s.loadThreshold*avg {
		return
	}

	var candidate *types.Agent
	for _, id := range s.order {
		if id == s.coordinator {
			continue
		}
		a := s.agents[id]
		if a.Load() >= hubLoad {
			continue
		}
		if candidate == nil || a.Load() < candidate.Load() {
			candidate = a
		}
	}
	if candidate != nil {
		s.coordinator = candidate.ID
	}
}

func (s *Star) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{
		Kind:        KindStar,
		AgentIDs:    append([]string(nil), s.order...),
		Coordinator: s.coordinator,
	}
}

func (s *Star) Restore(snap *Snapshot, agents map[string]*types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = make(map[string]*types.Agent, len(snap.AgentIDs))
	s.order = nil
	for _, id := range snap.AgentIDs {
		if a, ok := agents[id]; ok {
			s.agents[id] = a
			s.order = append(s.order, id)
		}
	}
	if snap.Coordinator != "" {
		s.coordinator = snap.Coordinator
	}
	if _, ok := s.agents[s.coordinator]; !ok && len(s.order) > 0 {
		s.coordinator = s.order[0]
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var _ Topology = (*Star)(nil)
