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

	"github.com/hivekit/hive/pkg/types"
)

// Mesh is the complete-graph variant: every agent is a neighbor of every
// other, all routes are one hop. A side counter of tasks distributed per
// agent breaks RouteTask ties.
type Mesh struct {
	mu          sync.RWMutex
	maxAgents   int
	agents      map[string]*types.Agent
	order       []string
	distributed map[string]int
}

// NewMesh creates an empty mesh topology.
func NewMesh(cfg Config) *Mesh {
	return &Mesh{
		maxAgents:   cfg.MaxAgents,
		agents:      make(map[string]*types.Agent),
		distributed: make(map[string]int),
	}
}

func (m *Mesh) Kind() Kind { return KindMesh }

func (m *Mesh) AddAgent(a *types.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxAgents > 0 && len(m.agents) >= m.maxAgents {
		return types.NewError(types.CodeCapacityExceeded,
			"topology is full (%d agents)", m.maxAgents)
	}
	if _, exists := m.agents[a.ID]; exists {
		return nil
	}
	m.agents[a.ID] = a
	m.order = append(m.order, a.ID)
	return nil
}

func (m *Mesh) RemoveAgent(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[id]; !ok {
		return
	}
	delete(m.agents, id)
	delete(m.distributed, id)
	m.order = removeID(m.order, id)
}

// Neighbors is every other agent.
func (m *Mesh) Neighbors(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.agents[id]; !ok {
		return nil
	}
	var out []string
	for _, other := range m.order {
		if other != id {
			out = append(out, other)
		}
	}
	return out
}

// RouteMessage is always one hop.
func (m *Mesh) RouteMessage(msg *types.Message) (*Path, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.agents[msg.From]; !ok {
		return nil, types.NewError(types.CodeNotFound, "unknown sender %s", msg.From)
	}
	if msg.IsBroadcast() {
		hops := []string{msg.From}
		for _, id := range m.order {
			if id != msg.From {
				hops = append(hops, id)
			}
		}
		return &Path{From: msg.From, To: BroadcastTo, Hops: hops, HopCount: 1, Latency: hopLatency}, nil
	}
	if _, ok := m.agents[msg.To]; !ok {
		return nil, types.NewError(types.CodeNotFound, "unknown recipient %s", msg.To)
	}
	return &Path{
		From:     msg.From,
		To:       msg.To,
		Hops:     []string{msg.From, msg.To},
		HopCount: 1,
		Latency:  hopLatency,
	}, nil
}

// RouteTask selects per the common contract, breaking ties by fewest tasks
// distributed so the mesh spreads work evenly over time.
func (m *Mesh) RouteTask(t *types.Task) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pick := func(candidates []*types.Agent) string {
		var best *types.Agent
		for _, a := range candidates {
			if best == nil {
				best = a
				continue
			}
			if m.distributed[a.ID] < m.distributed[best.ID] {
				best = a
				continue
			}
			if m.distributed[a.ID] == m.distributed[best.ID] && a.Load() < best.Load() {
				best = a
			}
		}
		if best == nil {
			return ""
		}
		return best.ID
	}

	var typed, idle []*types.Agent
	for _, id := range m.order {
		a := m.agents[id]
		status := a.GetStatus()
		if status == types.AgentError || status == types.AgentTerminated || !a.HasCapacity() {
			continue
		}
		if string(a.Type) == t.Type {
			typed = append(typed, a)
		}
		if status == types.AgentIdle {
			idle = append(idle, a)
		}
	}
	id := pick(typed)
	if id == "" {
		id = pick(idle)
	}
	if id == "" {
		return "", types.NewError(types.CodeNoWorkersAvailable, "no agent can accept task %s", t.ID)
	}
	m.distributed[id]++
	return id, nil
}

// CalculateMetrics: one-hop everything.
func (m *Mesh) CalculateMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agents := make([]*types.Agent, 0, len(m.order))
	loads := make([]int, 0, len(m.order))
	for _, id := range m.order {
		agents = append(agents, m.agents[id])
		loads = append(loads, m.agents[id].Load())
	}
	return Metrics{
		Efficiency:     1,
		MessageLatency: hopLatency,
		LoadBalance:    loadBalanceOf(loads),
		Connectivity:   1,
		Bottlenecks:    bottlenecksOf(agents),
	}
}

// Validate always holds: a complete graph has no structural invariants.
func (m *Mesh) Validate() bool { return true }

// Reorganize resets the task-distribution counters.
func (m *Mesh) Reorganize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.distributed = make(map[string]int)
}

func (m *Mesh) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Snapshot{Kind: KindMesh, AgentIDs: append([]string(nil), m.order...)}
}

func (m *Mesh) Restore(snap *Snapshot, agents map[string]*types.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents = make(map[string]*types.Agent, len(snap.AgentIDs))
	m.order = nil
	m.distributed = make(map[string]int)
	for _, id := range snap.AgentIDs {
		if a, ok := agents[id]; ok {
			m.agents[id] = a
			m.order = append(m.order, id)
		}
	}
	return nil
}

var _ Topology = (*Mesh)(nil)
