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

// numLayers is the conventional layer count: architects → reviewers →
// implementers.
const numLayers = 3

// layerOf maps an agent type to its layer.
func layerOf(typ types.AgentType) int {
	switch typ {
	case types.AgentArchitect:
		return 0
	case types.AgentReview:
		return 1
	default:
		return 2
	}
}

// Hierarchical partitions agents into ordered layers with intra-layer peer
// edges and edges to adjacent layers. The coordinator is the first agent of
// the top layer.
type Hierarchical struct {
	mu        sync.RWMutex
	maxAgents int
	agents    map[string]*types.Agent
	order     []string
	layers    [numLayers][]string
}

// NewHierarchical creates an empty hierarchical topology.
func NewHierarchical(cfg Config) *Hierarchical {
	return &Hierarchical{
		maxAgents: cfg.MaxAgents,
		agents:    make(map[string]*types.Agent),
	}
}

func (h *Hierarchical) Kind() Kind { return KindHierarchical }

// AddAgent places the agent into the layer matching its type.
func (h *Hierarchical) AddAgent(a *types.Agent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxAgents > 0 && len(h.agents) >= h.maxAgents {
		return types.NewError(types.CodeCapacityExceeded,
			"topology is full (%d agents)", h.maxAgents)
	}
	if _, exists := h.agents[a.ID]; exists {
		return nil
	}
	h.agents[a.ID] = a
	h.order = append(h.order, a.ID)
	layer := layerOf(a.Type)
	h.layers[layer] = append(h.layers[layer], a.ID)
	return nil
}

// RemoveAgent detaches the agent; removing the top layer's first agent
// implicitly promotes the next one to coordinator.
func (h *Hierarchical) RemoveAgent(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.agents[id]
	if !ok {
		return
	}
	delete(h.agents, id)
	h.order = removeID(h.order, id)
	layer := layerOf(a.Type)
	h.layers[layer] = removeID(h.layers[layer], id)
}

// Coordinator returns the first agent of the top layer, or "".
func (h *Hierarchical) Coordinator() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.layers[0]) == 0 {
		return ""
	}
	return h.layers[0][0]
}

// Neighbors returns layer peers plus every agent in the adjacent layers.
func (h *Hierarchical) Neighbors(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.agents[id]
	if !ok {
		return nil
	}
	layer := layerOf(a.Type)
	var out []string
	for l := layer - 1; l <= layer+1; l++ {
		if l < 0 || l >= numLayers {
			continue
		}
		for _, other := range h.layers[l] {
			if other != id {
				out = append(out, other)
			}
		}
	}
	return out
}

// RouteMessage routes within or across layers. Non-adjacent layers are
// bridged through the first agent of each intervening layer.
func (h *Hierarchical) RouteMessage(m *types.Message) (*Path, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	from, ok := h.agents[m.From]
	if !ok {
		return nil, types.NewError(types.CodeNotFound, "unknown sender %s", m.From)
	}
	if m.IsBroadcast() {
		return h.broadcastLocked(from), nil
	}
	to, ok := h.agents[m.To]
	if !ok {
		return nil, types.NewError(types.CodeNotFound, "unknown recipient %s", m.To)
	}

	lf, lt := layerOf(from.Type), layerOf(to.Type)
	hops := []string{m.From}
	step := 1
	if lt < lf {
		step = -1
	}
	// Bridge each intervening layer through its first agent.
	for l := lf + step; l != lt; l += step {
		if len(h.layers[l]) == 0 {
			return nil, types.NewError(types.CodeNotFound,
				"no route from %s to %s: layer %d is empty", m.From, m.To, l)
		}
		hops = append(hops, h.layers[l][0])
	}
	hops = append(hops, m.To)

	hopCount := len(hops) - 1
	return &Path{
		From:     m.From,
		To:       m.To,
		Hops:     hops,
		HopCount: hopCount,
		Latency:  time.Duration(hopCount) * hopLatency,
	}, nil
}

// broadcastLocked fans out to every other agent. Hop count is the layer
// distance to the farthest receiver.
func (h *Hierarchical) broadcastLocked(from *types.Agent) *Path {
	hops := []string{from.ID}
	maxDist := 0
	lf := layerOf(from.Type)
	for _, id := range h.order {
		if id == from.ID {
			continue
		}
		hops = append(hops, id)
		if d := abs(layerOf(h.agents[id].Type) - lf); d > maxDist {
			maxDist = d
		}
	}
	if maxDist == 0 {
		maxDist = 1
	}
	return &Path{
		From:     from.ID,
		To:       BroadcastTo,
		Hops:     hops,
		HopCount: maxDist,
		Latency:  time.Duration(maxDist) * hopLatency,
	}
}

// RouteTask applies the common selection over insertion order.
func (h *Hierarchical) RouteTask(t *types.Task) (string, error) {
	h.mu.RLock()
	agents := h.agentsInOrderLocked()
	h.mu.RUnlock()
	return routeTaskCommon(agents, t)
}

func (h *Hierarchical) agentsInOrderLocked() []*types.Agent {
	out := make([]*types.Agent, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.agents[id])
	}
	return out
}

// CalculateMetrics derives efficiency and latency from the average
// layer-distance path length.
func (h *Hierarchical) CalculateMetrics() Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	agents := h.agentsInOrderLocked()
	n := len(agents)
	m := Metrics{Efficiency: 1, LoadBalance: 1, Connectivity: 1, MessageLatency: hopLatency}
	if n == 0 {
		return m
	}

	loads := make([]int, n)
	for i, a := range agents {
		loads[i] = a.Load()
	}
	m.LoadBalance = loadBalanceOf(loads)
	m.Bottlenecks = bottlenecksOf(agents)

	if n < 2 {
		return m
	}
	var totalDist float64
	var connected, pairs int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs++
			d, ok := h.layerDistanceLocked(agents[i], agents[j])
			if !ok {
				continue
			}
			connected++
			totalDist += float64(d)
		}
	}
	m.Connectivity = float64(connected) / float64(pairs)
	if connected > 0 {
		avg := totalDist / float64(connected)
		m.Efficiency = 1 / avg
		m.MessageLatency = time.Duration(avg * float64(hopLatency))
	}
	return m
}

// layerDistanceLocked is the hop count between two agents, or false when
// an intervening layer is empty.
func (h *Hierarchical) layerDistanceLocked(a, b *types.Agent) (int, bool) {
	la, lb := layerOf(a.Type), layerOf(b.Type)
	if la > lb {
		la, lb = lb, la
	}
	for l := la + 1; l < lb; l++ {
		if len(h.layers[l]) == 0 {
			return 0, false
		}
	}
	d := lb - la
	if d == 0 {
		d = 1
	}
	return d, true
}

// Validate requires a non-empty top layer and full connectivity.
func (h *Hierarchical) Validate() bool {
	h.mu.RLock()
	topEmpty := len(h.layers[0]) == 0
	h.mu.RUnlock()
	if topEmpty {
		return false
	}
	return h.CalculateMetrics().Connectivity == 1
}

// Reorganize is a no-op for the hierarchical variant: layer membership is
// type-derived and the coordinator re-elects implicitly on removal.
func (h *Hierarchical) Reorganize() {}

// Snapshot captures layer assignment and insertion order.
func (h *Hierarchical) Snapshot() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap := &Snapshot{
		Kind:     KindHierarchical,
		AgentIDs: append([]string(nil), h.order...),
	}
	for _, layer := range h.layers {
		snap.Layers = append(snap.Layers, append([]string(nil), layer...))
	}
	if len(h.layers[0]) > 0 {
		snap.Coordinator = h.layers[0][0]
	}
	return snap
}

// Restore rebuilds the graph from a snapshot. Unknown agent IDs are
// skipped.
func (h *Hierarchical) Restore(snap *Snapshot, agents map[string]*types.Agent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.agents = make(map[string]*types.Agent, len(snap.AgentIDs))
	h.order = nil
	for i := range h.layers {
		h.layers[i] = nil
	}
	for _, id := range snap.AgentIDs {
		a, ok := agents[id]
		if !ok {
			continue
		}
		h.agents[id] = a
		h.order = append(h.order, id)
		layer := layerOf(a.Type)
		h.layers[layer] = append(h.layers[layer], id)
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var _ Topology = (*Hierarchical)(nil)
