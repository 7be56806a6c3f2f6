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

// Package topology arranges a session's agents into a communication graph
// and answers routing and neighbor queries over it. Three variants:
// hierarchical (layered), mesh (complete graph), and star (hub and spokes).
//
// Topologies reference agent records owned by the session; they never
// mutate agent state except through task assignment in RouteTask callers.
package topology

import (
	"math"
	"time"

	"github.com/hivekit/hive/pkg/types"
)

// Kind identifies a topology variant. The set is closed.
type Kind string

const (
	KindHierarchical Kind = "hierarchical"
	KindMesh         Kind = "mesh"
	KindStar         Kind = "star"
)

// hopLatency is the abstract per-hop latency unit used by metrics and
// route estimates.
const hopLatency = 10 * time.Millisecond

// BroadcastTo is the literal To value of a broadcast path.
const BroadcastTo = "broadcast"

// Path is a computed message route. Hops includes both endpoints; HopCount
// counts edges.
type Path struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Hops     []string      `json:"hops"`
	HopCount int           `json:"hopCount"`
	Latency  time.Duration `json:"latency"`
}

// Metrics summarizes the health of a topology.
type Metrics struct {
	Efficiency     float64       `json:"efficiency"`     // 1 / avg path length
	MessageLatency time.Duration `json:"messageLatency"` // hopLatency × avg path length
	LoadBalance    float64       `json:"loadBalance"`    // 1 − variance/maxVariance
	Connectivity   float64       `json:"connectivity"`   // reachable pair fraction
	Bottlenecks    []string      `json:"bottlenecks"`
}

// Snapshot captures a topology's shape for checkpointing: agent IDs in
// insertion order plus variant-specific assignment. Agent records are
// checkpointed by the session, not here.
type Snapshot struct {
	Kind        Kind       `json:"kind"`
	AgentIDs    []string   `json:"agentIds"`
	Coordinator string     `json:"coordinator,omitempty"`
	Layers      [][]string `json:"layers,omitempty"`
}

// Topology is the common contract of every variant.
//
// Implementations are safe for concurrent use.
type Topology interface {
	Kind() Kind

	// AddAgent places the agent into the graph.
	// Fails with CAPACITY_EXCEEDED when the topology is full.
	AddAgent(a *types.Agent) error

	// RemoveAgent detaches the agent. Removing an unknown ID is a no-op.
	RemoveAgent(id string)

	// Neighbors returns the IDs directly connected to id; empty for
	// unknown agents.
	Neighbors(id string) []string

	// RouteMessage computes the delivery path for a message. An empty
	// m.To broadcasts: the path lists every receiving node and To is the
	// literal "broadcast".
	RouteMessage(m *types.Message) (*Path, error)

	// RouteTask picks the agent that should execute the task: matching
	// type first, then any idle agent; ties broken by load ascending then
	// insertion order. Fails with NO_WORKERS_AVAILABLE when no candidate
	// exists.
	RouteTask(t *types.Task) (string, error)

	// CalculateMetrics computes the current health summary.
	CalculateMetrics() Metrics

	// Validate reports whether the topology's structural invariants hold.
	Validate() bool

	// Reorganize rebalances variant-specific structure (coordinator
	// re-election, counter resets).
	Reorganize()

	// Snapshot captures the shape for checkpointing.
	Snapshot() *Snapshot

	// Restore rebuilds the shape from a snapshot, resolving IDs against
	// the given agent records. Unknown IDs are skipped.
	Restore(snap *Snapshot, agents map[string]*types.Agent) error
}

// Config configures a topology. MaxAgents ≤ 0 means unbounded.
type Config struct {
	MaxAgents int

	// Coordinator is the designated hub, required for the star variant.
	Coordinator string

	// LoadThreshold is the star variant's coordinator re-election factor
	// (coordinator load ≥ threshold × spoke average). Default: 5.
	LoadThreshold float64
}

// New constructs a topology of the given kind.
func New(kind Kind, cfg Config) (Topology, error) {
	switch kind {
	case KindHierarchical:
		return NewHierarchical(cfg), nil
	case KindMesh:
		return NewMesh(cfg), nil
	case KindStar:
		return NewStar(cfg)
	default:
		return nil, types.NewError(types.CodeInvalidConfig, "unknown topology kind %q", kind)
	}
}

// routeTaskCommon implements the shared RouteTask selection over a set of
// agents in insertion order.
func routeTaskCommon(agents []*types.Agent, t *types.Task) (string, error) {
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
	for _, a := range agents {
		status := a.GetStatus()
		if status == types.AgentError || status == types.AgentTerminated {
			continue
		}
		if !a.HasCapacity() {
			continue
		}
		if string(a.Type) == t.Type {
			typed = append(typed, a)
		}
		if status == types.AgentIdle {
			idle = append(idle, a)
		}
	}
	if id := pick(typed); id != "" {
		return id, nil
	}
	if id := pick(idle); id != "" {
		return id, nil
	}
	return "", types.NewError(types.CodeNoWorkersAvailable, "no agent can accept task %s", t.ID)
}

// loadBalanceOf computes 1 − variance/maxVariance over agent loads, where
// maxVariance is the all-load-on-one-agent worst case. A uniform or empty
// load profile scores 1.
func loadBalanceOf(loads []int) float64 {
	n := len(loads)
	if n <= 1 {
		return 1
	}
	var sum float64
	for _, l := range loads {
		sum += float64(l)
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 1
	}
	var variance float64
	for _, l := range loads {
		d := float64(l) - mean
		variance += d * d
	}
	variance /= float64(n)
	maxVariance := mean * mean * float64(n-1)
	balance := 1 - variance/maxVariance
	if balance < 0 {
		return 0
	}
	return balance
}

// bottlenecksOf returns the IDs whose load exceeds mean + one standard
// deviation.
func bottlenecksOf(agents []*types.Agent) []string {
	n := len(agents)
	if n == 0 {
		return nil
	}
	loads := make([]float64, n)
	var sum float64
	for i, a := range agents {
		loads[i] = float64(a.Load())
		sum += loads[i]
	}
	mean := sum / float64(n)
	var variance float64
	for _, l := range loads {
		d := l - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(n))

	var out []string
	for i, a := range agents {
		if loads[i] > mean+stddev {
			out = append(out, a.ID)
		}
	}
	return out
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
