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

// Package session owns the lifetime of every session: creation, task and
// agent bookkeeping, checkpoint/resume, and crash-consistent persistence
// through a storage.ObjectStore.
package session

import (
	"sync"
	"time"

	"github.com/hivekit/hive/pkg/memory"
	"github.com/hivekit/hive/pkg/pool"
	"github.com/hivekit/hive/pkg/topology"
	"github.com/hivekit/hive/pkg/types"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusInitializing  Status = "initializing"
	StatusActive        Status = "active"
	StatusPaused        Status = "paused"
	StatusCheckpointing Status = "checkpointing"
	StatusTerminated    Status = "terminated"
	StatusError         Status = "error"
)

// Config configures a session. Zero values take defaults: MaxConcurrentTasks
// 10, CheckpointInterval 5m, MaxCheckpoints 10. MaxAgents must be positive.
// Coordinator is required for star sessions and ignored otherwise.
type Config struct {
	MaxAgents          int           `json:"maxAgents"`
	Coordinator        string        `json:"coordinator,omitempty"`
	MaxConcurrentTasks int           `json:"maxConcurrentTasks"`
	CheckpointInterval time.Duration `json:"checkpointInterval"`
	AutoCheckpoint     bool          `json:"autoCheckpoint"`
	PersistToDisk      bool          `json:"persistToDisk"`
	MaxCheckpoints     int           `json:"maxCheckpoints"`
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 10
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 5 * time.Minute
	}
	if c.MaxCheckpoints <= 0 {
		c.MaxCheckpoints = 10
	}
}

// State is the session's current working snapshot. Counters live here so a
// checkpoint restores them together with the task sets.
type State struct {
	ActiveAgents   map[string]*types.Agent
	ActiveTasks    map[string]*types.Task
	TaskQueue      []string
	CompletedTasks []string
	FailedTasks    []string
	WorkingMemory  map[string]any
	SharedContext  map[string]any
	NextActions    []string
	TopologySnap   *topology.Snapshot

	TasksCompleted int
	TasksTotal     int
}

func newState() *State {
	return &State{
		ActiveAgents:  make(map[string]*types.Agent),
		ActiveTasks:   make(map[string]*types.Task),
		WorkingMemory: make(map[string]any),
		SharedContext: make(map[string]any),
	}
}

// clone deep-copies the state. Opaque map values (working memory, shared
// context) are copied by reference; they are owned by whoever stored them.
func (st *State) clone() *State {
	cp := &State{
		ActiveAgents:   make(map[string]*types.Agent, len(st.ActiveAgents)),
		ActiveTasks:    make(map[string]*types.Task, len(st.ActiveTasks)),
		TaskQueue:      append([]string(nil), st.TaskQueue...),
		CompletedTasks: append([]string(nil), st.CompletedTasks...),
		FailedTasks:    append([]string(nil), st.FailedTasks...),
		WorkingMemory:  make(map[string]any, len(st.WorkingMemory)),
		SharedContext:  make(map[string]any, len(st.SharedContext)),
		NextActions:    append([]string(nil), st.NextActions...),
		TasksCompleted: st.TasksCompleted,
		TasksTotal:     st.TasksTotal,
	}
	for id, a := range st.ActiveAgents {
		cp.ActiveAgents[id] = a.Clone()
	}
	for id, t := range st.ActiveTasks {
		cp.ActiveTasks[id] = t.Clone()
	}
	for k, v := range st.WorkingMemory {
		cp.WorkingMemory[k] = v
	}
	for k, v := range st.SharedContext {
		cp.SharedContext[k] = v
	}
	if st.TopologySnap != nil {
		snap := *st.TopologySnap
		snap.AgentIDs = append([]string(nil), st.TopologySnap.AgentIDs...)
		snap.Layers = nil
		for _, layer := range st.TopologySnap.Layers {
			snap.Layers = append(snap.Layers, append([]string(nil), layer...))
		}
		cp.TopologySnap = &snap
	}
	return cp
}

// Checkpoint is a self-contained snapshot sufficient to reconstruct the
// session without reference to prior checkpoints.
type Checkpoint struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Timestamp time.Time         `json:"timestamp"`
	Reason    string            `json:"reason"`
	Snapshot  *State            `json:"-"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Session binds a topology, pools, memory, and state into the top-level
// unit of isolation. All fields are guarded by mu; the manager is the
// only writer.
type Session struct {
	mu sync.Mutex

	ID        string
	ProjectID string
	Name      string
	Kind      topology.Kind
	Status    Status
	Config    Config
	Metadata  map[string]string

	Topology topology.Topology
	Pools    map[string]*pool.Pool

	// Memory is the session's private tiered store. Set once by the
	// manager at creation or reload; persistent-tier documents are
	// namespaced by session ID in the shared object store.
	Memory *memory.Store

	State       *State
	Checkpoints []*Checkpoint

	StartedAt    time.Time
	LastActiveAt time.Time
	CompletedAt  *time.Time

	stopAuto chan struct{}
}

// GetStatus returns the session status.
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// CheckpointCount returns the number of retained checkpoints.
func (s *Session) CheckpointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Checkpoints)
}

// CheckpointReasons returns the retained checkpoint reasons oldest-first.
func (s *Session) CheckpointReasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Checkpoints))
	for i, cp := range s.Checkpoints {
		out[i] = cp.Reason
	}
	return out
}

// Agent resolves an agent owned by this session.
func (s *Session) Agent(id string) (*types.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.State.ActiveAgents[id]
	return a, ok
}

// Task resolves an active task by ID.
func (s *Session) Task(id string) (*types.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.State.ActiveTasks[id]
	return t, ok
}

// Counters returns (tasksCompleted, tasksTotal).
func (s *Session) Counters() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State.TasksCompleted, s.State.TasksTotal
}

// terminal reports whether the session refuses mutation. Callers hold mu.
func (s *Session) terminal() bool {
	return s.Status == StatusTerminated
}
