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

package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivekit/hive/pkg/comm"
	"github.com/hivekit/hive/pkg/memory"
	"github.com/hivekit/hive/pkg/observability"
	"github.com/hivekit/hive/pkg/pool"
	"github.com/hivekit/hive/pkg/storage"
	"github.com/hivekit/hive/pkg/topology"
	"github.com/hivekit/hive/pkg/types"
)

// ManagerConfig wires the manager's collaborators. All fields are
// optional: a nil Store disables persistence, a nil Bus disables message
// delivery.
type ManagerConfig struct {
	Store    storage.ObjectStore
	Bus      *comm.Bus
	Registry *pool.Registry
	Tracer   observability.Tracer
	Logger   *zap.Logger

	// Memory is the template for per-session memory stores. Namespace
	// and Objects are filled in per session; the other fields carry over.
	Memory memory.Config
}

// Manager owns every session in the process. Safe for concurrent use;
// per-session operations serialize on the session's own mutex.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	store     storage.ObjectStore
	bus       *comm.Bus
	registry  *pool.Registry
	memoryCfg memory.Config
	tracer    observability.Tracer
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		store:     cfg.Store,
		bus:       cfg.Bus,
		registry:  cfg.Registry,
		memoryCfg: cfg.Memory,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// newMemoryStore builds a session-scoped memory store over the manager's
// object store, namespaced by session ID.
func (m *Manager) newMemoryStore(sessionID string) *memory.Store {
	cfg := m.memoryCfg
	cfg.Namespace = sessionID
	if cfg.Objects == nil {
		cfg.Objects = m.store
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	if cfg.Tracer == nil {
		cfg.Tracer = m.tracer
	}
	return memory.NewStore(cfg)
}

// Create builds a new session: seeds the topology, attaches a
// session-scoped memory store, registers the session in-memory, persists
// an initial snapshot when PersistToDisk, and starts the auto-checkpoint
// timer when enabled.
//
// For star topologies cfg.Coordinator designates the hub.
func (m *Manager) Create(ctx context.Context, projectID, name string, kind topology.Kind, cfg Config, metadata map[string]string) (*Session, error) {
	if cfg.MaxAgents <= 0 {
		return nil, types.NewError(types.CodeInvalidConfig, "maxAgents must be positive, got %d", cfg.MaxAgents)
	}
	cfg.applyDefaults()

	topo, err := topology.New(kind, topology.Config{
		MaxAgents:   cfg.MaxAgents,
		Coordinator: cfg.Coordinator,
	})
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &Session{
		ID:           "sess-" + uuid.NewString(),
		ProjectID:    projectID,
		Name:         name,
		Kind:         kind,
		Status:       StatusActive,
		Config:       cfg,
		Metadata:     metadata,
		Topology:     topo,
		Pools:        make(map[string]*pool.Pool),
		State:        newState(),
		StartedAt:    now,
		LastActiveAt: now,
	}
	s.Memory = m.newMemoryStore(s.ID)
	if err := s.Memory.StartMaintenance(); err != nil {
		m.logger.Warn("memory maintenance not started",
			zap.String("session_id", s.ID), zap.Error(err))
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if cfg.PersistToDisk && m.store != nil {
		s.mu.Lock()
		err := m.persistLocked(ctx, s)
		s.mu.Unlock()
		if err != nil {
			m.logger.Warn("initial snapshot failed",
				zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	if cfg.AutoCheckpoint {
		m.startAutoCheckpoint(s)
	}

	m.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("project_id", projectID),
		zap.String("topology", string(kind)),
		zap.Int("max_agents", cfg.MaxAgents))
	return s, nil
}

// Get resolves a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, types.NewError(types.CodeNotFound, "session %s not found", id)
	}
	return s, nil
}

// Filter narrows List results. Zero fields match everything; set fields
// are conjunctive.
type Filter struct {
	ProjectID string
	Status    Status
	Kind      topology.Kind
}

// List returns the sessions matching the filter.
func (m *Manager) List(f Filter) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if f.ProjectID != "" && s.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != "" && s.GetStatus() != f.Status {
			continue
		}
		if f.Kind != "" && s.Kind != f.Kind {
			continue
		}
		out = append(out, s)
	}
	return out
}

// AddAgent joins an agent to the session and its topology.
func (m *Manager) AddAgent(ctx context.Context, sessionID string, a *types.Agent) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal() {
		return types.NewError(types.CodePoolInactive, "session %s is terminated", s.ID)
	}
	if len(s.State.ActiveAgents) >= s.Config.MaxAgents {
		return types.NewError(types.CodeCapacityExceeded,
			"session %s is full (%d agents)", s.ID, s.Config.MaxAgents)
	}
	if err := s.Topology.AddAgent(a); err != nil {
		return err
	}
	s.State.ActiveAgents[a.ID] = a
	s.LastActiveAt = m.now()
	if m.registry != nil {
		m.registry.Register(a)
	}
	return nil
}

// AddTask registers a task with the session and enqueues it FIFO.
func (m *Manager) AddTask(ctx context.Context, sessionID string, t *types.Task) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal() {
		return types.NewError(types.CodePoolInactive, "session %s is terminated", s.ID)
	}
	s.State.ActiveTasks[t.ID] = t
	s.State.TaskQueue = append(s.State.TaskQueue, t.ID)
	s.State.TasksTotal++
	s.LastActiveAt = m.now()
	return nil
}

// UpdateTaskStatus transitions a task. Completed increments the counter
// and moves the task to the completed list; failed moves it to the failed
// list; other transitions only touch the task.
func (m *Manager) UpdateTaskStatus(ctx context.Context, sessionID, taskID string, status types.TaskStatus) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal() {
		return types.NewError(types.CodePoolInactive, "session %s is terminated", s.ID)
	}
	t, ok := s.State.ActiveTasks[taskID]
	if !ok {
		return types.NewError(types.CodeNotFound, "task %s not found in session %s", taskID, s.ID)
	}

	now := m.now()
	t.Status = status
	switch status {
	case types.TaskRunning:
		if t.StartedAt == nil {
			started := now
			t.StartedAt = &started
		}
	case types.TaskCompleted:
		completed := now
		t.CompletedAt = &completed
		s.State.CompletedTasks = append(s.State.CompletedTasks, taskID)
		s.State.TasksCompleted++
		delete(s.State.ActiveTasks, taskID)
		s.State.TaskQueue = removeString(s.State.TaskQueue, taskID)
	case types.TaskFailed:
		completed := now
		t.CompletedAt = &completed
		s.State.FailedTasks = append(s.State.FailedTasks, taskID)
		delete(s.State.ActiveTasks, taskID)
		s.State.TaskQueue = removeString(s.State.TaskQueue, taskID)
	}
	s.LastActiveAt = now
	return nil
}

// CreateCheckpoint snapshots the session. The snapshot is deep: later
// mutations never leak into it. Persistence failures keep the in-memory
// checkpoint and surface a CHECKPOINT_FAILED error.
func (m *Manager) CreateCheckpoint(ctx context.Context, sessionID, reason string, metadata map[string]string) (*Checkpoint, error) {
	_, span := m.tracer.StartSpan(ctx, observability.SpanSessionCheckpoint)
	defer m.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)
	span.SetAttribute("reason", reason)

	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.checkpointLocked(ctx, s, reason, metadata)
}

// checkpointLocked builds and records a checkpoint. Callers hold s.mu,
// which serializes concurrent checkpoints per session.
func (m *Manager) checkpointLocked(ctx context.Context, s *Session, reason string, metadata map[string]string) (*Checkpoint, error) {
	if s.terminal() {
		return nil, types.NewError(types.CodePoolInactive, "session %s is terminated", s.ID)
	}

	prev := s.Status
	s.Status = StatusCheckpointing

	s.State.TopologySnap = s.Topology.Snapshot()
	cp := &Checkpoint{
		ID:        "ckpt-" + uuid.NewString(),
		SessionID: s.ID,
		Timestamp: m.now(),
		Reason:    reason,
		Snapshot:  s.State.clone(),
		Metadata:  metadata,
	}
	s.Checkpoints = append(s.Checkpoints, cp)
	for len(s.Checkpoints) > s.Config.MaxCheckpoints {
		s.Checkpoints = s.Checkpoints[1:]
	}
	s.Status = prev
	s.LastActiveAt = cp.Timestamp

	m.logger.Debug("checkpoint created",
		zap.String("session_id", s.ID),
		zap.String("checkpoint_id", cp.ID),
		zap.String("reason", reason),
		zap.Int("retained", len(s.Checkpoints)))

	if s.Config.PersistToDisk && m.store != nil {
		if err := m.persistLocked(ctx, s); err != nil {
			m.logger.Warn("checkpoint persistence failed, in-memory checkpoint retained",
				zap.String("session_id", s.ID),
				zap.String("checkpoint_id", cp.ID),
				zap.Error(err))
			return cp, types.WrapError(types.CodeCheckpointFailed, err,
				"persist checkpoint %s", cp.ID)
		}
	}
	return cp, nil
}

func (m *Manager) persistLocked(ctx context.Context, s *Session) error {
	data, err := encodeSession(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return m.store.Put(ctx, s.ID, data)
}

// Pause checkpoints the session and suspends it. Only active sessions
// can be paused.
func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.Status != StatusActive {
		status := s.Status
		s.mu.Unlock()
		return types.NewError(types.CodePoolInactive, "session %s is %s, not active", s.ID, status)
	}
	if _, err := m.checkpointLocked(ctx, s, "pause", nil); err != nil {
		m.logger.Warn("pause checkpoint persistence failed", zap.String("session_id", s.ID), zap.Error(err))
	}
	s.Status = StatusPaused
	s.mu.Unlock()

	m.stopAutoCheckpoint(s)
	m.logger.Info("session paused", zap.String("session_id", sessionID))
	return nil
}

// Resume reactivates a session, optionally restoring a checkpoint
// snapshot. Sessions not in memory are loaded from the store.
func (m *Manager) Resume(ctx context.Context, sessionID, checkpointID string) error {
	_, span := m.tracer.StartSpan(ctx, observability.SpanSessionResume)
	defer m.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)

	s, err := m.Get(sessionID)
	if err != nil {
		s, err = m.loadFromStore(ctx, sessionID)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.terminal() {
		s.mu.Unlock()
		return types.NewError(types.CodePoolInactive, "session %s is terminated", s.ID)
	}
	if checkpointID != "" {
		var cp *Checkpoint
		for _, candidate := range s.Checkpoints {
			if candidate.ID == checkpointID {
				cp = candidate
				break
			}
		}
		if cp == nil {
			s.mu.Unlock()
			return types.NewError(types.CodeNotFound, "checkpoint %s not found in session %s", checkpointID, s.ID)
		}
		s.State = cp.Snapshot.clone()
		if s.State.TopologySnap != nil {
			if err := s.Topology.Restore(s.State.TopologySnap, s.State.ActiveAgents); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("restore topology: %w", err)
			}
		}
	}
	s.Status = StatusActive
	s.LastActiveAt = m.now()
	auto := s.Config.AutoCheckpoint
	s.mu.Unlock()

	if auto {
		m.startAutoCheckpoint(s)
	}
	m.logger.Info("session resumed",
		zap.String("session_id", sessionID),
		zap.String("checkpoint_id", checkpointID))
	return nil
}

// loadFromStore rebuilds one session from its persisted artifact and
// registers it in memory.
func (m *Manager) loadFromStore(ctx context.Context, sessionID string) (*Session, error) {
	if m.store == nil {
		return nil, types.NewError(types.CodeNotFound, "session %s not found", sessionID)
	}
	data, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, types.WrapError(types.CodeNotFound, err, "session %s not in store", sessionID)
	}
	s, err := decodeSession(data)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	s.Memory = m.newMemoryStore(s.ID)
	if err := s.Memory.LoadPersistent(ctx); err != nil {
		m.logger.Warn("persistent memory not restored",
			zap.String("session_id", s.ID), zap.Error(err))
	}
	if s.Status != StatusTerminated {
		if err := s.Memory.StartMaintenance(); err != nil {
			m.logger.Warn("memory maintenance not started",
				zap.String("session_id", s.ID), zap.Error(err))
		}
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if m.registry != nil {
		for _, a := range s.State.ActiveAgents {
			m.registry.Register(a)
		}
	}
	return s, nil
}

// LoadAll loads every persisted session into memory. Corrupted documents
// are logged and skipped; one bad artifact never blocks the others.
func (m *Manager) LoadAll(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	keys, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		// The store is shared with per-session memory documents.
		if strings.HasPrefix(key, memory.ObjectKeyPrefix) {
			continue
		}
		m.mu.RLock()
		_, inMemory := m.sessions[key]
		m.mu.RUnlock()
		if inMemory {
			continue
		}
		if _, err := m.loadFromStore(ctx, key); err != nil {
			m.logger.Warn("skipping corrupted session artifact",
				zap.String("key", key), zap.Error(err))
			continue
		}
		loaded++
	}
	m.logger.Info("sessions loaded", zap.Int("count", loaded))
	return loaded, nil
}

// Terminate checkpoints and permanently stops the session. Terminated
// sessions stay queryable but refuse mutation.
func (m *Manager) Terminate(ctx context.Context, sessionID, reason string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.terminal() {
		s.mu.Unlock()
		return nil
	}
	if _, err := m.checkpointLocked(ctx, s, "terminate: "+reason, nil); err != nil {
		m.logger.Warn("terminal checkpoint persistence failed",
			zap.String("session_id", s.ID), zap.Error(err))
	}
	s.Status = StatusTerminated
	completed := m.now()
	s.CompletedAt = &completed
	if s.Config.PersistToDisk && m.store != nil {
		if err := m.persistLocked(ctx, s); err != nil {
			m.logger.Warn("terminal state persistence failed",
				zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	pools := make([]*pool.Pool, 0, len(s.Pools))
	for _, p := range s.Pools {
		pools = append(pools, p)
	}
	agents := make([]string, 0, len(s.State.ActiveAgents))
	for id := range s.State.ActiveAgents {
		agents = append(agents, id)
	}
	mem := s.Memory
	s.mu.Unlock()

	m.stopAutoCheckpoint(s)
	if mem != nil {
		mem.StopMaintenance()
	}
	for _, p := range pools {
		p.Terminate(ctx)
	}
	if m.registry != nil {
		for _, id := range agents {
			m.registry.Deregister(id)
		}
	}
	m.logger.Info("session terminated",
		zap.String("session_id", sessionID), zap.String("reason", reason))
	return nil
}

// CreatePool spawns a worker pool owned by the session and joins its
// workers to the session's topology.
func (m *Manager) CreatePool(ctx context.Context, sessionID string, cfg pool.Config) (*pool.Pool, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status != StatusActive {
		return nil, types.NewError(types.CodePoolInactive, "session %s is %s", s.ID, s.Status)
	}
	p, err := pool.New(cfg, m.registry, m.tracer, m.logger)
	if err != nil {
		return nil, err
	}
	for _, workerID := range p.Workers() {
		w, _ := p.Worker(workerID)
		if len(s.State.ActiveAgents) >= s.Config.MaxAgents {
			p.Terminate(ctx)
			return nil, types.NewError(types.CodeCapacityExceeded,
				"session %s cannot hold pool of %d workers", s.ID, len(p.Workers()))
		}
		if err := s.Topology.AddAgent(w); err != nil {
			p.Terminate(ctx)
			return nil, err
		}
		s.State.ActiveAgents[workerID] = w
	}
	s.Pools[p.ID()] = p
	s.LastActiveAt = m.now()
	return p, nil
}

// TerminatePool tears down one of the session's pools.
func (m *Manager) TerminatePool(ctx context.Context, sessionID, poolID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	p, ok := s.Pools[poolID]
	if !ok {
		s.mu.Unlock()
		return types.NewError(types.CodeNotFound, "pool %s not found in session %s", poolID, s.ID)
	}
	workers := p.Workers()
	delete(s.Pools, poolID)
	for _, id := range workers {
		delete(s.State.ActiveAgents, id)
		s.Topology.RemoveAgent(id)
	}
	s.mu.Unlock()

	p.Terminate(ctx)
	return nil
}

// Dispatch routes a task to an agent through the session's topology and
// delivers a task-delegation message on the bus. Paused and terminated
// sessions refuse dispatch.
func (m *Manager) Dispatch(ctx context.Context, sessionID string, task *types.Task) (string, error) {
	_, span := m.tracer.StartSpan(ctx, observability.SpanSessionDispatch)
	defer m.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)
	span.SetAttribute("task_id", task.ID)

	s, err := m.Get(sessionID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.Status != StatusActive {
		status := s.Status
		s.mu.Unlock()
		return "", types.NewError(types.CodePoolInactive, "session %s is %s", s.ID, status)
	}

	workerID, err := s.Topology.RouteTask(task)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	worker := s.State.ActiveAgents[workerID]
	if worker == nil || !worker.AssignTask(task.ID) {
		s.mu.Unlock()
		return "", types.NewError(types.CodeNoWorkersAvailable,
			"agent %s refused task %s", workerID, task.ID)
	}

	now := m.now()
	if _, known := s.State.ActiveTasks[task.ID]; !known {
		s.State.ActiveTasks[task.ID] = task
		s.State.TasksTotal++
	}
	task.Status = types.TaskRunning
	started := now
	task.StartedAt = &started
	s.State.TaskQueue = removeString(s.State.TaskQueue, task.ID)
	s.LastActiveAt = now
	s.mu.Unlock()

	span.SetAttribute("worker_id", workerID)
	ctx = WithAgentID(WithSessionID(ctx, s.ID), workerID)
	if m.bus != nil {
		msg := &types.Message{
			ID:        "msg-" + uuid.NewString(),
			From:      "coordinator",
			To:        workerID,
			Type:      types.MessageTaskDelegation,
			Timestamp: now,
			Content:   map[string]any{"taskId": task.ID, "taskType": task.Type},
		}
		if _, _, err := m.bus.Publish(ctx, comm.AgentTopic(workerID), msg); err != nil {
			m.logger.Warn("delegation message not delivered",
				zap.String("session_id", sessionID),
				zap.String("worker_id", workerID),
				zap.Error(err))
		}
	}
	m.logger.Debug("task dispatched",
		zap.String("session_id", sessionID),
		zap.String("task_id", task.ID),
		zap.String("worker_id", workerID))
	return workerID, nil
}

// SendMessage routes a message through the session's topology and
// publishes it along the computed path.
func (m *Manager) SendMessage(ctx context.Context, sessionID string, msg *types.Message) (*topology.Path, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.Status != StatusActive {
		status := s.Status
		s.mu.Unlock()
		return nil, types.NewError(types.CodePoolInactive, "session %s is %s", s.ID, status)
	}
	path, err := s.Topology.RouteMessage(msg)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.LastActiveAt = m.now()
	s.mu.Unlock()

	ctx = WithSessionID(ctx, s.ID)
	if m.bus != nil {
		// Deliver to every receiving hop in path order, preserving the
		// per-(sender,receiver) FIFO guarantee.
		for _, hop := range path.Hops[1:] {
			if _, _, err := m.bus.Publish(ctx, comm.AgentTopic(hop), msg); err != nil {
				m.logger.Warn("message not delivered",
					zap.String("session_id", sessionID),
					zap.String("hop", hop),
					zap.Error(err))
			}
		}
	}
	return path, nil
}

// Close stops every session's auto-checkpoint timer and memory
// maintenance loop.
func (m *Manager) Close() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		m.stopAutoCheckpoint(s)
		if s.Memory != nil {
			s.Memory.StopMaintenance()
		}
	}
}

func removeString(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
