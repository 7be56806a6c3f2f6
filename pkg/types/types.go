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

// Package types contains shared types used across the hive runtime.
// This package breaks import cycles by providing the agent, task, and
// message model that pkg/session, pkg/pool, pkg/topology, and pkg/comm
// all depend on.
package types

import (
	"sync"
	"time"
)

// ============================================================================
// Agent
// ============================================================================

// AgentType classifies an agent by the kind of work it performs.
// The set is closed; pools and topologies switch over it.
type AgentType string

const (
	AgentArchitect      AgentType = "architect"
	AgentReview         AgentType = "review"
	AgentImplementation AgentType = "implementation"
	AgentTesting        AgentType = "testing"
	AgentResearch       AgentType = "research"
	AgentDocumentation  AgentType = "documentation"
	AgentDebugger       AgentType = "debugger"
)

// AgentTypes lists every valid agent type in a stable order.
var AgentTypes = []AgentType{
	AgentArchitect,
	AgentReview,
	AgentImplementation,
	AgentTesting,
	AgentResearch,
	AgentDocumentation,
	AgentDebugger,
}

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentInitializing AgentStatus = "initializing"
	AgentIdle         AgentStatus = "idle"
	AgentBusy         AgentStatus = "busy"
	AgentError        AgentStatus = "error"
	AgentTerminated   AgentStatus = "terminated"
)

// ResourceLimits bounds the resources a single agent may consume while
// executing a task. Zero values mean "type default".
type ResourceLimits struct {
	MemoryMB           int64 `json:"memoryMb"`
	CPUTimeMs          int64 `json:"cpuTimeMs"`
	DiskMB             int64 `json:"diskMb"`
	NetworkCalls       int   `json:"networkCalls"`
	FileHandles        int   `json:"fileHandles"`
	ExecutionTimeoutMs int64 `json:"executionTimeoutMs"`
}

// PerformanceRecord is one row of an agent's per-task-type history.
// The pool's weighted strategy reads these to rank workers.
type PerformanceRecord struct {
	TaskType       string  `json:"taskType"`
	SuccessRate    float64 `json:"successRate"`  // 0..1
	AvgExecutionMs float64 `json:"avgExecMs"`    // running mean
	QualityScore   float64 `json:"qualityScore"` // 0..1
	SampleCount    int     `json:"sampleCount"`
}

// Agent is a long-lived actor executing tasks for at most one session.
// Thread-safe: all mutating methods take the internal lock. The session
// exclusively owns agent records; topologies reference agents by ID only.
type Agent struct {
	mu sync.RWMutex

	ID                 string                        `json:"id"`
	Type               AgentType                     `json:"type"`
	Status             AgentStatus                   `json:"status"`
	Capabilities       []string                      `json:"capabilities"`
	MaxConcurrentTasks int                           `json:"maxConcurrentTasks"`
	Limits             ResourceLimits                `json:"limits"`
	Performance        map[string]*PerformanceRecord `json:"performance"`

	// CurrentTasks holds in-flight task IDs in assignment order.
	CurrentTasks []string `json:"currentTasks"`

	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`

	// LearningData is opaque to the core (success/failure patterns,
	// learned skills). Persisted verbatim in checkpoints.
	LearningData map[string]any `json:"learningData,omitempty"`
}

// NewAgent creates an agent of the given type with defaults applied.
func NewAgent(id string, typ AgentType) *Agent {
	now := time.Now()
	return &Agent{
		ID:                 id,
		Type:               typ,
		Status:             AgentInitializing,
		Capabilities:       DefaultCapabilities(typ),
		MaxConcurrentTasks: 3,
		Limits:             DefaultResourceLimits(typ),
		Performance:        make(map[string]*PerformanceRecord),
		CreatedAt:          now,
		LastActive:         now,
	}
}

// Load returns the number of in-flight tasks.
func (a *Agent) Load() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.CurrentTasks)
}

// GetStatus returns the agent's current status.
func (a *Agent) GetStatus() AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Status
}

// SetStatus transitions the agent's status and refreshes LastActive.
func (a *Agent) SetStatus(s AgentStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Status = s
	a.touchLocked()
}

// HasCapacity reports whether the agent can accept another task.
func (a *Agent) HasCapacity() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.CurrentTasks) < a.MaxConcurrentTasks
}

// AssignTask appends a task ID and marks the agent busy.
// Returns false when the agent is at capacity or not accepting work.
func (a *Agent) AssignTask(taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Status == AgentError || a.Status == AgentTerminated {
		return false
	}
	if len(a.CurrentTasks) >= a.MaxConcurrentTasks {
		return false
	}
	a.CurrentTasks = append(a.CurrentTasks, taskID)
	a.Status = AgentBusy
	a.touchLocked()
	return true
}

// ReleaseTask removes a task ID; the agent goes idle when drained.
// Returns false when the task is not held by this agent.
func (a *Agent) ReleaseTask(taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, id := range a.CurrentTasks {
		if id == taskID {
			a.CurrentTasks = append(a.CurrentTasks[:i], a.CurrentTasks[i+1:]...)
			if len(a.CurrentTasks) == 0 && a.Status == AgentBusy {
				a.Status = AgentIdle
			}
			a.touchLocked()
			return true
		}
	}
	return false
}

// TaskIDs returns a copy of the in-flight task IDs in assignment order.
func (a *Agent) TaskIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.CurrentTasks))
	copy(out, a.CurrentTasks)
	return out
}

// RecordOutcome folds a completed task into the agent's per-type history.
// qualityScore below zero means "not scored" and leaves the quality mean
// untouched.
func (a *Agent) RecordOutcome(taskType string, success bool, execMs float64, qualityScore float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.Performance[taskType]
	if !ok {
		rec = &PerformanceRecord{TaskType: taskType, QualityScore: 0.5}
		a.Performance[taskType] = rec
	}

	n := float64(rec.SampleCount)
	succ := 0.0
	if success {
		succ = 1.0
	}
	rec.SuccessRate = (rec.SuccessRate*n + succ) / (n + 1)
	rec.AvgExecutionMs = (rec.AvgExecutionMs*n + execMs) / (n + 1)
	if qualityScore >= 0 {
		rec.QualityScore = (rec.QualityScore*n + qualityScore) / (n + 1)
	}
	rec.SampleCount++
	a.touchLocked()
}

// PerformanceFor returns a copy of the history row for a task type,
// or nil when the agent has none.
func (a *Agent) PerformanceFor(taskType string) *PerformanceRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.Performance[taskType]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// Touch refreshes LastActive. LastActive never moves backwards.
func (a *Agent) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.touchLocked()
}

func (a *Agent) touchLocked() {
	if now := time.Now(); now.After(a.LastActive) {
		a.LastActive = now
	}
}

// LastActiveTime returns the last-active timestamp.
func (a *Agent) LastActiveTime() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.LastActive
}

// Clone returns a deep copy of the agent for checkpoint snapshots.
func (a *Agent) Clone() *Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cp := &Agent{
		ID:                 a.ID,
		Type:               a.Type,
		Status:             a.Status,
		Capabilities:       append([]string(nil), a.Capabilities...),
		MaxConcurrentTasks: a.MaxConcurrentTasks,
		Limits:             a.Limits,
		Performance:        make(map[string]*PerformanceRecord, len(a.Performance)),
		CurrentTasks:       append([]string(nil), a.CurrentTasks...),
		CreatedAt:          a.CreatedAt,
		LastActive:         a.LastActive,
	}
	for k, rec := range a.Performance {
		r := *rec
		cp.Performance[k] = &r
	}
	if a.LearningData != nil {
		cp.LearningData = make(map[string]any, len(a.LearningData))
		for k, v := range a.LearningData {
			cp.LearningData[k] = v
		}
	}
	return cp
}

// DefaultCapabilities returns the fixed capability set for an agent type.
func DefaultCapabilities(typ AgentType) []string {
	switch typ {
	case AgentResearch:
		return []string{"web-search", "data-analysis", "summarization"}
	case AgentArchitect:
		return []string{"system-design", "pattern-recognition", "requirements-analysis"}
	case AgentImplementation:
		return []string{"coding", "refactoring", "api-design"}
	case AgentTesting:
		return []string{"unit-testing", "integration-testing", "regression-testing"}
	case AgentReview:
		return []string{"code-review", "quality-analysis", "standards-enforcement"}
	case AgentDocumentation:
		return []string{"api-docs", "user-guides", "changelogs"}
	case AgentDebugger:
		return []string{"error-analysis", "stack-tracing", "root-cause"}
	default:
		return nil
	}
}

// DefaultResourceLimits returns per-type resource limits. Implementation and
// testing agents get more CPU headroom; research agents more network calls.
func DefaultResourceLimits(typ AgentType) ResourceLimits {
	limits := ResourceLimits{
		MemoryMB:           512,
		CPUTimeMs:          60_000,
		DiskMB:             256,
		NetworkCalls:       50,
		FileHandles:        64,
		ExecutionTimeoutMs: 300_000,
	}
	switch typ {
	case AgentImplementation, AgentTesting:
		limits.CPUTimeMs = 120_000
		limits.MemoryMB = 1024
	case AgentResearch:
		limits.NetworkCalls = 200
	case AgentDebugger:
		limits.ExecutionTimeoutMs = 600_000
	}
	return limits
}

// ============================================================================
// Task
// ============================================================================

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is a unit of work distributed to an agent. A task is exclusively
// owned by at most one agent while running.
type Task struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"` // higher = more urgent
	Status      TaskStatus `json:"status"`
	DependsOn   []string   `json:"dependsOn,omitempty"`

	ExecutionMs  float64 `json:"executionMs,omitempty"`
	Error        string  `json:"error,omitempty"`
	QualityScore float64 `json:"qualityScore,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NewTask creates a pending task.
func NewTask(id, taskType, description string, priority int) *Task {
	return &Task{
		ID:          id,
		Type:        taskType,
		Description: description,
		Priority:    priority,
		Status:      TaskPending,
		CreatedAt:   time.Now(),
	}
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	cp := *t
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}

// ============================================================================
// Message
// ============================================================================

// MessageType classifies inter-agent messages.
type MessageType string

const (
	MessageTaskDelegation MessageType = "task-delegation"
	MessageCoordination   MessageType = "coordination"
	MessageStatusUpdate   MessageType = "status-update"
	MessageKnowledgeShare MessageType = "knowledge-share"
	MessageError          MessageType = "error"
)

// Message is a unit of inter-agent communication routed through the
// topology. An empty To means broadcast.
type Message struct {
	ID            string         `json:"id"`
	From          string         `json:"from"`
	To            string         `json:"to,omitempty"`
	Type          MessageType    `json:"type"`
	Priority      int            `json:"priority"` // 0..4
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Content       map[string]any `json:"content,omitempty"`

	Timeout          time.Duration `json:"timeout,omitempty"`
	RetryCount       int           `json:"retryCount"`
	MaxRetries       int           `json:"maxRetries"`
	RequiresResponse bool          `json:"requiresResponse"`
}

// IsBroadcast reports whether the message has no single recipient.
func (m *Message) IsBroadcast() bool { return m.To == "" }
