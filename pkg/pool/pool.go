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

// Package pool manages worker agent lifecycle: spawning, load-balanced
// task distribution, elastic scaling, and teardown.
package pool

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivekit/hive/pkg/observability"
	"github.com/hivekit/hive/pkg/types"
)

// Strategy selects the worker a task is assigned to.
type Strategy string

const (
	StrategyRoundRobin  Strategy = "round-robin"
	StrategyLeastLoaded Strategy = "least-loaded"
	StrategyRandom      Strategy = "random"
	StrategyWeighted    Strategy = "weighted"
	StrategyPriority    Strategy = "priority"
)

// Status is the pool lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusTerminated Status = "terminated"
)

const (
	// DefaultEstimateMs is the completion estimate for task types the
	// worker has no history for.
	DefaultEstimateMs = 60_000

	// weightEpsilon keeps the weighted-strategy denominator positive.
	weightEpsilon = 0.001

	// defaultWeight ranks workers without history mid-tier.
	defaultWeight = 0.5

	scaleUpUtilization   = 0.8
	scaleDownUtilization = 0.2
)

// Config configures a pool. Zero values take defaults: MinWorkers 1,
// MaxWorkers 10, Strategy least-loaded.
type Config struct {
	Name       string
	AgentType  types.AgentType
	MinWorkers int
	MaxWorkers int
	Strategy   Strategy
}

// Assignment records one task-to-worker binding.
type Assignment struct {
	WorkerID            string    `json:"workerId"`
	TaskID              string    `json:"taskId"`
	AssignedAt          time.Time `json:"assignedAt"`
	EstimatedCompletion time.Time `json:"estimatedCompletion"`
}

// Stats is a point-in-time summary of pool activity.
type Stats struct {
	Workers        int     `json:"workers"`
	TasksInFlight  int     `json:"tasksInFlight"`
	QueueDepth     int     `json:"queueDepth"`
	TasksProcessed int64   `json:"tasksProcessed"`
	TasksFailed    int64   `json:"tasksFailed"`
	AvgTaskMs      float64 `json:"avgTaskMs"`
	Utilization    float64 `json:"utilization"`
}

// Pool owns a set of same-typed workers, a FIFO overflow queue, and
// running statistics. Safe for concurrent use.
type Pool struct {
	mu sync.Mutex

	id     string
	cfg    Config
	status Status

	workers map[string]*types.Agent
	order   []string
	cursor  int // round-robin position
	nextSeq int

	queue       []*types.Task
	assignments map[string]*Assignment // task ID → assignment
	taskTypes   map[string]string      // task ID → task type

	processed  int64
	failed     int64
	meanTaskMs float64

	registry *Registry
	logger   *zap.Logger
	tracer   observability.Tracer
	rnd      *rand.Rand
	now      func() time.Time
}

// New creates a pool and immediately spawns MinWorkers workers.
func New(cfg Config, registry *Registry, tracer observability.Tracer, logger *zap.Logger) (*Pool, error) {
	if cfg.AgentType == "" {
		return nil, types.NewError(types.CodeInvalidConfig, "pool requires an agent type")
	}
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MinWorkers > cfg.MaxWorkers {
		return nil, types.NewError(types.CodeInvalidConfig,
			"minWorkers %d exceeds maxWorkers %d", cfg.MinWorkers, cfg.MaxWorkers)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyLeastLoaded
	}
	switch cfg.Strategy {
	case StrategyRoundRobin, StrategyLeastLoaded, StrategyRandom, StrategyWeighted, StrategyPriority:
	default:
		return nil, types.NewError(types.CodeInvalidConfig, "unknown strategy %q", cfg.Strategy)
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.AgentType) + "-pool"
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		id:          uuid.NewString(),
		cfg:         cfg,
		status:      StatusActive,
		workers:     make(map[string]*types.Agent),
		assignments: make(map[string]*Assignment),
		taskTypes:   make(map[string]string),
		registry:    registry,
		logger:      logger,
		tracer:      tracer,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
	}
	for i := 0; i < cfg.MinWorkers; i++ {
		p.spawnLocked()
	}
	logger.Info("pool created",
		zap.String("pool_id", p.id),
		zap.String("name", cfg.Name),
		zap.String("agent_type", string(cfg.AgentType)),
		zap.String("strategy", string(cfg.Strategy)),
		zap.Int("workers", cfg.MinWorkers))
	return p, nil
}

// ID returns the pool's unique identifier.
func (p *Pool) ID() string { return p.id }

// Name returns the configured pool name.
func (p *Pool) Name() string { return p.cfg.Name }

// AgentType returns the type of worker this pool spawns.
func (p *Pool) AgentType() types.AgentType { return p.cfg.AgentType }

// Status returns the pool lifecycle state.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Workers returns the worker IDs in spawn order.
func (p *Pool) Workers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Worker resolves one of the pool's workers by ID.
func (p *Pool) Worker(id string) (*types.Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[id]
	return w, ok
}

// Pause stops distribution without tearing down workers.
func (p *Pool) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusActive {
		p.status = StatusPaused
	}
}

// Resume reactivates a paused pool.
func (p *Pool) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusPaused {
		p.status = StatusActive
	}
}

// Distribute assigns a task to a worker chosen by the pool's strategy.
// When every worker is at capacity the task is queued FIFO and
// NO_WORKERS_AVAILABLE is returned; the queue drains on completions.
func (p *Pool) Distribute(ctx context.Context, task *types.Task) (*Assignment, error) {
	_, span := p.tracer.StartSpan(ctx, observability.SpanPoolDistribute)
	defer p.tracer.EndSpan(span)
	span.SetAttribute("pool_id", p.id)
	span.SetAttribute("task_id", task.ID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusActive {
		return nil, types.NewError(types.CodePoolInactive, "pool %s is %s", p.cfg.Name, p.status)
	}

	asn, err := p.distributeLocked(task)
	if err != nil {
		p.queue = append(p.queue, task)
		p.logger.Debug("task queued",
			zap.String("pool_id", p.id),
			zap.String("task_id", task.ID),
			zap.Int("queue_depth", len(p.queue)))
		return nil, err
	}
	return asn, nil
}

func (p *Pool) distributeLocked(task *types.Task) (*Assignment, error) {
	worker := p.selectLocked(task)
	if worker == nil {
		return nil, types.NewError(types.CodeNoWorkersAvailable,
			"no worker can accept task %s", task.ID)
	}
	if !worker.AssignTask(task.ID) {
		return nil, types.NewError(types.CodeNoWorkersAvailable,
			"worker %s refused task %s", worker.ID, task.ID)
	}

	now := p.now()
	task.Status = types.TaskRunning
	started := now
	task.StartedAt = &started

	asn := &Assignment{
		WorkerID:   worker.ID,
		TaskID:     task.ID,
		AssignedAt: now,
	}
	estimate := float64(DefaultEstimateMs)
	if rec := worker.PerformanceFor(task.Type); rec != nil && rec.SampleCount > 0 {
		estimate = rec.AvgExecutionMs
	}
	asn.EstimatedCompletion = now.Add(time.Duration(estimate) * time.Millisecond)

	p.assignments[task.ID] = asn
	p.taskTypes[task.ID] = task.Type

	p.logger.Debug("task distributed",
		zap.String("pool_id", p.id),
		zap.String("task_id", task.ID),
		zap.String("worker_id", worker.ID),
		zap.String("strategy", string(p.cfg.Strategy)))
	return asn, nil
}

// selectLocked picks a worker with capacity per the configured strategy,
// or nil when none can accept the task.
func (p *Pool) selectLocked(task *types.Task) *types.Agent {
	available := p.availableLocked()
	if len(available) == 0 {
		return nil
	}

	switch p.cfg.Strategy {
	case StrategyRoundRobin:
		n := len(p.order)
		for i := 0; i < n; i++ {
			id := p.order[(p.cursor+i)%n]
			w := p.workers[id]
			if acceptsWork(w) {
				p.cursor = (p.cursor + i + 1) % n
				return w
			}
		}
		return leastLoaded(available)

	case StrategyRandom:
		return available[p.rnd.Intn(len(available))]

	case StrategyWeighted:
		var best *types.Agent
		bestWeight := -1.0
		for _, w := range available {
			weight := defaultWeight
			if rec := w.PerformanceFor(task.Type); rec != nil && rec.SampleCount > 0 {
				weight = rec.SuccessRate * rec.QualityScore / (rec.AvgExecutionMs/1000 + weightEpsilon)
			}
			if weight > bestWeight {
				best = w
				bestWeight = weight
			}
		}
		return best

	case StrategyPriority:
		var idle []*types.Agent
		for _, w := range available {
			if w.GetStatus() == types.AgentIdle {
				idle = append(idle, w)
			}
		}
		if len(idle) > 0 {
			return leastLoaded(idle)
		}
		return leastLoaded(available)

	default: // least-loaded
		return leastLoaded(available)
	}
}

// availableLocked returns workers that can accept another task, in spawn
// order.
func (p *Pool) availableLocked() []*types.Agent {
	var out []*types.Agent
	for _, id := range p.order {
		if w := p.workers[id]; acceptsWork(w) {
			out = append(out, w)
		}
	}
	return out
}

func acceptsWork(w *types.Agent) bool {
	status := w.GetStatus()
	return status != types.AgentError && status != types.AgentTerminated && w.HasCapacity()
}

// leastLoaded picks the minimum-load worker, ties broken by slice order.
func leastLoaded(workers []*types.Agent) *types.Agent {
	var best *types.Agent
	bestLoad := 0
	for _, w := range workers {
		load := w.Load()
		if best == nil || load < bestLoad {
			best = w
			bestLoad = load
		}
	}
	return best
}

// Complete finishes a task: frees the worker, folds the duration into the
// running mean (failures included), and drains the queue head when a
// worker has capacity. executionMs ≤ 0 derives the duration from the
// assignment time.
func (p *Pool) Complete(ctx context.Context, taskID string, success bool, executionMs float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	asn, ok := p.assignments[taskID]
	if !ok {
		return types.NewError(types.CodeNotFound, "task %s has no assignment", taskID)
	}
	worker, ok := p.workers[asn.WorkerID]
	if !ok {
		delete(p.assignments, taskID)
		delete(p.taskTypes, taskID)
		return types.NewError(types.CodeNotFound, "worker %s no longer in pool", asn.WorkerID)
	}

	if executionMs <= 0 {
		executionMs = float64(p.now().Sub(asn.AssignedAt).Milliseconds())
	}
	worker.ReleaseTask(taskID)
	worker.RecordOutcome(p.taskTypes[taskID], success, executionMs, -1)
	delete(p.assignments, taskID)
	delete(p.taskTypes, taskID)

	total := float64(p.processed + p.failed)
	p.meanTaskMs = (p.meanTaskMs*total + executionMs) / (total + 1)
	if success {
		p.processed++
	} else {
		p.failed++
	}

	p.logger.Debug("task completed",
		zap.String("pool_id", p.id),
		zap.String("task_id", taskID),
		zap.String("worker_id", worker.ID),
		zap.Bool("success", success),
		zap.Float64("execution_ms", executionMs))

	// Drain the queue head opportunistically.
	if len(p.queue) > 0 && p.status == StatusActive {
		head := p.queue[0]
		if _, err := p.distributeLocked(head); err == nil {
			p.queue = p.queue[1:]
		}
	}
	return nil
}

// AutoScale adjusts the worker count by utilization: above 0.8 it spawns
// one worker (up to max); below 0.2 it removes the idle worker with the
// oldest LastActive (down to min). Returns the net worker delta.
func (p *Pool) AutoScale(ctx context.Context) (int, error) {
	_, span := p.tracer.StartSpan(ctx, observability.SpanPoolAutoScale)
	defer p.tracer.EndSpan(span)
	span.SetAttribute("pool_id", p.id)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusActive {
		return 0, types.NewError(types.CodePoolInactive, "pool %s is %s", p.cfg.Name, p.status)
	}

	util := p.utilizationLocked()
	span.SetAttribute("utilization", util)

	switch {
	case util > scaleUpUtilization && len(p.workers) < p.cfg.MaxWorkers:
		w := p.spawnLocked()
		p.logger.Info("pool scaled up",
			zap.String("pool_id", p.id),
			zap.Float64("utilization", util),
			zap.String("worker_id", w.ID))
		return 1, nil

	case util < scaleDownUtilization && len(p.workers) > p.cfg.MinWorkers:
		victim := p.oldestIdleLocked()
		if victim == nil {
			return 0, nil
		}
		p.removeLocked(victim)
		p.logger.Info("pool scaled down",
			zap.String("pool_id", p.id),
			zap.Float64("utilization", util),
			zap.String("worker_id", victim.ID))
		return -1, nil
	}
	return 0, nil
}

// RemoveWorker removes one worker. Workers with in-flight tasks are
// refused with WORKER_BUSY.
func (p *Pool) RemoveWorker(ctx context.Context, workerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok {
		return types.NewError(types.CodeNotFound, "worker %s not in pool", workerID)
	}
	if w.Load() > 0 {
		return types.NewError(types.CodeWorkerBusy,
			"worker %s has %d in-flight tasks", workerID, w.Load())
	}
	p.removeLocked(w)
	return nil
}

// Terminate tears the pool down: deregisters and clears every worker and
// refuses further distribution.
func (p *Pool) Terminate(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusTerminated {
		return
	}
	p.status = StatusTerminated
	for id, w := range p.workers {
		w.SetStatus(types.AgentTerminated)
		if p.registry != nil {
			p.registry.Deregister(id)
		}
	}
	p.workers = make(map[string]*types.Agent)
	p.order = nil
	p.queue = nil
	p.logger.Info("pool terminated", zap.String("pool_id", p.id), zap.String("name", p.cfg.Name))
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	inFlight := 0
	for _, w := range p.workers {
		inFlight += w.Load()
	}
	return Stats{
		Workers:        len(p.workers),
		TasksInFlight:  inFlight,
		QueueDepth:     len(p.queue),
		TasksProcessed: p.processed,
		TasksFailed:    p.failed,
		AvgTaskMs:      p.meanTaskMs,
		Utilization:    p.utilizationLocked(),
	}
}

// QueueDepth returns the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) utilizationLocked() float64 {
	inFlight, capacity := 0, 0
	for _, w := range p.workers {
		inFlight += w.Load()
		capacity += w.MaxConcurrentTasks
	}
	if capacity == 0 {
		return 0
	}
	return float64(inFlight) / float64(capacity)
}

func (p *Pool) spawnLocked() *types.Agent {
	p.nextSeq++
	id := fmt.Sprintf("%s-w%d", p.cfg.Name, p.nextSeq)
	w := types.NewAgent(id, p.cfg.AgentType)
	w.SetStatus(types.AgentIdle)
	p.workers[id] = w
	p.order = append(p.order, id)
	if p.registry != nil {
		p.registry.Register(w)
	}
	return w
}

func (p *Pool) removeLocked(w *types.Agent) {
	delete(p.workers, w.ID)
	for i, id := range p.order {
		if id == w.ID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if p.cursor >= len(p.order) {
		p.cursor = 0
	}
	w.SetStatus(types.AgentTerminated)
	if p.registry != nil {
		p.registry.Deregister(w.ID)
	}
}

// oldestIdleLocked returns the idle worker with the oldest LastActive.
func (p *Pool) oldestIdleLocked() *types.Agent {
	var oldest *types.Agent
	var oldestAt time.Time
	for _, id := range p.order {
		w := p.workers[id]
		if w.GetStatus() != types.AgentIdle || w.Load() > 0 {
			continue
		}
		at := w.LastActiveTime()
		if oldest == nil || at.Before(oldestAt) {
			oldest = w
			oldestAt = at
		}
	}
	return oldest
}
