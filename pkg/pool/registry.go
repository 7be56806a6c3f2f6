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

package pool

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hivekit/hive/pkg/types"
)

// Registry is the process-wide agent directory. Pools register spawned
// workers here so sessions and topologies can resolve agent records by ID.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*types.Agent
	logger *zap.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents: make(map[string]*types.Agent),
		logger: logger,
	}
}

// Register adds an agent. Re-registering the same ID replaces the record.
func (r *Registry) Register(a *types.Agent) {
	r.mu.Lock()
	r.agents[a.ID] = a
	r.mu.Unlock()
	r.logger.Debug("agent registered",
		zap.String("agent_id", a.ID),
		zap.String("type", string(a.Type)))
}

// Deregister removes an agent. Unknown IDs are a no-op.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	_, found := r.agents[id]
	delete(r.agents, id)
	r.mu.Unlock()
	if found {
		r.logger.Debug("agent deregistered", zap.String("agent_id", id))
	}
}

// Get resolves an agent record by ID.
func (r *Registry) Get(id string) (*types.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// List returns every registered agent.
func (r *Registry) List() []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
