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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest declares the swarm bootstrapped at startup: sessions with their
// agents and pools. Loaded from swarm.yaml; ${VAR} references expand from
// the environment before parsing.
type Manifest struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Sessions   []SessionManifest `yaml:"sessions"`
}

// SessionManifest declares one session to create at startup.
type SessionManifest struct {
	Name        string            `yaml:"name"`
	Project     string            `yaml:"project"`
	Topology    string            `yaml:"topology"`
	Coordinator string            `yaml:"coordinator"`
	MaxAgents   int               `yaml:"max_agents"`
	Metadata    map[string]string `yaml:"metadata"`
	Agents      []AgentManifest   `yaml:"agents"`
	Pools       []PoolManifest    `yaml:"pools"`
}

// AgentManifest declares one standalone agent inside a session.
type AgentManifest struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
}

// PoolManifest declares one worker pool inside a session.
type PoolManifest struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	MinWorkers int    `yaml:"min_workers"`
	MaxWorkers int    `yaml:"max_workers"`
	Strategy   string `yaml:"strategy"`
}

var validTopologies = map[string]bool{
	"hierarchical": true,
	"mesh":         true,
	"star":         true,
}

var validAgentTypes = map[string]bool{
	"architect":      true,
	"review":         true,
	"implementation": true,
	"testing":        true,
	"research":       true,
	"documentation":  true,
	"debugger":       true,
}

// LoadManifest reads and validates a swarm manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	expanded := os.Expand(string(data), os.Getenv)

	var m Manifest
	if err := yaml.Unmarshal([]byte(expanded), &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Validate checks the manifest for structural errors.
func (m *Manifest) Validate() error {
	if m.Kind != "" && m.Kind != "Swarm" {
		return fmt.Errorf("unsupported kind %q (want Swarm)", m.Kind)
	}
	seen := make(map[string]bool, len(m.Sessions))
	for i, s := range m.Sessions {
		if s.Name == "" {
			return fmt.Errorf("session %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate session name %q", s.Name)
		}
		seen[s.Name] = true
		if !validTopologies[s.Topology] {
			return fmt.Errorf("session %q: unknown topology %q", s.Name, s.Topology)
		}
		if s.Topology == "star" && s.Coordinator == "" {
			return fmt.Errorf("session %q: star topology requires a coordinator", s.Name)
		}
		for _, a := range s.Agents {
			if a.ID == "" {
				return fmt.Errorf("session %q: agent with empty ID", s.Name)
			}
			if !validAgentTypes[a.Type] {
				return fmt.Errorf("session %q: agent %q has unknown type %q", s.Name, a.ID, a.Type)
			}
		}
		for _, p := range s.Pools {
			if !validAgentTypes[p.Type] {
				return fmt.Errorf("session %q: pool %q has unknown agent type %q", s.Name, p.Name, p.Type)
			}
			if p.MinWorkers > p.MaxWorkers && p.MaxWorkers != 0 {
				return fmt.Errorf("session %q: pool %q min_workers %d exceeds max_workers %d",
					s.Name, p.Name, p.MinWorkers, p.MaxWorkers)
			}
		}
	}
	return nil
}
