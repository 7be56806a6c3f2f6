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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	m, err := LoadManifest(writeManifest(t, `
apiVersion: hive/v1
kind: Swarm
sessions:
  - name: build-swarm
    project: widget
    topology: hierarchical
    max_agents: 8
    metadata:
      env: staging
    agents:
      - id: arch-1
        type: architect
      - id: rev-1
        type: review
    pools:
      - name: impl-pool
        type: implementation
        min_workers: 2
        max_workers: 5
        strategy: least-loaded
  - name: hub-swarm
    project: widget
    topology: star
    coordinator: hub
`))
	require.NoError(t, err)

	require.Len(t, m.Sessions, 2)
	s := m.Sessions[0]
	assert.Equal(t, "build-swarm", s.Name)
	assert.Equal(t, "hierarchical", s.Topology)
	assert.Equal(t, 8, s.MaxAgents)
	assert.Equal(t, "staging", s.Metadata["env"])
	require.Len(t, s.Agents, 2)
	assert.Equal(t, "architect", s.Agents[0].Type)
	require.Len(t, s.Pools, 1)
	assert.Equal(t, 5, s.Pools[0].MaxWorkers)
	assert.Equal(t, "hub", m.Sessions[1].Coordinator)
}

func TestLoadManifestExpandsEnv(t *testing.T) {
	t.Setenv("SWARM_PROJECT", "widget-prod")
	m, err := LoadManifest(writeManifest(t, `
sessions:
  - name: s1
    project: ${SWARM_PROJECT}
    topology: mesh
`))
	require.NoError(t, err)
	assert.Equal(t, "widget-prod", m.Sessions[0].Project)
}

func TestManifestValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"wrong kind", "kind: Project\nsessions: []\n", "unsupported kind"},
		{"unnamed session", "sessions:\n  - topology: mesh\n", "no name"},
		{
			"duplicate names",
			"sessions:\n  - name: s1\n    topology: mesh\n  - name: s1\n    topology: mesh\n",
			"duplicate session",
		},
		{"bad topology", "sessions:\n  - name: s1\n    topology: ring\n", "unknown topology"},
		{
			"star without hub",
			"sessions:\n  - name: s1\n    topology: star\n",
			"requires a coordinator",
		},
		{
			"bad agent type",
			"sessions:\n  - name: s1\n    topology: mesh\n    agents:\n      - id: a1\n        type: wizard\n",
			"unknown type",
		},
		{
			"pool min over max",
			"sessions:\n  - name: s1\n    topology: mesh\n    pools:\n      - name: p\n        type: testing\n        min_workers: 5\n        max_workers: 2\n",
			"exceeds max_workers",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadManifest(writeManifest(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
