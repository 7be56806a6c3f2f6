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

package llm_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivekit/hive/pkg/llm"
	"github.com/hivekit/hive/pkg/llm/llmtest"
)

func TestConditionMatches(t *testing.T) {
	tests := []struct {
		name string
		cond llm.Condition
		tc   llm.TaskCharacteristics
		want bool
	}{
		{
			name: "empty condition matches everything",
			tc:   llm.TaskCharacteristics{TaskType: llm.TaskDebugging},
			want: true,
		},
		{
			name: "task type match",
			cond: llm.Condition{TaskTypes: []llm.TaskType{llm.TaskResearch}},
			tc:   llm.TaskCharacteristics{TaskType: llm.TaskResearch},
			want: true,
		},
		{
			name: "task type mismatch",
			cond: llm.Condition{TaskTypes: []llm.TaskType{llm.TaskResearch}},
			tc:   llm.TaskCharacteristics{TaskType: llm.TaskGeneration},
			want: false,
		},
		{
			name: "conjunctive: type matches but complexity does not",
			cond: llm.Condition{
				TaskTypes:    []llm.TaskType{llm.TaskGeneration},
				Complexities: []llm.Complexity{llm.ComplexityHigh},
			},
			tc:   llm.TaskCharacteristics{TaskType: llm.TaskGeneration, Complexity: llm.ComplexityLow},
			want: false,
		},
		{
			name: "context size within range",
			cond: llm.Condition{ContextSize: llm.Range{Min: 1000, Max: 50000}},
			tc:   llm.TaskCharacteristics{ContextSize: 20000},
			want: true,
		},
		{
			name: "context size below min",
			cond: llm.Condition{ContextSize: llm.Range{Min: 1000}},
			tc:   llm.TaskCharacteristics{ContextSize: 10},
			want: false,
		},
		{
			name: "iteration above max",
			cond: llm.Condition{Iteration: llm.Range{Max: 3}},
			tc:   llm.TaskCharacteristics{Iteration: 7},
			want: false,
		},
		{
			name: "agent role case-insensitive",
			cond: llm.Condition{AgentRoles: []string{"Architect"}},
			tc:   llm.TaskCharacteristics{AgentRole: "architect"},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Matches(tt.tc))
		})
	}
}

const rulesYAML = `rules:
  - name: critical-to-anthropic
    condition:
      complexities: [critical]
    provider: anthropic
    priority: 10
    reason: critical work needs the strongest model
  - name: research-to-perplexity
    condition:
      taskTypes: [research]
    provider: perplexity
    priority: 5
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRules(t *testing.T) {
	rules, err := llm.LoadRules(writeRules(t, rulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "critical-to-anthropic", rules[0].Name)
	assert.Equal(t, 10, rules[0].Priority)
	assert.Equal(t, []llm.Complexity{llm.ComplexityCritical}, rules[0].Condition.Complexities)
	assert.Equal(t, "perplexity", rules[1].Provider)
}

func TestLoadRulesRejectsMissingProvider(t *testing.T) {
	_, err := llm.LoadRules(writeRules(t, "rules:\n  - name: broken\n    priority: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider")
}

func TestWatchRulesReloads(t *testing.T) {
	path := writeRules(t, rulesYAML)
	router, err := llm.NewRouter(llm.RouterConfig{DefaultProvider: "ollama"})
	require.NoError(t, err)
	router.RegisterProvider(llmtest.New("ollama"))

	stop, err := llm.WatchRules(path, router, nil)
	require.NoError(t, err)
	defer stop()

	updated := `rules:
  - name: everything-local
    provider: ollama
    priority: 1
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		rules := router.Rules()
		return len(rules) == 1 && rules[0].Name == "everything-local"
	}, 3*time.Second, 20*time.Millisecond)

	// A malformed update is skipped and the previous rules stay active.
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: broken\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	rules := router.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "everything-local", rules[0].Name)
}
