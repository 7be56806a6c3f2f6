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

package llm

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Range is an optional inclusive bound; zero values are open ends.
type Range struct {
	Min int `json:"min,omitempty" yaml:"min,omitempty" mapstructure:"min"`
	Max int `json:"max,omitempty" yaml:"max,omitempty" mapstructure:"max"`
}

// contains reports whether v falls inside the range.
func (r Range) contains(v int) bool {
	if r.Min > 0 && v < r.Min {
		return false
	}
	if r.Max > 0 && v > r.Max {
		return false
	}
	return true
}

// Condition is the conjunctive predicate of a routing rule. Empty fields
// match everything.
type Condition struct {
	TaskTypes    []TaskType   `json:"taskTypes,omitempty" yaml:"taskTypes,omitempty" mapstructure:"taskTypes"`
	Complexities []Complexity `json:"complexities,omitempty" yaml:"complexities,omitempty" mapstructure:"complexities"`
	ContextSize  Range        `json:"contextSize,omitempty" yaml:"contextSize,omitempty" mapstructure:"contextSize"`
	Iteration    Range        `json:"iteration,omitempty" yaml:"iteration,omitempty" mapstructure:"iteration"`
	AgentRoles   []string     `json:"agentRoles,omitempty" yaml:"agentRoles,omitempty" mapstructure:"agentRoles"`
}

// Matches evaluates the condition against task characteristics.
func (c Condition) Matches(tc TaskCharacteristics) bool {
	if len(c.TaskTypes) > 0 && !containsTaskType(c.TaskTypes, tc.TaskType) {
		return false
	}
	if len(c.Complexities) > 0 && !containsComplexity(c.Complexities, tc.Complexity) {
		return false
	}
	if !c.ContextSize.contains(tc.ContextSize) {
		return false
	}
	if !c.Iteration.contains(tc.Iteration) {
		return false
	}
	if len(c.AgentRoles) > 0 && !containsRole(c.AgentRoles, tc.AgentRole) {
		return false
	}
	return true
}

func containsTaskType(list []TaskType, v TaskType) bool {
	for _, t := range list {
		if t == v {
			return true
		}
	}
	return false
}

func containsComplexity(list []Complexity, v Complexity) bool {
	for _, c := range list {
		if c == v {
			return true
		}
	}
	return false
}

func containsRole(list []string, v string) bool {
	for _, r := range list {
		if strings.EqualFold(r, v) {
			return true
		}
	}
	return false
}

// RoutingRule maps matching requests to a target provider.
type RoutingRule struct {
	Name      string    `json:"name" yaml:"name" mapstructure:"name"`
	Condition Condition `json:"condition" yaml:"condition" mapstructure:"condition"`
	Provider  string    `json:"provider" yaml:"provider" mapstructure:"provider"`
	Priority  int       `json:"priority" yaml:"priority" mapstructure:"priority"`
	Reason    string    `json:"reason" yaml:"reason" mapstructure:"reason"`
}

// rulesFile is the on-disk shape of a routing rules document.
type rulesFile struct {
	Rules []RoutingRule `mapstructure:"rules"`
}

// LoadRules reads routing rules from a YAML file.
func LoadRules(path string) ([]RoutingRule, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var doc rulesFile
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	for i, r := range doc.Rules {
		if r.Provider == "" {
			return nil, fmt.Errorf("rule %d (%q) has no provider", i, r.Name)
		}
	}
	return doc.Rules, nil
}

// WatchRules watches a rules file and swaps the router's rule set whenever
// the file changes. Malformed updates are logged and skipped; the previous
// rules stay active. Returns a stop function.
func WatchRules(path string, router *Router, logger *zap.Logger) (func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch rules file: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				rules, err := LoadRules(path)
				if err != nil {
					logger.Warn("ignoring malformed rules update",
						zap.String("path", path), zap.Error(err))
					continue
				}
				router.SetRules(rules)
				logger.Info("routing rules reloaded",
					zap.String("path", path), zap.Int("rules", len(rules)))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("rules watcher error", zap.Error(err))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
