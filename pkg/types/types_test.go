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

package types

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgentDefaults(t *testing.T) {
	a := NewAgent("a1", AgentImplementation)

	assert.Equal(t, AgentInitializing, a.GetStatus())
	assert.Equal(t, 3, a.MaxConcurrentTasks)
	assert.Equal(t, []string{"coding", "refactoring", "api-design"}, a.Capabilities)
	assert.Equal(t, int64(1024), a.Limits.MemoryMB)
	assert.Zero(t, a.Load())
	assert.True(t, a.HasCapacity())
}

func TestAgentTaskAssignment(t *testing.T) {
	a := NewAgent("a1", AgentTesting)
	a.SetStatus(AgentIdle)

	assert.True(t, a.AssignTask("t1"))
	assert.Equal(t, AgentBusy, a.GetStatus())
	assert.Equal(t, []string{"t1"}, a.TaskIDs())

	assert.True(t, a.AssignTask("t2"))
	assert.True(t, a.AssignTask("t3"))
	assert.False(t, a.AssignTask("t4"), "assignment past MaxConcurrentTasks refused")
	assert.Equal(t, 3, a.Load())

	assert.True(t, a.ReleaseTask("t2"))
	assert.Equal(t, []string{"t1", "t3"}, a.TaskIDs(), "release preserves assignment order")
	assert.Equal(t, AgentBusy, a.GetStatus())

	assert.True(t, a.ReleaseTask("t1"))
	assert.True(t, a.ReleaseTask("t3"))
	assert.Equal(t, AgentIdle, a.GetStatus(), "drained agent returns to idle")
	assert.False(t, a.ReleaseTask("t3"), "double release is a no-op")
}

func TestErroredAgentRefusesTasks(t *testing.T) {
	a := NewAgent("a1", AgentImplementation)
	a.SetStatus(AgentError)
	assert.False(t, a.AssignTask("t1"))
	a.SetStatus(AgentTerminated)
	assert.False(t, a.AssignTask("t1"))
}

func TestRecordOutcome(t *testing.T) {
	a := NewAgent("a1", AgentImplementation)

	a.RecordOutcome("implementation", true, 1000, 0.9)
	rec := a.PerformanceFor("implementation")
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.SampleCount)
	assert.InDelta(t, 1.0, rec.SuccessRate, 1e-9)
	assert.InDelta(t, 1000, rec.AvgExecutionMs, 1e-9)
	assert.InDelta(t, 0.7, rec.QualityScore, 1e-9, "quality averages against the 0.5 starting point")

	a.RecordOutcome("implementation", false, 3000, -1)
	rec = a.PerformanceFor("implementation")
	assert.Equal(t, 2, rec.SampleCount)
	assert.InDelta(t, 0.5, rec.SuccessRate, 1e-9)
	assert.InDelta(t, 2000, rec.AvgExecutionMs, 1e-9)
	assert.InDelta(t, 0.7, rec.QualityScore, 1e-9, "negative score leaves the quality mean untouched")

	assert.Nil(t, a.PerformanceFor("research"))
}

func TestLastActiveMonotone(t *testing.T) {
	a := NewAgent("a1", AgentResearch)
	first := a.LastActiveTime()
	time.Sleep(2 * time.Millisecond)
	a.Touch()
	second := a.LastActiveTime()
	assert.True(t, second.After(first))

	a.Touch()
	assert.False(t, a.LastActiveTime().Before(second))
}

func TestAgentClone(t *testing.T) {
	a := NewAgent("a1", AgentReview)
	a.SetStatus(AgentIdle)
	require.True(t, a.AssignTask("t1"))
	a.RecordOutcome("review", true, 500, 0.8)
	a.LearningData = map[string]any{"pattern": "x"}

	cp := a.Clone()
	cp.Capabilities[0] = "mutated"
	require.True(t, cp.AssignTask("t2"))
	cp.RecordOutcome("review", false, 9000, 0.1)

	assert.Equal(t, "code-review", a.Capabilities[0])
	assert.Equal(t, []string{"t1"}, a.TaskIDs())
	assert.Equal(t, 1, a.PerformanceFor("review").SampleCount)
}

func TestAgentConcurrentAssignment(t *testing.T) {
	a := NewAgent("a1", AgentImplementation)
	a.SetStatus(AgentIdle)
	a.MaxConcurrentTasks = 10

	done := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		go func(n int) {
			done <- a.AssignTask(fmt.Sprintf("t%d", n))
		}(i)
	}
	accepted := 0
	for i := 0; i < 20; i++ {
		if <-done {
			accepted++
		}
	}
	assert.Equal(t, 10, accepted)
	assert.Equal(t, 10, a.Load())
}

func TestTaskClone(t *testing.T) {
	task := NewTask("t1", "implementation", "build", 2)
	task.DependsOn = []string{"t0"}
	started := time.Now()
	task.StartedAt = &started

	cp := task.Clone()
	cp.DependsOn[0] = "mutated"
	later := started.Add(time.Hour)
	cp.StartedAt = &later

	assert.Equal(t, "t0", task.DependsOn[0])
	assert.True(t, task.StartedAt.Equal(started))
}

func TestMessageBroadcast(t *testing.T) {
	m := &Message{ID: "m1", From: "a1"}
	assert.True(t, m.IsBroadcast())
	m.To = "a2"
	assert.False(t, m.IsBroadcast())
}

func TestDefaultResourceLimits(t *testing.T) {
	tests := []struct {
		typ   AgentType
		check func(t *testing.T, l ResourceLimits)
	}{
		{AgentImplementation, func(t *testing.T, l ResourceLimits) {
			assert.Equal(t, int64(120_000), l.CPUTimeMs)
			assert.Equal(t, int64(1024), l.MemoryMB)
		}},
		{AgentResearch, func(t *testing.T, l ResourceLimits) {
			assert.Equal(t, 200, l.NetworkCalls)
		}},
		{AgentDebugger, func(t *testing.T, l ResourceLimits) {
			assert.Equal(t, int64(600_000), l.ExecutionTimeoutMs)
		}},
		{AgentDocumentation, func(t *testing.T, l ResourceLimits) {
			assert.Equal(t, int64(512), l.MemoryMB)
			assert.Equal(t, int64(60_000), l.CPUTimeMs)
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			tt.check(t, DefaultResourceLimits(tt.typ))
		})
	}
}
