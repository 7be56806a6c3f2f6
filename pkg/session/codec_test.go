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
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivekit/hive/pkg/pool"
	"github.com/hivekit/hive/pkg/topology"
	"github.com/hivekit/hive/pkg/types"
)

func buildSession(t *testing.T) *Session {
	t.Helper()
	topo, err := topology.New(topology.KindMesh, topology.Config{MaxAgents: 5})
	require.NoError(t, err)

	a1 := types.NewAgent("a1", types.AgentImplementation)
	a1.SetStatus(types.AgentIdle)
	a2 := types.NewAgent("a2", types.AgentReview)
	a2.SetStatus(types.AgentIdle)
	require.NoError(t, topo.AddAgent(a1))
	require.NoError(t, topo.AddAgent(a2))

	started := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	s := &Session{
		ID:           "sess-roundtrip",
		ProjectID:    "proj-1",
		Name:         "roundtrip",
		Kind:         topology.KindMesh,
		Status:       StatusActive,
		Config:       Config{MaxAgents: 5, MaxConcurrentTasks: 10, CheckpointInterval: 5 * time.Minute, MaxCheckpoints: 10},
		Metadata:     map[string]string{"env": "test"},
		Topology:     topo,
		Pools:        make(map[string]*pool.Pool),
		State:        newState(),
		StartedAt:    started,
		LastActiveAt: started.Add(time.Minute),
	}
	s.State.ActiveAgents["a1"] = a1
	s.State.ActiveAgents["a2"] = a2
	s.State.ActiveTasks["t2"] = types.NewTask("t2", "review", "review the widget", 1)
	s.State.TaskQueue = []string{"t2"}
	s.State.CompletedTasks = []string{"t1"}
	s.State.WorkingMemory["draft"] = "widget sketch"
	s.State.SharedContext["goal"] = "ship the widget"
	s.State.NextActions = []string{"review t2"}
	s.State.TasksCompleted = 1
	s.State.TasksTotal = 2
	s.State.TopologySnap = topo.Snapshot()

	cpTime := started.Add(30 * time.Second)
	s.Checkpoints = append(s.Checkpoints, &Checkpoint{
		ID:        "ckpt-1",
		SessionID: s.ID,
		Timestamp: cpTime,
		Reason:    "baseline",
		Snapshot:  s.State.clone(),
		Metadata:  map[string]string{"by": "test"},
	})
	return s
}

func TestSessionArtifactRoundTrip(t *testing.T) {
	s := buildSession(t)

	data, err := encodeSession(s)
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(data, gzipMagic), "small artifacts stay uncompressed")

	got, err := decodeSession(data)
	require.NoError(t, err)

	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.ProjectID, got.ProjectID)
	assert.Equal(t, s.Kind, got.Kind)
	assert.Equal(t, s.Status, got.Status)
	assert.Equal(t, s.Config, got.Config)
	assert.Equal(t, s.Metadata, got.Metadata)
	assert.True(t, s.StartedAt.Equal(got.StartedAt))
	assert.True(t, s.LastActiveAt.Equal(got.LastActiveAt))

	assert.Equal(t, 1, got.State.TasksCompleted)
	assert.Equal(t, 2, got.State.TasksTotal)
	assert.Equal(t, []string{"t2"}, got.State.TaskQueue)
	assert.Equal(t, []string{"t1"}, got.State.CompletedTasks)
	assert.Equal(t, "widget sketch", got.State.WorkingMemory["draft"])
	assert.Equal(t, "ship the widget", got.State.SharedContext["goal"])

	restored, ok := got.State.ActiveAgents["a1"]
	require.True(t, ok)
	assert.Equal(t, types.AgentImplementation, restored.Type)
	assert.Equal(t, types.AgentIdle, restored.GetStatus())
	task, ok := got.State.ActiveTasks["t2"]
	require.True(t, ok)
	assert.Equal(t, "review", task.Type)

	require.Len(t, got.Checkpoints, 1)
	cp := got.Checkpoints[0]
	assert.Equal(t, "ckpt-1", cp.ID)
	assert.Equal(t, "baseline", cp.Reason)
	assert.True(t, s.Checkpoints[0].Timestamp.Equal(cp.Timestamp))
	assert.Equal(t, 1, cp.Snapshot.TasksCompleted)

	// The rebuilt topology must answer routing queries.
	assert.ElementsMatch(t, []string{"a2"}, got.Topology.Neighbors("a1"))
}

func TestArtifactEncodingIsDeterministic(t *testing.T) {
	s := buildSession(t)
	first, err := encodeSession(s)
	require.NoError(t, err)
	second, err := encodeSession(s)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same state encodes to identical bytes")

	// Ordered pair encoding: a2 must not appear before a1.
	doc := string(first)
	assert.Less(t, strings.Index(doc, `"a1"`), strings.Index(doc, `"a2"`))
}

func TestLargeArtifactsAreCompressed(t *testing.T) {
	s := buildSession(t)
	s.State.WorkingMemory["blob"] = strings.Repeat("x", 2<<20)

	data, err := encodeSession(s)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, gzipMagic))
	assert.Less(t, len(data), 2<<20, "compression shrinks the artifact")

	got, err := decodeSession(data)
	require.NoError(t, err)
	assert.Len(t, got.State.WorkingMemory["blob"], 2<<20)
}

func TestTimestampsNormalizeToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	in := time.Date(2026, 1, 2, 12, 0, 0, 0, loc)
	out, err := parseTime(formatTime(in))
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
	assert.Equal(t, time.UTC, out.Location())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := decodeSession([]byte("{not json"))
	assert.Error(t, err)
	_, err = decodeSession([]byte("{}"))
	assert.Error(t, err, "artifacts without a session ID are invalid")
}
