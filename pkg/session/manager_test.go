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

package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivekit/hive/pkg/comm"
	"github.com/hivekit/hive/pkg/pool"
	"github.com/hivekit/hive/pkg/session"
	"github.com/hivekit/hive/pkg/storage"
	"github.com/hivekit/hive/pkg/topology"
	"github.com/hivekit/hive/pkg/types"
)

func newManager(t *testing.T, store storage.ObjectStore) *session.Manager {
	t.Helper()
	m := session.NewManager(session.ManagerConfig{
		Store:    store,
		Bus:      comm.NewBus(nil, nil),
		Registry: pool.NewRegistry(nil),
	})
	t.Cleanup(m.Close)
	return m
}

func idleAgent(id string, typ types.AgentType) *types.Agent {
	a := types.NewAgent(id, typ)
	a.SetStatus(types.AgentIdle)
	return a
}

func TestCreateValidation(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	_, err := m.Create(ctx, "proj", "bad", topology.KindMesh, session.Config{}, nil)
	assert.True(t, types.IsCode(err, types.CodeInvalidConfig))

	_, err = m.Create(ctx, "proj", "bad", topology.KindStar, session.Config{MaxAgents: 4}, nil)
	assert.Error(t, err, "star sessions need a coordinator")

	s, err := m.Create(ctx, "proj", "ok", topology.KindMesh, session.Config{MaxAgents: 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, s.GetStatus())
	assert.Equal(t, 10, s.Config.MaxCheckpoints)
	assert.Equal(t, 5*time.Minute, s.Config.CheckpointInterval)
}

func TestListFilters(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	_, err := m.Create(ctx, "alpha", "a", topology.KindMesh, session.Config{MaxAgents: 2}, nil)
	require.NoError(t, err)
	s2, err := m.Create(ctx, "beta", "b", topology.KindHierarchical, session.Config{MaxAgents: 2}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Pause(ctx, s2.ID))

	assert.Len(t, m.List(session.Filter{}), 2)
	assert.Len(t, m.List(session.Filter{ProjectID: "alpha"}), 1)
	assert.Len(t, m.List(session.Filter{Status: session.StatusPaused}), 1)
	assert.Len(t, m.List(session.Filter{Kind: topology.KindMesh}), 1)
	assert.Empty(t, m.List(session.Filter{ProjectID: "alpha", Kind: topology.KindHierarchical}))
}

// Mirrors the basic delegation flow: a three-agent hierarchy routes an
// implementation task to the implementation agent.
func TestDispatchRoutesByType(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "delegation", topology.KindHierarchical, session.Config{MaxAgents: 3}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddAgent(ctx, s.ID, idleAgent("arch-1", types.AgentArchitect)))
	require.NoError(t, m.AddAgent(ctx, s.ID, idleAgent("rev-1", types.AgentReview)))
	require.NoError(t, m.AddAgent(ctx, s.ID, idleAgent("impl-1", types.AgentImplementation)))

	task := types.NewTask("t1", "implementation", "build the widget", 2)
	workerID, err := m.Dispatch(ctx, s.ID, task)
	require.NoError(t, err)
	assert.Equal(t, "impl-1", workerID)

	worker, ok := s.Agent("impl-1")
	require.True(t, ok)
	assert.Equal(t, types.AgentBusy, worker.GetStatus())
	assert.Equal(t, 1, worker.Load())
	assert.Equal(t, types.TaskRunning, task.Status)
	require.NotNil(t, task.StartedAt)

	_, total := s.Counters()
	assert.Equal(t, 1, total)
}

func TestDispatchDeliversDelegationMessage(t *testing.T) {
	bus := comm.NewBus(nil, nil)
	m := session.NewManager(session.ManagerConfig{Bus: bus})
	t.Cleanup(m.Close)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "msgs", topology.KindMesh, session.Config{MaxAgents: 2}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddAgent(ctx, s.ID, idleAgent("a1", types.AgentImplementation)))

	sub, err := bus.Subscribe(ctx, "a1", comm.AgentTopic("a1"), nil, 10)
	require.NoError(t, err)

	_, err = m.Dispatch(ctx, s.ID, types.NewTask("t1", "implementation", "", 1))
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel:
		assert.Equal(t, types.MessageTaskDelegation, msg.Type)
		assert.Equal(t, "t1", msg.Content["taskId"])
	case <-time.After(time.Second):
		t.Fatal("delegation message never arrived")
	}
}

func TestDispatchRefusedUnlessActive(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "paused", topology.KindMesh, session.Config{MaxAgents: 2}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddAgent(ctx, s.ID, idleAgent("a1", types.AgentImplementation)))
	require.NoError(t, m.Pause(ctx, s.ID))

	_, err = m.Dispatch(ctx, s.ID, types.NewTask("t1", "implementation", "", 1))
	assert.True(t, types.IsCode(err, types.CodePoolInactive))
}

func TestAddAgentCapacity(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "tiny", topology.KindMesh, session.Config{MaxAgents: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddAgent(ctx, s.ID, idleAgent("a1", types.AgentImplementation)))

	err = m.AddAgent(ctx, s.ID, idleAgent("a2", types.AgentImplementation))
	assert.True(t, types.IsCode(err, types.CodeCapacityExceeded))
}

func TestTaskLifecycle(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "tasks", topology.KindMesh, session.Config{MaxAgents: 2}, nil)
	require.NoError(t, err)

	task := types.NewTask("t1", "research", "", 1)
	require.NoError(t, m.AddTask(ctx, s.ID, task))
	_, total := s.Counters()
	assert.Equal(t, 1, total)

	require.NoError(t, m.UpdateTaskStatus(ctx, s.ID, "t1", types.TaskRunning))
	require.NotNil(t, task.StartedAt)

	require.NoError(t, m.UpdateTaskStatus(ctx, s.ID, "t1", types.TaskCompleted))
	completed, total := s.Counters()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, total)
	require.NotNil(t, task.CompletedAt)
	_, active := s.Task("t1")
	assert.False(t, active, "completed tasks leave the active set")

	err = m.UpdateTaskStatus(ctx, s.ID, "nope", types.TaskCompleted)
	assert.True(t, types.IsCode(err, types.CodeNotFound))
}

func TestFailedTaskDoesNotCount(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "fails", topology.KindMesh, session.Config{MaxAgents: 2}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddTask(ctx, s.ID, types.NewTask("t1", "research", "", 1)))
	require.NoError(t, m.UpdateTaskStatus(ctx, s.ID, "t1", types.TaskFailed))

	completed, total := s.Counters()
	assert.Equal(t, 0, completed)
	assert.Equal(t, 1, total)
}

func TestCheckpointRetention(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "ckpts", topology.KindMesh,
		session.Config{MaxAgents: 2, MaxCheckpoints: 2}, nil)
	require.NoError(t, err)

	for _, reason := range []string{"first", "second", "third"} {
		_, err := m.CreateCheckpoint(ctx, s.ID, reason, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.CheckpointCount())
	assert.Equal(t, []string{"second", "third"}, s.CheckpointReasons(), "oldest checkpoint is dropped")
}

func TestCheckpointPersistenceFailureKeepsInMemoryCopy(t *testing.T) {
	store := storage.NewMemStore()
	m := newManager(t, store)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "flaky", topology.KindMesh,
		session.Config{MaxAgents: 2, PersistToDisk: true}, nil)
	require.NoError(t, err)

	store.FailPuts = errors.New("disk full")
	cp, err := m.CreateCheckpoint(ctx, s.ID, "manual", nil)
	require.NotNil(t, cp)
	assert.True(t, types.IsCode(err, types.CodeCheckpointFailed))
	assert.Equal(t, 1, s.CheckpointCount())
	assert.Equal(t, session.StatusActive, s.GetStatus(), "status restored after checkpoint")
}

func TestResumeRestoresCheckpointState(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "resume", topology.KindMesh, session.Config{MaxAgents: 3}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddAgent(ctx, s.ID, idleAgent("a1", types.AgentImplementation)))
	require.NoError(t, m.AddTask(ctx, s.ID, types.NewTask("t1", "implementation", "", 1)))
	require.NoError(t, m.UpdateTaskStatus(ctx, s.ID, "t1", types.TaskCompleted))

	cp, err := m.CreateCheckpoint(ctx, s.ID, "baseline", nil)
	require.NoError(t, err)

	// Mutations after the checkpoint must not survive the rollback.
	require.NoError(t, m.AddTask(ctx, s.ID, types.NewTask("t2", "research", "", 1)))
	require.NoError(t, m.Pause(ctx, s.ID))

	require.NoError(t, m.Resume(ctx, s.ID, cp.ID))
	assert.Equal(t, session.StatusActive, s.GetStatus())
	completed, total := s.Counters()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, total)
	_, ok := s.Task("t2")
	assert.False(t, ok)
	_, ok = s.Agent("a1")
	assert.True(t, ok)

	err = m.Resume(ctx, s.ID, "ckpt-bogus")
	assert.True(t, types.IsCode(err, types.CodeNotFound))
}

// Auto-checkpoint ticks fire only while the session is active, and
// skipped ticks are never queued.
func TestAutoCheckpointTicker(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "auto", topology.KindMesh, session.Config{
		MaxAgents:          2,
		AutoCheckpoint:     true,
		CheckpointInterval: 50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return countReason(s.CheckpointReasons(), "auto") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Pause(ctx, s.ID))
	autoAtPause := countReason(s.CheckpointReasons(), "auto")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, autoAtPause, countReason(s.CheckpointReasons(), "auto"),
		"no auto checkpoints while paused")
}

func countReason(reasons []string, want string) int {
	n := 0
	for _, r := range reasons {
		if r == want {
			n++
		}
	}
	return n
}

func TestPersistAndReloadAcrossManagers(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	m1 := newManager(t, store)
	s, err := m1.Create(ctx, "proj", "durable", topology.KindMesh,
		session.Config{MaxAgents: 3, PersistToDisk: true}, map[string]string{"env": "test"})
	require.NoError(t, err)
	require.NoError(t, m1.AddAgent(ctx, s.ID, idleAgent("a1", types.AgentImplementation)))
	require.NoError(t, m1.AddTask(ctx, s.ID, types.NewTask("t1", "implementation", "", 1)))
	require.NoError(t, m1.UpdateTaskStatus(ctx, s.ID, "t1", types.TaskCompleted))
	_, err = m1.CreateCheckpoint(ctx, s.ID, "handoff", nil)
	require.NoError(t, err)

	// A corrupted artifact must not block the rest.
	require.NoError(t, store.Put(ctx, "sess-corrupt", []byte("{not json")))

	m2 := newManager(t, store)
	loaded, err := m2.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	restored, err := m2.Get(s.ID)
	require.NoError(t, err)
	completed, total := restored.Counters()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, total)
	assert.Equal(t, "test", restored.Metadata["env"])
	_, ok := restored.Agent("a1")
	assert.True(t, ok)
	assert.Equal(t, []string{"handoff"}, restored.CheckpointReasons())
}

func TestTerminateIsFinal(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "done", topology.KindMesh, session.Config{MaxAgents: 2}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Terminate(ctx, s.ID, "finished"))

	assert.Equal(t, session.StatusTerminated, s.GetStatus())
	assert.Equal(t, []string{"terminate: finished"}, s.CheckpointReasons())

	err = m.AddTask(ctx, s.ID, types.NewTask("t1", "research", "", 1))
	assert.True(t, types.IsCode(err, types.CodePoolInactive))
	err = m.Resume(ctx, s.ID, "")
	assert.True(t, types.IsCode(err, types.CodePoolInactive))

	require.NoError(t, m.Terminate(ctx, s.ID, "again"), "terminating twice is a no-op")
}

func TestSendMessageFollowsTopologyPath(t *testing.T) {
	bus := comm.NewBus(nil, nil)
	m := session.NewManager(session.ManagerConfig{Bus: bus})
	t.Cleanup(m.Close)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "star", topology.KindStar,
		session.Config{MaxAgents: 3, Coordinator: "hub"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddAgent(ctx, s.ID, idleAgent("hub", types.AgentArchitect)))
	require.NoError(t, m.AddAgent(ctx, s.ID, idleAgent("s1", types.AgentImplementation)))
	require.NoError(t, m.AddAgent(ctx, s.ID, idleAgent("s2", types.AgentImplementation)))

	hubSub, err := bus.Subscribe(ctx, "hub", comm.AgentTopic("hub"), nil, 10)
	require.NoError(t, err)
	s2Sub, err := bus.Subscribe(ctx, "s2", comm.AgentTopic("s2"), nil, 10)
	require.NoError(t, err)

	msg := &types.Message{ID: "m1", From: "s1", To: "s2", Type: types.MessageCoordination, Timestamp: time.Now()}
	path, err := m.SendMessage(ctx, s.ID, msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "hub", "s2"}, path.Hops)
	assert.Equal(t, 2, path.HopCount)

	for _, sub := range []<-chan *types.Message{hubSub.Channel, s2Sub.Channel} {
		select {
		case got := <-sub:
			assert.Equal(t, "m1", got.ID)
		case <-time.After(time.Second):
			t.Fatal("message never arrived")
		}
	}
}

func TestPoolLifecycleWithinSession(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, "proj", "pools", topology.KindMesh, session.Config{MaxAgents: 5}, nil)
	require.NoError(t, err)

	p, err := m.CreatePool(ctx, s.ID, pool.Config{
		AgentType:  types.AgentImplementation,
		MinWorkers: 2,
		MaxWorkers: 4,
	})
	require.NoError(t, err)
	workers := p.Workers()
	require.Len(t, workers, 2)
	for _, id := range workers {
		_, ok := s.Agent(id)
		assert.True(t, ok, "pool workers join the session")
	}

	require.NoError(t, m.TerminatePool(ctx, s.ID, p.ID()))
	for _, id := range workers {
		_, ok := s.Agent(id)
		assert.False(t, ok)
	}
	err = m.TerminatePool(ctx, s.ID, p.ID())
	assert.True(t, types.IsCode(err, types.CodeNotFound))
}
