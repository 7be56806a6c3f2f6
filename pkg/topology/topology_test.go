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

package topology_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivekit/hive/pkg/topology"
	"github.com/hivekit/hive/pkg/types"
)

func idleAgent(id string, typ types.AgentType) *types.Agent {
	a := types.NewAgent(id, typ)
	a.SetStatus(types.AgentIdle)
	return a
}

func TestNewUnknownKind(t *testing.T) {
	_, err := topology.New("ring", topology.Config{})
	require.Error(t, err)
	assert.Equal(t, types.CodeInvalidConfig, types.CodeOf(err))
}

func TestNewStarRequiresCoordinator(t *testing.T) {
	_, err := topology.New(topology.KindStar, topology.Config{})
	require.Error(t, err)
	assert.Equal(t, types.CodeInvalidConfig, types.CodeOf(err))
}

func TestAddAgentCapacity(t *testing.T) {
	for _, kind := range []topology.Kind{topology.KindHierarchical, topology.KindMesh, topology.KindStar} {
		t.Run(string(kind), func(t *testing.T) {
			topo, err := topology.New(kind, topology.Config{MaxAgents: 2, Coordinator: "a1"})
			require.NoError(t, err)

			require.NoError(t, topo.AddAgent(idleAgent("a1", types.AgentImplementation)))
			require.NoError(t, topo.AddAgent(idleAgent("a2", types.AgentImplementation)))

			err = topo.AddAgent(idleAgent("a3", types.AgentImplementation))
			require.Error(t, err)
			assert.Equal(t, types.CodeCapacityExceeded, types.CodeOf(err))
		})
	}
}

func TestRouteTaskPrefersMatchingType(t *testing.T) {
	topo, err := topology.New(topology.KindMesh, topology.Config{})
	require.NoError(t, err)

	impl := idleAgent("impl-1", types.AgentImplementation)
	test := idleAgent("test-1", types.AgentTesting)
	require.NoError(t, topo.AddAgent(impl))
	require.NoError(t, topo.AddAgent(test))

	id, err := topo.RouteTask(types.NewTask("t1", "testing", "run suite", 1))
	require.NoError(t, err)
	assert.Equal(t, "test-1", id)
}

func TestRouteTaskNoWorkers(t *testing.T) {
	topo, err := topology.New(topology.KindMesh, topology.Config{})
	require.NoError(t, err)

	busy := idleAgent("a1", types.AgentImplementation)
	busy.MaxConcurrentTasks = 1
	require.True(t, busy.AssignTask("other"))
	require.NoError(t, topo.AddAgent(busy))

	_, err = topo.RouteTask(types.NewTask("t1", "implementation", "work", 1))
	require.Error(t, err)
	assert.Equal(t, types.CodeNoWorkersAvailable, types.CodeOf(err))
}

func TestLoadBalanceMetric(t *testing.T) {
	topo, err := topology.New(topology.KindMesh, topology.Config{})
	require.NoError(t, err)

	even1 := idleAgent("a1", types.AgentImplementation)
	even2 := idleAgent("a2", types.AgentImplementation)
	require.True(t, even1.AssignTask("t1"))
	require.True(t, even2.AssignTask("t2"))
	require.NoError(t, topo.AddAgent(even1))
	require.NoError(t, topo.AddAgent(even2))

	m := topo.CalculateMetrics()
	assert.InDelta(t, 1.0, m.LoadBalance, 1e-9, "uniform load is perfectly balanced")
	assert.Empty(t, m.Bottlenecks)
}

func TestBottleneckDetection(t *testing.T) {
	topo, err := topology.New(topology.KindMesh, topology.Config{})
	require.NoError(t, err)

	hot := idleAgent("hot", types.AgentImplementation)
	hot.MaxConcurrentTasks = 10
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5", "t6"} {
		require.True(t, hot.AssignTask(id))
	}
	require.NoError(t, topo.AddAgent(hot))
	require.NoError(t, topo.AddAgent(idleAgent("cold-1", types.AgentImplementation)))
	require.NoError(t, topo.AddAgent(idleAgent("cold-2", types.AgentImplementation)))

	m := topo.CalculateMetrics()
	assert.Equal(t, []string{"hot"}, m.Bottlenecks)
	assert.Less(t, m.LoadBalance, 1.0)
}
