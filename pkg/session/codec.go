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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/hivekit/hive/pkg/pool"
	"github.com/hivekit/hive/pkg/topology"
	"github.com/hivekit/hive/pkg/types"
)

// compressionThreshold gzips artifacts above 1 MiB; reads sniff the gzip
// magic so either form loads.
const compressionThreshold = 1 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// sessionDoc is the persisted artifact, one JSON document per session.
// Map-valued state fields serialize as ordered [key, value] pair arrays so
// documents are byte-stable across encodes.
type sessionDoc struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"projectId"`
	Name        string            `json:"name"`
	Topology    topology.Kind     `json:"topology"`
	Status      Status            `json:"status"`
	Agents      []string          `json:"agents"`
	State       stateDoc          `json:"currentState"`
	Checkpoints []checkpointDoc   `json:"checkpoints"`
	Completed   int               `json:"tasksCompleted"`
	Total       int               `json:"tasksTotal"`
	StartedAt   string            `json:"startedAt"`
	LastActive  string            `json:"lastActiveAt"`
	CompletedAt string            `json:"completedAt,omitempty"`
	Config      Config            `json:"config"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type stateDoc struct {
	ActiveAgents   []pairDoc          `json:"activeAgents"`
	ActiveTasks    []pairDoc          `json:"activeTasks"`
	TaskQueue      []string           `json:"taskQueue"`
	CompletedTasks []string           `json:"completedTasks"`
	FailedTasks    []string           `json:"failedTasks"`
	WorkingMemory  []pairDoc          `json:"workingMemory"`
	SharedContext  []pairDoc          `json:"sharedContext"`
	NextActions    []string           `json:"nextActions"`
	TopologySnap   *topology.Snapshot `json:"topologyConfig,omitempty"`
	Completed      int                `json:"tasksCompleted"`
	Total          int                `json:"tasksTotal"`
}

type checkpointDoc struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Timestamp string            `json:"timestamp"`
	Reason    string            `json:"reason"`
	Snapshot  stateDoc          `json:"snapshot"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// pairDoc is one [key, value] entry of an ordered map encoding.
type pairDoc [2]json.RawMessage

func encodePairs[V any](m map[string]V) ([]pairDoc, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]pairDoc, 0, len(keys))
	for _, k := range keys {
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m[k])
		if err != nil {
			return nil, fmt.Errorf("encode value for %q: %w", k, err)
		}
		out = append(out, pairDoc{kb, vb})
	}
	return out, nil
}

func decodePairs[V any](pairs []pairDoc) (map[string]V, error) {
	out := make(map[string]V, len(pairs))
	for _, p := range pairs {
		var k string
		if err := json.Unmarshal(p[0], &k); err != nil {
			return nil, err
		}
		var v V
		if err := json.Unmarshal(p[1], &v); err != nil {
			return nil, fmt.Errorf("decode value for %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// formatTime normalizes timestamps to UTC RFC 3339 with nanoseconds, so
// lexicographic order equals chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func encodeState(st *State) (stateDoc, error) {
	agents, err := encodePairs(st.ActiveAgents)
	if err != nil {
		return stateDoc{}, err
	}
	tasks, err := encodePairs(st.ActiveTasks)
	if err != nil {
		return stateDoc{}, err
	}
	workingMem, err := encodePairs(st.WorkingMemory)
	if err != nil {
		return stateDoc{}, err
	}
	sharedCtx, err := encodePairs(st.SharedContext)
	if err != nil {
		return stateDoc{}, err
	}
	return stateDoc{
		ActiveAgents:   agents,
		ActiveTasks:    tasks,
		TaskQueue:      st.TaskQueue,
		CompletedTasks: st.CompletedTasks,
		FailedTasks:    st.FailedTasks,
		WorkingMemory:  workingMem,
		SharedContext:  sharedCtx,
		NextActions:    st.NextActions,
		TopologySnap:   st.TopologySnap,
		Completed:      st.TasksCompleted,
		Total:          st.TasksTotal,
	}, nil
}

func decodeState(doc stateDoc) (*State, error) {
	agents, err := decodePairs[*types.Agent](doc.ActiveAgents)
	if err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	tasks, err := decodePairs[*types.Task](doc.ActiveTasks)
	if err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	workingMem, err := decodePairs[any](doc.WorkingMemory)
	if err != nil {
		return nil, fmt.Errorf("decode working memory: %w", err)
	}
	sharedCtx, err := decodePairs[any](doc.SharedContext)
	if err != nil {
		return nil, fmt.Errorf("decode shared context: %w", err)
	}
	return &State{
		ActiveAgents:   agents,
		ActiveTasks:    tasks,
		TaskQueue:      doc.TaskQueue,
		CompletedTasks: doc.CompletedTasks,
		FailedTasks:    doc.FailedTasks,
		WorkingMemory:  workingMem,
		SharedContext:  sharedCtx,
		NextActions:    doc.NextActions,
		TopologySnap:   doc.TopologySnap,
		TasksCompleted: doc.Completed,
		TasksTotal:     doc.Total,
	}, nil
}

// encodeSession serializes the session to its artifact form. Callers hold
// the session mutex.
func encodeSession(s *Session) ([]byte, error) {
	st, err := encodeState(s.State)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}

	agentIDs := make([]string, 0, len(s.State.ActiveAgents))
	for id := range s.State.ActiveAgents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	doc := sessionDoc{
		ID:         s.ID,
		ProjectID:  s.ProjectID,
		Name:       s.Name,
		Topology:   s.Kind,
		Status:     s.Status,
		Agents:     agentIDs,
		State:      st,
		Completed:  s.State.TasksCompleted,
		Total:      s.State.TasksTotal,
		StartedAt:  formatTime(s.StartedAt),
		LastActive: formatTime(s.LastActiveAt),
		Config:     s.Config,
		Metadata:   s.Metadata,
	}
	if s.CompletedAt != nil {
		doc.CompletedAt = formatTime(*s.CompletedAt)
	}
	for _, cp := range s.Checkpoints {
		snap, err := encodeState(cp.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("encode checkpoint %s: %w", cp.ID, err)
		}
		doc.Checkpoints = append(doc.Checkpoints, checkpointDoc{
			ID:        cp.ID,
			SessionID: cp.SessionID,
			Timestamp: formatTime(cp.Timestamp),
			Reason:    cp.Reason,
			Snapshot:  snap,
			Metadata:  cp.Metadata,
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if len(data) > compressionThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return data, nil
}

// decodeSession rebuilds a session from its artifact. The topology is
// reconstructed from the state's snapshot; the auto-checkpoint timer is
// not started here.
func decodeSession(data []byte) (*Session, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open gzip artifact: %w", err)
		}
		defer zr.Close()
		data, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompress artifact: %w", err)
		}
	}

	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("artifact has no session ID")
	}

	st, err := decodeState(doc.State)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        doc.ID,
		ProjectID: doc.ProjectID,
		Name:      doc.Name,
		Kind:      doc.Topology,
		Status:    doc.Status,
		Config:    doc.Config,
		Metadata:  doc.Metadata,
		State:     st,
	}
	if s.StartedAt, err = parseTime(doc.StartedAt); err != nil {
		return nil, fmt.Errorf("parse startedAt: %w", err)
	}
	if s.LastActiveAt, err = parseTime(doc.LastActive); err != nil {
		return nil, fmt.Errorf("parse lastActiveAt: %w", err)
	}
	if doc.CompletedAt != "" {
		completed, err := parseTime(doc.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("parse completedAt: %w", err)
		}
		s.CompletedAt = &completed
	}

	for _, cpd := range doc.Checkpoints {
		snap, err := decodeState(cpd.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", cpd.ID, err)
		}
		ts, err := parseTime(cpd.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse checkpoint timestamp: %w", err)
		}
		s.Checkpoints = append(s.Checkpoints, &Checkpoint{
			ID:        cpd.ID,
			SessionID: cpd.SessionID,
			Timestamp: ts,
			Reason:    cpd.Reason,
			Snapshot:  snap,
			Metadata:  cpd.Metadata,
		})
	}

	s.Topology, err = topology.New(s.Kind, topology.Config{
		MaxAgents:   s.Config.MaxAgents,
		Coordinator: coordinatorOf(st.TopologySnap),
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild topology: %w", err)
	}
	if st.TopologySnap != nil {
		if err := s.Topology.Restore(st.TopologySnap, st.ActiveAgents); err != nil {
			return nil, fmt.Errorf("restore topology: %w", err)
		}
	} else {
		for _, a := range st.ActiveAgents {
			if err := s.Topology.AddAgent(a); err != nil {
				return nil, fmt.Errorf("re-add agent %s: %w", a.ID, err)
			}
		}
	}
	s.Pools = make(map[string]*pool.Pool)
	return s, nil
}

func coordinatorOf(snap *topology.Snapshot) string {
	if snap == nil {
		return ""
	}
	return snap.Coordinator
}
