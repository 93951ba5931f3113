/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package executor

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/frontier"
	"github.com/numaproj/deltaflow/pkg/graph"
)

// NodeState is the checkpointed state of one node on one worker.
type NodeState struct {
	Node   string
	Worker int
	Data   []byte
}

type nodeBlob struct {
	Frontier frontier.Antichain `json:"frontier"`
	State    []byte             `json:"state,omitempty"`
	Queued   []collection.Batch `json:"queued,omitempty"`
}

// Snapshot captures the operator state, frontier and queued deltas of every
// node on every worker. It is taken between steps.
func (e *Executor) Snapshot() ([]NodeState, error) {
	out := make([]NodeState, 0, len(e.workers)*len(e.graph.Nodes))
	for _, w := range e.workers {
		for _, n := range e.graph.Nodes {
			state, err := w.sched.Snapshot(n.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to snapshot node %q on worker %d: %w", n.Name, w.id, err)
			}
			data, err := json.Marshal(nodeBlob{
				Frontier: w.sched.Frontier(n.ID),
				State:    state,
				Queued:   w.sched.Queued(n.ID),
			})
			if err != nil {
				return nil, err
			}
			out = append(out, NodeState{Node: n.Name, Worker: w.id, Data: data})
		}
	}
	return out, nil
}

// Restore installs states taken by Snapshot on an executor with the same
// graph and number of workers. Input frontiers resume from the restored
// frontiers of the Input nodes.
func (e *Executor) Restore(states []NodeState) error {
	type slot struct {
		node   graph.NodeID
		worker int
	}
	blobs := make(map[slot][]byte, len(states))
	for _, s := range states {
		id, ok := e.graph.Lookup(s.Node)
		if !ok {
			return fmt.Errorf("checkpoint holds unknown node %q", s.Node)
		}
		if s.Worker < 0 || s.Worker >= len(e.workers) {
			return fmt.Errorf("checkpoint holds worker %d, executor runs %d workers", s.Worker, len(e.workers))
		}
		blobs[slot{id, s.Worker}] = s.Data
	}
	for _, n := range e.graph.Nodes {
		var global frontier.Antichain
		for _, w := range e.workers {
			data, ok := blobs[slot{n.ID, w.id}]
			if !ok {
				return fmt.Errorf("checkpoint misses node %q on worker %d", n.Name, w.id)
			}
			var b nodeBlob
			if err := json.Unmarshal(data, &b); err != nil {
				return fmt.Errorf("failed to decode node %q on worker %d: %w", n.Name, w.id, err)
			}
			if err := w.sched.Restore(n.ID, b.State, b.Frontier); err != nil {
				return err
			}
			for port, queued := range b.Queued {
				if err := w.sched.Push(n.ID, port, queued); err != nil {
					return err
				}
			}
			global = global.Meet(b.Frontier)
		}
		e.frontiers[n.ID] = global
		if _, open := e.sources[n.ID]; open {
			e.sources[n.ID] = global
		}
	}
	return nil
}
