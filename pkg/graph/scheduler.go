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

package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/frontier"
	"github.com/numaproj/deltaflow/pkg/operator"
	"github.com/numaproj/deltaflow/pkg/shared/logging"
)

// Exchanger moves deltas bound for a keyed port to the workers owning their
// keys. It returns the part of the batch owned by the calling worker.
type Exchanger interface {
	Exchange(ctx context.Context, to NodeID, port int, batch collection.Batch) (collection.Batch, error)
}

// Scheduler runs the operators of one worker. It is not safe for concurrent
// use: the owning worker drives it round by round.
type Scheduler struct {
	graph    *Graph
	worker   int
	ops      []operator.Operator
	ctxs     []*operator.ExecContext
	trackers []*frontier.Tracker
	// inbox holds the deltas queued at every port of every node.
	inbox    [][]collection.Batch
	released map[NodeID]collection.Batch
	exchange Exchanger
	log      *zap.SugaredLogger
}

// NewScheduler instantiates the operators of g for one worker. ex may be nil
// when a single worker owns every key.
func NewScheduler(ctx context.Context, g *Graph, worker int, ex Exchanger) (*Scheduler, error) {
	ops, err := g.NewOperators()
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx).With("pipeline", g.Name, "worker", worker)
	s := &Scheduler{
		graph:    g,
		worker:   worker,
		ops:      ops,
		ctxs:     make([]*operator.ExecContext, len(g.Nodes)),
		trackers: make([]*frontier.Tracker, len(g.Nodes)),
		inbox:    make([][]collection.Batch, len(g.Nodes)),
		released: make(map[NodeID]collection.Batch),
		exchange: ex,
		log:      log,
	}
	for _, n := range g.Nodes {
		s.ctxs[n.ID] = &operator.ExecContext{
			Pipeline: g.Name,
			Node:     n.Name,
			Worker:   worker,
			Log:      log.With("node", n.Name),
		}
		s.trackers[n.ID] = frontier.NewTracker(n.Name)
		s.inbox[n.ID] = make([]collection.Batch, inboxPorts(n))
	}
	return s, nil
}

// inboxPorts is the number of queues a node needs. Input nodes have no
// connected ports but take ingested deltas on port 0.
func inboxPorts(n *Node) int {
	if n.Kind == dfv1.NodeKindInput {
		return 1
	}
	return len(n.Ports)
}

func (s *Scheduler) Worker() int { return s.worker }

func (s *Scheduler) Operator(id NodeID) operator.Operator { return s.ops[id] }

// Frontier returns the input frontier of a node as last advanced.
func (s *Scheduler) Frontier(id NodeID) frontier.Antichain { return s.trackers[id].Frontier() }

// Push queues a batch at a port. Deltas behind the node's frontier are late:
// they fail the push under the Strict policy and are dropped otherwise.
func (s *Scheduler) Push(id NodeID, port int, batch collection.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	open, late := s.trackers[id].Filter(batch)
	if len(late) > 0 {
		if s.graph.Nodes[id].Late == frontier.Strict {
			return s.trackers[id].Check(late[0].Time)
		}
		s.ctxs[id].DropLate("frontier_passed", late)
	}
	s.inbox[id][port] = append(s.inbox[id][port], open...)
	return nil
}

// Round steps every node holding queued deltas, in topological order, so a
// delta travels as far as it can within one round. Deltas sent back through
// feedback edges are stepped in the next round.
func (s *Scheduler) Round(ctx context.Context) error {
	for _, id := range s.graph.Order {
		n := s.graph.Nodes[id]
		for port, queued := range s.inbox[id] {
			if len(queued) == 0 {
				continue
			}
			s.inbox[id][port] = nil
			batch := collection.Consolidate(queued)
			if len(batch) == 0 {
				continue
			}
			out, err := s.ops[id].Step(s.ctxs[id], port, batch)
			if err != nil {
				return fmt.Errorf("node %q failed to step: %w", n.Name, err)
			}
			s.ctxs[id].Observe(n.Kind, len(batch), len(out))
			if err := s.emit(ctx, n, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Advance installs new input frontiers, indexed by NodeID, and lets the
// operators whose frontier moved compact state and release output. A
// frontier never passes deltas still queued at the node.
func (s *Scheduler) Advance(ctx context.Context, frontiers []frontier.Antichain) error {
	for _, id := range s.graph.Order {
		n := s.graph.Nodes[id]
		f := frontiers[id]
		for _, queued := range s.inbox[id] {
			f = f.Meet(frontier.NewAntichain(queued.Times()...))
		}
		changed, err := s.trackers[id].Advance(f)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		out, err := s.ops[id].Advance(s.ctxs[id], f)
		if err != nil {
			return fmt.Errorf("node %q failed to advance: %w", n.Name, err)
		}
		if err := s.emit(ctx, n, out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) emit(ctx context.Context, n *Node, out collection.Batch) error {
	if len(out) == 0 {
		return nil
	}
	if n.Kind == dfv1.NodeKindOutput {
		s.released[n.ID] = append(s.released[n.ID], out...)
		return nil
	}
	for _, ei := range n.Out {
		e := s.graph.Edges[ei]
		batch := out
		if s.exchange != nil && s.graph.Nodes[e.To].Keyed(e.Port) {
			local, err := s.exchange.Exchange(ctx, e.To, e.Port, out)
			if err != nil {
				return err
			}
			batch = local
		}
		if err := s.Push(e.To, e.Port, batch); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the least queued times at every port holding deltas.
func (s *Scheduler) Pending() map[frontier.Location]frontier.Antichain {
	out := make(map[frontier.Location]frontier.Antichain)
	for id, ports := range s.inbox {
		for port, queued := range ports {
			if len(queued) > 0 {
				out[frontier.Location{Node: id, Port: port}] = frontier.NewAntichain(queued.Times()...)
			}
		}
	}
	return out
}

// Idle reports whether no delta is queued anywhere.
func (s *Scheduler) Idle() bool {
	for _, ports := range s.inbox {
		for _, queued := range ports {
			if len(queued) > 0 {
				return false
			}
		}
	}
	return true
}

// Queued returns the deltas queued at every port of a node, consolidated.
func (s *Scheduler) Queued(id NodeID) []collection.Batch {
	out := make([]collection.Batch, len(s.inbox[id]))
	for port, queued := range s.inbox[id] {
		out[port] = collection.Consolidate(queued)
	}
	return out
}

// TakeReleased hands over the finalised deltas released by Output nodes
// since the last call.
func (s *Scheduler) TakeReleased() map[NodeID]collection.Batch {
	out := s.released
	s.released = make(map[NodeID]collection.Batch)
	return out
}

// Snapshot serialises the state of one node.
func (s *Scheduler) Snapshot(id NodeID) ([]byte, error) {
	return s.ops[id].Snapshot()
}

// Restore replaces the state of one node and resets its frontier.
func (s *Scheduler) Restore(id NodeID, data []byte, f frontier.Antichain) error {
	if err := s.ops[id].Restore(data); err != nil {
		return fmt.Errorf("failed to restore node %q: %w", s.graph.Nodes[id].Name, err)
	}
	s.trackers[id].Reset(f)
	return nil
}
