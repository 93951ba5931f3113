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

// Package executor runs a pipeline graph on a fixed number of workers. Every
// worker owns a scheduler over its own operator instances and the shard of
// keyed state that hashes to it; deltas for keys owned elsewhere travel
// through the exchange transport.
package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/exchange"
	"github.com/numaproj/deltaflow/pkg/frontier"
	"github.com/numaproj/deltaflow/pkg/graph"
	"github.com/numaproj/deltaflow/pkg/metrics"
	"github.com/numaproj/deltaflow/pkg/shared/logging"
	"github.com/numaproj/deltaflow/pkg/shuffle"
)

type worker struct {
	id    int
	sched *graph.Scheduler
}

// Executor drives the workers of one pipeline round by round. Its methods
// must be called from a single goroutine; the workers run in parallel inside
// Step.
type Executor struct {
	graph     *graph.Graph
	workers   []*worker
	transport exchange.Transport
	reducer   *frontier.Reducer
	// sources holds the frontier of every open Input node
	sources   map[graph.NodeID]frontier.Antichain
	frontiers []frontier.Antichain
	round     uint64
	log       *zap.SugaredLogger
}

func New(ctx context.Context, g *graph.Graph, opts ...Option) (*Executor, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.transport == nil {
		o.transport = exchange.NewLocalTransport(o.workers)
	}
	log := logging.FromContext(ctx).With("pipeline", g.Name)
	partitioner := shuffle.NewPartitioner(o.workers)
	e := &Executor{
		graph:     g,
		workers:   make([]*worker, o.workers),
		transport: o.transport,
		reducer:   frontier.NewReducer(o.workers),
		sources:   make(map[graph.NodeID]frontier.Antichain),
		frontiers: make([]frontier.Antichain, len(g.Nodes)),
		log:       log,
	}
	for i := range e.workers {
		r := &router{
			worker:      i,
			graph:       g,
			partitioner: partitioner,
			transport:   o.transport,
			backoff:     o.backoff,
			log:         log.With("worker", i),
		}
		sched, err := graph.NewScheduler(ctx, g, i, r)
		if err != nil {
			return nil, err
		}
		e.workers[i] = &worker{id: i, sched: sched}
	}
	for _, id := range g.Inputs() {
		e.sources[id] = frontier.Bottom()
	}
	for i := range e.frontiers {
		e.frontiers[i] = frontier.Bottom()
	}
	return e, nil
}

func (e *Executor) Graph() *graph.Graph { return e.graph }

func (e *Executor) Workers() int { return len(e.workers) }

// Frontier returns the input frontier of a node as of the last round.
func (e *Executor) Frontier(id graph.NodeID) frontier.Antichain { return e.frontiers[id] }

// Ingest hands a batch of source deltas to an Input node. Deltas are spread
// over the workers by row fingerprint.
func (e *Executor) Ingest(input graph.NodeID, batch collection.Batch) error {
	if e.graph.Node(input).Kind != dfv1.NodeKindInput {
		return fmt.Errorf("node %q is not an input", e.graph.Node(input).Name)
	}
	if _, open := e.sources[input]; !open {
		return fmt.Errorf("input %q is already finished", e.graph.Node(input).Name)
	}
	parts := make([]collection.Batch, len(e.workers))
	for _, d := range batch {
		w := int(d.Row.Fingerprint() % uint64(len(e.workers)))
		parts[w] = append(parts[w], d)
	}
	for i, part := range parts {
		if err := e.workers[i].sched.Push(input, 0, part); err != nil {
			return err
		}
	}
	return nil
}

// SetSourceFrontier promises that no delta before f will be ingested at the
// input any more.
func (e *Executor) SetSourceFrontier(input graph.NodeID, f frontier.Antichain) error {
	cur, open := e.sources[input]
	if !open {
		return nil
	}
	if !cur.Dominates(f) {
		return &frontier.RegressionError{Node: e.graph.Node(input).Name, From: cur, To: f}
	}
	e.sources[input] = f
	return nil
}

// FinishSource closes an input for good.
func (e *Executor) FinishSource(input graph.NodeID) {
	delete(e.sources, input)
}

// SourceFrontier returns the frontier of an input and whether it is still open.
func (e *Executor) SourceFrontier(input graph.NodeID) (frontier.Antichain, bool) {
	f, ok := e.sources[input]
	return f, ok
}

// Step runs one round on every worker and advances frontiers. It returns
// the finalised deltas released by every Output node.
func (e *Executor) Step(ctx context.Context) (map[graph.NodeID]collection.Batch, error) {
	e.round++
	if _, err := e.deliver(); err != nil {
		return nil, err
	}
	// Every pass moves exchanged deltas at least one keyed hop further.
	for pass := 0; pass < len(e.graph.Nodes); pass++ {
		if err := e.parallel(ctx, func(ctx context.Context, w *worker) error {
			return w.sched.Round(ctx)
		}); err != nil {
			return nil, err
		}
		delivered, err := e.deliver()
		if err != nil {
			return nil, err
		}
		if delivered == 0 {
			break
		}
	}
	for _, w := range e.workers {
		e.reducer.Publish(w.id, &frontier.Report{Worker: w.id, Round: e.round, Pending: w.sched.Pending()})
	}
	frontiers := e.graph.Frontiers(e.sources, e.reducer.Pending())
	if err := e.parallel(ctx, func(ctx context.Context, w *worker) error {
		return w.sched.Advance(ctx, frontiers)
	}); err != nil {
		return nil, err
	}
	e.frontiers = frontiers
	e.observe()
	return e.gather(), nil
}

// Quiescent reports whether every input is finished, nothing is queued
// anywhere and every frontier is empty.
func (e *Executor) Quiescent() bool {
	if len(e.sources) > 0 {
		return false
	}
	for _, w := range e.workers {
		if !w.sched.Idle() {
			return false
		}
	}
	for _, f := range e.frontiers {
		if !f.Empty() {
			return false
		}
	}
	return true
}

func (e *Executor) Close() error {
	return e.transport.Close()
}

// deliver pushes the exchanged deltas waiting in the mailboxes and returns
// how many messages it delivered.
func (e *Executor) deliver() (int, error) {
	n := 0
	for _, w := range e.workers {
		for _, m := range e.transport.Drain(w.id) {
			if err := w.sched.Push(graph.NodeID(m.Node), m.Port, m.Batch); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (e *Executor) parallel(ctx context.Context, fn func(context.Context, *worker) error) error {
	if len(e.workers) == 1 {
		return fn(ctx, e.workers[0])
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range e.workers {
		w := w
		g.Go(func() error {
			if err := fn(gctx, w); err != nil {
				return fmt.Errorf("worker %d: %w", w.id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Executor) gather() map[graph.NodeID]collection.Batch {
	out := make(map[graph.NodeID]collection.Batch)
	for _, w := range e.workers {
		for id, b := range w.sched.TakeReleased() {
			out[id] = append(out[id], b...)
		}
	}
	for id, b := range out {
		if b = collection.Consolidate(b); len(b) == 0 {
			delete(out, id)
		} else {
			out[id] = b
		}
	}
	return out
}

func (e *Executor) observe() {
	metrics.Rounds.WithLabelValues(e.graph.Name).Inc()
	for _, n := range e.graph.Nodes {
		epoch := float64(-1)
		if f := e.frontiers[n.ID]; !f.Empty() {
			epoch = float64(f.Epoch())
		}
		metrics.FrontierEpoch.WithLabelValues(e.graph.Name, n.Name).Set(epoch)
	}
	e.log.Debugw("Round finished", zap.Uint64("round", e.round))
}
