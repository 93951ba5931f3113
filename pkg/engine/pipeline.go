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

// Package engine runs a pipeline: it reads sources into the executor, hands
// finalised output to sinks, checkpoints state and restores it on start.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/connector"
	"github.com/numaproj/deltaflow/pkg/executor"
	"github.com/numaproj/deltaflow/pkg/frontier"
	"github.com/numaproj/deltaflow/pkg/graph"
	"github.com/numaproj/deltaflow/pkg/metrics"
	"github.com/numaproj/deltaflow/pkg/persistence"
	"github.com/numaproj/deltaflow/pkg/persistence/store/fs"
	"github.com/numaproj/deltaflow/pkg/persistence/store/memory"
	"github.com/numaproj/deltaflow/pkg/persistence/store/redis"
	"github.com/numaproj/deltaflow/pkg/shared/logging"
	"github.com/numaproj/deltaflow/pkg/shared/util"
)

type sourceBinding struct {
	index    int
	name     string
	input    graph.NodeID
	schema   collection.Schema
	src      connector.Source
	timeline *frontier.Timeline
	// offset is the last offset handed to the executor, -1 before any.
	offset int64
	epoch  uint64
	done   bool
	// finalized is the last offset whose output every sink committed.
	finalized *atomic.Int64
}

type sinkBinding struct {
	output graph.NodeID
	sink   connector.Sink
}

// Pipeline is one running instance of a pipeline spec.
type Pipeline struct {
	name       string
	cfg        dfv1.EngineConfig
	opts       *options
	graph      *graph.Graph
	exec       *executor.Executor
	sources    []*sourceBinding
	sinks      []*sinkBinding
	queue      *connector.IngestQueue
	manager    *persistence.Manager
	maxBatches *atomic.Int64
	draining   *atomic.Bool
	stopped    *atomic.Bool
	started    *atomic.Bool
	cancel     context.CancelFunc
	done       chan struct{}
	readers    chan struct{}
	errLock    sync.Mutex
	err        error
	log        *zap.SugaredLogger
}

// New builds a pipeline. sources and sinks are keyed by the names of the
// Input and Output nodes they serve; every such node needs one.
func New(ctx context.Context, spec dfv1.PipelineSpec, cfg dfv1.EngineConfig, sources map[string]connector.Source, sinks map[string]connector.Sink, opts ...Option) (*Pipeline, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.config != nil {
		cfg = o.config.GetEngineConfig()
	}
	cfg = cfg.WithDefaults()

	g, err := graph.Build(spec, o.registry, o.compiler)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx).With("pipeline", g.Name)
	ctx = logging.WithLogger(ctx, log)

	p := &Pipeline{
		name:       g.Name,
		cfg:        cfg,
		opts:       o,
		graph:      g,
		queue:      connector.NewIngestQueue(g.Name, cfg.Ingest.MaxDepth, cfg.Ingest.ResumeDepth),
		maxBatches: atomic.NewInt64(int64(cfg.Ingest.MaxBatchesPerRound)),
		draining:   atomic.NewBool(false),
		stopped:    atomic.NewBool(false),
		started:    atomic.NewBool(false),
		done:       make(chan struct{}),
		readers:    make(chan struct{}),
		log:        log,
	}
	if err := p.bind(ctx, sources, sinks); err != nil {
		return nil, err
	}

	execOpts := []executor.Option{executor.WithWorkers(cfg.Workers), executor.WithBackoff(cfg.Exchange.GetBackoff())}
	if o.transport != nil {
		execOpts = append(execOpts, executor.WithTransport(o.transport))
	}
	if p.exec, err = executor.New(ctx, g, execOpts...); err != nil {
		return nil, err
	}

	if !cfg.Checkpoint.Disabled {
		store := o.store
		if store == nil {
			if store, err = newStore(ctx, cfg.Checkpoint); err != nil {
				return nil, err
			}
		}
		p.manager = persistence.NewManager(ctx, g.Name, store, cfg.Checkpoint)
	}
	return p, nil
}

func (p *Pipeline) bind(ctx context.Context, sources map[string]connector.Source, sinks map[string]connector.Sink) error {
	for _, id := range p.graph.Inputs() {
		n := p.graph.Node(id)
		src, ok := sources[n.Name]
		if !ok {
			return fmt.Errorf("no source for input %q", n.Name)
		}
		p.sources = append(p.sources, &sourceBinding{
			index:     len(p.sources),
			name:      n.Name,
			input:     id,
			schema:    n.Schema,
			src:       src,
			timeline:  frontier.NewTimeline(ctx, dfv1.DefaultTimelineCapacity),
			offset:    -1,
			finalized: atomic.NewInt64(-1),
		})
	}
	for _, id := range p.graph.Outputs() {
		n := p.graph.Node(id)
		sink, ok := sinks[n.Name]
		if !ok {
			return fmt.Errorf("no sink for output %q", n.Name)
		}
		p.sinks = append(p.sinks, &sinkBinding{output: id, sink: sink})
	}
	if len(sources) != len(p.sources) {
		return fmt.Errorf("%d sources given for %d inputs", len(sources), len(p.sources))
	}
	if len(sinks) != len(p.sinks) {
		return fmt.Errorf("%d sinks given for %d outputs", len(sinks), len(p.sinks))
	}
	return nil
}

func newStore(ctx context.Context, cfg dfv1.CheckpointConfig) (persistence.Store, error) {
	switch cfg.Store {
	case dfv1.CheckpointStoreFS:
		return fs.NewStore(ctx, cfg.Path)
	case dfv1.CheckpointStoreMemory:
		return memory.NewStore(), nil
	case dfv1.CheckpointStoreRedis:
		return redis.NewStore(cfg.RedisURL)
	}
	return nil, fmt.Errorf("unknown checkpoint store %q", cfg.Store)
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) Graph() *graph.Graph { return p.graph }

// Start restores the latest checkpoint, if any, and starts reading sources.
// It returns once the pipeline runs; Wait blocks until it stops.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CAS(false, true) {
		return ErrStarted
	}
	if err := p.restore(ctx); err != nil {
		close(p.done)
		p.setErr(err)
		return err
	}
	ctx, p.cancel = context.WithCancel(ctx)

	var sched *cron.Cron
	if p.manager != nil && p.cfg.Checkpoint.Schedule != "" {
		sched = cron.New()
		if _, err := sched.AddFunc(p.cfg.Checkpoint.Schedule, p.manager.Request); err != nil {
			p.cancel()
			close(p.done)
			err = fmt.Errorf("invalid checkpoint schedule %q: %w", p.cfg.Checkpoint.Schedule, err)
			p.setErr(err)
			return err
		}
		sched.Start()
	}
	if p.opts.config != nil {
		p.opts.config.OnChange(p.reconfigure)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	var readers sync.WaitGroup
	for _, b := range p.sources {
		if b.done {
			continue
		}
		b := b
		readers.Add(1)
		eg.Go(func() error {
			defer readers.Done()
			return p.read(egCtx, b)
		})
	}
	go func() {
		readers.Wait()
		close(p.readers)
	}()
	eg.Go(func() error { return p.run(egCtx) })

	go func() {
		err := eg.Wait()
		if sched != nil {
			<-sched.Stop().Done()
		}
		p.cancel()
		p.setErr(multierr.Append(err, p.close()))
		if err != nil {
			p.log.Errorw("Pipeline failed", zap.Error(err))
		} else {
			p.log.Info("Pipeline stopped")
		}
		close(p.done)
	}()
	p.log.Infow("Pipeline started", zap.Int("workers", p.exec.Workers()), zap.Int("sources", len(p.sources)), zap.Int("sinks", len(p.sinks)))
	return nil
}

// DrainAndStop stops reading sources, finishes every open time, flushes
// the sinks, takes a final checkpoint and stops.
func (p *Pipeline) DrainAndStop(ctx context.Context) error {
	p.draining.Store(true)
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HardStop aborts the pipeline. A checkpoint in flight is rolled back.
func (p *Pipeline) HardStop() {
	p.stopped.Store(true)
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until the pipeline stopped and returns the error that stopped
// it, if any.
func (p *Pipeline) Wait() error {
	<-p.done
	return p.Err()
}

// Done is closed once the pipeline stopped.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

func (p *Pipeline) Err() error {
	p.errLock.Lock()
	defer p.errLock.Unlock()
	return p.err
}

func (p *Pipeline) setErr(err error) {
	p.errLock.Lock()
	defer p.errLock.Unlock()
	p.err = err
}

// FinalizedOffset returns the last offset of a source whose effects were
// committed by every sink.
func (p *Pipeline) FinalizedOffset(source string) (int64, bool) {
	for _, b := range p.sources {
		if b.name == source {
			off := b.finalized.Load()
			return off, off >= 0
		}
	}
	return -1, false
}

// QueueDepth returns the number of source batches waiting for the executor.
func (p *Pipeline) QueueDepth() int { return p.queue.Depth() }

// Paused reports whether reading is paused by backpressure.
func (p *Pipeline) Paused() bool { return p.queue.Paused() }

func (p *Pipeline) reconfigure(cfg dfv1.EngineConfig) {
	p.queue.SetLimits(cfg.Ingest.MaxDepth, cfg.Ingest.ResumeDepth)
	p.maxBatches.Store(int64(cfg.Ingest.MaxBatchesPerRound))
	if p.manager != nil {
		p.manager.Configure(cfg.Checkpoint)
	}
	p.log.Infow("Applied new configuration", zap.Int("maxDepth", cfg.Ingest.MaxDepth), zap.Uint64("checkpointInterval", cfg.Checkpoint.Interval))
}

// read polls a source and queues what it returns. Reading pauses while the
// queue is too deep and stops for good once draining.
func (p *Pipeline) read(ctx context.Context, b *sourceBinding) error {
	ticker := time.NewTicker(p.cfg.Ingest.GetPollInterval())
	defer ticker.Stop()
	var lastEpoch uint64
	for {
		if p.draining.Load() {
			return nil
		}
		if !p.queue.Paused() {
			batch, err := b.src.Read(ctx, p.cfg.Ingest.ReadBatchSize)
			switch {
			case err != nil && ctx.Err() != nil:
				return nil
			case err != nil:
				p.log.Warnw("Failed to read source", zap.String("source", b.name), zap.Error(err))
			case len(batch.Records) > 0 || batch.Done || batch.Epoch > lastEpoch:
				lastEpoch = batch.Epoch
				p.queue.Put(connector.Item{Source: b.index, Batch: batch})
				if batch.Done {
					return nil
				}
				if len(batch.Records) > 0 {
					continue
				}
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// run is the scheduling loop: it moves queued batches into the executor,
// steps it, writes released output and checkpoints.
func (p *Pipeline) run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Ingest.GetPollInterval())
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		draining := p.draining.Load()
		limit := int(p.maxBatches.Load())
		if draining {
			// a reader may still put the batch it was reading
			select {
			case <-p.readers:
			case <-ctx.Done():
				return nil
			}
			limit = 0
		}
		items := p.queue.Take(limit)
		for _, it := range items {
			if err := p.ingest(it); err != nil {
				return err
			}
		}
		if draining {
			for _, b := range p.sources {
				p.finish(b)
			}
		}
		released, err := p.exec.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := p.emit(ctx, released); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if p.exec.Quiescent() {
			if err := p.checkpoint(ctx, true); err != nil {
				return err
			}
			return nil
		}
		if err := p.checkpoint(ctx, false); err != nil {
			return err
		}
		if len(items) > 0 || len(released) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) finish(b *sourceBinding) {
	if !b.done {
		b.done = true
		p.exec.FinishSource(b.input)
	}
}

// ingest validates a source batch and hands it to the executor. A batch
// failing validation is rejected as a whole.
func (p *Pipeline) ingest(it connector.Item) error {
	b := p.sources[it.Source]
	if b.done {
		return nil
	}
	batch := it.Batch
	if batch.Epoch < b.epoch {
		batch.Epoch = b.epoch
	}
	if last, ok := batch.LastOffset(); ok {
		if err := batch.Validate(b.schema); err != nil {
			reason := "invalid"
			if collection.IsSchemaMismatch(err) {
				reason = "schema_mismatch"
			}
			metrics.SourceRejected.WithLabelValues(p.name, b.name, reason).Inc()
			p.log.Warnw("Rejected source batch", zap.String("source", b.name), zap.Int64("offset", last), zap.Uint64("epoch", batch.Epoch), zap.Error(err))
			p.opts.onReject(b.name, err)
		} else if err := p.exec.Ingest(b.input, batch.Deltas()); err != nil {
			return fmt.Errorf("source %q: %w", b.name, err)
		}
		b.offset = last
		b.timeline.Put(frontier.Mark{Offset: last, Epoch: batch.Epoch})
	}
	if batch.Epoch > b.epoch {
		b.epoch = batch.Epoch
		if err := p.exec.SetSourceFrontier(b.input, frontier.NewAntichain(collection.NewTime(b.epoch))); err != nil {
			return err
		}
	}
	if batch.Done {
		p.finish(b)
	}
	return nil
}

// emit writes released deltas to the sinks, one committed time at a time,
// then records which source offsets are finalised.
func (p *Pipeline) emit(ctx context.Context, released map[graph.NodeID]collection.Batch) error {
	for _, s := range p.sinks {
		for _, group := range connector.GroupByTime(released[s.output]) {
			t := group[0].Time
			if err := p.retry(ctx, s.sink.Name(), "write", func() error { return s.sink.Write(ctx, t, group) }); err != nil {
				return err
			}
			if err := p.retry(ctx, s.sink.Name(), "commit", func() error { return s.sink.Commit(ctx, t) }); err != nil {
				return err
			}
			metrics.SinkWrites.WithLabelValues(p.name, s.sink.Name()).Add(float64(len(group)))
		}
	}
	closed := uint64(math.MaxUint64)
	for _, s := range p.sinks {
		if f := p.exec.Frontier(s.output); !f.Empty() && f.Epoch() < closed {
			closed = f.Epoch()
		}
	}
	for _, b := range p.sources {
		if closed == 0 {
			break
		}
		if off, ok := b.timeline.OffsetFor(closed - 1); ok && off > b.finalized.Load() {
			b.finalized.Store(off)
		}
	}
	return nil
}

func (p *Pipeline) retry(ctx context.Context, sink, op string, fn func() error) error {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, util.DefaultRetryBackoff, func(_ context.Context) (bool, error) {
		if lastErr = fn(); lastErr != nil {
			p.log.Warnw("Sink operation failed, retrying", zap.String("sink", sink), zap.String("op", op), zap.Error(lastErr))
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return fmt.Errorf("sink %q failed to %s: %w", sink, op, lastErr)
	}
	return nil
}

// checkpointEpoch is the epoch every open source reached.
func (p *Pipeline) checkpointEpoch() uint64 {
	var (
		lowest, highest uint64
		open            bool
	)
	for _, b := range p.sources {
		if b.epoch > highest {
			highest = b.epoch
		}
		if b.done {
			continue
		}
		if !open || b.epoch < lowest {
			lowest = b.epoch
			open = true
		}
	}
	if !open {
		return highest
	}
	return lowest
}

// checkpoint writes a checkpoint when one is due, or always when force is
// set. A failed write is rolled back and retried later; it does not stop
// the pipeline.
func (p *Pipeline) checkpoint(ctx context.Context, force bool) error {
	if p.manager == nil {
		return nil
	}
	epoch := p.checkpointEpoch()
	if !force && !p.manager.ShouldCheckpoint(epoch) {
		return nil
	}
	states, err := p.exec.Snapshot()
	if err != nil {
		return err
	}
	blobs := make([]persistence.Blob, len(states))
	for i, s := range states {
		blobs[i] = persistence.Blob{Operator: s.Node, Worker: s.Worker, Data: s.Data}
	}
	offsets := make(map[string]int64, len(p.sources))
	finalized := make(map[string]int64, len(p.sources))
	for _, b := range p.sources {
		offsets[b.name] = b.offset
		finalized[b.name] = b.finalized.Load()
	}
	if _, err := p.manager.Checkpoint(ctx, epoch, offsets, finalized, blobs); err != nil && ctx.Err() == nil {
		p.log.Errorw("Checkpoint failed", zap.Uint64("epoch", epoch), zap.Error(err))
	}
	return nil
}

// restore installs the latest checkpoint and seeks every source right after
// the offsets it reflects. The last restored offset is marked at the source
// epoch, so it is finalised once that epoch closes.
func (p *Pipeline) restore(ctx context.Context) error {
	if p.manager == nil {
		return nil
	}
	restored, err := p.manager.Restore(ctx)
	if err != nil || restored == nil {
		return err
	}
	states := make([]executor.NodeState, len(restored.Blobs))
	for i, b := range restored.Blobs {
		states[i] = executor.NodeState{Node: b.Operator, Worker: b.Worker, Data: b.Data}
	}
	if err := p.exec.Restore(states); err != nil {
		return &persistence.RecoveryFailure{Pipeline: p.name, Checkpoint: restored.Manifest.ID, Cause: err}
	}
	for _, b := range p.sources {
		off, ok := restored.Manifest.Offsets[b.name]
		if !ok {
			off = -1
		}
		if err := b.src.Seek(ctx, off); err != nil {
			return &persistence.RecoveryFailure{Pipeline: p.name, Checkpoint: restored.Manifest.ID, Cause: fmt.Errorf("failed to seek source %q: %w", b.name, err)}
		}
		b.offset = off
		if fin, ok := restored.Manifest.Finalized[b.name]; ok && fin <= off {
			b.finalized.Store(fin)
		}
		f, open := p.exec.SourceFrontier(b.input)
		switch {
		case !open || f.Empty():
			p.finish(b)
		default:
			b.epoch = f.Epoch()
		}
		if off >= 0 {
			b.timeline.Put(frontier.Mark{Offset: off, Epoch: b.epoch})
		}
	}
	p.log.Infow("Resumed from checkpoint", zap.String("checkpoint", restored.Manifest.ID), zap.Uint64("epoch", restored.Manifest.Time), zap.Any("offsets", restored.Manifest.Offsets))
	return nil
}

func (p *Pipeline) close() error {
	var err error
	for _, b := range p.sources {
		err = multierr.Append(err, b.src.Close())
	}
	for _, s := range p.sinks {
		err = multierr.Append(err, s.sink.Close())
	}
	if p.manager != nil {
		err = multierr.Append(err, p.manager.Close())
	}
	return multierr.Append(err, p.exec.Close())
}
