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

package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/collection/testutils"
	"github.com/numaproj/deltaflow/pkg/connector"
	"github.com/numaproj/deltaflow/pkg/exchange"
	"github.com/numaproj/deltaflow/pkg/persistence"
	"github.com/numaproj/deltaflow/pkg/persistence/store/memory"
)

const wordCountSpec = `
name: word-count
nodes:
  - name: words
    kind: Input
    schema:
      fields:
        - name: word
          type: string
  - name: counts
    kind: Reduce
    reduce:
      keys: [word]
      aggregates:
        - name: "n"
          function: count
  - name: out
    kind: Output
edges:
  - from: words
    to: counts
  - from: counts
    to: out
`

var R = testutils.R

func spec(t *testing.T) dfv1.PipelineSpec {
	t.Helper()
	s, err := dfv1.ParsePipelineSpec([]byte(wordCountSpec))
	require.NoError(t, err)
	return *s
}

func engineConfig(workers int) dfv1.EngineConfig {
	return dfv1.EngineConfig{
		Workers: workers,
		Ingest: dfv1.IngestConfig{
			ReadBatchSize: 4,
			PollInterval:  &metav1.Duration{Duration: time.Millisecond},
		},
		Checkpoint: dfv1.CheckpointConfig{Interval: 1, Store: dfv1.CheckpointStoreMemory},
	}
}

// appendWords adds epochs from to to of the test input. From the second
// epoch on, one word inserted in the previous epoch is retracted.
func appendWords(src *connector.MemorySource, from, to uint64) {
	for e := from; e <= to; e++ {
		for i := 0; i < 5; i++ {
			src.Append(e, 1, R(fmt.Sprintf("w%d", (int(e)+i)%7)))
		}
		if e > 1 {
			src.Append(e, -1, R(fmt.Sprintf("w%d", e%7)))
		}
	}
}

func startPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	require.NoError(t, p.Start(context.Background()))
}

func waitStopped(t *testing.T, p *Pipeline) error {
	t.Helper()
	select {
	case <-p.Done():
		return p.Err()
	case <-time.After(10 * time.Second):
		p.HardStop()
		<-p.Done()
		t.Fatal("pipeline did not stop")
		return nil
	}
}

// reference runs the whole input without interruption.
func reference(t *testing.T, epochs uint64) collection.Batch {
	t.Helper()
	src := connector.NewMemorySource("words")
	appendWords(src, 1, epochs)
	src.Finish()
	sink := connector.NewMemorySink("out")
	p, err := New(context.Background(), spec(t), engineConfig(1), map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink})
	require.NoError(t, err)
	startPipeline(t, p)
	require.NoError(t, waitStopped(t, p))
	return sink.Deltas()
}

func TestPipeline_RunsToCompletion(t *testing.T) {
	want := reference(t, 4)
	require.NotEmpty(t, want)
	final := testutils.Materialize(want, collection.MaxTime)
	// w2 is inserted in epochs 1 and 2 and retracted in epoch 2.
	assert.Equal(t, int64(1), final.Multiplicity(R("w2", 1)))
	assert.Equal(t, int64(1), final.Multiplicity(R("w1", 2)))
	assert.Zero(t, final.Multiplicity(R("w2", 2)))

	for _, workers := range []int{2, 4} {
		src := connector.NewMemorySource("words")
		appendWords(src, 1, 4)
		src.Finish()
		sink := connector.NewMemorySink("out")
		p, err := New(context.Background(), spec(t), engineConfig(workers), map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink})
		require.NoError(t, err)
		startPipeline(t, p)
		require.NoError(t, waitStopped(t, p))
		assert.Equal(t, want.String(), sink.Deltas().String(), "workers=%d", workers)
		assert.True(t, sink.Closed())
		off, ok := p.FinalizedOffset("words")
		assert.True(t, ok)
		assert.Equal(t, src.Position()-1, off)
	}
}

func TestPipeline_Bindings(t *testing.T) {
	src := connector.NewMemorySource("words")
	sink := connector.NewMemorySink("out")
	_, err := New(context.Background(), spec(t), engineConfig(1), map[string]connector.Source{}, map[string]connector.Sink{"out": sink})
	assert.Error(t, err)
	_, err = New(context.Background(), spec(t), engineConfig(1), map[string]connector.Source{"words": src}, nil)
	assert.Error(t, err)
	_, err = New(context.Background(), spec(t), engineConfig(1),
		map[string]connector.Source{"words": src, "other": src}, map[string]connector.Sink{"out": sink})
	assert.Error(t, err)

	cfg := engineConfig(1)
	cfg.Checkpoint.Store = "tape"
	_, err = New(context.Background(), spec(t), cfg, map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink})
	assert.Error(t, err)
}

func TestPipeline_RecoveryIdempotence(t *testing.T) {
	const epochs = 6
	want := reference(t, epochs)
	ctx := context.Background()
	store := memory.NewStore()
	src := connector.NewMemorySource("words")
	sink := connector.NewMemorySink("out")
	appendWords(src, 1, 3)

	first, err := New(ctx, spec(t), engineConfig(3), map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink}, WithStore(store))
	require.NoError(t, err)
	startPipeline(t, first)
	// Epochs 1 and 2 are closed once epoch 3 is read.
	require.Eventually(t, func() bool {
		off, ok := first.FinalizedOffset("words")
		return ok && off >= 10
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		m, err := store.LatestManifest(ctx, "word-count")
		return err == nil && m != nil && m.Time >= 3
	}, 5*time.Second, time.Millisecond)
	first.HardStop()
	require.NoError(t, waitStopped(t, first))

	appendWords(src, 4, epochs)
	src.Finish()
	second, err := New(ctx, spec(t), engineConfig(3), map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink}, WithStore(store))
	require.NoError(t, err)
	startPipeline(t, second)
	require.NoError(t, waitStopped(t, second))

	assert.Equal(t, want.String(), sink.Deltas().String())
}

func TestPipeline_RestoreKeepsFinalizedOffsets(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	src := connector.NewMemorySource("words")
	sink := connector.NewMemorySink("out")
	appendWords(src, 1, 3)
	cfg := engineConfig(2)
	// one batch per epoch, so the epoch 3 checkpoint holds every offset
	cfg.Ingest.ReadBatchSize = 100

	first, err := New(ctx, spec(t), cfg, map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink}, WithStore(store))
	require.NoError(t, err)
	startPipeline(t, first)
	require.Eventually(t, func() bool {
		m, err := store.LatestManifest(ctx, "word-count")
		return err == nil && m != nil && m.Time >= 3
	}, 5*time.Second, time.Millisecond)
	first.HardStop()
	require.NoError(t, waitStopped(t, first))

	m, err := store.LatestManifest(ctx, "word-count")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(16), m.Offsets["words"])
	// epochs 1 and 2 were closed, epoch 3 was still open
	assert.Equal(t, int64(10), m.Finalized["words"])

	second, err := New(ctx, spec(t), cfg, map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink}, WithStore(store))
	require.NoError(t, err)
	startPipeline(t, second)
	off, ok := second.FinalizedOffset("words")
	assert.True(t, ok)
	assert.Equal(t, int64(10), off)

	// no record is read again, yet closing epoch 3 finalises its offsets
	src.Finish()
	require.NoError(t, waitStopped(t, second))
	off, ok = second.FinalizedOffset("words")
	assert.True(t, ok)
	assert.Equal(t, int64(16), off)
}

func TestPipeline_DrainWaitsForReaders(t *testing.T) {
	src := &gatedSource{
		MemorySource: connector.NewMemorySource("words"),
		reading:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	appendWords(src.MemorySource, 1, 1)
	sink := connector.NewMemorySink("out")
	p, err := New(context.Background(), spec(t), engineConfig(2), map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink})
	require.NoError(t, err)
	startPipeline(t, p)
	<-src.reading

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	drained := make(chan error, 1)
	go func() { drained <- p.DrainAndStop(ctx) }()
	require.Eventually(t, p.draining.Load, 5*time.Second, time.Millisecond)
	// the read in flight returns after draining started
	close(src.release)
	require.NoError(t, <-drained)

	testutils.AssertZSetEqual(t,
		testutils.ZSetOf(R("w1", 1), R("w2", 1), R("w3", 1), R("w4", 1)),
		testutils.Materialize(sink.Deltas(), collection.MaxTime))
	off, ok := p.FinalizedOffset("words")
	assert.True(t, ok)
	assert.Equal(t, int64(3), off)
}

// gatedSource holds every read until released.
type gatedSource struct {
	*connector.MemorySource
	reading chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSource) Read(ctx context.Context, max int) (connector.ReadBatch, error) {
	s.once.Do(func() { close(s.reading) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return connector.ReadBatch{}, ctx.Err()
	}
	return s.MemorySource.Read(ctx, max)
}

func TestPipeline_CorruptCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	src := connector.NewMemorySource("words")
	appendWords(src, 1, 2)
	src.Finish()
	p, err := New(ctx, spec(t), engineConfig(1), map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": connector.NewMemorySink("out")}, WithStore(store))
	require.NoError(t, err)
	startPipeline(t, p)
	require.NoError(t, waitStopped(t, p))

	m, err := store.LatestManifest(ctx, "word-count")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.True(t, store.Corrupt(m.Blobs[0]))

	again, err := New(ctx, spec(t), engineConfig(1), map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": connector.NewMemorySink("out")}, WithStore(store))
	require.NoError(t, err)
	err = again.Start(ctx)
	require.Error(t, err)
	assert.True(t, persistence.IsRecoveryFailure(err))
	assert.True(t, IsFatal(err))
	assert.Equal(t, err, again.Wait())
}

func TestPipeline_RejectsInvalidBatches(t *testing.T) {
	src := connector.NewMemorySource("words")
	src.Append(1, 1, R("a"))
	src.Append(2, 1, R(42))
	src.Append(3, 1, R("a"))
	src.Finish()
	sink := connector.NewMemorySink("out")

	var (
		lock     sync.Mutex
		rejected []error
	)
	cfg := engineConfig(1)
	cfg.Ingest.ReadBatchSize = 1
	p, err := New(context.Background(), spec(t), cfg, map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink},
		WithOnReject(func(source string, err error) {
			lock.Lock()
			defer lock.Unlock()
			assert.Equal(t, "words", source)
			rejected = append(rejected, err)
		}))
	require.NoError(t, err)
	startPipeline(t, p)
	require.NoError(t, waitStopped(t, p))

	require.Len(t, rejected, 1)
	assert.True(t, collection.IsSchemaMismatch(rejected[0]))
	assert.False(t, IsFatal(rejected[0]))
	assert.Equal(t, collection.Batch{
		testutils.Insert(R("a", 1), 1),
		testutils.Retract(R("a", 1), 3),
		testutils.Insert(R("a", 2), 3),
	}, sink.Deltas())
}

func TestPipeline_DrainAndStop(t *testing.T) {
	src := connector.NewMemorySource("words")
	appendWords(src, 1, 3)
	sink := connector.NewMemorySink("out")
	store := memory.NewStore()
	p, err := New(context.Background(), spec(t), engineConfig(2), map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink}, WithStore(store))
	require.NoError(t, err)
	startPipeline(t, p)
	require.Eventually(t, func() bool { return src.Position() == 17 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.DrainAndStop(ctx))

	// Every epoch, the open one included, reached the sink.
	times := sink.Times()
	require.NotEmpty(t, times)
	assert.Equal(t, uint64(3), times[len(times)-1].Epoch)
	m, err := store.LatestManifest(context.Background(), "word-count")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(16), m.Offsets["words"])
}

func TestPipeline_HardStop(t *testing.T) {
	src := connector.NewMemorySource("words")
	appendWords(src, 1, 2)
	sink := connector.NewMemorySink("out")
	p, err := New(context.Background(), spec(t), engineConfig(2), map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink})
	require.NoError(t, err)
	startPipeline(t, p)
	assert.ErrorIs(t, p.Start(context.Background()), ErrStarted)
	p.HardStop()
	assert.NoError(t, p.Wait())
	assert.True(t, sink.Closed())
}

func TestPipeline_ExchangeFailure(t *testing.T) {
	src := connector.NewMemorySource("words")
	for i := 0; i < 40; i++ {
		src.Append(1, 1, R(fmt.Sprintf("w%d", i)))
	}
	src.Finish()
	steps := uint32(2)
	cfg := engineConfig(2)
	cfg.Ingest.ReadBatchSize = 100
	cfg.Exchange.BackOff = &dfv1.Backoff{Interval: &metav1.Duration{Duration: time.Millisecond}, Steps: &steps}
	tr := &exchange.FaultyTransport{Transport: exchange.NewLocalTransport(2), FailAlways: true}
	p, err := New(context.Background(), spec(t), cfg, map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": connector.NewMemorySink("out")},
		WithTransport(tr))
	require.NoError(t, err)
	startPipeline(t, p)
	err = waitStopped(t, p)
	require.Error(t, err)
	assert.True(t, exchange.IsPartitionExchangeFailure(err))
	assert.True(t, IsFatal(err))
}

func TestPipeline_Backpressure(t *testing.T) {
	src := connector.NewMemorySource("words")
	appendWords(src, 1, 10)
	src.Finish()
	sink := connector.NewMemorySink("out")
	cfg := engineConfig(1)
	cfg.Ingest.ReadBatchSize = 1
	cfg.Ingest.MaxDepth = 2
	cfg.Ingest.ResumeDepth = 1
	cfg.Ingest.MaxBatchesPerRound = 1
	p, err := New(context.Background(), spec(t), cfg, map[string]connector.Source{"words": src}, map[string]connector.Sink{"out": sink})
	require.NoError(t, err)
	startPipeline(t, p)

	maxDepth := 0
	for {
		if d := p.QueueDepth(); d > maxDepth {
			maxDepth = d
		}
		select {
		case <-p.Done():
			require.NoError(t, p.Err())
			// One reader overshoots by at most one batch.
			assert.LessOrEqual(t, maxDepth, 3)
			assert.Equal(t, reference(t, 10).String(), sink.Deltas().String())
			return
		case <-time.After(100 * time.Microsecond):
		}
	}
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(context.Canceled))
	assert.False(t, IsFatal(&collection.SchemaMismatch{Schema: "s", Message: "bad"}))
	assert.True(t, IsFatal(&persistence.RecoveryFailure{Pipeline: "p"}))
	assert.True(t, IsFatal(exchange.PartitionExchangeFailure{}))
	assert.True(t, IsFatal(fmt.Errorf("boom")))
}
