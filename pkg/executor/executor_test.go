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
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/collection/testutils"
	"github.com/numaproj/deltaflow/pkg/exchange"
	"github.com/numaproj/deltaflow/pkg/frontier"
	"github.com/numaproj/deltaflow/pkg/graph"
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

func buildWordCount(t *testing.T) *graph.Graph {
	t.Helper()
	spec, err := dfv1.ParsePipelineSpec([]byte(wordCountSpec))
	require.NoError(t, err)
	g, err := graph.Build(*spec, nil, nil)
	require.NoError(t, err)
	return g
}

func at(epoch uint64) frontier.Antichain { return frontier.NewAntichain(testutils.T(epoch)) }

// wordEpochs builds random insertions and retractions of words over epochs
// 1 to n, never retracting more than was inserted.
func wordEpochs(seed int64, n int) []collection.Batch {
	rnd := rand.New(rand.NewSource(seed))
	live := make(map[string]int)
	out := make([]collection.Batch, n)
	for e := 1; e <= n; e++ {
		for i := 0; i < 30; i++ {
			w := fmt.Sprintf("w%d", rnd.Intn(12))
			if live[w] > 0 && rnd.Intn(3) == 0 {
				live[w]--
				out[e-1] = append(out[e-1], testutils.Retract(R(w), uint64(e)))
				continue
			}
			live[w]++
			out[e-1] = append(out[e-1], testutils.Insert(R(w), uint64(e)))
		}
	}
	return out
}

// expectedCounts is the word count of the batches, computed directly.
func expectedCounts(epochs []collection.Batch) *collection.ZSet {
	counts := make(map[string]int64)
	for _, b := range epochs {
		for _, d := range b {
			counts[d.Row.Field(0).AsString()] += d.Diff
		}
	}
	z := collection.NewZSet()
	for w, n := range counts {
		if n > 0 {
			z.Add(R(w, n), 1)
		}
	}
	return z
}

// drain finishes every input and steps until nothing is left.
func drain(t *testing.T, e *Executor, released map[graph.NodeID]collection.Batch) {
	t.Helper()
	for _, id := range e.Graph().Inputs() {
		e.FinishSource(id)
	}
	for i := 0; !e.Quiescent(); i++ {
		require.Less(t, i, 100, "executor did not quiesce")
		out, err := e.Step(context.Background())
		require.NoError(t, err)
		for id, b := range out {
			released[id] = append(released[id], b...)
		}
	}
}

func run(t *testing.T, e *Executor, epochs []collection.Batch, released map[graph.NodeID]collection.Batch) {
	t.Helper()
	in := e.Graph().Inputs()[0]
	for i, b := range epochs {
		epoch := uint64(i + 1)
		require.NoError(t, e.Ingest(in, b))
		require.NoError(t, e.SetSourceFrontier(in, at(epoch+1)))
		out, err := e.Step(context.Background())
		require.NoError(t, err)
		for id, b := range out {
			for _, d := range b {
				assert.True(t, d.Time.Epoch <= epoch, "released %s before it was closed", d)
			}
			released[id] = append(released[id], b...)
		}
	}
}

func TestExecutor_WordCountAnyWorkers(t *testing.T) {
	g := buildWordCount(t)
	out := g.Outputs()[0]
	epochs := wordEpochs(7, 6)
	want := expectedCounts(epochs)

	var reference collection.Batch
	for _, workers := range []int{1, 2, 3, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			e, err := New(context.Background(), g, WithWorkers(workers))
			require.NoError(t, err)
			defer func() { _ = e.Close() }()
			assert.Equal(t, workers, e.Workers())

			released := make(map[graph.NodeID]collection.Batch)
			run(t, e, epochs, released)
			drain(t, e, released)

			got := collection.Consolidate(released[out])
			testutils.AssertZSetEqual(t, want, testutils.Materialize(got, collection.MaxTime))
			if reference == nil {
				reference = got
				return
			}
			assert.Equal(t, reference.String(), got.String())
		})
	}
}

func TestExecutor_IngestIntoInput(t *testing.T) {
	tests := []struct {
		name    string
		workers int
	}{
		{"single worker", 1},
		{"spread over workers", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildWordCount(t)
			in, out := g.Inputs()[0], g.Outputs()[0]
			e, err := New(context.Background(), g, WithWorkers(tt.workers))
			require.NoError(t, err)
			defer func() { _ = e.Close() }()

			var batch collection.Batch
			for i := 0; i < 16; i++ {
				batch = append(batch, testutils.Insert(R(fmt.Sprintf("w%d", i%4)), 1))
			}
			require.NotPanics(t, func() { require.NoError(t, e.Ingest(in, batch)) })
			require.NoError(t, e.SetSourceFrontier(in, at(2)))
			released, err := e.Step(context.Background())
			require.NoError(t, err)
			assert.Equal(t, collection.Batch{
				testutils.Insert(R("w0", 4), 1),
				testutils.Insert(R("w1", 4), 1),
				testutils.Insert(R("w2", 4), 1),
				testutils.Insert(R("w3", 4), 1),
			}, collection.Consolidate(released[out]))
		})
	}
}

func TestExecutor_ReleasesOnlyClosedTimes(t *testing.T) {
	g := buildWordCount(t)
	in, out := g.Inputs()[0], g.Outputs()[0]
	e, err := New(context.Background(), g, WithWorkers(2))
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	require.NoError(t, e.Ingest(in, collection.Batch{testutils.Insert(R("a"), 1), testutils.Insert(R("a"), 2)}))
	require.NoError(t, e.SetSourceFrontier(in, at(2)))
	released, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, collection.Batch{testutils.Insert(R("a", 1), 1)}, released[out])
	assert.True(t, e.Frontier(out).Equal(at(2)))

	require.NoError(t, e.SetSourceFrontier(in, at(3)))
	released, err = e.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, collection.Batch{testutils.Retract(R("a", 1), 2), testutils.Insert(R("a", 2), 2)}, released[out])

	assert.Error(t, e.SetSourceFrontier(in, at(1)))
}

func TestExecutor_LateIngest(t *testing.T) {
	g := buildWordCount(t)
	in := g.Inputs()[0]
	e, err := New(context.Background(), g)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	require.NoError(t, e.SetSourceFrontier(in, at(5)))
	_, err = e.Step(context.Background())
	require.NoError(t, err)
	err = e.Ingest(in, collection.Batch{testutils.Insert(R("a"), 3)})
	require.Error(t, err)
	assert.True(t, frontier.IsLateData(err))

	e.FinishSource(in)
	assert.Error(t, e.Ingest(in, collection.Batch{testutils.Insert(R("a"), 6)}))
}

func TestExecutor_ExchangeFailure(t *testing.T) {
	g := buildWordCount(t)
	in := g.Inputs()[0]
	tr := &exchange.FaultyTransport{Transport: exchange.NewLocalTransport(2), FailAlways: true}
	e, err := New(context.Background(), g,
		WithWorkers(2),
		WithTransport(tr),
		WithBackoff(wait.Backoff{Duration: time.Millisecond, Steps: 2, Factor: 1}))
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	var batch collection.Batch
	for i := 0; i < 40; i++ {
		batch = append(batch, testutils.Insert(R(fmt.Sprintf("w%d", i)), 1))
	}
	require.NoError(t, e.Ingest(in, batch))
	_, err = e.Step(context.Background())
	require.Error(t, err)
	assert.True(t, exchange.IsPartitionExchangeFailure(err))
	assert.GreaterOrEqual(t, tr.Sends(), int64(2))
}

func TestExecutor_SnapshotRestore(t *testing.T) {
	g := buildWordCount(t)
	out := g.Outputs()[0]
	epochs := wordEpochs(11, 6)
	want := expectedCounts(epochs)
	ctx := context.Background()

	first, err := New(ctx, g, WithWorkers(3))
	require.NoError(t, err)
	released := make(map[graph.NodeID]collection.Batch)
	run(t, first, epochs[:3], released)
	// Queue deltas that are not stepped yet so they travel with the snapshot.
	require.NoError(t, first.Ingest(g.Inputs()[0], epochs[3]))
	states, err := first.Snapshot()
	require.NoError(t, err)
	require.NoError(t, first.Close())
	assert.Len(t, states, 3*len(g.Nodes))

	second, err := New(ctx, g, WithWorkers(3))
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	require.NoError(t, second.Restore(states))
	assert.True(t, second.Frontier(out).Equal(at(4)))

	in := g.Inputs()[0]
	require.NoError(t, second.SetSourceFrontier(in, at(5)))
	step, err := second.Step(ctx)
	require.NoError(t, err)
	released[out] = append(released[out], step[out]...)
	rest := make(map[graph.NodeID]collection.Batch)
	for i, b := range epochs[4:] {
		epoch := uint64(i + 5)
		require.NoError(t, second.Ingest(in, b))
		require.NoError(t, second.SetSourceFrontier(in, at(epoch+1)))
		step, err := second.Step(ctx)
		require.NoError(t, err)
		for id, b := range step {
			rest[id] = append(rest[id], b...)
		}
	}
	drain(t, second, rest)
	released[out] = append(released[out], rest[out]...)

	testutils.AssertZSetEqual(t, want, testutils.Materialize(released[out], collection.MaxTime))

	t.Run("worker count must match", func(t *testing.T) {
		other, err := New(ctx, g, WithWorkers(2))
		require.NoError(t, err)
		defer func() { _ = other.Close() }()
		assert.Error(t, other.Restore(states))
	})
}
