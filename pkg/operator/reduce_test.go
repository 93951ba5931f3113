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

package operator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/collection/testutils"
)

func countAndSum(t *testing.T) []Aggregate {
	return []Aggregate{
		{Name: "n", Reducer: mustReducer(t, "count", collection.KindInt), Column: -1},
		{Name: "total", Reducer: mustReducer(t, "sum", collection.KindInt), Column: 1},
	}
}

func TestGroupReduce_RetractAndInsert(t *testing.T) {
	g := NewGroupReduce(collection.KeyColumns{0}, countAndSum(t))

	out := feed(t, g, 0, Insert(R("a", 1), 1))
	assertDeltas(t, collection.Batch{Insert(R("a", 1, 1), 1)}, out)

	out = feed(t, g, 0, Insert(R("a", 2), 2))
	assertDeltas(t, collection.Batch{Retract(R("a", 1, 1), 2), Insert(R("a", 2, 3), 2)}, out)

	// the group disappears: only the retraction is emitted
	out = feed(t, g, 0, Retract(R("a", 1), 3), Retract(R("a", 2), 3))
	assertDeltas(t, collection.Batch{Retract(R("a", 2, 3), 3)}, out)
}

func TestGroupReduce_OutOfOrderMatchesBatch(t *testing.T) {
	in := collection.Batch{
		{Row: R("a", 1), Diff: 1, Time: collection.Time{Epoch: 1}},
		{Row: R("a", 2), Diff: 1, Time: collection.Time{Epoch: 2}},
		{Row: R("b", 5), Diff: 2, Time: collection.Time{Epoch: 1}},
		{Row: R("a", 1), Diff: -1, Time: collection.Time{Epoch: 3}},
		{Row: R("b", 5), Diff: -2, Time: collection.Time{Epoch: 2, Seq: 1}},
		{Row: R("a", 7), Diff: 1, Time: collection.Time{Epoch: 1, Seq: 1}},
		{Row: R("c", 3), Diff: 1, Time: collection.Time{Epoch: 0, Seq: 2}},
		{Row: R("a", 4), Diff: 1, Time: collection.Time{Epoch: 0, Seq: 3}},
	}
	expected := func(ts collection.Time) *collection.ZSet {
		type agg struct{ n, sum int64 }
		groups := make(map[string]*agg)
		for _, w := range testutils.Materialize(in, ts).Rows() {
			k := w.Row.Field(0).AsString()
			if groups[k] == nil {
				groups[k] = &agg{}
			}
			groups[k].n += w.Count
			groups[k].sum += w.Row.Field(1).AsInt() * w.Count
		}
		z := collection.NewZSet()
		for k, g := range groups {
			if g.n != 0 {
				z.Add(R(k, g.n, g.sum), 1)
			}
		}
		return z
	}

	for seed := int64(1); seed <= 20; seed++ {
		g := NewGroupReduce(collection.KeyColumns{0}, countAndSum(t))
		var out collection.Batch
		for _, i := range rand.New(rand.NewSource(seed)).Perm(len(in)) {
			out = append(out, feed(t, g, 0, in[i])...)
		}
		for e := uint64(0); e <= 4; e++ {
			for s := uint64(0); s <= 3; s++ {
				ts := collection.Time{Epoch: e, Seq: s}
				testutils.AssertZSetEqual(t, expected(ts), testutils.Materialize(out, ts), "seed %d at %s", seed, ts)
			}
		}
	}
}

func TestGroupReduce_NonInvertible(t *testing.T) {
	t.Run("min falls back after retraction", func(t *testing.T) {
		g := NewGroupReduce(collection.KeyColumns{0}, []Aggregate{
			{Name: "lo", Reducer: mustReducer(t, "min", collection.KindInt), Column: 1},
		})
		out := feed(t, g, 0, Insert(R("a", 3), 1), Insert(R("a", 1), 1))
		assertDeltas(t, collection.Batch{Insert(R("a", 1), 1)}, out)
		out = feed(t, g, 0, Retract(R("a", 1), 2))
		assertDeltas(t, collection.Batch{Retract(R("a", 1), 2), Insert(R("a", 3), 2)}, out)
	})

	t.Run("median", func(t *testing.T) {
		g := NewGroupReduce(collection.KeyColumns{0}, []Aggregate{
			{Name: "mid", Reducer: mustReducer(t, "median", collection.KindInt), Column: 1},
		})
		out := feed(t, g, 0, Insert(R("a", 1), 1), Insert(R("a", 2), 1), Insert(R("a", 10), 1))
		out = append(out, feed(t, g, 0, Insert(R("a", 4), 2))...)
		testutils.AssertZSetEqual(t, testutils.ZSetOf(R("a", 2.0)), upTo(out, 1))
		testutils.AssertZSetEqual(t, testutils.ZSetOf(R("a", 3.0)), upTo(out, 2))
	})

	t.Run("duplicates keep their multiplicity", func(t *testing.T) {
		g := NewGroupReduce(collection.KeyColumns{0}, []Aggregate{
			{Name: "hi", Reducer: mustReducer(t, "max", collection.KindInt), Column: 1},
		})
		out := feed(t, g, 0, Insert(R("a", 5), 1), Insert(R("a", 5), 1), Insert(R("a", 2), 1))
		out = append(out, feed(t, g, 0, Retract(R("a", 5), 2))...)
		testutils.AssertZSetEqual(t, testutils.ZSetOf(R("a", 5)), upTo(out, 2))
	})
}

func TestGroupReduce_CompactionDropsEmptyKeys(t *testing.T) {
	g := NewGroupReduce(collection.KeyColumns{0}, countAndSum(t))
	feed(t, g, 0, Insert(R("a", 1), 1), Insert(R("b", 1), 1))
	feed(t, g, 0, Retract(R("a", 1), 2))
	assert.Equal(t, 2, g.Groups())

	advance(t, g, testutils.T(3))
	assert.Equal(t, 1, g.Groups())

	// state advanced to epoch 3 still answers correctly
	out := feed(t, g, 0, Insert(R("b", 4), 3))
	assertDeltas(t, collection.Batch{Retract(R("b", 1, 1), 3), Insert(R("b", 2, 5), 3)}, out)
}

func TestGroupReduce_SnapshotRestore(t *testing.T) {
	first := collection.Batch{Insert(R("a", 1), 1), Insert(R("b", 2), 1), Insert(R("a", 3), 2)}
	second := collection.Batch{Retract(R("a", 1), 3), Insert(R("b", 5), 3)}

	g1 := NewGroupReduce(collection.KeyColumns{0}, countAndSum(t))
	feed(t, g1, 0, first...)
	data, err := g1.Snapshot()
	require.NoError(t, err)

	g2 := NewGroupReduce(collection.KeyColumns{0}, countAndSum(t))
	require.NoError(t, g2.Restore(data))
	assert.Equal(t, g1.Groups(), g2.Groups())

	assertDeltas(t, feed(t, g1, 0, second...), feed(t, g2, 0, second...))
}

// rowsOnly hides the accumulator methods of a reducer, so the group keeps
// its rows and recomputes.
type rowsOnly struct{ Reducer }

func TestGroupReduce_AccumulatorMatchesRecompute(t *testing.T) {
	squares := NewCustom("squares", collection.KindInt,
		func() collection.Value { return collection.Int(0) },
		func(acc, v collection.Value, w int64) (collection.Value, error) {
			return collection.Int(acc.AsInt() + v.AsInt()*v.AsInt()*w), nil
		},
		func(a, b collection.Value) (collection.Value, error) {
			return collection.Int(a.AsInt() + b.AsInt()), nil
		})
	tests := []struct {
		name string
		aggs []Aggregate
	}{
		{"count and sum", countAndSum(t)},
		{"avg", []Aggregate{{Name: "mean", Reducer: mustReducer(t, "avg", collection.KindInt), Column: 1}}},
		{"custom", []Aggregate{{Name: "sq", Reducer: squares, Column: 1}}},
	}
	rnd := rand.New(rand.NewSource(3))
	var in collection.Batch
	live := make(map[[2]int64]int)
	for i := 0; i < 200; i++ {
		k, v := int64(rnd.Intn(4)), int64(rnd.Intn(6))
		ts := collection.Time{Epoch: uint64(rnd.Intn(5)), Seq: uint64(rnd.Intn(2))}
		if live[[2]int64{k, v}] > 0 && rnd.Intn(3) == 0 {
			live[[2]int64{k, v}]--
			in = append(in, collection.Delta{Row: R(k, v), Diff: -1, Time: ts})
			continue
		}
		live[[2]int64{k, v}]++
		in = append(in, collection.Delta{Row: R(k, v), Diff: 1, Time: ts})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain := make([]Aggregate, len(tt.aggs))
			for i, a := range tt.aggs {
				plain[i] = a
				plain[i].Reducer = rowsOnly{a.Reducer}
			}
			acc := NewGroupReduce(collection.KeyColumns{0}, tt.aggs)
			ref := NewGroupReduce(collection.KeyColumns{0}, plain)
			require.True(t, acc.Accumulating())
			require.False(t, ref.Accumulating())

			var got, want collection.Batch
			for i := 0; i < len(in); i += 25 {
				got = append(got, feed(t, acc, 0, in[i:i+25]...)...)
				want = append(want, feed(t, ref, 0, in[i:i+25]...)...)
			}
			for e := uint64(0); e <= 5; e++ {
				for s := uint64(0); s <= 1; s++ {
					ts := collection.Time{Epoch: e, Seq: s}
					testutils.AssertZSetEqual(t, testutils.Materialize(want, ts), testutils.Materialize(got, ts), "at %s", ts)
				}
			}
		})
	}
}

func TestGroupReduce_AccumulatorKeepsOnePartialPerTime(t *testing.T) {
	g := NewGroupReduce(collection.KeyColumns{0}, countAndSum(t))
	var batch collection.Batch
	for v := int64(0); v < 50; v++ {
		batch = append(batch, Insert(R("a", v), 1))
	}
	feed(t, g, 0, batch...)
	feed(t, g, 0, Insert(R("a", 100), 2), Retract(R("a", 3), 2))
	assert.Equal(t, 2, g.acc.partials())

	advance(t, g, testutils.T(3))
	assert.Equal(t, 1, g.acc.partials())
	out := feed(t, g, 0, Insert(R("a", 1), 3))
	assertDeltas(t, collection.Batch{Retract(R("a", 50, 1322), 3), Insert(R("a", 51, 1323), 3)}, out)

	t.Run("non-invertible aggregates keep rows", func(t *testing.T) {
		g := NewGroupReduce(collection.KeyColumns{0}, []Aggregate{
			{Name: "n", Reducer: mustReducer(t, "count", collection.KindInt), Column: -1},
			{Name: "lo", Reducer: mustReducer(t, "min", collection.KindInt), Column: 1},
		})
		assert.False(t, g.Accumulating())
	})
}
