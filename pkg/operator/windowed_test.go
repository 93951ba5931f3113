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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/collection/testutils"
	"github.com/numaproj/deltaflow/pkg/window"
)

// rows are (key, t, v); outputs are (key, start, end, count, sum of v)
func newTestWindow(t *testing.T, assigner window.Assigner, lateness window.Lateness) *Window {
	return NewWindow(collection.KeyColumns{0}, 1, assigner, lateness, []Aggregate{
		{Name: "n", Reducer: mustReducer(t, "count", collection.KindInt), Column: -1},
		{Name: "total", Reducer: mustReducer(t, "sum", collection.KindInt), Column: 2},
	})
}

func fixed10(t *testing.T) window.Assigner {
	a, err := window.NewFixed(10)
	require.NoError(t, err)
	return a
}

func TestWindow_FixedBoundaries(t *testing.T) {
	w := newTestWindow(t, fixed10(t), window.Lateness{Policy: window.Drop})
	out := feed(t, w, 0, Insert(R("a", 9, 1), 1), Insert(R("a", 10, 2), 1))
	assertDeltas(t, collection.Batch{
		Insert(R("a", 0, 10, 1, 1), 1),
		Insert(R("a", 10, 20, 1, 2), 1),
	}, out)
}

func TestWindow_DropPolicy(t *testing.T) {
	w := newTestWindow(t, fixed10(t), window.Lateness{Policy: window.Drop})
	feed(t, w, 0, Insert(R("a", 9, 1), 1), Insert(R("a", 10, 2), 1))

	assert.Empty(t, advance(t, w, testutils.T(10)))

	// [0, 10) is final
	assert.Empty(t, feed(t, w, 0, Insert(R("a", 5, 7), 10)))

	out := feed(t, w, 0, Insert(R("a", 12, 3), 10))
	assertDeltas(t, collection.Batch{
		Retract(R("a", 10, 20, 1, 2), 10),
		Insert(R("a", 10, 20, 2, 5), 10),
	}, out)

	advance(t, w, testutils.T(20))
	assert.Equal(t, 0, w.Groups())
}

func TestWindow_AllowedLateness(t *testing.T) {
	w := newTestWindow(t, fixed10(t), window.Lateness{Allowed: 3, Policy: window.Drop})
	feed(t, w, 0, Insert(R("a", 9, 1), 1))
	advance(t, w, testutils.T(12))
	out := feed(t, w, 0, Insert(R("a", 4, 1), 12))
	assertDeltas(t, collection.Batch{
		Retract(R("a", 0, 10, 1, 1), 12),
		Insert(R("a", 0, 10, 2, 2), 12),
	}, out)
	advance(t, w, testutils.T(13))
	assert.Empty(t, feed(t, w, 0, Insert(R("a", 4, 1), 13)))
}

func TestWindow_ReopenPolicy(t *testing.T) {
	w := newTestWindow(t, fixed10(t), window.Lateness{Policy: window.Reopen, Grace: 5})
	feed(t, w, 0, Insert(R("a", 9, 1), 1))
	advance(t, w, testutils.T(10))

	out := feed(t, w, 0, Insert(R("a", 5, 7), 10))
	assertDeltas(t, collection.Batch{
		Retract(R("a", 0, 10, 1, 1), 10),
		Insert(R("a", 0, 10, 2, 8), 10),
	}, out)

	advance(t, w, testutils.T(15))
	assert.Empty(t, feed(t, w, 0, Insert(R("a", 6, 1), 15)))
	assert.Equal(t, 0, w.Groups())
}

func TestWindow_Sliding(t *testing.T) {
	sliding, err := window.NewSliding(10, 5)
	require.NoError(t, err)
	w := newTestWindow(t, sliding, window.Lateness{Policy: window.Drop})
	out := feed(t, w, 0, Insert(R("a", 7, 1), 1), Insert(R("a", 12, 2), 1))
	testutils.AssertZSetEqual(t, testutils.ZSetOf(
		R("a", 0, 10, 1, 1),
		R("a", 5, 15, 2, 3),
		R("a", 10, 20, 1, 2),
	), upTo(out, 1))

	// [0, 10) and [5, 15) are final, the row at 12 still counts in [10, 20)
	advance(t, w, testutils.T(15))
	out = feed(t, w, 0, Insert(R("a", 14, 4), 15))
	assertDeltas(t, collection.Batch{
		Retract(R("a", 10, 20, 1, 2), 15),
		Insert(R("a", 10, 20, 2, 6), 15),
	}, out)
}

func TestWindow_SessionMerge(t *testing.T) {
	session, err := window.NewSession(5)
	require.NoError(t, err)
	w := newTestWindow(t, session, window.Lateness{Policy: window.Drop})

	out := feed(t, w, 0, Insert(R("a", 1, 1), 1), Insert(R("a", 4, 1), 1))
	assertDeltas(t, collection.Batch{Insert(R("a", 1, 9, 2, 2), 1)}, out)

	out = feed(t, w, 0, Insert(R("a", 20, 1), 2), Insert(R("a", 7, 1), 2))
	assertDeltas(t, collection.Batch{
		Retract(R("a", 1, 9, 2, 2), 2),
		Insert(R("a", 1, 12, 3, 3), 2),
		Insert(R("a", 20, 25, 1, 1), 2),
	}, out)

	// an event bridging into the later session extends it
	out = feed(t, w, 0, Insert(R("a", 16, 1), 3))
	assertDeltas(t, collection.Batch{
		Retract(R("a", 20, 25, 1, 1), 3),
		Insert(R("a", 16, 25, 2, 2), 3),
	}, out)

	t.Run("closed sessions stay closed", func(t *testing.T) {
		advance(t, w, testutils.T(12))
		assert.Empty(t, feed(t, w, 0, Insert(R("a", 10, 1), 12)))

		out := feed(t, w, 0, Insert(R("a", 13, 1), 12))
		assertDeltas(t, collection.Batch{
			Retract(R("a", 16, 25, 2, 2), 12),
			Insert(R("a", 13, 25, 3, 3), 12),
		}, out)
	})

	t.Run("retraction splits a session", func(t *testing.T) {
		out := feed(t, w, 0, Retract(R("a", 16, 1), 13))
		assertDeltas(t, collection.Batch{
			Retract(R("a", 13, 25, 3, 3), 13),
			Insert(R("a", 13, 18, 1, 1), 13),
			Insert(R("a", 20, 25, 1, 1), 13),
		}, out)
	})
}

func TestWindow_SnapshotRestore(t *testing.T) {
	session, err := window.NewSession(5)
	require.NoError(t, err)
	w1 := newTestWindow(t, session, window.Lateness{Policy: window.Drop})
	feed(t, w1, 0, Insert(R("a", 1, 1), 1), Insert(R("a", 20, 1), 1))
	advance(t, w1, testutils.T(10))
	data, err := w1.Snapshot()
	require.NoError(t, err)

	w2 := newTestWindow(t, session, window.Lateness{Policy: window.Drop})
	require.NoError(t, w2.Restore(data))
	assert.Equal(t, w1.Groups(), w2.Groups())

	// the sealed session survives the restore
	assert.Empty(t, feed(t, w2, 0, Insert(R("a", 3, 1), 10)))
	next := Insert(R("a", 22, 2), 10)
	assertDeltas(t, feed(t, w1, 0, next), feed(t, w2, 0, next))
}
