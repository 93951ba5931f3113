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

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/collection/testutils"
)

func TestJoin_InnerIsSymmetric(t *testing.T) {
	left := collection.Batch{Insert(R("a", "x"), 1), Insert(R("b", "z"), 1)}
	right := collection.Batch{Insert(R("a", "y"), 2), Retract(R("a", "y"), 3), Insert(R("b", "w"), 3)}

	leftFirst := NewJoin(dfv1.JoinTypeInner, collection.KeyColumns{0}, collection.KeyColumns{0}, 2)
	out1 := feed(t, leftFirst, 0, left...)
	out1 = append(out1, feed(t, leftFirst, 1, right...)...)

	rightFirst := NewJoin(dfv1.JoinTypeInner, collection.KeyColumns{0}, collection.KeyColumns{0}, 2)
	out2 := feed(t, rightFirst, 1, right...)
	out2 = append(out2, feed(t, rightFirst, 0, left...)...)

	assert.True(t, upTo(out1, 1).IsZero())
	testutils.AssertZSetEqual(t, testutils.ZSetOf(R("a", "x", "a", "y")), upTo(out1, 2))
	testutils.AssertZSetEqual(t, testutils.ZSetOf(R("b", "z", "b", "w")), upTo(out1, 3))
	for e := uint64(0); e <= 3; e++ {
		testutils.AssertZSetEqual(t, upTo(out1, e), upTo(out2, e))
	}
}

func TestJoin_MultiplicitiesMultiply(t *testing.T) {
	j := NewJoin(dfv1.JoinTypeInner, collection.KeyColumns{0}, collection.KeyColumns{0}, 2)
	feed(t, j, 0, collection.Delta{Row: R("a", 1), Diff: 2, Time: testutils.T(1)})
	out := feed(t, j, 1, collection.Delta{Row: R("a", 2), Diff: 3, Time: testutils.T(1)})
	assert.Equal(t, int64(6), upTo(out, 1).Multiplicity(R("a", 1, "a", 2)))
}

func TestJoin_LeftOuterPadding(t *testing.T) {
	j := NewJoin(dfv1.JoinTypeLeftOuter, collection.KeyColumns{0}, collection.KeyColumns{0}, 2)

	out := feed(t, j, 0, Insert(R("a", "x"), 1))
	assertDeltas(t, collection.Batch{Insert(R("a", "x", nil, nil), 1)}, out)

	out = feed(t, j, 1, Insert(R("a", "y"), 2))
	assertDeltas(t, collection.Batch{Retract(R("a", "x", nil, nil), 2), Insert(R("a", "x", "a", "y"), 2)}, out)

	out = feed(t, j, 1, Retract(R("a", "y"), 3))
	assertDeltas(t, collection.Batch{Retract(R("a", "x", "a", "y"), 3), Insert(R("a", "x", nil, nil), 3)}, out)
}

func TestJoin_SnapshotRestore(t *testing.T) {
	for _, typ := range []dfv1.JoinType{dfv1.JoinTypeInner, dfv1.JoinTypeLeftOuter} {
		t.Run(string(typ), func(t *testing.T) {
			j1 := NewJoin(typ, collection.KeyColumns{0}, collection.KeyColumns{0}, 2)
			feed(t, j1, 0, Insert(R("a", "x"), 1))
			data, err := j1.Snapshot()
			require.NoError(t, err)

			j2 := NewJoin(typ, collection.KeyColumns{0}, collection.KeyColumns{0}, 2)
			require.NoError(t, j2.Restore(data))
			assertDeltas(t, feed(t, j1, 1, Insert(R("a", "y"), 2)), feed(t, j2, 1, Insert(R("a", "y"), 2)))
		})
	}
}
