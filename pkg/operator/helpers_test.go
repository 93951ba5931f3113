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
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/collection/testutils"
	"github.com/numaproj/deltaflow/pkg/frontier"
)

var (
	R       = testutils.R
	Insert  = testutils.Insert
	Retract = testutils.Retract
)

func testCtx() *ExecContext { return &ExecContext{Pipeline: "test", Node: "node"} }

func mustReducer(t *testing.T, name string, kind collection.Kind) Reducer {
	t.Helper()
	r, err := (*Registry)(nil).Reducer(name, kind)
	require.NoError(t, err)
	return r
}

func feed(t *testing.T, op Operator, port int, deltas ...collection.Delta) collection.Batch {
	t.Helper()
	out, err := op.Step(testCtx(), port, collection.Batch(deltas))
	require.NoError(t, err)
	return out
}

func advance(t *testing.T, op Operator, ts ...collection.Time) collection.Batch {
	t.Helper()
	out, err := op.Advance(testCtx(), frontier.NewAntichain(ts...))
	require.NoError(t, err)
	return out
}

// upTo materializes b over every time of epoch at most e.
func upTo(b collection.Batch, e uint64) *collection.ZSet {
	return testutils.Materialize(b, collection.Time{Epoch: e, Seq: math.MaxUint64})
}

func assertDeltas(t *testing.T, want, got collection.Batch) {
	t.Helper()
	format := func(b collection.Batch) string {
		var sb strings.Builder
		for _, d := range collection.Consolidate(b) {
			sb.WriteString(d.String())
			sb.WriteString("\n")
		}
		return sb.String()
	}
	assert.Equal(t, format(want), format(got))
}
