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
	"github.com/goccy/go-json"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/frontier"
)

// GroupReduce aggregates rows per key. For every (key, time) it retracts the
// previous aggregate row and inserts the new one; a key whose count drops to
// zero only sees the retraction.
//
// When every aggregate is invertible a key keeps one accumulator state per
// open time. Otherwise it keeps the rows and recomputes from the multiset.
type GroupReduce struct {
	keys  collection.KeyColumns
	aggs  []Aggregate
	keep  []int
	trace *keyedTrace
	acc   *accTrace
}

var _ Operator = (*GroupReduce)(nil)

// NewGroupReduce builds a reducer grouping by keys. Output rows are the key
// columns followed by one column per aggregate.
func NewGroupReduce(keys collection.KeyColumns, aggs []Aggregate) *GroupReduce {
	projected, keep := projectAggregates(aggs)
	g := &GroupReduce{keys: keys, aggs: projected, keep: keep}
	if g.acc = newAccTrace(projected); g.acc == nil {
		g.trace = newKeyedTrace(1, g.reduce)
	}
	return g
}

// Accumulating reports whether the reducer keeps accumulator states
// instead of rows.
func (g *GroupReduce) Accumulating() bool { return g.acc != nil }

func (*GroupReduce) Kind() dfv1.NodeKind { return dfv1.NodeKindReduce }

func (*GroupReduce) Arity() int { return 1 }

func (g *GroupReduce) reduce(key collection.Row, inputs [][]collection.Weighted) ([]collection.Weighted, error) {
	rows := inputs[0]
	if sumCounts(rows) == 0 {
		return nil, nil
	}
	values, err := aggregateRows(g.aggs, rows)
	if err != nil {
		return nil, err
	}
	return []collection.Weighted{{Row: key.Append(values...), Count: 1}}, nil
}

func (g *GroupReduce) Step(_ *ExecContext, port int, batch collection.Batch) (collection.Batch, error) {
	keyRows, groups := groupByKey(batch, g.keys)
	var out collection.Batch
	for i, kr := range keyRows {
		projected := make(collection.Batch, len(groups[i]))
		for j, d := range groups[i] {
			projected[j] = collection.Delta{Row: d.Row.Project(g.keep...), Diff: d.Diff, Time: d.Time}
		}
		var (
			o   collection.Batch
			err error
		)
		if g.acc != nil {
			o, err = g.acc.update(kr, projected)
		} else {
			o, err = g.trace.update(kr, port, projected)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, o...)
	}
	return out, nil
}

func (g *GroupReduce) Advance(_ *ExecContext, f frontier.Antichain) (collection.Batch, error) {
	if g.acc != nil {
		return nil, g.acc.compact(f)
	}
	g.trace.compact(f)
	return nil, nil
}

// Groups returns the number of keys with retained state.
func (g *GroupReduce) Groups() int {
	if g.acc != nil {
		return g.acc.len()
	}
	return g.trace.len()
}

func (g *GroupReduce) Snapshot() ([]byte, error) {
	if g.acc != nil {
		return json.Marshal(g.acc)
	}
	return json.Marshal(g.trace)
}

func (g *GroupReduce) Restore(data []byte) error {
	if g.acc != nil {
		return g.acc.UnmarshalJSON(data)
	}
	return g.trace.UnmarshalJSON(data)
}
