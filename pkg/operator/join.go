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

// Join is the equi-join of port 0 (left) and port 1 (right). Output rows are
// the left row followed by the right row. A left outer join pads unmatched
// left rows with None and retracts the padding once a match arrives.
type Join struct {
	typ        dfv1.JoinType
	keys       [2]collection.KeyColumns
	rightArity int
	inner      *bilinear
	outer      *keyedTrace
}

var _ Operator = (*Join)(nil)

func NewJoin(typ dfv1.JoinType, leftKeys, rightKeys collection.KeyColumns, rightArity int) *Join {
	j := &Join{typ: typ, keys: [2]collection.KeyColumns{leftKeys, rightKeys}, rightArity: rightArity}
	if typ == dfv1.JoinTypeLeftOuter {
		j.outer = newKeyedTrace(2, j.leftOuter)
	} else {
		j.inner = newBilinear(leftKeys, rightKeys, concatPair)
	}
	return j
}

func concatPair(l, r collection.Row) []collection.Row { return []collection.Row{l.Concat(r)} }

func (*Join) Kind() dfv1.NodeKind { return dfv1.NodeKindJoin }

func (*Join) Arity() int { return 2 }

func (j *Join) Step(_ *ExecContext, port int, batch collection.Batch) (collection.Batch, error) {
	if j.inner != nil {
		return j.inner.step(port, batch), nil
	}
	keyRows, groups := groupByKey(batch, j.keys[port])
	var out collection.Batch
	for i, kr := range keyRows {
		o, err := j.outer.update(kr, port, groups[i])
		if err != nil {
			return nil, err
		}
		out = append(out, o...)
	}
	return out, nil
}

func (j *Join) leftOuter(_ collection.Row, inputs [][]collection.Weighted) ([]collection.Weighted, error) {
	left, right := inputs[0], inputs[1]
	var matched []collection.Weighted
	for _, r := range right {
		if r.Count > 0 {
			matched = append(matched, r)
		}
	}
	var out []collection.Weighted
	for _, l := range left {
		if len(matched) == 0 {
			out = append(out, collection.Weighted{Row: l.Row.Concat(nullRow(j.rightArity)), Count: l.Count})
			continue
		}
		for _, r := range matched {
			out = append(out, collection.Weighted{Row: l.Row.Concat(r.Row), Count: l.Count * r.Count})
		}
	}
	return out, nil
}

func (j *Join) Advance(_ *ExecContext, f frontier.Antichain) (collection.Batch, error) {
	if j.inner != nil {
		j.inner.compact(f)
	} else {
		j.outer.compact(f)
	}
	return nil, nil
}

func (j *Join) Snapshot() ([]byte, error) {
	if j.inner != nil {
		s, err := j.inner.snapshot()
		if err != nil {
			return nil, err
		}
		return json.Marshal(s)
	}
	return json.Marshal(j.outer)
}

func (j *Join) Restore(data []byte) error {
	if j.inner != nil {
		var s bilinearState
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return j.inner.restore(s)
	}
	return j.outer.UnmarshalJSON(data)
}

func nullRow(n int) collection.Row { return collection.NewRow(make([]collection.Value, n)...) }
