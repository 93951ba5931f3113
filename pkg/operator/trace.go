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
	"sort"

	"github.com/goccy/go-json"

	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/frontier"
)

// reduceFunc computes the desired output rows of one key from the
// accumulated contents of each input port.
type reduceFunc func(key collection.Row, inputs [][]collection.Weighted) ([]collection.Weighted, error)

// keyState is the timed history of one key: the deltas received on every
// port and the deltas emitted so far.
type keyState struct {
	Key    collection.Row     `json:"key"`
	Inputs []collection.Batch `json:"inputs"`
	Output collection.Batch   `json:"output"`
}

func (ks *keyState) empty() bool {
	if len(ks.Output) > 0 {
		return false
	}
	for _, in := range ks.Inputs {
		if len(in) > 0 {
			return false
		}
	}
	return true
}

// keyedTrace maintains a non-linear function per key incrementally. For any
// arrival order of input deltas, the output accumulated up to a time t equals
// fn applied to the inputs accumulated up to t.
type keyedTrace struct {
	arity int
	fn    reduceFunc
	keys  map[collection.Key]*keyState
}

func newKeyedTrace(arity int, fn reduceFunc) *keyedTrace {
	return &keyedTrace{arity: arity, fn: fn, keys: make(map[collection.Key]*keyState)}
}

func (kt *keyedTrace) state(key collection.Row) *keyState {
	k := collection.KeyOf(key)
	ks, ok := kt.keys[k]
	if !ok {
		ks = &keyState{Key: key, Inputs: make([]collection.Batch, kt.arity)}
		kt.keys[k] = ks
	}
	return ks
}

// update appends the deltas of one key arriving on port and returns the
// output corrections.
func (kt *keyedTrace) update(key collection.Row, port int, deltas collection.Batch) (collection.Batch, error) {
	if len(deltas) == 0 {
		return nil, nil
	}
	ks := kt.state(key)
	fresh := deltas.Times()
	ks.Inputs[port] = append(ks.Inputs[port], deltas...)
	return kt.recompute(ks, fresh)
}

// recompute re-evaluates a key at every time where its output may have
// changed. In a product order the join of any set of times is the join of
// two of them, so the candidates are the pairwise joins of the input times
// that lie at or after a fresh time. Candidates are visited in Compare
// order, which extends the partial order.
func (kt *keyedTrace) recompute(ks *keyState, fresh []collection.Time) (collection.Batch, error) {
	distinct := make(map[collection.Time]struct{})
	for _, in := range ks.Inputs {
		for _, d := range in {
			distinct[d.Time] = struct{}{}
		}
	}
	all := make([]collection.Time, 0, len(distinct))
	for t := range distinct {
		all = append(all, t)
	}
	candidates := make(map[collection.Time]struct{})
	for i, x := range all {
		for _, y := range all[i:] {
			t := x.Join(y)
			for _, n := range fresh {
				if n.LessEqual(t) {
					candidates[t] = struct{}{}
					break
				}
			}
		}
	}

	times := make([]collection.Time, 0, len(candidates))
	for t := range candidates {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Compare(times[j]) < 0 })

	var out collection.Batch
	for _, t := range times {
		inputs := make([][]collection.Weighted, kt.arity)
		for p, in := range ks.Inputs {
			inputs[p] = accumulate(in, t).Rows()
		}
		desired, err := kt.fn(ks.Key, inputs)
		if err != nil {
			return nil, err
		}
		want := collection.NewZSet()
		for _, w := range desired {
			want.Add(w.Row, w.Count)
		}
		correction := accumulate(ks.Output, t).Delta(want, t)
		ks.Output = append(ks.Output, correction...)
		out = append(out, correction...)
	}
	return out, nil
}

// compact advances every retained time by the frontier and consolidates.
// Times that no open time can tell apart collapse into one.
func (kt *keyedTrace) compact(f frontier.Antichain) {
	if f.Empty() {
		return
	}
	for k, ks := range kt.keys {
		for p := range ks.Inputs {
			ks.Inputs[p] = advanceBatch(ks.Inputs[p], f)
		}
		ks.Output = advanceBatch(ks.Output, f)
		if ks.empty() {
			delete(kt.keys, k)
		}
	}
}

// sortedKeys returns the states ordered by key, for deterministic output.
func (kt *keyedTrace) sortedKeys() []*keyState {
	out := make([]*keyState, 0, len(kt.keys))
	for _, ks := range kt.keys {
		out = append(out, ks)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Compare(out[j].Key) < 0 })
	return out
}

func (kt *keyedTrace) len() int { return len(kt.keys) }

func (kt *keyedTrace) MarshalJSON() ([]byte, error) {
	states := kt.sortedKeys()
	for _, ks := range states {
		ks.Output = collection.Consolidate(ks.Output)
		for p := range ks.Inputs {
			ks.Inputs[p] = collection.Consolidate(ks.Inputs[p])
		}
	}
	return json.Marshal(states)
}

func (kt *keyedTrace) UnmarshalJSON(data []byte) error {
	var states []*keyState
	if err := json.Unmarshal(data, &states); err != nil {
		return err
	}
	kt.keys = make(map[collection.Key]*keyState, len(states))
	for _, ks := range states {
		if len(ks.Inputs) < kt.arity {
			ks.Inputs = append(ks.Inputs, make([]collection.Batch, kt.arity-len(ks.Inputs))...)
		}
		kt.keys[collection.KeyOf(ks.Key)] = ks
	}
	return nil
}

// accumulate sums the deltas of b at or before t.
func accumulate(b collection.Batch, t collection.Time) *collection.ZSet {
	z := collection.NewZSet()
	for _, d := range b {
		if d.Time.LessEqual(t) {
			z.Add(d.Row, d.Diff)
		}
	}
	return z
}

func advanceBatch(b collection.Batch, f frontier.Antichain) collection.Batch {
	if len(b) == 0 {
		return nil
	}
	out := make(collection.Batch, len(b))
	for i, d := range b {
		out[i] = collection.Delta{Row: d.Row, Diff: d.Diff, Time: f.AdvanceTime(d.Time)}
	}
	return collection.Consolidate(out)
}

// groupByKey splits a batch by key, keeping the time order inside each
// group. Groups are returned ordered by key.
func groupByKey(b collection.Batch, keys collection.KeyColumns) ([]collection.Row, []collection.Batch) {
	idx := make(map[collection.Key]int)
	var (
		keyRows []collection.Row
		groups  []collection.Batch
	)
	for _, d := range b {
		kr := keys.Row(d.Row)
		k := collection.KeyOf(kr)
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			keyRows = append(keyRows, kr)
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], d)
	}
	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return keyRows[order[a]].Compare(keyRows[order[b]]) < 0 })
	sortedKeys := make([]collection.Row, len(order))
	sortedGroups := make([]collection.Batch, len(order))
	for i, j := range order {
		sortedKeys[i] = keyRows[j]
		sortedGroups[i] = groups[j]
	}
	return sortedKeys, sortedGroups
}
