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

type arrangedKey struct {
	Key    collection.Row   `json:"key"`
	Deltas collection.Batch `json:"deltas"`
}

// arrangement indexes every delta seen on one join input by key.
type arrangement struct {
	entries map[collection.Key]*arrangedKey
}

func newArrangement() *arrangement {
	return &arrangement{entries: make(map[collection.Key]*arrangedKey)}
}

func (a *arrangement) insert(k collection.Key, key collection.Row, d collection.Delta) {
	e, ok := a.entries[k]
	if !ok {
		e = &arrangedKey{Key: key}
		a.entries[k] = e
	}
	e.Deltas = append(e.Deltas, d)
}

func (a *arrangement) get(k collection.Key) collection.Batch {
	if e, ok := a.entries[k]; ok {
		return e.Deltas
	}
	return nil
}

// compact advances retained times by the frontier and consolidates.
func (a *arrangement) compact(f frontier.Antichain) {
	if f.Empty() {
		return
	}
	for k, e := range a.entries {
		e.Deltas = advanceBatch(e.Deltas, f)
		if len(e.Deltas) == 0 {
			delete(a.entries, k)
		}
	}
}

// evict drops the deltas matching dead and returns how many were dropped.
func (a *arrangement) evict(dead func(collection.Row) bool) int {
	n := 0
	for k, e := range a.entries {
		kept := e.Deltas[:0]
		for _, d := range e.Deltas {
			if dead(d.Row) {
				n++
				continue
			}
			kept = append(kept, d)
		}
		e.Deltas = kept
		if len(kept) == 0 {
			delete(a.entries, k)
		}
	}
	return n
}

func (a *arrangement) size() int {
	n := 0
	for _, e := range a.entries {
		n += len(e.Deltas)
	}
	return n
}

func (a *arrangement) MarshalJSON() ([]byte, error) {
	out := make([]*arrangedKey, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, &arrangedKey{Key: e.Key, Deltas: collection.Consolidate(e.Deltas)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Compare(out[j].Key) < 0 })
	return json.Marshal(out)
}

func (a *arrangement) UnmarshalJSON(data []byte) error {
	var in []*arrangedKey
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	a.entries = make(map[collection.Key]*arrangedKey, len(in))
	for _, e := range in {
		a.entries[collection.KeyOf(e.Key)] = e
	}
	return nil
}

// pairFunc builds the output rows for one matching left and right row.
type pairFunc func(left, right collection.Row) []collection.Row

// bilinear is the incremental join of two arranged inputs: a delta arriving
// on one side is matched against everything the other side has seen, with
// the product of both diffs at the join of both times. Every pair is thus
// produced exactly once, by whichever side arrives last.
type bilinear struct {
	keys [2]collection.KeyColumns
	pair pairFunc
	arr  [2]*arrangement
}

func newBilinear(left, right collection.KeyColumns, pair pairFunc) *bilinear {
	return &bilinear{
		keys: [2]collection.KeyColumns{left, right},
		pair: pair,
		arr:  [2]*arrangement{newArrangement(), newArrangement()},
	}
}

func (b *bilinear) step(port int, batch collection.Batch) collection.Batch {
	other := b.arr[1-port]
	var out collection.Batch
	for _, d := range batch {
		kr := b.keys[port].Row(d.Row)
		k := collection.KeyOf(kr)
		for _, o := range other.get(k) {
			l, r := d.Row, o.Row
			if port == 1 {
				l, r = o.Row, d.Row
			}
			for _, row := range b.pair(l, r) {
				out = append(out, collection.Delta{Row: row, Diff: d.Diff * o.Diff, Time: d.Time.Join(o.Time)})
			}
		}
		b.arr[port].insert(k, kr, d)
	}
	return out
}

func (b *bilinear) compact(f frontier.Antichain) {
	b.arr[0].compact(f)
	b.arr[1].compact(f)
}

type bilinearState struct {
	Left  json.RawMessage `json:"left"`
	Right json.RawMessage `json:"right"`
}

func (b *bilinear) snapshot() (bilinearState, error) {
	l, err := json.Marshal(b.arr[0])
	if err != nil {
		return bilinearState{}, err
	}
	r, err := json.Marshal(b.arr[1])
	if err != nil {
		return bilinearState{}, err
	}
	return bilinearState{Left: l, Right: r}, nil
}

func (b *bilinear) restore(s bilinearState) error {
	if err := b.arr[0].UnmarshalJSON(s.Left); err != nil {
		return err
	}
	return b.arr[1].UnmarshalJSON(s.Right)
}
