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
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/frontier"
)

// partial is the folded input of one key at one time: the net row count and
// one accumulator state per aggregate.
type partial struct {
	Time   collection.Time    `json:"time"`
	Count  int64              `json:"count"`
	States []collection.Value `json:"states"`
}

type accState struct {
	Key      collection.Row   `json:"key"`
	Partials []*partial       `json:"partials"`
	Output   collection.Batch `json:"output"`
}

// accTrace is the keyed history of a group whose aggregates are all
// accumulators. A key retains one partial per distinct open time, however
// many rows it holds.
type accTrace struct {
	aggs []Aggregate
	accs []Accumulator
	keys map[collection.Key]*accState
}

// newAccTrace returns nil unless every aggregate is invertible.
func newAccTrace(aggs []Aggregate) *accTrace {
	accs := make([]Accumulator, len(aggs))
	for i, a := range aggs {
		acc, ok := a.Reducer.(Accumulator)
		if !ok || !a.Reducer.Invertible() {
			return nil
		}
		accs[i] = acc
	}
	return &accTrace{aggs: aggs, accs: accs, keys: make(map[collection.Key]*accState)}
}

func (at *accTrace) zero(t collection.Time) *partial {
	p := &partial{Time: t, States: make([]collection.Value, len(at.accs))}
	for i, a := range at.accs {
		p.States[i] = a.Zero()
	}
	return p
}

func (at *accTrace) merge(into, from *partial) error {
	into.Count += from.Count
	for i, a := range at.accs {
		s, err := a.Merge(into.States[i], from.States[i])
		if err != nil {
			return fmt.Errorf("aggregate %q: %w", at.aggs[i].Name, err)
		}
		into.States[i] = s
	}
	return nil
}

// isZero reports whether a partial no longer changes any aggregate.
func (at *accTrace) isZero(p *partial) bool {
	if p.Count != 0 {
		return false
	}
	for i, a := range at.accs {
		if !p.States[i].Equal(a.Zero()) {
			return false
		}
	}
	return true
}

// update folds the deltas of one key and returns the output corrections.
func (at *accTrace) update(key collection.Row, deltas collection.Batch) (collection.Batch, error) {
	if len(deltas) == 0 {
		return nil, nil
	}
	k := collection.KeyOf(key)
	st, ok := at.keys[k]
	if !ok {
		st = &accState{Key: key}
		at.keys[k] = st
	}
	byTime := make(map[collection.Time]*partial, len(st.Partials))
	for _, p := range st.Partials {
		byTime[p.Time] = p
	}
	for _, d := range deltas {
		p, ok := byTime[d.Time]
		if !ok {
			p = at.zero(d.Time)
			byTime[d.Time] = p
			st.Partials = append(st.Partials, p)
		}
		p.Count += d.Diff
		rows := []collection.Weighted{{Row: d.Row, Count: d.Diff}}
		for i, a := range at.aggs {
			for _, v := range a.inputs(rows) {
				s, err := at.accs[i].Fold(p.States[i], v)
				if err != nil {
					return nil, fmt.Errorf("aggregate %q: %w", a.Name, err)
				}
				p.States[i] = s
			}
		}
	}
	return at.recompute(st, deltas.Times())
}

// recompute re-evaluates a key at the joins of its partial times that lie at
// or after a fresh time, in Compare order.
func (at *accTrace) recompute(st *accState, fresh []collection.Time) (collection.Batch, error) {
	candidates := make(map[collection.Time]struct{})
	for i, x := range st.Partials {
		for _, y := range st.Partials[i:] {
			t := x.Time.Join(y.Time)
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
		sum := at.zero(t)
		for _, p := range st.Partials {
			if !p.Time.LessEqual(t) {
				continue
			}
			if err := at.merge(sum, p); err != nil {
				return nil, err
			}
		}
		want := collection.NewZSet()
		if sum.Count != 0 {
			values := make([]collection.Value, len(at.accs))
			for i, a := range at.accs {
				v, err := a.Result(sum.States[i])
				if err != nil {
					return nil, fmt.Errorf("aggregate %q: %w", at.aggs[i].Name, err)
				}
				values[i] = v
			}
			want.Add(st.Key.Append(values...), 1)
		}
		correction := accumulate(st.Output, t).Delta(want, t)
		st.Output = append(st.Output, correction...)
		out = append(out, correction...)
	}
	return out, nil
}

// compact advances partial times by the frontier and merges partials that
// land on the same time.
func (at *accTrace) compact(f frontier.Antichain) error {
	if f.Empty() {
		return nil
	}
	for k, st := range at.keys {
		merged := make(map[collection.Time]*partial, len(st.Partials))
		kept := st.Partials[:0]
		for _, p := range st.Partials {
			p.Time = f.AdvanceTime(p.Time)
			if m, ok := merged[p.Time]; ok {
				if err := at.merge(m, p); err != nil {
					return err
				}
				continue
			}
			merged[p.Time] = p
			kept = append(kept, p)
		}
		st.Partials = kept[:0]
		for _, p := range kept {
			if !at.isZero(p) {
				st.Partials = append(st.Partials, p)
			}
		}
		st.Output = advanceBatch(st.Output, f)
		if len(st.Partials) == 0 && len(st.Output) == 0 {
			delete(at.keys, k)
		}
	}
	return nil
}

func (at *accTrace) len() int { return len(at.keys) }

// partials is the number of retained partials over all keys.
func (at *accTrace) partials() int {
	n := 0
	for _, st := range at.keys {
		n += len(st.Partials)
	}
	return n
}

func (at *accTrace) MarshalJSON() ([]byte, error) {
	states := make([]*accState, 0, len(at.keys))
	for _, st := range at.keys {
		st.Output = collection.Consolidate(st.Output)
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Key.Compare(states[j].Key) < 0 })
	return json.Marshal(states)
}

func (at *accTrace) UnmarshalJSON(data []byte) error {
	var states []*accState
	if err := json.Unmarshal(data, &states); err != nil {
		return err
	}
	at.keys = make(map[collection.Key]*accState, len(states))
	for _, st := range states {
		for _, p := range st.Partials {
			if len(p.States) != len(at.accs) {
				return fmt.Errorf("partial of key %s holds %d states, want %d", st.Key, len(p.States), len(at.accs))
			}
		}
		at.keys[collection.KeyOf(st.Key)] = st
	}
	return nil
}
