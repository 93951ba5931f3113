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

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/frontier"
	"github.com/numaproj/deltaflow/pkg/window"
)

// Window aggregates rows per key and window bucket. Output rows are the key
// columns, the bucket start and end, then one column per aggregate. Updates
// are emitted while a bucket is open; once the frontier epoch passes the
// bucket end plus the allowed lateness the bucket is final, and rows still
// arriving for it follow the lateness policy.
type Window struct {
	keys     collection.KeyColumns
	timeCol  int
	assigner window.Assigner
	lateness window.Lateness
	aggs     []Aggregate
	keep     []int
	trace    *keyedTrace
	epoch    uint64
	// sealed holds, per key, the end of the latest session whose state was dropped.
	sealed map[collection.Key]*sealedKey
}

type sealedKey struct {
	Key   collection.Row `json:"key"`
	Until int64          `json:"until"`
}

var _ Operator = (*Window)(nil)

func NewWindow(keys collection.KeyColumns, timeCol int, assigner window.Assigner, lateness window.Lateness, aggs []Aggregate) *Window {
	// stored rows hold the event time first, then the aggregated columns
	projected, keep := projectAggregates(aggs, timeCol)
	w := &Window{
		keys:     keys,
		timeCol:  timeCol,
		assigner: assigner,
		lateness: lateness,
		aggs:     projected,
		keep:     keep,
		sealed:   make(map[collection.Key]*sealedKey),
	}
	w.trace = newKeyedTrace(1, w.reduce)
	return w
}

func (*Window) Kind() dfv1.NodeKind { return dfv1.NodeKindWindow }

func (*Window) Arity() int { return 1 }

func storedTime(r collection.Row) int64 {
	ts, _ := r.Field(0).Ticks()
	return ts
}

// buckets assigns every stored row of one key to its buckets.
func (w *Window) buckets(rows []collection.Weighted) map[window.Bucket][]collection.Weighted {
	groups := make(map[window.Bucket][]collection.Weighted)
	if s, ok := w.assigner.(*window.SessionWindower); ok {
		var times []int64
		for _, r := range rows {
			if r.Count > 0 {
				times = append(times, storedTime(r.Row))
			}
		}
		sessions := s.Merge(times)
		for _, r := range rows {
			ts := storedTime(r.Row)
			i := sort.Search(len(sessions), func(i int) bool { return sessions[i].End > ts })
			if i < len(sessions) && sessions[i].Contains(ts) {
				groups[sessions[i]] = append(groups[sessions[i]], r)
			}
		}
		return groups
	}
	for _, r := range rows {
		for _, b := range w.assigner.Assign(storedTime(r.Row)) {
			groups[b] = append(groups[b], r)
		}
	}
	return groups
}

func (w *Window) reduce(key collection.Row, inputs [][]collection.Weighted) ([]collection.Weighted, error) {
	groups := w.buckets(inputs[0])
	bs := make([]window.Bucket, 0, len(groups))
	for b := range groups {
		if !w.lateness.Expired(b, w.epoch) {
			bs = append(bs, b)
		}
	}
	sort.Slice(bs, func(i, j int) bool { return bs[i].Start < bs[j].Start })
	var out []collection.Weighted
	for _, b := range bs {
		rows := groups[b]
		if sumCounts(rows) == 0 {
			continue
		}
		values, err := aggregateRows(w.aggs, rows)
		if err != nil {
			return nil, err
		}
		row := key.Append(collection.Int(b.Start), collection.Int(b.End)).Append(values...)
		out = append(out, collection.Weighted{Row: row, Count: 1})
	}
	return out, nil
}

// accepts applies the lateness policy to a row time of the given key.
func (w *Window) accepts(k collection.Key, ts int64) bool {
	if s, ok := w.sealed[k]; ok && ts < s.Until {
		return false
	}
	for _, b := range w.assigner.Assign(ts) {
		if w.lateness.Accepts(b, w.epoch) {
			return true
		}
	}
	return false
}

func (w *Window) Step(ctx *ExecContext, port int, batch collection.Batch) (collection.Batch, error) {
	admitted := make(collection.Batch, 0, len(batch))
	var dropped collection.Batch
	for _, d := range batch {
		ts, ok := d.Row.Field(w.timeCol).Ticks()
		if !ok {
			ctx.RowError("missing_time", d, nil)
			continue
		}
		if !w.accepts(w.keys.Key(d.Row), ts) {
			dropped = append(dropped, d)
			continue
		}
		admitted = append(admitted, d)
	}
	ctx.DropLate("window_final", dropped)

	keyRows, groups := groupByKey(admitted, w.keys)
	var out collection.Batch
	for i, kr := range keyRows {
		projected := make(collection.Batch, len(groups[i]))
		for j, d := range groups[i] {
			projected[j] = collection.Delta{Row: d.Row.Project(w.keep...), Diff: d.Diff, Time: d.Time}
		}
		o, err := w.trace.update(kr, port, projected)
		if err != nil {
			return nil, err
		}
		out = append(out, o...)
	}
	return out, nil
}

// Advance records the new frontier epoch and drops the state of buckets that
// can no longer change. Their emitted rows stay emitted.
func (w *Window) Advance(ctx *ExecContext, f frontier.Antichain) (collection.Batch, error) {
	w.epoch = f.Epoch()
	w.trace.compact(f)
	n := 0
	session, isSession := w.assigner.(*window.SessionWindower)
	for k, ks := range w.trace.keys {
		width := ks.Key.Len()
		ks.Output = filterBatch(ks.Output, func(r collection.Row) bool {
			b := window.Bucket{Start: r.Field(width).AsInt(), End: r.Field(width + 1).AsInt()}
			return w.lateness.Expired(b, w.epoch)
		})
		if isSession {
			var times []int64
			for _, d := range ks.Inputs[0] {
				times = append(times, storedTime(d.Row))
			}
			var until int64
			expired := false
			for _, s := range session.Merge(times) {
				if w.lateness.Expired(s, w.epoch) {
					until, expired = max(until, s.End), true
				}
			}
			if expired {
				before := len(ks.Inputs[0])
				ks.Inputs[0] = filterBatch(ks.Inputs[0], func(r collection.Row) bool { return storedTime(r) < until })
				n += before - len(ks.Inputs[0])
				if s, ok := w.sealed[k]; ok {
					s.Until = max(s.Until, until)
				} else {
					w.sealed[k] = &sealedKey{Key: ks.Key, Until: until}
				}
			}
		} else {
			before := len(ks.Inputs[0])
			ks.Inputs[0] = filterBatch(ks.Inputs[0], func(r collection.Row) bool {
				bs := w.assigner.Assign(storedTime(r))
				return w.lateness.Expired(bs[len(bs)-1], w.epoch)
			})
			n += before - len(ks.Inputs[0])
		}
		if ks.empty() {
			delete(w.trace.keys, k)
		}
	}
	ctx.Evicted(n)
	return nil, nil
}

// Groups returns the number of keys with retained state.
func (w *Window) Groups() int { return w.trace.len() }

type windowState struct {
	Epoch  uint64          `json:"epoch"`
	Trace  json.RawMessage `json:"trace"`
	Sealed []*sealedKey    `json:"sealed"`
}

func (w *Window) Snapshot() ([]byte, error) {
	trace, err := json.Marshal(w.trace)
	if err != nil {
		return nil, err
	}
	sealed := make([]*sealedKey, 0, len(w.sealed))
	for _, s := range w.sealed {
		sealed = append(sealed, s)
	}
	sort.Slice(sealed, func(i, j int) bool { return sealed[i].Key.Compare(sealed[j].Key) < 0 })
	return json.Marshal(windowState{Epoch: w.epoch, Trace: trace, Sealed: sealed})
}

func (w *Window) Restore(data []byte) error {
	var s windowState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if err := w.trace.UnmarshalJSON(s.Trace); err != nil {
		return err
	}
	w.epoch = s.Epoch
	w.sealed = make(map[collection.Key]*sealedKey, len(s.Sealed))
	for _, sk := range s.Sealed {
		w.sealed[collection.KeyOf(sk.Key)] = sk
	}
	return nil
}

// filterBatch removes the deltas whose row matches drop.
func filterBatch(b collection.Batch, drop func(collection.Row) bool) collection.Batch {
	out := b[:0]
	for _, d := range b {
		if !drop(d.Row) {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
