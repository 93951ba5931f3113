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

	"github.com/goccy/go-json"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/frontier"
)

// AsofJoin matches every left row with the right row of the same key whose
// time is the greatest one not after the left row's time. Left rows without
// a candidate are kept and padded with None. When a change on the right
// alters the chosen match, the old pair is retracted and the new one
// inserted.
//
// Without a lateness the right side is kept for good. With one, rows whose
// time lies more than the lateness behind the frontier epoch are late, and
// state that no admissible row can reach again is evicted.
type AsofJoin struct {
	temporal
	keys       [2]collection.KeyColumns
	tieBreak   dfv1.TieBreak
	seqCol     int
	rightArity int
	bounded    bool
	trace      *keyedTrace
}

var _ Operator = (*AsofJoin)(nil)

// NewAsofJoin builds the join. seqCol is the right column compared by
// TieBreakGreatestSeq and is ignored by the other tie-breaks.
func NewAsofJoin(leftKeys, rightKeys collection.KeyColumns, leftTime, rightTime int, tieBreak dfv1.TieBreak, seqCol, rightArity int) *AsofJoin {
	j := &AsofJoin{
		temporal:   temporal{timeCols: [2]int{leftTime, rightTime}},
		keys:       [2]collection.KeyColumns{leftKeys, rightKeys},
		tieBreak:   tieBreak,
		seqCol:     seqCol,
		rightArity: rightArity,
	}
	j.trace = newKeyedTrace(2, j.match)
	return j
}

// WithLateness bounds the join state by a lateness in row time ticks.
func (j *AsofJoin) WithLateness(lateness int64) *AsofJoin {
	j.bounded, j.lateness = true, lateness
	return j
}

func (*AsofJoin) Kind() dfv1.NodeKind { return dfv1.NodeKindAsofJoin }

func (*AsofJoin) Arity() int { return 2 }

// better reports whether candidate a wins over b at the same time.
func (j *AsofJoin) better(a, b collection.Row) bool {
	switch j.tieBreak {
	case dfv1.TieBreakLeastRow:
		return a.Compare(b) < 0
	case dfv1.TieBreakGreatestSeq:
		if c := a.Field(j.seqCol).Compare(b.Field(j.seqCol)); c != 0 {
			return c > 0
		}
		return a.Compare(b) > 0
	default:
		return a.Compare(b) > 0
	}
}

func (j *AsofJoin) match(_ collection.Row, inputs [][]collection.Weighted) ([]collection.Weighted, error) {
	left, right := inputs[0], inputs[1]
	type candidate struct {
		ts  int64
		row collection.Row
	}
	cands := make([]candidate, 0, len(right))
	for _, r := range right {
		if r.Count <= 0 {
			continue
		}
		if ts, ok := r.Row.Field(j.timeCols[1]).Ticks(); ok {
			cands = append(cands, candidate{ts: ts, row: r.Row})
		}
	}
	out := make([]collection.Weighted, 0, len(left))
	for _, l := range left {
		lt, ok := l.Row.Field(j.timeCols[0]).Ticks()
		var (
			best  candidate
			found bool
		)
		if ok {
			for _, c := range cands {
				if c.ts > lt {
					continue
				}
				if !found || c.ts > best.ts || (c.ts == best.ts && j.better(c.row, best.row)) {
					best, found = c, true
				}
			}
		}
		if found {
			out = append(out, collection.Weighted{Row: l.Row.Concat(best.row), Count: l.Count})
		} else {
			out = append(out, collection.Weighted{Row: l.Row.Concat(nullRow(j.rightArity)), Count: l.Count})
		}
	}
	return out, nil
}

func (j *AsofJoin) Step(ctx *ExecContext, port int, batch collection.Batch) (collection.Batch, error) {
	if j.bounded {
		batch = j.admitLate(ctx, port, batch)
	}
	keyRows, groups := groupByKey(batch, j.keys[port])
	var out collection.Batch
	for i, kr := range keyRows {
		o, err := j.trace.update(kr, port, groups[i])
		if err != nil {
			return nil, err
		}
		out = append(out, o...)
	}
	return out, nil
}

// admitLate drops deltas whose row time has passed. Rows without a time
// are kept and padded.
func (j *AsofJoin) admitLate(ctx *ExecContext, port int, batch collection.Batch) collection.Batch {
	out := make(collection.Batch, 0, len(batch))
	var dropped collection.Batch
	for _, d := range batch {
		if ts, ok := j.rowTime(port, d.Row); ok && j.passed(ts) {
			dropped = append(dropped, d)
			continue
		}
		out = append(out, d)
	}
	ctx.DropLate("row_time_passed", dropped)
	return out
}

func (j *AsofJoin) Advance(ctx *ExecContext, f frontier.Antichain) (collection.Batch, error) {
	j.trace.compact(f)
	if j.bounded && !f.Empty() {
		j.epoch = f.Epoch()
		ctx.Evicted(j.evict(f))
	}
	return nil, nil
}

// evict drops, per key, the state no future delta can change:
//   - left rows whose time has passed, with the output rows they produced:
//     right rows admitted from now on are later than them;
//   - right rows older than a newer right row whose time has passed and
//     whose deltas are all closed: every left row admitted from now on
//     prefers the newer one.
func (j *AsofJoin) evict(f frontier.Antichain) int {
	closed := func(t collection.Time) bool {
		for _, e := range f.Elements() {
			if !t.LessEqual(e) {
				return false
			}
		}
		return true
	}
	n := 0
	for k, ks := range j.trace.keys {
		leftPassed := func(r collection.Row) bool {
			ts, ok := j.rowTime(0, r)
			return ok && j.passed(ts)
		}
		ks.Inputs[0], n = dropRows(ks.Inputs[0], leftPassed, n)
		ks.Output, _ = dropRows(ks.Output, leftPassed, 0)

		// the newest settled right time: every delta of the row is closed
		// and its net multiplicity is positive
		open := make(map[collection.Key]bool)
		net := collection.NewZSet()
		for _, d := range ks.Inputs[1] {
			net.Add(d.Row, d.Diff)
			if !closed(d.Time) {
				open[collection.KeyOf(d.Row)] = true
			}
		}
		var (
			newest int64
			found  bool
		)
		for _, w := range net.Rows() {
			ts, ok := j.rowTime(1, w.Row)
			if !ok || w.Count <= 0 || open[collection.KeyOf(w.Row)] || !j.passed(ts) {
				continue
			}
			if !found || ts > newest {
				newest, found = ts, true
			}
		}
		if found {
			ks.Inputs[1], n = dropRows(ks.Inputs[1], func(r collection.Row) bool {
				ts, ok := j.rowTime(1, r)
				return ok && ts < newest
			}, n)
		}
		if ks.empty() {
			delete(j.trace.keys, k)
		}
	}
	return n
}

func dropRows(b collection.Batch, dead func(collection.Row) bool, n int) (collection.Batch, int) {
	kept := b[:0]
	for _, d := range b {
		if dead(d.Row) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return nil, n
	}
	return kept, n
}

// Retained returns the number of deltas held for both inputs.
func (j *AsofJoin) Retained() int {
	n := 0
	for _, ks := range j.trace.keys {
		for _, in := range ks.Inputs {
			n += len(in)
		}
	}
	return n
}

type asofState struct {
	Epoch uint64          `json:"epoch"`
	Trace json.RawMessage `json:"trace"`
}

func (j *AsofJoin) Snapshot() ([]byte, error) {
	trace, err := json.Marshal(j.trace)
	if err != nil {
		return nil, err
	}
	return json.Marshal(asofState{Epoch: j.epoch, Trace: trace})
}

func (j *AsofJoin) Restore(data []byte) error {
	var st asofState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore as-of join, %w", err)
	}
	j.epoch = st.Epoch
	return j.trace.UnmarshalJSON(st.Trace)
}
