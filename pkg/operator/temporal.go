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
	"github.com/numaproj/deltaflow/pkg/window"
)

// temporal holds what interval and window joins share: the row time column
// of each side, the tolerated lateness and the last frontier epoch seen.
type temporal struct {
	timeCols [2]int
	lateness int64
	epoch    uint64
}

func (t *temporal) rowTime(port int, r collection.Row) (int64, bool) {
	return r.Field(t.timeCols[port]).Ticks()
}

// passed reports whether the row time ts lies behind the frontier epoch by
// more than the lateness.
func (t *temporal) passed(ts int64) bool {
	if t.epoch == 0 {
		return false
	}
	return before(ts+t.lateness, t.epoch)
}

// admit drops rows without a time and rows that are already too late to be
// matched consistently.
func (t *temporal) admit(ctx *ExecContext, port int, batch collection.Batch, late func(port int, ts int64) bool) collection.Batch {
	out := make(collection.Batch, 0, len(batch))
	var dropped collection.Batch
	for _, d := range batch {
		ts, ok := t.rowTime(port, d.Row)
		if !ok {
			ctx.RowError("missing_time", d, nil)
			continue
		}
		if late(port, ts) {
			dropped = append(dropped, d)
			continue
		}
		out = append(out, d)
	}
	ctx.DropLate("row_time_passed", dropped)
	return out
}

// before reports ts < epoch.
func before(ts int64, epoch uint64) bool {
	return ts < 0 || uint64(ts) < epoch
}

// IntervalJoin matches rows of equal key when
// left.t + Lower <= right.t <= left.t + Upper.
type IntervalJoin struct {
	temporal
	lower, upper int64
	join         *bilinear
}

var _ Operator = (*IntervalJoin)(nil)

func NewIntervalJoin(leftKeys, rightKeys collection.KeyColumns, leftTime, rightTime int, lower, upper, lateness int64) *IntervalJoin {
	j := &IntervalJoin{
		temporal: temporal{timeCols: [2]int{leftTime, rightTime}, lateness: lateness},
		lower:    lower,
		upper:    upper,
	}
	j.join = newBilinear(leftKeys, rightKeys, j.pair)
	return j
}

func (j *IntervalJoin) pair(l, r collection.Row) []collection.Row {
	lt, lok := j.rowTime(0, l)
	rt, rok := j.rowTime(1, r)
	if !lok || !rok || rt < lt+j.lower || rt > lt+j.upper {
		return nil
	}
	return []collection.Row{l.Concat(r)}
}

func (*IntervalJoin) Kind() dfv1.NodeKind { return dfv1.NodeKindIntervalJoin }

func (*IntervalJoin) Arity() int { return 2 }

func (j *IntervalJoin) Step(ctx *ExecContext, port int, batch collection.Batch) (collection.Batch, error) {
	return j.join.step(port, j.admit(ctx, port, batch, func(_ int, ts int64) bool { return j.passed(ts) })), nil
}

// Advance evicts rows that no admissible row of the other side can match:
// future right rows have right.t >= epoch - lateness, so a left row is dead
// once left.t + Upper falls behind that, and symmetrically for right rows.
func (j *IntervalJoin) Advance(ctx *ExecContext, f frontier.Antichain) (collection.Batch, error) {
	j.epoch = f.Epoch()
	j.join.compact(f)
	n := j.join.arr[0].evict(func(r collection.Row) bool {
		lt, _ := j.rowTime(0, r)
		return j.passed(lt + j.upper)
	})
	n += j.join.arr[1].evict(func(r collection.Row) bool {
		rt, _ := j.rowTime(1, r)
		return j.passed(rt - j.lower)
	})
	ctx.Evicted(n)
	return nil, nil
}

type temporalState struct {
	Epoch uint64        `json:"epoch"`
	Join  bilinearState `json:"join"`
}

func (j *IntervalJoin) Snapshot() ([]byte, error) { return snapshotTemporal(&j.temporal, j.join) }

func (j *IntervalJoin) Restore(data []byte) error { return restoreTemporal(data, &j.temporal, j.join) }

// WindowJoin matches rows of equal key that fall into the same window
// bucket. Output rows are left ++ right ++ (window start, window end), one
// per shared bucket.
type WindowJoin struct {
	temporal
	assigner window.Assigner
	join     *bilinear
}

var _ Operator = (*WindowJoin)(nil)

func NewWindowJoin(leftKeys, rightKeys collection.KeyColumns, leftTime, rightTime int, assigner window.Assigner, lateness int64) *WindowJoin {
	j := &WindowJoin{
		temporal: temporal{timeCols: [2]int{leftTime, rightTime}, lateness: lateness},
		assigner: assigner,
	}
	j.join = newBilinear(leftKeys, rightKeys, j.pair)
	return j
}

func (j *WindowJoin) pair(l, r collection.Row) []collection.Row {
	lt, lok := j.rowTime(0, l)
	rt, rok := j.rowTime(1, r)
	if !lok || !rok {
		return nil
	}
	var out []collection.Row
	for _, b := range j.assigner.Assign(lt) {
		if b.Contains(rt) {
			out = append(out, l.Concat(r).Append(collection.Int(b.Start), collection.Int(b.End)))
		}
	}
	return out
}

// lastEnd is the end of the latest bucket holding ts.
func (j *WindowJoin) lastEnd(ts int64) int64 {
	bs := j.assigner.Assign(ts)
	return bs[len(bs)-1].End
}

func (*WindowJoin) Kind() dfv1.NodeKind { return dfv1.NodeKindWindowJoin }

func (*WindowJoin) Arity() int { return 2 }

func (j *WindowJoin) Step(ctx *ExecContext, port int, batch collection.Batch) (collection.Batch, error) {
	late := func(_ int, ts int64) bool { return j.passed(j.lastEnd(ts) - 1) }
	return j.join.step(port, j.admit(ctx, port, batch, late)), nil
}

// Advance evicts rows whose every bucket has ended: rows admitted later
// cannot fall into those buckets.
func (j *WindowJoin) Advance(ctx *ExecContext, f frontier.Antichain) (collection.Batch, error) {
	j.epoch = f.Epoch()
	j.join.compact(f)
	n := 0
	for port := 0; port < 2; port++ {
		p := port
		n += j.join.arr[p].evict(func(r collection.Row) bool {
			ts, _ := j.rowTime(p, r)
			return j.passed(j.lastEnd(ts) - 1)
		})
	}
	ctx.Evicted(n)
	return nil, nil
}

func (j *WindowJoin) Snapshot() ([]byte, error) { return snapshotTemporal(&j.temporal, j.join) }

func (j *WindowJoin) Restore(data []byte) error { return restoreTemporal(data, &j.temporal, j.join) }

func snapshotTemporal(t *temporal, b *bilinear) ([]byte, error) {
	s, err := b.snapshot()
	if err != nil {
		return nil, err
	}
	return json.Marshal(temporalState{Epoch: t.epoch, Join: s})
}

func restoreTemporal(data []byte, t *temporal, b *bilinear) error {
	var s temporalState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t.epoch = s.Epoch
	return b.restore(s.Join)
}
