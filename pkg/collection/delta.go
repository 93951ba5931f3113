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

package collection

import (
	"sort"
	"strconv"
	"strings"
)

// Delta is a signed change to the multiplicity of a row at a time.
type Delta struct {
	Row  Row   `json:"row"`
	Diff int64 `json:"diff"`
	Time Time  `json:"time"`
}

func (d Delta) String() string {
	return d.Row.String() + "@" + d.Time.String() + "x" + strconv.FormatInt(d.Diff, 10)
}

// Batch is an ordered sequence of deltas.
type Batch []Delta

func (b Batch) String() string {
	parts := make([]string, len(b))
	for i, d := range b {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Consolidate merges deltas with the same row and time, drops zero sums and
// sorts the result by (Time, Row). The result does not depend on the order
// of the input.
func Consolidate(b Batch) Batch {
	if len(b) == 0 {
		return nil
	}
	type slot struct {
		idx  int
		diff int64
	}
	type tk struct {
		t   Time
		row string
	}
	seen := make(map[tk]*slot, len(b))
	slots := make([]*slot, 0, len(b))
	for i, d := range b {
		k := tk{t: d.Time, row: string(d.Row.Encode())}
		if s, ok := seen[k]; ok {
			s.diff += d.Diff
			continue
		}
		s := &slot{idx: i, diff: d.Diff}
		seen[k] = s
		slots = append(slots, s)
	}
	out := make(Batch, 0, len(slots))
	for _, s := range slots {
		if s.diff == 0 {
			continue
		}
		out = append(out, Delta{Row: b[s.idx].Row, Diff: s.diff, Time: b[s.idx].Time})
	}
	out.Sort()
	return out
}

// Sort orders the batch by (Time, Row) in place.
func (b Batch) Sort() {
	sort.SliceStable(b, func(i, j int) bool {
		if c := b[i].Time.Compare(b[j].Time); c != 0 {
			return c < 0
		}
		return b[i].Row.Compare(b[j].Row) < 0
	})
}

// Negate flips the sign of every diff.
func (b Batch) Negate() Batch {
	out := make(Batch, len(b))
	for i, d := range b {
		out[i] = Delta{Row: d.Row, Diff: -d.Diff, Time: d.Time}
	}
	return out
}

// Times returns the distinct times in the batch in Compare order.
func (b Batch) Times() []Time {
	seen := make(map[Time]struct{}, len(b))
	out := make([]Time, 0)
	for _, d := range b {
		if _, ok := seen[d.Time]; ok {
			continue
		}
		seen[d.Time] = struct{}{}
		out = append(out, d.Time)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Split partitions the batch by time, keeping the order of each group.
func (b Batch) Split() map[Time]Batch {
	out := make(map[Time]Batch)
	for _, d := range b {
		out[d.Time] = append(out[d.Time], d)
	}
	return out
}

// Clone returns a shallow copy of the batch.
func (b Batch) Clone() Batch {
	if b == nil {
		return nil
	}
	out := make(Batch, len(b))
	copy(out, b)
	return out
}
