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

// Package frontier tracks which logical times may still appear at a point in
// the dataflow graph.
package frontier

import (
	"math"
	"sort"
	"strings"

	"github.com/numaproj/deltaflow/pkg/collection"
)

// Antichain is a set of mutually incomparable times. A time t is open at an
// antichain when some element is less than or equal to t; otherwise it is
// closed. The empty antichain closes every time.
type Antichain struct {
	elems []collection.Time
}

// NewAntichain returns the minimal elements of ts.
func NewAntichain(ts ...collection.Time) Antichain {
	var a Antichain
	for _, t := range ts {
		a = a.with(t)
	}
	return a
}

// Bottom is the antichain holding only the least time.
func Bottom() Antichain { return NewAntichain(collection.MinTime) }

// Empty returns true when every time is closed.
func (a Antichain) Empty() bool { return len(a.elems) == 0 }

// Elements returns the elements in Compare order.
func (a Antichain) Elements() []collection.Time {
	out := make([]collection.Time, len(a.elems))
	copy(out, a.elems)
	return out
}

// Insert returns a copy of a with t added, unless t is dominated.
func (a Antichain) Insert(t collection.Time) Antichain { return a.with(t) }

func (a Antichain) with(t collection.Time) Antichain {
	for _, e := range a.elems {
		if e.LessEqual(t) {
			return a
		}
	}
	out := make([]collection.Time, 0, len(a.elems)+1)
	for _, e := range a.elems {
		if !t.LessEqual(e) {
			out = append(out, e)
		}
	}
	out = append(out, t)
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return Antichain{elems: out}
}

// LessEqual reports whether t is still open.
func (a Antichain) LessEqual(t collection.Time) bool {
	for _, e := range a.elems {
		if e.LessEqual(t) {
			return true
		}
	}
	return false
}

// Closed reports whether no further deltas at t can appear.
func (a Antichain) Closed(t collection.Time) bool { return !a.LessEqual(t) }

// Dominates reports whether a is at or below b, i.e. every element of b is
// open at a. Every antichain dominates the empty one.
func (a Antichain) Dominates(b Antichain) bool {
	for _, t := range b.elems {
		if !a.LessEqual(t) {
			return false
		}
	}
	return true
}

// Meet is the union of both antichains reduced to its minimal elements.
func (a Antichain) Meet(b Antichain) Antichain {
	out := a
	for _, t := range b.elems {
		out = out.with(t)
	}
	return out
}

// Advance moves every element forward by n epochs.
func (a Antichain) Advance(n uint64) Antichain {
	if n == 0 {
		return a
	}
	var out Antichain
	for _, t := range a.elems {
		out = out.with(t.Advance(n))
	}
	return out
}

// AdvanceTime returns the least time at or after t that is comparable with
// the frontier, the meet over frontier elements of their join with t. Times
// advanced this way are indistinguishable for every open time.
func (a Antichain) AdvanceTime(t collection.Time) collection.Time {
	if len(a.elems) == 0 {
		return t
	}
	out := t.Join(a.elems[0])
	for _, e := range a.elems[1:] {
		out = out.Meet(t.Join(e))
	}
	return out
}

// Equal compares the element sets.
func (a Antichain) Equal(b Antichain) bool {
	if len(a.elems) != len(b.elems) {
		return false
	}
	for i := range a.elems {
		if a.elems[i] != b.elems[i] {
			return false
		}
	}
	return true
}

// Epoch is the least epoch that is still open, MaxUint64 when empty.
func (a Antichain) Epoch() uint64 {
	if len(a.elems) == 0 {
		return math.MaxUint64
	}
	out := uint64(math.MaxUint64)
	for _, e := range a.elems {
		out = min(out, e.Epoch)
	}
	return out
}

func (a Antichain) String() string {
	if len(a.elems) == 0 {
		return "{}"
	}
	parts := make([]string, len(a.elems))
	for i, e := range a.elems {
		parts[i] = e.String()
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// MarshalJSON encodes the elements as a list of times.
func (a Antichain) MarshalJSON() ([]byte, error) {
	return marshalTimes(a.elems)
}

func (a *Antichain) UnmarshalJSON(data []byte) error {
	ts, err := unmarshalTimes(data)
	if err != nil {
		return err
	}
	*a = NewAntichain(ts...)
	return nil
}
