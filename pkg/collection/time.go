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
	"fmt"
	"math"
)

// Time is a logical timestamp ordered by the product order on
// (Epoch, Seq). Two times may be incomparable.
type Time struct {
	Epoch uint64 `json:"epoch"`
	Seq   uint64 `json:"seq"`
}

var (
	// MinTime is the least element of the lattice.
	MinTime = Time{}
	// MaxTime stands for "no more input".
	MaxTime = Time{Epoch: math.MaxUint64, Seq: math.MaxUint64}
)

func NewTime(epoch uint64) Time { return Time{Epoch: epoch} }

// LessEqual is the partial order.
func (t Time) LessEqual(o Time) bool { return t.Epoch <= o.Epoch && t.Seq <= o.Seq }

func (t Time) Less(o Time) bool { return t.LessEqual(o) && t != o }

// Comparable reports whether t and o are ordered either way.
func (t Time) Comparable(o Time) bool { return t.LessEqual(o) || o.LessEqual(t) }

// Join is the least upper bound.
func (t Time) Join(o Time) Time {
	return Time{Epoch: max(t.Epoch, o.Epoch), Seq: max(t.Seq, o.Seq)}
}

// Meet is the greatest lower bound.
func (t Time) Meet(o Time) Time {
	return Time{Epoch: min(t.Epoch, o.Epoch), Seq: min(t.Seq, o.Seq)}
}

// Compare is a lexicographic linear extension of the partial order, used
// wherever a total commit order is needed.
func (t Time) Compare(o Time) int {
	switch {
	case t.Epoch < o.Epoch:
		return -1
	case t.Epoch > o.Epoch:
		return 1
	case t.Seq < o.Seq:
		return -1
	case t.Seq > o.Seq:
		return 1
	}
	return 0
}

// Advance moves the epoch forward by n, saturating at MaxTime.
func (t Time) Advance(n uint64) Time {
	if t.Epoch > math.MaxUint64-n {
		return Time{Epoch: math.MaxUint64, Seq: t.Seq}
	}
	return Time{Epoch: t.Epoch + n, Seq: t.Seq}
}

func (t Time) String() string {
	if t == MaxTime {
		return "(inf)"
	}
	return fmt.Sprintf("(%d,%d)", t.Epoch, t.Seq)
}
