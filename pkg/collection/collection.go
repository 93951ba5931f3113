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
)

// Weighted is a row paired with its multiplicity.
type Weighted struct {
	Row   Row   `json:"row"`
	Count int64 `json:"count"`
}

// ZSet is a consolidated multiset of rows with signed multiplicities. Rows
// whose multiplicity reaches zero are removed.
type ZSet struct {
	entries map[string]*Weighted
}

func NewZSet() *ZSet { return &ZSet{entries: make(map[string]*Weighted)} }

// Add changes the multiplicity of r by n.
func (z *ZSet) Add(r Row, n int64) {
	if n == 0 {
		return
	}
	k := string(r.Encode())
	if w, ok := z.entries[k]; ok {
		w.Count += n
		if w.Count == 0 {
			delete(z.entries, k)
		}
		return
	}
	z.entries[k] = &Weighted{Row: r, Count: n}
}

// AddZSet adds every entry of o scaled by sign.
func (z *ZSet) AddZSet(o *ZSet, sign int64) {
	for _, w := range o.entries {
		z.Add(w.Row, w.Count*sign)
	}
}

func (z *ZSet) Multiplicity(r Row) int64 {
	if w, ok := z.entries[string(r.Encode())]; ok {
		return w.Count
	}
	return 0
}

func (z *ZSet) Len() int { return len(z.entries) }

func (z *ZSet) IsZero() bool { return len(z.entries) == 0 }

// Rows returns the entries sorted by row.
func (z *ZSet) Rows() []Weighted {
	out := make([]Weighted, 0, len(z.entries))
	for _, w := range z.entries {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Row.Compare(out[j].Row) < 0 })
	return out
}

// Total is the sum of all multiplicities.
func (z *ZSet) Total() int64 {
	var n int64
	for _, w := range z.entries {
		n += w.Count
	}
	return n
}

func (z *ZSet) Equal(o *ZSet) bool {
	if len(z.entries) != len(o.entries) {
		return false
	}
	for k, w := range z.entries {
		ow, ok := o.entries[k]
		if !ok || ow.Count != w.Count {
			return false
		}
	}
	return true
}

// Delta returns the batch that turns z into o at time t.
func (z *ZSet) Delta(o *ZSet, t Time) Batch {
	diff := NewZSet()
	diff.AddZSet(o, 1)
	diff.AddZSet(z, -1)
	out := make(Batch, 0, diff.Len())
	for _, w := range diff.Rows() {
		out = append(out, Delta{Row: w.Row, Diff: w.Count, Time: t})
	}
	return out
}

func (z *ZSet) String() string {
	s := "{"
	for i, w := range z.Rows() {
		if i > 0 {
			s += ", "
		}
		s += w.Row.String() + ":" + strconv.FormatInt(w.Count, 10)
	}
	return s + "}"
}

// Collection accumulates timed deltas so that its contents can be
// materialised at any time.
type Collection struct {
	deltas Batch
}

func NewCollection() *Collection { return &Collection{} }

// Apply appends the deltas of b.
func (c *Collection) Apply(b Batch) {
	c.deltas = append(c.deltas, b...)
	if len(c.deltas) > 1024 && len(c.deltas) > 4*len(b) {
		c.deltas = Consolidate(c.deltas)
	}
}

// At sums every delta whose time is less than or equal to t.
func (c *Collection) At(t Time) *ZSet {
	z := NewZSet()
	for _, d := range c.deltas {
		if d.Time.LessEqual(t) {
			z.Add(d.Row, d.Diff)
		}
	}
	return z
}

// All sums every delta regardless of time.
func (c *Collection) All() *ZSet { return c.At(MaxTime) }

// Deltas returns the consolidated history.
func (c *Collection) Deltas() Batch { return Consolidate(c.deltas) }
