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
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// Row is an immutable ordered tuple of values. Accessors never expose the
// backing slice.
type Row struct {
	values []Value
}

func NewRow(values ...Value) Row {
	cp := make([]Value, len(values))
	copy(cp, values)
	return Row{values: cp}
}

func (r Row) Len() int { return len(r.values) }

func (r Row) Field(i int) Value { return r.values[i] }

func (r Row) Values() []Value {
	cp := make([]Value, len(r.values))
	copy(cp, r.values)
	return cp
}

// Concat returns a new row holding the fields of r followed by the fields of o.
func (r Row) Concat(o Row) Row {
	out := make([]Value, 0, len(r.values)+len(o.values))
	out = append(out, r.values...)
	out = append(out, o.values...)
	return Row{values: out}
}

// Project returns a new row with the fields at the given indices.
func (r Row) Project(idx ...int) Row {
	out := make([]Value, len(idx))
	for i, j := range idx {
		out[i] = r.values[j]
	}
	return Row{values: out}
}

// Append returns a new row with vs added after the existing fields.
func (r Row) Append(vs ...Value) Row {
	out := make([]Value, 0, len(r.values)+len(vs))
	out = append(out, r.values...)
	out = append(out, vs...)
	return Row{values: out}
}

func (r Row) Compare(o Row) int {
	for i := 0; i < len(r.values) && i < len(o.values); i++ {
		if c := r.values[i].Compare(o.values[i]); c != 0 {
			return c
		}
	}
	return compareInt(int64(len(r.values)), int64(len(o.values)))
}

func (r Row) Equal(o Row) bool { return r.Compare(o) == 0 }

// Encode returns the canonical encoding of the row.
func (r Row) Encode() []byte {
	buf := make([]byte, 0, 16*len(r.values))
	for _, v := range r.values {
		buf = v.AppendEncoding(buf)
	}
	return buf
}

// Fingerprint is the xxhash of the canonical encoding.
func (r Row) Fingerprint() uint64 { return xxhash.Sum64(r.Encode()) }

func (r Row) String() string {
	parts := make([]string, len(r.values))
	for i, v := range r.values {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (r Row) MarshalJSON() ([]byte, error) {
	if r.values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.values)
}

func (r *Row) UnmarshalJSON(data []byte) error {
	var vs []Value
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	r.values = vs
	return nil
}
