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

// Package testutils holds helpers shared by the tests of the dataflow packages.
package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/numaproj/deltaflow/pkg/collection"
)

// R builds a row from plain Go values: int, int64, float64, string, bool and nil.
func R(vs ...interface{}) collection.Row {
	out := make([]collection.Value, len(vs))
	for i, v := range vs {
		out[i] = V(v)
	}
	return collection.NewRow(out...)
}

// V converts a plain Go value into a collection.Value.
func V(v interface{}) collection.Value {
	switch x := v.(type) {
	case nil:
		return collection.None()
	case collection.Value:
		return x
	case int:
		return collection.Int(int64(x))
	case int64:
		return collection.Int(x)
	case float64:
		return collection.Float(x)
	case string:
		return collection.String(x)
	case bool:
		return collection.Bool(x)
	case []byte:
		return collection.Bytes(x)
	}
	panic("testutils: unsupported value")
}

// T is a time at the given epoch.
func T(epoch uint64) collection.Time { return collection.NewTime(epoch) }

func Insert(r collection.Row, epoch uint64) collection.Delta {
	return collection.Delta{Row: r, Diff: 1, Time: T(epoch)}
}

func Retract(r collection.Row, epoch uint64) collection.Delta {
	return collection.Delta{Row: r, Diff: -1, Time: T(epoch)}
}

// Materialize applies every delta of b with time at or before t.
func Materialize(b collection.Batch, t collection.Time) *collection.ZSet {
	c := collection.NewCollection()
	c.Apply(b)
	return c.At(t)
}

// ZSetOf builds a Z-set with multiplicity one for every row.
func ZSetOf(rows ...collection.Row) *collection.ZSet {
	z := collection.NewZSet()
	for _, r := range rows {
		z.Add(r, 1)
	}
	return z
}

// AssertZSetEqual compares two Z-sets and prints both on failure.
func AssertZSetEqual(t *testing.T, want, got *collection.ZSet, msgAndArgs ...interface{}) bool {
	t.Helper()
	if want.Equal(got) {
		return true
	}
	return assert.Fail(t, "Z-sets differ\nwant: "+want.String()+"\ngot:  "+got.String(), msgAndArgs...)
}

// Schema builds a schema from alternating field names and kinds.
func Schema(name string, fields ...interface{}) collection.Schema {
	s := collection.Schema{Name: name}
	for i := 0; i+1 < len(fields); i += 2 {
		s.Fields = append(s.Fields, collection.Field{Name: fields[i].(string), Kind: fields[i+1].(collection.Kind)})
	}
	return s
}
