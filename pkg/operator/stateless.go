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
	"time"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/frontier"
	"github.com/numaproj/deltaflow/pkg/shared/expr"
)

// stateless is embedded by operators that keep no state.
type stateless struct{}

func (stateless) Advance(*ExecContext, frontier.Antichain) (collection.Batch, error) { return nil, nil }

func (stateless) Snapshot() ([]byte, error) { return nil, nil }

func (stateless) Restore([]byte) error { return nil }

// Input hands rows from a source to the graph unchanged.
type Input struct{ stateless }

var _ Operator = (*Input)(nil)

func NewInput() *Input { return &Input{} }

func (*Input) Kind() dfv1.NodeKind { return dfv1.NodeKindInput }

func (*Input) Arity() int { return 1 }

func (*Input) Step(_ *ExecContext, _ int, batch collection.Batch) (collection.Batch, error) {
	return batch, nil
}

// Map applies a row function to every delta. A retraction of a row maps to
// the retraction of the mapped row.
type Map struct {
	stateless
	fn MapFunc
}

var _ Operator = (*Map)(nil)

func NewMap(fn MapFunc) *Map { return &Map{fn: fn} }

// NewExprMap computes every output column with an expression over the
// fields of the input row.
func NewExprMap(in, out collection.Schema, expressions []string, c *expr.Compiler) (*Map, error) {
	if len(expressions) != out.Len() {
		return nil, fmt.Errorf("map needs one expression per output column, got %d for %d", len(expressions), out.Len())
	}
	sample := sampleFields(in)
	programs := make([]*expr.Program, len(expressions))
	for i, e := range expressions {
		p, err := c.Compile(e, sample)
		if err != nil {
			return nil, err
		}
		programs[i] = p
	}
	return NewMap(func(r collection.Row) (collection.Row, error) {
		fields := rowFields(in, r)
		values := make([]collection.Value, len(programs))
		for i, p := range programs {
			res, err := p.Run(fields)
			if err != nil {
				return collection.Row{}, err
			}
			f := out.Fields[i]
			v, err := collection.FromNative(f.Kind, res)
			if err != nil {
				return collection.Row{}, &collection.SchemaMismatch{Schema: out.Name, Field: f.Name, Index: i, Message: err.Error()}
			}
			values[i] = v
		}
		return out.NewRow(values...)
	}), nil
}

func (*Map) Kind() dfv1.NodeKind { return dfv1.NodeKindMap }

func (*Map) Arity() int { return 1 }

func (m *Map) Step(ctx *ExecContext, _ int, batch collection.Batch) (collection.Batch, error) {
	out := make(collection.Batch, 0, len(batch))
	for _, d := range batch {
		r, err := m.fn(d.Row)
		if err != nil {
			ctx.RowError("map", d, err)
			continue
		}
		out = append(out, collection.Delta{Row: r, Diff: d.Diff, Time: d.Time})
	}
	return out, nil
}

// Filter keeps the deltas of rows matching a predicate.
type Filter struct {
	stateless
	fn FilterFunc
}

var _ Operator = (*Filter)(nil)

func NewFilter(fn FilterFunc) *Filter { return &Filter{fn: fn} }

// NewExprFilter keeps rows for which the boolean expression holds.
func NewExprFilter(in collection.Schema, expression string, c *expr.Compiler) (*Filter, error) {
	p, err := c.Compile(expression, sampleFields(in))
	if err != nil {
		return nil, err
	}
	return NewFilter(func(r collection.Row) (bool, error) {
		return p.RunBool(rowFields(in, r))
	}), nil
}

func (*Filter) Kind() dfv1.NodeKind { return dfv1.NodeKindFilter }

func (*Filter) Arity() int { return 1 }

func (f *Filter) Step(ctx *ExecContext, _ int, batch collection.Batch) (collection.Batch, error) {
	out := make(collection.Batch, 0, len(batch))
	for _, d := range batch {
		ok, err := f.fn(d.Row)
		if err != nil {
			ctx.RowError("filter", d, err)
			continue
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// FlatMap expands every row into zero or more rows with the same diff.
type FlatMap struct {
	stateless
	fn  FlatMapFunc
	out collection.Schema
}

var _ Operator = (*FlatMap)(nil)

func NewFlatMap(out collection.Schema, fn FlatMapFunc) *FlatMap { return &FlatMap{fn: fn, out: out} }

func (*FlatMap) Kind() dfv1.NodeKind { return dfv1.NodeKindFlatMap }

func (*FlatMap) Arity() int { return 1 }

func (f *FlatMap) Step(ctx *ExecContext, _ int, batch collection.Batch) (collection.Batch, error) {
	var out collection.Batch
	for _, d := range batch {
		rows, err := f.fn(d.Row)
		if err == nil {
			for _, r := range rows {
				if err = f.out.Validate(r); err != nil {
					break
				}
			}
		}
		if err != nil {
			ctx.RowError("flat_map", d, err)
			continue
		}
		for _, r := range rows {
			out = append(out, collection.Delta{Row: r, Diff: d.Diff, Time: d.Time})
		}
	}
	return out, nil
}

// Concat is the union of its inputs.
type Concat struct {
	stateless
	arity int
}

var _ Operator = (*Concat)(nil)

func NewConcat(arity int) *Concat { return &Concat{arity: arity} }

func (*Concat) Kind() dfv1.NodeKind { return dfv1.NodeKindConcat }

func (c *Concat) Arity() int { return c.arity }

func (*Concat) Step(_ *ExecContext, _ int, batch collection.Batch) (collection.Batch, error) {
	return batch, nil
}

// Delay moves every delta forward by a number of epochs. It is the only
// operator allowed to close a cycle.
type Delay struct {
	stateless
	epochs uint64
}

var _ Operator = (*Delay)(nil)

func NewDelay(epochs uint64) *Delay { return &Delay{epochs: epochs} }

func (*Delay) Kind() dfv1.NodeKind { return dfv1.NodeKindDelay }

func (*Delay) Arity() int { return 1 }

func (d *Delay) Epochs() uint64 { return d.epochs }

func (d *Delay) Step(_ *ExecContext, _ int, batch collection.Batch) (collection.Batch, error) {
	out := make(collection.Batch, len(batch))
	for i, x := range batch {
		out[i] = collection.Delta{Row: x.Row, Diff: x.Diff, Time: x.Time.Advance(d.epochs)}
	}
	return out, nil
}

func rowFields(s collection.Schema, r collection.Row) map[string]interface{} {
	fields := make(map[string]interface{}, s.Len())
	for i, f := range s.Fields {
		if i < r.Len() {
			fields[f.Name] = r.Field(i).Native()
		}
	}
	return fields
}

func sampleFields(s collection.Schema) map[string]interface{} {
	fields := make(map[string]interface{}, s.Len())
	for _, f := range s.Fields {
		fields[f.Name] = sampleOf(f)
	}
	return fields
}

func sampleOf(f collection.Field) interface{} {
	if f.Nullable {
		return nil
	}
	switch f.Kind {
	case collection.KindBool:
		return false
	case collection.KindInt:
		return int64(0)
	case collection.KindFloat:
		return float64(0)
	case collection.KindString, collection.KindPointer:
		return ""
	case collection.KindBytes:
		return []byte{}
	case collection.KindTimestamp:
		return time.Time{}
	}
	return nil
}
