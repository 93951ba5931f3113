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
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/numaproj/deltaflow/pkg/collection"
)

// WeightedValue is one value of a reducer input with its multiplicity.
type WeightedValue struct {
	Value  collection.Value
	Weight int64
}

// Reducer folds the values of one column of a group into an aggregate.
//
// Invertible reducers fold signed weights, so a retraction simply subtracts.
// Non-invertible reducers (min, max, median) need every distinct value with
// its multiplicity; the operators keep that multiset for every key.
type Reducer interface {
	Name() string
	// Kind is the kind of the aggregate value.
	Kind() collection.Kind
	// Invertible reducers implement Accumulator.
	Invertible() bool
	// Reduce never sees None values.
	Reduce(values []WeightedValue) (collection.Value, error)
}

// Accumulator keeps an invertible aggregate as a running state. The state of
// a multiset is the Merge of the states of any split of it, so a group can
// be kept as one state per time instead of its rows.
type Accumulator interface {
	Reducer
	Zero() collection.Value
	Fold(acc collection.Value, v WeightedValue) (collection.Value, error)
	Merge(a, b collection.Value) (collection.Value, error)
	Result(acc collection.Value) (collection.Value, error)
}

var (
	_ Accumulator = Count{}
	_ Accumulator = Sum{}
	_ Accumulator = Avg{}
	_ Accumulator = (*Custom)(nil)
)

// fold folds values into a fresh state.
func fold(a Accumulator, vs []WeightedValue) (collection.Value, error) {
	acc := a.Zero()
	var err error
	for _, v := range vs {
		if acc, err = a.Fold(acc, v); err != nil {
			return collection.None(), err
		}
	}
	return acc, nil
}

var builtinReducers = map[string]ReducerFactory{
	"count":  func(collection.Kind) (Reducer, error) { return Count{}, nil },
	"sum":    newSum,
	"avg":    newAvg,
	"min":    func(k collection.Kind) (Reducer, error) { return newExtreme("min", k, -1) },
	"max":    func(k collection.Kind) (Reducer, error) { return newExtreme("max", k, 1) },
	"median": newMedian,
}

// Count counts rows, including rows whose column is None.
type Count struct{}

func (Count) Name() string          { return "count" }
func (Count) Kind() collection.Kind { return collection.KindInt }
func (Count) Invertible() bool      { return true }
func (c Count) Reduce(vs []WeightedValue) (collection.Value, error) {
	return fold(c, vs)
}

func (Count) Zero() collection.Value { return collection.Int(0) }

func (Count) Fold(acc collection.Value, v WeightedValue) (collection.Value, error) {
	return collection.Int(acc.AsInt() + v.Weight), nil
}

func (Count) Merge(a, b collection.Value) (collection.Value, error) {
	return collection.Int(a.AsInt() + b.AsInt()), nil
}

func (Count) Result(acc collection.Value) (collection.Value, error) { return acc, nil }

// Sum adds an int or float column.
type Sum struct{ kind collection.Kind }

func newSum(k collection.Kind) (Reducer, error) {
	if k != collection.KindInt && k != collection.KindFloat {
		return nil, fmt.Errorf("sum needs an int or float column, got %s", k)
	}
	return Sum{kind: k}, nil
}

func (s Sum) Name() string          { return "sum" }
func (s Sum) Kind() collection.Kind { return s.kind }
func (Sum) Invertible() bool        { return true }
func (s Sum) Reduce(vs []WeightedValue) (collection.Value, error) {
	return fold(s, vs)
}

func (s Sum) Zero() collection.Value {
	if s.kind == collection.KindInt {
		return collection.Int(0)
	}
	return collection.Float(0)
}

func (s Sum) Fold(acc collection.Value, v WeightedValue) (collection.Value, error) {
	if s.kind == collection.KindInt {
		return collection.Int(acc.AsInt() + v.Value.AsInt()*v.Weight), nil
	}
	return collection.Float(acc.AsFloat() + v.Value.AsFloat()*float64(v.Weight)), nil
}

func (s Sum) Merge(a, b collection.Value) (collection.Value, error) {
	if s.kind == collection.KindInt {
		return collection.Int(a.AsInt() + b.AsInt()), nil
	}
	return collection.Float(a.AsFloat() + b.AsFloat()), nil
}

func (Sum) Result(acc collection.Value) (collection.Value, error) { return acc, nil }

// Avg is the weighted mean as a float, None when no value is present.
type Avg struct{}

func newAvg(k collection.Kind) (Reducer, error) {
	if k != collection.KindInt && k != collection.KindFloat {
		return nil, fmt.Errorf("avg needs an int or float column, got %s", k)
	}
	return Avg{}, nil
}

func (Avg) Name() string          { return "avg" }
func (Avg) Kind() collection.Kind { return collection.KindFloat }
func (Avg) Invertible() bool      { return true }
func (a Avg) Reduce(vs []WeightedValue) (collection.Value, error) {
	acc, err := fold(a, vs)
	if err != nil {
		return collection.None(), err
	}
	return a.Result(acc)
}

// Zero is the state (sum, n).
func (Avg) Zero() collection.Value { return collection.Tuple(collection.Float(0), collection.Int(0)) }

func (Avg) Fold(acc collection.Value, v WeightedValue) (collection.Value, error) {
	st := acc.AsTuple()
	x, _ := v.Value.Numeric()
	return collection.Tuple(
		collection.Float(st[0].AsFloat()+x*float64(v.Weight)),
		collection.Int(st[1].AsInt()+v.Weight)), nil
}

func (Avg) Merge(a, b collection.Value) (collection.Value, error) {
	x, y := a.AsTuple(), b.AsTuple()
	return collection.Tuple(
		collection.Float(x[0].AsFloat()+y[0].AsFloat()),
		collection.Int(x[1].AsInt()+y[1].AsInt())), nil
}

func (Avg) Result(acc collection.Value) (collection.Value, error) {
	st := acc.AsTuple()
	if st[1].AsInt() == 0 {
		return collection.None(), nil
	}
	return collection.Float(st[0].AsFloat() / float64(st[1].AsInt())), nil
}

// Extreme is min or max over values with a positive multiplicity.
type Extreme struct {
	name string
	kind collection.Kind
	sign int
}

func newExtreme(name string, k collection.Kind, sign int) (Reducer, error) {
	if k == collection.KindNone {
		return nil, fmt.Errorf("%s needs a typed column", name)
	}
	return Extreme{name: name, kind: k, sign: sign}, nil
}

func (e Extreme) Name() string          { return e.name }
func (e Extreme) Kind() collection.Kind { return e.kind }
func (Extreme) Invertible() bool        { return false }
func (e Extreme) Reduce(vs []WeightedValue) (collection.Value, error) {
	var (
		best  collection.Value
		found bool
	)
	for _, v := range positive(vs) {
		if !found || v.Value.Compare(best)*e.sign > 0 {
			best, found = v.Value, true
		}
	}
	if !found {
		return collection.None(), nil
	}
	return best, nil
}

// Median of a numeric column, computed over the retained multiset.
type Median struct{}

func newMedian(k collection.Kind) (Reducer, error) {
	if k != collection.KindInt && k != collection.KindFloat {
		return nil, fmt.Errorf("median needs an int or float column, got %s", k)
	}
	return Median{}, nil
}

func (Median) Name() string          { return "median" }
func (Median) Kind() collection.Kind { return collection.KindFloat }
func (Median) Invertible() bool      { return false }
func (Median) Reduce(vs []WeightedValue) (collection.Value, error) {
	var data stats.Float64Data
	for _, v := range positive(vs) {
		x, _ := v.Value.Numeric()
		for i := int64(0); i < v.Weight; i++ {
			data = append(data, x)
		}
	}
	if len(data) == 0 {
		return collection.None(), nil
	}
	m, err := stats.Median(data)
	if err != nil {
		return collection.None(), err
	}
	return collection.Float(m), nil
}

// Custom is an invertible reducer built from an initial value, a fold that
// must accept negative weights and a merge of two folded states. The folded
// state is the aggregate.
type Custom struct {
	name  string
	kind  collection.Kind
	init  func() collection.Value
	add   func(acc, v collection.Value, weight int64) (collection.Value, error)
	merge func(a, b collection.Value) (collection.Value, error)
}

func NewCustom(name string, kind collection.Kind, init func() collection.Value,
	add func(acc, v collection.Value, weight int64) (collection.Value, error),
	merge func(a, b collection.Value) (collection.Value, error)) *Custom {
	return &Custom{name: name, kind: kind, init: init, add: add, merge: merge}
}

func (c *Custom) Name() string          { return c.name }
func (c *Custom) Kind() collection.Kind { return c.kind }
func (c *Custom) Invertible() bool      { return true }
func (c *Custom) Reduce(vs []WeightedValue) (collection.Value, error) {
	return fold(c, vs)
}

func (c *Custom) Zero() collection.Value { return c.init() }

func (c *Custom) Fold(acc collection.Value, v WeightedValue) (collection.Value, error) {
	return c.add(acc, v.Value, v.Weight)
}

func (c *Custom) Merge(a, b collection.Value) (collection.Value, error) { return c.merge(a, b) }

func (c *Custom) Result(acc collection.Value) (collection.Value, error) { return acc, nil }

// CustomMultiset is a non-invertible reducer that sees the whole multiset.
type CustomMultiset struct {
	name string
	kind collection.Kind
	fn   func([]WeightedValue) (collection.Value, error)
}

func NewCustomMultiset(name string, kind collection.Kind, fn func([]WeightedValue) (collection.Value, error)) *CustomMultiset {
	return &CustomMultiset{name: name, kind: kind, fn: fn}
}

func (c *CustomMultiset) Name() string          { return c.name }
func (c *CustomMultiset) Kind() collection.Kind { return c.kind }
func (c *CustomMultiset) Invertible() bool      { return false }
func (c *CustomMultiset) Reduce(vs []WeightedValue) (collection.Value, error) {
	return c.fn(positive(vs))
}

// positive merges equal values and keeps those with a positive weight,
// ordered by value.
func positive(vs []WeightedValue) []WeightedValue {
	merged := make(map[string]*WeightedValue, len(vs))
	for _, v := range vs {
		k := string(v.Value.AppendEncoding(nil))
		if m, ok := merged[k]; ok {
			m.Weight += v.Weight
			continue
		}
		cp := v
		merged[k] = &cp
	}
	out := make([]WeightedValue, 0, len(merged))
	for _, m := range merged {
		if m.Weight > 0 {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value.Compare(out[j].Value) < 0 })
	return out
}

// Aggregate binds a reducer to an input column. Column is -1 for reducers
// that only count rows.
type Aggregate struct {
	Name    string
	Reducer Reducer
	Column  int
}

// inputs returns the values an aggregate reads from weighted rows.
func (a Aggregate) inputs(rows []collection.Weighted) []WeightedValue {
	vs := make([]WeightedValue, 0, len(rows))
	for _, r := range rows {
		if a.Column < 0 {
			vs = append(vs, WeightedValue{Value: collection.None(), Weight: r.Count})
			continue
		}
		v := r.Row.Field(a.Column)
		if v.IsNone() {
			continue
		}
		vs = append(vs, WeightedValue{Value: v, Weight: r.Count})
	}
	return vs
}

// aggregateRows reduces weighted rows into one value per aggregate.
func aggregateRows(aggs []Aggregate, rows []collection.Weighted) ([]collection.Value, error) {
	out := make([]collection.Value, len(aggs))
	for i, a := range aggs {
		agg, err := a.Reducer.Reduce(a.inputs(rows))
		if err != nil {
			return nil, fmt.Errorf("aggregate %q: %w", a.Name, err)
		}
		out[i] = agg
	}
	return out, nil
}

// projectAggregates rewrites aggregate columns against a projected row
// holding only the columns the aggregates read. It returns the rewritten
// aggregates and the input columns to keep.
func projectAggregates(aggs []Aggregate, prefix ...int) ([]Aggregate, []int) {
	keep := append([]int(nil), prefix...)
	pos := make(map[int]int)
	for i, c := range keep {
		pos[c] = i
	}
	out := make([]Aggregate, len(aggs))
	for i, a := range aggs {
		out[i] = a
		if a.Column < 0 {
			continue
		}
		p, ok := pos[a.Column]
		if !ok {
			p = len(keep)
			pos[a.Column] = p
			keep = append(keep, a.Column)
		}
		out[i].Column = p
	}
	return out, keep
}

func sumCounts(rows []collection.Weighted) int64 {
	var n int64
	for _, r := range rows {
		n += r.Count
	}
	return n
}
