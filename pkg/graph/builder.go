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

package graph

import (
	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/operator"
	"github.com/numaproj/deltaflow/pkg/shared/expr"
	"github.com/numaproj/deltaflow/pkg/window"
)

const (
	WindowStartField = "window_start"
	WindowEndField   = "window_end"
)

type builder struct {
	reg      *operator.Registry
	compiler *expr.Compiler
}

// compile derives the output schema, the keyed ports and the operator
// factory of n. The schemas of its ports must be resolved.
func (b *builder) compile(n *Node, ns dfv1.NodeSpec) error {
	switch n.Kind {
	case dfv1.NodeKindInput:
		return b.input(n, ns)
	case dfv1.NodeKindOutput:
		n.Schema = n.Ports[0]
		n.newOperator = func() (operator.Operator, error) { return operator.NewOutput(), nil }
	case dfv1.NodeKindMap:
		return b.mapNode(n, ns)
	case dfv1.NodeKindFilter:
		return b.filter(n, ns)
	case dfv1.NodeKindFlatMap:
		return b.flatMap(n, ns)
	case dfv1.NodeKindConcat:
		return b.concat(n)
	case dfv1.NodeKindDelay:
		if ns.Delay == nil || ns.Delay.Epochs == 0 {
			return specErrorf(n.Name, "Delay needs a positive number of epochs")
		}
		n.Schema = n.Ports[0]
		n.Delay = ns.Delay.Epochs
		n.newOperator = func() (operator.Operator, error) { return operator.NewDelay(ns.Delay.Epochs), nil }
	case dfv1.NodeKindReduce:
		return b.reduce(n, ns)
	case dfv1.NodeKindJoin:
		return b.join(n, ns)
	case dfv1.NodeKindIntervalJoin:
		return b.intervalJoin(n, ns)
	case dfv1.NodeKindWindowJoin:
		return b.windowJoin(n, ns)
	case dfv1.NodeKindAsofJoin:
		return b.asofJoin(n, ns)
	case dfv1.NodeKindWindow:
		return b.window(n, ns)
	default:
		return specErrorf(n.Name, "unknown node kind %q", n.Kind)
	}
	return nil
}

func (b *builder) input(n *Node, ns dfv1.NodeSpec) error {
	if ns.Schema == nil || len(ns.Schema.Fields) == 0 {
		return specErrorf(n.Name, "an Input node needs a schema")
	}
	fields := make([]collection.Field, len(ns.Schema.Fields))
	for i, f := range ns.Schema.Fields {
		field, err := fieldOf(n.Name, f.Name, f.Type, f.Nullable)
		if err != nil {
			return err
		}
		fields[i] = field
	}
	n.Schema = collection.Schema{Name: n.Name, Fields: fields}
	n.newOperator = func() (operator.Operator, error) { return operator.NewInput(), nil }
	return nil
}

func fieldOf(node, name, typ string, nullable bool) (collection.Field, error) {
	if name == "" {
		return collection.Field{}, specErrorf(node, "field without a name")
	}
	kind, err := collection.ParseKind(typ)
	if err != nil {
		return collection.Field{}, specErrorf(node, "field %q: %v", name, err)
	}
	return collection.Field{Name: name, Kind: kind, Nullable: nullable}, nil
}

func columnsOf(node string, cols []dfv1.ColumnSpec) (collection.Schema, error) {
	if len(cols) == 0 {
		return collection.Schema{}, specErrorf(node, "at least one output column is required")
	}
	s := collection.Schema{Name: node}
	for _, c := range cols {
		f, err := fieldOf(node, c.Name, c.Type, c.Nullable)
		if err != nil {
			return collection.Schema{}, err
		}
		s.Fields = append(s.Fields, f)
	}
	return s, nil
}

func (b *builder) mapNode(n *Node, ns dfv1.NodeSpec) error {
	if ns.Map == nil {
		return specErrorf(n.Name, "map is required")
	}
	in := n.Ports[0]
	out, err := columnsOf(n.Name, ns.Map.Columns)
	if err != nil {
		return err
	}
	n.Schema = out
	if ns.Map.Function != "" {
		fn, err := b.reg.Map(ns.Map.Function)
		if err != nil {
			return specErrorf(n.Name, "%v", err)
		}
		validated := func(r collection.Row) (collection.Row, error) {
			o, err := fn(r)
			if err == nil {
				err = out.Validate(o)
			}
			return o, err
		}
		n.newOperator = func() (operator.Operator, error) { return operator.NewMap(validated), nil }
		return nil
	}
	expressions := make([]string, len(ns.Map.Columns))
	for i, c := range ns.Map.Columns {
		if c.Expression == "" {
			return specErrorf(n.Name, "column %q needs an expression or the map a function", c.Name)
		}
		expressions[i] = c.Expression
	}
	n.newOperator = func() (operator.Operator, error) {
		return operator.NewExprMap(in, out, expressions, b.compiler)
	}
	return nil
}

func (b *builder) filter(n *Node, ns dfv1.NodeSpec) error {
	if ns.Filter == nil || (ns.Filter.Expression == "") == (ns.Filter.Function == "") {
		return specErrorf(n.Name, "filter needs exactly one of expression and function")
	}
	in := n.Ports[0]
	n.Schema = in
	if ns.Filter.Function != "" {
		fn, err := b.reg.Filter(ns.Filter.Function)
		if err != nil {
			return specErrorf(n.Name, "%v", err)
		}
		n.newOperator = func() (operator.Operator, error) { return operator.NewFilter(fn), nil }
		return nil
	}
	n.newOperator = func() (operator.Operator, error) {
		return operator.NewExprFilter(in, ns.Filter.Expression, b.compiler)
	}
	return nil
}

func (b *builder) flatMap(n *Node, ns dfv1.NodeSpec) error {
	if ns.FlatMap == nil || ns.FlatMap.Function == "" {
		return specErrorf(n.Name, "flatMap needs a function")
	}
	out, err := columnsOf(n.Name, ns.FlatMap.Columns)
	if err != nil {
		return err
	}
	fn, err := b.reg.FlatMap(ns.FlatMap.Function)
	if err != nil {
		return specErrorf(n.Name, "%v", err)
	}
	n.Schema = out
	n.newOperator = func() (operator.Operator, error) { return operator.NewFlatMap(out, fn), nil }
	return nil
}

// concat takes its schema from the first non-feedback port; every other
// resolved port must be compatible with it.
func (b *builder) concat(n *Node) error {
	var (
		schema collection.Schema
		found  bool
	)
	for _, s := range n.Ports {
		if s.Len() == 0 {
			continue
		}
		if !found {
			schema, found = s, true
			continue
		}
		if !schema.Compatible(s) {
			if !s.Compatible(schema) {
				return specErrorf(n.Name, "inputs %q and %q have incompatible schemas", schema.Name, s.Name)
			}
			schema = s
		}
	}
	if !found {
		return specErrorf(n.Name, "Concat needs at least one input outside of a cycle")
	}
	n.Schema = collection.Schema{Name: n.Name, Fields: schema.Fields}
	arity := len(n.Ports)
	n.newOperator = func() (operator.Operator, error) { return operator.NewConcat(arity), nil }
	return nil
}

// keysOf resolves key field names on schema s.
func keysOf(node string, s collection.Schema, names []string) (collection.KeyColumns, error) {
	if len(names) == 0 {
		return nil, specErrorf(node, "at least one key is required")
	}
	idx, err := s.Indices(names...)
	if err != nil {
		return nil, specErrorf(node, "%v", err)
	}
	return collection.KeyColumns(idx), nil
}

func joinKeys(n *Node, left, right []string) (collection.KeyColumns, collection.KeyColumns, error) {
	if len(left) != len(right) {
		return nil, nil, specErrorf(n.Name, "%d left keys but %d right keys", len(left), len(right))
	}
	lk, err := keysOf(n.Name, n.Ports[0], left)
	if err != nil {
		return nil, nil, err
	}
	rk, err := keysOf(n.Name, n.Ports[1], right)
	if err != nil {
		return nil, nil, err
	}
	for i := range lk {
		lf, rf := n.Ports[0].Fields[lk[i]], n.Ports[1].Fields[rk[i]]
		if lf.Kind != rf.Kind {
			return nil, nil, specErrorf(n.Name, "key %q is %s on the left but %q is %s on the right", lf.Name, lf.Kind, rf.Name, rf.Kind)
		}
	}
	n.Keys[0], n.Keys[1] = lk, rk
	return lk, rk, nil
}

// timeColumn resolves a row time field, which must hold ticks.
func timeColumn(node string, s collection.Schema, name string) (int, error) {
	i, ok := s.Index(name)
	if !ok {
		return 0, specErrorf(node, "no time field %q in %q", name, s.Name)
	}
	if k := s.Fields[i].Kind; k != collection.KindInt && k != collection.KindTimestamp {
		return 0, specErrorf(node, "time field %q is %s, want int or timestamp", name, k)
	}
	return i, nil
}

func (b *builder) aggregates(n *Node, in collection.Schema, specs []dfv1.AggregateSpec) ([]operator.Aggregate, []collection.Field, error) {
	if len(specs) == 0 {
		return nil, nil, specErrorf(n.Name, "at least one aggregate is required")
	}
	aggs := make([]operator.Aggregate, len(specs))
	fields := make([]collection.Field, len(specs))
	for i, a := range specs {
		if a.Name == "" {
			return nil, nil, specErrorf(n.Name, "aggregate %d has no name", i)
		}
		col, kind := -1, collection.KindInt
		if a.Function != "count" {
			c, ok := in.Index(a.Field)
			if !ok {
				return nil, nil, specErrorf(n.Name, "aggregate %q: no field %q", a.Name, a.Field)
			}
			col, kind = c, in.Fields[c].Kind
		}
		red, err := b.reg.Reducer(a.Function, kind)
		if err != nil {
			return nil, nil, specErrorf(n.Name, "aggregate %q: %v", a.Name, err)
		}
		aggs[i] = operator.Aggregate{Name: a.Name, Reducer: red, Column: col}
		fields[i] = collection.Field{Name: a.Name, Kind: red.Kind(), Nullable: a.Function != "count" && a.Function != "sum"}
	}
	return aggs, fields, nil
}

func (b *builder) reduce(n *Node, ns dfv1.NodeSpec) error {
	if ns.Reduce == nil {
		return specErrorf(n.Name, "reduce is required")
	}
	in := n.Ports[0]
	keys, err := keysOf(n.Name, in, ns.Reduce.Keys)
	if err != nil {
		return err
	}
	aggs, fields, err := b.aggregates(n, in, ns.Reduce.Aggregates)
	if err != nil {
		return err
	}
	n.Keys[0] = keys
	n.Schema = collection.Schema{Name: n.Name, Fields: append(in.Project("", keys...).Fields, fields...)}
	n.newOperator = func() (operator.Operator, error) { return operator.NewGroupReduce(keys, aggs), nil }
	return nil
}

func (b *builder) join(n *Node, ns dfv1.NodeSpec) error {
	if ns.Join == nil {
		return specErrorf(n.Name, "join is required")
	}
	typ := ns.Join.GetType()
	right := n.Ports[1]
	switch typ {
	case dfv1.JoinTypeInner:
	case dfv1.JoinTypeLeftOuter:
		right = right.Nullable()
	default:
		return specErrorf(n.Name, "unknown join type %q", typ)
	}
	lk, rk, err := joinKeys(n, ns.Join.LeftKeys, ns.Join.RightKeys)
	if err != nil {
		return err
	}
	n.Schema = n.Ports[0].Concat(n.Name, right)
	arity := right.Len()
	n.newOperator = func() (operator.Operator, error) { return operator.NewJoin(typ, lk, rk, arity), nil }
	return nil
}

func (b *builder) intervalJoin(n *Node, ns dfv1.NodeSpec) error {
	s := ns.IntervalJoin
	if s == nil {
		return specErrorf(n.Name, "intervalJoin is required")
	}
	if s.Lower > s.Upper {
		return specErrorf(n.Name, "lower bound %d is above upper bound %d", s.Lower, s.Upper)
	}
	if s.Lateness < 0 {
		return specErrorf(n.Name, "lateness must not be negative")
	}
	lk, rk, err := joinKeys(n, s.LeftKeys, s.RightKeys)
	if err != nil {
		return err
	}
	lt, err := timeColumn(n.Name, n.Ports[0], s.LeftTime)
	if err != nil {
		return err
	}
	rt, err := timeColumn(n.Name, n.Ports[1], s.RightTime)
	if err != nil {
		return err
	}
	n.Schema = n.Ports[0].Concat(n.Name, n.Ports[1])
	n.newOperator = func() (operator.Operator, error) {
		return operator.NewIntervalJoin(lk, rk, lt, rt, s.Lower, s.Upper, s.Lateness), nil
	}
	return nil
}

func assignerOf(node string, s dfv1.WindowAssignSpec) (window.Assigner, error) {
	var (
		a   window.Assigner
		err error
	)
	switch s.Type {
	case dfv1.WindowTypeFixed:
		a, err = window.NewFixed(s.Length)
	case dfv1.WindowTypeSliding:
		a, err = window.NewSliding(s.Length, s.Slide)
	case dfv1.WindowTypeSession:
		a, err = window.NewSession(s.Gap)
	default:
		return nil, specErrorf(node, "unknown window type %q", s.Type)
	}
	if err != nil {
		return nil, specErrorf(node, "%v", err)
	}
	return a, nil
}

func windowFields() []collection.Field {
	return []collection.Field{
		{Name: WindowStartField, Kind: collection.KindInt},
		{Name: WindowEndField, Kind: collection.KindInt},
	}
}

func (b *builder) windowJoin(n *Node, ns dfv1.NodeSpec) error {
	s := ns.WindowJoin
	if s == nil {
		return specErrorf(n.Name, "windowJoin is required")
	}
	if s.Lateness < 0 {
		return specErrorf(n.Name, "lateness must not be negative")
	}
	assigner, err := assignerOf(n.Name, s.Window)
	if err != nil {
		return err
	}
	if assigner.Strategy() == window.Session {
		return specErrorf(n.Name, "session windows cannot be joined")
	}
	lk, rk, err := joinKeys(n, s.LeftKeys, s.RightKeys)
	if err != nil {
		return err
	}
	lt, err := timeColumn(n.Name, n.Ports[0], s.LeftTime)
	if err != nil {
		return err
	}
	rt, err := timeColumn(n.Name, n.Ports[1], s.RightTime)
	if err != nil {
		return err
	}
	joined := n.Ports[0].Concat(n.Name, n.Ports[1])
	n.Schema = collection.Schema{Name: n.Name, Fields: append(joined.Fields, windowFields()...)}
	n.newOperator = func() (operator.Operator, error) {
		return operator.NewWindowJoin(lk, rk, lt, rt, assigner, s.Lateness), nil
	}
	return nil
}

func (b *builder) asofJoin(n *Node, ns dfv1.NodeSpec) error {
	s := ns.AsofJoin
	if s == nil {
		return specErrorf(n.Name, "asofJoin is required")
	}
	lk, rk, err := joinKeys(n, s.LeftKeys, s.RightKeys)
	if err != nil {
		return err
	}
	lt, err := timeColumn(n.Name, n.Ports[0], s.LeftTime)
	if err != nil {
		return err
	}
	rt, err := timeColumn(n.Name, n.Ports[1], s.RightTime)
	if err != nil {
		return err
	}
	tieBreak, seq := s.GetTieBreak(), -1
	switch tieBreak {
	case dfv1.TieBreakGreatestRow, dfv1.TieBreakLeastRow:
	case dfv1.TieBreakGreatestSeq:
		i, ok := n.Ports[1].Index(s.SeqField)
		if !ok {
			return specErrorf(n.Name, "tie-break %s needs a seqField of the right input", tieBreak)
		}
		seq = i
	default:
		return specErrorf(n.Name, "unknown tie-break %q", tieBreak)
	}
	if s.Lateness != nil && *s.Lateness < 0 {
		return specErrorf(n.Name, "lateness must not be negative")
	}
	right := n.Ports[1].Nullable()
	n.Schema = n.Ports[0].Concat(n.Name, right)
	arity := right.Len()
	n.newOperator = func() (operator.Operator, error) {
		j := operator.NewAsofJoin(lk, rk, lt, rt, tieBreak, seq, arity)
		if s.Lateness != nil {
			j.WithLateness(*s.Lateness)
		}
		return j, nil
	}
	return nil
}

func latenessOf(node string, s *dfv1.LatenessSpec) (window.Lateness, error) {
	if s == nil {
		return window.Lateness{}, specErrorf(node, "a window needs an explicit lateness policy")
	}
	l := window.Lateness{Allowed: s.Allowed, Grace: s.Grace}
	switch s.Policy {
	case dfv1.WindowLatePolicyDrop:
		l.Policy = window.Drop
	case dfv1.WindowLatePolicyReopen:
		l.Policy = window.Reopen
	default:
		return window.Lateness{}, specErrorf(node, "unknown lateness policy %q", s.Policy)
	}
	if err := l.Validate(); err != nil {
		return window.Lateness{}, specErrorf(node, "%v", err)
	}
	return l, nil
}

func (b *builder) window(n *Node, ns dfv1.NodeSpec) error {
	s := ns.Window
	if s == nil {
		return specErrorf(n.Name, "window is required")
	}
	in := n.Ports[0]
	assigner, err := assignerOf(n.Name, s.WindowAssignSpec)
	if err != nil {
		return err
	}
	lateness, err := latenessOf(n.Name, s.Lateness)
	if err != nil {
		return err
	}
	keys, err := keysOf(n.Name, in, s.Keys)
	if err != nil {
		return err
	}
	tc, err := timeColumn(n.Name, in, s.TimeField)
	if err != nil {
		return err
	}
	aggs, fields, err := b.aggregates(n, in, s.Aggregates)
	if err != nil {
		return err
	}
	n.Keys[0] = keys
	out := append(in.Project("", keys...).Fields, windowFields()...)
	n.Schema = collection.Schema{Name: n.Name, Fields: append(out, fields...)}
	n.newOperator = func() (operator.Operator, error) {
		return operator.NewWindow(keys, tc, assigner, lateness, aggs), nil
	}
	return nil
}
