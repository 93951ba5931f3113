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
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Kind is the closed set of value kinds a row field can hold.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTimestamp
	KindPointer
	KindTuple
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTimestamp:
		return "timestamp"
	case KindPointer:
		return "pointer"
	case KindTuple:
		return "tuple"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "none", "optional":
		return KindNone, nil
	case "bool", "boolean":
		return KindBool, nil
	case "int", "int64", "integer":
		return KindInt, nil
	case "float", "float64", "double":
		return KindFloat, nil
	case "string":
		return KindString, nil
	case "bytes":
		return KindBytes, nil
	case "timestamp", "time":
		return KindTimestamp, nil
	case "pointer":
		return KindPointer, nil
	case "tuple":
		return KindTuple, nil
	}
	return KindNone, fmt.Errorf("unknown value kind %q", name)
}

// Value is a tagged variant holding exactly one kind of payload.
// The zero Value is None.
type Value struct {
	kind  Kind
	i     int64
	f     float64
	s     string
	tuple []Value
}

func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Bytes(b []byte) Value { return Value{kind: KindBytes, s: string(b)} }

// None is the absent optional value.
func None() Value { return Value{} }

// Some marks a present optional value. Optionality is a property of the
// schema field, so Some returns v unchanged.
func Some(v Value) Value { return v }

// Timestamp stores t with nanosecond precision.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, i: t.UnixNano()} }

// Pointer is an opaque reference to another row, identified by its key.
func Pointer(key Key) Value { return Value{kind: KindPointer, s: string(key)} }

func Tuple(vs ...Value) Value {
	cp := make([]Value, len(vs))
	copy(cp, vs)
	return Value{kind: KindTuple, tuple: cp}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNone() bool { return v.kind == KindNone }

func (v Value) AsBool() bool { return v.i != 0 }

func (v Value) AsInt() int64 { return v.i }

func (v Value) AsFloat() float64 { return v.f }

func (v Value) AsString() string { return v.s }

func (v Value) AsBytes() []byte { return []byte(v.s) }

func (v Value) AsTime() time.Time { return time.Unix(0, v.i).UTC() }

func (v Value) AsPointer() Key { return Key(v.s) }

func (v Value) AsTuple() []Value {
	cp := make([]Value, len(v.tuple))
	copy(cp, v.tuple)
	return cp
}

// Numeric returns the value as a float64 for Int, Float and Timestamp kinds.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case KindInt, KindTimestamp:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// Ticks returns the value as an integral event time. Timestamps are
// expressed in milliseconds.
func (v Value) Ticks() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindTimestamp:
		return time.Unix(0, v.i).UnixMilli(), true
	}
	return 0, false
}

// Native converts the value into a plain Go value.
func (v Value) Native() interface{} {
	switch v.kind {
	case KindBool:
		return v.AsBool()
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.AsBytes()
	case KindTimestamp:
		return v.AsTime()
	case KindPointer:
		return v.s
	case KindTuple:
		out := make([]interface{}, len(v.tuple))
		for i, e := range v.tuple {
			out[i] = e.Native()
		}
		return out
	}
	return nil
}

// FromNative converts a Go value into a Value of the requested kind.
func FromNative(kind Kind, x interface{}) (Value, error) {
	if x == nil {
		return None(), nil
	}
	switch kind {
	case KindBool:
		if b, ok := x.(bool); ok {
			return Bool(b), nil
		}
	case KindInt:
		switch n := x.(type) {
		case int:
			return Int(int64(n)), nil
		case int32:
			return Int(int64(n)), nil
		case int64:
			return Int(n), nil
		case uint64:
			if n <= math.MaxInt64 {
				return Int(int64(n)), nil
			}
		}
	case KindFloat:
		switch n := x.(type) {
		case float64:
			return Float(n), nil
		case float32:
			return Float(float64(n)), nil
		case int:
			return Float(float64(n)), nil
		case int64:
			return Float(float64(n)), nil
		}
	case KindString:
		if s, ok := x.(string); ok {
			return String(s), nil
		}
	case KindBytes:
		switch b := x.(type) {
		case []byte:
			return Bytes(b), nil
		case string:
			return Bytes([]byte(b)), nil
		}
	case KindTimestamp:
		if t, ok := x.(time.Time); ok {
			return Timestamp(t), nil
		}
	case KindPointer:
		if s, ok := x.(string); ok {
			return Pointer(Key(s)), nil
		}
	}
	return None(), fmt.Errorf("cannot convert %T to %s", x, kind)
}

// Compare orders values first by kind, then by payload. NaN sorts after
// every other float.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		if v.kind < o.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindNone:
		return 0
	case KindBool, KindInt, KindTimestamp:
		return compareInt(v.i, o.i)
	case KindFloat:
		return compareFloat(v.f, o.f)
	case KindString, KindBytes, KindPointer:
		return strings.Compare(v.s, o.s)
	case KindTuple:
		for i := 0; i < len(v.tuple) && i < len(o.tuple); i++ {
			if c := v.tuple[i].Compare(o.tuple[i]); c != 0 {
				return c
			}
		}
		return compareInt(int64(len(v.tuple)), int64(len(o.tuple)))
	}
	return 0
}

func (v Value) Equal(o Value) bool { return v.Compare(o) == 0 }

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// AppendEncoding appends the canonical binary encoding of the value to buf.
// Equal values always produce identical bytes.
func (v Value) AppendEncoding(buf []byte) []byte {
	buf = append(buf, byte(v.kind))
	switch v.kind {
	case KindBool, KindInt, KindTimestamp:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.i)^(1<<63))
	case KindFloat:
		f := v.f
		if math.IsNaN(f) {
			f = math.NaN()
		}
		if f == 0 {
			f = 0
		}
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
	case KindString, KindBytes, KindPointer:
		buf = binary.AppendUvarint(buf, uint64(len(v.s)))
		buf = append(buf, v.s...)
	case KindTuple:
		buf = binary.AppendUvarint(buf, uint64(len(v.tuple)))
		for _, e := range v.tuple {
			buf = e.AppendEncoding(buf)
		}
	}
	return buf
}

func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "None"
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.s)
	case KindTimestamp:
		return v.AsTime().Format(time.RFC3339Nano)
	case KindPointer:
		return fmt.Sprintf("&%x", v.s)
	case KindTuple:
		var b bytes.Buffer
		b.WriteByte('(')
		for i, e := range v.tuple {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(e.String())
		}
		b.WriteByte(')')
		return b.String()
	}
	return "?"
}

type valueJSON struct {
	Kind  Kind    `json:"k"`
	Int   int64   `json:"i,omitempty"`
	Float uint64  `json:"f,omitempty"`
	Data  []byte  `json:"d,omitempty"`
	Tuple []Value `json:"t,omitempty"`
}

// MarshalJSON keeps the kind tag and the exact payload bits.
func (v Value) MarshalJSON() ([]byte, error) {
	vj := valueJSON{Kind: v.kind}
	switch v.kind {
	case KindBool, KindInt, KindTimestamp:
		vj.Int = v.i
	case KindFloat:
		vj.Float = math.Float64bits(v.f)
	case KindString, KindBytes, KindPointer:
		vj.Data = []byte(v.s)
	case KindTuple:
		vj.Tuple = v.tuple
	}
	return json.Marshal(vj)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var vj valueJSON
	if err := json.Unmarshal(data, &vj); err != nil {
		return err
	}
	*v = Value{kind: vj.Kind}
	switch vj.Kind {
	case KindNone:
	case KindBool, KindInt, KindTimestamp:
		v.i = vj.Int
	case KindFloat:
		v.f = math.Float64frombits(vj.Float)
	case KindString, KindBytes, KindPointer:
		v.s = string(vj.Data)
	case KindTuple:
		v.tuple = vj.Tuple
		if v.tuple == nil {
			v.tuple = []Value{}
		}
	default:
		return fmt.Errorf("unknown value kind %d", vj.Kind)
	}
	return nil
}
