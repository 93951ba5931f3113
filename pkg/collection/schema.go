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

import "fmt"

// Field describes one column of a schema.
type Field struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Nullable bool   `json:"nullable,omitempty"`
}

// Schema is the ordered set of fields rows of a collection must follow.
type Schema struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

func (s Schema) Len() int { return len(s.Fields) }

// Index returns the position of the named field.
func (s Schema) Index(name string) (int, bool) {
	for i, f := range s.Fields {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Indices resolves a list of field names.
func (s Schema) Indices(names ...string) ([]int, error) {
	out := make([]int, len(names))
	for i, n := range names {
		idx, ok := s.Index(n)
		if !ok {
			return nil, &SchemaMismatch{Schema: s.Name, Field: n, Index: -1, Message: "no such field"}
		}
		out[i] = idx
	}
	return out, nil
}

// Validate checks the arity and kinds of r. Values are never coerced.
func (s Schema) Validate(r Row) error {
	if r.Len() != len(s.Fields) {
		return &SchemaMismatch{
			Schema:  s.Name,
			Index:   -1,
			Message: fmt.Sprintf("arity %d, want %d", r.Len(), len(s.Fields)),
		}
	}
	for i, f := range s.Fields {
		v := r.Field(i)
		if v.IsNone() && f.Nullable {
			continue
		}
		if v.Kind() != f.Kind {
			return &SchemaMismatch{Schema: s.Name, Field: f.Name, Index: i, Expected: f.Kind, Got: v.Kind()}
		}
	}
	return nil
}

// NewRow builds a validated row.
func (s Schema) NewRow(values ...Value) (Row, error) {
	r := NewRow(values...)
	if err := s.Validate(r); err != nil {
		return Row{}, err
	}
	return r, nil
}

// Get returns the named field of r.
func (s Schema) Get(r Row, name string) (Value, error) {
	i, ok := s.Index(name)
	if !ok || i >= r.Len() {
		return None(), &SchemaMismatch{Schema: s.Name, Field: name, Index: -1, Message: "no such field"}
	}
	return r.Field(i), nil
}

// Concat returns the schema of rows built with Row.Concat.
func (s Schema) Concat(name string, o Schema) Schema {
	fields := make([]Field, 0, len(s.Fields)+len(o.Fields))
	fields = append(fields, s.Fields...)
	fields = append(fields, o.Fields...)
	return Schema{Name: name, Fields: fields}
}

// Nullable returns a copy of s with every field made nullable.
func (s Schema) Nullable() Schema {
	fields := make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		f.Nullable = true
		fields[i] = f
	}
	return Schema{Name: s.Name, Fields: fields}
}

// Project returns the schema of rows built with Row.Project.
func (s Schema) Project(name string, idx ...int) Schema {
	fields := make([]Field, len(idx))
	for i, j := range idx {
		fields[i] = s.Fields[j]
	}
	return Schema{Name: name, Fields: fields}
}

// Compatible reports whether rows of o are valid rows of s.
func (s Schema) Compatible(o Schema) bool {
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i].Kind != o.Fields[i].Kind {
			return false
		}
		if o.Fields[i].Nullable && !s.Fields[i].Nullable {
			return false
		}
	}
	return true
}
