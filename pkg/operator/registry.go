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
	"sync"

	"github.com/numaproj/deltaflow/pkg/collection"
)

// MapFunc transforms one row. It must be deterministic.
type MapFunc func(collection.Row) (collection.Row, error)

// FilterFunc reports whether a row is kept.
type FilterFunc func(collection.Row) (bool, error)

// FlatMapFunc expands one row into any number of rows.
type FlatMapFunc func(collection.Row) ([]collection.Row, error)

// ReducerFactory builds a reducer for an input column of the given kind.
type ReducerFactory func(kind collection.Kind) (Reducer, error)

// Registry maps the function names used in pipeline specs to Go code.
type Registry struct {
	lock     sync.RWMutex
	maps     map[string]MapFunc
	filters  map[string]FilterFunc
	flatMaps map[string]FlatMapFunc
	reducers map[string]ReducerFactory
}

func NewRegistry() *Registry {
	return &Registry{
		maps:     make(map[string]MapFunc),
		filters:  make(map[string]FilterFunc),
		flatMaps: make(map[string]FlatMapFunc),
		reducers: make(map[string]ReducerFactory),
	}
}

func (r *Registry) RegisterMap(name string, fn MapFunc) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.maps[name] = fn
}

func (r *Registry) RegisterFilter(name string, fn FilterFunc) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.filters[name] = fn
}

func (r *Registry) RegisterFlatMap(name string, fn FlatMapFunc) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.flatMaps[name] = fn
}

// RegisterReducer adds a custom reducer. Built-in reducer names cannot be
// overridden.
func (r *Registry) RegisterReducer(name string, f ReducerFactory) error {
	if _, ok := builtinReducers[name]; ok {
		return fmt.Errorf("reducer %q is built in", name)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.reducers[name] = f
	return nil
}

func (r *Registry) Map(name string) (MapFunc, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if fn, ok := r.maps[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("map function %q is not registered", name)
}

func (r *Registry) Filter(name string) (FilterFunc, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if fn, ok := r.filters[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("filter function %q is not registered", name)
}

func (r *Registry) FlatMap(name string) (FlatMapFunc, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if fn, ok := r.flatMaps[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("flat map function %q is not registered", name)
}

// Reducer resolves a built-in or registered reducer for a column kind.
func (r *Registry) Reducer(name string, kind collection.Kind) (Reducer, error) {
	if f, ok := builtinReducers[name]; ok {
		return f(kind)
	}
	if r == nil {
		return nil, fmt.Errorf("reducer %q is not registered", name)
	}
	r.lock.RLock()
	f, ok := r.reducers[name]
	r.lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("reducer %q is not registered", name)
	}
	return f(kind)
}
