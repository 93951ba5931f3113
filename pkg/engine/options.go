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

package engine

import (
	"github.com/numaproj/deltaflow/pkg/exchange"
	"github.com/numaproj/deltaflow/pkg/operator"
	"github.com/numaproj/deltaflow/pkg/persistence"
	"github.com/numaproj/deltaflow/pkg/shared/config"
	"github.com/numaproj/deltaflow/pkg/shared/expr"
)

type options struct {
	// registry resolves the Go functions named by Map and Reduce nodes
	registry *operator.Registry
	// compiler compiles the expressions of Map and Filter nodes
	compiler *expr.Compiler
	// store overrides the checkpoint store built from the configuration
	store persistence.Store
	// transport overrides the in-process exchange transport
	transport exchange.Transport
	// onReject is told about source batches failing validation
	onReject func(source string, err error)
	// config provides tunables that change while the pipeline runs
	config *config.GlobalConfig
}

type Option func(*options) error

func defaultOptions() *options {
	return &options{
		onReject: func(string, error) {},
	}
}

// WithRegistry sets the registry of named functions
func WithRegistry(r *operator.Registry) Option {
	return func(o *options) error {
		o.registry = r
		return nil
	}
}

// WithCompiler sets the expression compiler
func WithCompiler(c *expr.Compiler) Option {
	return func(o *options) error {
		o.compiler = c
		return nil
	}
}

// WithStore sets the checkpoint store
func WithStore(s persistence.Store) Option {
	return func(o *options) error {
		o.store = s
		return nil
	}
}

// WithTransport sets the exchange transport
func WithTransport(t exchange.Transport) Option {
	return func(o *options) error {
		o.transport = t
		return nil
	}
}

// WithOnReject sets the callback for rejected source batches
func WithOnReject(fn func(source string, err error)) Option {
	return func(o *options) error {
		if fn != nil {
			o.onReject = fn
		}
		return nil
	}
}

// WithGlobalConfig makes the pipeline follow configuration reloads
func WithGlobalConfig(g *config.GlobalConfig) Option {
	return func(o *options) error {
		o.config = g
		return nil
	}
}
