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

package executor

import (
	"k8s.io/apimachinery/pkg/util/wait"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/exchange"
)

type options struct {
	// workers is the number of shards the keyed state is split into
	workers int
	// transport carries exchanged deltas between workers
	transport exchange.Transport
	// backoff bounds the retries of one exchange send
	backoff wait.Backoff
}

type Option func(*options) error

func DefaultOptions() *options {
	return &options{
		workers: dfv1.DefaultWorkers,
		backoff: dfv1.ExchangeConfig{}.GetBackoff(),
	}
}

// WithWorkers sets the number of workers
func WithWorkers(n int) Option {
	return func(o *options) error {
		if n > 0 {
			o.workers = n
		}
		return nil
	}
}

// WithTransport replaces the in-process transport
func WithTransport(t exchange.Transport) Option {
	return func(o *options) error {
		o.transport = t
		return nil
	}
}

// WithBackoff sets the retry backoff of exchange sends
func WithBackoff(b wait.Backoff) Option {
	return func(o *options) error {
		o.backoff = b
		return nil
	}
}
