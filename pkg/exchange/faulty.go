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

package exchange

import (
	"context"
	"errors"

	"go.uber.org/atomic"
)

// ErrInjected is the error returned by FaultyTransport.
var ErrInjected = errors.New("injected exchange fault")

// FaultyTransport wraps a transport and fails sends on purpose. The first
// FailFirst sends fail; when FailAlways is set every send fails.
type FaultyTransport struct {
	Transport
	FailFirst  int64
	FailAlways bool

	sends atomic.Int64
}

var _ Transport = (*FaultyTransport)(nil)

func (f *FaultyTransport) Send(ctx context.Context, m Message) error {
	n := f.sends.Inc()
	if f.FailAlways || n <= f.FailFirst {
		return ErrInjected
	}
	return f.Transport.Send(ctx, m)
}

// Sends returns the number of send attempts so far.
func (f *FaultyTransport) Sends() int64 { return f.sends.Load() }
