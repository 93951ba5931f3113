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
	"fmt"
	"sync"
)

// Transport delivers messages to per worker mailboxes.
type Transport interface {
	Send(ctx context.Context, m Message) error
	// Drain takes every message queued for the worker, in arrival order.
	Drain(worker int) []Message
	Close() error
}

type mailbox struct {
	lock sync.Mutex
	msgs []Message
}

// LocalTransport connects workers of the same process with one in-memory
// mailbox per worker.
type LocalTransport struct {
	mailboxes []*mailbox
	lock      sync.RWMutex
	closed    bool
}

var _ Transport = (*LocalTransport)(nil)

func NewLocalTransport(workers int) *LocalTransport {
	t := &LocalTransport{mailboxes: make([]*mailbox, workers)}
	for i := range t.mailboxes {
		t.mailboxes[i] = &mailbox{}
	}
	return t
}

func (t *LocalTransport) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.lock.RLock()
	defer t.lock.RUnlock()
	if t.closed {
		return ErrMailboxClosed
	}
	if m.To < 0 || m.To >= len(t.mailboxes) {
		return fmt.Errorf("no mailbox for worker %d", m.To)
	}
	mb := t.mailboxes[m.To]
	mb.lock.Lock()
	mb.msgs = append(mb.msgs, m)
	mb.lock.Unlock()
	return nil
}

func (t *LocalTransport) Drain(worker int) []Message {
	mb := t.mailboxes[worker]
	mb.lock.Lock()
	defer mb.lock.Unlock()
	out := mb.msgs
	mb.msgs = nil
	return out
}

// Queued returns the number of messages waiting for the worker.
func (t *LocalTransport) Queued(worker int) int {
	mb := t.mailboxes[worker]
	mb.lock.Lock()
	defer mb.lock.Unlock()
	return len(mb.msgs)
}

func (t *LocalTransport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.closed = true
	return nil
}
