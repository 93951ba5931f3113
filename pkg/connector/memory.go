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

package connector

import (
	"context"
	"sort"
	"sync"

	"github.com/numaproj/deltaflow/pkg/collection"
)

type memoryEntry struct {
	epoch  uint64
	record Record
}

// MemorySource serves records appended in memory. Offsets are positions in
// the append order, starting at 0.
type MemorySource struct {
	name     string
	lock     sync.Mutex
	entries  []memoryEntry
	next     int
	finished bool
	closed   bool
}

var _ Source = (*MemorySource)(nil)

func NewMemorySource(name string) *MemorySource {
	return &MemorySource{name: name}
}

func (s *MemorySource) Name() string { return s.name }

// Append adds rows inserted or retracted at epoch. Epochs must not go
// backwards.
func (s *MemorySource) Append(epoch uint64, diff int64, rows ...collection.Row) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if n := len(s.entries); n > 0 && s.entries[n-1].epoch > epoch {
		epoch = s.entries[n-1].epoch
	}
	for _, r := range rows {
		off := int64(len(s.entries))
		s.entries = append(s.entries, memoryEntry{epoch: epoch, record: Record{Row: r, Diff: diff, Offset: off}})
	}
}

// Finish marks the end of the data.
func (s *MemorySource) Finish() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.finished = true
}

// Read returns at most max records of a single epoch.
func (s *MemorySource) Read(ctx context.Context, max int) (ReadBatch, error) {
	if err := ctx.Err(); err != nil {
		return ReadBatch{}, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.next >= len(s.entries) {
		var epoch uint64
		if n := len(s.entries); n > 0 {
			epoch = s.entries[n-1].epoch
		}
		return ReadBatch{Epoch: epoch, Done: s.finished}, nil
	}
	epoch := s.entries[s.next].epoch
	var b ReadBatch
	b.Epoch = epoch
	for s.next < len(s.entries) && len(b.Records) < max && s.entries[s.next].epoch == epoch {
		b.Records = append(b.Records, s.entries[s.next].record)
		s.next++
	}
	return b, nil
}

func (s *MemorySource) Seek(_ context.Context, offset int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	next := int(offset + 1)
	if next < 0 {
		next = 0
	}
	if next > len(s.entries) {
		next = len(s.entries)
	}
	s.next = next
	return nil
}

// Position returns the offset of the next record to read.
func (s *MemorySource) Position() int64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return int64(s.next)
}

func (s *MemorySource) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	return nil
}

// MemorySink keeps the committed deltas of every time. Rewriting a time
// replaces its deltas.
type MemorySink struct {
	name      string
	lock      sync.Mutex
	staged    map[collection.Time]collection.Batch
	committed map[collection.Time]collection.Batch
	commits   int
	closed    bool
}

var _ Sink = (*MemorySink)(nil)

func NewMemorySink(name string) *MemorySink {
	return &MemorySink{
		name:      name,
		staged:    make(map[collection.Time]collection.Batch),
		committed: make(map[collection.Time]collection.Batch),
	}
}

func (s *MemorySink) Name() string { return s.name }

func (s *MemorySink) Write(_ context.Context, t collection.Time, batch collection.Batch) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.staged[t] = append(s.staged[t], batch...)
	return nil
}

func (s *MemorySink) Commit(_ context.Context, t collection.Time) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.committed[t] = collection.Consolidate(s.staged[t])
	delete(s.staged, t)
	s.commits++
	return nil
}

// Times returns the committed times in ascending order.
func (s *MemorySink) Times() []collection.Time {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]collection.Time, 0, len(s.committed))
	for t := range s.committed {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Deltas returns every committed delta sorted by time.
func (s *MemorySink) Deltas() collection.Batch {
	var out collection.Batch
	for _, t := range s.Times() {
		s.lock.Lock()
		out = append(out, s.committed[t]...)
		s.lock.Unlock()
	}
	return out
}

// Commits returns how many commits the sink received, rewrites included.
func (s *MemorySink) Commits() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.commits
}

func (s *MemorySink) Closed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closed
}

func (s *MemorySink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	return nil
}
