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

// Package connector defines how external systems feed rows into a pipeline
// and receive its finalised output.
package connector

import (
	"context"
	"fmt"

	"github.com/numaproj/deltaflow/pkg/collection"
)

// Record is one row change read from a source.
type Record struct {
	Row  collection.Row
	Diff int64
	// Offset identifies the record in its source. Offsets grow in read order.
	Offset int64
}

// ReadBatch is the result of one read.
type ReadBatch struct {
	Records []Record
	// Epoch is the high-water mark of the source: the records belong to it
	// and no later record belongs to an earlier epoch.
	Epoch uint64
	// Done is set once the source will never return records again.
	Done bool
}

// LastOffset returns the offset of the last record, or false when empty.
func (b ReadBatch) LastOffset() (int64, bool) {
	if len(b.Records) == 0 {
		return 0, false
	}
	return b.Records[len(b.Records)-1].Offset, true
}

// Deltas turns the records into deltas at the batch epoch.
func (b ReadBatch) Deltas() collection.Batch {
	out := make(collection.Batch, 0, len(b.Records))
	t := collection.NewTime(b.Epoch)
	for _, r := range b.Records {
		out = append(out, collection.Delta{Row: r.Row, Diff: r.Diff, Time: t})
	}
	return out
}

// Validate checks every record against the schema of the input it feeds. A
// single bad record fails the whole batch.
func (b ReadBatch) Validate(s collection.Schema) error {
	for _, r := range b.Records {
		if r.Diff == 0 {
			return fmt.Errorf("record at offset %d has a zero diff", r.Offset)
		}
		if err := s.Validate(r.Row); err != nil {
			return fmt.Errorf("record at offset %d: %w", r.Offset, err)
		}
	}
	return nil
}

// Source yields batches of records. Read never blocks waiting for data: it
// returns an empty batch when nothing is available.
type Source interface {
	Name() string
	Read(ctx context.Context, max int) (ReadBatch, error)
	// Seek resumes reading right after offset. A negative offset restarts
	// from the beginning.
	Seek(ctx context.Context, offset int64) error
	Close() error
}

// Sink receives the finalised deltas of an output, one time at a time. A
// time may be written again after a restart, so applying it must be
// idempotent.
type Sink interface {
	Name() string
	Write(ctx context.Context, t collection.Time, batch collection.Batch) error
	Commit(ctx context.Context, t collection.Time) error
	Close() error
}

// GroupByTime splits a batch sorted by time into one batch per time.
func GroupByTime(b collection.Batch) []collection.Batch {
	var out []collection.Batch
	for i := 0; i < len(b); {
		j := i + 1
		for j < len(b) && b[j].Time == b[i].Time {
			j++
		}
		out = append(out, b[i:j])
		i = j
	}
	return out
}
