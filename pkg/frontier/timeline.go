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

package frontier

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/numaproj/deltaflow/pkg/shared/logging"
)

// Mark pairs a source offset with the epoch of the batch that ended there.
type Mark struct {
	Offset int64  `json:"offset"`
	Epoch  uint64 `json:"epoch"`
}

// Timeline keeps the most recent offset to epoch marks of one source,
// sorted by epoch from highest to lowest.
type Timeline struct {
	marks    list.List
	capacity int
	lock     sync.RWMutex
	log      *zap.SugaredLogger
}

// NewTimeline returns a timeline holding at most c marks.
func NewTimeline(ctx context.Context, c int) *Timeline {
	if c <= 0 {
		c = 1
	}
	return &Timeline{capacity: c, log: logging.FromContext(ctx)}
}

// Put records that the source reached offset while emitting epoch. The list
// stays sorted; offsets must not go backwards as epochs grow.
func (t *Timeline) Put(m Mark) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for e := t.marks.Front(); e != nil; e = e.Next() {
		cur := e.Value.(Mark)
		if m.Epoch == cur.Epoch {
			if m.Offset > cur.Offset {
				e.Value = m
			}
			return
		}
		if m.Epoch > cur.Epoch {
			if m.Offset < cur.Offset {
				t.log.Errorw("Offset went backwards while the epoch grew - skipping", zap.Uint64("epoch", m.Epoch),
					zap.Int64("existingOffset", cur.Offset), zap.Int64("inputOffset", m.Offset))
				return
			}
			t.marks.InsertBefore(m, e)
			t.trim()
			return
		}
	}
	t.marks.PushBack(m)
	t.trim()
}

func (t *Timeline) trim() {
	for t.marks.Len() > t.capacity {
		t.marks.Remove(t.marks.Back())
	}
}

// Head returns the mark with the highest epoch.
func (t *Timeline) Head() (Mark, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if t.marks.Len() == 0 {
		return Mark{Offset: -1}, false
	}
	return t.marks.Front().Value.(Mark), true
}

// EpochFor returns the epoch of the first retained mark at or beyond offset.
func (t *Timeline) EpochFor(offset int64) (uint64, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	var (
		out   uint64
		found bool
	)
	for e := t.marks.Front(); e != nil; e = e.Next() {
		m := e.Value.(Mark)
		if m.Offset < offset {
			break
		}
		out, found = m.Epoch, true
	}
	return out, found
}

// OffsetFor returns the highest offset whose epoch is at or below epoch.
func (t *Timeline) OffsetFor(epoch uint64) (int64, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	for e := t.marks.Front(); e != nil; e = e.Next() {
		m := e.Value.(Mark)
		if m.Epoch <= epoch {
			return m.Offset, true
		}
	}
	return -1, false
}

// Marks returns the retained marks, newest first.
func (t *Timeline) Marks() []Mark {
	t.lock.RLock()
	defer t.lock.RUnlock()
	out := make([]Mark, 0, t.marks.Len())
	for e := t.marks.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Mark))
	}
	return out
}

// Dump returns the timeline as a string.
func (t *Timeline) Dump() string {
	var b strings.Builder
	for i, m := range t.Marks() {
		if i > 0 {
			b.WriteString(" -> ")
		}
		fmt.Fprintf(&b, "[%d:%d]", m.Epoch, m.Offset)
	}
	return b.String()
}
