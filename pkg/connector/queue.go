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
	"sync"

	"go.uber.org/atomic"

	"github.com/numaproj/deltaflow/pkg/metrics"
)

// Item is a batch read from the source with the given index.
type Item struct {
	Source int
	Batch  ReadBatch
}

// IngestQueue buffers batches between the source readers and the executor.
// Put never blocks. Readers poll Paused and stop reading while the queue is
// paused: it pauses once the depth reaches maxDepth and resumes once it
// falls below resumeDepth.
type IngestQueue struct {
	pipeline    string
	maxDepth    *atomic.Int64
	resumeDepth *atomic.Int64
	depth       *atomic.Int64
	paused      *atomic.Bool
	lock        sync.Mutex
	items       []Item
}

func NewIngestQueue(pipeline string, maxDepth, resumeDepth int) *IngestQueue {
	q := &IngestQueue{
		pipeline:    pipeline,
		maxDepth:    atomic.NewInt64(0),
		resumeDepth: atomic.NewInt64(0),
		depth:       atomic.NewInt64(0),
		paused:      atomic.NewBool(false),
	}
	q.SetLimits(maxDepth, resumeDepth)
	return q
}

// SetLimits changes the pause and resume depths.
func (q *IngestQueue) SetLimits(maxDepth, resumeDepth int) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if resumeDepth < 1 || resumeDepth > maxDepth {
		resumeDepth = maxDepth
	}
	q.maxDepth.Store(int64(maxDepth))
	q.resumeDepth.Store(int64(resumeDepth))
	q.lock.Lock()
	defer q.lock.Unlock()
	q.update()
}

func (q *IngestQueue) Put(it Item) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.items = append(q.items, it)
	q.update()
}

// Take removes up to max batches in arrival order.
func (q *IngestQueue) Take(max int) []Item {
	q.lock.Lock()
	defer q.lock.Unlock()
	if max > len(q.items) || max <= 0 {
		max = len(q.items)
	}
	out := make([]Item, max)
	copy(out, q.items)
	q.items = q.items[max:]
	q.update()
	return out
}

// update refreshes depth and the paused flag. Callers hold the lock.
func (q *IngestQueue) update() {
	d := int64(len(q.items))
	q.depth.Store(d)
	switch {
	case d >= q.maxDepth.Load():
		q.paused.Store(true)
	case d < q.resumeDepth.Load():
		q.paused.Store(false)
	}
	metrics.IngestQueueDepth.WithLabelValues(q.pipeline).Set(float64(d))
	if q.paused.Load() {
		metrics.IngestPaused.WithLabelValues(q.pipeline).Set(1)
	} else {
		metrics.IngestPaused.WithLabelValues(q.pipeline).Set(0)
	}
}

func (q *IngestQueue) Depth() int { return int(q.depth.Load()) }

func (q *IngestQueue) Paused() bool { return q.paused.Load() }
