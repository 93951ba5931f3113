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
	"github.com/numaproj/deltaflow/pkg/collection"
)

// Policy decides what happens to deltas that arrive behind the frontier.
type Policy int

const (
	// Strict turns late data into a pipeline-fatal LateDataError.
	Strict Policy = iota
	// DropAndReport drops late deltas after logging and counting them.
	DropAndReport
)

func (p Policy) String() string {
	switch p {
	case Strict:
		return "Strict"
	case DropAndReport:
		return "DropAndReport"
	}
	return "Unknown"
}

// Tracker holds the input frontier of one operator instance. The frontier
// only ever moves forward.
type Tracker struct {
	node    string
	current Antichain
}

// NewTracker starts at the least time, where everything is still open.
func NewTracker(node string) *Tracker {
	return &Tracker{node: node, current: Bottom()}
}

func (t *Tracker) Frontier() Antichain { return t.current }

// Advance moves the frontier to next and reports whether it changed.
func (t *Tracker) Advance(next Antichain) (bool, error) {
	if !t.current.Dominates(next) {
		return false, &RegressionError{Node: t.node, From: t.current, To: next}
	}
	if t.current.Equal(next) {
		return false, nil
	}
	t.current = next
	return true, nil
}

// Reset installs a frontier restored from a checkpoint.
func (t *Tracker) Reset(f Antichain) { t.current = f }

// Check returns a LateDataError when ts is already closed.
func (t *Tracker) Check(ts collection.Time) error {
	if t.current.LessEqual(ts) {
		return nil
	}
	return &LateDataError{Node: t.node, Time: ts, Frontier: t.current}
}

// Filter splits b into the deltas that are still open and the late ones.
func (t *Tracker) Filter(b collection.Batch) (open collection.Batch, late collection.Batch) {
	for _, d := range b {
		if t.current.LessEqual(d.Time) {
			open = append(open, d)
		} else {
			late = append(late, d)
		}
	}
	return open, late
}
