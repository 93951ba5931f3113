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
	"go.uber.org/atomic"
)

// Location addresses an input port of a node in the operator graph.
type Location struct {
	Node int
	Port int
}

// Report is what one worker publishes after a round: the times still
// pending at each location it owns.
type Report struct {
	Worker  int
	Round   uint64
	Pending map[Location]Antichain
}

// Reducer combines the reports of every worker without locking. Each worker
// owns one slot and only ever stores into it.
type Reducer struct {
	slots []atomic.Pointer[Report]
}

func NewReducer(workers int) *Reducer {
	return &Reducer{slots: make([]atomic.Pointer[Report], workers)}
}

// Publish replaces the report of the given worker.
func (r *Reducer) Publish(worker int, rep *Report) {
	r.slots[worker].Store(rep)
}

// Pending meets the pending times of every worker at every location.
func (r *Reducer) Pending() map[Location]Antichain {
	out := make(map[Location]Antichain)
	for i := range r.slots {
		rep := r.slots[i].Load()
		if rep == nil {
			continue
		}
		for loc, a := range rep.Pending {
			out[loc] = out[loc].Meet(a)
		}
	}
	return out
}

// Round returns the oldest round any worker has reported, which tells
// whether the reduction covers a full round.
func (r *Reducer) Round() (uint64, bool) {
	var (
		oldest uint64
		seen   bool
	)
	for i := range r.slots {
		rep := r.slots[i].Load()
		if rep == nil {
			return 0, false
		}
		if !seen || rep.Round < oldest {
			oldest = rep.Round
			seen = true
		}
	}
	return oldest, seen
}
