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

package window

import (
	"fmt"
	"math"
)

// LatePolicy decides what happens to rows whose bucket is already final.
type LatePolicy int

const (
	// Drop drops the row and reports it.
	Drop LatePolicy = iota + 1
	// Reopen accepts the row while the bucket is within Grace past
	// finalisation and retracts the finalised aggregate.
	Reopen
)

func (p LatePolicy) String() string {
	switch p {
	case Drop:
		return "Drop"
	case Reopen:
		return "Reopen"
	}
	return "Unset"
}

// Lateness configures finalisation and late arrivals. There is no usable
// zero value: Policy must be set explicitly.
type Lateness struct {
	Allowed int64
	Policy  LatePolicy
	Grace   int64
}

func (l Lateness) Validate() error {
	if l.Policy != Drop && l.Policy != Reopen {
		return fmt.Errorf("lateness policy must be Drop or Reopen")
	}
	if l.Allowed < 0 || l.Grace < 0 {
		return fmt.Errorf("lateness bounds must not be negative")
	}
	if l.Policy == Drop && l.Grace != 0 {
		return fmt.Errorf("grace only applies to the Reopen policy")
	}
	return nil
}

// Final reports whether the bucket is final at the given frontier epoch.
func (l Lateness) Final(b Bucket, epoch uint64) bool {
	return reached(epoch, b.End, l.Allowed)
}

// Accepts reports whether a row for bucket b is still taken in.
func (l Lateness) Accepts(b Bucket, epoch uint64) bool {
	if !l.Final(b, epoch) {
		return true
	}
	return l.Policy == Reopen && !reached(epoch, b.End, l.Allowed+l.Grace)
}

// Expired reports whether nothing can change bucket b anymore, so its
// state may be dropped.
func (l Lateness) Expired(b Bucket, epoch uint64) bool {
	horizon := l.Allowed
	if l.Policy == Reopen {
		horizon += l.Grace
	}
	return reached(epoch, b.End, horizon)
}

// Horizon is the number of ticks past a bucket end during which it can
// still change.
func (l Lateness) Horizon() int64 {
	if l.Policy == Reopen {
		return l.Allowed + l.Grace
	}
	return l.Allowed
}

// reached reports whether epoch >= end + slack without overflowing.
func reached(epoch uint64, end, slack int64) bool {
	bound := end
	if slack > 0 && bound > math.MaxInt64-slack {
		return false
	}
	bound += slack
	if bound < 0 {
		return true
	}
	return epoch >= uint64(bound)
}
