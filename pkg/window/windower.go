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
	"sort"
)

// Strategy is the kind of window.
type Strategy int

const (
	Fixed Strategy = iota
	Sliding
	Session
)

func (s Strategy) String() string {
	switch s {
	case Fixed:
		return "Fixed"
	case Sliding:
		return "Sliding"
	case Session:
		return "Session"
	default:
		return "Unknown"
	}
}

// Bucket is the half open interval [Start, End) of event time.
type Bucket struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (b Bucket) Contains(t int64) bool { return t >= b.Start && t < b.End }

func (b Bucket) String() string { return fmt.Sprintf("[%d, %d)", b.Start, b.End) }

// Assigner maps an event time to the buckets containing it.
type Assigner interface {
	Strategy() Strategy
	// Assign returns the buckets of t ordered by start time.
	Assign(t int64) []Bucket
}

// FixedWindower assigns tumbling windows of Length.
type FixedWindower struct {
	Length int64
}

func NewFixed(length int64) (*FixedWindower, error) {
	if length <= 0 {
		return nil, fmt.Errorf("fixed window length must be positive, got %d", length)
	}
	return &FixedWindower{Length: length}, nil
}

func (f *FixedWindower) Strategy() Strategy { return Fixed }

func (f *FixedWindower) Assign(t int64) []Bucket {
	start := floorDiv(t, f.Length) * f.Length
	return []Bucket{{Start: start, End: start + f.Length}}
}

// SlidingWindower assigns overlapping windows of Length starting every Slide.
type SlidingWindower struct {
	Length int64
	Slide  int64
}

func NewSliding(length, slide int64) (*SlidingWindower, error) {
	if length <= 0 || slide <= 0 {
		return nil, fmt.Errorf("sliding window length and slide must be positive, got %d and %d", length, slide)
	}
	if slide > length {
		return nil, fmt.Errorf("sliding window slide %d exceeds length %d", slide, length)
	}
	return &SlidingWindower{Length: length, Slide: slide}, nil
}

func (s *SlidingWindower) Strategy() Strategy { return Sliding }

// Assign starts from the latest window holding t, the highest multiple of
// Slide not after t, and walks back one slide at a time.
func (s *SlidingWindower) Assign(t int64) []Bucket {
	start := floorDiv(t, s.Slide) * s.Slide
	var out []Bucket
	for ; start <= t && start+s.Length > t; start -= s.Slide {
		out = append(out, Bucket{Start: start, End: start + s.Length})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// SessionWindower opens a window of Gap for every event; windows of the
// same key that overlap are merged.
type SessionWindower struct {
	Gap int64
}

func NewSession(gap int64) (*SessionWindower, error) {
	if gap <= 0 {
		return nil, fmt.Errorf("session gap must be positive, got %d", gap)
	}
	return &SessionWindower{Gap: gap}, nil
}

func (s *SessionWindower) Strategy() Strategy { return Session }

func (s *SessionWindower) Assign(t int64) []Bucket {
	return []Bucket{{Start: t, End: t + s.Gap}}
}

// Merge folds the per event windows of one key into sessions. Windows
// merge only when they overlap, so events exactly Gap apart stay apart.
func (s *SessionWindower) Merge(times []int64) []Bucket {
	if len(times) == 0 {
		return nil
	}
	sorted := append([]int64(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := []Bucket{{Start: sorted[0], End: sorted[0] + s.Gap}}
	for _, t := range sorted[1:] {
		last := &out[len(out)-1]
		if last.End > t {
			if t+s.Gap > last.End {
				last.End = t + s.Gap
			}
			continue
		}
		out = append(out, Bucket{Start: t, End: t + s.Gap})
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
