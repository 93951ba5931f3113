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

// Package window assigns event times to window buckets.
//
// A row carries its event time in one of its columns. Fixed and Sliding windows are aligned: every key
// sees the same buckets. Session windows are unaligned: the buckets of a key depend on the event times of
// that key's rows and merge whenever two rows are closer than the session gap.
//
// Buckets are left-inclusive and right-exclusive, so with a fixed length of 10 the event time 9 falls
// into [0, 10) and the event time 10 into [10, 20).
//
// Event times are compared with frontier epochs one to one. A bucket becomes final once the frontier
// epoch reaches its end plus the allowed lateness; what happens to rows that arrive for a final bucket
// is decided by the configured Lateness policy.
package window
