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

package collection

import "github.com/cespare/xxhash/v2"

// Key is the canonical encoding of the values extracted from a row. Equal
// values give identical bytes on every worker, so keys route identically.
type Key string

// KeyOf encodes the given row as a key.
func KeyOf(r Row) Key { return Key(r.Encode()) }

// Fingerprint returns the 64 bit hash of the key.
func (k Key) Fingerprint() uint64 { return xxhash.Sum64String(string(k)) }

// KeyColumns extracts a key from a fixed set of column indices. The
// extracted key only depends on the row, never on arrival order.
type KeyColumns []int

// Row projects the key columns.
func (kc KeyColumns) Row(r Row) Row { return r.Project(kc...) }

func (kc KeyColumns) Key(r Row) Key { return KeyOf(r.Project(kc...)) }
