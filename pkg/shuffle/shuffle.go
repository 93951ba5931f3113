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

package shuffle

import (
	"github.com/spaolacci/murmur3"

	"github.com/numaproj/deltaflow/pkg/collection"
)

// Partitioner assigns every key to one of n workers.
type Partitioner struct {
	n uint64
}

// NewPartitioner returns a partitioner over n workers. n must be positive.
func NewPartitioner(n int) *Partitioner {
	if n < 1 {
		n = 1
	}
	return &Partitioner{n: uint64(n)}
}

// Partitions is the number of workers.
func (p *Partitioner) Partitions() int { return int(p.n) }

// Partition returns the worker owning key. Equal keys land on the same
// worker in every process.
func (p *Partitioner) Partition(key collection.Key) int {
	return int(murmur3.Sum64([]byte(key)) % p.n)
}

// Shuffle splits a batch by the worker owning the key of every delta. The
// order of deltas inside each part is kept.
func (p *Partitioner) Shuffle(b collection.Batch, keys collection.KeyColumns) []collection.Batch {
	out := make([]collection.Batch, p.n)
	if p.n == 1 {
		out[0] = b
		return out
	}
	for _, d := range b {
		w := p.Partition(keys.Key(d.Row))
		out[w] = append(out[w], d)
	}
	return out
}
