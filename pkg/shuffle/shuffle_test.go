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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/collection/testutils"
)

func TestPartitioner_Partition(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		keys    int
	}{
		{name: "few workers", workers: 4, keys: 10000},
		{name: "many workers", workers: 100, keys: 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPartitioner(tt.workers)
			counts := make([]int, tt.workers)
			for i := 0; i < tt.keys; i++ {
				k := collection.KeyOf(testutils.R(fmt.Sprintf("key_%d", i)))
				w := p.Partition(k)
				assert.Equal(t, w, p.Partition(k))
				counts[w]++
			}
			for w, c := range counts {
				assert.NotZero(t, c, "worker %d got no keys", w)
			}
		})
	}
}

func TestPartitioner_Shuffle(t *testing.T) {
	p := NewPartitioner(3)
	keys := collection.KeyColumns{0}
	var batch collection.Batch
	for i := 0; i < 300; i++ {
		batch = append(batch, testutils.Insert(testutils.R(fmt.Sprintf("k%d", i%30), i), uint64(i)))
	}
	parts := p.Shuffle(batch, keys)
	assert.Len(t, parts, 3)

	total := 0
	for w, part := range parts {
		total += len(part)
		for i, d := range part {
			assert.Equal(t, w, p.Partition(keys.Key(d.Row)))
			if i > 0 {
				assert.True(t, part[i-1].Time.Epoch < d.Time.Epoch)
			}
		}
	}
	assert.Equal(t, len(batch), total)

	assert.Equal(t, []collection.Batch{batch}, NewPartitioner(0).Shuffle(batch, keys))
}
