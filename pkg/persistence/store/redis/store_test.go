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

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/deltaflow/pkg/persistence"
)

// newTestStore connects to DELTAFLOW_TEST_REDIS_URL and skips without it.
func newTestStore(t *testing.T) *Store {
	url := os.Getenv("DELTAFLOW_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DELTAFLOW_TEST_REDIS_URL is not set")
	}
	s, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewStore_BadURL(t *testing.T) {
	_, err := NewStore("http://localhost")
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pipeline := "test-" + time.Now().Format("150405.000000")
	key := persistence.BlobKey{Pipeline: pipeline, Checkpoint: "c1", Operator: "counts", Worker: 1, Time: 5}

	require.NoError(t, s.PutBlob(ctx, key, []byte("state")))
	got, err := s.GetBlob(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), got)

	m := persistence.Manifest{Pipeline: pipeline, ID: "c1", Time: 5, Blobs: []persistence.BlobKey{key}, Checksums: []uint32{persistence.Checksum([]byte("state"))}, Created: time.Now()}
	require.NoError(t, s.PutManifest(ctx, m))
	latest, err := s.LatestManifest(ctx, pipeline)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "c1", latest.ID)

	require.NoError(t, s.Delete(ctx, m))
	_, err = s.GetBlob(ctx, key)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	latest, err = s.LatestManifest(ctx, pipeline)
	require.NoError(t, err)
	assert.Nil(t, latest)
}
