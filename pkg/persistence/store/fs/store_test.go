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

package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/deltaflow/pkg/persistence"
)

func TestStore_Blobs(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, t.TempDir())
	require.NoError(t, err)

	key := persistence.BlobKey{Pipeline: "word count", Checkpoint: "c1", Operator: "counts/keyed", Worker: 3, Time: 7}
	require.NoError(t, s.PutBlob(ctx, key, []byte("state")))
	got, err := s.GetBlob(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), got)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(s.blobPath(key)), "*"+tmpSuffix))
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, s.DeleteBlob(ctx, key))
	_, err = s.GetBlob(ctx, key)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	require.NoError(t, s.DeleteBlob(ctx, key))
}

func TestStore_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, t.TempDir())
	require.NoError(t, err)
	key := persistence.BlobKey{Pipeline: "p", Checkpoint: "c1", Operator: "counts", Time: 1}
	require.NoError(t, s.PutBlob(ctx, key, []byte("some operator state")))

	path := s.blobPath(key)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0o644))
	_, err = s.GetBlob(ctx, key)
	assert.ErrorIs(t, err, persistence.ErrChecksumMismatch)

	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))
	_, err = s.GetBlob(ctx, key)
	assert.Error(t, err)
}

func TestStore_Manifests(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, t.TempDir())
	require.NoError(t, err)

	latest, err := s.LatestManifest(ctx, "p")
	require.NoError(t, err)
	assert.Nil(t, latest)

	now := time.Now()
	for i, id := range []string{"c2", "c1", "c3"} {
		key := persistence.BlobKey{Pipeline: "p", Checkpoint: id, Operator: "counts", Time: uint64(10 * (i + 1))}
		require.NoError(t, s.PutBlob(ctx, key, []byte(id)))
		require.NoError(t, s.PutManifest(ctx, persistence.Manifest{
			Pipeline:  "p",
			ID:        id,
			Time:      key.Time,
			Offsets:   map[string]int64{"src": int64(i)},
			Blobs:     []persistence.BlobKey{key},
			Checksums: []uint32{persistence.Checksum([]byte(id))},
			Created:   now.Add(time.Duration(i) * time.Second),
		}))
	}
	ms, err := s.Manifests(ctx, "p")
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, []string{"c2", "c1", "c3"}, []string{ms[0].ID, ms[1].ID, ms[2].ID})

	latest, err = s.LatestManifest(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "c3", latest.ID)
	assert.Equal(t, int64(2), latest.Offsets["src"])

	require.NoError(t, s.Delete(ctx, *latest))
	_, err = s.GetBlob(ctx, latest.Blobs[0])
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	latest, err = s.LatestManifest(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "c1", latest.ID)

	other, err := s.Manifests(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, other)
}
