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

package persistence

import (
	"context"
	"hash/crc32"
	"sort"
)

// Store keeps checkpoint blobs and manifests.
type Store interface {
	PutBlob(ctx context.Context, key BlobKey, data []byte) error
	// GetBlob returns ErrNotFound when the blob does not exist.
	GetBlob(ctx context.Context, key BlobKey) ([]byte, error)
	DeleteBlob(ctx context.Context, key BlobKey) error
	PutManifest(ctx context.Context, m Manifest) error
	// Manifests lists the committed manifests of a pipeline, oldest first.
	Manifests(ctx context.Context, pipeline string) ([]Manifest, error)
	// LatestManifest returns nil when the pipeline has no checkpoint.
	LatestManifest(ctx context.Context, pipeline string) (*Manifest, error)
	// Delete removes a manifest and then its blobs.
	Delete(ctx context.Context, m Manifest) error
	Close() error
}

// Checksum is the CRC32 (IEEE) of data.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// SortManifests orders manifests by time, then creation.
func SortManifests(ms []Manifest) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Time != ms[j].Time {
			return ms[i].Time < ms[j].Time
		}
		return ms[i].Created.Before(ms[j].Created)
	})
}

// Latest returns the newest manifest of a sorted list, or nil.
func Latest(ms []Manifest) *Manifest {
	if len(ms) == 0 {
		return nil
	}
	m := ms[len(ms)-1]
	return &m
}
