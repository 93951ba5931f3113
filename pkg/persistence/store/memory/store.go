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

// Package memory keeps checkpoints in process memory. It serves tests and
// embedded pipelines that do not need to survive the process.
package memory

import (
	"context"
	"sync"

	"github.com/numaproj/deltaflow/pkg/persistence"
)

type Store struct {
	lock      sync.RWMutex
	blobs     map[persistence.BlobKey][]byte
	manifests map[string]map[string]persistence.Manifest
}

var _ persistence.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		blobs:     make(map[persistence.BlobKey][]byte),
		manifests: make(map[string]map[string]persistence.Manifest),
	}
}

func (s *Store) PutBlob(_ context.Context, key persistence.BlobKey, data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *Store) GetBlob(_ context.Context, key persistence.BlobKey) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) DeleteBlob(_ context.Context, key persistence.BlobKey) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *Store) PutManifest(_ context.Context, m persistence.Manifest) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.manifests[m.Pipeline] == nil {
		s.manifests[m.Pipeline] = make(map[string]persistence.Manifest)
	}
	s.manifests[m.Pipeline][m.ID] = m
	return nil
}

func (s *Store) Manifests(_ context.Context, pipeline string) ([]persistence.Manifest, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make([]persistence.Manifest, 0, len(s.manifests[pipeline]))
	for _, m := range s.manifests[pipeline] {
		out = append(out, m)
	}
	persistence.SortManifests(out)
	return out, nil
}

func (s *Store) LatestManifest(ctx context.Context, pipeline string) (*persistence.Manifest, error) {
	ms, _ := s.Manifests(ctx, pipeline)
	return persistence.Latest(ms), nil
}

func (s *Store) Delete(_ context.Context, m persistence.Manifest) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.manifests[m.Pipeline], m.ID)
	for _, k := range m.Blobs {
		delete(s.blobs, k)
	}
	return nil
}

// Corrupt flips a byte of a stored blob.
func (s *Store) Corrupt(key persistence.BlobKey) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	data, ok := s.blobs[key]
	if !ok || len(data) == 0 {
		return false
	}
	data[0] ^= 0xff
	return true
}

// Len returns the number of stored blobs.
func (s *Store) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.blobs)
}

func (s *Store) Close() error { return nil }
