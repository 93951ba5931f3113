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

// Package redis keeps checkpoints in a redis server. Blobs are plain keys,
// the manifests of a pipeline live in one hash keyed by checkpoint id.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/numaproj/deltaflow/pkg/persistence"
)

const keyPrefix = "deltaflow"

type Store struct {
	client redis.UniversalClient
}

var _ persistence.Store = (*Store)(nil)

// NewStore connects to the server at a redis:// URL.
func NewStore(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewStoreFromClient(redis.NewClient(opts)), nil
}

func NewStoreFromClient(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func blobKey(k persistence.BlobKey) string {
	return keyPrefix + ":blob:" + k.String()
}

func manifestsKey(pipeline string) string {
	return keyPrefix + ":manifests:" + pipeline
}

func (s *Store) PutBlob(ctx context.Context, key persistence.BlobKey, data []byte) error {
	return s.client.Set(ctx, blobKey(key), data, 0).Err()
}

func (s *Store) GetBlob(ctx context.Context, key persistence.BlobKey) ([]byte, error) {
	data, err := s.client.Get(ctx, blobKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrNotFound
	}
	return data, err
}

func (s *Store) DeleteBlob(ctx context.Context, key persistence.BlobKey) error {
	return s.client.Del(ctx, blobKey(key)).Err()
}

func (s *Store) PutManifest(ctx context.Context, m persistence.Manifest) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, manifestsKey(m.Pipeline), m.ID, body).Err()
}

func (s *Store) Manifests(ctx context.Context, pipeline string) ([]persistence.Manifest, error) {
	fields, err := s.client.HGetAll(ctx, manifestsKey(pipeline)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]persistence.Manifest, 0, len(fields))
	for id, body := range fields {
		var m persistence.Manifest
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", id, err)
		}
		out = append(out, m)
	}
	persistence.SortManifests(out)
	return out, nil
}

func (s *Store) LatestManifest(ctx context.Context, pipeline string) (*persistence.Manifest, error) {
	ms, err := s.Manifests(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	return persistence.Latest(ms), nil
}

func (s *Store) Delete(ctx context.Context, m persistence.Manifest) error {
	if err := s.client.HDel(ctx, manifestsKey(m.Pipeline), m.ID).Err(); err != nil {
		return err
	}
	if len(m.Blobs) == 0 {
		return nil
	}
	keys := make([]string, len(m.Blobs))
	for i, k := range m.Blobs {
		keys[i] = blobKey(k)
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) Close() error { return s.client.Close() }
