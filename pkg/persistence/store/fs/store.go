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

// Package fs keeps checkpoints as files under a directory. Every file
// carries a checksummed header and is written to a temporary file that is
// renamed into place, so a crash never leaves a partially written file.
package fs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/numaproj/deltaflow/pkg/persistence"
	"github.com/numaproj/deltaflow/pkg/shared/logging"
)

const (
	blobsDir     = "blobs"
	manifestsDir = "manifests"
	tmpSuffix    = ".tmp"
)

type Store struct {
	root string
	log  *zap.SugaredLogger
}

var _ persistence.Store = (*Store)(nil)

// NewStore returns a store rooted at dir, creating it when needed.
func NewStore(ctx context.Context, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %q: %w", dir, err)
	}
	return &Store{root: dir, log: logging.FromContext(ctx).With("store", dir)}, nil
}

func checkpointDir(k persistence.BlobKey) string {
	return strconv.FormatUint(k.Time, 10) + "-" + k.Checkpoint
}

func (s *Store) blobPath(k persistence.BlobKey) string {
	return filepath.Join(s.root, url.PathEscape(k.Pipeline), blobsDir, checkpointDir(k),
		url.PathEscape(k.Operator)+"-"+strconv.Itoa(k.Worker)+".blob")
}

func (s *Store) manifestPath(m persistence.Manifest) string {
	return filepath.Join(s.root, url.PathEscape(m.Pipeline), manifestsDir,
		strconv.FormatUint(m.Time, 10)+"-"+m.ID+".manifest")
}

// writeFile writes data next to path and renames it into place.
func writeFile(path string, body []byte) error {
	data, err := encodeFile(body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	body, err := decodeFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return body, nil
}

func (s *Store) PutBlob(ctx context.Context, key persistence.BlobKey, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeFile(s.blobPath(key), data)
}

func (s *Store) GetBlob(_ context.Context, key persistence.BlobKey) ([]byte, error) {
	return readFile(s.blobPath(key))
}

func (s *Store) DeleteBlob(_ context.Context, key persistence.BlobKey) error {
	path := s.blobPath(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	// The checkpoint directory goes away with its last blob.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

func (s *Store) PutManifest(ctx context.Context, m persistence.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return writeFile(s.manifestPath(m), body)
}

func (s *Store) Manifests(_ context.Context, pipeline string) ([]persistence.Manifest, error) {
	dir := filepath.Join(s.root, url.PathEscape(pipeline), manifestsDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []persistence.Manifest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".manifest") {
			continue
		}
		body, err := readFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var m persistence.Manifest
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", e.Name(), err)
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
	if err := os.Remove(s.manifestPath(m)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, k := range m.Blobs {
		if err := s.DeleteBlob(ctx, k); err != nil {
			return err
		}
	}
	s.log.Debugw("Deleted checkpoint", zap.String("checkpoint", m.ID), zap.Uint64("time", m.Time))
	return nil
}

func (s *Store) Close() error { return nil }
