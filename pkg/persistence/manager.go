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
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/metrics"
	"github.com/numaproj/deltaflow/pkg/shared/logging"
)

// Restored is what Restore read back from the latest checkpoint.
type Restored struct {
	Manifest Manifest
	Blobs    []Blob
}

// Manager decides when to checkpoint, writes checkpoints atomically and
// restores the latest one.
type Manager struct {
	pipeline string
	store    Store
	interval *atomic.Uint64
	retain   *atomic.Int64
	// last is the time of the last committed checkpoint
	last      uint64
	committed bool
	requested *atomic.Bool
	log       *zap.SugaredLogger
}

func NewManager(ctx context.Context, pipeline string, store Store, cfg dfv1.CheckpointConfig) *Manager {
	m := &Manager{
		pipeline:  pipeline,
		store:     store,
		interval:  atomic.NewUint64(dfv1.DefaultCheckpointInterval),
		retain:    atomic.NewInt64(dfv1.DefaultCheckpointRetain),
		requested: atomic.NewBool(false),
		log:       logging.FromContext(ctx).With("pipeline", pipeline),
	}
	m.Configure(cfg)
	return m
}

// Configure applies new checkpoint tunables. It is safe to call while the
// pipeline runs.
func (m *Manager) Configure(cfg dfv1.CheckpointConfig) {
	if cfg.Interval > 0 {
		m.interval.Store(cfg.Interval)
	}
	if cfg.Retain > 0 {
		m.retain.Store(int64(cfg.Retain))
	}
}

// Request asks for a checkpoint at the next opportunity regardless of the
// interval. It is safe to call from any goroutine.
func (m *Manager) Request() { m.requested.Store(true) }

// ShouldCheckpoint reports whether a checkpoint is due once every source
// reached epoch.
func (m *Manager) ShouldCheckpoint(epoch uint64) bool {
	if m.committed && epoch <= m.last {
		return false
	}
	if m.requested.Load() {
		return true
	}
	return epoch >= m.last+m.interval.Load()
}

// Checkpoint writes blobs and commits them with a manifest. When any write
// fails the blobs already written are removed and nothing is committed.
func (m *Manager) Checkpoint(ctx context.Context, epoch uint64, offsets, finalized map[string]int64, blobs []Blob) (*Manifest, error) {
	start := time.Now()
	manifest := Manifest{
		Pipeline:  m.pipeline,
		ID:        uuid.NewString(),
		Time:      epoch,
		Offsets:   offsets,
		Finalized: finalized,
		Blobs:     make([]BlobKey, 0, len(blobs)),
		Checksums: make([]uint32, 0, len(blobs)),
	}
	var written int
	for _, b := range blobs {
		key := BlobKey{Pipeline: m.pipeline, Checkpoint: manifest.ID, Operator: b.Operator, Worker: b.Worker, Time: epoch}
		if err := m.store.PutBlob(ctx, key, b.Data); err != nil {
			return nil, m.rollback(manifest, fmt.Errorf("failed to write blob %s: %w", key, err))
		}
		manifest.Blobs = append(manifest.Blobs, key)
		manifest.Checksums = append(manifest.Checksums, Checksum(b.Data))
		written += len(b.Data)
	}
	manifest.Created = time.Now()
	if err := m.store.PutManifest(ctx, manifest); err != nil {
		return nil, m.rollback(manifest, fmt.Errorf("failed to write manifest: %w", err))
	}
	m.last = epoch
	m.committed = true
	m.requested.Store(false)
	metrics.CheckpointDuration.WithLabelValues(m.pipeline).Observe(time.Since(start).Seconds())
	metrics.CheckpointBytes.WithLabelValues(m.pipeline).Add(float64(written))
	m.log.Infow("Committed checkpoint", zap.String("checkpoint", manifest.ID), zap.Uint64("epoch", epoch), zap.Int("blobs", len(blobs)), zap.Int("bytes", written))

	if err := m.prune(ctx); err != nil {
		metrics.CheckpointErrors.WithLabelValues(m.pipeline, "retain").Inc()
		m.log.Warnw("Failed to remove old checkpoints", zap.Error(err))
	}
	return &manifest, nil
}

// rollback removes the blobs of an uncommitted checkpoint. A background
// context is used so a cancelled checkpoint is still cleaned up.
func (m *Manager) rollback(manifest Manifest, cause error) error {
	metrics.CheckpointErrors.WithLabelValues(m.pipeline, "write").Inc()
	err := cause
	for _, k := range manifest.Blobs {
		err = multierr.Append(err, m.store.DeleteBlob(context.Background(), k))
	}
	m.log.Errorw("Rolled back checkpoint", zap.String("checkpoint", manifest.ID), zap.Uint64("epoch", manifest.Time), zap.Error(err))
	return err
}

// prune keeps the newest retained checkpoints.
func (m *Manager) prune(ctx context.Context) error {
	ms, err := m.store.Manifests(ctx, m.pipeline)
	if err != nil {
		return err
	}
	var errs error
	for i := 0; i < len(ms)-int(m.retain.Load()); i++ {
		errs = multierr.Append(errs, m.store.Delete(ctx, ms[i]))
	}
	return errs
}

// Restore reads the latest committed checkpoint and verifies every blob. It
// returns nil when there is none. Any failure is a RecoveryFailure.
func (m *Manager) Restore(ctx context.Context) (*Restored, error) {
	manifest, err := m.store.LatestManifest(ctx, m.pipeline)
	if err != nil {
		return nil, m.recoveryFailure("", err)
	}
	if manifest == nil {
		return nil, nil
	}
	if len(manifest.Checksums) != len(manifest.Blobs) {
		return nil, m.recoveryFailure(manifest.ID, fmt.Errorf("manifest lists %d blobs and %d checksums", len(manifest.Blobs), len(manifest.Checksums)))
	}
	out := &Restored{Manifest: *manifest, Blobs: make([]Blob, 0, len(manifest.Blobs))}
	for i, k := range manifest.Blobs {
		data, err := m.store.GetBlob(ctx, k)
		if err != nil {
			return nil, m.recoveryFailure(manifest.ID, fmt.Errorf("failed to read blob %s: %w", k, err))
		}
		if Checksum(data) != manifest.Checksums[i] {
			return nil, m.recoveryFailure(manifest.ID, fmt.Errorf("blob %s: %w", k, ErrChecksumMismatch))
		}
		out.Blobs = append(out.Blobs, Blob{Operator: k.Operator, Worker: k.Worker, Data: data})
	}
	m.last = manifest.Time
	m.committed = true
	m.log.Infow("Restored checkpoint", zap.String("checkpoint", manifest.ID), zap.Uint64("epoch", manifest.Time))
	return out, nil
}

func (m *Manager) recoveryFailure(id string, cause error) error {
	metrics.CheckpointErrors.WithLabelValues(m.pipeline, "restore").Inc()
	return &RecoveryFailure{Pipeline: m.pipeline, Checkpoint: id, Cause: cause}
}

func (m *Manager) Close() error { return m.store.Close() }
