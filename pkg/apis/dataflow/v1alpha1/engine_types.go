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

package v1alpha1

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
)

// EngineConfig holds the runtime settings of a pipeline.
type EngineConfig struct {
	// +optional
	Workers int `json:"workers,omitempty"`
	// +optional
	Ingest IngestConfig `json:"ingest,omitempty"`
	// +optional
	Checkpoint CheckpointConfig `json:"checkpoint,omitempty"`
	// +optional
	Exchange ExchangeConfig `json:"exchange,omitempty"`
}

type IngestConfig struct {
	// ReadBatchSize is the largest number of records asked from a source at once.
	// +optional
	ReadBatchSize int `json:"readBatchSize,omitempty"`
	// MaxDepth pauses ingestion once that many batches are queued.
	// +optional
	MaxDepth int `json:"maxDepth,omitempty"`
	// ResumeDepth resumes ingestion once the queue drained below it.
	// +optional
	ResumeDepth int `json:"resumeDepth,omitempty"`
	// MaxBatchesPerRound bounds how many queued batches enter one round.
	// +optional
	MaxBatchesPerRound int `json:"maxBatchesPerRound,omitempty"`
	// +optional
	PollInterval *metav1.Duration `json:"pollInterval,omitempty"`
}

type CheckpointStoreType string

const (
	CheckpointStoreFS     CheckpointStoreType = "fs"
	CheckpointStoreMemory CheckpointStoreType = "memory"
	CheckpointStoreRedis  CheckpointStoreType = "redis"
)

type CheckpointConfig struct {
	// Disabled turns checkpointing off.
	// +optional
	Disabled bool `json:"disabled,omitempty"`
	// Interval is the number of epochs between two checkpoints.
	// +optional
	Interval uint64 `json:"interval,omitempty"`
	// Schedule is an optional cron expression requesting extra checkpoints.
	// +optional
	Schedule string `json:"schedule,omitempty"`
	// Retain is the number of committed checkpoints kept.
	// +optional
	Retain int `json:"retain,omitempty"`
	// +optional
	Store CheckpointStoreType `json:"store,omitempty"`
	// Path is the directory of the fs store.
	// +optional
	Path string `json:"path,omitempty"`
	// RedisURL is the address of the redis store.
	// +optional
	RedisURL string `json:"redisURL,omitempty"`
}

type ExchangeConfig struct {
	// +optional
	BackOff *Backoff `json:"backoff,omitempty"`
}

// Backoff configures the retries of a partition exchange send.
type Backoff struct {
	// +optional
	Interval *metav1.Duration `json:"interval,omitempty"`
	// Steps is the number of attempts including the first one.
	// +optional
	Steps *uint32 `json:"steps,omitempty"`
	// +optional
	Factor *float64 `json:"factor,omitempty"`
}

// GetBackoff builds the wait.Backoff used for exchange sends.
func (e ExchangeConfig) GetBackoff() wait.Backoff {
	wt := wait.Backoff{
		Duration: DefaultExchangeRetryInterval,
		Steps:    DefaultExchangeRetrySteps,
		Factor:   DefaultExchangeRetryFactor,
		Jitter:   DefaultExchangeRetryJitter,
	}
	if e.BackOff != nil {
		if e.BackOff.Interval != nil {
			wt.Duration = e.BackOff.Interval.Duration
		}
		if e.BackOff.Steps != nil {
			wt.Steps = int(*e.BackOff.Steps)
		}
		if e.BackOff.Factor != nil {
			wt.Factor = *e.BackOff.Factor
		}
	}
	return wt
}

func (i IngestConfig) GetPollInterval() time.Duration {
	if i.PollInterval == nil {
		return DefaultIngestPollInterval
	}
	return i.PollInterval.Duration
}

// WithDefaults returns a copy with every unset field defaulted.
func (c EngineConfig) WithDefaults() EngineConfig {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Ingest.ReadBatchSize <= 0 {
		c.Ingest.ReadBatchSize = DefaultReadBatchSize
	}
	if c.Ingest.MaxDepth <= 0 {
		c.Ingest.MaxDepth = DefaultIngestMaxDepth
	}
	if c.Ingest.ResumeDepth <= 0 || c.Ingest.ResumeDepth > c.Ingest.MaxDepth {
		c.Ingest.ResumeDepth = min(DefaultIngestResumeDepth, c.Ingest.MaxDepth)
	}
	if c.Ingest.MaxBatchesPerRound <= 0 {
		c.Ingest.MaxBatchesPerRound = DefaultMaxBatchesPerRound
	}
	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = DefaultCheckpointInterval
	}
	if c.Checkpoint.Retain <= 0 {
		c.Checkpoint.Retain = DefaultCheckpointRetain
	}
	if c.Checkpoint.Store == "" {
		c.Checkpoint.Store = DefaultCheckpointStore
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = DefaultCheckpointPath
	}
	return c
}
