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

import "time"

const (
	// ENV vars
	EnvPrefix     = "DELTAFLOW"
	EnvConfigPath = "DELTAFLOW_CONFIG"

	DefaultWorkers            = 1
	DefaultReadBatchSize      = 500
	DefaultIngestMaxDepth     = 64
	DefaultIngestResumeDepth  = 32
	DefaultIngestPollInterval = 5 * time.Millisecond
	DefaultMaxBatchesPerRound = 16

	DefaultCheckpointInterval = uint64(10)
	DefaultCheckpointRetain   = 3
	DefaultCheckpointStore    = CheckpointStoreFS
	DefaultCheckpointPath     = "/var/lib/deltaflow"

	DefaultExchangeRetryInterval = 10 * time.Millisecond
	DefaultExchangeRetrySteps    = 5
	DefaultExchangeRetryFactor   = 2.0
	DefaultExchangeRetryJitter   = 0.1

	DefaultTimelineCapacity = 32
)
