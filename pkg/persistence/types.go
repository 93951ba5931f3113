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

// Package persistence checkpoints the state of a running pipeline and
// restores it after a restart.
//
// A checkpoint is a set of blobs, one per node and worker, plus a manifest
// naming the blobs, their checksums and the source offsets reflected in the
// state. The manifest is written last: a checkpoint without a manifest was
// never committed and is ignored on restore.
package persistence

import (
	"fmt"
	"time"
)

// BlobKey addresses the state of one node on one worker in one checkpoint.
type BlobKey struct {
	Pipeline   string `json:"pipeline"`
	Checkpoint string `json:"checkpoint"`
	Operator   string `json:"operator"`
	Worker     int    `json:"worker"`
	// Time is the epoch the checkpoint was taken at.
	Time uint64 `json:"time"`
}

func (k BlobKey) String() string {
	return fmt.Sprintf("%s/%d-%s/%s/%d", k.Pipeline, k.Time, k.Checkpoint, k.Operator, k.Worker)
}

// Manifest commits a checkpoint.
type Manifest struct {
	Pipeline string `json:"pipeline"`
	ID       string `json:"id"`
	// Time is the epoch every source had reached. All state before it is
	// reflected in the blobs.
	Time    uint64           `json:"time"`
	Offsets map[string]int64 `json:"offsets"`
	// Finalized is, per source, the last offset whose output every sink
	// had committed.
	Finalized map[string]int64 `json:"finalized,omitempty"`
	Blobs     []BlobKey        `json:"blobs"`
	// Checksums holds the CRC32 of every blob, indexed like Blobs.
	Checksums []uint32  `json:"checksums"`
	Created   time.Time `json:"created"`
}

// Blob is the serialised state of one node on one worker.
type Blob struct {
	Operator string
	Worker   int
	Data     []byte
}
