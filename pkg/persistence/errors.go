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
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores for missing blobs.
	ErrNotFound = errors.New("not found")
	// ErrChecksumMismatch is returned when stored data does not match its checksum.
	ErrChecksumMismatch = errors.New("data checksum not match")
)

// RecoveryFailure is returned when the latest checkpoint cannot be restored.
// The pipeline cannot resume from it.
type RecoveryFailure struct {
	Pipeline   string
	Checkpoint string
	Cause      error
}

func (e *RecoveryFailure) Error() string {
	return fmt.Sprintf("failed to recover pipeline %q from checkpoint %q: %v", e.Pipeline, e.Checkpoint, e.Cause)
}

func (e *RecoveryFailure) Unwrap() error { return e.Cause }

func IsRecoveryFailure(err error) bool {
	var rf *RecoveryFailure
	return errors.As(err, &rf)
}
