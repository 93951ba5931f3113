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

package exchange

import (
	"errors"
	"fmt"
)

// PartitionExchangeFailure is returned when a message could not be
// delivered within the retry budget. The pipeline cannot continue.
type PartitionExchangeFailure struct {
	From     int
	To       int
	Attempts int
	Cause    error
}

func (e PartitionExchangeFailure) Error() string {
	return fmt.Sprintf("failed to exchange deltas from worker %d to worker %d after %d attempts: %v", e.From, e.To, e.Attempts, e.Cause)
}

func (e PartitionExchangeFailure) Unwrap() error { return e.Cause }

func IsPartitionExchangeFailure(err error) bool {
	var e PartitionExchangeFailure
	return errors.As(err, &e)
}

// ErrMailboxClosed is returned by sends to a closed transport.
var ErrMailboxClosed = errors.New("mailbox is closed")
