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

package engine

import (
	"context"
	"errors"

	"github.com/numaproj/deltaflow/pkg/collection"
)

// ErrStarted is returned when starting a pipeline twice.
var ErrStarted = errors.New("pipeline already started")

// IsFatal reports whether err must stop the pipeline. Schema mismatches
// reject a single source batch; late data under the strict policy, recovery
// failures, exchange failures and graph errors are fatal like any other
// unexpected error.
func IsFatal(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !collection.IsSchemaMismatch(err)
}
