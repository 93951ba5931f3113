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

package frontier

import (
	"errors"
	"fmt"

	"github.com/numaproj/deltaflow/pkg/collection"
)

// LateDataError is returned when a delta arrives for a time the frontier has
// already closed.
type LateDataError struct {
	Node     string
	Time     collection.Time
	Frontier Antichain
}

func (e *LateDataError) Error() string {
	return fmt.Sprintf("late data at node %q: time %s is closed by frontier %s", e.Node, e.Time, e.Frontier)
}

// IsLateData reports whether err is or wraps a LateDataError.
func IsLateData(err error) bool {
	var lde *LateDataError
	return errors.As(err, &lde)
}

// RegressionError is returned when a frontier would move backwards.
type RegressionError struct {
	Node string
	From Antichain
	To   Antichain
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("frontier of node %q cannot move from %s back to %s", e.Node, e.From, e.To)
}
