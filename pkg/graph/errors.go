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

package graph

import (
	"errors"
	"fmt"
	"strings"
)

// CycleError reports a cycle of the operator graph that does not pass
// through a Delay node.
type CycleError struct {
	Nodes []string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("cycle without a Delay node through %s", strings.Join(e.Nodes, ", "))
}

func IsCycleError(err error) bool {
	var e CycleError
	return errors.As(err, &e)
}

// SpecError reports a malformed pipeline specification.
type SpecError struct {
	Node    string
	Message string
}

func (e SpecError) Error() string {
	if e.Node == "" {
		return "invalid pipeline spec: " + e.Message
	}
	return fmt.Sprintf("invalid pipeline spec: node %q: %s", e.Node, e.Message)
}

func IsSpecError(err error) bool {
	var e SpecError
	return errors.As(err, &e)
}

func specErrorf(node, format string, args ...interface{}) error {
	return SpecError{Node: node, Message: fmt.Sprintf(format, args...)}
}
