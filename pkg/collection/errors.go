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

package collection

import (
	"errors"
	"fmt"
)

// SchemaMismatch is returned when a row does not fit its schema.
type SchemaMismatch struct {
	Schema   string
	Field    string
	Index    int
	Expected Kind
	Got      Kind
	Message  string
}

func (e *SchemaMismatch) Error() string {
	if e.Message != "" {
		if e.Field != "" {
			return fmt.Sprintf("schema mismatch (%s.%s): %s", e.Schema, e.Field, e.Message)
		}
		return fmt.Sprintf("schema mismatch (%s): %s", e.Schema, e.Message)
	}
	return fmt.Sprintf("schema mismatch (%s.%s): field %d expects %s, got %s", e.Schema, e.Field, e.Index, e.Expected, e.Got)
}

// IsSchemaMismatch reports whether err is or wraps a SchemaMismatch.
func IsSchemaMismatch(err error) bool {
	var sm *SchemaMismatch
	return errors.As(err, &sm)
}
