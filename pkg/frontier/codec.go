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
	"github.com/goccy/go-json"

	"github.com/numaproj/deltaflow/pkg/collection"
)

func marshalTimes(ts []collection.Time) ([]byte, error) {
	if ts == nil {
		ts = []collection.Time{}
	}
	return json.Marshal(ts)
}

func unmarshalTimes(data []byte) ([]collection.Time, error) {
	var ts []collection.Time
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, err
	}
	return ts, nil
}
