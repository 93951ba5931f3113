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

package operator

import (
	"github.com/goccy/go-json"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/frontier"
)

// Output buffers deltas until their time is closed and then releases them
// consolidated, in ascending time order.
type Output struct {
	pending collection.Batch
}

var _ Operator = (*Output)(nil)

func NewOutput() *Output { return &Output{} }

func (*Output) Kind() dfv1.NodeKind { return dfv1.NodeKindOutput }

func (*Output) Arity() int { return 1 }

func (o *Output) Step(_ *ExecContext, _ int, batch collection.Batch) (collection.Batch, error) {
	o.pending = append(o.pending, batch...)
	return nil, nil
}

func (o *Output) Advance(_ *ExecContext, f frontier.Antichain) (collection.Batch, error) {
	var ready, rest collection.Batch
	for _, d := range o.pending {
		if f.Closed(d.Time) {
			ready = append(ready, d)
		} else {
			rest = append(rest, d)
		}
	}
	o.pending = rest
	return collection.Consolidate(ready), nil
}

// Pending returns the number of buffered deltas.
func (o *Output) Pending() int { return len(o.pending) }

func (o *Output) Snapshot() ([]byte, error) {
	return json.Marshal(collection.Consolidate(o.pending))
}

func (o *Output) Restore(data []byte) error {
	var b collection.Batch
	if len(data) > 0 {
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
	}
	o.pending = b
	return nil
}
