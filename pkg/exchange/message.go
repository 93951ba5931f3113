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
	"fmt"

	"github.com/numaproj/deltaflow/pkg/collection"
)

// Message carries deltas for an input port of a node on another worker.
type Message struct {
	From  int
	To    int
	Node  int
	Port  int
	Batch collection.Batch
}

func (m Message) String() string {
	return fmt.Sprintf("%d->%d node=%d port=%d deltas=%d", m.From, m.To, m.Node, m.Port, len(m.Batch))
}
