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

package executor

import (
	"context"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/exchange"
	"github.com/numaproj/deltaflow/pkg/graph"
	"github.com/numaproj/deltaflow/pkg/shuffle"
)

// router is the graph.Exchanger of one worker. It keeps the deltas whose
// keys the worker owns and mails the rest to their owners.
type router struct {
	worker      int
	graph       *graph.Graph
	partitioner *shuffle.Partitioner
	transport   exchange.Transport
	backoff     wait.Backoff
	log         *zap.SugaredLogger
}

var _ graph.Exchanger = (*router)(nil)

func (r *router) Exchange(ctx context.Context, to graph.NodeID, port int, batch collection.Batch) (collection.Batch, error) {
	parts := r.partitioner.Shuffle(batch, r.graph.Node(to).Keys[port])
	for w, part := range parts {
		if w == r.worker || len(part) == 0 {
			continue
		}
		m := exchange.Message{From: r.worker, To: w, Node: int(to), Port: port, Batch: part}
		if err := exchange.SendWithRetry(ctx, r.transport, m, r.backoff, r.graph.Name, r.log); err != nil {
			return nil, err
		}
	}
	return parts[r.worker], nil
}
