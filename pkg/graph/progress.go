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
	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/frontier"
)

// Frontiers computes the input frontier of every node, indexed by NodeID.
//
// sources holds the frontier of every Input node; an Input missing from the
// map is finished. pending holds the least times still queued at every
// port, over all workers. The frontier of a node is the meet of the pending
// times at its ports and the output frontiers of its upstream nodes, where
// a Delay node shifts its frontier by its delay. The result is the greatest
// solution of these equations, found by relaxation from the empty antichain.
func (g *Graph) Frontiers(sources map[NodeID]frontier.Antichain, pending map[frontier.Location]frontier.Antichain) []frontier.Antichain {
	f := make([]frontier.Antichain, len(g.Nodes))
	for changed := true; changed; {
		changed = false
		for _, id := range g.Order {
			n := g.Nodes[id]
			var next frontier.Antichain
			if n.Kind == dfv1.NodeKindInput {
				next = sources[id].Meet(pending[frontier.Location{Node: int(id), Port: 0}])
			}
			for _, ei := range n.In {
				e := g.Edges[ei]
				up := g.Nodes[e.From]
				next = next.Meet(f[up.ID].Advance(up.Delay))
				next = next.Meet(pending[frontier.Location{Node: int(id), Port: e.Port}])
			}
			if !next.Equal(f[id]) {
				f[id] = next
				changed = true
			}
		}
	}
	return f
}
