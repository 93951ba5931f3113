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
	"sort"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
)

// sortTopologically marks the feedback edges, rejects cycles that do not go
// through a Delay node and computes Order.
//
// Strongly connected components are found with Tarjan's algorithm. An edge
// leaving a Delay node towards a node of the same component is a feedback
// edge. Without the feedback edges the graph must be acyclic.
func (g *Graph) sortTopologically() error {
	comp := make([]int, len(g.Nodes))
	for ci, scc := range tarjan(len(g.Nodes), g.successors(false)) {
		for _, v := range scc {
			comp[v] = ci
		}
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		if g.Nodes[e.From].Kind == dfv1.NodeKindDelay && comp[e.From] == comp[e.To] {
			e.Feedback = true
		}
	}

	sccs := tarjan(len(g.Nodes), g.successors(true))
	for _, scc := range sccs {
		if len(scc) > 1 || g.selfLoop(scc[0]) {
			names := make([]string, len(scc))
			for i, v := range scc {
				names[i] = g.Nodes[v].Name
			}
			sort.Strings(names)
			return CycleError{Nodes: names}
		}
	}
	// Tarjan emits components in reverse topological order.
	g.Order = make([]NodeID, 0, len(g.Nodes))
	for i := len(sccs) - 1; i >= 0; i-- {
		g.Order = append(g.Order, NodeID(sccs[i][0]))
	}
	return nil
}

func (g *Graph) successors(skipFeedback bool) [][]int {
	succ := make([][]int, len(g.Nodes))
	for _, e := range g.Edges {
		if skipFeedback && e.Feedback {
			continue
		}
		succ[e.From] = append(succ[e.From], int(e.To))
	}
	return succ
}

func (g *Graph) selfLoop(v int) bool {
	for _, ei := range g.Nodes[v].Out {
		e := g.Edges[ei]
		if int(e.To) == v && !e.Feedback {
			return true
		}
	}
	return false
}

// tarjan returns the strongly connected components of the graph given by its
// successor lists.
func tarjan(n int, succ [][]int) [][]int {
	var (
		index   = make([]int, n)
		low     = make([]int, n)
		onStack = make([]bool, n)
		stack   []int
		sccs    [][]int
		next    int
	)
	for i := range index {
		index[i] = -1
	}
	var visit func(v int)
	visit = func(v int) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range succ[v] {
			if index[w] < 0 {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}
		var scc []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		sccs = append(sccs, scc)
	}
	for v := 0; v < n; v++ {
		if index[v] < 0 {
			visit(v)
		}
	}
	return sccs
}
