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

// Package graph turns a declarative pipeline spec into a verified operator
// graph and schedules the operators of one worker over it.
package graph

import (
	"fmt"
	"sort"
	"strings"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/frontier"
	"github.com/numaproj/deltaflow/pkg/operator"
	"github.com/numaproj/deltaflow/pkg/shared/expr"
)

// NodeID addresses a node in the arena of a Graph.
type NodeID int

// Edge connects the output of From to input port Port of To.
type Edge struct {
	From NodeID
	To   NodeID
	Port int
	// Feedback edges leave a Delay node and close a cycle.
	Feedback bool
}

// Node is one operator of the graph with everything derived from its spec.
type Node struct {
	ID   NodeID
	Name string
	Kind dfv1.NodeKind
	Late frontier.Policy
	// Schema is the schema of the rows the node emits.
	Schema collection.Schema
	// Ports holds the schema of every input port.
	Ports []collection.Schema
	// Keys holds the key columns of every input port. A nil entry means rows
	// may be processed on any worker.
	Keys []collection.KeyColumns
	// Delay is the number of epochs the node adds to the times it forwards.
	Delay uint64
	// In and Out are indexes into Graph.Edges.
	In  []int
	Out []int

	newOperator func() (operator.Operator, error)
}

// Keyed reports whether rows entering port must be routed by key.
func (n *Node) Keyed(port int) bool { return port < len(n.Keys) && n.Keys[port] != nil }

// Graph is the verified operator graph of a pipeline. It is immutable once
// built and shared by every worker.
type Graph struct {
	Name  string
	Nodes []*Node
	Edges []Edge
	// Order lists the nodes in topological order of the graph without its
	// feedback edges.
	Order []NodeID

	index map[string]NodeID
}

// Lookup returns the id of the named node.
func (g *Graph) Lookup(name string) (NodeID, bool) {
	id, ok := g.index[name]
	return id, ok
}

func (g *Graph) Node(id NodeID) *Node { return g.Nodes[id] }

// Inputs returns the Input nodes in declaration order.
func (g *Graph) Inputs() []NodeID { return g.ofKind(dfv1.NodeKindInput) }

// Outputs returns the Output nodes in declaration order.
func (g *Graph) Outputs() []NodeID { return g.ofKind(dfv1.NodeKindOutput) }

func (g *Graph) ofKind(kind dfv1.NodeKind) []NodeID {
	var out []NodeID
	for _, n := range g.Nodes {
		if n.Kind == kind {
			out = append(out, n.ID)
		}
	}
	return out
}

// NewOperators creates a fresh operator instance for every node, indexed by
// NodeID. Every worker owns its own set.
func (g *Graph) NewOperators() ([]operator.Operator, error) {
	ops := make([]operator.Operator, len(g.Nodes))
	for _, n := range g.Nodes {
		op, err := n.newOperator()
		if err != nil {
			return nil, fmt.Errorf("failed to create operator %q: %w", n.Name, err)
		}
		ops[n.ID] = op
	}
	return ops, nil
}

// Plan renders the nodes in topological order with their inputs and schemas.
func (g *Graph) Plan() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pipeline %s: %d nodes, %d edges\n", g.Name, len(g.Nodes), len(g.Edges))
	for _, id := range g.Order {
		n := g.Nodes[id]
		var from []string
		for _, ei := range n.In {
			e := g.Edges[ei]
			s := fmt.Sprintf("%s:%d", g.Nodes[e.From].Name, e.Port)
			if e.Feedback {
				s += " (feedback)"
			}
			from = append(from, s)
		}
		fields := make([]string, len(n.Schema.Fields))
		for i, f := range n.Schema.Fields {
			fields[i] = f.Name + " " + f.Kind.String()
			if f.Nullable {
				fields[i] += "?"
			}
		}
		fmt.Fprintf(&sb, "  %-3d %-16s %-12s", n.ID, n.Name, n.Kind)
		if len(from) > 0 {
			fmt.Fprintf(&sb, " <- %s", strings.Join(from, ", "))
		}
		fmt.Fprintf(&sb, " (%s)\n", strings.Join(fields, ", "))
	}
	return sb.String()
}

// Build verifies a pipeline spec and derives the operator graph. reg
// resolves named functions and reducers; compiler compiles expressions.
// Either may be nil.
func Build(spec dfv1.PipelineSpec, reg *operator.Registry, compiler *expr.Compiler) (*Graph, error) {
	if reg == nil {
		reg = operator.NewRegistry()
	}
	if compiler == nil {
		compiler = expr.MustNewCompiler(expr.DefaultCacheSize)
	}
	if spec.Name == "" {
		return nil, specErrorf("", "pipeline name is required")
	}
	g := &Graph{Name: spec.Name, index: make(map[string]NodeID, len(spec.Nodes))}
	for i, ns := range spec.Nodes {
		if ns.Name == "" {
			return nil, specErrorf("", "node %d has no name", i)
		}
		if _, ok := g.index[ns.Name]; ok {
			return nil, specErrorf(ns.Name, "duplicate node name")
		}
		late, err := latePolicyOf(ns)
		if err != nil {
			return nil, err
		}
		id := NodeID(i)
		g.index[ns.Name] = id
		g.Nodes = append(g.Nodes, &Node{ID: id, Name: ns.Name, Kind: ns.Kind, Late: late})
	}
	if len(g.Inputs()) == 0 {
		return nil, specErrorf("", "at least one Input node is required")
	}
	if len(g.Outputs()) == 0 {
		return nil, specErrorf("", "at least one Output node is required")
	}
	if err := g.connect(spec.Edges); err != nil {
		return nil, err
	}
	if err := g.checkPorts(); err != nil {
		return nil, err
	}
	if err := g.sortTopologically(); err != nil {
		return nil, err
	}
	b := &builder{reg: reg, compiler: compiler}
	for _, id := range g.Order {
		n := g.Nodes[id]
		ns := spec.Nodes[id]
		if err := g.resolvePorts(n); err != nil {
			return nil, err
		}
		if err := b.compile(n, ns); err != nil {
			return nil, err
		}
		// surface construction errors at build time rather than on a worker
		if _, err := n.newOperator(); err != nil {
			return nil, specErrorf(n.Name, "%v", err)
		}
	}
	if err := g.checkFeedback(); err != nil {
		return nil, err
	}
	return g, nil
}

func latePolicyOf(ns dfv1.NodeSpec) (frontier.Policy, error) {
	switch ns.GetLatePolicy() {
	case dfv1.LatePolicyStrict:
		return frontier.Strict, nil
	case dfv1.LatePolicyDrop:
		return frontier.DropAndReport, nil
	}
	return frontier.Strict, specErrorf(ns.Name, "unknown late policy %q", ns.LatePolicy)
}

func (g *Graph) connect(edges []dfv1.EdgeSpec) error {
	for _, es := range edges {
		from, ok := g.index[es.From]
		if !ok {
			return specErrorf("", "edge from unknown node %q", es.From)
		}
		to, ok := g.index[es.To]
		if !ok {
			return specErrorf("", "edge to unknown node %q", es.To)
		}
		if es.Port < 0 {
			return specErrorf(es.To, "negative port %d", es.Port)
		}
		if g.Nodes[to].Kind == dfv1.NodeKindInput {
			return specErrorf(es.To, "an Input node cannot have incoming edges")
		}
		if g.Nodes[from].Kind == dfv1.NodeKindOutput {
			return specErrorf(es.From, "an Output node cannot have outgoing edges")
		}
		ei := len(g.Edges)
		g.Edges = append(g.Edges, Edge{From: from, To: to, Port: es.Port})
		g.Nodes[from].Out = append(g.Nodes[from].Out, ei)
		g.Nodes[to].In = append(g.Nodes[to].In, ei)
	}
	return nil
}

// arity is the number of input ports a node must have connected.
func (g *Graph) arity(n *Node) (int, error) {
	switch n.Kind {
	case dfv1.NodeKindInput:
		return 0, nil
	case dfv1.NodeKindConcat:
		if len(n.In) == 0 {
			return 0, specErrorf(n.Name, "Concat needs at least one input")
		}
		return len(n.In), nil
	case dfv1.NodeKindJoin, dfv1.NodeKindIntervalJoin, dfv1.NodeKindWindowJoin, dfv1.NodeKindAsofJoin:
		return 2, nil
	case dfv1.NodeKindOutput, dfv1.NodeKindMap, dfv1.NodeKindFilter, dfv1.NodeKindFlatMap,
		dfv1.NodeKindDelay, dfv1.NodeKindReduce, dfv1.NodeKindWindow:
		return 1, nil
	}
	return 0, specErrorf(n.Name, "unknown node kind %q", n.Kind)
}

// checkPorts makes sure every port of every node is fed by exactly one edge.
func (g *Graph) checkPorts() error {
	for _, n := range g.Nodes {
		arity, err := g.arity(n)
		if err != nil {
			return err
		}
		seen := make([]bool, arity)
		for _, ei := range n.In {
			p := g.Edges[ei].Port
			if p >= arity {
				return specErrorf(n.Name, "port %d out of range, %s has %d input ports", p, n.Kind, arity)
			}
			if seen[p] {
				return specErrorf(n.Name, "port %d has more than one incoming edge", p)
			}
			seen[p] = true
		}
		for p, ok := range seen {
			if !ok {
				return specErrorf(n.Name, "port %d is not connected", p)
			}
		}
		// keep In ordered by port
		sort.Slice(n.In, func(i, j int) bool { return g.Edges[n.In[i]].Port < g.Edges[n.In[j]].Port })
		n.Ports = make([]collection.Schema, arity)
		n.Keys = make([]collection.KeyColumns, arity)
	}
	return nil
}

// resolvePorts copies the schemas of the upstream nodes onto the ports of n.
// Feedback ports are resolved once the whole graph is known.
func (g *Graph) resolvePorts(n *Node) error {
	for _, ei := range n.In {
		e := g.Edges[ei]
		if e.Feedback {
			if n.Kind != dfv1.NodeKindConcat {
				return specErrorf(n.Name, "a feedback edge from %q must enter a Concat node", g.Nodes[e.From].Name)
			}
			continue
		}
		n.Ports[e.Port] = g.Nodes[e.From].Schema
	}
	return nil
}

// checkFeedback verifies that rows fed back through a Delay fit the port
// they re-enter.
func (g *Graph) checkFeedback() error {
	for _, e := range g.Edges {
		if !e.Feedback {
			continue
		}
		to, from := g.Nodes[e.To], g.Nodes[e.From]
		if !to.Schema.Compatible(from.Schema) {
			return specErrorf(to.Name, "feedback from %q does not match the schema of port %d", from.Name, e.Port)
		}
		to.Ports[e.Port] = from.Schema
	}
	return nil
}
