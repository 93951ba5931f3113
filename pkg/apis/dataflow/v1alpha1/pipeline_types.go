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

package v1alpha1

import (
	"fmt"

	"github.com/goccy/go-json"
	"sigs.k8s.io/yaml"
)

// NodeKind is the closed set of operator kinds a pipeline node can have.
// +enum
type NodeKind string

const (
	NodeKindInput        NodeKind = "Input"
	NodeKindOutput       NodeKind = "Output"
	NodeKindMap          NodeKind = "Map"
	NodeKindFilter       NodeKind = "Filter"
	NodeKindFlatMap      NodeKind = "FlatMap"
	NodeKindConcat       NodeKind = "Concat"
	NodeKindDelay        NodeKind = "Delay"
	NodeKindReduce       NodeKind = "Reduce"
	NodeKindJoin         NodeKind = "Join"
	NodeKindIntervalJoin NodeKind = "IntervalJoin"
	NodeKindWindowJoin   NodeKind = "WindowJoin"
	NodeKindAsofJoin     NodeKind = "AsofJoin"
	NodeKindWindow       NodeKind = "Window"
)

// LatePolicy decides what a node does with deltas whose time is already closed.
type LatePolicy string

const (
	LatePolicyStrict LatePolicy = "Strict"
	LatePolicyDrop   LatePolicy = "Drop"
)

// PipelineSpec is the declarative description of an operator graph.
type PipelineSpec struct {
	Name  string     `json:"name"`
	Nodes []NodeSpec `json:"nodes"`
	Edges []EdgeSpec `json:"edges"`
}

// NodeSpec describes one operator. Exactly the field matching Kind is read.
type NodeSpec struct {
	Name string   `json:"name"`
	Kind NodeKind `json:"kind"`
	// LatePolicy applies to deltas that arrive behind the node's frontier.
	// +optional
	LatePolicy LatePolicy `json:"latePolicy,omitempty"`
	// +optional
	Schema *SchemaSpec `json:"schema,omitempty"`
	// +optional
	Map *MapSpec `json:"map,omitempty"`
	// +optional
	Filter *FilterSpec `json:"filter,omitempty"`
	// +optional
	FlatMap *FlatMapSpec `json:"flatMap,omitempty"`
	// +optional
	Delay *DelaySpec `json:"delay,omitempty"`
	// +optional
	Reduce *ReduceSpec `json:"reduce,omitempty"`
	// +optional
	Join *JoinSpec `json:"join,omitempty"`
	// +optional
	IntervalJoin *IntervalJoinSpec `json:"intervalJoin,omitempty"`
	// +optional
	WindowJoin *WindowJoinSpec `json:"windowJoin,omitempty"`
	// +optional
	AsofJoin *AsofJoinSpec `json:"asofJoin,omitempty"`
	// +optional
	Window *WindowSpec `json:"window,omitempty"`
}

func (n NodeSpec) GetLatePolicy() LatePolicy {
	if n.LatePolicy == "" {
		return LatePolicyStrict
	}
	return n.LatePolicy
}

// EdgeSpec connects the output of From to input port Port of To.
type EdgeSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
	// +optional
	Port int `json:"port,omitempty"`
}

// SchemaSpec lists the fields of the rows entering an Input node.
type SchemaSpec struct {
	Fields []FieldSpec `json:"fields"`
}

type FieldSpec struct {
	Name string `json:"name"`
	// Type is one of bool, int, float, string, bytes, timestamp, pointer, tuple.
	Type string `json:"type"`
	// +optional
	Nullable bool `json:"nullable,omitempty"`
}

// ParsePipelineSpec reads a pipeline spec from YAML or JSON. Unquoted YAML
// 1.1 booleans (y, n, yes, off, ...) are rejected wherever a string is
// expected, since they would silently turn into "true" or "false".
func ParsePipelineSpec(data []byte) (*PipelineSpec, error) {
	raw, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pipeline spec: %w", err)
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline spec: %w", err)
	}
	if err := checkBooleans(tree, ""); err != nil {
		return nil, err
	}
	var spec PipelineSpec
	if err := yaml.UnmarshalStrict(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline spec: %w", err)
	}
	return &spec, nil
}

// booleanFields are the only spec fields holding booleans.
var booleanFields = map[string]bool{"nullable": true}

func checkBooleans(v interface{}, path string) error {
	switch x := v.(type) {
	case map[string]interface{}:
		for k, e := range x {
			if _, ok := e.(bool); ok && booleanFields[k] {
				continue
			}
			if err := checkBooleans(e, path+"."+k); err != nil {
				return err
			}
		}
	case []interface{}:
		for i, e := range x {
			if err := checkBooleans(e, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case bool:
		return fmt.Errorf("failed to parse pipeline spec: %s is the boolean %t, quote it if a string is meant", path, x)
	}
	return nil
}

// GetNode returns the node with the given name.
func (p PipelineSpec) GetNode(name string) (NodeSpec, bool) {
	for _, n := range p.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// Inputs returns the names of the Input nodes in declaration order.
func (p PipelineSpec) Inputs() []string { return p.namesOf(NodeKindInput) }

// Outputs returns the names of the Output nodes in declaration order.
func (p PipelineSpec) Outputs() []string { return p.namesOf(NodeKindOutput) }

func (p PipelineSpec) namesOf(kind NodeKind) []string {
	var out []string
	for _, n := range p.Nodes {
		if n.Kind == kind {
			out = append(out, n.Name)
		}
	}
	return out
}
