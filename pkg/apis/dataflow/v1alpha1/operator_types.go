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

// ColumnSpec declares one output column of a Map node.
type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// +optional
	Nullable bool `json:"nullable,omitempty"`
	// Expression computes the column from the input fields.
	// +optional
	Expression string `json:"expression,omitempty"`
}

// MapSpec transforms every row. Either Function names a registered Go
// function or every column carries an Expression.
type MapSpec struct {
	Columns []ColumnSpec `json:"columns"`
	// +optional
	Function string `json:"function,omitempty"`
}

// FilterSpec keeps rows matching Expression or the registered Function.
type FilterSpec struct {
	// +optional
	Expression string `json:"expression,omitempty"`
	// +optional
	Function string `json:"function,omitempty"`
}

// FlatMapSpec expands every row with a registered Go function.
type FlatMapSpec struct {
	Columns  []ColumnSpec `json:"columns"`
	Function string       `json:"function"`
}

// DelaySpec advances the time of every delta by Epochs.
type DelaySpec struct {
	Epochs uint64 `json:"epochs"`
}

// AggregateSpec is one aggregate column of a Reduce or Window node.
type AggregateSpec struct {
	Name string `json:"name"`
	// Function is count, sum, avg, min, max, median or the name of a registered reducer.
	Function string `json:"function"`
	// Field is the input column. Not used by count.
	// +optional
	Field string `json:"field,omitempty"`
}

type ReduceSpec struct {
	Keys       []string        `json:"keys"`
	Aggregates []AggregateSpec `json:"aggregates"`
}

type JoinType string

const (
	JoinTypeInner     JoinType = "Inner"
	JoinTypeLeftOuter JoinType = "LeftOuter"
)

// JoinSpec is an equi-join; port 0 is the left input, port 1 the right one.
type JoinSpec struct {
	// +optional
	Type      JoinType `json:"type,omitempty"`
	LeftKeys  []string `json:"leftKeys"`
	RightKeys []string `json:"rightKeys"`
}

func (j JoinSpec) GetType() JoinType {
	if j.Type == "" {
		return JoinTypeInner
	}
	return j.Type
}

// IntervalJoinSpec matches rows when left.t + Lower <= right.t <= left.t + Upper.
type IntervalJoinSpec struct {
	LeftKeys  []string `json:"leftKeys"`
	RightKeys []string `json:"rightKeys"`
	LeftTime  string   `json:"leftTime"`
	RightTime string   `json:"rightTime"`
	Lower     int64    `json:"lower"`
	Upper     int64    `json:"upper"`
	// Lateness is how far behind the frontier epoch a row time may be.
	// +optional
	Lateness int64 `json:"lateness,omitempty"`
}

// WindowJoinSpec matches rows that fall into the same window bucket.
type WindowJoinSpec struct {
	LeftKeys  []string         `json:"leftKeys"`
	RightKeys []string         `json:"rightKeys"`
	LeftTime  string           `json:"leftTime"`
	RightTime string           `json:"rightTime"`
	Window    WindowAssignSpec `json:"window"`
	// +optional
	Lateness int64 `json:"lateness,omitempty"`
}

type TieBreak string

const (
	TieBreakGreatestRow TieBreak = "GreatestRow"
	TieBreakLeastRow    TieBreak = "LeastRow"
	// TieBreakGreatestSeq picks the candidate with the greatest SeqField.
	TieBreakGreatestSeq TieBreak = "GreatestSeq"
)

// AsofJoinSpec matches every left row with the right row of the same key
// holding the greatest time not after the left row's time.
type AsofJoinSpec struct {
	LeftKeys  []string `json:"leftKeys"`
	RightKeys []string `json:"rightKeys"`
	LeftTime  string   `json:"leftTime"`
	RightTime string   `json:"rightTime"`
	// +optional
	TieBreak TieBreak `json:"tieBreak,omitempty"`
	// SeqField is the right column used by TieBreakGreatestSeq.
	// +optional
	SeqField string `json:"seqField,omitempty"`
	// Lateness bounds the join state: rows whose time lies further behind
	// the frontier epoch are dropped, and superseded right rows are evicted.
	// Unset keeps every right row.
	// +optional
	Lateness *int64 `json:"lateness,omitempty"`
}

func (a AsofJoinSpec) GetTieBreak() TieBreak {
	if a.TieBreak == "" {
		return TieBreakGreatestRow
	}
	return a.TieBreak
}

type WindowType string

const (
	WindowTypeFixed   WindowType = "Fixed"
	WindowTypeSliding WindowType = "Sliding"
	WindowTypeSession WindowType = "Session"
)

// WindowAssignSpec selects the window assigner.
type WindowAssignSpec struct {
	Type WindowType `json:"type"`
	// +optional
	Length int64 `json:"length,omitempty"`
	// +optional
	Slide int64 `json:"slide,omitempty"`
	// +optional
	Gap int64 `json:"gap,omitempty"`
}

type WindowLatePolicy string

const (
	WindowLatePolicyDrop   WindowLatePolicy = "Drop"
	WindowLatePolicyReopen WindowLatePolicy = "Reopen"
)

// LatenessSpec has no defaults; Policy must always be set.
type LatenessSpec struct {
	// +optional
	Allowed int64            `json:"allowed,omitempty"`
	Policy  WindowLatePolicy `json:"policy"`
	// +optional
	Grace int64 `json:"grace,omitempty"`
}

// WindowSpec aggregates rows per key and window bucket.
type WindowSpec struct {
	WindowAssignSpec `json:",inline"`
	Keys             []string        `json:"keys"`
	TimeField        string          `json:"timeField"`
	Aggregates       []AggregateSpec `json:"aggregates"`
	Lateness         *LatenessSpec   `json:"lateness"`
}
