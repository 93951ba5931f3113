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

// Package operator implements the incremental operators of a dataflow graph. Every operator consumes
// batches of deltas and emits the deltas of its output, so that the accumulated output always equals the
// operator applied to the accumulated input.
package operator

import (
	"strconv"

	"go.uber.org/zap"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/frontier"
	"github.com/numaproj/deltaflow/pkg/metrics"
)

// Operator is a node of the dataflow graph. Implementations are not safe for
// concurrent use; each worker owns its own instances.
type Operator interface {
	Kind() dfv1.NodeKind
	// Arity is the number of input ports.
	Arity() int
	// Step consumes a batch arriving on port, sorted by time, and returns the
	// resulting output deltas.
	Step(ctx *ExecContext, port int, batch collection.Batch) (collection.Batch, error)
	// Advance tells the operator no delta before f will arrive anymore. The
	// empty frontier means the input has ended.
	Advance(ctx *ExecContext, f frontier.Antichain) (collection.Batch, error)
	// Snapshot serialises the operator state.
	Snapshot() ([]byte, error)
	// Restore replaces the operator state with a snapshot.
	Restore(data []byte) error
}

// ExecContext carries what an operator needs to know about where it runs.
type ExecContext struct {
	Pipeline string
	Node     string
	Worker   int
	Log      *zap.SugaredLogger
}

func (c *ExecContext) worker() string { return strconv.Itoa(c.Worker) }

// DropLate logs and counts deltas dropped for being late.
func (c *ExecContext) DropLate(reason string, dropped collection.Batch) {
	if len(dropped) == 0 {
		return
	}
	metrics.LateDropped.WithLabelValues(c.Pipeline, c.Node, reason).Add(float64(len(dropped)))
	if c.Log != nil {
		c.Log.Warnw("Dropped late deltas", zap.String("node", c.Node), zap.Int("worker", c.Worker),
			zap.String("reason", reason), zap.Int("count", len(dropped)), zap.Stringer("first", dropped[0]))
	}
}

// RowError logs and counts a row that was skipped.
func (c *ExecContext) RowError(reason string, d collection.Delta, err error) {
	metrics.RowErrors.WithLabelValues(c.Pipeline, c.Node, reason).Inc()
	if c.Log != nil {
		c.Log.Warnw("Skipped row", zap.String("node", c.Node), zap.Int("worker", c.Worker),
			zap.String("reason", reason), zap.Stringer("delta", d), zap.Error(err))
	}
}

// Evicted counts state entries dropped after the frontier passed them.
func (c *ExecContext) Evicted(n int) {
	if n > 0 {
		metrics.Evicted.WithLabelValues(c.Pipeline, c.Node).Add(float64(n))
	}
}

// Observe records the deltas flowing through a node.
func (c *ExecContext) Observe(kind dfv1.NodeKind, in, out int) {
	w := c.worker()
	metrics.DeltasIn.WithLabelValues(c.Pipeline, c.Node, string(kind), w).Add(float64(in))
	metrics.DeltasOut.WithLabelValues(c.Pipeline, c.Node, string(kind), w).Add(float64(out))
}
