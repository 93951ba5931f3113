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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const testPipeline = `
name: orders
nodes:
  - name: orders
    kind: Input
    schema:
      fields:
        - name: region
          type: string
        - name: amount
          type: int
        - name: ts
          type: int
  - name: per-region
    kind: Window
    window:
      type: Fixed
      length: 10
      keys: [region]
      timeField: ts
      aggregates:
        - name: total
          function: sum
          field: amount
      lateness:
        allowed: 2
        policy: Drop
  - name: out
    kind: Output
edges:
  - from: orders
    to: per-region
  - from: per-region
    to: out
`

func TestParsePipelineSpec(t *testing.T) {
	spec, err := ParsePipelineSpec([]byte(testPipeline))
	require.NoError(t, err)
	assert.Equal(t, "orders", spec.Name)
	assert.Equal(t, []string{"orders"}, spec.Inputs())
	assert.Equal(t, []string{"out"}, spec.Outputs())

	n, ok := spec.GetNode("per-region")
	require.True(t, ok)
	require.NotNil(t, n.Window)
	assert.Equal(t, WindowTypeFixed, n.Window.Type)
	assert.Equal(t, int64(10), n.Window.Length)
	assert.Equal(t, WindowLatePolicyDrop, n.Window.Lateness.Policy)
	assert.Equal(t, LatePolicyStrict, n.GetLatePolicy())

	_, ok = spec.GetNode("missing")
	assert.False(t, ok)
}

func TestParsePipelineSpec_UnknownField(t *testing.T) {
	_, err := ParsePipelineSpec([]byte("name: x\nnodez: []\n"))
	assert.Error(t, err)
}

func TestParsePipelineSpec_Booleans(t *testing.T) {
	const spec = `
name: words
nodes:
  - name: words
    kind: Input
    schema:
      fields:
        - name: word
          type: string
          nullable: true
  - name: counts
    kind: Reduce
    reduce:
      keys: [word]
      aggregates:
        - name: %s
          function: count
`
	_, err := ParsePipelineSpec([]byte(fmt.Sprintf(spec, "n")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".nodes[1].reduce.aggregates[0].name")

	_, err = ParsePipelineSpec([]byte(fmt.Sprintf(spec, "yes")))
	assert.Error(t, err)

	parsed, err := ParsePipelineSpec([]byte(fmt.Sprintf(spec, `"n"`)))
	require.NoError(t, err)
	assert.Equal(t, "n", parsed.Nodes[1].Reduce.Aggregates[0].Name)
	assert.True(t, parsed.Nodes[0].Schema.Fields[0].Nullable)
}

func TestEngineConfig_WithDefaults(t *testing.T) {
	c := EngineConfig{Ingest: IngestConfig{MaxDepth: 8}}.WithDefaults()
	assert.Equal(t, DefaultWorkers, c.Workers)
	assert.Equal(t, 8, c.Ingest.MaxDepth)
	assert.Equal(t, 8, c.Ingest.ResumeDepth)
	assert.Equal(t, DefaultCheckpointInterval, c.Checkpoint.Interval)
	assert.Equal(t, CheckpointStoreFS, c.Checkpoint.Store)
	assert.Equal(t, DefaultIngestPollInterval, c.Ingest.GetPollInterval())
}

func TestExchangeConfig_GetBackoff(t *testing.T) {
	b := ExchangeConfig{}.GetBackoff()
	assert.Equal(t, DefaultExchangeRetrySteps, b.Steps)
	steps := uint32(2)
	b = ExchangeConfig{BackOff: &Backoff{Interval: &metav1.Duration{Duration: time.Second}, Steps: &steps}}.GetBackoff()
	assert.Equal(t, 2, b.Steps)
	assert.Equal(t, time.Second, b.Duration)
	assert.Equal(t, DefaultExchangeRetryFactor, b.Factor)
}

func TestJoinDefaults(t *testing.T) {
	assert.Equal(t, JoinTypeInner, JoinSpec{}.GetType())
	assert.Equal(t, TieBreakGreatestRow, AsofJoinSpec{}.GetTieBreak())
}
