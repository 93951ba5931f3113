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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelPipeline = "pipeline"
	LabelNode     = "node"
	LabelWorker   = "worker"
	LabelKind     = "kind"
	LabelSource   = "source"
	LabelSink     = "sink"
	LabelReason   = "reason"
)

// Operator metrics
var (
	// DeltasIn is the number of deltas handed to an operator.
	DeltasIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "operator",
		Name:      "deltas_in_total",
		Help:      "Total number of deltas stepped into an operator",
	}, []string{LabelPipeline, LabelNode, LabelKind, LabelWorker})

	// DeltasOut is the number of deltas emitted by an operator.
	DeltasOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "operator",
		Name:      "deltas_out_total",
		Help:      "Total number of deltas emitted by an operator",
	}, []string{LabelPipeline, LabelNode, LabelKind, LabelWorker})

	// LateDropped counts deltas dropped because their time or window was already closed.
	LateDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "operator",
		Name:      "late_dropped_total",
		Help:      "Total number of late deltas dropped",
	}, []string{LabelPipeline, LabelNode, LabelReason})

	// RowErrors counts rows skipped because of a row level error.
	RowErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "operator",
		Name:      "row_errors_total",
		Help:      "Total number of rows skipped because of row level errors",
	}, []string{LabelPipeline, LabelNode, LabelReason})

	// Evicted counts arrangement entries dropped once they could no longer match.
	Evicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "operator",
		Name:      "evicted_total",
		Help:      "Total number of state entries evicted after the frontier passed them",
	}, []string{LabelPipeline, LabelNode})
)

// Scheduler and executor metrics
var (
	Rounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "executor",
		Name:      "rounds_total",
		Help:      "Total number of scheduling rounds",
	}, []string{LabelPipeline})

	// FrontierEpoch is the least open epoch at the input of a node, -1 once closed for good.
	FrontierEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "executor",
		Name:      "frontier_epoch",
		Help:      "Least open epoch of the input frontier of a node",
	}, []string{LabelPipeline, LabelNode})

	ExchangeRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "exchange",
		Name:      "retries_total",
		Help:      "Total number of retried partition exchange sends",
	}, []string{LabelPipeline, LabelWorker})

	ExchangeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "exchange",
		Name:      "failures_total",
		Help:      "Total number of partition exchange sends that ran out of retries",
	}, []string{LabelPipeline, LabelWorker})
)

// Connector metrics
var (
	IngestQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "ingest",
		Name:      "queue_depth",
		Help:      "Number of batches waiting in the ingestion queue",
	}, []string{LabelPipeline})

	IngestPaused = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "ingest",
		Name:      "paused",
		Help:      "1 while ingestion is paused by backpressure",
	}, []string{LabelPipeline})

	SourceRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "ingest",
		Name:      "rejected_batches_total",
		Help:      "Total number of source batches rejected by validation",
	}, []string{LabelPipeline, LabelSource, LabelReason})

	SinkWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "sink",
		Name:      "deltas_total",
		Help:      "Total number of finalised deltas written to a sink",
	}, []string{LabelPipeline, LabelSink})
)

// Checkpoint metrics
var (
	CheckpointDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: "checkpoint",
		Name:      "duration_seconds",
		Help:      "Time taken to write a checkpoint",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{LabelPipeline})

	CheckpointBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "checkpoint",
		Name:      "bytes_total",
		Help:      "Total number of bytes written by checkpoints",
	}, []string{LabelPipeline})

	CheckpointErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "checkpoint",
		Name:      "errors_total",
		Help:      "Total number of failed checkpoint operations",
	}, []string{LabelPipeline, LabelKind})
)
