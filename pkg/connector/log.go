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

package connector

import (
	"context"

	"go.uber.org/zap"

	"github.com/numaproj/deltaflow/pkg/collection"
)

// LogSink prints finalised deltas to a logger.
type LogSink struct {
	name string
	log  *zap.SugaredLogger
}

var _ Sink = (*LogSink)(nil)

func NewLogSink(name string, log *zap.SugaredLogger) *LogSink {
	return &LogSink{name: name, log: log.With("sink", name)}
}

func (s *LogSink) Name() string { return s.name }

func (s *LogSink) Write(_ context.Context, t collection.Time, batch collection.Batch) error {
	for _, d := range batch {
		s.log.Infow("Delta", zap.Stringer("row", d.Row), zap.Int64("diff", d.Diff), zap.Stringer("time", t))
	}
	return nil
}

func (s *LogSink) Commit(_ context.Context, t collection.Time) error {
	s.log.Debugw("Committed", zap.Stringer("time", t))
	return nil
}

func (s *LogSink) Close() error {
	_ = s.log.Sync()
	return nil
}
