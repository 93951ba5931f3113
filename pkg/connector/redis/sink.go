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

// Package redis writes the finalised output of a pipeline to redis.
//
// Every committed time of a sink becomes one hash mapping the JSON encoding
// of a row to its diff. The committed times are kept in a sorted set scored
// by epoch, so a reader can replay the output in order.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/connector"
	"github.com/numaproj/deltaflow/pkg/shared/logging"
)

const keyPrefix = "deltaflow:sink"

// Sink is idempotent per time: writing a time again replaces what was
// staged for it, and a commit only records the time as complete.
type Sink struct {
	name   string
	client redis.UniversalClient
	log    *zap.SugaredLogger
}

var _ connector.Sink = (*Sink)(nil)

type Option func(*Sink)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Sink) {
		s.log = log
	}
}

// NewSink connects to the server at a redis:// URL.
func NewSink(name, url string, opts ...Option) (*Sink, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewSinkFromClient(name, redis.NewClient(ro), opts...), nil
}

func NewSinkFromClient(name string, client redis.UniversalClient, opts ...Option) *Sink {
	s := &Sink{name: name, client: client}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logging.NewLogger()
	}
	s.log = s.log.With("sink", name)
	return s
}

func (s *Sink) Name() string { return s.name }

func (s *Sink) timeKey(t collection.Time) string {
	return fmt.Sprintf("%s:%s:%d.%d", keyPrefix, s.name, t.Epoch, t.Seq)
}

func (s *Sink) timesKey() string {
	return fmt.Sprintf("%s:%s:times", keyPrefix, s.name)
}

func (s *Sink) Write(ctx context.Context, t collection.Time, batch collection.Batch) error {
	fields := make(map[string]interface{}, len(batch))
	for _, d := range collection.Consolidate(batch) {
		row, err := json.Marshal(d.Row)
		if err != nil {
			return fmt.Errorf("failed to encode row %s: %w", d.Row, err)
		}
		fields[string(row)] = d.Diff
	}
	key := s.timeKey(t)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write time %s: %w", t, err)
	}
	return nil
}

func (s *Sink) Commit(ctx context.Context, t collection.Time) error {
	member := strconv.FormatUint(t.Epoch, 10) + "." + strconv.FormatUint(t.Seq, 10)
	if err := s.client.ZAdd(ctx, s.timesKey(), redis.Z{Score: float64(t.Epoch), Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to commit time %s: %w", t, err)
	}
	s.log.Debugw("Committed time", zap.Stringer("time", t))
	return nil
}

// Read returns the deltas committed at a time.
func (s *Sink) Read(ctx context.Context, t collection.Time) (collection.Batch, error) {
	fields, err := s.client.HGetAll(ctx, s.timeKey(t)).Result()
	if err != nil {
		return nil, err
	}
	out := make(collection.Batch, 0, len(fields))
	for row, diff := range fields {
		d := collection.Delta{Time: t}
		if err := json.Unmarshal([]byte(row), &d.Row); err != nil {
			return nil, fmt.Errorf("failed to decode row %q: %w", row, err)
		}
		if d.Diff, err = strconv.ParseInt(diff, 10, 64); err != nil {
			return nil, fmt.Errorf("bad diff %q for row %q: %w", diff, row, err)
		}
		out = append(out, d)
	}
	return collection.Consolidate(out), nil
}

// Committed returns the number of committed times.
func (s *Sink) Committed(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.timesKey()).Result()
}

func (s *Sink) Close() error {
	return s.client.Close()
}
