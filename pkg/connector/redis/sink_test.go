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

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/collection/testutils"
	"github.com/numaproj/deltaflow/pkg/shared/util"
)

func newTestSink(t *testing.T) *Sink {
	url := os.Getenv(util.EnvTestRedisAddress)
	if url == "" {
		t.Skipf("%s is not set", util.EnvTestRedisAddress)
	}
	s, err := NewSink("test-"+time.Now().Format("150405.000000"), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSink_BadURL(t *testing.T) {
	_, err := NewSink("out", "http://localhost")
	assert.Error(t, err)
}

func TestSink_RewriteIsIdempotent(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()
	r := testutils.R
	t1 := testutils.T(1)

	first := collection.Batch{testutils.Insert(r("a", 1), 1), testutils.Insert(r("b", 1), 1)}
	require.NoError(t, s.Write(ctx, t1, first))
	require.NoError(t, s.Commit(ctx, t1))

	// A restart replays the same time with the same content.
	require.NoError(t, s.Write(ctx, t1, first))
	require.NoError(t, s.Commit(ctx, t1))

	got, err := s.Read(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	n, err := s.Committed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
