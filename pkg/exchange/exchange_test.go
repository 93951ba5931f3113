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

package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/numaproj/deltaflow/pkg/collection"
	"github.com/numaproj/deltaflow/pkg/collection/testutils"
	"github.com/numaproj/deltaflow/pkg/shared/logging"
)

var testBackoff = wait.Backoff{Duration: time.Millisecond, Steps: 3, Factor: 1}

func message(from, to int, v int64) Message {
	return Message{
		From:  from,
		To:    to,
		Node:  2,
		Port:  1,
		Batch: collection.Batch{testutils.Insert(testutils.R(v), 1)},
	}
}

func TestLocalTransport(t *testing.T) {
	ctx := context.Background()
	tr := NewLocalTransport(2)
	require.NoError(t, tr.Send(ctx, message(0, 1, 1)))
	require.NoError(t, tr.Send(ctx, message(0, 1, 2)))
	assert.Equal(t, 2, tr.Queued(1))
	assert.Empty(t, tr.Drain(0))

	got := tr.Drain(1)
	require.Len(t, got, 2)
	assert.Equal(t, "[1]", got[0].Batch[0].Row.String())
	assert.Equal(t, "[2]", got[1].Batch[0].Row.String())
	assert.Empty(t, tr.Drain(1))

	assert.Error(t, tr.Send(ctx, message(0, 5, 1)))
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(ctx, message(0, 1, 3)), ErrMailboxClosed)
}

func TestSendWithRetry(t *testing.T) {
	ctx := context.Background()
	log := logging.NewLogger()

	t.Run("recovers", func(t *testing.T) {
		tr := &FaultyTransport{Transport: NewLocalTransport(2), FailFirst: 2}
		require.NoError(t, SendWithRetry(ctx, tr, message(0, 1, 1), testBackoff, "p", log))
		assert.Equal(t, int64(3), tr.Sends())
		assert.Len(t, tr.Drain(1), 1)
	})

	t.Run("exhausted", func(t *testing.T) {
		tr := &FaultyTransport{Transport: NewLocalTransport(2), FailAlways: true}
		err := SendWithRetry(ctx, tr, message(0, 1, 1), testBackoff, "p", log)
		require.Error(t, err)
		assert.True(t, IsPartitionExchangeFailure(err))
		var failure PartitionExchangeFailure
		require.True(t, errors.As(err, &failure))
		assert.Equal(t, 0, failure.From)
		assert.Equal(t, 1, failure.To)
		assert.Equal(t, 3, failure.Attempts)
		assert.ErrorIs(t, err, ErrInjected)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		tr := &FaultyTransport{Transport: NewLocalTransport(2), FailAlways: true}
		err := SendWithRetry(cctx, tr, message(0, 1, 1), testBackoff, "p", log)
		assert.True(t, IsPartitionExchangeFailure(err))
	})
}
