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
	"strconv"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/numaproj/deltaflow/pkg/metrics"
)

// SendWithRetry sends m, retrying failed sends with backoff. Once the
// backoff steps are used up it returns a PartitionExchangeFailure.
func SendWithRetry(ctx context.Context, t Transport, m Message, backoff wait.Backoff, pipeline string, log *zap.SugaredLogger) error {
	var (
		attempts int
		lastErr  error
	)
	worker := strconv.Itoa(m.From)
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempts++
		if lastErr = t.Send(ctx, m); lastErr != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			metrics.ExchangeRetries.WithLabelValues(pipeline, worker).Inc()
			log.Warnw("Failed to send deltas, retrying", zap.Stringer("message", m), zap.Int("attempt", attempts), zap.Error(lastErr))
			return false, nil
		}
		return true, nil
	})
	if err == nil {
		return nil
	}
	if lastErr == nil || ctx.Err() != nil {
		lastErr = err
	}
	metrics.ExchangeFailures.WithLabelValues(pipeline, worker).Inc()
	return PartitionExchangeFailure{From: m.From, To: m.To, Attempts: attempts, Cause: lastErr}
}
