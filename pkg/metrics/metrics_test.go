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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLabels(t *testing.T) {
	LateDropped.WithLabelValues("p", "window", "bucket_final").Inc()
	LateDropped.WithLabelValues("p", "window", "bucket_final").Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(LateDropped.WithLabelValues("p", "window", "bucket_final")))

	FrontierEpoch.WithLabelValues("p", "reduce").Set(12)
	assert.Equal(t, float64(12), testutil.ToFloat64(FrontierEpoch.WithLabelValues("p", "reduce")))
}
