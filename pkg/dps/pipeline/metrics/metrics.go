/*
Portions Copyright (c) Microsoft Corporation.

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

// Package metrics exposes prometheus counters and histograms for the
// registration and polling-status stages, the same style the teacher's
// pkg/metrics package registers instance-lifecycle gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const subsystem = "dps_client"

var (
	RegistrationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "registration_attempts_total",
		Help:      "Number of PUT register requests sent, labeled by outcome.",
	}, []string{"outcome"})

	PollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "poll_attempts_total",
		Help:      "Number of GET operation-status requests sent, labeled by outcome.",
	}, []string{"outcome"})

	RetryAfterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "retry_after_wait_seconds",
		Help:      "Distribution of retry-after/polling intervals actually waited between attempts.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	OperationTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "operation_timeouts_total",
		Help:      "Number of Register/PollStatus operations that hit their timeout timer, labeled by operation kind.",
	}, []string{"operation"})
)
