/*
Copyright 2022-2024 EscherCloud.

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

package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tickCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcorn_reconciler_ticks_total",
		Help: "Number of reconciliation ticks run.",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "runcorn_reconciler_tick_duration_seconds",
		Help:    "Wall clock duration of a reconciliation tick.",
		Buckets: prometheus.DefBuckets,
	})

	phaseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runcorn_reconciler_errors_total",
		Help: "Errors logged and skipped during reconciliation, by phase.",
	}, []string{"phase"})

	executionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcorn_reconciler_executions_created_total",
		Help: "Executions created by the scheduler.",
	})

	invocationsTerminated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcorn_reconciler_invocations_terminated_total",
		Help: "Invocations moved to TERMINATED.",
	})
)
