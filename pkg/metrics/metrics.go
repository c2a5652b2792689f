// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// Job labels.
	JobAreaSync      = "area_sync"
	JobLineSync      = "line_sync"
	JobTopBreakdowns = "top_breakdowns"
	JobTransfer      = "bd_transfer"
	JobTagTransfer   = "tag_transfer"
	JobPM            = "pm_sync"
	JobMonitor       = "staleness_monitor"

	// Result labels.
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "umh"
	subsystem = "maintenance_sync"

	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_runs_total",
			Help:      "Total number of job runs by job and result",
		},
		[]string{"job", "result"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_duration_seconds",
			Help:      "Duration of a job run in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"job"},
	)

	rowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rows_written_total",
			Help:      "Total number of rows written to the reporting store by job and table",
		},
		[]string{"job", "table"},
	)

	itemErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "item_errors_total",
			Help:      "Total number of per-item failures (area, line, record) that did not abort a job",
		},
		[]string{"job"},
	)

	retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lock_retries_total",
			Help:      "Total number of retries caused by lock contention",
		},
		[]string{"operation"},
	)

	failoverSwitches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "source_failover_switches_total",
			Help:      "Total number of times the source store endpoint was (re)selected",
		},
	)

	jobStale = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_stale",
			Help:      "1 if the daily job has not completed today, 0 otherwise",
		},
		[]string{"job"},
	)

	availability = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "availability_percent",
			Help:      "Availability of an area or main line in the current window",
		},
		[]string{"kind", "name"},
	)

	lastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful run",
		},
		[]string{"job"},
	)
)

// SetupMetricsEndpoint serves /metrics on addr in the background.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorf("Metrics endpoint failed: %s", err)
		}
	}()

	return server
}

// ObserveJob records the outcome and duration of one job run.
func ObserveJob(job string, started time.Time, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	} else {
		lastSuccess.WithLabelValues(job).Set(float64(time.Now().Unix()))
	}
	jobRuns.WithLabelValues(job, result).Inc()
	jobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

// AddRowsWritten adds n to the written row counter of a table.
func AddRowsWritten(job, table string, n int64) {
	if n <= 0 {
		return
	}
	rowsWritten.WithLabelValues(job, table).Add(float64(n))
}

func IncItemError(job string) {
	itemErrors.WithLabelValues(job).Inc()
}

func IncRetry(operation string) {
	retries.WithLabelValues(operation).Inc()
}

func IncFailoverSwitch() {
	failoverSwitches.Inc()
}

// SetJobStale flags a daily job as stale or fresh.
func SetJobStale(job string, stale bool) {
	v := 0.0
	if stale {
		v = 1
	}
	jobStale.WithLabelValues(job).Set(v)
}

// SetAvailability exports the latest availability of an area or line. A nil
// value (no working time) removes the series.
func SetAvailability(kind, name string, v *float64) {
	if v == nil {
		availability.DeleteLabelValues(kind, name)
		return
	}
	availability.WithLabelValues(kind, name).Set(*v)
}
