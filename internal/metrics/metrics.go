// Package metrics exposes Prometheus collectors for the taskstream service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksStartedTotal     *prometheus.CounterVec
	tasksCompletedTotal   *prometheus.CounterVec
	tasksRunning          prometheus.Gauge
	taskRuntimeSeconds    *prometheus.HistogramVec
	streamEventsTotal     *prometheus.CounterVec
	streamsOpen           prometheus.Gauge
	streamWriteFailsTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskstream_tasks_started_total",
				Help: "Total number of background tasks started, labeled by type.",
			},
			[]string{"type"},
		)

		tasksCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskstream_tasks_completed_total",
				Help: "Total number of tasks reaching a terminal state, labeled by type and result.",
			},
			[]string{"type", "result"},
		)

		tasksRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskstream_tasks_running",
				Help: "Number of task drivers currently running.",
			},
		)

		taskRuntimeSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskstream_task_runtime_seconds",
				Help:    "Wall time per completed task, labeled by type and result.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"type", "result"},
		)

		streamEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskstream_stream_events_total",
				Help: "Total events delivered to live streams, labeled by event type.",
			},
			[]string{"event"},
		)

		streamsOpen = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskstream_streams_open",
				Help: "Number of currently open event stream connections.",
			},
		)

		streamWriteFailsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskstream_stream_write_failures_total",
				Help: "Total failed writes to stream channels (consumer gone).",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTaskStarted increments the started counter and running gauge.
func ObserveTaskStarted(taskType string) {
	tasksStartedTotal.WithLabelValues(taskType).Inc()
	tasksRunning.Inc()
}

// ObserveTaskFinished records a terminal task outcome and its runtime.
func ObserveTaskFinished(taskType, result string, runtime time.Duration) {
	tasksCompletedTotal.WithLabelValues(taskType, result).Inc()
	tasksRunning.Dec()
	if runtime > 0 {
		taskRuntimeSeconds.WithLabelValues(taskType, result).Observe(runtime.Seconds())
	}
}

// ObserveStreamEvent counts one delivered event by type.
func ObserveStreamEvent(eventType string) {
	streamEventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveStreamWriteFailure counts a failed channel write.
func ObserveStreamWriteFailure() {
	streamWriteFailsTotal.Inc()
}

// IncStreamsOpen increments the open stream gauge.
func IncStreamsOpen() {
	streamsOpen.Inc()
}

// DecStreamsOpen decrements the open stream gauge.
func DecStreamsOpen() {
	streamsOpen.Dec()
}
