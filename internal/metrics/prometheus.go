/*
Copyright (c) 2025 Odd Kin <oddkin@oddkin.co>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// PrometheusRecorder implements MetricsRecorder using Prometheus metrics
type PrometheusRecorder struct {
	eventTotal                  *prometheus.CounterVec
	eventDuration               *prometheus.HistogramVec
	repositoryOperationTotal    *prometheus.CounterVec
	repositoryOperationDuration *prometheus.HistogramVec
	featureOperationTotal       *prometheus.CounterVec
	conflictWaitTotal           *prometheus.CounterVec
	conflictWaitDuration        prometheus.Histogram
	reconciliationTotal         *prometheus.CounterVec
	reconciliationDuration      *prometheus.HistogramVec
	activeTasks                 *prometheus.GaugeVec
}

// NewPrometheusRecorder creates a new PrometheusRecorder and registers its metrics
// with registerer, or with the controller-runtime metrics registry when nil
func NewPrometheusRecorder(registerer prometheus.Registerer) *PrometheusRecorder {
	recorder := newPrometheusRecorder()

	if registerer == nil {
		registerer = metrics.Registry
	}
	registerer.MustRegister(recorder.collectors()...)

	return recorder
}

func newPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		eventTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "featuredeployer_event_total",
				Help: "Total number of lifecycle events processed",
			},
			[]string{"event", "outcome"},
		),
		eventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "featuredeployer_event_duration_seconds",
				Help:    "Duration of lifecycle event processing in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"event", "outcome"},
		),
		repositoryOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "featuredeployer_repository_operation_total",
				Help: "Total number of repository add and remove calls",
			},
			[]string{"operation", "success"},
		),
		repositoryOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "featuredeployer_repository_operation_duration_seconds",
				Help:    "Duration of repository add and remove calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "success"},
		),
		featureOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "featuredeployer_feature_operation_total",
				Help: "Total number of feature install and uninstall requests",
			},
			[]string{"operation", "success"},
		),
		conflictWaitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "featuredeployer_conflict_wait_total",
				Help: "Total number of activations that waited for a repository name to become free",
			},
			[]string{"timed_out"},
		),
		conflictWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "featuredeployer_conflict_wait_duration_seconds",
				Help:    "Time activations spent waiting for a repository name to become free",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		reconciliationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "featuredeployer_reconciliation_total",
				Help: "Total number of artifact object reconciliations performed",
			},
			[]string{"namespace", "name", "success"},
		),
		reconciliationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "featuredeployer_reconciliation_duration_seconds",
				Help:    "Duration of artifact object reconciliations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"namespace", "name", "success"},
		),
		activeTasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "featuredeployer_active_tasks",
				Help: "Number of lifecycle event tasks currently in flight",
			},
			[]string{"event"},
		),
	}
}

func (r *PrometheusRecorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.eventTotal,
		r.eventDuration,
		r.repositoryOperationTotal,
		r.repositoryOperationDuration,
		r.featureOperationTotal,
		r.conflictWaitTotal,
		r.conflictWaitDuration,
		r.reconciliationTotal,
		r.reconciliationDuration,
		r.activeTasks,
	}
}

// RecordEvent records a processed lifecycle event with its outcome
func (r *PrometheusRecorder) RecordEvent(eventType, outcome string, duration time.Duration) {
	r.eventTotal.WithLabelValues(eventType, outcome).Inc()
	r.eventDuration.WithLabelValues(eventType, outcome).Observe(duration.Seconds())
}

// RecordRepositoryOperation records a registry add or remove call
func (r *PrometheusRecorder) RecordRepositoryOperation(operation string, success bool, duration time.Duration) {
	successLabel := boolLabel(success)

	r.repositoryOperationTotal.WithLabelValues(operation, successLabel).Inc()
	r.repositoryOperationDuration.WithLabelValues(operation, successLabel).Observe(duration.Seconds())
}

// RecordFeatureOperation records a feature install or uninstall request
func (r *PrometheusRecorder) RecordFeatureOperation(operation string, success bool) {
	r.featureOperationTotal.WithLabelValues(operation, boolLabel(success)).Inc()
}

// RecordConflictWait records time spent waiting for a repository name to become free
func (r *PrometheusRecorder) RecordConflictWait(timedOut bool, duration time.Duration) {
	r.conflictWaitTotal.WithLabelValues(boolLabel(timedOut)).Inc()
	r.conflictWaitDuration.Observe(duration.Seconds())
}

// RecordReconciliation records a reconciliation of a Kubernetes artifact object
func (r *PrometheusRecorder) RecordReconciliation(namespace, name string, success bool, duration time.Duration) {
	successLabel := boolLabel(success)

	r.reconciliationTotal.WithLabelValues(namespace, name, successLabel).Inc()
	r.reconciliationDuration.WithLabelValues(namespace, name, successLabel).Observe(duration.Seconds())
}

// IncActiveTasks increments the count of in-flight event tasks
func (r *PrometheusRecorder) IncActiveTasks(eventType string) {
	r.activeTasks.WithLabelValues(eventType).Inc()
}

// DecActiveTasks decrements the count of in-flight event tasks
func (r *PrometheusRecorder) DecActiveTasks(eventType string) {
	r.activeTasks.WithLabelValues(eventType).Dec()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
