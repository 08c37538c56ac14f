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
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestRecorder(t *testing.T) *PrometheusRecorder {
	t.Helper()

	// A fresh registry per test avoids duplicate registration panics
	return NewPrometheusRecorder(prometheus.NewRegistry())
}

func TestPrometheusRecorder_RecordEvent(t *testing.T) {
	recorder := newTestRecorder(t)

	tests := []struct {
		name        string
		eventType   string
		outcome     string
		duration    time.Duration
		wantCounter float64
	}{
		{name: "handled activation", eventType: "Activated", outcome: OutcomeHandled, duration: 100 * time.Millisecond, wantCounter: 1},
		{name: "second handled activation", eventType: "Activated", outcome: OutcomeHandled, duration: time.Second, wantCounter: 2},
		{name: "skipped removal", eventType: "Removed", outcome: OutcomeSkipped, duration: time.Millisecond, wantCounter: 1},
		{name: "superseded activation", eventType: "Activated", outcome: OutcomeSuperseded, duration: time.Millisecond, wantCounter: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder.RecordEvent(tt.eventType, tt.outcome, tt.duration)

			counter := testutil.ToFloat64(recorder.eventTotal.WithLabelValues(tt.eventType, tt.outcome))
			assert.Equal(t, tt.wantCounter, counter)
		})
	}
}

func TestPrometheusRecorder_RecordRepositoryOperation(t *testing.T) {
	recorder := newTestRecorder(t)

	recorder.RecordRepositoryOperation("add", true, 10*time.Millisecond)
	recorder.RecordRepositoryOperation("add", false, 10*time.Millisecond)
	recorder.RecordRepositoryOperation("remove", true, 10*time.Millisecond)
	recorder.RecordRepositoryOperation("remove", true, 10*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.repositoryOperationTotal.WithLabelValues("add", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.repositoryOperationTotal.WithLabelValues("add", "false")))
	assert.Equal(t, float64(2), testutil.ToFloat64(recorder.repositoryOperationTotal.WithLabelValues("remove", "true")))
	assert.Equal(t, 3, testutil.CollectAndCount(recorder.repositoryOperationDuration))
}

func TestPrometheusRecorder_RecordFeatureOperation(t *testing.T) {
	recorder := newTestRecorder(t)

	recorder.RecordFeatureOperation("install", true)
	recorder.RecordFeatureOperation("install", false)
	recorder.RecordFeatureOperation("uninstall", true)

	expected := `
# HELP featuredeployer_feature_operation_total Total number of feature install and uninstall requests
# TYPE featuredeployer_feature_operation_total counter
featuredeployer_feature_operation_total{operation="install",success="false"} 1
featuredeployer_feature_operation_total{operation="install",success="true"} 1
featuredeployer_feature_operation_total{operation="uninstall",success="true"} 1
`
	err := testutil.CollectAndCompare(recorder.featureOperationTotal, strings.NewReader(expected))
	assert.NoError(t, err)
}

func TestPrometheusRecorder_RecordConflictWait(t *testing.T) {
	recorder := newTestRecorder(t)

	recorder.RecordConflictWait(false, 2*time.Second)
	recorder.RecordConflictWait(true, 10*time.Minute)

	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.conflictWaitTotal.WithLabelValues("false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.conflictWaitTotal.WithLabelValues("true")))
	assert.Equal(t, 1, testutil.CollectAndCount(recorder.conflictWaitDuration))
}

func TestPrometheusRecorder_RecordReconciliation(t *testing.T) {
	recorder := newTestRecorder(t)

	recorder.RecordReconciliation("flux-system", "acme-features", true, 100*time.Millisecond)
	recorder.RecordReconciliation("flux-system", "acme-features", false, 200*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.reconciliationTotal.WithLabelValues("flux-system", "acme-features", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.reconciliationTotal.WithLabelValues("flux-system", "acme-features", "false")))
}

func TestPrometheusRecorder_ActiveTasks(t *testing.T) {
	recorder := newTestRecorder(t)

	recorder.IncActiveTasks("Activated")
	recorder.IncActiveTasks("Activated")
	recorder.IncActiveTasks("Removed")
	assert.Equal(t, float64(2), testutil.ToFloat64(recorder.activeTasks.WithLabelValues("Activated")))

	recorder.DecActiveTasks("Activated")
	recorder.DecActiveTasks("Removed")
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.activeTasks.WithLabelValues("Activated")))
	assert.Equal(t, float64(0), testutil.ToFloat64(recorder.activeTasks.WithLabelValues("Removed")))
}

func TestNoopRecorder(t *testing.T) {
	var recorder MetricsRecorder = NoopRecorder{}

	assert.NotPanics(t, func() {
		recorder.RecordEvent("Activated", OutcomeHandled, time.Second)
		recorder.RecordRepositoryOperation("add", true, time.Second)
		recorder.RecordFeatureOperation("install", true)
		recorder.RecordConflictWait(false, time.Second)
		recorder.RecordReconciliation("ns", "name", true, time.Second)
		recorder.IncActiveTasks("Activated")
		recorder.DecActiveTasks("Activated")
	})
}
