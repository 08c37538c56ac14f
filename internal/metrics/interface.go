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
)

// Event outcomes recorded by RecordEvent
const (
	OutcomeHandled    = "handled"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
)

// MetricsRecorder defines the interface for recording metrics
type MetricsRecorder interface {
	// RecordEvent records a processed lifecycle event with its outcome
	RecordEvent(eventType, outcome string, duration time.Duration)

	// RecordRepositoryOperation records a registry add or remove call
	RecordRepositoryOperation(operation string, success bool, duration time.Duration)

	// RecordFeatureOperation records a feature install or uninstall request
	RecordFeatureOperation(operation string, success bool)

	// RecordConflictWait records time spent waiting for a repository name to become free
	RecordConflictWait(timedOut bool, duration time.Duration)

	// RecordReconciliation records a reconciliation of a Kubernetes artifact object
	RecordReconciliation(namespace, name string, success bool, duration time.Duration)

	// IncActiveTasks increments the count of in-flight event tasks
	IncActiveTasks(eventType string)

	// DecActiveTasks decrements the count of in-flight event tasks
	DecActiveTasks(eventType string)
}

// NoopRecorder discards all metrics
type NoopRecorder struct{}

var _ MetricsRecorder = NoopRecorder{}

func (NoopRecorder) RecordEvent(string, string, time.Duration)               {}
func (NoopRecorder) RecordRepositoryOperation(string, bool, time.Duration)   {}
func (NoopRecorder) RecordFeatureOperation(string, bool)                     {}
func (NoopRecorder) RecordConflictWait(bool, time.Duration)                  {}
func (NoopRecorder) RecordReconciliation(string, string, bool, time.Duration) {}
func (NoopRecorder) IncActiveTasks(string)                                   {}
func (NoopRecorder) DecActiveTasks(string)                                   {}
