// Package observer defines logging and metrics hooks for attempt execution.
package observer

import "context"

// MetricsRecorder records execution metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, language string, ok bool, elapsedMs int64)
	ObserveTest(ctx context.Context, language string, index int, passed bool, elapsedMs int64)
	ObserveAttempt(ctx context.Context, language string, status string, elapsedMs int64, memoryBytes int64)
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, language string, ok bool, elapsedMs int64) {
}

func (NoopMetricsRecorder) ObserveTest(ctx context.Context, language string, index int, passed bool, elapsedMs int64) {
}

func (NoopMetricsRecorder) ObserveAttempt(ctx context.Context, language string, status string, elapsedMs int64, memoryBytes int64) {
}
