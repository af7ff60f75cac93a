// Package metrics exposes pipeline observability hooks. Stages report
// through the Recorder interface; the Prometheus implementation backs the
// dev server's /metrics endpoint.
package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultWarning  ResultLabel = "warning"
	ResultFatal    ResultLabel = "fatal"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for stages, rebuilds and reloads.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	AddStageOutputBytes(stage string, n int64)
	IncClassRebuild(class string, result ResultLabel)
	IncReloadBroadcast()
	SetReloadSubscribers(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) AddStageOutputBytes(string, int64)          {}
func (NoopRecorder) IncClassRebuild(string, ResultLabel)        {}
func (NoopRecorder) IncReloadBroadcast()                        {}
func (NoopRecorder) SetReloadSubscribers(int)                   {}

// ResultOf maps a stage error and its warning count to a result label.
func ResultOf(err error, warnings int) ResultLabel {
	switch {
	case err != nil:
		return ResultFatal
	case warnings > 0:
		return ResultWarning
	default:
		return ResultSuccess
	}
}
