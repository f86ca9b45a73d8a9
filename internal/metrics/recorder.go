// Package metrics records build and page generation metrics.
//
// Components receive a Recorder; NoopRecorder is the default so callers never check
// for nil. The dev server swaps in a PrometheusRecorder and exposes it over HTTP.
package metrics

import "time"

// ResultLabel enumerates result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for builds, stages and pages.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncPageResult(result ResultLabel)
	IncBuildOutcome(result ResultLabel)
	SetPageCount(n int)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)         {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) IncPageResult(ResultLabel)                  {}
func (NoopRecorder) IncBuildOutcome(ResultLabel)                {}
func (NoopRecorder) SetPageCount(int)                           {}
