package agent

import "time"

// Metrics receives run instrumentation. The observability package provides
// the real implementation; the executor only needs this narrow surface.
type Metrics interface {
	RunStarted(userID string)
	RunFinished(duration time.Duration, degraded, failed bool)
	EventEmitted(eventType string)
	ToolExecuted(tool string, duration time.Duration, success bool)
	SLABreached(eventType string)
	// FastRun records a full run cycle that finished suspiciously quickly.
	// Sub-2s completions are a product signal of templated output, observed
	// and alerted on, never enforced.
	FastRun(duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RunStarted(string)                          {}
func (nopMetrics) RunFinished(time.Duration, bool, bool)      {}
func (nopMetrics) EventEmitted(string)                        {}
func (nopMetrics) ToolExecuted(string, time.Duration, bool)   {}
func (nopMetrics) SLABreached(string)                         {}
func (nopMetrics) FastRun(time.Duration)                      {}
