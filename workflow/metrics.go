package workflow

import "time"

// Metrics receives execution measurements from the engine. Implementations
// must be safe for concurrent use; the engine calls them inline on the run
// path, so they should not block.
type Metrics interface {
	RunStarted(workflow string)
	RunFinished(workflow string, success bool, duration time.Duration)
	RunSuspended(workflow string)
	StageFinished(workflow, stage string, status StageStatus, duration time.Duration)
	ModelRoundTrip(workflow, stage, model string, duration time.Duration)
	ToolInvoked(server, tool string, failed bool, duration time.Duration)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RunStarted(string)                                        {}
func (NopMetrics) RunFinished(string, bool, time.Duration)                  {}
func (NopMetrics) RunSuspended(string)                                      {}
func (NopMetrics) StageFinished(string, string, StageStatus, time.Duration) {}
func (NopMetrics) ModelRoundTrip(string, string, string, time.Duration)     {}
func (NopMetrics) ToolInvoked(string, string, bool, time.Duration)          {}
