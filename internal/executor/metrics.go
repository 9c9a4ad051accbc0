package executor

import (
	"time"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// ExecutorMetrics summarizes one execution result.
type ExecutorMetrics struct {
	Steps            int
	Successful       int
	Failed           int
	ToolErrors       int
	Timeouts         int
	DependencyFailed int
	Aborted          int
	TotalDuration    time.Duration
	LongestStepTime  time.Duration
	ShortestStepTime time.Duration
}

// Collect derives metrics from a result. Steps that never ran do not count
// toward the step timings.
func Collect(result *mcpdesk.ExecutionResult) ExecutorMetrics {
	var m ExecutorMetrics
	if result == nil {
		return m
	}
	m.TotalDuration = result.Duration
	for _, o := range result.Outcomes {
		m.Steps++
		if o.OK() {
			m.Successful++
		} else {
			m.Failed++
			switch o.Failure.Kind {
			case mcpdesk.FailureToolError:
				m.ToolErrors++
			case mcpdesk.FailureTimeout:
				m.Timeouts++
			case mcpdesk.FailureDependencyFailed:
				m.DependencyFailed++
			case mcpdesk.FailureAborted:
				m.Aborted++
			}
		}
		if o.Duration <= 0 {
			continue
		}
		if o.Duration > m.LongestStepTime {
			m.LongestStepTime = o.Duration
		}
		if m.ShortestStepTime == 0 || o.Duration < m.ShortestStepTime {
			m.ShortestStepTime = o.Duration
		}
	}
	return m
}
