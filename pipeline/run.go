package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the overall outcome of a pipeline run.
type RunStatus int

const (
	RunInProgress RunStatus = iota
	RunSucceeded
	RunFailed
	RunDryRunOnly
)

func (s RunStatus) String() string {
	switch s {
	case RunInProgress:
		return "in-progress"
	case RunSucceeded:
		return "Succeeded"
	case RunFailed:
		return "Failed"
	case RunDryRunOnly:
		return "DryRunOnly"
	default:
		return "unknown"
	}
}

// Run is the record of one pipeline invocation: an ordered list of stage
// results plus the overall status. It is created per invocation, appended to
// sequentially, and read at completion or on first failure.
type Run struct {
	ID      string
	Started time.Time
	Results []StageResult
	Status  RunStatus
}

// NewRun creates an empty in-progress run with a fresh identifier.
func NewRun() *Run {
	return &Run{
		ID:      uuid.NewString(),
		Started: time.Now(),
		Status:  RunInProgress,
	}
}

// Append records the next terminal stage result.
func (r *Run) Append(res StageResult) {
	r.Results = append(r.Results, res)
}

// Failed returns the first failed stage result, if any.
func (r *Run) Failed() (StageResult, bool) {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return res, true
		}
	}
	return StageResult{}, false
}
