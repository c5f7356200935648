// Package pipeline implements the staged execution model: a fixed, closed set
// of stage identifiers, a single-stage runner with dry-run interception, and
// a strictly sequential orchestrator with halt-on-failure semantics.
package pipeline

import (
	"context"
	"time"
)

// StageID identifies one pipeline stage. The set is closed; dispatch over
// StageID values is exhaustive.
type StageID int

const (
	TemplateBuild StageID = iota
	ArtifactFetch
	InfraProvision
	OSInstall
)

// String returns the stage's canonical name.
func (s StageID) String() string {
	switch s {
	case TemplateBuild:
		return "template-build"
	case ArtifactFetch:
		return "artifact-fetch"
	case InfraProvision:
		return "infra-provision"
	case OSInstall:
		return "os-install"
	default:
		return "unknown"
	}
}

// Action is the work a stage delegates to an external tool adapter.
type Action interface {
	// Describe returns the fully resolved invocation (command plus
	// arguments) the stage would execute. It must be side-effect free;
	// dry-run prints it instead of calling Execute.
	Describe() string

	// Execute performs the stage's work and returns a short human-readable
	// outcome message. A non-nil error is fatal to the run.
	Execute(ctx context.Context) (string, error)
}

// Stage pairs a stage identifier with its skip predicate and action.
// Stage identifiers are unique within a pipeline definition.
type Stage struct {
	ID     StageID
	Skip   func() bool
	Action Action
}

// Status is the execution state of a stage. Transitions move only forward:
// pending -> running -> {succeeded | failed | skipped}.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSkipped
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSkipped:
		return "skipped"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusSkipped, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// StageResult records the terminal outcome of one stage.
type StageResult struct {
	Stage    StageID
	Status   Status
	Message  string
	Started  time.Time
	Finished time.Time
}

// Elapsed returns the stage's wall-clock duration.
func (r StageResult) Elapsed() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}
