package pipeline

import "fmt"

// StageFailure wraps an external tool failure. It is fatal to the run: the
// orchestrator halts remaining stages when one occurs.
type StageFailure struct {
	Stage StageID
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// CleanupError reports a best-effort teardown failure. It is logged and never
// alters the run's already-determined terminal status.
type CleanupError struct {
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup failed: %v", e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }
