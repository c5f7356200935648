package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"kairosdeploy/logging"
)

// Runner executes a single stage's action. It intercepts dry-run, times the
// execution, translates tool failures into StageFailure, and records start,
// end and elapsed time in the run log.
type Runner struct {
	logger *slog.Logger
	runLog *logging.RunLog
	out    io.Writer
	dryRun bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerDryRun makes the runner print resolved invocations instead of
// executing them.
func WithRunnerDryRun(dryRun bool) RunnerOption {
	return func(r *Runner) { r.dryRun = dryRun }
}

// WithRunnerOutput sets the writer for interactive output.
func WithRunnerOutput(w io.Writer) RunnerOption {
	return func(r *Runner) { r.out = w }
}

// NewRunner creates a stage runner. The run log receives a timing record for
// every stage in addition to the interactive output.
func NewRunner(logger *slog.Logger, runLog *logging.RunLog, opts ...RunnerOption) *Runner {
	r := &Runner{
		logger: logger.With("component", "runner"),
		runLog: runLog,
		out:    io.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one stage and returns its terminal result.
//
// Under dry-run the resolved invocation is printed and the stage is marked
// skipped; the action's Execute is never called, so nothing downstream
// touches the network or the filesystem.
func (r *Runner) Run(ctx context.Context, st Stage) StageResult {
	res := StageResult{Stage: st.ID, Status: StatusPending, Started: time.Now()}

	if r.dryRun {
		invocation := st.Action.Describe()
		fmt.Fprintf(r.out, "[dry-run] %s: %s\n", st.ID, invocation)
		r.logger.Info("dry-run, stage not executed", "stage", st.ID.String(), "invocation", invocation)
		res.Status = StatusSkipped
		res.Message = "dry-run"
		res.Finished = time.Now()
		return res
	}

	res.Status = StatusRunning
	r.logger.Info("stage started", "stage", st.ID.String())
	r.runLog.Event("stage %s started", st.ID)

	msg, err := st.Action.Execute(ctx)
	res.Finished = time.Now()

	if err != nil {
		failure := &StageFailure{Stage: st.ID, Err: err}
		res.Status = StatusFailed
		res.Message = failure.Error()
		r.logger.Error("stage failed", "stage", st.ID.String(), "elapsed", res.Elapsed(), "error", err)
		r.runLog.Event("stage %s failed after %s: %v", st.ID, res.Elapsed().Round(time.Millisecond), err)
		return res
	}

	res.Status = StatusSucceeded
	res.Message = msg
	r.logger.Info("stage succeeded", "stage", st.ID.String(), "elapsed", res.Elapsed())
	r.runLog.Event("stage %s succeeded after %s", st.ID, res.Elapsed().Round(time.Millisecond))
	return res
}
