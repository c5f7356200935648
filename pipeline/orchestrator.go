package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"kairosdeploy/logging"
)

// CleanupFunc is the best-effort teardown invoked exactly once when a stage
// fails. Its error is recorded but never changes the run's terminal status.
type CleanupFunc func(ctx context.Context) error

// Orchestrator drives stages strictly in declared order. Stage i+1 never
// begins before stage i reaches a terminal result, and the first failure
// halts the remaining stages.
type Orchestrator struct {
	logger  *slog.Logger
	runner  *Runner
	runLog  *logging.RunLog
	cleanup CleanupFunc
	dryRun  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCleanup registers the teardown callback run after the first failure.
func WithCleanup(fn CleanupFunc) Option {
	return func(o *Orchestrator) { o.cleanup = fn }
}

// WithDryRun marks the whole run as simulation; the overall status becomes
// DryRunOnly when every stage completes.
func WithDryRun(dryRun bool) Option {
	return func(o *Orchestrator) { o.dryRun = dryRun }
}

// New creates an orchestrator around the given stage runner.
func New(logger *slog.Logger, runner *Runner, runLog *logging.RunLog, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger: logger.With("component", "orchestrator"),
		runner: runner,
		runLog: runLog,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs the stages in order and returns the completed run. The
// returned error reports only definition problems (duplicate stage IDs);
// stage failures are expressed through the run's status and results.
func (o *Orchestrator) Execute(ctx context.Context, stages []Stage) (*Run, error) {
	seen := make(map[StageID]bool, len(stages))
	for _, st := range stages {
		if seen[st.ID] {
			return nil, fmt.Errorf("duplicate stage %s in pipeline definition", st.ID)
		}
		seen[st.ID] = true
	}

	run := NewRun()
	o.logger.Info("pipeline started", "run_id", run.ID, "stages", len(stages))
	o.runLog.Event("run %s started (%d stages)", run.ID, len(stages))

	for _, st := range stages {
		if st.Skip != nil && st.Skip() {
			o.logger.Info("stage skipped by configuration", "stage", st.ID.String())
			o.runLog.Event("stage %s skipped", st.ID)
			continue
		}

		res := o.runner.Run(ctx, st)
		run.Append(res)

		if res.Status == StatusFailed {
			o.runCleanup(ctx)
			run.Status = RunFailed
			o.logger.Error("pipeline failed", "run_id", run.ID, "stage", st.ID.String())
			o.runLog.Event("run %s failed at stage %s", run.ID, st.ID)
			return run, nil
		}
	}

	if o.dryRun {
		run.Status = RunDryRunOnly
	} else {
		run.Status = RunSucceeded
	}
	o.logger.Info("pipeline finished", "run_id", run.ID, "status", run.Status.String())
	o.runLog.Event("run %s finished: %s", run.ID, run.Status)
	return run, nil
}

// runCleanup invokes the teardown callback exactly once, best effort.
func (o *Orchestrator) runCleanup(ctx context.Context) {
	if o.cleanup == nil {
		return
	}
	o.logger.Info("running cleanup after failure")
	o.runLog.Event("cleanup attempt started")
	if err := o.cleanup(ctx); err != nil {
		cerr := &CleanupError{Err: err}
		o.logger.Warn("cleanup failed", "error", cerr)
		o.runLog.Event("%v", cerr)
		return
	}
	o.runLog.Event("cleanup completed")
}
