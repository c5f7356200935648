package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairosdeploy/logging"
)

// fakeAction records execution for ordering and dry-run assertions.
type fakeAction struct {
	name     string
	err      error
	calls    *[]string
	executed int
}

func (a *fakeAction) Describe() string {
	return fmt.Sprintf("fake %s --arg value", a.name)
}

func (a *fakeAction) Execute(ctx context.Context) (string, error) {
	a.executed++
	if a.calls != nil {
		*a.calls = append(*a.calls, a.name)
	}
	if a.err != nil {
		return "", a.err
	}
	return a.name + " done", nil
}

func newTestRunLog(t *testing.T) *logging.RunLog {
	t.Helper()
	rl, err := logging.OpenRunLog(filepath.Join(t.TempDir(), "run.log"))
	require.NoError(t, err)
	t.Cleanup(func() { rl.Close() })
	return rl
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteRunsStagesInDeclaredOrder(t *testing.T) {
	var calls []string
	logger := testLogger()
	rl := newTestRunLog(t)

	stages := []Stage{
		{ID: TemplateBuild, Action: &fakeAction{name: "template", calls: &calls}},
		{ID: ArtifactFetch, Action: &fakeAction{name: "fetch", calls: &calls}},
		{ID: InfraProvision, Action: &fakeAction{name: "provision", calls: &calls}},
		{ID: OSInstall, Action: &fakeAction{name: "install", calls: &calls}},
	}

	o := New(logger, NewRunner(logger, rl), rl)
	run, err := o.Execute(context.Background(), stages)
	require.NoError(t, err)

	assert.Equal(t, []string{"template", "fetch", "provision", "install"}, calls)
	assert.Equal(t, RunSucceeded, run.Status)
	require.Len(t, run.Results, 4)
	for i, res := range run.Results {
		assert.True(t, res.Status.Terminal(), "result %d not terminal", i)
		assert.Equal(t, StatusSucceeded, res.Status)
		assert.False(t, res.Finished.Before(res.Started))
	}
	// Stage i+1 never began before stage i finished.
	for i := 1; i < len(run.Results); i++ {
		assert.False(t, run.Results[i].Started.Before(run.Results[i-1].Finished))
	}
}

func TestExecuteHaltsOnFirstFailure(t *testing.T) {
	var calls []string
	var cleanups int
	logger := testLogger()
	rl := newTestRunLog(t)

	install := &fakeAction{name: "install", calls: &calls}
	stages := []Stage{
		{ID: InfraProvision, Action: &fakeAction{name: "provision", calls: &calls, err: errors.New("apply exited 1")}},
		{ID: OSInstall, Action: install},
	}

	o := New(logger, NewRunner(logger, rl), rl,
		WithCleanup(func(ctx context.Context) error {
			cleanups++
			return nil
		}))

	run, err := o.Execute(context.Background(), stages)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, 1, cleanups, "cleanup must run exactly once")
	assert.Zero(t, install.executed, "no stage after the failure may run")

	require.Len(t, run.Results, 1)
	failed, ok := run.Failed()
	require.True(t, ok)
	assert.Equal(t, InfraProvision, failed.Stage)
	assert.Contains(t, failed.Message, "infra-provision")
	assert.Contains(t, failed.Message, "apply exited 1")
}

func TestExecuteCleanupErrorDoesNotChangeStatus(t *testing.T) {
	logger := testLogger()
	rl := newTestRunLog(t)

	stages := []Stage{
		{ID: TemplateBuild, Action: &fakeAction{name: "template", err: errors.New("boom")}},
	}

	o := New(logger, NewRunner(logger, rl), rl,
		WithCleanup(func(ctx context.Context) error {
			return errors.New("destroy failed too")
		}))

	run, err := o.Execute(context.Background(), stages)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, run.Status)
}

func TestExecuteSkipPredicate(t *testing.T) {
	var calls []string
	logger := testLogger()
	rl := newTestRunLog(t)

	stages := []Stage{
		{ID: TemplateBuild, Skip: func() bool { return true }, Action: &fakeAction{name: "template", calls: &calls}},
		{ID: ArtifactFetch, Skip: func() bool { return true }, Action: &fakeAction{name: "fetch", calls: &calls}},
		{ID: InfraProvision, Action: &fakeAction{name: "provision", calls: &calls}},
		{ID: OSInstall, Action: &fakeAction{name: "install", calls: &calls}},
	}

	o := New(logger, NewRunner(logger, rl), rl)
	run, err := o.Execute(context.Background(), stages)
	require.NoError(t, err)

	// Skipped stages never execute and leave no result.
	assert.Equal(t, []string{"provision", "install"}, calls)
	require.Len(t, run.Results, 2)
	assert.Equal(t, InfraProvision, run.Results[0].Stage)
	assert.Equal(t, OSInstall, run.Results[1].Stage)
	assert.Equal(t, RunSucceeded, run.Status)
}

func TestExecuteDuplicateStage(t *testing.T) {
	logger := testLogger()
	rl := newTestRunLog(t)

	stages := []Stage{
		{ID: OSInstall, Action: &fakeAction{name: "a"}},
		{ID: OSInstall, Action: &fakeAction{name: "b"}},
	}

	o := New(logger, NewRunner(logger, rl), rl)
	_, err := o.Execute(context.Background(), stages)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate stage")
}

func TestDryRunExecutesNothing(t *testing.T) {
	logger := testLogger()
	rl := newTestRunLog(t)
	var out strings.Builder

	actions := []*fakeAction{
		{name: "template"},
		{name: "fetch"},
		{name: "provision"},
		{name: "install"},
	}
	stages := []Stage{
		{ID: TemplateBuild, Action: actions[0]},
		{ID: ArtifactFetch, Action: actions[1]},
		{ID: InfraProvision, Action: actions[2]},
		{ID: OSInstall, Action: actions[3]},
	}

	runner := NewRunner(logger, rl, WithRunnerDryRun(true), WithRunnerOutput(&out))
	o := New(logger, runner, rl, WithDryRun(true))

	run, err := o.Execute(context.Background(), stages)
	require.NoError(t, err)

	assert.Equal(t, RunDryRunOnly, run.Status)
	for _, a := range actions {
		assert.Zero(t, a.executed, "action %s must not execute under dry-run", a.name)
	}
	for _, res := range run.Results {
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Equal(t, "dry-run", res.Message)
	}
	// The resolved invocation is printed for every stage.
	assert.Contains(t, out.String(), "fake template --arg value")
	assert.Contains(t, out.String(), "fake install --arg value")
}

func TestDryRunTouchesOnlyTheLogFile(t *testing.T) {
	logger := testLogger()
	dir := t.TempDir()
	rl, err := logging.OpenRunLog(filepath.Join(dir, "run.log"))
	require.NoError(t, err)
	defer rl.Close()

	runner := NewRunner(logger, rl, WithRunnerDryRun(true))
	o := New(logger, runner, rl, WithDryRun(true))

	_, err = o.Execute(context.Background(), []Stage{
		{ID: ArtifactFetch, Action: &fakeAction{name: "fetch"}},
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run.log", entries[0].Name())
}
