// Package prereq validates external prerequisites before any stage runs:
// required executables on PATH and registry authentication. All checks are
// read-only and idempotent.
package prereq

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// MissingDependencyError lists every required executable that could not be
// found. It is fatal and raised before the pipeline starts.
type MissingDependencyError struct {
	Missing []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing required tools: %s", strings.Join(e.Missing, ", "))
}

// AuthError reports a failed registry authentication probe.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("registry authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// lookPath is swapped out in tests.
var lookPath = exec.LookPath

// Check verifies that every named executable exists on PATH. It collects all
// misses rather than stopping at the first one.
func Check(tools []string) error {
	var missing []string
	for _, tool := range tools {
		if _, err := lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return &MissingDependencyError{Missing: missing}
	}
	return nil
}

// AuthChecker is satisfied by the registry client.
type AuthChecker interface {
	CheckAuth(ctx context.Context) error
}

// CheckRegistryAuth probes registry authentication up front so a bad token
// fails the run before any stage, not in the middle of a fetch.
func CheckRegistryAuth(ctx context.Context, c AuthChecker) error {
	if err := c.CheckAuth(ctx); err != nil {
		return &AuthError{Err: err}
	}
	return nil
}
