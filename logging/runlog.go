package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// RunLog is the append-only log file that records stage start, end and
// elapsed times for every pipeline run. The file is opened with O_APPEND
// and is never truncated mid-run, so a failed run always leaves a complete
// record of what executed before the failure.
type RunLog struct {
	path string
	f    *os.File
	mu   sync.Mutex
}

// OpenRunLog opens (or creates) the run log at path in append mode.
func OpenRunLog(path string) (*RunLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log %q: %w", path, err)
	}
	return &RunLog{path: path, f: f}, nil
}

// Path returns the run log file path, for inclusion in failure output.
func (l *RunLog) Path() string {
	return l.path
}

// Event appends a single timestamped line to the run log.
func (l *RunLog) Event(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.f, "%s %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// Close flushes and closes the underlying file.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
