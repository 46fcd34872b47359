package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
)

// ErrRunDirLocked means another run holds the output directory.
var ErrRunDirLocked = errors.New("output directory is locked by another run")

const lockName = ".gamestorm.lock"

// NewRunID returns a sortable, unique run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// RunDir is an output directory held exclusively for one run.
type RunDir struct {
	Path  string
	RunID string
	lock  *flock.Flock
}

// OpenRunDir creates dir if needed and takes its lock without waiting.
func OpenRunDir(dir, runID string) (*RunDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock output dir %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunDirLocked, dir)
	}
	return &RunDir{Path: dir, RunID: runID, lock: lock}, nil
}

func (d *RunDir) MetricsPath() string {
	return filepath.Join(d.Path, d.RunID+"_metrics.csv")
}

func (d *RunDir) ReportPath() string {
	return filepath.Join(d.Path, d.RunID+"_report.json")
}

// SweepPath is where a sweep's comparison report goes; RunID is the sweep id.
func (d *RunDir) SweepPath() string {
	return filepath.Join(d.Path, d.RunID+"_sweep.json")
}

// Close releases the directory lock.
func (d *RunDir) Close() error {
	return d.lock.Unlock()
}
