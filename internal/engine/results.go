package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	resultsDirPrefix = "results_"
	timestampLayout  = "060102_150405"
	lockFileName     = ".vak.lock"
)

// ErrResultsDirBusy reports a results directory held by another run.
var ErrResultsDirBusy = errors.New("results directory is in use by another run")

// resultsDir is a results directory locked for the lifetime of one run.
type resultsDir struct {
	Path string
	lock *flock.Flock
}

// createResultsDir makes root/results_YYMMDD_HHMMSS and locks it. A
// directory that is locked, or already holds results, is refused.
func (e *Engine) createResultsDir(root string) (*resultsDir, error) {
	path := filepath.Join(root, resultsDirPrefix+e.now().Format(timestampLayout))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	lock := flock.New(filepath.Join(path, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock results directory: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResultsDirBusy, path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("read results directory: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() != lockFileName {
			_ = lock.Unlock()
			return nil, fmt.Errorf("results directory %s already holds results from another run", path)
		}
	}
	return &resultsDir{Path: path, lock: lock}, nil
}

// Close releases the lock and removes the lock file.
func (r *resultsDir) Close() error {
	if r == nil || r.lock == nil {
		return nil
	}
	err := r.lock.Unlock()
	_ = os.Remove(r.lock.Path())
	r.lock = nil
	return err
}
