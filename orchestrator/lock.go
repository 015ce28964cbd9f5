package orchestrator

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// lockFileName is the single exclusive, non-blocking file lock that guards
// a workspace directory for the lifetime of one Orchestrator.
const lockFileName = ".kbtz.lock"

// acquireLock takes the workspace's exclusive lock without blocking. It
// fails with ErrLockContended if another orchestrator already holds it.
func acquireLock(workspaceDir string) (*flock.Flock, error) {
	l := flock.New(filepath.Join(workspaceDir, lockFileName))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !ok {
		return nil, ErrLockContended
	}
	return l, nil
}
