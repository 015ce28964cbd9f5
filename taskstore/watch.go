package taskstore

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForChange blocks the caller until a write is observed on the store's
// database file or its WAL file, or until timeout elapses (0 waits
// forever). Spurious wakeups are permitted; callers must re-check state.
func (s *SQLiteStore) WaitForChange(timeout time.Duration) error {
	path := s.Path()
	if path == "" || path == ":memory:" {
		// Nothing on disk to watch; degrade to a timed sleep so callers
		// still make progress instead of blocking forever.
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return wrapErr(KindTransient, "wait_for_change", "create watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return wrapErr(KindTransient, "wait_for_change", "watch directory", err)
	}

	base := filepath.Base(path)
	walBase := base + "-wal"

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if name := filepath.Base(ev.Name); name == base || name == walBase {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return wrapErr(KindTransient, "wait_for_change", "watch error", err)
		case <-timeoutCh:
			return nil
		}
	}
}
