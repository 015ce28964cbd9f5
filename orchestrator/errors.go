package orchestrator

import "errors"

// ErrLockContended is returned by New when another orchestrator already
// holds the workspace lock.
var ErrLockContended = errors.New("orchestrator: workspace lock contended")
