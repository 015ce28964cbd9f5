package orchestrator

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbtz/kbtz-workspace/lifecycle"
)

// statusFilePath returns "<workspaceDir>/<id-with-/-replaced-by-->", the
// status-file naming convention each session's agent writes its liveness
// signal to.
func statusFilePath(workspaceDir, sessionID string) string {
	return filepath.Join(workspaceDir, strings.ReplaceAll(sessionID, "/", "-"))
}

// validStatuses is the closed vocabulary a status file may contain.
var validStatuses = map[string]lifecycle.SessionStatus{
	"starting":    lifecycle.StatusStarting,
	"active":      lifecycle.StatusActive,
	"idle":        lifecycle.StatusIdle,
	"needs_input": lifecycle.StatusNeedsInput,
	"dead":        lifecycle.StatusDead,
}

// statusDebounceTicks requires a transition into idle/needs_input to read
// identical content for this many consecutive ticks before it is trusted,
// enough to absorb a brief mid-turn pause without flickering the UI.
const statusDebounceTicks = 3

// statusTracker applies that debounce idiom per session. A transition into
// idle or needs_input must read identical content for statusDebounceTicks
// consecutive ticks before it is reported; every other status (starting,
// active, dead) is reported the instant it is observed, since those only
// ever help a stuck UI catch up sooner.
type statusTracker struct {
	pendingHash   string
	pendingStable int
	lastReported  lifecycle.SessionStatus
}

func newStatusTracker() *statusTracker {
	return &statusTracker{lastReported: lifecycle.StatusStarting}
}

// observe reads the status file and returns the status the engine should
// see this tick. An unreadable file (removed, mid-write, permissions)
// yields the previously reported status unchanged.
func (t *statusTracker) observe(path string) lifecycle.SessionStatus {
	data, err := os.ReadFile(path)
	if err != nil {
		return t.lastReported
	}
	content := strings.TrimSpace(string(data))
	status, ok := validStatuses[content]
	if !ok {
		return t.lastReported
	}

	if status != lifecycle.StatusIdle && status != lifecycle.StatusNeedsInput {
		t.pendingStable = 0
		t.lastReported = status
		return status
	}

	hash := hashContent(content)
	if hash != t.pendingHash {
		t.pendingHash = hash
		t.pendingStable = 1
	} else {
		t.pendingStable++
	}
	if t.pendingStable < statusDebounceTicks {
		return t.lastReported
	}
	t.lastReported = status
	return status
}

func hashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return string(sum[:])
}
