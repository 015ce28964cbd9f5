// Package log provides the shared logging sinks used across kbtz-workspace.
//
// Every package logs through the three globals below rather than the
// standard library's default logger, so a single call to Initialize governs
// where every log line in the process ends up.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/kbtz/kbtz-workspace/internal/sentry"
)

var (
	// InfoLog records routine lifecycle events (spawn, reap, claim, adopt).
	InfoLog *log.Logger
	// WarningLog records recoverable problems (best-effort reads that failed,
	// transient store errors about to be retried).
	WarningLog *log.Logger
	// ErrorLog records failures an operator should know about.
	ErrorLog *log.Logger
)

var logFile *os.File

func init() {
	// Safe defaults so packages that log before Initialize runs (tests, early
	// CLI parsing) never nil-panic.
	InfoLog = log.New(io.Discard, "INFO: ", log.LstdFlags)
	WarningLog = log.New(io.Discard, "WARN: ", log.LstdFlags)
	ErrorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
}

// Initialize opens "<workspaceDir>/kbtz.log" and redirects all three loggers
// to it. When foreground is true, log lines are also written to stderr, so
// a user running the orchestrator interactively sees them as well as an
// operator tailing the log file.
func Initialize(workspaceDir string, foreground bool) error {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir for log: %w", err)
	}

	path := filepath.Join(workspaceDir, "kbtz.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	logFile = f

	var out io.Writer = f
	if foreground {
		out = io.MultiWriter(f, os.Stderr)
	}

	InfoLog = log.New(sentry.NewWriter(out, sentry.LevelInfo), "INFO: ", log.LstdFlags|log.Lmicroseconds)
	WarningLog = log.New(sentry.NewWriter(out, sentry.LevelWarning), "WARN: ", log.LstdFlags|log.Lmicroseconds)
	ErrorLog = log.New(sentry.NewWriter(out, sentry.LevelError), "ERROR: ", log.LstdFlags|log.Lmicroseconds)
	return nil
}

// Close flushes and closes the log file opened by Initialize. Safe to call
// even when Initialize was never called.
func Close() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}
