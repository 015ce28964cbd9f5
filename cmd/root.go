// Package cmd wires the configuration, logging, telemetry, TaskStore,
// Orchestrator, and UI layers into runnable cobra commands. It is
// deliberately thin: every RunE here just assembles and delegates to the
// packages that do the real work.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kbtz/kbtz-workspace/config"
	"github.com/kbtz/kbtz-workspace/config/auditlog"
	sentrypkg "github.com/kbtz/kbtz-workspace/internal/sentry"
	"github.com/kbtz/kbtz-workspace/log"
	"github.com/kbtz/kbtz-workspace/orchestrator"
	"github.com/kbtz/kbtz-workspace/passthrough"
	"github.com/kbtz/kbtz-workspace/sessionenv"
	"github.com/kbtz/kbtz-workspace/taskstore"
	"github.com/kbtz/kbtz-workspace/ui"
)

// Version is the build version, set from main and surfaced by "version"
// and in Sentry release tagging.
var Version = "0.1.0"

// tickInterval is the Orchestrator's own control-loop cadence, independent
// of the UI's slower redraw/poll cadence.
const tickInterval = 100 * time.Millisecond

var useWorktrees bool

// NewRootCmd builds the root "kbtz" command and its subcommands.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kbtz",
		Short: "kbtz - orchestrate AI agent sessions against a shared task queue",
		RunE:  runWorkspace,
	}
	root.Flags().BoolVar(&useWorktrees, "worktrees", false, "run each session in its own git worktree/branch")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newDebugCmd())
	root.AddCommand(newTaskCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kbtz version %s\n", Version)
		},
	}
}

func newDebugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug",
		Short: "Print resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			fmt.Printf("db_path: %s\n", cfg.DBPath)
			fmt.Printf("workspace_dir: %s\n", cfg.WorkspaceDir)
			fmt.Printf("default_program: %s\n", cfg.DefaultProgram)
			fmt.Printf("slot_count: %d\n", cfg.SlotCount)
			fmt.Printf("auto_spawn_enabled: %v\n", cfg.AutoSpawnEnabled)
			return nil
		},
	}
}

// runWorkspace is the default entrypoint: it loads configuration, opens
// the task store, builds an Orchestrator wired to real PassthroughSession
// spawns, and runs the UI until the user quits or a signal arrives.
func runWorkspace(cmd *cobra.Command, args []string) error {
	cfg := config.LoadConfig()

	if err := sentrypkg.Init(Version, cfg.IsTelemetryEnabled()); err != nil {
		fmt.Fprintf(os.Stderr, "sentry init failed (continuing without telemetry): %v\n", err)
	}
	defer sentrypkg.Flush()
	defer sentrypkg.RecoverPanic()

	if err := log.Initialize(cfg.WorkspaceDir, true); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer log.Close()

	store, err := taskstore.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	auditDB := filepath.Join(filepath.Dir(cfg.DBPath), "audit.db")
	audit, err := auditlog.NewSQLiteLogger(auditDB)
	if err != nil {
		log.WarningLog.Printf("audit log disabled: %v", err)
		audit = nil
	}

	repoDir, err := filepath.Abs(".")
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	sentrypkg.SetContext(cfg.ResolveDefaultProfile().Program, filepath.Base(repoDir))

	spawner := makeSpawner(cfg, store, repoDir, useWorktrees)

	orch, err := orchestrator.New(store, cfg.WorkspaceDir, cfg.SlotCount, cfg.AutoSpawnEnabled, auditWrap(audit), spawner, nil)
	if err != nil {
		if errors.Is(err, orchestrator.ErrLockContended) {
			return fmt.Errorf("another kbtz-workspace instance is already running against %s", cfg.WorkspaceDir)
		}
		return fmt.Errorf("start orchestrator: %w", err)
	}

	if err := orch.Reconcile(nil); err != nil {
		log.WarningLog.Printf("startup reconciliation: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go tickLoop(ctx, orch)

	p := tea.NewProgram(ui.New(orch), tea.WithAltScreen())
	_, runErr := p.Run()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := orch.Shutdown(shutdownCtx, os.Stdout); err != nil {
		log.ErrorLog.Printf("shutdown: %v", err)
	}

	return runErr
}

func tickLoop(ctx context.Context, orch *orchestrator.Orchestrator) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := orch.Tick(ctx, os.Stdout); err != nil {
				log.ErrorLog.Printf("tick: %v", err)
			}
		}
	}
}

// terminalSize reports the controlling terminal's current size, falling
// back to a conservative default when stdout isn't a terminal (tests,
// piped output, CI).
func terminalSize() (rows, cols int) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return 24, 80
	}
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 24, 80
	}
	return rows, cols
}

// makeSpawner builds the orchestrator.Spawner used for real runs: it
// resolves the agent program from config profiles, optionally isolates
// the child in its own git worktree, injects a per-task system prompt via
// the program's append-system-prompt flag, and starts a direct-PTY
// passthrough.Session.
func makeSpawner(cfg *config.Config, store taskstore.Store, repoDir string, worktrees bool) orchestrator.Spawner {
	pf := passthrough.NewPtyFactory()
	rows, cols := terminalSize()

	return func(sessionID, taskName string) (orchestrator.SessionHandle, error) {
		profile := cfg.ResolveDefaultProfile()
		dir := repoDir

		if worktrees && sessionenv.IsGitRepo(repoDir) {
			wt := sessionenv.New(repoDir, taskName, cfg.BranchPrefix)
			if err := wt.Setup(); err != nil {
				log.WarningLog.Printf("worktree setup for %s failed, running in %s instead: %v", taskName, repoDir, err)
			} else {
				dir = wt.Path()
			}
		}

		flags := append(append([]string{}, profile.Flags...), systemPromptFlags(cfg, store, taskName)...)

		env := append(os.Environ(),
			"KBTZ_DB="+cfg.DBPath,
			"KBTZ_TASK="+taskName,
			"KBTZ_SESSION_ID="+sessionID,
			"KBTZ_WORKSPACE_DIR="+cfg.WorkspaceDir,
		)

		return passthrough.StartDirect(pf, sessionID, taskName, profile.Program, flags, dir, env, rows, cols, os.Stdout)
	}
}

// systemPromptFlags resolves the append-system-prompt flag and its value
// for the given task, so each spawned agent starts already briefed on the
// task it claimed rather than a generic one. Falls back to a prompt built
// from the task name alone if the task row can't be read.
func systemPromptFlags(cfg *config.Config, store taskstore.Store, taskName string) []string {
	if cfg.AppendSystemPromptFlag == "" {
		return nil
	}

	description := ""
	if task, err := store.Get(taskName); err != nil {
		log.WarningLog.Printf("resolve description for system prompt on task %s: %v", taskName, err)
	} else {
		description = task.Description
	}

	prompt := fmt.Sprintf("You are working on kbtz-workspace task %q.", taskName)
	if description != "" {
		prompt += " " + description
	}

	return []string{cfg.AppendSystemPromptFlag, prompt}
}

// auditWrap adapts a possibly-nil *auditlog.SQLiteLogger to a non-nil
// auditlog.Logger, falling back to the no-op logger.
func auditWrap(l *auditlog.SQLiteLogger) auditlog.Logger {
	if l == nil {
		return auditlog.NopLogger()
	}
	return l
}
