// Package sessionenv layers optional per-session git worktree isolation on
// top of passthrough.Session: when enabled, a spawned child runs inside its
// own worktree and branch named after its task, created before the child
// starts. Removing it is a separate call (Cleanup, CleanupAll) that the
// reap path does not make, so a reaped session's worktree stays on disk.
// The core SessionHandle contract does not
// require it, so it decorates a working directory choice rather than being
// baked into PassthroughSession.
package sessionenv

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/kbtz/kbtz-workspace/log"
)

// worktreesSubdir keeps generated worktrees out of a project's own
// worktree layout.
const worktreesSubdir = ".kbtz-worktrees"

// Worktree is one task's isolated git worktree + branch.
type Worktree struct {
	repoPath     string
	worktreePath string
	branchName   string
	baseCommit   string
}

// IsGitRepo reports whether dir is inside a git working tree.
func IsGitRepo(dir string) bool {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--is-inside-work-tree")
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// New derives a Worktree for taskName: branch "<branchPrefix><taskName>",
// worktree directory under "<repoPath>/.kbtz-worktrees/".
func New(repoPath, taskName, branchPrefix string) *Worktree {
	branch := branchPrefix + taskName
	safe := strings.ReplaceAll(branch, "/", "-")
	return &Worktree{
		repoPath:     repoPath,
		worktreePath: filepath.Join(repoPath, worktreesSubdir, safe),
		branchName:   branch,
	}
}

// Path is the directory the session's child should run in.
func (w *Worktree) Path() string { return w.worktreePath }

// Branch is the git branch backing the worktree.
func (w *Worktree) Branch() string { return w.branchName }

func (w *Worktree) runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %v: %s: %w", args, strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

// Setup creates the worktree directory and its branch, reusing the branch
// if it already exists (a session resuming a previously paused task) or
// branching fresh off HEAD otherwise.
func (w *Worktree) Setup() error {
	if err := os.MkdirAll(filepath.Join(w.repoPath, worktreesSubdir), 0o755); err != nil {
		return fmt.Errorf("create worktrees directory: %w", err)
	}

	repo, err := git.PlainOpen(w.repoPath)
	if err != nil {
		return fmt.Errorf("open repository %s: %w", w.repoPath, err)
	}
	branchExists := false
	if _, err := repo.Reference(plumbing.NewBranchReferenceName(w.branchName), false); err == nil {
		branchExists = true
	}

	// A stale worktree registration from a prior reap can block `worktree
	// add`; clearing it first is always safe (a no-op if none exists).
	_, _ = w.runGit(w.repoPath, "worktree", "remove", "-f", w.worktreePath)

	if branchExists {
		if _, err := w.runGit(w.repoPath, "worktree", "add", w.worktreePath, w.branchName); err != nil {
			return fmt.Errorf("add worktree from existing branch %s: %w", w.branchName, err)
		}
		return nil
	}

	head, err := w.runGit(w.repoPath, "rev-parse", "HEAD")
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	w.baseCommit = strings.TrimSpace(head)

	if _, err := w.runGit(w.repoPath, "worktree", "add", "-b", w.branchName, w.worktreePath, w.baseCommit); err != nil {
		return fmt.Errorf("add worktree from commit %s: %w", w.baseCommit, err)
	}
	return nil
}

// PauseNote copies the worktree's branch name to the clipboard, so an
// operator picking the task back up can paste the branch into
// `git checkout` elsewhere.
func (w *Worktree) PauseNote() {
	if err := clipboard.WriteAll(w.branchName); err != nil {
		log.WarningLog.Printf("copy branch name %s to clipboard: %v", w.branchName, err)
	}
}

// Cleanup removes the worktree directory; the branch itself is left intact
// so a later Setup for the same task (re-adopted or resumed) can reuse it.
func (w *Worktree) Cleanup() error {
	var errs []error
	if _, err := os.Stat(w.worktreePath); err == nil {
		if _, err := w.runGit(w.repoPath, "worktree", "remove", "-f", w.worktreePath); err != nil {
			errs = append(errs, err)
		}
	} else if !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("stat worktree path: %w", err))
	}
	if _, err := w.runGit(w.repoPath, "worktree", "prune"); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CleanupAll removes every worktree under repoPath's worktrees directory
// and deletes their branches, for a full workspace reset.
func CleanupAll(repoPath string) error {
	dir := filepath.Join(repoPath, worktreesSubdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read worktrees directory: %w", err)
	}

	run := func(args ...string) (string, error) {
		cmd := exec.Command("git", append([]string{"-C", repoPath}, args...)...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("git %v: %s: %w", args, strings.TrimSpace(string(out)), err)
		}
		return string(out), nil
	}

	branchByPath := map[string]string{}
	if out, err := run("worktree", "list", "--porcelain"); err == nil {
		var current string
		for _, line := range strings.Split(out, "\n") {
			switch {
			case strings.HasPrefix(line, "worktree "):
				current = strings.TrimPrefix(line, "worktree ")
			case strings.HasPrefix(line, "branch "):
				if current != "" {
					branchByPath[current] = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
				}
			}
		}
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, err := run("worktree", "remove", "-f", path); err != nil {
			log.WarningLog.Printf("git worktree remove failed for %s, falling back to os.RemoveAll: %v", path, err)
			if rmErr := os.RemoveAll(path); rmErr != nil {
				log.ErrorLog.Printf("remove worktree path %s: %v", path, rmErr)
			}
		}
		for p, branch := range branchByPath {
			if strings.Contains(p, entry.Name()) {
				if _, err := run("branch", "-D", branch); err != nil {
					log.ErrorLog.Printf("delete branch %s: %v", branch, err)
				}
				break
			}
		}
	}

	_, err = run("worktree", "prune")
	return err
}
