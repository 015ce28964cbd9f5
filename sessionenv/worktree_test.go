package sessionenv_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/kbtz/kbtz-workspace/sessionenv"
	"github.com/stretchr/testify/require"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", append([]string{"-C", repo}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("init\n"), 0644))
	require.NoError(t, exec.Command("git", "-C", repo, "add", ".").Run())
	cmd := exec.Command("git", "-C", repo, "commit", "-m", "initial")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git commit: %s", out)
	return repo
}

func TestIsGitRepo(t *testing.T) {
	repo := initTestRepo(t)
	require.True(t, sessionenv.IsGitRepo(repo))
	require.False(t, sessionenv.IsGitRepo(t.TempDir()))
}

func TestWorktree_SetupAndCleanup(t *testing.T) {
	repo := initTestRepo(t)
	wt := sessionenv.New(repo, "fix-bug", "kbtz/")

	require.NoError(t, wt.Setup())
	_, err := os.Stat(wt.Path())
	require.NoError(t, err)

	cmd := exec.Command("git", "-C", repo, "branch", "--list", "kbtz/fix-bug")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err)
	require.Contains(t, string(out), "fix-bug")

	require.NoError(t, wt.Cleanup())
	_, err = os.Stat(wt.Path())
	require.True(t, os.IsNotExist(err))
}

func TestWorktree_SetupReusesExistingBranch(t *testing.T) {
	repo := initTestRepo(t)
	wt := sessionenv.New(repo, "resume-me", "kbtz/")
	require.NoError(t, wt.Setup())
	require.NoError(t, wt.Cleanup())

	// Branch still exists after Cleanup; a second Setup for the same task
	// must reuse it rather than failing on "branch already exists".
	wt2 := sessionenv.New(repo, "resume-me", "kbtz/")
	require.NoError(t, wt2.Setup())
	require.NoError(t, wt2.Cleanup())
}

func TestCleanupAll_RemovesWorktreesAndBranches(t *testing.T) {
	repo := initTestRepo(t)
	wt := sessionenv.New(repo, "sweep-me", "kbtz/")
	require.NoError(t, wt.Setup())

	require.NoError(t, sessionenv.CleanupAll(repo))

	_, err := os.Stat(wt.Path())
	require.True(t, os.IsNotExist(err))

	cmd := exec.Command("git", "-C", repo, "branch", "--list", "kbtz/sweep-me")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err)
	require.Empty(t, string(out))
}
