package cmd_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbtz/kbtz-workspace/cmd"
)

func TestTaskAddAndList(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KBTZ_DB", filepath.Join(dir, "kbtz.db"))
	t.Setenv("KBTZ_WORKSPACE_DIR", filepath.Join(dir, "workspace"))

	root := cmd.NewRootCmd()
	root.SetArgs([]string{"task", "add", "fix-bug", "fix the thing"})
	require.NoError(t, root.Execute())

	var out bytes.Buffer
	root = cmd.NewRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"task", "list"})
	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "fix-bug")
}

func TestTaskDone(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KBTZ_DB", filepath.Join(dir, "kbtz.db"))
	t.Setenv("KBTZ_WORKSPACE_DIR", filepath.Join(dir, "workspace"))

	root := cmd.NewRootCmd()
	root.SetArgs([]string{"task", "add", "ship-it", "ship the feature"})
	require.NoError(t, root.Execute())

	root = cmd.NewRootCmd()
	root.SetArgs([]string{"task", "done", "ship-it"})
	require.NoError(t, root.Execute())
}
