package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbtz/kbtz-workspace/cmd"
)

func TestRootCommand_HasTaskAndVersionSubcommands(t *testing.T) {
	root := cmd.NewRootCmd()

	versionCmd, _, err := root.Find([]string{"version"})
	require.NoError(t, err)
	require.Equal(t, "version", versionCmd.Name())

	taskCmd, _, err := root.Find([]string{"task"})
	require.NoError(t, err)
	require.Equal(t, "task", taskCmd.Name())
}
