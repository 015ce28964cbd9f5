package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbtz/kbtz-workspace/config"
	"github.com/kbtz/kbtz-workspace/taskstore"
)

func newTestTaskStore(t *testing.T) *taskstore.SQLiteStore {
	t.Helper()
	store, err := taskstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSystemPromptFlags_IncludesTaskDescription(t *testing.T) {
	store := newTestTaskStore(t)
	_, err := store.CreateTask("fix-bug", "the login form rejects valid passwords", "", "", "", false)
	require.NoError(t, err)

	cfg := &config.Config{AppendSystemPromptFlag: "--append-system-prompt"}
	flags := systemPromptFlags(cfg, store, "fix-bug")

	require.Len(t, flags, 2)
	assert.Equal(t, "--append-system-prompt", flags[0])
	assert.Contains(t, flags[1], "fix-bug")
	assert.Contains(t, flags[1], "the login form rejects valid passwords")
}

func TestSystemPromptFlags_FallsBackWhenTaskMissing(t *testing.T) {
	store := newTestTaskStore(t)
	cfg := &config.Config{AppendSystemPromptFlag: "--append-system-prompt"}

	flags := systemPromptFlags(cfg, store, "does-not-exist")

	require.Len(t, flags, 2)
	assert.Contains(t, flags[1], "does-not-exist")
}

func TestSystemPromptFlags_EmptyWhenFlagUnset(t *testing.T) {
	store := newTestTaskStore(t)
	cfg := &config.Config{}

	assert.Empty(t, systemPromptFlags(cfg, store, "fix-bug"))
}
