package taskstore_test

import (
	"testing"

	"github.com/kbtz/kbtz-workspace/taskstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *taskstore.SQLiteStore {
	t.Helper()
	store, err := taskstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateTask_RejectsBadName(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("Not Kebab", "d", "", "", "", false)
	require.Error(t, err)
	assert.True(t, taskstore.Is(err, taskstore.KindInvalidInput))
}

func TestCreateTask_DuplicateFails(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("a", "first", "", "", "", false)
	require.NoError(t, err)
	_, err = store.CreateTask("a", "second", "", "", "", false)
	require.Error(t, err)
	assert.True(t, taskstore.Is(err, taskstore.KindConflict))
}

func TestCreateTask_UnknownParentFails(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("child", "d", "ghost", "", "", false)
	require.Error(t, err)
	assert.True(t, taskstore.Is(err, taskstore.KindInvalidInput))
}

// Create a task then claim_next it.
func TestClaimNext_ClaimsFirstAvailableTask(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("a", "d", "", "", "", false)
	require.NoError(t, err)

	task, err := store.ClaimNext("s1", "")
	require.NoError(t, err)
	assert.Equal(t, "a", task.Name)
	assert.Equal(t, "s1", task.Assignee)
	assert.Equal(t, taskstore.StatusActive, task.Status)
}

// a blocks b; claim_next only returns b after a is marked done.
func TestClaimNext_BlockedTaskUnavailableUntilUnblocked(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("a", "d", "", "", "", false)
	require.NoError(t, err)
	_, err = store.CreateTask("b", "d", "", "", "", false)
	require.NoError(t, err)
	require.NoError(t, store.AddBlock("a", "b"))

	first, err := store.ClaimNext("s1", "")
	require.NoError(t, err)
	assert.Equal(t, "a", first.Name)

	_, err = store.ClaimNext("s1", "")
	require.Error(t, err)
	assert.True(t, taskstore.Is(err, taskstore.KindNoneAvailable))

	require.NoError(t, store.MarkDone("a"))

	second, err := store.ClaimNext("s1", "")
	require.NoError(t, err)
	assert.Equal(t, "b", second.Name)
}

func TestClaim_AlreadyClaimedFails(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("a", "d", "", "", "", false)
	require.NoError(t, err)
	require.NoError(t, store.Claim("a", "s1"))

	err = store.Claim("a", "s2")
	require.Error(t, err)
	assert.True(t, taskstore.Is(err, taskstore.KindConflict))
}

func TestRelease_NotOwnerFails(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("a", "d", "", "", "", false)
	require.NoError(t, err)
	require.NoError(t, store.Claim("a", "s1"))

	err = store.Release("a", "s2")
	require.Error(t, err)
	assert.True(t, taskstore.Is(err, taskstore.KindConflict))

	require.NoError(t, store.Release("a", "s1"))
	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusOpen, got.Status)
	assert.Equal(t, "", got.Assignee)
}

func TestSteal_Unconditional(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("a", "d", "", "", "", false)
	require.NoError(t, err)
	require.NoError(t, store.Claim("a", "s1"))

	require.NoError(t, store.Steal("a", "s2"))
	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "s2", got.Assignee)
}

// force_unassign releases a claim regardless of who holds it.
func TestForceUnassign_ReleasesRegardlessOfHolder(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("a", "d", "", "", "", false)
	require.NoError(t, err)
	require.NoError(t, store.Claim("a", "s1"))

	require.NoError(t, store.ForceUnassign("a"))
	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusOpen, got.Status)
	assert.Equal(t, "", got.Assignee)
}

func TestMarkDone_ClearsAssignee(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("a", "d", "", "", "", false)
	require.NoError(t, err)
	require.NoError(t, store.Claim("a", "s1"))
	require.NoError(t, store.MarkDone("a"))

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusDone, got.Status)
	assert.Equal(t, "", got.Assignee)
}

func TestAddBlock_RejectsDirectCycle(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("a", "d", "", "", "", false)
	require.NoError(t, err)
	_, err = store.CreateTask("b", "d", "", "", "", false)
	require.NoError(t, err)

	require.NoError(t, store.AddBlock("a", "b"))
	err = store.AddBlock("b", "a")
	require.Error(t, err)
	assert.True(t, taskstore.Is(err, taskstore.KindInvalidInput))
}

func TestAddBlock_RejectsTransitiveCycle(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"a", "b", "c"} {
		_, err := store.CreateTask(name, "d", "", "", "", false)
		require.NoError(t, err)
	}
	require.NoError(t, store.AddBlock("a", "b"))
	require.NoError(t, store.AddBlock("b", "c"))

	err := store.AddBlock("c", "a")
	require.Error(t, err)
	assert.True(t, taskstore.Is(err, taskstore.KindInvalidInput))
}

func TestClaimNext_PrefersUnblockingTasks(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("big-unblocker", "d", "", "", "", false)
	require.NoError(t, err)
	_, err = store.CreateTask("leaf", "d", "", "", "", false)
	require.NoError(t, err)
	_, err = store.CreateTask("downstream", "d", "", "", "", false)
	require.NoError(t, err)
	require.NoError(t, store.AddBlock("big-unblocker", "downstream"))

	task, err := store.ClaimNext("s1", "")
	require.NoError(t, err)
	assert.Equal(t, "big-unblocker", task.Name)
}

func TestClaimNext_NoneAvailableWhenEmpty(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ClaimNext("s1", "")
	require.Error(t, err)
	assert.True(t, taskstore.Is(err, taskstore.KindNoneAvailable))
}

func TestExec_AppliesBatchAtomically(t *testing.T) {
	store := newTestStore(t)
	script := []byte(`
		# seed two tasks and block one on the other
		create_task a "first task"
		create_task b "second task"
		add_block a b
	`)
	require.NoError(t, store.Exec(script))

	tasks, err := store.List()
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestExec_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	script := []byte(`create_task a "first task"
create_task a "duplicate"
`)
	err := store.Exec(script)
	require.Error(t, err)

	tasks, err := store.List()
	require.NoError(t, err)
	assert.Len(t, tasks, 0)
}

func TestExec_DisallowsNestedExec(t *testing.T) {
	store := newTestStore(t)
	err := store.Exec([]byte("exec foo\n"))
	require.Error(t, err)
	assert.True(t, taskstore.Is(err, taskstore.KindInvalidInput))
}

func TestNotes_AppendOnly(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateTask("a", "d", "", "first note", "", false)
	require.NoError(t, err)
	require.NoError(t, store.AddNote("a", "second note"))

	notes, err := store.Notes("a")
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "first note", notes[0].Content)
	assert.Equal(t, "second note", notes[1].Content)
}
