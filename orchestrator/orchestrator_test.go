package orchestrator_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/kbtz/kbtz-workspace/config/auditlog"
	"github.com/kbtz/kbtz-workspace/orchestrator"
	"github.com/kbtz/kbtz-workspace/taskstore"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	alive      bool
	exitCode   int
	stopCalled bool
	displayed  bool
}

func (f *fakeHandle) PollLiveness() (bool, int) { return f.alive, f.exitCode }

func (f *fakeHandle) Stop(ctx context.Context, w io.Writer) error {
	f.stopCalled = true
	f.alive = false
	return nil
}

func (f *fakeHandle) Resize(rows, cols int) error        { return nil }
func (f *fakeHandle) WriteInput(p []byte) (int, error)   { return len(p), nil }
func (f *fakeHandle) RenderTransition(w io.Writer) error { return nil }
func (f *fakeHandle) SetDisplayed(d bool)                { f.displayed = d }

func newTestOrchestrator(t *testing.T) (*orchestrator.Orchestrator, taskstore.Store, string, map[string]*fakeHandle) {
	t.Helper()
	store, err := taskstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	handles := map[string]*fakeHandle{}

	spawn := func(sessionID, taskName string) (orchestrator.SessionHandle, error) {
		h := &fakeHandle{alive: true}
		handles[sessionID] = h
		return h, nil
	}
	adopt := func(childID, sessionID, taskName string) (orchestrator.SessionHandle, error) {
		h := &fakeHandle{alive: true}
		handles[sessionID] = h
		return h, nil
	}

	o, err := orchestrator.New(store, dir, 2, true, auditlog.NopLogger(), spawn, adopt)
	require.NoError(t, err)
	t.Cleanup(func() { o.Shutdown(context.Background(), io.Discard) })

	return o, store, dir, handles
}

func TestTick_SpawnsIntoFreeSlots(t *testing.T) {
	o, store, _, handles := newTestOrchestrator(t)
	_, err := store.CreateTask("task-a", "d", "", "", "", false)
	require.NoError(t, err)
	_, err = store.CreateTask("task-b", "d", "", "", "", false)
	require.NoError(t, err)

	require.NoError(t, o.Tick(context.Background(), io.Discard))

	snap := o.Snapshot()
	require.Len(t, snap.Sessions, 2)
	require.Len(t, handles, 2)

	tasks, err := store.List()
	require.NoError(t, err)
	for _, tk := range tasks {
		require.Equal(t, taskstore.StatusActive, tk.Status)
		require.NotEmpty(t, tk.Assignee)
	}
}

func TestTick_DoesNotSpawnWhenAutoSpawnDisabled(t *testing.T) {
	store, err := taskstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = store.CreateTask("task-a", "d", "", "", "", false)
	require.NoError(t, err)

	dir := t.TempDir()
	o, err := orchestrator.New(store, dir, 2, false, auditlog.NopLogger(),
		func(id, task string) (orchestrator.SessionHandle, error) { return &fakeHandle{alive: true}, nil },
		nil)
	require.NoError(t, err)
	t.Cleanup(func() { o.Shutdown(context.Background(), io.Discard) })

	require.NoError(t, o.Tick(context.Background(), io.Discard))
	require.Empty(t, o.Snapshot().Sessions)
}

func TestTick_ReapsOnProcessExit(t *testing.T) {
	o, store, _, handles := newTestOrchestrator(t)
	_, err := store.CreateTask("task-a", "d", "", "", "", false)
	require.NoError(t, err)

	require.NoError(t, o.Tick(context.Background(), io.Discard))
	snap := o.Snapshot()
	require.Len(t, snap.Sessions, 1)
	id := snap.Sessions[0].ID

	handles[id].alive = false
	require.NoError(t, o.Tick(context.Background(), io.Discard))

	require.Empty(t, o.Snapshot().Sessions)
	require.True(t, handles[id].stopCalled)

	task, err := store.Get("task-a")
	require.NoError(t, err)
	require.Equal(t, taskstore.StatusOpen, task.Status)
	require.Empty(t, task.Assignee)
}

func TestTick_ReapsWhenTaskMarkedDone(t *testing.T) {
	o, store, _, handles := newTestOrchestrator(t)
	_, err := store.CreateTask("task-a", "d", "", "", "", false)
	require.NoError(t, err)
	require.NoError(t, o.Tick(context.Background(), io.Discard))

	snap := o.Snapshot()
	require.Len(t, snap.Sessions, 1)
	id := snap.Sessions[0].ID

	require.NoError(t, store.MarkDone("task-a"))
	require.NoError(t, o.Tick(context.Background(), io.Discard))

	require.Empty(t, o.Snapshot().Sessions)
	require.True(t, handles[id].stopCalled)
}

func TestTick_UpdatesStatusFromStatusFile(t *testing.T) {
	o, store, dir, _ := newTestOrchestrator(t)
	_, err := store.CreateTask("task-a", "d", "", "", "", false)
	require.NoError(t, err)
	require.NoError(t, o.Tick(context.Background(), io.Discard))

	snap := o.Snapshot()
	id := snap.Sessions[0].ID
	path := filepath.Join(dir, "ws-1")
	require.NoError(t, os.WriteFile(path, []byte("active"), 0o644))

	require.NoError(t, o.Tick(context.Background(), io.Discard))
	snap = o.Snapshot()
	require.Equal(t, "active", string(snap.Sessions[0].Status))
}

func TestNew_FailsWhenLockContended(t *testing.T) {
	store, err := taskstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	dir := t.TempDir()

	o1, err := orchestrator.New(store, dir, 1, false, auditlog.NopLogger(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { o1.Shutdown(context.Background(), io.Discard) })

	_, err = orchestrator.New(store, dir, 1, false, auditlog.NopLogger(), nil, nil)
	require.ErrorIs(t, err, orchestrator.ErrLockContended)
}

func TestSetDisplayed_TogglesHandleFlag(t *testing.T) {
	o, store, _, handles := newTestOrchestrator(t)
	_, err := store.CreateTask("task-a", "d", "", "", "", false)
	require.NoError(t, err)
	require.NoError(t, o.Tick(context.Background(), io.Discard))

	id := o.Snapshot().Sessions[0].ID
	o.SetDisplayed(id)
	require.True(t, handles[id].displayed)

	o.SetDisplayed("")
	require.False(t, handles[id].displayed)
}
