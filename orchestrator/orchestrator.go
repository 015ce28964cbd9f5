// Package orchestrator ties together the TaskStore, the LifecycleEngine,
// and PassthroughSession: it polls the store, ticks the engine, executes
// its decisions, manages the status-file directory, and publishes a live
// model for the UI layer. It is the only component in the core that
// performs I/O, keeping the decision of what to do separate from the
// effect of doing it.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/kbtz/kbtz-workspace/config/auditlog"
	"github.com/kbtz/kbtz-workspace/lifecycle"
	"github.com/kbtz/kbtz-workspace/log"
	"github.com/kbtz/kbtz-workspace/taskstore"
)

// SessionHandle is the subset of passthrough.Session's capability set the
// orchestrator drives. It is an interface here (rather than a direct
// dependency on package passthrough) so Tick/Shutdown/executeDecision can
// be tested without a real PTY or broker socket.
type SessionHandle interface {
	PollLiveness() (alive bool, exitCode int)
	Stop(ctx context.Context, stdout io.Writer) error
	Resize(rows, cols int) error
	WriteInput(p []byte) (int, error)
	RenderTransition(w io.Writer) error
	SetDisplayed(displayed bool)
}

// Spawner constructs a SessionHandle for a freshly claimed task, called
// while executing a Spawn decision.
type Spawner func(sessionID, taskName string) (SessionHandle, error)

// Adopter attaches to a pre-existing child discovered during startup
// reconciliation, called while executing an Adopt decision.
type Adopter func(childID, sessionID, taskName string) (SessionHandle, error)

type sessionRecord struct {
	Handle   SessionHandle
	TaskName string
	Status   lifecycle.SessionStatus
	tracker  *statusTracker
}

// SessionView is the read-only projection of one tracked session the UI
// layer is published.
type SessionView struct {
	ID       string
	TaskName string
	Status   lifecycle.SessionStatus
}

// Model is the snapshot the Orchestrator publishes each tick: its tracked
// sessions plus the count of tasks still available to claim.
type Model struct {
	Sessions       []SessionView
	ClaimableCount int
	Displayed      string
}

// Orchestrator owns the slot counter, the session map, path resolution,
// and the workspace lock.
type Orchestrator struct {
	Store        taskstore.Store
	WorkspaceDir string
	Audit        auditlog.Logger

	Slots            int
	AutoSpawnEnabled bool
	PreferText       string

	spawn  Spawner
	adopt  Adopter

	lock *flock.Flock

	mu          sync.Mutex
	sessions    map[string]*sessionRecord
	nextSlotNum int
	displayed   string
}

// New acquires the workspace lock (failing fast if contended), creates the
// workspace directory if missing, and returns a ready Orchestrator with no
// tracked sessions. Call Reconcile next to adopt or clear pre-existing
// children before entering the tick loop.
func New(store taskstore.Store, workspaceDir string, slots int, autoSpawn bool, audit auditlog.Logger, spawn Spawner, adopt Adopter) (*Orchestrator, error) {
	if audit == nil {
		audit = auditlog.NopLogger()
	}
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}

	lock, err := acquireLock(workspaceDir)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		Store:            store,
		WorkspaceDir:     workspaceDir,
		Audit:            audit,
		Slots:            slots,
		AutoSpawnEnabled: autoSpawn,
		spawn:            spawn,
		adopt:            adopt,
		lock:             lock,
		sessions:         map[string]*sessionRecord{},
		nextSlotNum:      1,
	}, nil
}

// sessionIDNum extracts N from a "ws/<N>" session id; ok is false for any
// other shape (e.g. a user-chosen broker id), which Reconcile's counter
// seeding then ignores.
func sessionIDNum(id string) (int, bool) {
	const prefix = "ws/"
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(id[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Reconcile runs the startup adopt pass: for each pre-existing child
// candidate that lifecycle.Tick's adopt rules accept, it attaches the child
// via the Adopter; a candidate they reject is only logged, and is neither
// terminated nor has its record cleared. It then seeds the session-id
// counter from the highest "ws/<N>" among all candidates and deletes
// orphan status files that belong to no tracked session.
func (o *Orchestrator) Reconcile(candidates []lifecycle.AdoptCandidate) error {
	tasks := map[string]lifecycle.TaskRow{}
	for _, c := range candidates {
		if _, ok := tasks[c.DeclaredTask]; ok {
			continue
		}
		tasks[c.DeclaredTask] = o.loadTaskRow(c.DeclaredTask)
	}

	decisions := lifecycle.Tick(lifecycle.Input{AdoptCandidates: candidates, Tasks: tasks})

	highest := 0
	for _, d := range decisions {
		switch d.Kind {
		case lifecycle.KindAdopt:
			o.executeAdopt(d)
		case lifecycle.KindReap:
			if o.adopt != nil {
				// The child was never attached, so there is nothing to
				// Stop(); a Reap here just means "do not adopt it".
				log.InfoLog.Printf("not adopting child %s for session %s (reason: %s)", d.ChildID, d.SessionID, d.Reason)
			}
		}
		if n, ok := sessionIDNum(d.SessionID); ok && n > highest {
			highest = n
		}
	}

	o.mu.Lock()
	if highest+1 > o.nextSlotNum {
		o.nextSlotNum = highest + 1
	}
	o.mu.Unlock()

	return o.cleanOrphanStatusFiles()
}

// loadTaskRow fetches one task row for lifecycle.Input, translating
// NotFound into Exists:false rather than propagating the error — a
// deleted task is exactly the signal the engine's reap rule needs.
func (o *Orchestrator) loadTaskRow(name string) lifecycle.TaskRow {
	if name == "" {
		return lifecycle.TaskRow{}
	}
	t, err := o.Store.Get(name)
	if err != nil {
		return lifecycle.TaskRow{}
	}
	return lifecycle.TaskRow{Status: t.Status, Assignee: t.Assignee, Exists: true}
}

// cleanOrphanStatusFiles removes status files in WorkspaceDir that do not
// correspond to any currently tracked session.
func (o *Orchestrator) cleanOrphanStatusFiles() error {
	entries, err := os.ReadDir(o.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("read workspace directory: %w", err)
	}

	o.mu.Lock()
	known := make(map[string]bool, len(o.sessions))
	for id := range o.sessions {
		known[filepath.Base(statusFilePath(o.WorkspaceDir, id))] = true
	}
	o.mu.Unlock()

	for _, e := range entries {
		if e.IsDir() || e.Name() == lockFileName || e.Name() == "kbtz.log" {
			continue
		}
		if !known[e.Name()] {
			_ = os.Remove(filepath.Join(o.WorkspaceDir, e.Name()))
		}
	}
	return nil
}

// Tick runs one control-flow pass: gather per-session
// liveness and status, fetch the task rows those sessions are assigned to
// plus the claimable count, feed lifecycle.Tick, and execute the result.
// stdout is the user's terminal, forwarded to Stop/RenderTransition calls
// that need to write to it.
func (o *Orchestrator) Tick(ctx context.Context, stdout io.Writer) error {
	type tracked struct {
		id   string
		rec  *sessionRecord
	}

	o.mu.Lock()
	snapshot := make([]tracked, 0, len(o.sessions))
	for id, rec := range o.sessions {
		snapshot = append(snapshot, tracked{id: id, rec: rec})
	}
	freeSlots := o.Slots - len(o.sessions)
	o.mu.Unlock()

	sessions := make([]lifecycle.TrackedSession, 0, len(snapshot))
	tasks := map[string]lifecycle.TaskRow{}
	for _, ts := range snapshot {
		alive, _ := ts.rec.Handle.PollLiveness()
		observed := ts.rec.tracker.observe(statusFilePath(o.WorkspaceDir, ts.id))

		sessions = append(sessions, lifecycle.TrackedSession{
			ID:             ts.id,
			TaskName:       ts.rec.TaskName,
			Alive:          alive,
			RecordedStatus: ts.rec.Status,
			ObservedStatus: observed,
		})
		if _, ok := tasks[ts.rec.TaskName]; !ok {
			tasks[ts.rec.TaskName] = o.loadTaskRow(ts.rec.TaskName)
		}
	}

	claimable, err := o.Store.CountClaimable()
	if err != nil {
		return fmt.Errorf("count claimable tasks: %w", err)
	}

	decisions := lifecycle.Tick(lifecycle.Input{
		Sessions:         sessions,
		Tasks:            tasks,
		FreeSlots:        freeSlots,
		ClaimableCount:   claimable,
		AutoSpawnEnabled: o.AutoSpawnEnabled,
	})

	for _, d := range decisions {
		switch d.Kind {
		case lifecycle.KindReap:
			o.executeReap(ctx, d, stdout)
		case lifecycle.KindSpawn:
			o.executeSpawn()
		case lifecycle.KindAdopt:
			o.executeAdopt(d)
		case lifecycle.KindUpdateStatus:
			o.executeUpdateStatus(d)
		}
	}

	return nil
}

func (o *Orchestrator) executeReap(ctx context.Context, d lifecycle.Decision, stdout io.Writer) {
	o.mu.Lock()
	rec, ok := o.sessions[d.SessionID]
	if ok {
		delete(o.sessions, d.SessionID)
		if o.displayed == d.SessionID {
			o.displayed = ""
		}
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	if err := rec.Handle.Stop(ctx, stdout); err != nil {
		log.ErrorLog.Printf("stop session %s: %v", d.SessionID, err)
	}

	if row, err := o.Store.Get(rec.TaskName); err == nil && row.Assignee == d.SessionID {
		if err := o.Store.Release(rec.TaskName, d.SessionID); err != nil {
			log.WarningLog.Printf("release task %s after reaping %s: %v", rec.TaskName, d.SessionID, err)
		}
	}

	_ = os.Remove(statusFilePath(o.WorkspaceDir, d.SessionID))

	o.Audit.Emit(auditlog.New(auditlog.EventSessionReaped, o.WorkspaceDir,
		auditlog.WithSession(d.SessionID), auditlog.WithTask(rec.TaskName),
		auditlog.WithDetail(string(d.Reason))))
}

func (o *Orchestrator) executeSpawn() {
	o.mu.Lock()
	id := fmt.Sprintf("ws/%d", o.nextSlotNum)
	o.nextSlotNum++
	o.mu.Unlock()

	task, err := o.Store.ClaimNext(id, o.PreferText)
	if err != nil {
		if !taskstore.Is(err, taskstore.KindNoneAvailable) {
			log.ErrorLog.Printf("claim_next for %s: %v", id, err)
		}
		return
	}

	handle, err := o.spawn(id, task.Name)
	if err != nil {
		log.ErrorLog.Printf("spawn session %s for task %s: %v", id, task.Name, err)
		if relErr := o.Store.Release(task.Name, id); relErr != nil {
			log.ErrorLog.Printf("release task %s after failed spawn: %v", task.Name, relErr)
		}
		return
	}

	o.mu.Lock()
	o.sessions[id] = &sessionRecord{Handle: handle, TaskName: task.Name, Status: lifecycle.StatusStarting, tracker: newStatusTracker()}
	o.mu.Unlock()

	if err := os.WriteFile(statusFilePath(o.WorkspaceDir, id), []byte("starting"), 0o644); err != nil {
		log.WarningLog.Printf("write initial status file for %s: %v", id, err)
	}

	o.Audit.Emit(auditlog.New(auditlog.EventSessionSpawned, o.WorkspaceDir, auditlog.WithSession(id), auditlog.WithTask(task.Name)))
	o.Audit.Emit(auditlog.New(auditlog.EventTaskClaimed, o.WorkspaceDir, auditlog.WithSession(id), auditlog.WithTask(task.Name)))
}

func (o *Orchestrator) executeAdopt(d lifecycle.Decision) {
	if o.adopt == nil {
		return
	}
	handle, err := o.adopt(d.ChildID, d.SessionID, d.TaskName)
	if err != nil {
		log.ErrorLog.Printf("adopt child %s as %s: %v", d.ChildID, d.SessionID, err)
		return
	}
	o.mu.Lock()
	o.sessions[d.SessionID] = &sessionRecord{Handle: handle, TaskName: d.TaskName, Status: lifecycle.StatusActive, tracker: newStatusTracker()}
	o.mu.Unlock()
	o.Audit.Emit(auditlog.New(auditlog.EventSessionAdopted, o.WorkspaceDir, auditlog.WithSession(d.SessionID), auditlog.WithTask(d.TaskName)))
}

func (o *Orchestrator) executeUpdateStatus(d lifecycle.Decision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rec, ok := o.sessions[d.SessionID]; ok {
		rec.Status = d.NewStatus
	}
}

// SetDisplayed switches which tracked session's raw output is forwarded
// to the user's terminal, clearing the flag on the previously displayed
// session (if any) and setting it on id (which may be "" to display none).
func (o *Orchestrator) SetDisplayed(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.displayed == id {
		return
	}
	if rec, ok := o.sessions[o.displayed]; ok {
		rec.Handle.SetDisplayed(false)
	}
	o.displayed = id
	if rec, ok := o.sessions[id]; ok {
		rec.Handle.SetDisplayed(true)
	}
}

// Session returns the handle for id, if tracked.
func (o *Orchestrator) Session(id string) (SessionHandle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.sessions[id]
	if !ok {
		return nil, false
	}
	return rec.Handle, true
}

// Snapshot publishes the current model for the UI layer.
func (o *Orchestrator) Snapshot() Model {
	o.mu.Lock()
	defer o.mu.Unlock()
	views := make([]SessionView, 0, len(o.sessions))
	for id, rec := range o.sessions {
		views = append(views, SessionView{ID: id, TaskName: rec.TaskName, Status: rec.Status})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	claimable, err := o.Store.CountClaimable()
	if err != nil {
		claimable = -1
	}
	return Model{Sessions: views, ClaimableCount: claimable, Displayed: o.displayed}
}

// Shutdown signals SIGTERM to every tracked session in parallel, waits up
// to each session's own grace period (enforced inside Stop), releases
// every claim still held, and releases the workspace lock.
func (o *Orchestrator) Shutdown(ctx context.Context, stdout io.Writer) error {
	o.mu.Lock()
	sessions := o.sessions
	o.sessions = map[string]*sessionRecord{}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for id, rec := range sessions {
		wg.Add(1)
		go func(id string, rec *sessionRecord) {
			defer wg.Done()
			if err := rec.Handle.Stop(ctx, stdout); err != nil {
				log.ErrorLog.Printf("shutdown: stop %s: %v", id, err)
			}
			if row, err := o.Store.Get(rec.TaskName); err == nil && row.Assignee == id {
				if relErr := o.Store.Release(rec.TaskName, id); relErr != nil {
					log.WarningLog.Printf("shutdown: release task %s: %v", rec.TaskName, relErr)
				}
			}
			_ = os.Remove(statusFilePath(o.WorkspaceDir, id))
		}(id, rec)
	}
	wg.Wait()

	var firstErr error
	if err := o.Audit.Close(); err != nil {
		firstErr = err
	}
	if err := o.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("release workspace lock: %w", err)
	}
	return firstErr
}
