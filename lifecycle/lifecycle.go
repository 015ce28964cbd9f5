// Package lifecycle implements a pure decision engine: given the tracked
// sessions, the task rows they are assigned to, process liveness, and
// free-slot/claimable counts, Tick returns an ordered list of decisions.
// It performs no I/O and owns no state; the orchestrator is the only
// component that executes decisions.
package lifecycle

import "github.com/kbtz/kbtz-workspace/taskstore"

// SessionStatus mirrors the status-file vocabulary a session's agent writes.
type SessionStatus string

const (
	StatusStarting   SessionStatus = "starting"
	StatusActive     SessionStatus = "active"
	StatusIdle       SessionStatus = "idle"
	StatusNeedsInput SessionStatus = "needs_input"
	StatusDead       SessionStatus = "dead"
)

// TrackedSession is one session the orchestrator currently owns, as
// observed at tick time. RecordedStatus is what the session's in-memory
// status field currently holds; ObservedStatus is what the orchestrator
// just read from the status file (or RecordedStatus unchanged, if the
// status file was unreadable this tick).
type TrackedSession struct {
	ID             string
	TaskName       string
	Alive          bool
	RecordedStatus SessionStatus
	ObservedStatus SessionStatus
}

// TaskRow is the subset of a taskstore.Task the engine needs to decide
// whether a session's assignment is still valid. Exists is false once the
// task has been deleted out from under a running session.
type TaskRow struct {
	Status   taskstore.Status
	Assignee string
	Exists   bool
}

// AdoptCandidate is a pre-existing child discovered during startup
// reconciliation (a broker-side record, or a tagged window in a
// window-manager variant), together with the task/session markers it
// declares for itself.
type AdoptCandidate struct {
	ChildID         string
	DeclaredTask    string
	DeclaredSession string
}

// ReapReason classifies why a session is being reaped, surfaced verbatim
// to the UI.
type ReapReason string

const (
	ReapDone       ReapReason = "done"
	ReapPaused     ReapReason = "paused"
	ReapDeleted    ReapReason = "deleted"
	ReapReleased   ReapReason = "released"
	ReapReassigned ReapReason = "reassigned"
	ReapExited     ReapReason = "exited"
	ReapOrphaned   ReapReason = "orphaned" // adopt candidate whose claim no longer holds
)

// Kind discriminates the four decision shapes Tick can produce.
type Kind int

const (
	KindReap Kind = iota
	KindSpawn
	KindAdopt
	KindUpdateStatus
)

func (k Kind) String() string {
	switch k {
	case KindReap:
		return "Reap"
	case KindSpawn:
		return "Spawn"
	case KindAdopt:
		return "Adopt"
	case KindUpdateStatus:
		return "UpdateStatus"
	default:
		return "Unknown"
	}
}

// PickNext is the sentinel Decision.TaskName for Spawn(:pick_next): the
// orchestrator allocates a session id and calls TaskStore.ClaimNext rather
// than claiming a name the engine already picked. The engine never names a
// specific task to spawn — ranking is the store's job, under its own CAS —
// so every Spawn decision carries this sentinel.
const PickNext = ""

// Decision is one output of Tick. Only the fields relevant to Kind are
// populated; the rest are zero values.
type Decision struct {
	Kind Kind

	SessionID string     // Reap, Adopt (the id to attach/construct), UpdateStatus
	Reason    ReapReason // Reap

	TaskName string // Spawn (always PickNext), Adopt (the declared task)
	ChildID  string // Adopt (the pre-existing child to attach)

	NewStatus SessionStatus // UpdateStatus
}

// Input bundles everything Tick needs. The engine is a pure function of
// this struct: equal Input values always produce equal, identically
// ordered output, regardless of call order or wall-clock time.
type Input struct {
	Sessions []TrackedSession
	// Tasks is keyed by task name, populated for every session's
	// TaskName plus every AdoptCandidate's DeclaredTask.
	Tasks map[string]TaskRow

	FreeSlots        int
	ClaimableCount   int
	AutoSpawnEnabled bool

	// AdoptCandidates is meaningful only on the startup reconciliation
	// tick; callers pass nil on every subsequent tick.
	AdoptCandidates []AdoptCandidate
}

// Tick computes the ordered decision list for one input snapshot: adopt
// decisions first (startup only), then reap decisions in session order,
// then status updates for sessions that survive reaping, then spawn
// decisions to fill remaining free slots.
func Tick(in Input) []Decision {
	var decisions []Decision

	decisions = append(decisions, adoptDecisions(in)...)
	reaped := make(map[string]bool)

	for _, sess := range in.Sessions {
		if d, reap := reapDecision(in, sess); reap {
			decisions = append(decisions, d)
			reaped[sess.ID] = true
		}
	}

	for _, sess := range in.Sessions {
		if reaped[sess.ID] {
			continue
		}
		if sess.ObservedStatus != "" && sess.ObservedStatus != sess.RecordedStatus {
			decisions = append(decisions, Decision{
				Kind:      KindUpdateStatus,
				SessionID: sess.ID,
				NewStatus: sess.ObservedStatus,
			})
		}
	}

	decisions = append(decisions, spawnDecisions(in)...)

	return decisions
}

// adoptDecisions handles the startup reconciliation list: adopt a
// candidate whose declared task is still active and still assigned to its
// declared session id; otherwise mark it for termination (Reap with
// ReapOrphaned).
func adoptDecisions(in Input) []Decision {
	var out []Decision
	for _, cand := range in.AdoptCandidates {
		row, ok := in.Tasks[cand.DeclaredTask]
		if ok && row.Exists && row.Status == taskstore.StatusActive && row.Assignee == cand.DeclaredSession {
			out = append(out, Decision{
				Kind:      KindAdopt,
				SessionID: cand.DeclaredSession,
				TaskName:  cand.DeclaredTask,
				ChildID:   cand.ChildID,
			})
		} else {
			out = append(out, Decision{
				Kind:      KindReap,
				SessionID: cand.DeclaredSession,
				Reason:    ReapOrphaned,
				ChildID:   cand.ChildID,
			})
		}
	}
	return out
}

// reapDecision applies the reap rules: the task was marked
// done, paused, deleted, released, or reassigned to a different session,
// or the child process has exited. Process-exit is checked first since it
// requires no task lookup at all.
func reapDecision(in Input, sess TrackedSession) (Decision, bool) {
	if !sess.Alive {
		return Decision{Kind: KindReap, SessionID: sess.ID, Reason: ReapExited}, true
	}

	row, ok := in.Tasks[sess.TaskName]
	switch {
	case !ok || !row.Exists:
		return Decision{Kind: KindReap, SessionID: sess.ID, Reason: ReapDeleted}, true
	case row.Status == taskstore.StatusDone:
		return Decision{Kind: KindReap, SessionID: sess.ID, Reason: ReapDone}, true
	case row.Status == taskstore.StatusPaused:
		return Decision{Kind: KindReap, SessionID: sess.ID, Reason: ReapPaused}, true
	case row.Assignee == "":
		return Decision{Kind: KindReap, SessionID: sess.ID, Reason: ReapReleased}, true
	case row.Assignee != sess.ID:
		return Decision{Kind: KindReap, SessionID: sess.ID, Reason: ReapReassigned}, true
	default:
		return Decision{}, false
	}
}

// spawnDecisions emits one Spawn(:pick_next) per free slot while
// auto-spawn is enabled and claimable tasks remain. It never claims a
// specific task name itself — the engine
// has no store access — so every emitted decision carries the same
// zero-value TaskName (PickNext); the orchestrator resolves it via
// TaskStore.ClaimNext when executing the decision.
func spawnDecisions(in Input) []Decision {
	if !in.AutoSpawnEnabled {
		return nil
	}
	n := in.FreeSlots
	if in.ClaimableCount < n {
		n = in.ClaimableCount
	}
	if n <= 0 {
		return nil
	}
	out := make([]Decision, n)
	for i := range out {
		out[i] = Decision{Kind: KindSpawn, TaskName: PickNext}
	}
	return out
}
