package taskstore

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	name              TEXT PRIMARY KEY,
	description       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'open',
	assignee          TEXT NOT NULL DEFAULT '',
	parent            TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	status_changed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id         INTEGER PRIMARY KEY,
	task_name  TEXT NOT NULL REFERENCES tasks(name) ON DELETE CASCADE,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS blocking_edges (
	blocker TEXT NOT NULL REFERENCES tasks(name) ON DELETE CASCADE,
	blocked TEXT NOT NULL REFERENCES tasks(name) ON DELETE CASCADE,
	PRIMARY KEY (blocker, blocked)
);

CREATE VIRTUAL TABLE IF NOT EXISTS tasks_fts USING fts5(
	name, description, notes
);

CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_notes_task ON notes(task_name);
CREATE INDEX IF NOT EXISTS idx_edges_blocked ON blocking_edges(blocked);
`

// querier is satisfied by both *sql.DB and *sql.Tx, letting every internal
// helper run either standalone or nested inside exec's shared transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// SQLiteStore is the sole Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, enables WAL
// mode and foreign keys, sets a 5-second busy timeout, and runs schema
// migrations. Use ":memory:" for an in-memory database (tests).
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, wrapErr(KindFatal, "open", "open sqlite database", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, wrapErr(KindFatal, "open", "set WAL mode", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, wrapErr(KindFatal, "open", "set busy timeout", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, wrapErr(KindFatal, "open", "enable foreign keys", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, wrapErr(KindFatal, "open", "run schema migrations", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// classifyExecErr maps a raw driver error to a taskstore Kind for operations
// that don't have a more specific classification of their own.
func classifyExecErr(op string, err error) error {
	if isBusyError(err) {
		return wrapErr(KindTransient, op, "store busy", err)
	}
	return wrapErr(KindFatal, op, "unexpected store error", err)
}

// syncFTS replaces the tasks_fts row for name with the current description
// and concatenated notes. Called after any write that touches either.
func syncFTS(q querier, name string) error {
	var description string
	if err := q.QueryRow(`SELECT description FROM tasks WHERE name = ?`, name).Scan(&description); err != nil {
		return err
	}

	var notes strings.Builder
	rows, err := q.Query(`SELECT content FROM notes WHERE task_name = ? ORDER BY id ASC`, name)
	if err != nil {
		return err
	}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			rows.Close()
			return err
		}
		notes.WriteString(c)
		notes.WriteString("\n")
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if _, err := q.Exec(`DELETE FROM tasks_fts WHERE name = ?`, name); err != nil {
		return err
	}
	_, err = q.Exec(`INSERT INTO tasks_fts (name, description, notes) VALUES (?, ?, ?)`,
		name, description, notes.String())
	return err
}

func scanTask(row *sql.Row) (Task, error) {
	var t Task
	var createdAt, updatedAt, statusChangedAt string
	err := row.Scan(&t.Name, &t.Description, &t.Status, &t.Assignee, &t.Parent,
		&createdAt, &updatedAt, &statusChangedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Task{}, newErr(KindNotFound, "get", "task not found")
		}
		return Task{}, wrapErr(KindFatal, "get", "scan task", err)
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.StatusChangedAt = parseTime(statusChangedAt)
	return t, nil
}

const taskColumns = `name, description, status, assignee, parent, created_at, updated_at, status_changed_at`

func getTask(q querier, name string) (Task, error) {
	row := q.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE name = ?`, name)
	return scanTask(row)
}

// Get retrieves a task by name.
func (s *SQLiteStore) Get(name string) (Task, error) {
	return getTask(s.db, name)
}

// List returns all tasks ordered by name.
func (s *SQLiteStore) List() ([]Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY name ASC`)
	if err != nil {
		return nil, wrapErr(KindFatal, "list", "query tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var createdAt, updatedAt, statusChangedAt string
		if err := rows.Scan(&t.Name, &t.Description, &t.Status, &t.Assignee, &t.Parent,
			&createdAt, &updatedAt, &statusChangedAt); err != nil {
			return nil, wrapErr(KindFatal, "list", "scan task", err)
		}
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		t.StatusChangedAt = parseTime(statusChangedAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(KindFatal, "list", "iterate tasks", err)
	}
	return out, nil
}

// Notes returns all notes for a task, oldest first.
func (s *SQLiteStore) Notes(name string) ([]Note, error) {
	rows, err := s.db.Query(`SELECT id, task_name, content, created_at FROM notes WHERE task_name = ? ORDER BY id ASC`, name)
	if err != nil {
		return nil, wrapErr(KindFatal, "notes", "query notes", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		var createdAt string
		if err := rows.Scan(&n.ID, &n.TaskName, &n.Content, &createdAt); err != nil {
			return nil, wrapErr(KindFatal, "notes", "scan note", err)
		}
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(KindFatal, "notes", "iterate notes", err)
	}
	return out, nil
}

// AddNote appends a note to an existing task.
func (s *SQLiteStore) AddNote(name, content string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return classifyExecErr("add_note", err)
	}
	defer tx.Rollback()

	if err := addNote(tx, name, content); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifyExecErr("add_note", err)
	}
	return nil
}

func addNote(q querier, name, content string) error {
	if _, err := getTask(q, name); err != nil {
		return err
	}
	if _, err := q.Exec(`INSERT INTO notes (task_name, content, created_at) VALUES (?, ?, ?)`, name, content, now()); err != nil {
		return wrapErr(KindFatal, "add_note", "insert note", err)
	}
	return syncFTS(q, name)
}

// CreateTask inserts a new task, optionally with a parent, a first note, and
// an initial assignee. All three are applied atomically with the insert.
func (s *SQLiteStore) CreateTask(name, description, parent, note, assignee string, paused bool) (Task, error) {
	if !ValidName(name) {
		return Task{}, newErr(KindInvalidInput, "create_task", "name is not kebab-case")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Task{}, classifyExecErr("create_task", err)
	}
	defer tx.Rollback()

	if parent != "" {
		if _, err := getTask(tx, parent); err != nil {
			if Is(err, KindNotFound) {
				return Task{}, newErr(KindInvalidInput, "create_task", "unknown parent")
			}
			return Task{}, err
		}
	}

	status := StatusOpen
	switch {
	case paused && assignee != "":
		return Task{}, newErr(KindInvalidInput, "create_task", "cannot create paused and assigned at once")
	case paused:
		status = StatusPaused
	case assignee != "":
		status = StatusActive
	}

	ts := now()
	_, err = tx.Exec(`
		INSERT INTO tasks (name, description, status, assignee, parent, created_at, updated_at, status_changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, name, description, string(status), assignee, parent, ts, ts, ts)
	if err != nil {
		if isUniqueConstraintError(err) {
			return Task{}, newErr(KindConflict, "create_task", "task already exists")
		}
		return Task{}, classifyExecErr("create_task", err)
	}

	if note != "" {
		if _, err := tx.Exec(`INSERT INTO notes (task_name, content, created_at) VALUES (?, ?, ?)`, name, note, ts); err != nil {
			return Task{}, classifyExecErr("create_task", err)
		}
	}
	if err := syncFTS(tx, name); err != nil {
		return Task{}, classifyExecErr("create_task", err)
	}

	t, err := getTask(tx, name)
	if err != nil {
		return Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, classifyExecErr("create_task", err)
	}
	return t, nil
}

// Claim is a CAS: assignee=who, status=active iff status=open and
// assignee is empty.
func (s *SQLiteStore) Claim(name, who string) error {
	return s.casAssign("claim", name, who, `status = 'open' AND assignee = ''`, StatusActive, newErr(KindConflict, "claim", "already claimed"))
}

func (s *SQLiteStore) casAssign(op, name, who, whereClause string, newStatus Status, failErr error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return classifyExecErr(op, err)
	}
	defer tx.Rollback()

	if _, err := getTask(tx, name); err != nil {
		return err
	}

	res, err := tx.Exec(`UPDATE tasks SET assignee = ?, status = ?, status_changed_at = ?, updated_at = ? WHERE name = ? AND `+whereClause,
		who, string(newStatus), now(), now(), name)
	if err != nil {
		return classifyExecErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyExecErr(op, err)
	}
	if n == 0 {
		return failErr
	}
	if err := tx.Commit(); err != nil {
		return classifyExecErr(op, err)
	}
	return nil
}

// Release is a CAS: assignee=null, status=open iff assignee=who.
func (s *SQLiteStore) Release(name, who string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return classifyExecErr("release", err)
	}
	defer tx.Rollback()

	if _, err := getTask(tx, name); err != nil {
		return err
	}

	res, err := tx.Exec(`UPDATE tasks SET assignee = '', status = 'open', status_changed_at = ?, updated_at = ? WHERE name = ? AND assignee = ?`,
		now(), now(), name, who)
	if err != nil {
		return classifyExecErr("release", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyExecErr("release", err)
	}
	if n == 0 {
		return newErr(KindConflict, "release", "not owner")
	}
	return classifyExecErr("release", tx.Commit())
}

// Steal unconditionally reassigns a task. Intended for user-initiated
// recovery; higher-level approval, if any, is enforced outside the store.
func (s *SQLiteStore) Steal(name, who string) error {
	return s.unconditionalAssign("steal", name, who, StatusActive)
}

// ForceUnassign unconditionally clears a task's assignee.
func (s *SQLiteStore) ForceUnassign(name string) error {
	return s.unconditionalAssign("force_unassign", name, "", StatusOpen)
}

func (s *SQLiteStore) unconditionalAssign(op, name, who string, status Status) error {
	tx, err := s.db.Begin()
	if err != nil {
		return classifyExecErr(op, err)
	}
	defer tx.Rollback()

	if _, err := getTask(tx, name); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE tasks SET assignee = ?, status = ?, status_changed_at = ?, updated_at = ? WHERE name = ?`,
		who, string(status), now(), now(), name); err != nil {
		return classifyExecErr(op, err)
	}
	return classifyExecErr(op, tx.Commit())
}

// MarkDone transitions a task to done and clears its assignee.
func (s *SQLiteStore) MarkDone(name string) error {
	return s.setStatus("mark_done", name, StatusDone, true)
}

// Reopen transitions a task back to open.
func (s *SQLiteStore) Reopen(name string) error {
	return s.setStatus("reopen", name, StatusOpen, true)
}

// Pause transitions a task to paused.
func (s *SQLiteStore) Pause(name string) error {
	return s.setStatus("pause", name, StatusPaused, true)
}

// Unpause transitions a task back to open.
func (s *SQLiteStore) Unpause(name string) error {
	return s.setStatus("unpause", name, StatusOpen, true)
}

func (s *SQLiteStore) setStatus(op, name string, status Status, clearAssignee bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return classifyExecErr(op, err)
	}
	defer tx.Rollback()

	if _, err := getTask(tx, name); err != nil {
		return err
	}

	if clearAssignee {
		_, err = tx.Exec(`UPDATE tasks SET status = ?, assignee = '', status_changed_at = ?, updated_at = ? WHERE name = ?`,
			string(status), now(), now(), name)
	} else {
		_, err = tx.Exec(`UPDATE tasks SET status = ?, status_changed_at = ?, updated_at = ? WHERE name = ?`,
			string(status), now(), now(), name)
	}
	if err != nil {
		return classifyExecErr(op, err)
	}
	return classifyExecErr(op, tx.Commit())
}

// AddBlock adds a blocker -> blocked edge, rejecting it if it would
// introduce a cycle into the blocking graph.
func (s *SQLiteStore) AddBlock(blocker, blocked string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return classifyExecErr("add_block", err)
	}
	defer tx.Rollback()

	if _, err := getTask(tx, blocker); err != nil {
		return err
	}
	if _, err := getTask(tx, blocked); err != nil {
		return err
	}
	if blocker == blocked {
		return newErr(KindInvalidInput, "add_block", "a task cannot block itself")
	}

	cyclic, err := wouldCycle(tx, blocker, blocked)
	if err != nil {
		return classifyExecErr("add_block", err)
	}
	if cyclic {
		return newErr(KindInvalidInput, "add_block", "would introduce a cycle")
	}

	if _, err := tx.Exec(`INSERT INTO blocking_edges (blocker, blocked) VALUES (?, ?)`, blocker, blocked); err != nil {
		if isUniqueConstraintError(err) {
			return nil // edge already present; add_block is idempotent
		}
		return classifyExecErr("add_block", err)
	}
	return classifyExecErr("add_block", tx.Commit())
}

// wouldCycle performs a bounded DFS from blocked, following existing
// blocker->blocked edges forward. If blocker is reachable from blocked,
// adding blocker->blocked would close a cycle.
func wouldCycle(q querier, blocker, blocked string) (bool, error) {
	visited := map[string]bool{}
	stack := []string{blocked}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == blocker {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true

		rows, err := q.Query(`SELECT blocked FROM blocking_edges WHERE blocker = ?`, cur)
		if err != nil {
			return false, err
		}
		var next []string
		for rows.Next() {
			var b string
			if err := rows.Scan(&b); err != nil {
				rows.Close()
				return false, err
			}
			next = append(next, b)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return false, err
		}
		rows.Close()
		stack = append(stack, next...)
	}
	return false, nil
}

// RemoveBlock removes a blocking edge, if present.
func (s *SQLiteStore) RemoveBlock(blocker, blocked string) error {
	_, err := s.db.Exec(`DELETE FROM blocking_edges WHERE blocker = ? AND blocked = ?`, blocker, blocked)
	if err != nil {
		return classifyExecErr("remove_block", err)
	}
	return nil
}

// maxClaimNextAttempts bounds claim_next's CAS retry loop.
const maxClaimNextAttempts = 5

// ClaimNext forms the candidate set of claimable tasks, ranks it, and
// CAS-claims the top candidate for who. See ranking.go for scoring.
func (s *SQLiteStore) ClaimNext(who, preferText string) (Task, error) {
	for attempt := 0; attempt < maxClaimNextAttempts; attempt++ {
		tx, err := s.db.Begin()
		if err != nil {
			return Task{}, classifyExecErr("claim_next", err)
		}

		name, err := rankCandidates(tx, preferText)
		if err != nil {
			tx.Rollback()
			return Task{}, classifyExecErr("claim_next", err)
		}
		if name == "" {
			tx.Rollback()
			return Task{}, newErr(KindNoneAvailable, "claim_next", "no claimable task")
		}

		res, err := tx.Exec(`UPDATE tasks SET assignee = ?, status = 'active', status_changed_at = ?, updated_at = ? WHERE name = ? AND status = 'open' AND assignee = ''`,
			who, now(), now(), name)
		if err != nil {
			tx.Rollback()
			return Task{}, classifyExecErr("claim_next", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return Task{}, classifyExecErr("claim_next", err)
		}
		if n == 0 {
			// Lost the race to another writer; retry from the top.
			tx.Rollback()
			continue
		}

		t, err := getTask(tx, name)
		if err != nil {
			tx.Rollback()
			return Task{}, err
		}
		if err := tx.Commit(); err != nil {
			return Task{}, classifyExecErr("claim_next", err)
		}
		return t, nil
	}
	return Task{}, newErr(KindNoneAvailable, "claim_next", "no claimable task after retries")
}

// CountClaimable reports how many tasks currently satisfy claim_next's
// candidate predicate (open, with no blocker still in open/active/paused),
// without ranking or claiming any of them. The LifecycleEngine uses this to
// decide whether a free slot is worth a Spawn decision.
func (s *SQLiteStore) CountClaimable() (int, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*) FROM tasks t
		WHERE t.status = 'open'
		  AND NOT EXISTS (
			SELECT 1 FROM blocking_edges be
			JOIN tasks bt ON bt.name = be.blocker
			WHERE be.blocked = t.name AND bt.status IN ('open', 'active', 'paused')
		  )
	`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, classifyExecErr("count_claimable", err)
	}
	return n, nil
}

// Path returns the database path underlying this store, used by
// WaitForChange to locate the WAL file it watches.
func (s *SQLiteStore) Path() string {
	var path string
	row := s.db.QueryRow(`PRAGMA database_list`)
	var seq int
	var name string
	if err := row.Scan(&seq, &name, &path); err != nil {
		return ""
	}
	return path
}

var _ Store = (*SQLiteStore)(nil)
