package taskstore

import (
	"fmt"
	"strings"
)

// disallowedInExec bars exec from recursing into itself and from any
// operation that blocks waiting on external state.
var disallowedInExec = map[string]bool{
	"exec":            true,
	"wait_for_change": true,
	"claim_next":      true, // nondeterministic ranking has no place in a scripted batch
}

// Exec parses script as a sequence of newline-separated subcommands with
// shell-like tokenization and runs all of them inside one transaction
// (database/sql's default deferred BEGIN, not BEGIN IMMEDIATE, then
// COMMIT). Blank lines and lines starting
// with '#' are skipped. On any error the whole batch is rolled back and the
// error reports the 1-indexed failing line number.
func (s *SQLiteStore) Exec(script []byte) error {
	lines := strings.Split(string(script), "\n")

	tx, err := s.db.Begin()
	if err != nil {
		return classifyExecErr("exec", err)
	}
	defer tx.Rollback()

	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens, err := tokenize(line)
		if err != nil {
			return newErr(KindInvalidInput, "exec", fmt.Sprintf("line %d: %v", lineNo, err))
		}
		if len(tokens) == 0 {
			continue
		}

		cmd, args := tokens[0], tokens[1:]
		if disallowedInExec[cmd] {
			return newErr(KindInvalidInput, "exec", fmt.Sprintf("line %d: %q is not allowed inside exec", lineNo, cmd))
		}

		if err := runExecCommand(tx, cmd, args); err != nil {
			if te, ok := err.(*Error); ok {
				return wrapErr(te.Kind, "exec", fmt.Sprintf("line %d: %s", lineNo, te.Reason), te.Err)
			}
			return newErr(KindInvalidInput, "exec", fmt.Sprintf("line %d: %v", lineNo, err))
		}
	}

	return classifyExecErr("exec", tx.Commit())
}

func runExecCommand(tx querier, cmd string, args []string) error {
	switch cmd {
	case "create_task":
		return execCreateTask(tx, args)
	case "claim":
		return execArity(args, 2, func() error { return execCAS(tx, args[0], args[1], `status = 'open' AND assignee = ''`, StatusActive, newErr(KindConflict, "claim", "already claimed")) })
	case "release":
		return execArity(args, 2, func() error { return execCASRelease(tx, args[0], args[1]) })
	case "steal":
		return execArity(args, 2, func() error { return execUnconditional(tx, args[0], args[1], StatusActive) })
	case "force_unassign":
		return execArity(args, 1, func() error { return execUnconditional(tx, args[0], "", StatusOpen) })
	case "mark_done":
		return execArity(args, 1, func() error { return execSetStatus(tx, args[0], StatusDone, true) })
	case "reopen":
		return execArity(args, 1, func() error { return execSetStatus(tx, args[0], StatusOpen, true) })
	case "pause":
		return execArity(args, 1, func() error { return execSetStatus(tx, args[0], StatusPaused, true) })
	case "unpause":
		return execArity(args, 1, func() error { return execSetStatus(tx, args[0], StatusOpen, true) })
	case "add_block":
		return execArity(args, 2, func() error { return execAddBlock(tx, args[0], args[1]) })
	case "remove_block":
		return execArity(args, 2, func() error {
			_, err := tx.Exec(`DELETE FROM blocking_edges WHERE blocker = ? AND blocked = ?`, args[0], args[1])
			return err
		})
	case "add_note":
		return execArity(args, 2, func() error { return addNote(tx, args[0], strings.Join(args[1:], " ")) })
	default:
		return newErr(KindInvalidInput, cmd, "unknown command")
	}
}

func execArity(args []string, n int, fn func() error) error {
	if len(args) < n {
		return newErr(KindInvalidInput, "exec", fmt.Sprintf("expected at least %d argument(s), got %d", n, len(args)))
	}
	return fn()
}

func execCreateTask(tx querier, args []string) error {
	if len(args) < 2 {
		return newErr(KindInvalidInput, "create_task", "usage: create_task NAME DESCRIPTION [parent=X] [note=X] [assignee=X] [paused]")
	}
	name, description := args[0], args[1]
	var parent, note, assignee string
	var paused bool
	for _, kv := range args[2:] {
		switch {
		case kv == "paused":
			paused = true
		case strings.HasPrefix(kv, "parent="):
			parent = strings.TrimPrefix(kv, "parent=")
		case strings.HasPrefix(kv, "note="):
			note = strings.TrimPrefix(kv, "note=")
		case strings.HasPrefix(kv, "assignee="):
			assignee = strings.TrimPrefix(kv, "assignee=")
		default:
			return newErr(KindInvalidInput, "create_task", fmt.Sprintf("unrecognized option %q", kv))
		}
	}

	if !ValidName(name) {
		return newErr(KindInvalidInput, "create_task", "name is not kebab-case")
	}
	if parent != "" {
		if _, err := getTask(tx, parent); err != nil {
			if Is(err, KindNotFound) {
				return newErr(KindInvalidInput, "create_task", "unknown parent")
			}
			return err
		}
	}

	status := StatusOpen
	switch {
	case paused && assignee != "":
		return newErr(KindInvalidInput, "create_task", "cannot create paused and assigned at once")
	case paused:
		status = StatusPaused
	case assignee != "":
		status = StatusActive
	}

	ts := now()
	_, err := tx.Exec(`
		INSERT INTO tasks (name, description, status, assignee, parent, created_at, updated_at, status_changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, name, description, string(status), assignee, parent, ts, ts, ts)
	if err != nil {
		if isUniqueConstraintError(err) {
			return newErr(KindConflict, "create_task", "task already exists")
		}
		return err
	}
	if note != "" {
		if _, err := tx.Exec(`INSERT INTO notes (task_name, content, created_at) VALUES (?, ?, ?)`, name, note, ts); err != nil {
			return err
		}
	}
	return syncFTS(tx, name)
}

func execCAS(tx querier, name, who, whereClause string, status Status, conflictErr error) error {
	if _, err := getTask(tx, name); err != nil {
		return err
	}
	res, err := tx.Exec(`UPDATE tasks SET assignee = ?, status = ?, status_changed_at = ?, updated_at = ? WHERE name = ? AND `+whereClause,
		who, string(status), now(), now(), name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return conflictErr
	}
	return nil
}

func execCASRelease(tx querier, name, who string) error {
	if _, err := getTask(tx, name); err != nil {
		return err
	}
	res, err := tx.Exec(`UPDATE tasks SET assignee = '', status = 'open', status_changed_at = ?, updated_at = ? WHERE name = ? AND assignee = ?`,
		now(), now(), name, who)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return newErr(KindConflict, "release", "not owner")
	}
	return nil
}

func execUnconditional(tx querier, name, who string, status Status) error {
	if _, err := getTask(tx, name); err != nil {
		return err
	}
	_, err := tx.Exec(`UPDATE tasks SET assignee = ?, status = ?, status_changed_at = ?, updated_at = ? WHERE name = ?`,
		who, string(status), now(), now(), name)
	return err
}

func execSetStatus(tx querier, name string, status Status, clearAssignee bool) error {
	if _, err := getTask(tx, name); err != nil {
		return err
	}
	var err error
	if clearAssignee {
		_, err = tx.Exec(`UPDATE tasks SET status = ?, assignee = '', status_changed_at = ?, updated_at = ? WHERE name = ?`,
			string(status), now(), now(), name)
	} else {
		_, err = tx.Exec(`UPDATE tasks SET status = ?, status_changed_at = ?, updated_at = ? WHERE name = ?`,
			string(status), now(), now(), name)
	}
	return err
}

func execAddBlock(tx querier, blocker, blocked string) error {
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
		return err
	}
	if cyclic {
		return newErr(KindInvalidInput, "add_block", "would introduce a cycle")
	}
	if _, err := tx.Exec(`INSERT INTO blocking_edges (blocker, blocked) VALUES (?, ?)`, blocker, blocked); err != nil {
		if isUniqueConstraintError(err) {
			return nil
		}
		return err
	}
	return nil
}

// tokenize splits a line into fields, honoring single and double quoting so
// that descriptions and note text may contain spaces.
func tokenize(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	var inQuote rune
	haveToken := false

	flush := func() {
		if haveToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			haveToken = false
		}
	}

	for _, r := range line {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			inQuote = r
			haveToken = true
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
			haveToken = true
		}
	}
	if inQuote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return tokens, nil
}
