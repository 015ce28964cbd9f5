package taskstore

import "sort"

// candidate is one claimable task together with the fields claim_next ranks
// on: full-text relevance against prefer_text (0 if unset or unmatched),
// the number of tasks it currently unblocks, and its creation order.
type candidate struct {
	name      string
	createdAt string
	unblocks  int
	relevance float64
}

// rankCandidates forms the claimable set (open, with no blocker still in
// {open, active, paused}), scores it against preferText, and returns the
// name of the top-ranked candidate, or "" if none are claimable.
func rankCandidates(q querier, preferText string) (string, error) {
	rows, err := q.Query(`
		SELECT t.name, t.created_at,
			(SELECT COUNT(*) FROM blocking_edges be WHERE be.blocker = t.name) AS unblocks
		FROM tasks t
		WHERE t.status = 'open'
		  AND NOT EXISTS (
			SELECT 1 FROM blocking_edges be
			JOIN tasks bt ON bt.name = be.blocker
			WHERE be.blocked = t.name AND bt.status IN ('open', 'active', 'paused')
		  )
	`)
	if err != nil {
		return "", err
	}

	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.name, &c.createdAt, &c.unblocks); err != nil {
			rows.Close()
			return "", err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return "", err
	}
	rows.Close()

	if len(candidates) == 0 {
		return "", nil
	}

	if preferText != "" {
		relevance, err := matchRelevance(q, preferText)
		if err != nil {
			return "", err
		}
		for i := range candidates {
			candidates[i].relevance = relevance[candidates[i].name]
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.relevance != b.relevance {
			return a.relevance > b.relevance
		}
		if a.unblocks != b.unblocks {
			return a.unblocks > b.unblocks
		}
		if a.createdAt != b.createdAt {
			return a.createdAt < b.createdAt
		}
		return a.name < b.name
	})

	return candidates[0].name, nil
}

// matchRelevance runs the FTS5 query once and returns name -> relevance for
// every matching task. sqlite's bm25() is lower-is-better, so relevance is
// its negation: higher is better, and non-matching tasks are absent (and so
// score 0, the same as when preferText is empty).
func matchRelevance(q querier, preferText string) (map[string]float64, error) {
	rows, err := q.Query(`
		SELECT name, -bm25(tasks_fts) AS relevance
		FROM tasks_fts
		WHERE tasks_fts MATCH ?
	`, preferText)
	if err != nil {
		// A malformed FTS5 query syntax (e.g. an unescaped operator in
		// free-text prefer_text) degrades to "no preference" rather than
		// failing claim_next outright.
		return map[string]float64{}, nil
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var name string
		var relevance float64
		if err := rows.Scan(&name, &relevance); err != nil {
			return nil, err
		}
		out[name] = relevance
	}
	return out, rows.Err()
}
