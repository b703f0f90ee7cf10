package sqlite

import (
	"context"
	"fmt"

	"sidekickcore/memory"
)

// ftsSearchScoped implements the lexical candidate generator (§4.9) over
// the retrieval_units_fts external-content table, scoped to one entity.
// bm25() returns lower-is-better; it is negated so ScoredID keeps the
// higher-is-better convention FuseCandidates expects from both rankers.
func (s *Store) ftsSearchScoped(ctx context.Context, entityID, query string, limit int) ([]memory.ScoredID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ru.unit_id, -bm25(retrieval_units_fts) AS score
		FROM retrieval_units_fts
		JOIN retrieval_units ru ON ru.rowid = retrieval_units_fts.rowid
		WHERE retrieval_units_fts MATCH ? AND ru.entity_id = ?
		ORDER BY score DESC
		LIMIT ?
	`, ftsQuery(query), entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to run fts search: %w", err)
	}
	defer rows.Close()

	var out []memory.ScoredID
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to scan fts search row: %w", err)
		}
		out = append(out, memory.ScoredID{ID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ftsQuery wraps free-text input into an FTS5 MATCH expression: each
// whitespace-separated term becomes a prefix match, ORed together so a
// multi-word query recalls a unit containing any of its terms.
func ftsQuery(raw string) string {
	var terms []string
	start := -1
	for i, r := range raw {
		if r == ' ' || r == '\t' || r == '\n' {
			if start >= 0 {
				terms = append(terms, raw[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		terms = append(terms, raw[start:])
	}

	if len(terms) == 0 {
		return `""`
	}

	out := ""
	for i, t := range terms {
		if i > 0 {
			out += " OR "
		}
		out += `"` + escapeFTSTerm(t) + `"*`
	}
	return out
}

func escapeFTSTerm(t string) string {
	out := make([]byte, 0, len(t))
	for i := 0; i < len(t); i++ {
		if t[i] == '"' {
			out = append(out, '"', '"')
			continue
		}
		out = append(out, t[i])
	}
	return string(out)
}
