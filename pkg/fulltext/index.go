// Package fulltext implements the keyword index over turn text, backed by a
// SQLite FTS5 table in the same database as the record store. The index is
// derived state: it holds at most one entry per turn id and is synchronized
// explicitly by the coordinator, never by triggers.
package fulltext

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"komalam/pkg/protocol"
)

// Index manages the turns_fts FTS5 table.
type Index struct {
	db *sql.DB
}

// New creates an Index backed by the given SQLite database.
func New(db *sql.DB) *Index {
	return &Index{db: db}
}

// Result pairs a turn id with its BM25 relevance score (positive, higher is
// more relevant).
type Result struct {
	TurnID int64
	Score  float64
}

// Index tokenizes and inserts text under the given turn id. Idempotent:
// re-indexing an id replaces the prior entry rather than duplicating it.
func (ix *Index) Index(ctx context.Context, id int64, text, createdAt string) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fts index begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns_fts WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("fts index clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns_fts (rowid, text, created_at) VALUES (?, ?, ?)`,
		id, text, createdAt); err != nil {
		return fmt.Errorf("fts index insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("fts index commit: %w", err)
	}
	return nil
}

// Remove deletes the entry for a turn id. Removing an absent id is a no-op,
// not an error.
func (ix *Index) Remove(ctx context.Context, id int64) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM turns_fts WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("fts remove: %w", err)
	}
	return nil
}

// RemoveAll deletes the entries for a batch of turn ids, continuing past
// individual failures and returning the first error seen.
func (ix *Index) RemoveAll(ctx context.Context, ids []int64) error {
	var first error
	for _, id := range ids {
		if err := ix.Remove(ctx, id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Search returns up to limit turn ids ranked by BM25 relevance, highest
// first, ties broken by more-recent created_at. An empty query returns no
// results. limit <= 0 is rejected before touching the index.
//
// The raw query is tried first so phrase and boolean syntax keep working;
// FTS5 syntax errors degrade to a literal-token search instead of failing
// the request.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, &protocol.InvalidArgumentError{Arg: "limit", Reason: "must be positive"}
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	results, err := ix.search(ctx, query, limit)
	if err == nil {
		return results, nil
	}

	// Malformed match expression (unbalanced quotes, stray operators):
	// retry with every term quoted as a literal token.
	sanitized := protocol.SanitizeFTS5Query(query)
	if sanitized == query {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	results, err = ix.search(ctx, sanitized, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search (sanitized): %w", err)
	}
	return results, nil
}

// search runs one MATCH query. bm25() returns negative scores where smaller
// is better; -bm25() makes the score a positive relevance.
func (ix *Index) search(ctx context.Context, match string, limit int) ([]Result, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT rowid, -bm25(turns_fts) AS score
		FROM turns_fts
		WHERE turns_fts MATCH ?
		ORDER BY score DESC, created_at DESC, rowid DESC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.TurnID, &r.Score); err != nil {
			return nil, fmt.Errorf("fts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fts rows: %w", err)
	}
	return results, nil
}

// Count returns the number of indexed entries, for stats and tests.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns_fts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("fts count: %w", err)
	}
	return n, nil
}
