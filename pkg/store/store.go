// Package store implements the canonical record store for conversation
// turns, backed by SQLite. It is the source of truth: the full-text and
// vector indexes derive from it and are reconciled against it. The store
// never touches those indexes itself; fan-out is the coordinator's job.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"komalam/pkg/protocol"

	"github.com/google/uuid"
)

// Store manages the conversations and turns tables in SQLite.
// Writes are serialized by SQLite itself (single-writer WAL); readers
// proceed concurrently.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given SQLite database. The caller owns
// the handle lifecycle: open at startup, close at shutdown.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// AppendParams holds parameters for appending a new turn.
type AppendParams struct {
	ConversationID string
	Role           string // user | assistant | system
	Text           string
}

// maxAutoTitle caps conversation titles derived from the first user turn.
const maxAutoTitle = 60

// CreateConversation inserts a new conversation and returns it. An empty
// title gets the schema default.
func (s *Store) CreateConversation(ctx context.Context, title string) (protocol.Conversation, error) {
	id := uuid.New().String()

	var err error
	if title == "" {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO conversations (id) VALUES (?)`, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO conversations (id, title) VALUES (?, ?)`, id, title)
	}
	if err != nil {
		return protocol.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	return s.Conversation(ctx, id)
}

// Conversation returns one conversation by id.
func (s *Store) Conversation(ctx context.Context, id string) (protocol.Conversation, error) {
	var c protocol.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Conversation{}, &protocol.NotFoundError{Kind: "conversation", ID: id}
	}
	if err != nil {
		return protocol.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// Conversations lists conversations, most recently updated first.
func (s *Store) Conversations(ctx context.Context, limit int) ([]protocol.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []protocol.Conversation
	for rows.Next() {
		var c protocol.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations rows: %w", err)
	}
	return out, nil
}

// RenameConversation sets a conversation title and bumps updated_at.
func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = datetime('now') WHERE id = ?`,
		title, id)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename conversation rows affected: %w", err)
	}
	if n == 0 {
		return &protocol.NotFoundError{Kind: "conversation", ID: id}
	}
	return nil
}

// Append inserts a new turn and bumps the conversation's updated_at in one
// transaction. The first user turn auto-titles a still-untitled conversation
// from its text. Returns the assigned monotonic turn id.
//
// Constraint violations (unknown role, missing conversation) surface as
// ConstraintError; Append never blocks on the derived indexes.
func (s *Store) Append(ctx context.Context, p AppendParams) (int64, error) {
	if !protocol.ValidRole(p.Role) {
		return 0, &protocol.ConstraintError{Op: "append", Reason: fmt.Sprintf("unknown role %q", p.Role)}
	}
	if p.ConversationID == "" {
		return 0, &protocol.ConstraintError{Op: "append", Reason: "empty conversation id"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ?`, p.ConversationID).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("append conversation check: %w", err)
	}
	if exists == 0 {
		return 0, &protocol.ConstraintError{Op: "append", Reason: fmt.Sprintf("conversation %s does not exist", p.ConversationID)}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, role, text) VALUES (?, ?, ?)`,
		p.ConversationID, p.Role, p.Text)
	if err != nil {
		if isConstraintErr(err) {
			return 0, &protocol.ConstraintError{Op: "append", Reason: err.Error()}
		}
		return 0, fmt.Errorf("append turn: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = datetime('now') WHERE id = ?`,
		p.ConversationID); err != nil {
		return 0, fmt.Errorf("append touch conversation: %w", err)
	}

	if p.Role == protocol.RoleUser {
		if err := autoTitle(ctx, tx, p.ConversationID, p.Text); err != nil {
			return 0, fmt.Errorf("append auto-title: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append commit: %w", err)
	}
	return id, nil
}

// autoTitle sets the conversation title from the first user turn when the
// title is still the schema default.
func autoTitle(ctx context.Context, tx *sql.Tx, convID, text string) error {
	title := strings.TrimSpace(text)
	if title == "" {
		return nil
	}
	runes := []rune(title)
	if len(runes) > maxAutoTitle {
		title = strings.TrimSpace(string(runes[:maxAutoTitle])) + "…"
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ? AND title = 'New Chat'`,
		title, convID)
	return err
}

// isConstraintErr reports whether err is a SQLite constraint violation
// (CHECK, FOREIGN KEY, UNIQUE). The modernc driver surfaces these as
// "constraint failed" message text.
func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}

// Get returns one turn by id, or NotFoundError.
func (s *Store) Get(ctx context.Context, id int64) (protocol.Turn, error) {
	var t protocol.Turn
	var embedding sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, text, created_at, embedding
		 FROM turns WHERE id = ?`, id,
	).Scan(&t.ID, &t.ConversationID, &t.Role, &t.Text, &t.CreatedAt, &embedding)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Turn{}, &protocol.NotFoundError{Kind: "turn", ID: fmt.Sprintf("%d", id)}
	}
	if err != nil {
		return protocol.Turn{}, fmt.Errorf("get turn: %w", err)
	}
	if embedding.Valid {
		t.Embedding = []byte(embedding.String)
	}
	return t, nil
}

// ListByConversation returns all turns of a conversation in strict creation
// order, oldest first. Ordering is by id: ids are assigned monotonically, so
// id order is creation order even when two turns share a timestamp.
func (s *Store) ListByConversation(ctx context.Context, convID string) ([]protocol.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, text, created_at, embedding
		 FROM turns WHERE conversation_id = ? ORDER BY id`, convID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// SetEmbedding attaches an embedding BLOB to a turn. Embeddings are set once
// after creation; setting again replaces the blob (re-embedding after a
// model change is allowed, nothing else mutates).
func (s *Store) SetEmbedding(ctx context.Context, id int64, blob []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE turns SET embedding = ? WHERE id = ?`, blob, id)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set embedding rows affected: %w", err)
	}
	if n == 0 {
		return &protocol.NotFoundError{Kind: "turn", ID: fmt.Sprintf("%d", id)}
	}
	return nil
}

// DeleteOlderThan bulk-deletes turns created strictly before cutoff
// (SQLite datetime text, e.g. "2026-08-24 00:00:00") and returns exactly the
// deleted ids so the derived indexes can be reconciled.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff string) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("delete older begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := collectIDs(ctx, tx, `SELECT id FROM turns WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete older collect: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turn_tags WHERE turn_id IN (SELECT id FROM turns WHERE created_at < ?)`, cutoff); err != nil {
		return nil, fmt.Errorf("delete older tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE created_at < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("delete older exec: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("delete older commit: %w", err)
	}
	return ids, nil
}

// DeleteConversation removes a conversation and all of its turns as one
// logical unit, returning the deleted turn ids for index reconciliation.
// Deleting an absent conversation returns no ids and no error.
func (s *Store) DeleteConversation(ctx context.Context, convID string) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("delete conversation begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := collectIDs(ctx, tx, `SELECT id FROM turns WHERE conversation_id = ?`, convID)
	if err != nil {
		return nil, fmt.Errorf("delete conversation collect: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turn_tags WHERE turn_id IN (SELECT id FROM turns WHERE conversation_id = ?)`, convID); err != nil {
		return nil, fmt.Errorf("delete conversation tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, convID); err != nil {
		return nil, fmt.Errorf("delete conversation turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, convID); err != nil {
		return nil, fmt.Errorf("delete conversation row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("delete conversation commit: %w", err)
	}
	return ids, nil
}

// TurnsMissingEmbedding returns turns that have no embedding yet, oldest
// first, capped at limit. This feeds the embedding retry sweep.
func (s *Store) TurnsMissingEmbedding(ctx context.Context, limit int) ([]protocol.Turn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, text, created_at, embedding
		 FROM turns WHERE embedding IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("turns missing embedding: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// CountMissingEmbedding returns the total number of turns without an
// embedding, uncapped. The stats surface uses this instead of
// TurnsMissingEmbedding so the figure is exact.
func (s *Store) CountMissingEmbedding(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE embedding IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count missing embedding: %w", err)
	}
	return n, nil
}

// EmbeddedTurns returns all turns that carry an embedding BLOB, oldest
// first. Used for startup reconciliation and full vector-index rebuilds.
func (s *Store) EmbeddedTurns(ctx context.Context) ([]protocol.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, text, created_at, embedding
		 FROM turns WHERE embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("embedded turns: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// Has reports whether a turn id is present in the store.
func (s *Store) Has(ctx context.Context, id int64) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("has turn: %w", err)
	}
	return n > 0, nil
}

// Counts returns the number of conversations and turns, for the stats
// surface.
func (s *Store) Counts(ctx context.Context) (conversations, turns int64, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&conversations); err != nil {
		return 0, 0, fmt.Errorf("count conversations: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&turns); err != nil {
		return 0, 0, fmt.Errorf("count turns: %w", err)
	}
	return conversations, turns, nil
}

// AddTag attaches a tag to a turn. Tagging is idempotent: re-adding an
// existing tag is a no-op. Returns NotFoundError when the turn does not
// exist.
func (s *Store) AddTag(ctx context.Context, turnID int64, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return &protocol.InvalidArgumentError{Arg: "tag", Reason: "must not be empty"}
	}
	ok, err := s.Has(ctx, turnID)
	if err != nil {
		return err
	}
	if !ok {
		return &protocol.NotFoundError{Kind: "turn", ID: fmt.Sprintf("%d", turnID)}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO turn_tags (turn_id, tag) VALUES (?, ?)`, turnID, tag); err != nil {
		return fmt.Errorf("add tag: %w", err)
	}
	return nil
}

// RemoveTag detaches a tag from a turn. Removing a tag that was never
// set is a quiet no-op.
func (s *Store) RemoveTag(ctx context.Context, turnID int64, tag string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM turn_tags WHERE turn_id = ? AND tag = ?`, turnID, tag); err != nil {
		return fmt.Errorf("remove tag: %w", err)
	}
	return nil
}

// TurnsByTag returns all turns carrying the given tag, newest first.
func (s *Store) TurnsByTag(ctx context.Context, tag string) ([]protocol.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.conversation_id, t.role, t.text, t.created_at, t.embedding
		 FROM turns t JOIN turn_tags tt ON tt.turn_id = t.id
		 WHERE tt.tag = ?
		 ORDER BY t.created_at DESC, t.id DESC`, tag)
	if err != nil {
		return nil, fmt.Errorf("turns by tag: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// AllTags returns every distinct tag in use, sorted.
func (s *Store) AllTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tag FROM turn_tags ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("all tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tag rows: %w", err)
	}
	return tags, nil
}

// collectIDs runs a single-column id query inside tx.
func collectIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanTurns drains a turn-shaped result set.
func scanTurns(rows *sql.Rows) ([]protocol.Turn, error) {
	var out []protocol.Turn
	for rows.Next() {
		var t protocol.Turn
		var embedding sql.NullString
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Text, &t.CreatedAt, &embedding); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if embedding.Valid {
			t.Embedding = []byte(embedding.String)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("turn rows: %w", err)
	}
	return out, nil
}
