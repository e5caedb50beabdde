package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"komalam/pkg/protocol"

	_ "modernc.org/sqlite"
)

// setupTestDB creates an in-memory SQLite database with the full schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("exec schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(setupTestDB(t))
}

func TestAppendAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	id, err := s.Append(ctx, AppendParams{
		ConversationID: conv.ID, Role: protocol.RoleUser, Text: "how do I deploy the service?",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive turn id, got %d", id)
	}

	turn, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if turn.Text != "how do I deploy the service?" {
		t.Errorf("text = %q", turn.Text)
	}
	if turn.Role != protocol.RoleUser {
		t.Errorf("role = %q", turn.Role)
	}
	if turn.Embedding != nil {
		t.Error("fresh turn should have no embedding")
	}
	if turn.CreatedAt == "" {
		t.Error("created_at should be set")
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), 9999)
	var notFound *protocol.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestAppendConstraints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	tests := []struct {
		name   string
		params AppendParams
	}{
		{"unknown role", AppendParams{ConversationID: conv.ID, Role: "bot", Text: "hi"}},
		{"empty conversation id", AppendParams{Role: protocol.RoleUser, Text: "hi"}},
		{"missing conversation", AppendParams{ConversationID: "no-such-conv", Role: protocol.RoleUser, Text: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Append(ctx, tt.params)
			var ce *protocol.ConstraintError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConstraintError, got %v", err)
			}
		})
	}
}

func TestListByConversationOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "ordering")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	texts := []string{"first", "second", "third"}
	var ids []int64
	for _, txt := range texts {
		id, err := s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleUser, Text: txt})
		if err != nil {
			t.Fatalf("append %q: %v", txt, err)
		}
		ids = append(ids, id)
	}

	turns, err := s.ListByConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(turns) != len(texts) {
		t.Fatalf("got %d turns, want %d", len(turns), len(texts))
	}
	for i, turn := range turns {
		if turn.Text != texts[i] {
			t.Errorf("position %d: text = %q, want %q", i, turn.Text, texts[i])
		}
		if turn.ID != ids[i] {
			t.Errorf("position %d: id = %d, want %d", i, turn.ID, ids[i])
		}
	}
}

func TestIDsAreMonotonicAndNeverReused(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	first, err := s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleUser, Text: "one"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// Delete everything, then append again: the new id must be strictly
	// greater than the deleted one: a recycled id could resurrect stale
	// index entries.
	if _, err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}

	conv2, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create conversation 2: %v", err)
	}
	second, err := s.Append(ctx, AppendParams{ConversationID: conv2.ID, Role: protocol.RoleUser, Text: "two"})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}

	if second <= first {
		t.Errorf("id %d not greater than deleted id %d", second, first)
	}
}

func TestAutoTitleFromFirstUserTurn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if conv.Title != "New Chat" {
		t.Fatalf("default title = %q", conv.Title)
	}

	long := strings.Repeat("deploy checklist ", 10) // > 60 runes
	if _, err := s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleUser, Text: long}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Conversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.Title == "New Chat" {
		t.Fatal("expected auto-title from first user turn")
	}
	if !strings.HasSuffix(got.Title, "…") {
		t.Errorf("long title should be truncated with ellipsis, got %q", got.Title)
	}

	// A second user turn must not overwrite the title.
	if _, err := s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleUser, Text: "something else"}); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	again, err := s.Conversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation 2: %v", err)
	}
	if again.Title != got.Title {
		t.Errorf("title changed from %q to %q", got.Title, again.Title)
	}
}

func TestSetEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	id, err := s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleAssistant, Text: "reply"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	blob := protocol.MarshalEmbedding([]float32{0.1, 0.2, 0.3})
	if err := s.SetEmbedding(ctx, id, blob); err != nil {
		t.Fatalf("set embedding: %v", err)
	}

	turn, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	vec := protocol.UnmarshalEmbedding(turn.Embedding)
	if len(vec) != 3 {
		t.Fatalf("embedding dims = %d, want 3", len(vec))
	}

	missing, err := s.TurnsMissingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no missing embeddings, got %d", len(missing))
	}

	var notFound *protocol.NotFoundError
	if err := s.SetEmbedding(ctx, 9999, blob); !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError for absent turn, got %v", err)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	db := setupTestDB(t)
	s := New(db)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	// One old turn (inserted with an explicit past timestamp) and one fresh.
	res, err := db.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, role, text, created_at)
		 VALUES (?, 'user', 'ancient history', datetime('now', '-10 days'))`, conv.ID)
	if err != nil {
		t.Fatalf("insert old: %v", err)
	}
	oldID, _ := res.LastInsertId()

	freshID, err := s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleUser, Text: "recent"})
	if err != nil {
		t.Fatalf("append fresh: %v", err)
	}

	var cutoff string
	if err := db.QueryRowContext(ctx, `SELECT datetime('now', '-5 days')`).Scan(&cutoff); err != nil {
		t.Fatalf("cutoff: %v", err)
	}

	deleted, err := s.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("delete older: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != oldID {
		t.Fatalf("deleted = %v, want [%d]", deleted, oldID)
	}

	// Idempotent: a second pass with no new data deletes nothing.
	deleted, err = s.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("delete older again: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("second pass deleted %v, want none", deleted)
	}

	if _, err := s.Get(ctx, freshID); err != nil {
		t.Errorf("fresh turn should survive: %v", err)
	}
}

func TestDeleteConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	var want []int64
	for _, txt := range []string{"a", "b"} {
		id, err := s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleUser, Text: txt})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		want = append(want, id)
	}

	ids, err := s.DeleteConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(ids) != len(want) {
		t.Fatalf("deleted %v, want %v", ids, want)
	}

	var notFound *protocol.NotFoundError
	if _, err := s.Conversation(ctx, conv.ID); !errors.As(err, &notFound) {
		t.Errorf("conversation should be gone, got %v", err)
	}
	for _, id := range want {
		if _, err := s.Get(ctx, id); !errors.As(err, &notFound) {
			t.Errorf("turn %d should be gone, got %v", id, err)
		}
	}

	// Deleting an absent conversation is a quiet no-op.
	ids, err = s.DeleteConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("absent delete returned ids %v", ids)
	}
}

func TestConversationsOrderedByRecency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateConversation(ctx, "first")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.CreateConversation(ctx, "second")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Appending to the first conversation bumps it above the second.
	// Force distinguishable updated_at values: datetime('now') has second
	// resolution, so set the older row explicitly into the past.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = datetime('now', '-1 hour') WHERE id = ?`,
		second.ID); err != nil {
		t.Fatalf("age second: %v", err)
	}
	if _, err := s.Append(ctx, AppendParams{ConversationID: first.ID, Role: protocol.RoleUser, Text: "bump"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	convs, err := s.Conversations(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations", len(convs))
	}
	if convs[0].ID != first.ID {
		t.Errorf("expected most recently touched conversation first, got %q", convs[0].Title)
	}
}

func TestRenameConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.RenameConversation(ctx, conv.ID, "Release planning"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, err := s.Conversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Release planning" {
		t.Errorf("title = %q", got.Title)
	}

	// A manual title is not overwritten by the auto-title on first user turn.
	if _, err := s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleUser, Text: "when do we ship"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err = s.Conversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Release planning" {
		t.Errorf("auto-title overwrote manual title: %q", got.Title)
	}

	err = s.RenameConversation(ctx, "no-such-id", "anything")
	var notFound *protocol.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("rename unknown id: err = %v, want NotFoundError", err)
	}
}

func TestTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var ids []int64
	for _, txt := range []string{"first", "second", "third"} {
		id, err := s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleUser, Text: txt})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, id)
	}

	if err := s.AddTag(ctx, ids[0], "important"); err != nil {
		t.Fatalf("add tag: %v", err)
	}
	if err := s.AddTag(ctx, ids[2], "important"); err != nil {
		t.Fatalf("add tag: %v", err)
	}
	if err := s.AddTag(ctx, ids[2], "followup"); err != nil {
		t.Fatalf("add tag: %v", err)
	}
	// Re-adding is idempotent.
	if err := s.AddTag(ctx, ids[0], "important"); err != nil {
		t.Fatalf("re-add tag: %v", err)
	}

	turns, err := s.TurnsByTag(ctx, "important")
	if err != nil {
		t.Fatalf("turns by tag: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d tagged turns, want 2", len(turns))
	}
	// Newest first.
	if turns[0].ID != ids[2] || turns[1].ID != ids[0] {
		t.Errorf("order = [%d %d], want [%d %d]", turns[0].ID, turns[1].ID, ids[2], ids[0])
	}

	tags, err := s.AllTags(ctx)
	if err != nil {
		t.Fatalf("all tags: %v", err)
	}
	if len(tags) != 2 || tags[0] != "followup" || tags[1] != "important" {
		t.Errorf("tags = %v, want [followup important]", tags)
	}

	if err := s.RemoveTag(ctx, ids[0], "important"); err != nil {
		t.Fatalf("remove tag: %v", err)
	}
	turns, err = s.TurnsByTag(ctx, "important")
	if err != nil {
		t.Fatalf("turns by tag: %v", err)
	}
	if len(turns) != 1 || turns[0].ID != ids[2] {
		t.Errorf("after removal turns = %v", turns)
	}

	// Removing an absent tag is a quiet no-op.
	if err := s.RemoveTag(ctx, ids[1], "never-set"); err != nil {
		t.Errorf("remove absent tag: %v", err)
	}
}

func TestTagValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, err := s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleUser, Text: "hello"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	var invalid *protocol.InvalidArgumentError
	if err := s.AddTag(ctx, id, "  "); !errors.As(err, &invalid) {
		t.Errorf("blank tag: err = %v, want InvalidArgumentError", err)
	}

	var notFound *protocol.NotFoundError
	if err := s.AddTag(ctx, 9999, "important"); !errors.As(err, &notFound) {
		t.Errorf("unknown turn: err = %v, want NotFoundError", err)
	}
}

func TestTagsCleanedUpWithTurns(t *testing.T) {
	db := setupTestDB(t)
	s := New(db)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, err := s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleUser, Text: "keep me tagged"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AddTag(ctx, id, "important"); err != nil {
		t.Fatalf("add tag: %v", err)
	}

	if _, err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turn_tags`).Scan(&n); err != nil {
		t.Fatalf("count tags: %v", err)
	}
	if n != 0 {
		t.Errorf("turn_tags has %d rows after conversation delete, want 0", n)
	}

	// Same cleanup through the retention path.
	conv, err = s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, role, text, created_at)
		 VALUES (?, 'user', 'ancient and tagged', datetime('now', '-10 days'))`, conv.ID)
	if err != nil {
		t.Fatalf("insert old: %v", err)
	}
	oldID, _ := res.LastInsertId()
	if err := s.AddTag(ctx, oldID, "important"); err != nil {
		t.Fatalf("add tag: %v", err)
	}

	var cutoff string
	if err := db.QueryRowContext(ctx, `SELECT datetime('now', '-5 days')`).Scan(&cutoff); err != nil {
		t.Fatalf("cutoff: %v", err)
	}
	if _, err := s.DeleteOlderThan(ctx, cutoff); err != nil {
		t.Fatalf("delete older: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turn_tags`).Scan(&n); err != nil {
		t.Fatalf("count tags: %v", err)
	}
	if n != 0 {
		t.Errorf("turn_tags has %d rows after retention delete, want 0", n)
	}
}

func TestCountMissingEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// More turns than the TurnsMissingEmbedding default cap, so the count
	// has to come from an uncapped query.
	const total = 150
	var lastID int64
	for i := 0; i < total; i++ {
		lastID, err = s.Append(ctx, AppendParams{ConversationID: conv.ID, Role: protocol.RoleUser, Text: "filler"})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.SetEmbedding(ctx, lastID, []byte("blob")); err != nil {
		t.Fatalf("set embedding: %v", err)
	}

	n, err := s.CountMissingEmbedding(ctx)
	if err != nil {
		t.Fatalf("count missing: %v", err)
	}
	if n != total-1 {
		t.Errorf("missing = %d, want %d", n, total-1)
	}
}
