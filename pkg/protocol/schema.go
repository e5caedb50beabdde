package protocol

// SchemaDDL defines the SQLite schema for the komalam memory database.
// Tables: conversations, turns, turns_fts (FTS5), turn_tags, events.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
//
// turns.id uses AUTOINCREMENT so ids are monotonically assigned and never
// reused after deletion; a recycled id could resurrect a stale entry in a
// derived index.
//
// turns_fts is a standalone FTS5 table keyed by rowid = turn id. It is kept
// in sync explicitly by the full-text index component, not by triggers: index
// and remove are coordinator fan-out operations with their own failure
// semantics. created_at rides along UNINDEXED for recency tie-breaking.
const SchemaDDL = `
-- Conversations group turns; updated_at is bumped on every appended turn
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT 'New Chat',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Conversation turns: the canonical record store all indexes derive from
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL REFERENCES conversations(id),
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    text TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    embedding BLOB
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);
CREATE INDEX IF NOT EXISTS idx_turns_created_at ON turns(created_at);

-- FTS5 full-text index over turn text for BM25-ranked keyword search
CREATE VIRTUAL TABLE IF NOT EXISTS turns_fts USING fts5(
    text,
    created_at UNINDEXED
);

-- User-assigned tags on turns; the primary key makes tagging idempotent.
-- Rows are deleted explicitly alongside their turn so cleanup does not
-- depend on the foreign_keys pragma being set on every connection.
CREATE TABLE IF NOT EXISTS turn_tags (
    turn_id INTEGER NOT NULL REFERENCES turns(id),
    tag TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (turn_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_turn_tags_tag ON turn_tags(tag);

-- Operational audit log for the memory core
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    conversation_id TEXT,
    turn_id INTEGER,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`
