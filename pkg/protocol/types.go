// Package protocol holds the shared row types, SQLite schema, and error
// taxonomy for the komalam conversational memory core. Every other package
// speaks in these types; none of them defines its own row structs.
package protocol

// Turn roles. A turn is one message in a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ValidRole reports whether role is one of the three recognized turn roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant || role == RoleSystem
}

// Turn represents a row in the turns SQLite table: one message in a
// conversation. Turns are append-only; id, conversation id, role, text, and
// created_at are immutable after insert. Embedding is attached once,
// asynchronously, and stays nil when the embedding provider failed.
type Turn struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Text           string `json:"text"`
	CreatedAt      string `json:"created_at"`
	Embedding      []byte `json:"embedding,omitempty"`
}

// Conversation represents a row in the conversations SQLite table.
// UpdatedAt is bumped on every appended turn so listings sort by recency.
type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Event types written to the events audit table by the coordinator and
// pruner. The eventlog package reads them back.
const (
	EventEmbedFailed        = "embed_failed"
	EventIndexInconsistency = "index_inconsistency"
	EventPrune              = "prune"
	EventConversationDelete = "conversation_deleted"
	EventReconcile          = "reconcile"
)
