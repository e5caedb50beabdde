package protocol

import "fmt"

// NotFoundError reports a lookup for an id or conversation that is absent
// from the record store. Recoverable; the caller decides what to do.
type NotFoundError struct {
	Kind string // "turn" | "conversation"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidArgumentError reports a malformed limit, k, or other argument.
// Rejected before any mutation takes place.
type InvalidArgumentError struct {
	Arg    string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Arg, e.Reason)
}

// DimensionMismatchError reports a vector whose length does not match the
// configured embedding dimension. The turn keeps no vector entry and stays
// retrievable through full-text search only.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// ConstraintError reports a store-level invariant violation (unknown role,
// missing conversation, id reuse). Fatal to the operation, never silently
// ignored.
type ConstraintError struct {
	Op     string
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violation in %s: %s", e.Op, e.Reason)
}

// IndexInconsistencyError reports a detected mismatch between the record
// store and a derived index. It is logged and self-healed through
// resolve-through-store reconciliation; it never surfaces to callers of the
// retrieval path.
type IndexInconsistencyError struct {
	Index  string // "fulltext" | "vector"
	TurnID int64
}

func (e *IndexInconsistencyError) Error() string {
	return fmt.Sprintf("%s index entry %d has no record store row", e.Index, e.TurnID)
}

// ProviderError reports an external embedding provider failure. The turn is
// still recorded and full-text-searchable; vector indexing is retried later.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
