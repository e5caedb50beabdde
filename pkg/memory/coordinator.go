// Package memory implements the coordinator for the komalam conversational
// memory core. The coordinator is the only component that mutates more than
// one store per logical operation and the only surface the rest of the
// application talks to: it fans writes out to the record store, full-text
// index, and vector index, and fans reads back in as a single ranked,
// bounded context set.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"komalam/pkg/embedder"
	"komalam/pkg/fulltext"
	"komalam/pkg/protocol"
	"komalam/pkg/store"
	"komalam/pkg/vector"
)

// Options configures a Coordinator.
type Options struct {
	// MaxResults caps the limit accepted by RetrieveContext. Zero means no
	// cap beyond the caller's limit.
	MaxResults int
	// QueueSize is the embed queue depth. Zero defaults to 64. A full queue
	// never blocks RecordTurn; overflow turns are picked up by
	// ReindexMissing.
	QueueSize int
	// SnapshotPath, when set, is where Close persists the vector index.
	SnapshotPath string
}

// Coordinator orchestrates the record store and both derived indexes.
//
// Writes to the two indexes are serialized per index but independent of each
// other; a failure in one never blocks the other. The record store is
// canonical: every read path resolves candidate ids through it and silently
// drops entries the indexes are still holding onto.
type Coordinator struct {
	db       *sql.DB
	store    *store.Store
	fulltext *fulltext.Index
	vector   *vector.Index
	provider embedder.Provider

	maxResults   int
	snapshotPath string

	queue     chan embedJob
	workerWG  sync.WaitGroup
	closeOnce sync.Once
}

// embedJob is one pending embedding+vector-index insertion. A job with a
// non-nil done channel is a flush barrier.
type embedJob struct {
	turnID int64
	text   string
	done   chan struct{}
}

// NewCoordinator wires the coordinator to its stores and starts the
// background embedding worker. provider may be nil, in which case turns stay
// full-text-only until something calls ReindexMissing with a provider-backed
// coordinator.
func NewCoordinator(db *sql.DB, st *store.Store, ft *fulltext.Index, vec *vector.Index, provider embedder.Provider, opts Options) *Coordinator {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	c := &Coordinator{
		db:           db,
		store:        st,
		fulltext:     ft,
		vector:       vec,
		provider:     provider,
		maxResults:   opts.MaxResults,
		snapshotPath: opts.SnapshotPath,
		queue:        make(chan embedJob, queueSize),
	}

	c.workerWG.Add(1)
	go c.embedWorker()

	return c
}

// Store exposes the underlying record store for read-only callers (history
// and stats surfaces).
func (c *Coordinator) Store() *store.Store { return c.store }

// VectorLen returns the number of vectors currently indexed.
func (c *Coordinator) VectorLen() int { return c.vector.Len() }

// RecordTurn appends a turn to the record store and indexes its text
// synchronously; the embedding and vector-index insertion are scheduled on
// the background worker so the caller is never blocked on provider latency.
//
// It returns once the store write and full-text index are committed.
// Store-level constraint violations surface to the caller; a full-text
// index write failure is logged and self-heals on the next reconciliation,
// because a recorded turn must never be lost to its index.
func (c *Coordinator) RecordTurn(ctx context.Context, conversationID, role, text string) (int64, error) {
	id, err := c.store.Append(ctx, store.AppendParams{
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
	})
	if err != nil {
		return 0, fmt.Errorf("record turn: %w", err)
	}

	turn, err := c.store.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("record turn readback: %w", err)
	}

	if err := c.fulltext.Index(ctx, id, text, turn.CreatedAt); err != nil {
		c.logEvent(ctx, protocol.EventIndexInconsistency, "coordinator", conversationID, id,
			fmt.Sprintf("fulltext index: %v", err))
	}

	if c.provider != nil {
		select {
		case c.queue <- embedJob{turnID: id, text: text}:
		default:
			// Queue full: leave the turn for the lazy reindex sweep.
		}
	}

	return id, nil
}

// embedWorker drains the embed queue until Close.
func (c *Coordinator) embedWorker() {
	defer c.workerWG.Done()
	for job := range c.queue {
		if job.done != nil {
			close(job.done)
			continue
		}
		c.embedOne(context.Background(), job.turnID, job.text)
	}
}

// embedOne runs the long-pole half of RecordTurn: provider call, durable
// blob write, vector insert. Failures leave the turn full-text-only and are
// logged; they are retried by ReindexMissing.
func (c *Coordinator) embedOne(ctx context.Context, id int64, text string) bool {
	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		c.logEvent(ctx, protocol.EventEmbedFailed, "coordinator", "", id, err.Error())
		return false
	}
	if len(vec) != c.vector.Dim() {
		c.logEvent(ctx, protocol.EventEmbedFailed, "coordinator", "", id,
			(&protocol.DimensionMismatchError{Want: c.vector.Dim(), Got: len(vec)}).Error())
		return false
	}

	// Durable blob first; the graph is a cache of it. A turn pruned while
	// its embedding was in flight just skips both writes.
	if err := c.store.SetEmbedding(ctx, id, protocol.MarshalEmbedding(vec)); err != nil {
		var notFound *protocol.NotFoundError
		if !errors.As(err, &notFound) {
			c.logEvent(ctx, protocol.EventEmbedFailed, "coordinator", "", id, err.Error())
		}
		return false
	}
	if err := c.vector.Add(id, vec); err != nil {
		c.logEvent(ctx, protocol.EventEmbedFailed, "coordinator", "", id, err.Error())
		return false
	}
	return true
}

// Scored pairs a turn id with a normalized relevance score in [0, 1].
type Scored struct {
	TurnID int64
	Score  float64
}

// normalizeFulltext squashes a positive BM25 relevance into [0, 1).
// Monotonic, so ranking within the full-text list is preserved.
func normalizeFulltext(s float64) float64 {
	if s <= 0 {
		return 0
	}
	return s / (s + 1)
}

// mergeCandidates unions two normalized result lists, scoring each candidate
// by the maximum of its two scores. The returned slice is sorted by score
// descending, ties by higher turn id (callers re-sort with recency once the
// rows are resolved). The max-of-scores fusion is a tunable default: a turn
// that either index is confident about should surface.
func mergeCandidates(ft, vec []Scored) []Scored {
	fused := make(map[int64]float64, len(ft)+len(vec))
	for _, s := range ft {
		if prev, ok := fused[s.TurnID]; !ok || s.Score > prev {
			fused[s.TurnID] = s.Score
		}
	}
	for _, s := range vec {
		if prev, ok := fused[s.TurnID]; !ok || s.Score > prev {
			fused[s.TurnID] = s.Score
		}
	}

	out := make([]Scored, 0, len(fused))
	for id, score := range fused {
		out = append(out, Scored{TurnID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TurnID > out[j].TurnID
	})
	return out
}

// RetrieveContext runs both index searches for the query and merges them
// into a ranked, bounded, deduplicated memory context.
//
// queryVec may be nil: it is then derived from queryText through the
// provider, and a provider failure degrades the call to full-text-only
// rather than failing it. Every surviving candidate is resolved through the
// record store; ids the indexes still hold for deleted turns are dropped,
// logged, and lazily removed.
func (c *Coordinator) RetrieveContext(ctx context.Context, conversationID, queryText string, queryVec []float32, limit int) ([]protocol.Turn, error) {
	if limit <= 0 {
		return nil, &protocol.InvalidArgumentError{Arg: "limit", Reason: "must be positive"}
	}
	if c.maxResults > 0 && limit > c.maxResults {
		limit = c.maxResults
	}

	var ftScored []Scored
	if strings.TrimSpace(queryText) != "" {
		results, err := c.fulltext.Search(ctx, queryText, limit)
		if err != nil {
			// Read-path degradation: vector search may still produce context.
			c.logEvent(ctx, protocol.EventIndexInconsistency, "coordinator", conversationID, 0,
				fmt.Sprintf("fulltext search: %v", err))
		}
		for _, r := range results {
			ftScored = append(ftScored, Scored{TurnID: r.TurnID, Score: normalizeFulltext(r.Score)})
		}
	}

	if queryVec == nil && c.provider != nil && strings.TrimSpace(queryText) != "" {
		vec, err := c.provider.Embed(ctx, queryText)
		if err == nil && len(vec) == c.vector.Dim() {
			queryVec = vec
		}
		// Provider failure: degrade to full-text only.
	}

	var vecScored []Scored
	if queryVec != nil {
		results, err := c.vector.Search(queryVec, limit)
		if err != nil {
			var invalid *protocol.InvalidArgumentError
			var mismatch *protocol.DimensionMismatchError
			if errors.As(err, &invalid) || errors.As(err, &mismatch) {
				return nil, fmt.Errorf("retrieve context: %w", err)
			}
		}
		for _, r := range results {
			vecScored = append(vecScored, Scored{TurnID: r.TurnID, Score: vector.NormalizeDistance(c.vector.Metric(), r.Distance)})
		}
	}

	merged := mergeCandidates(ftScored, vecScored)

	// Resolve every candidate through the store before the final cut so the
	// recency tie-break uses real created_at values and deleted turns are
	// dropped instead of returned.
	type resolved struct {
		turn  protocol.Turn
		score float64
	}
	out := make([]resolved, 0, len(merged))
	for _, cand := range merged {
		turn, err := c.store.Get(ctx, cand.TurnID)
		if err != nil {
			var notFound *protocol.NotFoundError
			if errors.As(err, &notFound) {
				c.dropDangling(ctx, conversationID, cand.TurnID)
				continue
			}
			return nil, fmt.Errorf("retrieve context resolve %d: %w", cand.TurnID, err)
		}
		out = append(out, resolved{turn: turn, score: cand.Score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].turn.CreatedAt != out[j].turn.CreatedAt {
			return out[i].turn.CreatedAt > out[j].turn.CreatedAt
		}
		return out[i].turn.ID > out[j].turn.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}

	turns := make([]protocol.Turn, len(out))
	for i, r := range out {
		turns[i] = r.turn
	}
	return turns, nil
}

// dropDangling removes an index entry whose turn no longer exists in the
// store. Self-healing, never surfaced to the retrieval caller.
func (c *Coordinator) dropDangling(ctx context.Context, conversationID string, id int64) {
	c.logEvent(ctx, protocol.EventIndexInconsistency, "coordinator", conversationID, id,
		"dropped index entry for deleted turn")
	_ = c.fulltext.Remove(ctx, id)
	c.vector.Remove(id)
}

// DeleteConversation removes a conversation and its turns from the record
// store first (it is canonical), then from both indexes. Index removal
// failures are logged and corrected lazily by resolve-through-store; they
// never surface to the caller.
func (c *Coordinator) DeleteConversation(ctx context.Context, conversationID string) error {
	ids, err := c.store.DeleteConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	if err := c.fulltext.RemoveAll(ctx, ids); err != nil {
		c.logEvent(ctx, protocol.EventIndexInconsistency, "coordinator", conversationID, 0,
			fmt.Sprintf("fulltext removal: %v", err))
	}
	c.vector.RemoveAll(ids)

	c.logEvent(ctx, protocol.EventConversationDelete, "coordinator", conversationID, 0,
		fmt.Sprintf("%d turns deleted", len(ids)))
	return nil
}

// PruneOlderThan bulk-deletes turns created before cutoff from the store and
// both indexes, returning the number of turns removed. Idempotent: a second
// run with no new data deletes nothing.
func (c *Coordinator) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	cutoffStr := cutoff.UTC().Format("2006-01-02 15:04:05")

	ids, err := c.store.DeleteOlderThan(ctx, cutoffStr)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := c.fulltext.RemoveAll(ctx, ids); err != nil {
		c.logEvent(ctx, protocol.EventIndexInconsistency, "pruner", "", 0,
			fmt.Sprintf("fulltext removal: %v", err))
	}
	c.vector.RemoveAll(ids)

	c.logEvent(ctx, protocol.EventPrune, "pruner", "", 0,
		fmt.Sprintf("%d turns pruned before %s", len(ids), cutoffStr))
	return len(ids), nil
}

// ReindexMissing sweeps turns that still lack an embedding and retries them
// synchronously through the provider. Returns how many were embedded. This
// is the recovery path after provider outages and embed-queue overflow.
func (c *Coordinator) ReindexMissing(ctx context.Context, limit int) (int, error) {
	if c.provider == nil {
		return 0, nil
	}

	turns, err := c.store.TurnsMissingEmbedding(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("reindex missing: %w", err)
	}

	n := 0
	for _, turn := range turns {
		if err := ctx.Err(); err != nil {
			return n, fmt.Errorf("reindex missing: %w", err)
		}
		if c.embedOne(ctx, turn.ID, turn.Text) {
			n++
		}
	}
	return n, nil
}

// SweepVectorOrphans removes vector entries whose turn no longer exists
// in the store. It runs at startup right after a snapshot load, so a
// snapshot written before a delete never resurrects pruned turns, and as
// the first pass of Reconcile. Returns the number of entries dropped.
func (c *Coordinator) SweepVectorOrphans(ctx context.Context) (int, error) {
	dropped := 0
	for _, id := range c.vector.IDs() {
		ok, err := c.store.Has(ctx, id)
		if err != nil {
			return dropped, fmt.Errorf("sweep vector orphans: %w", err)
		}
		if !ok {
			c.vector.Remove(id)
			dropped++
		}
	}
	return dropped, nil
}

// Reconcile walks both indexes against the record store and repairs every
// divergence it finds: index entries for deleted turns are removed, embedded
// turns missing from the vector graph are re-added, and stored turns missing
// from the full-text table are re-indexed. Returns the number of repairs.
func (c *Coordinator) Reconcile(ctx context.Context) (int, error) {
	repairs, err := c.SweepVectorOrphans(ctx)
	if err != nil {
		return repairs, err
	}

	// Full-text rows whose turn is gone. SQL-side so the sweep does not
	// page the whole index through Go.
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM turns_fts WHERE rowid NOT IN (SELECT id FROM turns)`)
	if err != nil {
		return repairs, fmt.Errorf("reconcile fulltext orphans: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		repairs += int(n)
	}

	// Turns with a durable embedding that the graph lost (crash before
	// snapshot, snapshot discarded on dimension change).
	embedded, err := c.store.EmbeddedTurns(ctx)
	if err != nil {
		return repairs, fmt.Errorf("reconcile: %w", err)
	}
	for _, turn := range embedded {
		if c.vector.Has(turn.ID) {
			continue
		}
		vec := protocol.UnmarshalEmbedding(turn.Embedding)
		if len(vec) != c.vector.Dim() {
			continue
		}
		if err := c.vector.Add(turn.ID, vec); err != nil {
			return repairs, fmt.Errorf("reconcile vector add %d: %w", turn.ID, err)
		}
		repairs++
	}

	// Turns the full-text index never received (write failure at record
	// time). Insert via the index so the write path stays single.
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, text, created_at FROM turns WHERE id NOT IN (SELECT rowid FROM turns_fts)`)
	if err != nil {
		return repairs, fmt.Errorf("reconcile fulltext gaps: %w", err)
	}
	type gap struct {
		id        int64
		text      string
		createdAt string
	}
	var gaps []gap
	for rows.Next() {
		var g gap
		if err := rows.Scan(&g.id, &g.text, &g.createdAt); err != nil {
			rows.Close()
			return repairs, fmt.Errorf("reconcile fulltext gaps: %w", err)
		}
		gaps = append(gaps, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return repairs, fmt.Errorf("reconcile fulltext gaps: %w", err)
	}
	for _, g := range gaps {
		if err := c.fulltext.Index(ctx, g.id, g.text, g.createdAt); err != nil {
			return repairs, fmt.Errorf("reconcile fulltext index %d: %w", g.id, err)
		}
		repairs++
	}

	if repairs > 0 {
		c.logEvent(ctx, protocol.EventReconcile, "coordinator", "", 0,
			fmt.Sprintf("%d repairs", repairs))
	}
	return repairs, nil
}

// Flush blocks until every embed job queued before the call has finished.
func (c *Coordinator) Flush() {
	done := make(chan struct{})
	c.queue <- embedJob{done: done}
	<-done
}

// Close stops the embedding worker, drains outstanding jobs, and persists
// the vector snapshot when a path is configured. Safe to call once;
// operations after Close panic on the closed queue by design.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.queue)
		c.workerWG.Wait()
		if c.snapshotPath != "" {
			if saveErr := c.vector.Save(c.snapshotPath); saveErr != nil {
				err = fmt.Errorf("close: %w", saveErr)
			}
		}
	})
	return err
}

// logEvent writes one row to the events audit table. Best-effort: an event
// insert failure never fails the operation that produced it.
func (c *Coordinator) logEvent(ctx context.Context, evType, source, conversationID string, turnID int64, payload string) {
	_, _ = c.db.ExecContext(ctx,
		`INSERT INTO events (type, source, conversation_id, turn_id, payload) VALUES (?, ?, ?, ?, ?)`,
		evType, source, conversationID, turnID, payload)
}
