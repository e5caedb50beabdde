package main

import (
	"context"
	"database/sql"
	"fmt"

	"komalam/pkg/embedder"
	"komalam/pkg/fulltext"
	"komalam/pkg/memory"
	"komalam/pkg/store"
	"komalam/pkg/vector"
)

// core bundles the fully wired memory subsystem for one CLI invocation.
type core struct {
	paths *Paths
	cfg   Config
	db    *sql.DB
	coord *memory.Coordinator
}

// openCore resolves paths, loads config, opens the database, restores the
// vector snapshot, and wires the coordinator. Every command that touches
// the memory store goes through here so they all see the same state.
func openCore() (*core, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}

	cfg, err := LoadConfig(paths.ConfigPath)
	if err != nil {
		return nil, err
	}

	db, err := openMemoryDB(paths.DBPath)
	if err != nil {
		return nil, err
	}

	metric, err := cfg.MetricValue()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	vec, err := vector.New(vector.Options{Dim: cfg.EmbeddingDim, Metric: metric})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vector index: %w", err)
	}
	// Snapshot restore is best-effort: a missing or stale file just means
	// the graph starts empty and reindex rebuilds it from stored blobs.
	if err := vec.Load(paths.VectorPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load vector snapshot: %w", err)
	}

	provider := embedder.NewOllamaProvider(cfg.OllamaURL, cfg.EmbedModel, cfg.EmbeddingDim)

	coord := memory.NewCoordinator(db, store.New(db), fulltext.New(db), vec, provider, memory.Options{
		MaxResults:   cfg.MaxMemoryResults,
		SnapshotPath: paths.VectorPath,
	})

	// The snapshot can be older than the store, so drop vector entries for
	// turns that were deleted after it was written.
	if _, err := coord.SweepVectorOrphans(context.Background()); err != nil {
		_ = coord.Close()
		_ = db.Close()
		return nil, fmt.Errorf("sweep vector snapshot: %w", err)
	}

	return &core{paths: paths, cfg: cfg, db: db, coord: coord}, nil
}

// Close flushes pending embeddings, saves the vector snapshot, and closes
// the database.
func (c *core) Close() error {
	err := c.coord.Close()
	if dbErr := c.db.Close(); err == nil {
		err = dbErr
	}
	return err
}
