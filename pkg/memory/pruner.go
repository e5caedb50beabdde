package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HorizonFunc reports the current retention horizon. Zero disables pruning.
// The pruner re-reads it on every cycle so horizon changes apply without a
// restart.
type HorizonFunc func() (time.Duration, error)

// PrunerConfig configures a Pruner.
type PrunerConfig struct {
	// Horizon supplies the retention window. Required.
	Horizon HorizonFunc
	// ConfigPath, when set, is watched for changes so a new horizon takes
	// effect immediately instead of on the next tick.
	ConfigPath string
	// Interval is the safety-net tick between prune cycles (default 1h).
	Interval time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Pruner periodically trims turns older than the configured retention
// horizon. It watches the config file for horizon changes and falls back to
// a plain ticker when the watch cannot be established.
type Pruner struct {
	coord    *Coordinator
	horizon  HorizonFunc
	confPath string
	interval time.Duration
	now      func() time.Time
}

// NewPruner builds a pruner over coord.
func NewPruner(coord *Coordinator, cfg PrunerConfig) (*Pruner, error) {
	if cfg.Horizon == nil {
		return nil, fmt.Errorf("pruner: horizon func required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pruner{
		coord:    coord,
		horizon:  cfg.Horizon,
		confPath: cfg.ConfigPath,
		interval: interval,
		now:      now,
	}, nil
}

// RunOnce executes a single prune cycle: read the horizon, delete everything
// older than now minus horizon. A zero horizon is an explicit "keep forever"
// and deletes nothing.
func (p *Pruner) RunOnce(ctx context.Context) (int, error) {
	horizon, err := p.horizon()
	if err != nil {
		return 0, fmt.Errorf("pruner: %w", err)
	}
	if horizon <= 0 {
		return 0, nil
	}
	return p.coord.PruneOlderThan(ctx, p.now().Add(-horizon))
}

// Run prunes until ctx is cancelled. Config file changes trigger an
// immediate cycle; the ticker is the safety net. Falls back to pure polling
// when the file watch cannot be established.
func (p *Pruner) Run(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil {
		p.coord.logEvent(ctx, "prune_error", "pruner", "", 0, err.Error())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil || p.confPath == "" {
		p.runPoll(ctx)
		return
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: editors replace config files by
	// rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(p.confPath)); err != nil {
		p.runPoll(ctx)
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-watcher.Events:
			if filepath.Clean(ev.Name) != filepath.Clean(p.confPath) {
				continue
			}
			if _, err := p.RunOnce(ctx); err != nil {
				p.coord.logEvent(ctx, "prune_error", "pruner", "", 0, err.Error())
			}
		case err := <-watcher.Errors:
			if err != nil {
				p.coord.logEvent(ctx, "watcher_error", "pruner", "", 0, err.Error())
			}
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.coord.logEvent(ctx, "prune_error", "pruner", "", 0, err.Error())
			}
		}
	}
}

// runPoll is the fallback loop when no file watch is available.
func (p *Pruner) runPoll(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.coord.logEvent(ctx, "prune_error", "pruner", "", 0, err.Error())
			}
		}
	}
}
