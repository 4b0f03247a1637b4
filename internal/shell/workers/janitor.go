package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opsline/deckhand/internal/shell/store"
)

// JanitorConfig configures the run journal janitor.
type JanitorConfig struct {
	// Interval is the time between pruning cycles.
	// Default: 1 hour.
	Interval time.Duration

	// Retention is how long finished runs are kept.
	// Default: 30 days.
	Retention time.Duration

	// KeepPerTarget is the number of most recent runs preserved per target
	// regardless of age, so a rarely deployed target never loses its whole
	// history.
	// Default: 20.
	KeepPerTarget int
}

// DefaultJanitorConfig returns the default configuration.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval:      time.Hour,
		Retention:     30 * 24 * time.Hour,
		KeepPerTarget: 20,
	}
}

// Janitor periodically prunes old finished runs from the journal. Pending
// and running runs are never touched.
type Janitor struct {
	store  store.Store
	config JanitorConfig
	logger *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a new janitor worker.
func NewJanitor(s store.Store, config JanitorConfig, logger *slog.Logger) *Janitor {
	if config.Interval == 0 {
		config.Interval = time.Hour
	}
	if config.Retention == 0 {
		config.Retention = 30 * 24 * time.Hour
	}
	if config.KeepPerTarget == 0 {
		config.KeepPerTarget = 20
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		store:  s,
		config: config,
		logger: logger.With("component", "janitor"),
	}
}

// Start begins the janitor background goroutine.
func (j *Janitor) Start() {
	j.ctx, j.cancel = context.WithCancel(context.Background())

	j.wg.Add(1)
	go j.run()

	j.logger.Info("janitor started",
		"interval", j.config.Interval,
		"retention", j.config.Retention,
		"keep_per_target", j.config.KeepPerTarget,
	)
}

// Stop gracefully stops the janitor.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
	j.logger.Info("janitor stopped")
}

func (j *Janitor) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.runCycle()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.runCycle()
		}
	}
}

// runCycle executes a single pruning pass.
func (j *Janitor) runCycle() {
	ctx, cancel := context.WithTimeout(j.ctx, time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.config.Retention)

	pruned, err := j.store.PruneRuns(ctx, cutoff, j.config.KeepPerTarget)
	if err != nil {
		j.logger.Error("failed to prune runs", "error", err)
		return
	}

	if pruned > 0 {
		j.logger.Info("pruned old runs", "count", pruned, "cutoff", cutoff.Format(time.RFC3339))
	}
}
