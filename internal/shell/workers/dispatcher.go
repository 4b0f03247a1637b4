// Package workers contains Deckhand's background workers: the per-target
// dispatch lanes and the run journal janitor.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opsline/deckhand/internal/core/dispatch"
	"github.com/opsline/deckhand/internal/core/domain"
	"github.com/opsline/deckhand/internal/shell/store"
)

// =============================================================================
// Dispatcher Config
// =============================================================================

// DispatcherConfig configures the dispatcher worker.
type DispatcherConfig struct {
	// MaxQueuePerTarget caps the pending runs behind each target's active
	// run.
	// Default: 8.
	MaxQueuePerTarget int

	// DrainTimeout bounds the journal writes that settle still-queued runs
	// during shutdown.
	// Default: 10 seconds.
	DrainTimeout time.Duration
}

// DefaultDispatcherConfig returns the default configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxQueuePerTarget: 8,
		DrainTimeout:      10 * time.Second,
	}
}

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// RunExecutor executes one deploy run against a target and settles it in the
// journal. internal/shell/deploy.Engine is the production implementation.
type RunExecutor interface {
	Execute(ctx context.Context, target domain.Target, run *domain.Run) error
}

// Notifier is told about every run the dispatcher finished executing,
// whatever the outcome. Implementations must not block for long; they run
// on the lane goroutine.
type Notifier interface {
	RunFinished(ctx context.Context, run *domain.Run)
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher owns one serial lane per configured target. Submissions are
// admitted through dispatch.Decide and recorded in the journal; a goroutine
// per lane then executes queued runs strictly one at a time, so two deploys
// can never race on the same deployment directory. Distinct targets deploy
// concurrently.
type Dispatcher struct {
	store    store.Store
	engine   RunExecutor
	notifier Notifier
	config   DispatcherConfig
	logger   *slog.Logger

	// mu guards lanes. Submit holds it across the journal write so lane
	// state and journal never disagree about what is queued.
	mu    sync.Mutex
	lanes map[string]*lane

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// lane is the dispatcher's runtime state for one target.
type lane struct {
	target domain.Target
	queue  []dispatch.QueuedRun
	active string

	// wake has capacity 1: a send is dropped when the worker already has a
	// pending wakeup, and the worker drains the whole queue per wakeup.
	wake chan struct{}
}

// LaneStatus is one target's queue view, as reported to the management API.
type LaneStatus struct {
	Target       string   `json:"target"`
	ActiveRunID  string   `json:"active_run_id,omitempty"`
	QueuedRunIDs []string `json:"queued_run_ids,omitempty"`
}

// NewDispatcher creates a dispatcher with one lane per target. Targets are
// fixed for the life of the process; changing them means a restart with new
// configuration.
func NewDispatcher(targets []domain.Target, s store.Store, engine RunExecutor, notifier Notifier, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if config.MaxQueuePerTarget == 0 {
		config.MaxQueuePerTarget = 8
	}
	if config.DrainTimeout == 0 {
		config.DrainTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	lanes := make(map[string]*lane, len(targets))
	for _, t := range targets {
		lanes[t.Name] = &lane{
			target: t,
			wake:   make(chan struct{}, 1),
		}
	}

	return &Dispatcher{
		store:    s,
		engine:   engine,
		notifier: notifier,
		config:   config,
		logger:   logger.With("component", "dispatcher"),
		lanes:    lanes,
	}
}

// Start launches one worker goroutine per lane.
func (d *Dispatcher) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())

	for _, l := range d.lanes {
		d.wg.Add(1)
		go d.runLane(l)
	}

	d.logger.Info("dispatcher started",
		"targets", len(d.lanes),
		"max_queue_per_target", d.config.MaxQueuePerTarget,
	)
}

// Stop gracefully stops the dispatcher. It waits for in-flight runs to
// settle, then marks runs that never left the queue as failed so the journal
// does not report phantom pending work after a restart.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.drainQueues()
	d.logger.Info("dispatcher stopped")
}

// Submit admits a deploy request for a target. The returned run is either
// the newly created pending run or, on coalesce, the already queued run
// refreshed with the newer commit. The decision says which.
func (d *Dispatcher) Submit(ctx context.Context, targetName string, trigger domain.TriggerKind, ref, commit string) (*domain.Run, dispatch.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.lanes[targetName]
	if !ok {
		return nil, dispatch.Decision{}, fmt.Errorf("target %q: %w", targetName, domain.ErrTargetNotFound)
	}

	decision := dispatch.Decide(
		dispatch.Request{Target: targetName, Ref: ref, Commit: commit},
		dispatch.QueueState{
			ActiveRunID: l.active,
			Queued:      l.queue,
			MaxQueue:    d.config.MaxQueuePerTarget,
		},
	)

	logger := d.logger.With("target", targetName, "ref", ref, "action", decision.Action)

	switch decision.Action {
	case dispatch.ActionReject:
		logger.Warn("deploy request rejected", "reason", decision.Reason)
		return nil, decision, fmt.Errorf("target %q: %s: %w", targetName, decision.Reason, decision.Err)

	case dispatch.ActionCoalesce:
		run, err := d.store.GetRun(ctx, decision.CoalesceRunID)
		if err != nil {
			return nil, decision, fmt.Errorf("load queued run %s: %w", decision.CoalesceRunID, err)
		}
		run.Commit = commit
		run.UpdatedAt = time.Now().UTC()
		if err := d.store.UpdateRun(ctx, run); err != nil {
			return nil, decision, fmt.Errorf("refresh queued run %s: %w", run.ID, err)
		}
		logger.Info("deploy request coalesced", "run_id", run.ID, "commit", commit)
		return run, decision, nil

	default: // ActionStart, ActionEnqueue
		run, err := domain.NewRun(targetName, trigger, ref)
		if err != nil {
			return nil, decision, err
		}
		run.Commit = commit
		if err := d.store.CreateRun(ctx, run); err != nil {
			return nil, decision, fmt.Errorf("journal run: %w", err)
		}
		l.queue = append(l.queue, dispatch.QueuedRun{RunID: run.ID, Ref: ref})
		d.wakeLane(l)
		logger.Info("deploy request accepted", "run_id", run.ID, "reason", decision.Reason, "queue_depth", len(l.queue))
		return run, decision, nil
	}
}

// Status reports every lane's active run and queue, sorted by target name.
func (d *Dispatcher) Status() []LaneStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	statuses := make([]LaneStatus, 0, len(d.lanes))
	for name, l := range d.lanes {
		s := LaneStatus{Target: name, ActiveRunID: l.active}
		for _, q := range l.queue {
			s.QueuedRunIDs = append(s.QueuedRunIDs, q.RunID)
		}
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Target < statuses[j].Target })
	return statuses
}

// Targets returns the configured deploy targets, sorted by name.
func (d *Dispatcher) Targets() []domain.Target {
	d.mu.Lock()
	defer d.mu.Unlock()

	targets := make([]domain.Target, 0, len(d.lanes))
	for _, l := range d.lanes {
		targets = append(targets, l.target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets
}

// Target looks up one configured deploy target by name.
func (d *Dispatcher) Target(name string) (domain.Target, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.lanes[name]
	if !ok {
		return domain.Target{}, domain.ErrTargetNotFound
	}
	return l.target, nil
}

// =============================================================================
// Lane Worker
// =============================================================================

// runLane executes queued runs for one target, one at a time, until the
// dispatcher stops.
func (d *Dispatcher) runLane(l *lane) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-l.wake:
		}

		for {
			item, ok := d.takeNext(l)
			if !ok {
				break
			}
			d.process(l, item)
			d.settleActive(l)

			if d.ctx.Err() != nil {
				return
			}
		}
	}
}

// process loads one queued run from the journal and executes it. The engine
// settles the run's final status; process only reports and notifies.
func (d *Dispatcher) process(l *lane, item dispatch.QueuedRun) {
	logger := d.logger.With("target", l.target.Name, "run_id", item.RunID)

	run, err := d.store.GetRun(d.ctx, item.RunID)
	if err != nil {
		logger.Error("could not load queued run", "error", err)
		return
	}

	started := time.Now()
	if err := d.engine.Execute(d.ctx, l.target, run); err != nil {
		logger.Warn("run settled",
			"status", run.Status,
			"error", err,
			"elapsed", time.Since(started).Round(time.Millisecond),
		)
	} else {
		logger.Info("run settled",
			"status", run.Status,
			"elapsed", time.Since(started).Round(time.Millisecond),
		)
	}

	if d.notifier != nil {
		d.notifier.RunFinished(context.WithoutCancel(d.ctx), run)
	}
}

// takeNext pops the head of the lane's queue and marks it active.
func (d *Dispatcher) takeNext(l *lane) (dispatch.QueuedRun, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(l.queue) == 0 {
		return dispatch.QueuedRun{}, false
	}
	item := l.queue[0]
	l.queue = l.queue[1:]
	l.active = item.RunID
	return item, true
}

// settleActive clears the lane's active run marker.
func (d *Dispatcher) settleActive(l *lane) {
	d.mu.Lock()
	l.active = ""
	d.mu.Unlock()
}

// wakeLane nudges a lane's worker. Callers must hold d.mu.
func (d *Dispatcher) wakeLane(l *lane) {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// drainQueues fails every run still queued after the lane workers stopped.
// Runs interrupted mid-execution are settled by the engine; this covers the
// ones that never started.
func (d *Dispatcher) drainQueues() {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.DrainTimeout)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, l := range d.lanes {
		for _, item := range l.queue {
			logger := d.logger.With("target", l.target.Name, "run_id", item.RunID)

			run, err := d.store.GetRun(ctx, item.RunID)
			if err != nil {
				logger.Error("could not load queued run during drain", "error", err)
				continue
			}
			if err := run.Fail("daemon stopped before the run started"); err != nil {
				logger.Error("could not fail queued run during drain", "error", err)
				continue
			}
			if err := d.store.UpdateRun(ctx, run); err != nil {
				logger.Error("could not persist drained run", "error", err)
				continue
			}
			logger.Warn("queued run abandoned at shutdown")
		}
		l.queue = nil
	}
}
