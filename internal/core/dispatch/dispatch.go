// Package dispatch provides the pure admission logic for deploy requests.
// This is part of the Functional Core - all functions are pure with no I/O.
//
// Every target gets a serial lane: one run executing at a time, later
// requests queued behind it in arrival order. The decision of what to do
// with a new request lives here; the per-target workers in
// internal/shell/workers carry the decisions out.
package dispatch

import (
	"errors"
	"fmt"
)

// =============================================================================
// Dispatch Errors
// =============================================================================

var (
	// ErrQueueFull is returned when a target's queue is at capacity.
	ErrQueueFull = errors.New("deploy queue is full")
)

// =============================================================================
// Dispatch Request
// =============================================================================

// Request describes one incoming ask to deploy a target.
type Request struct {
	// Target is the name of the deploy target.
	Target string

	// Ref is the fully qualified git ref the request wants synced,
	// e.g. refs/heads/main.
	Ref string

	// Commit is the head SHA reported by the trigger. Informational: a
	// pull syncs to the branch head regardless of which push got here
	// first.
	Commit string
}

// QueueState is the dispatcher's view of one target's lane.
type QueueState struct {
	// ActiveRunID is the run currently executing, empty when idle.
	ActiveRunID string

	// Queued holds the pending runs in FIFO order.
	Queued []QueuedRun

	// MaxQueue caps the pending runs per target. Zero means unlimited.
	MaxQueue int
}

// QueuedRun is the slice of run state the admission decision needs.
type QueuedRun struct {
	RunID string
	Ref   string
}

// =============================================================================
// Dispatch Decision
// =============================================================================

// Action is what the dispatcher should do with a request.
type Action string

const (
	// ActionStart begins a run immediately; the lane is idle.
	ActionStart Action = "start"

	// ActionEnqueue queues a run behind whatever is in flight.
	ActionEnqueue Action = "enqueue"

	// ActionCoalesce folds the request into an already queued run for the
	// same ref. The caller refreshes that run's commit to the newer SHA;
	// executing both would pull the identical branch head twice.
	ActionCoalesce Action = "coalesce"

	// ActionReject refuses the request outright.
	ActionReject Action = "reject"
)

// Decision is the outcome of admitting one request against a lane.
type Decision struct {
	Action Action

	// CoalesceRunID names the queued run absorbing the request.
	// Only set for ActionCoalesce.
	CoalesceRunID string

	// Reason explains the decision in one line, for logs and rejects.
	Reason string

	// Err carries the rejection class for ActionReject.
	Err error
}

// Decide determines what to do with a deploy request given the target's
// current lane state.
//
// Rules, in order:
//  1. Idle lane: start the run now.
//  2. A queued run for the same ref: coalesce into it.
//  3. Queue at capacity: reject.
//  4. Otherwise: enqueue behind the active run.
func Decide(req Request, state QueueState) Decision {
	if state.ActiveRunID == "" && len(state.Queued) == 0 {
		return Decision{
			Action: ActionStart,
			Reason: "target idle",
		}
	}

	for _, queued := range state.Queued {
		if queued.Ref == req.Ref {
			return Decision{
				Action:        ActionCoalesce,
				CoalesceRunID: queued.RunID,
				Reason:        fmt.Sprintf("run %s already queued for %s", queued.RunID, req.Ref),
			}
		}
	}

	if state.MaxQueue > 0 && len(state.Queued) >= state.MaxQueue {
		return Decision{
			Action: ActionReject,
			Reason: fmt.Sprintf("queue full (%d pending)", len(state.Queued)),
			Err:    ErrQueueFull,
		}
	}

	if state.ActiveRunID != "" {
		return Decision{
			Action: ActionEnqueue,
			Reason: fmt.Sprintf("run %s in flight", state.ActiveRunID),
		}
	}
	return Decision{
		Action: ActionEnqueue,
		Reason: "queued runs ahead",
	}
}
