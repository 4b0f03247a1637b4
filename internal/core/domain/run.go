package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Run Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownTrigger    = errors.New("unknown trigger kind")
	ErrRunNotFound       = errors.New("run not found")
)

// =============================================================================
// Run Status
// =============================================================================

// RunStatus is the lifecycle state of a deploy run. There is deliberately no
// partial-success state: a run either brings the target to the committed
// state or it is failed.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// IsValid checks if the run status is one of the known values.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunPending, RunRunning, RunSucceeded, RunFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once the run can no longer change state.
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// =============================================================================
// Trigger Kind
// =============================================================================

// TriggerKind records what caused a run.
type TriggerKind string

const (
	// TriggerPush is a push event to the target's branch, delivered by webhook.
	TriggerPush TriggerKind = "push"

	// TriggerManual is an operator request through the management API.
	TriggerManual TriggerKind = "manual"
)

// IsValid checks if the trigger kind is one of the known values.
func (k TriggerKind) IsValid() bool {
	return k == TriggerPush || k == TriggerManual
}

// =============================================================================
// Step Results
// =============================================================================

// StepStatus is the recorded outcome of one deploy step.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepWarned  StepStatus = "warned"  // step failed but the failure is non-fatal
	StepSkipped StepStatus = "skipped" // an earlier step aborted the sequence
)

// StepResult captures one executed (or skipped) step of the deploy sequence.
// Commands are rendered without credentials; output is stored as the remote
// tools produced it.
type StepResult struct {
	Name       string     `json:"name"`
	Command    string     `json:"command,omitempty"`
	Status     StepStatus `json:"status"`
	ExitCode   int        `json:"exit_code"`
	Output     string     `json:"output,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Duration returns how long the step took.
func (r StepResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// =============================================================================
// Run
// =============================================================================

// Run is one execution of the deploy sequence against a target.
type Run struct {
	ID           string       `json:"id"`
	Target       string       `json:"target"`
	Trigger      TriggerKind  `json:"trigger"`
	Ref          string       `json:"ref,omitempty"`
	Commit       string       `json:"commit,omitempty"`
	Status       RunStatus    `json:"status"`
	Steps        []StepResult `json:"steps,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// NewRun creates a pending run for a target.
func NewRun(target string, trigger TriggerKind, ref string) (*Run, error) {
	if !trigger.IsValid() {
		return nil, ErrUnknownTrigger
	}
	now := time.Now().UTC()
	return &Run{
		ID:        uuid.New().String(),
		Target:    target,
		Trigger:   trigger,
		Ref:       ref,
		Status:    RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition attempts to transition the run to a new status.
func (r *Run) Transition(to RunStatus) error {
	if err := ValidateRunTransition(r.Status, to); err != nil {
		return err
	}

	r.Status = to
	now := time.Now().UTC()
	r.UpdatedAt = now

	if to == RunRunning {
		r.StartedAt = &now
	}
	if to.IsTerminal() {
		r.FinishedAt = &now
	}

	return nil
}

// Fail transitions the run to failed with an error message. Pending runs may
// fail too (queue drain on shutdown, rejected dispatch).
func (r *Run) Fail(message string) error {
	if err := r.Transition(RunFailed); err != nil {
		return err
	}
	r.ErrorMessage = message
	return nil
}

// AppendStep records a step result on the run.
func (r *Run) AppendStep(step StepResult) {
	r.Steps = append(r.Steps, step)
	r.UpdatedAt = time.Now().UTC()
}

// =============================================================================
// State Machine
// =============================================================================

// validRunTransitions defines the allowed state transitions.
var validRunTransitions = map[RunStatus][]RunStatus{
	RunPending:   {RunRunning, RunFailed},
	RunRunning:   {RunSucceeded, RunFailed},
	RunSucceeded: {}, // Terminal state
	RunFailed:    {}, // Terminal state
}

// ValidateRunTransition checks if a status transition is valid.
func ValidateRunTransition(from, to RunStatus) error {
	allowed, exists := validRunTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}
