package plan

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrFetch covers everything that keeps the checkout from reaching the
	// branch head: missing deploy directory, untrusted checkout, failed pull.
	// Fetch failures abort the run before any container is touched.
	ErrFetch = errors.New("fetch failed")

	// ErrTeardown marks a compose down failure. It is recorded on the run
	// but never aborts it; the first deploy to a fresh host has no stack
	// to remove and down exits non-zero.
	ErrTeardown = errors.New("teardown failed")

	// ErrManifest marks an unreadable or invalid compose file.
	ErrManifest = errors.New("manifest invalid")

	// ErrBuild marks a failure in the image build phase of compose up.
	ErrBuild = errors.New("build failed")

	// ErrStart marks a failure starting containers after images built.
	ErrStart = errors.New("start failed")

	// ErrVerify marks a post-start state that does not match the manifest.
	ErrVerify = errors.New("verification failed")
)

// StepError wraps a step failure with the command that ran and its output.
type StepError struct {
	Step    StepKind
	Command string
	Output  string
	Err     error
}

func (e *StepError) Error() string {
	if line := lastLine(e.Output); line != "" {
		return fmt.Sprintf("step %s: %s: %s", e.Step, e.Err, line)
	}
	return fmt.Sprintf("step %s: %s", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError creates a new StepError.
func NewStepError(step StepKind, command, output string, err error) *StepError {
	return &StepError{
		Step:    step,
		Command: command,
		Output:  output,
		Err:     err,
	}
}

// lastLine returns the final non-empty line of tool output. Compose and git
// put the actionable message last; the full output stays on the step record.
func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
