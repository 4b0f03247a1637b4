package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// =============================================================================
// Local Runner
// =============================================================================

// LocalRunner executes commands through the local shell. Used when the
// daemon runs on the deploy host itself.
type LocalRunner struct {
	cfg Config
}

// NewLocalRunner creates a runner for same-host deploys.
func NewLocalRunner(cfg Config) *LocalRunner {
	return &LocalRunner{cfg: cfg.withDefaults()}
}

// Run executes one command via /bin/sh.
func (r *LocalRunner) Run(ctx context.Context, command string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}
	return result, nil
}

// Close is a no-op; the local runner holds no connection.
func (r *LocalRunner) Close() error {
	return nil
}
