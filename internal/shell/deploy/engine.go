// Package deploy executes runs: it walks the rendered step sequence on a
// target, records every step in the journal and settles the run's final
// status.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opsline/deckhand/internal/core/domain"
	"github.com/opsline/deckhand/internal/core/manifest"
	"github.com/opsline/deckhand/internal/core/plan"
	"github.com/opsline/deckhand/internal/core/verify"
	"github.com/opsline/deckhand/internal/shell/executor"
	"github.com/opsline/deckhand/internal/shell/store"
)

// maxStepOutput caps what one step may write into the journal. Build logs
// for large images run to megabytes; the tail carries the error.
const maxStepOutput = 64 * 1024

// =============================================================================
// Engine
// =============================================================================

// Engine runs the deploy sequence against targets.
type Engine struct {
	store   store.Store
	logger  *slog.Logger
	execCfg executor.Config

	// newRunner is swapped out in tests.
	newRunner func(domain.Target, executor.Config) (executor.Runner, error)
}

// NewEngine creates a deploy engine.
func NewEngine(st store.Store, logger *slog.Logger, execCfg executor.Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		logger:    logger.With("component", "deploy_engine"),
		execCfg:   execCfg,
		newRunner: executor.New,
	}
}

// =============================================================================
// Run Execution
// =============================================================================

// Execute walks the full step sequence for one run. The run must be
// pending; it ends succeeded or failed, with every step recorded in the
// journal as it completes. The returned error is the failure that settled
// the run, nil on success.
func (e *Engine) Execute(ctx context.Context, target domain.Target, run *domain.Run) error {
	logger := e.logger.With("run_id", run.ID, "target", target.Name, "trigger", run.Trigger)

	if err := run.Transition(domain.RunRunning); err != nil {
		return err
	}
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	logger.Info("run started", "ref", run.Ref, "commit", run.Commit)

	runner, err := e.newRunner(target, e.execCfg)
	if err != nil {
		return e.failRun(ctx, logger, run, fmt.Errorf("executor setup: %w", err))
	}
	defer runner.Close()

	steps := plan.Steps(target)
	var parsed *manifest.Manifest

	for i, step := range steps {
		record := domain.StepResult{
			Name:      step.Name,
			Command:   step.Command,
			StartedAt: time.Now().UTC(),
		}

		result, runErr := runner.Run(ctx, step.Command)
		record.FinishedAt = time.Now().UTC()
		record.ExitCode = result.ExitCode
		record.Output = truncateOutput(result.Combined())

		if runErr != nil {
			// The command never ran to completion. Even a teardown
			// failure is fatal here: a down that compose refused is
			// survivable, a host we lost mid-run is not.
			record.Status = domain.StepFailed
			if record.Output == "" {
				record.Output = runErr.Error()
			}
			run.AppendStep(record)
			e.skipRemaining(run, steps[i+1:])
			return e.failRun(ctx, logger, run, fmt.Errorf("step %s: %w", step.Kind, runErr))
		}

		if result.ExitCode != 0 {
			if !step.Kind.Fatal() {
				record.Status = domain.StepWarned
				run.AppendStep(record)
				logger.Warn("step failed but is not fatal",
					"step", step.Kind, "exit_code", result.ExitCode)
				e.saveProgress(ctx, logger, run)
				continue
			}

			record.Status = domain.StepFailed
			run.AppendStep(record)
			e.skipRemaining(run, steps[i+1:])
			stepErr := plan.NewStepError(step.Kind, step.Command, record.Output,
				step.Kind.FailureClass(record.Output))
			return e.failRun(ctx, logger, run, stepErr)
		}

		// Command succeeded; two steps carry extra evaluation of their output.
		switch step.Kind {
		case plan.StepReadManifest:
			m, parseErr := manifest.Parse(result.Stdout)
			if parseErr != nil {
				record.Status = domain.StepFailed
				record.Output = truncateOutput(parseErr.Error())
				run.AppendStep(record)
				e.skipRemaining(run, steps[i+1:])
				stepErr := plan.NewStepError(step.Kind, step.Command, parseErr.Error(), plan.ErrManifest)
				return e.failRun(ctx, logger, run, stepErr)
			}
			parsed = m
			record.Output = fmt.Sprintf("manifest ok: services %s\nstart order: %s",
				strings.Join(m.ServiceNames(), ", "),
				strings.Join(manifest.StartOrder(m.Services), ", "))
			// Report the keys the target's .env must supply. Names only;
			// the values never leave the target.
			if vars := manifest.ExtractVariables(result.Stdout); len(vars) > 0 {
				record.Output += "\nexpects from .env: " + strings.Join(vars, ", ")
			}

		case plan.StepVerify:
			report, verifyErr := e.verifyState(parsed, result.Stdout)
			if verifyErr != nil {
				record.Status = domain.StepFailed
				record.Output = truncateOutput(verifyErr.Error())
				run.AppendStep(record)
				stepErr := plan.NewStepError(step.Kind, step.Command, verifyErr.Error(), plan.ErrVerify)
				return e.failRun(ctx, logger, run, stepErr)
			}
			record.Output = report
		}

		record.Status = domain.StepOK
		run.AppendStep(record)
		logger.Debug("step completed", "step", step.Kind, "duration", record.Duration())
		e.saveProgress(ctx, logger, run)
	}

	if err := run.Transition(domain.RunSucceeded); err != nil {
		return err
	}
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	logger.Info("run succeeded", "steps", len(run.Steps))
	return nil
}

// verifyState parses compose ps output and checks it against the manifest.
// Returns a human-readable summary, or an error describing every violation.
func (e *Engine) verifyState(m *manifest.Manifest, psOutput string) (string, error) {
	if m == nil {
		return "", fmt.Errorf("no manifest parsed before verification")
	}

	observed, err := verify.ParsePS(psOutput)
	if err != nil {
		return "", err
	}

	report := verify.Evaluate(m, observed)
	if !report.Healthy {
		return "", fmt.Errorf("%s", strings.Join(report.Problems, "; "))
	}

	summary := fmt.Sprintf("%d/%d services running", len(m.Services), len(m.Services))
	if len(report.Notes) > 0 {
		summary += "\n" + strings.Join(report.Notes, "\n")
		for _, note := range report.Notes {
			e.logger.Warn("verification note", "note", note)
		}
	}
	return summary, nil
}

// =============================================================================
// Helpers
// =============================================================================

// skipRemaining records the steps a failure prevented from running. The
// journal shows explicitly that a failed pull left teardown and rebuild
// untouched.
func (e *Engine) skipRemaining(run *domain.Run, remaining []plan.Step) {
	for _, step := range remaining {
		run.AppendStep(domain.StepResult{
			Name:   step.Name,
			Status: domain.StepSkipped,
		})
	}
}

// failRun settles the run as failed and persists it. The original error is
// returned so callers can classify it.
//
// Persistence runs on an uncancelable context: a shutdown that interrupted
// the run must not also lose the record of the interruption.
func (e *Engine) failRun(ctx context.Context, logger *slog.Logger, run *domain.Run, cause error) error {
	if err := run.Fail(cause.Error()); err != nil {
		logger.Error("could not mark run failed", "error", err)
	}
	if err := e.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("could not persist failed run", "error", err)
	}
	logger.Error("run failed", "error", cause)
	return cause
}

// saveProgress persists intermediate step results so the API shows a live
// run as it executes. Persistence hiccups are logged, not fatal; the final
// UpdateRun settles the record.
func (e *Engine) saveProgress(ctx context.Context, logger *slog.Logger, run *domain.Run) {
	if err := e.store.UpdateRun(ctx, run); err != nil {
		logger.Warn("could not save run progress", "error", err)
	}
}

func truncateOutput(s string) string {
	if len(s) <= maxStepOutput {
		return s
	}
	return "... (output truncated)\n" + s[len(s)-maxStepOutput:]
}
