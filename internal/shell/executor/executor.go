// Package executor runs rendered deploy commands on a target, over SSH for
// remote hosts and through the local shell for same-host deploys.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/opsline/deckhand/internal/core/domain"
)

// =============================================================================
// Runner Interface
// =============================================================================

// Result is the outcome of one command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns both output streams joined for step records and failure
// classification. Compose writes build progress and errors to stderr, git
// mixes both; classification has to see everything.
func (r Result) Combined() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes shell commands on one target.
//
// Run returns an error only when the command could not be executed at all:
// connection loss, session setup failure, timeout. A command that ran and
// exited non-zero is a successful Run with a non-zero Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, command string) (Result, error)
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config tunes command execution.
type Config struct {
	// CommandTimeout bounds a single command. Image builds dominate the
	// budget; the default leaves room for cold caches.
	CommandTimeout time.Duration

	// ConnectTimeout bounds the SSH dial.
	ConnectTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		CommandTimeout: 15 * time.Minute,
		ConnectTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 15 * time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// =============================================================================
// Factory
// =============================================================================

// New builds the runner for a target based on its executor kind. SSH key
// material is loaded eagerly so a misconfigured target fails before any
// step runs.
func New(target domain.Target, cfg Config) (Runner, error) {
	switch target.Executor {
	case domain.ExecutorSSH:
		signer, err := LoadSigner(target)
		if err != nil {
			return nil, err
		}
		return NewSSHRunner(target, signer, cfg), nil
	case domain.ExecutorLocal:
		return NewLocalRunner(cfg), nil
	default:
		return nil, fmt.Errorf("unknown executor kind %q for target %s", target.Executor, target.Name)
	}
}
