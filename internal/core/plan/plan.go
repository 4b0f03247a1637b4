// Package plan renders the fixed command sequence a deploy run executes on
// its target and classifies step failures. This is part of the Functional
// Core - all functions are pure with no I/O.
//
// A run is the same five remote actions every time: refresh the checkout,
// read the manifest, tear the old stack down, bring the new one up, then
// confirm what is running. The engine in internal/shell/deploy walks the
// rendered steps in order and stops at the first fatal failure.
package plan

import (
	"strings"

	"github.com/opsline/deckhand/internal/core/domain"
)

// =============================================================================
// Step Kinds
// =============================================================================

// StepKind identifies one phase of a deploy run.
type StepKind string

const (
	// StepCheckDir confirms the deploy directory is a git checkout.
	StepCheckDir StepKind = "check-dir"

	// StepTrustDir marks the deploy directory safe for git operations.
	// Required when the checkout owner differs from the deploy user.
	StepTrustDir StepKind = "trust-dir"

	// StepPull fast-forwards the checkout to the target branch head.
	StepPull StepKind = "pull"

	// StepReadManifest reads the compose file so the run can validate it
	// before touching any containers.
	StepReadManifest StepKind = "read-manifest"

	// StepTeardown stops and removes the running stack. Failure here is
	// recorded but never fatal: on a first deploy there is nothing to
	// tear down and compose exits non-zero.
	StepTeardown StepKind = "teardown"

	// StepStartup rebuilds images and starts the stack detached.
	StepStartup StepKind = "startup"

	// StepVerify lists the stack's containers for post-start inspection.
	StepVerify StepKind = "verify"
)

// Fatal reports whether a failure of this step aborts the run.
// Teardown is the only non-fatal step.
func (k StepKind) Fatal() bool {
	return k != StepTeardown
}

// =============================================================================
// Steps
// =============================================================================

// Step is one rendered command in a deploy run.
type Step struct {
	Kind    StepKind
	Name    string
	Command string
}

// Steps renders the full command sequence for one target.
//
// Each command is self-contained because the executor runs every step in a
// fresh shell session; nothing from one step's environment survives into
// the next. Compose steps cd into the deploy directory first so relative
// build contexts in the manifest resolve the same way a manual run would.
func Steps(t domain.Target) []Step {
	dir := ShellQuote(t.Dir)
	branch := ShellQuote(t.Branch)
	file := ShellQuote(t.ComposeFile)

	return []Step{
		{
			Kind:    StepCheckDir,
			Name:    "check deploy directory",
			Command: "test -d " + ShellQuote(t.Dir+"/.git"),
		},
		{
			Kind:    StepTrustDir,
			Name:    "trust deploy directory",
			Command: "git config --global --add safe.directory " + dir,
		},
		{
			Kind:    StepPull,
			Name:    "pull " + t.Branch,
			Command: "git -C " + dir + " pull origin " + branch,
		},
		{
			Kind:    StepReadManifest,
			Name:    "read manifest",
			Command: "cat " + ShellQuote(t.ComposePath()),
		},
		{
			Kind:    StepTeardown,
			Name:    "compose down",
			Command: "cd " + dir + " && docker compose -f " + file + " down",
		},
		{
			Kind:    StepStartup,
			Name:    "compose up",
			Command: "cd " + dir + " && docker compose -f " + file + " up -d --build",
		},
		{
			Kind:    StepVerify,
			Name:    "list containers",
			Command: "cd " + dir + " && docker compose -f " + file + " ps --all --format json",
		},
	}
}

// ShellQuote wraps s in single quotes for safe interpolation into a remote
// shell command. Embedded single quotes are closed, escaped and reopened.
//
// Target fields are already validated against hostile characters; quoting
// keeps spaces and shell metacharacters in paths from splitting the command.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
