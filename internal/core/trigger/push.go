// Package trigger contains the pure intake logic for deploy triggers:
// push-event parsing, webhook signature verification and branch matching.
// This is part of the Functional Core - all functions are pure with no I/O.
package trigger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opsline/deckhand/internal/core/domain"
)

// =============================================================================
// Trigger Errors
// =============================================================================

var (
	ErrEmptyPayload       = errors.New("push payload is empty")
	ErrInvalidPayload     = errors.New("push payload is not valid JSON")
	ErrMissingRef         = errors.New("push payload has no ref")
	ErrSignatureMissing   = errors.New("signature header is missing")
	ErrSignatureMalformed = errors.New("signature header is malformed")
	ErrSignatureMismatch  = errors.New("signature does not match payload")
)

// SignatureHeader carries the HMAC-SHA256 hex digest of the raw request body.
const SignatureHeader = "X-Hub-Signature-256"

// =============================================================================
// Push Event
// =============================================================================

// PushEvent is the subset of a push webhook payload deckhand acts on.
type PushEvent struct {
	Ref        string     `json:"ref"`
	Before     string     `json:"before,omitempty"`
	After      string     `json:"after,omitempty"`
	Deleted    bool       `json:"deleted,omitempty"`
	Repository Repository `json:"repository"`
	HeadCommit *Commit    `json:"head_commit,omitempty"`
}

// Repository identifies the pushed repository.
type Repository struct {
	FullName string `json:"full_name"`
}

// Commit is the head commit of a push.
type Commit struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// ParsePushEvent decodes a push payload. The raw body must be passed exactly
// as received so the signature check stays valid.
func ParsePushEvent(body []byte) (*PushEvent, error) {
	if len(body) == 0 {
		return nil, ErrEmptyPayload
	}

	var event PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if event.Ref == "" {
		return nil, ErrMissingRef
	}

	return &event, nil
}

// Branch returns the branch name for branch pushes, or "" for tag and other refs.
func (e *PushEvent) Branch() string {
	return BranchFromRef(e.Ref)
}

// CommitSHA returns the pushed head commit, preferring the head_commit field.
func (e *PushEvent) CommitSHA() string {
	if e.HeadCommit != nil && e.HeadCommit.ID != "" {
		return e.HeadCommit.ID
	}
	return e.After
}

// BranchFromRef extracts the branch name from a fully qualified git ref.
func BranchFromRef(ref string) string {
	const prefix = "refs/heads/"
	if !strings.HasPrefix(ref, prefix) {
		return ""
	}
	return strings.TrimPrefix(ref, prefix)
}

// =============================================================================
// Signature Verification
// =============================================================================

// VerifySignature checks the HMAC-SHA256 signature header against the raw
// body. The expected header format is "sha256=<hex digest>". Comparison is
// constant-time.
func VerifySignature(secret []byte, body []byte, header string) error {
	if header == "" {
		return ErrSignatureMissing
	}

	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return ErrSignatureMalformed
	}

	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return ErrSignatureMalformed
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign computes the signature header value for a body. Used by tests and by
// the notifier when callbacks are signed with a shared secret.
func Sign(secret []byte, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// =============================================================================
// Target Matching
// =============================================================================

// ShouldDeploy decides whether a push event triggers a deploy of the target.
// Returns (false, reason) for events deckhand acknowledges but ignores.
func ShouldDeploy(event *PushEvent, target domain.Target) (bool, string) {
	if event.Deleted {
		return false, "branch deletion"
	}

	branch := event.Branch()
	if branch == "" {
		return false, "not a branch push"
	}
	if branch != target.Branch {
		return false, fmt.Sprintf("branch %q does not match target branch %q", branch, target.Branch)
	}

	return true, ""
}

// MatchTargets returns the targets a push event should deploy to.
func MatchTargets(event *PushEvent, targets []domain.Target) []domain.Target {
	matched := make([]domain.Target, 0, len(targets))
	for _, t := range targets {
		if ok, _ := ShouldDeploy(event, t); ok {
			matched = append(matched, t)
		}
	}
	return matched
}
