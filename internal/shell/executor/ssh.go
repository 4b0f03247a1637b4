package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/opsline/deckhand/internal/core/domain"
)

// =============================================================================
// SSH Runner
// =============================================================================

// SSHRunner executes commands on a remote target over SSH. Each command
// runs in its own session on a shared connection; the connection is dialed
// lazily on first use and redialed if the keepalive probe fails.
type SSHRunner struct {
	target domain.Target
	signer ssh.Signer
	cfg    Config

	mu     sync.Mutex // protects client
	client *ssh.Client
}

// NewSSHRunner creates a runner for one remote target.
func NewSSHRunner(target domain.Target, signer ssh.Signer, cfg Config) *SSHRunner {
	return &SSHRunner{
		target: target,
		signer: signer,
		cfg:    cfg.withDefaults(),
	}
}

// connect establishes the SSH connection if not already connected.
func (r *SSHRunner) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		_, _, err := r.client.SendRequest("keepalive@deckhand", true, nil)
		if err == nil {
			return nil
		}
		r.client.Close()
		r.client = nil
	}

	config := &ssh.ClientConfig{
		User:            r.target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(r.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: known_hosts pinning per target
		Timeout:         r.cfg.ConnectTimeout,
	}

	addr := r.target.Address()
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	r.client = client
	return nil
}

// Run executes one command in a fresh session.
func (r *SSHRunner) Run(ctx context.Context, command string) (Result, error) {
	if err := r.connect(); err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	session, err := r.client.NewSession()
	r.mu.Unlock()
	if err != nil {
		return Result{}, fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(r.cfg.CommandTimeout):
		return Result{}, fmt.Errorf("command timeout after %v", r.cfg.CommandTimeout)
	case err := <-done:
		result := Result{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
				return result, nil
			}
			return result, fmt.Errorf("run command: %w", err)
		}
		return result, nil
	}
}

// Close closes the SSH connection.
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}
