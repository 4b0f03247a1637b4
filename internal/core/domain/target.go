// Package domain contains the core domain types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"net"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Target Errors
// =============================================================================

var (
	// Target name validation errors
	ErrTargetNameRequired = errors.New("target name is required")
	ErrTargetNameInvalid  = errors.New("target name must be a lowercase slug (a-z, 0-9, hyphens)")
	ErrTargetNameTooLong  = errors.New("target name must be at most 63 characters")

	// SSH validation errors
	ErrSSHHostRequired = errors.New("SSH host is required")
	ErrSSHHostInvalid  = errors.New("SSH host must be a valid hostname or IP address")
	ErrSSHPortInvalid  = errors.New("SSH port must be between 1 and 65535")
	ErrSSHUserRequired = errors.New("SSH user is required")
	ErrSSHKeyRequired  = errors.New("SSH key file or key env var is required")

	// Deployment contract validation errors
	ErrDeployDirRequired   = errors.New("deployment directory is required")
	ErrDeployDirRelative   = errors.New("deployment directory must be an absolute path")
	ErrBranchInvalid       = errors.New("branch name contains invalid characters")
	ErrComposeFileInvalid  = errors.New("compose file must be a bare file name inside the deployment directory")
	ErrExecutorKindInvalid = errors.New("executor kind must be ssh or local")

	// Target operation errors
	ErrTargetNotFound = errors.New("target not found")
)

// =============================================================================
// Executor Kind
// =============================================================================

// ExecutorKind selects how deployment commands reach the target.
type ExecutorKind string

const (
	// ExecutorSSH runs commands over an SSH session to a remote host.
	ExecutorSSH ExecutorKind = "ssh"

	// ExecutorLocal runs commands on the host deckhand itself runs on.
	ExecutorLocal ExecutorKind = "local"
)

// IsValid checks if the executor kind is one of the supported values.
func (k ExecutorKind) IsValid() bool {
	switch k {
	case ExecutorSSH, ExecutorLocal:
		return true
	default:
		return false
	}
}

// =============================================================================
// Target
// =============================================================================

// DefaultBranch is the branch deploys track when a target does not name one.
const DefaultBranch = "main"

// DefaultComposeFile is the manifest file name inside the deployment directory.
const DefaultComposeFile = "docker-compose.yml"

// Target is a host holding one deployment directory that deckhand
// re-synchronizes. Targets are provisioned out of band: deckhand references
// them and never mutates them.
type Target struct {
	Name        string       `json:"name"`
	Executor    ExecutorKind `json:"executor"`
	Host        string       `json:"host,omitempty"`
	Port        int          `json:"port,omitempty"`
	User        string       `json:"user,omitempty"`
	KeyFile     string       `json:"-"` // Never serialize credential refs
	KeyEnv      string       `json:"-"`
	Dir         string       `json:"dir"`
	Branch      string       `json:"branch"`
	ComposeFile string       `json:"compose_file"`
}

// NewTarget creates a target with defaults applied and all fields validated.
func NewTarget(name, host, user, dir string) (*Target, error) {
	t := &Target{
		Name:     name,
		Executor: ExecutorSSH,
		Host:     host,
		User:     user,
		Dir:      dir,
	}
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ApplyDefaults fills unset optional fields with their defaults.
func (t *Target) ApplyDefaults() {
	if t.Executor == "" {
		t.Executor = ExecutorSSH
	}
	if t.Port == 0 {
		t.Port = 22
	}
	if t.Branch == "" {
		t.Branch = DefaultBranch
	}
	if t.ComposeFile == "" {
		t.ComposeFile = DefaultComposeFile
	}
}

// Validate checks every field of the target. Host, user and key checks only
// apply to SSH targets; a local target needs no transport credentials.
func (t *Target) Validate() error {
	if err := ValidateTargetName(t.Name); err != nil {
		return err
	}
	if !t.Executor.IsValid() {
		return ErrExecutorKindInvalid
	}
	if t.Executor == ExecutorSSH {
		if err := ValidateSSHHost(t.Host); err != nil {
			return err
		}
		if err := ValidateSSHPort(t.Port); err != nil {
			return err
		}
		if err := ValidateSSHUser(t.User); err != nil {
			return err
		}
	}
	if err := ValidateDeployDir(t.Dir); err != nil {
		return err
	}
	if err := ValidateBranch(t.Branch); err != nil {
		return err
	}
	if err := ValidateComposeFile(t.ComposeFile); err != nil {
		return err
	}
	return nil
}

/// Address returns the SSH connection address (host:port).
func (t *Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// ComposePath returns the manifest path inside the deployment directory.
func (t *Target) ComposePath() string {
	return path.Join(t.Dir, t.ComposeFile)
}

// ProjectName returns the compose project name derived from the target name.
func (t *Target) ProjectName() string {
	return Slugify(t.Name)
}

// =============================================================================
// Validation Functions
// =============================================================================

var branchRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// ValidateTargetName validates a target name. Names double as compose project
// names and store keys, so they must already be slugs.
func ValidateTargetName(name string) error {
	if name == "" {
		return ErrTargetNameRequired
	}
	if len(name) > 63 {
		return ErrTargetNameTooLong
	}
	if name != Slugify(name) {
		return ErrTargetNameInvalid
	}
	return nil
}

// ValidateSSHHost validates an SSH host (hostname or IP).
func ValidateSSHHost(host string) error {
	if host == "" {
		return ErrSSHHostRequired
	}

	// Check if it's a valid IP address
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}

	// Check if it's a valid hostname
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
	if hostnameRegex.MatchString(host) {
		return nil
	}

	return ErrSSHHostInvalid
}

// ValidateSSHPort validates an SSH port.
func ValidateSSHPort(port int) error {
	if port < 1 || port > 65535 {
		return ErrSSHPortInvalid
	}
	return nil
}

// ValidateSSHUser validates an SSH username.
func ValidateSSHUser(user string) error {
	if user == "" {
		return ErrSSHUserRequired
	}
	return nil
}

// ValidateDeployDir validates the remote deployment directory path.
func ValidateDeployDir(dir string) error {
	if dir == "" {
		return ErrDeployDirRequired
	}
	if !strings.HasPrefix(dir, "/") {
		return ErrDeployDirRelative
	}
	return nil
}

// ValidateBranch validates a git branch name. This is deliberately stricter
// than git itself: branch names are interpolated into remote commands.
func ValidateBranch(branch string) error {
	if branch == "" || !branchRegex.MatchString(branch) {
		return ErrBranchInvalid
	}
	if strings.Contains(branch, "..") {
		return ErrBranchInvalid
	}
	return nil
}

// ValidateComposeFile validates the manifest file name. It must stay inside
// the deployment directory, so path separators are rejected.
func ValidateComposeFile(file string) error {
	if file == "" || strings.ContainsAny(file, "/\\") || file == "." || file == ".." {
		return ErrComposeFileInvalid
	}
	return nil
}
