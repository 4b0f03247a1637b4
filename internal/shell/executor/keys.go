package executor

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/opsline/deckhand/internal/core/domain"
)

// =============================================================================
// Key Material
// =============================================================================

var (
	// ErrNoKeyMaterial is returned when a target names neither a key file
	// nor a key environment variable.
	ErrNoKeyMaterial = errors.New("no SSH key material configured")

	// ErrKeyEnvEmpty is returned when the named environment variable is
	// unset or blank.
	ErrKeyEnvEmpty = errors.New("SSH key environment variable is empty")
)

// LoadSigner resolves a target's SSH key into a signer.
//
// KeyEnv wins over KeyFile: keys injected through the environment never
// touch deckhand's disk, which is the deployment model for CI-managed
// secrets. KeyFile remains for hosts with a provisioned key on disk.
func LoadSigner(target domain.Target) (ssh.Signer, error) {
	if target.KeyEnv != "" {
		pem := os.Getenv(target.KeyEnv)
		if pem == "" {
			return nil, fmt.Errorf("target %s: %w: %s", target.Name, ErrKeyEnvEmpty, target.KeyEnv)
		}
		signer, err := ssh.ParsePrivateKey([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("target %s: parse SSH key from %s: %w", target.Name, target.KeyEnv, err)
		}
		return signer, nil
	}

	if target.KeyFile != "" {
		data, err := os.ReadFile(target.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("target %s: read SSH key file: %w", target.Name, err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("target %s: parse SSH key file %s: %w", target.Name, target.KeyFile, err)
		}
		return signer, nil
	}

	return nil, fmt.Errorf("target %s: %w", target.Name, ErrNoKeyMaterial)
}
