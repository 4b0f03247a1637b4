package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsline/deckhand/internal/core/domain"
)

func testTarget() domain.Target {
	t := domain.Target{Name: "shop-api", Host: "deploy.example.com", User: "deploy", Dir: "/srv/shop-api"}
	t.ApplyDefaults()
	return t
}

// =============================================================================
// Step Sequence Tests
// =============================================================================

func TestSteps_Sequence(t *testing.T) {
	steps := Steps(testTarget())
	require.Len(t, steps, 7)

	kinds := make([]StepKind, 0, len(steps))
	for _, s := range steps {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []StepKind{
		StepCheckDir,
		StepTrustDir,
		StepPull,
		StepReadManifest,
		StepTeardown,
		StepStartup,
		StepVerify,
	}, kinds)
}

func TestSteps_Commands(t *testing.T) {
	steps := Steps(testTarget())

	byKind := map[StepKind]Step{}
	for _, s := range steps {
		byKind[s.Kind] = s
	}

	assert.Equal(t, "test -d '/srv/shop-api/.git'", byKind[StepCheckDir].Command)
	assert.Equal(t, "git config --global --add safe.directory '/srv/shop-api'", byKind[StepTrustDir].Command)
	assert.Equal(t, "git -C '/srv/shop-api' pull origin 'main'", byKind[StepPull].Command)
	assert.Equal(t, "cat '/srv/shop-api/docker-compose.yml'", byKind[StepReadManifest].Command)
	assert.Equal(t, "cd '/srv/shop-api' && docker compose -f 'docker-compose.yml' down", byKind[StepTeardown].Command)
	assert.Equal(t, "cd '/srv/shop-api' && docker compose -f 'docker-compose.yml' up -d --build", byKind[StepStartup].Command)
	assert.Equal(t, "cd '/srv/shop-api' && docker compose -f 'docker-compose.yml' ps --all --format json", byKind[StepVerify].Command)
}

func TestSteps_CustomBranchAndFile(t *testing.T) {
	target := testTarget()
	target.Branch = "release/v2"
	target.ComposeFile = "compose.prod.yml"

	steps := Steps(target)

	byKind := map[StepKind]Step{}
	for _, s := range steps {
		byKind[s.Kind] = s
	}

	assert.Equal(t, "git -C '/srv/shop-api' pull origin 'release/v2'", byKind[StepPull].Command)
	assert.Contains(t, byKind[StepStartup].Command, "-f 'compose.prod.yml'")
	assert.Equal(t, "pull release/v2", byKind[StepPull].Name)
}

func TestStepKind_Fatal(t *testing.T) {
	assert.False(t, StepTeardown.Fatal())

	for _, kind := range []StepKind{
		StepCheckDir, StepTrustDir, StepPull, StepReadManifest, StepStartup, StepVerify,
	} {
		assert.True(t, kind.Fatal(), "step %s should be fatal", kind)
	}
}

// =============================================================================
// Shell Quoting Tests
// =============================================================================

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain path",
			input:    "/srv/app",
			expected: "'/srv/app'",
		},
		{
			name:     "path with space",
			input:    "/srv/my app",
			expected: "'/srv/my app'",
		},
		{
			name:     "embedded single quote",
			input:    "it's",
			expected: `'it'\''s'`,
		},
		{
			name:     "empty string",
			input:    "",
			expected: "''",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShellQuote(tt.input))
		})
	}
}
