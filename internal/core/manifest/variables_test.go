package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVariables_AppStack(t *testing.T) {
	vars := ExtractVariables(appStackManifest)

	// First appearance wins the position; duplicates collapse
	assert.Equal(t, []string{"DB_PASSWORD", "DB_NAME", "DB_USER", "DB_PORT"}, vars)
}

func TestExtractVariables_None(t *testing.T) {
	assert.Empty(t, ExtractVariables(minimalManifest))
	assert.Empty(t, ExtractVariables(""))
}

func TestExtractVariables_WithDefaults(t *testing.T) {
	content := `
services:
  app:
    image: myapp:${TAG:-latest}
    ports:
      - "${PORT:-8080}:80"
`
	vars := ExtractVariables(content)
	assert.Equal(t, []string{"TAG", "PORT"}, vars)
}

func TestSubstituteVariables_Provided(t *testing.T) {
	out := SubstituteVariables("${HOST}:${PORT}", map[string]string{
		"HOST": "db",
		"PORT": "3306",
	})
	assert.Equal(t, "db:3306", out)
}

func TestSubstituteVariables_DefaultUsed(t *testing.T) {
	out := SubstituteVariables("${PORT:-8000}", nil)
	assert.Equal(t, "8000", out)
}

func TestSubstituteVariables_ProvidedBeatsDefault(t *testing.T) {
	out := SubstituteVariables("${PORT:-8000}", map[string]string{"PORT": "9000"})
	assert.Equal(t, "9000", out)
}

func TestSubstituteVariables_EmptyDefault(t *testing.T) {
	out := SubstituteVariables("prefix-${SUFFIX:-}", nil)
	assert.Equal(t, "prefix-", out)
}

func TestSubstituteVariables_MissingStays(t *testing.T) {
	// No default and no value: the placeholder is left for the target to resolve
	out := SubstituteVariables("${DB_PASSWORD}", nil)
	assert.Equal(t, "${DB_PASSWORD}", out)
}

func TestSubstituteVariables_NoPlaceholders(t *testing.T) {
	require.Equal(t, "plain text", SubstituteVariables("plain text", map[string]string{"X": "y"}))
}
