package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersions(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.Equal(t, "0001_transcription", versions[0])
	assert.IsIncreasing(t, versions)
}

func TestMigrationsContainCoreTables(t *testing.T) {
	body, err := migrationsFS.ReadFile("migrations/0001_transcription.sql")
	require.NoError(t, err)
	for _, table := range []string{"api_keys", "transcription_tasks", "transcription_results"} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table)
	}
}
