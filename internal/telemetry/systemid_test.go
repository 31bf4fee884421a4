package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/privacy"
)

func TestLoadOrCreateSystemID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	id, err := loadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.True(t, privacy.IsValidSystemID(id))

	// A second load returns the persisted ID, not a fresh one
	again, err := loadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestLoadOrCreateSystemIDReplacesInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, systemIDFile), []byte("not-a-system-id"), 0o644))

	id, err := loadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.True(t, privacy.IsValidSystemID(id))
	assert.NotEqual(t, "not-a-system-id", id)
}

func TestLoadOrCreateSystemIDCreatesDataDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "data")

	id, err := loadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.True(t, privacy.IsValidSystemID(id))

	_, err = os.Stat(filepath.Join(dir, systemIDFile))
	assert.NoError(t, err)
}
