package datastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/conf"
)

func createTestSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Library.PhotosPath = t.TempDir()
	settings.Library.DataDir = t.TempDir()
	return settings
}

func createDatabase(t *testing.T, settings *conf.Settings) Interface {
	t.Helper()
	dataStore := New(settings, nil)

	require.NoError(t, dataStore.Open(), "Failed to open database")

	t.Cleanup(func() {
		assert.NoError(t, dataStore.Close(), "Failed to close datastore")
	})

	return dataStore
}

// gormDB exposes the underlying GORM handle for direct verification queries.
func gormDB(t *testing.T, ds Interface) *SQLiteStore {
	t.Helper()
	store, ok := ds.(*SQLiteStore)
	require.True(t, ok, "Interface must be *SQLiteStore for this test")
	return store
}

func allStagesPending() []StageSeed {
	stages := AllStages()
	seeds := make([]StageSeed, 0, len(stages))
	for _, stage := range stages {
		seeds = append(seeds, StageSeed{Stage: stage, Version: 1})
	}
	return seeds
}

func testIncoming(path, hash string) *IncomingFile {
	return &IncomingFile{
		Path:      path,
		Name:      filepath.Base(path),
		Directory: filepath.Dir(path),
		Size:      2048,
		MTime:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Hash:      hash,
		MimeType:  "image/jpeg",
	}
}

// adoptTestFile adopts a fresh file with every stage pending.
func adoptTestFile(t *testing.T, ds Interface, path, hash string) *Photo {
	t.Helper()
	photo, outcome, err := ds.AdoptFile(testIncoming(path, hash), allStagesPending())
	require.NoError(t, err, "AdoptFile failed for %s", path)
	require.Equal(t, AdoptNew, outcome, "expected a new adoption for %s", path)
	return photo
}
