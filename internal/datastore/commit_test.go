package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitExif(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	taken := time.Date(2023, 7, 14, 12, 30, 45, 0, time.UTC)
	lat, lon := 48.8566, 2.3522
	require.NoError(t, ds.CommitExif(photo.ID, 2, &ExifData{
		Width:        6000,
		Height:       4000,
		Orientation:  6,
		DateTaken:    &taken,
		CameraMake:   "FUJIFILM",
		CameraModel:  "X-T5",
		LensModel:    "XF16-55mmF2.8",
		ISO:          400,
		FNumber:      2.8,
		ExposureTime: "1/250",
		FocalLength:  23.0,
		Latitude:     &lat,
		Longitude:    &lon,
	}))

	got, err := ds.GetPhotoByID(photo.ID)
	require.NoError(t, err)
	assert.Equal(t, 6000, got.Width)
	assert.Equal(t, 6, got.Orientation)
	assert.Equal(t, "FUJIFILM", got.CameraMake)
	assert.Equal(t, 400, got.ISO)
	require.NotNil(t, got.DateTaken)
	assert.WithinDuration(t, taken, *got.DateTaken, time.Second)
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, lat, *got.Latitude, 1e-6)

	entry := ledgerEntry(t, ds, photo.ID, StageExif)
	assert.Equal(t, StatusDone, entry.Status)
	assert.Equal(t, 2, entry.StageVersion)
}

func TestCommitExifWithoutLedgerRowFails(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo, _, err := ds.AdoptFile(testIncoming("album/a.jpg", "hash-a"),
		[]StageSeed{{Stage: StageThumbs, Version: 1}})
	require.NoError(t, err)

	err = ds.CommitExif(photo.ID, 1, &ExifData{Width: 100})
	require.Error(t, err, "a commit without its ledger row must roll back")

	got, err := ds.GetPhotoByID(photo.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Width, "the photo update must have rolled back with the ledger mark")
}

func TestCommitGeocode(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	require.NoError(t, ds.CommitGeocode(photo.ID, 1, "FR", "Paris", "Paris, Île-de-France, FR"))

	got, err := ds.GetPhotoByID(photo.ID)
	require.NoError(t, err)
	assert.Equal(t, "FR", got.Country)
	assert.Equal(t, "Paris", got.City)
	assert.Equal(t, "Paris, Île-de-France, FR", got.Address)
	assert.Equal(t, StatusDone, ledgerEntry(t, ds, photo.ID, StageGeocode).Status)
}

func TestCommitPHashKeepsBitPattern(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	// High bit set, would break a naive signed conversion
	hash := uint64(0xF0F0F0F0F0F0F0F0)
	require.NoError(t, ds.CommitPHash(photo.ID, 1, hash, hash>>1, hash<<1))

	entries, err := ds.PHashEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, hash, entries[0].Hash, "the hash must round-trip through the signed column")

	got, err := ds.GetPhotoByID(photo.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AHash)
	require.NotNil(t, got.DHash)
	assert.Equal(t, int64(hash>>1), *got.AHash)
	assert.Equal(t, int64(hash<<1), *got.DHash)
	assert.Equal(t, photo.ID, entries[0].FileID)
}

func TestCommitMotion(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	require.NoError(t, ds.CommitMotion(photo.ID, 1, true, "motion_videos/ha/hash-a_motion.mp4", "embedded"))

	got, err := ds.GetPhotoByID(photo.ID)
	require.NoError(t, err)
	assert.True(t, got.HasLivePhoto)
	assert.Equal(t, "embedded", got.LivePhotoSource)
	assert.Equal(t, StatusDone, ledgerEntry(t, ds, photo.ID, StageMotion).Status)
}

func TestCommitFacesReplacesOnRerun(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	first := []Face{
		{FaceIndex: 0, X: 10, Y: 20, Width: 100, Height: 100, Confidence: 0.98},
		{FaceIndex: 1, X: 300, Y: 40, Width: 90, Height: 95, Confidence: 0.91},
	}
	require.NoError(t, ds.CommitFaces(photo.ID, 1, first))

	detail, err := ds.GetPhotoDetail("hash-a")
	require.NoError(t, err)
	require.Len(t, detail.Faces, 2)

	// A re-run found only one face; the old rows must not linger
	second := []Face{{FaceIndex: 0, X: 12, Y: 22, Width: 98, Height: 97, Confidence: 0.97}}
	require.NoError(t, ds.CommitFaces(photo.ID, 1, second))

	detail, err = ds.GetPhotoDetail("hash-a")
	require.NoError(t, err)
	require.Len(t, detail.Faces, 1)
	assert.Equal(t, 12, detail.Faces[0].X)
}

func TestCommitCaption(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	require.NoError(t, ds.CommitCaption(photo.ID, 1, "a dog chasing a ball on the beach"))

	got, err := ds.GetPhotoByID(photo.ID)
	require.NoError(t, err)
	assert.Equal(t, "a dog chasing a ball on the beach", got.Caption)
	assert.Equal(t, StatusDone, ledgerEntry(t, ds, photo.ID, StageCaption).Status)
}

func TestCommitTagsReplacesLinks(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	other := adoptTestFile(t, ds, "album/b.jpg", "hash-b")

	require.NoError(t, ds.CommitTags(photo.ID, 1, []string{"sunset", "beach"}))
	require.NoError(t, ds.CommitTags(other.ID, 1, []string{"beach"}))

	// Re-tagging replaces this photo's links without touching others
	require.NoError(t, ds.CommitTags(photo.ID, 1, []string{"sunset", "sky"}))

	detail, err := ds.GetPhotoDetail("hash-a")
	require.NoError(t, err)
	names := make([]string, 0, len(detail.Tags))
	for _, tag := range detail.Tags {
		names = append(names, tag.Name)
	}
	assert.ElementsMatch(t, []string{"sunset", "sky"}, names)

	tags, err := ds.ListTags()
	require.NoError(t, err)
	byName := make(map[string]int64, len(tags))
	for _, tag := range tags {
		byName[tag.Name] = tag.Count
	}
	assert.Equal(t, int64(1), byName["beach"], "the other photo keeps its tag")
	assert.Equal(t, int64(1), byName["sky"])
	assert.Equal(t, int64(1), byName["sunset"])
}
