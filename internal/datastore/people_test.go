package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// commitTestFaces stores count faces with embeddings on a photo and returns
// their IDs in face index order.
func commitTestFaces(t *testing.T, ds Interface, photoID uint, count int) []uint {
	t.Helper()
	faces := make([]Face, count)
	for i := range faces {
		faces[i] = Face{
			FaceIndex:  i,
			X:          i * 100,
			Width:      80,
			Height:     80,
			Confidence: 0.9 - float64(i)*0.1,
			Embedding:  []byte{byte(i), 1, 2, 3},
			CropPath:   "faces/ab/crop.webp",
		}
	}
	require.NoError(t, ds.CommitFaces(photoID, 1, faces))

	detail, err := ds.GetPhotoDetail(mustPhotoHash(t, ds, photoID))
	require.NoError(t, err)
	ids := make([]uint, 0, count)
	for _, face := range detail.Faces {
		ids = append(ids, face.ID)
	}
	return ids
}

func mustPhotoHash(t *testing.T, ds Interface, photoID uint) string {
	t.Helper()
	photo, err := ds.GetPhotoByID(photoID)
	require.NoError(t, err)
	return photo.FileHash
}

func TestFaceEmbeddings(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	faces := []Face{
		{FaceIndex: 0, Confidence: 0.95, Embedding: []byte{1, 2, 3}},
		{FaceIndex: 1, Confidence: 0.90}, // no embedding, model was unavailable
	}
	require.NoError(t, ds.CommitFaces(photo.ID, 1, faces))

	embeddings, err := ds.FaceEmbeddings()
	require.NoError(t, err)
	require.Len(t, embeddings, 1, "faces without embeddings cannot be clustered")
	assert.Equal(t, []byte{1, 2, 3}, embeddings[0].Embedding)
	assert.Nil(t, embeddings[0].PersonID)
}

func TestAssignFacesAndCover(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	faceIDs := commitTestFaces(t, ds, photo.ID, 2)

	person, err := ds.CreatePerson("Alice")
	require.NoError(t, err)

	require.NoError(t, ds.AssignFaces(map[uint]uint{
		faceIDs[0]: person.ID,
		faceIDs[1]: person.ID,
	}))

	persons, err := ds.ListPersons()
	require.NoError(t, err)
	require.Len(t, persons, 1)
	assert.Equal(t, "Alice", persons[0].Name)
	assert.Equal(t, int64(2), persons[0].FaceCount)
	assert.Equal(t, int64(1), persons[0].PhotoCount)

	got, err := ds.GetPerson(person.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CoverFaceID, "assignment picks a cover for coverless persons")
	assert.Equal(t, faceIDs[0], *got.CoverFaceID, "highest confidence face becomes the cover")

	crop, err := ds.PersonCoverCrop(person.ID)
	require.NoError(t, err)
	assert.Equal(t, "faces/ab/crop.webp", crop)
}

func TestReplaceClusters(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	a := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	b := adoptTestFile(t, ds, "album/b.jpg", "hash-b")
	facesA := commitTestFaces(t, ds, a.ID, 2)
	facesB := commitTestFaces(t, ds, b.ID, 1)

	// Incremental matching had lumped everything onto one person
	person, err := ds.CreatePerson("Alice")
	require.NoError(t, err)
	require.NoError(t, ds.AssignFaces(map[uint]uint{
		facesA[0]: person.ID, facesA[1]: person.ID, facesB[0]: person.ID,
	}))

	// The full re-cluster splits one face off into a new person
	require.NoError(t, ds.ReplaceClusters([]FaceCluster{
		{PersonID: &person.ID, Name: "Alice", FaceIDs: []uint{facesA[0], facesB[0]}},
		{PersonID: nil, Name: "Person 2", FaceIDs: []uint{facesA[1]}},
	}))

	persons, err := ds.ListPersons()
	require.NoError(t, err)
	require.Len(t, persons, 2)
	byName := make(map[string]PersonSummary, len(persons))
	for _, p := range persons {
		byName[p.Name] = p
	}
	assert.Equal(t, int64(2), byName["Alice"].FaceCount)
	assert.Equal(t, int64(2), byName["Alice"].PhotoCount)
	assert.Equal(t, int64(1), byName["Person 2"].FaceCount)

	// A later re-cluster dropping a person removes it entirely
	require.NoError(t, ds.ReplaceClusters([]FaceCluster{
		{PersonID: &person.ID, Name: "Alice", FaceIDs: []uint{facesA[0], facesA[1], facesB[0]}},
	}))
	persons, err = ds.ListPersons()
	require.NoError(t, err)
	require.Len(t, persons, 1, "persons without faces disappear")
	assert.Equal(t, "Alice", persons[0].Name)
}

func TestRenamePerson(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	person, err := ds.CreatePerson("Person 1")
	require.NoError(t, err)

	require.NoError(t, ds.RenamePerson(person.ID, "Bob"))
	got, err := ds.GetPerson(person.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.Name)

	require.Error(t, ds.RenamePerson(person.ID, "   "), "blank names are rejected")
	require.Error(t, ds.RenamePerson(9999, "Ghost"))
}

func TestMergePersons(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	faceIDs := commitTestFaces(t, ds, photo.ID, 2)

	alice, err := ds.CreatePerson("Alice")
	require.NoError(t, err)
	dupe, err := ds.CreatePerson("Alice (2)")
	require.NoError(t, err)
	require.NoError(t, ds.AssignFaces(map[uint]uint{faceIDs[0]: alice.ID}))
	require.NoError(t, ds.AssignFaces(map[uint]uint{faceIDs[1]: dupe.ID}))

	require.NoError(t, ds.MergePersons(dupe.ID, alice.ID))

	persons, err := ds.ListPersons()
	require.NoError(t, err)
	require.Len(t, persons, 1)
	assert.Equal(t, "Alice", persons[0].Name, "the destination keeps its name")
	assert.Equal(t, int64(2), persons[0].FaceCount)

	_, err = ds.GetPerson(dupe.ID)
	require.Error(t, err, "the source person is gone")

	require.Error(t, ds.MergePersons(alice.ID, alice.ID), "self-merge is rejected")
}
