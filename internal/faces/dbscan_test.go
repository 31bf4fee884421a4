package faces

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/datastore"
)

func TestClusterSeparatesGroups(t *testing.T) {
	t.Parallel()

	vectors := [][]float32{
		unit(1, 0, 0),
		unit(0.99, 0.01, 0),
		unit(0.98, 0.02, 0),
		unit(0, 1, 0),
		unit(0.01, 0.99, 0),
		unit(0, 0, 1),
	}

	labels := Cluster(vectors, 0.35, 2)
	require.Len(t, labels, 6)

	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[0], labels[2])
	assert.Equal(t, labels[3], labels[4])
	assert.NotEqual(t, labels[0], labels[3], "the two groups must not merge")
	assert.Equal(t, noiseLabel, labels[5], "the lone vector is noise")
	assert.GreaterOrEqual(t, labels[0], 0)
	assert.GreaterOrEqual(t, labels[3], 0)
}

func TestClusterAllNoiseBelowMinPts(t *testing.T) {
	t.Parallel()

	vectors := [][]float32{unit(1, 0, 0), unit(0, 1, 0), unit(0, 0, 1)}
	labels := Cluster(vectors, 0.35, 2)
	assert.Equal(t, []int{noiseLabel, noiseLabel, noiseLabel}, labels)
}

func TestBuildClustersMajorityKeepsExistingPerson(t *testing.T) {
	t.Parallel()

	person7 := uint(7)
	rows := []datastore.FaceEmbedding{
		{FaceID: 2, PersonID: &person7, Embedding: EncodeEmbedding(unit(1, 0, 0))},
		{FaceID: 1, PersonID: &person7, Embedding: EncodeEmbedding(unit(0.99, 0.01, 0))},
		{FaceID: 3, PersonID: nil, Embedding: EncodeEmbedding(unit(0.98, 0.02, 0))},
		{FaceID: 10, PersonID: nil, Embedding: EncodeEmbedding(unit(0, 1, 0))},
		{FaceID: 11, PersonID: nil, Embedding: EncodeEmbedding(unit(0.01, 0.99, 0))},
		{FaceID: 20, PersonID: nil, Embedding: EncodeEmbedding(unit(0, 0, 1))},
		{FaceID: 30, PersonID: &person7, Embedding: nil},
	}

	clusters, noise := BuildClusters(rows, 0.35, 2)
	require.Len(t, clusters, 2)
	assert.Equal(t, 1, noise, "the lone z-axis face is noise")

	var kept, fresh *datastore.FaceCluster
	for i := range clusters {
		if clusters[i].PersonID != nil {
			kept = &clusters[i]
		} else {
			fresh = &clusters[i]
		}
	}
	require.NotNil(t, kept, "the x-axis cluster must keep its person")
	require.NotNil(t, fresh, "the y-axis cluster must be marked new")

	assert.Equal(t, person7, *kept.PersonID)
	assert.Equal(t, []uint{1, 2, 3}, kept.FaceIDs, "members are sorted by face id")
	assert.Empty(t, fresh.Name, "naming is left to the caller")
	assert.Equal(t, []uint{10, 11}, fresh.FaceIDs)
}

func TestBuildClustersMajorityTieTakesLowestPerson(t *testing.T) {
	t.Parallel()

	person2, person9 := uint(2), uint(9)
	rows := []datastore.FaceEmbedding{
		{FaceID: 1, PersonID: &person9, Embedding: EncodeEmbedding(unit(1, 0, 0))},
		{FaceID: 2, PersonID: &person2, Embedding: EncodeEmbedding(unit(0.99, 0.01, 0))},
	}

	clusters, noise := BuildClusters(rows, 0.35, 2)
	require.Len(t, clusters, 1)
	assert.Zero(t, noise)
	require.NotNil(t, clusters[0].PersonID)
	assert.Equal(t, person2, *clusters[0].PersonID)
}

func TestBuildClustersWithNothingDecodable(t *testing.T) {
	t.Parallel()

	clusters, noise := BuildClusters(nil, 0.35, 2)
	assert.Nil(t, clusters)
	assert.Zero(t, noise)

	clusters, noise = BuildClusters([]datastore.FaceEmbedding{
		{FaceID: 1, Embedding: nil},
		{FaceID: 2, Embedding: []byte{1, 2}},
	}, 0.35, 2)
	assert.Nil(t, clusters)
	assert.Zero(t, noise)
}
