package faces

import (
	"slices"

	"github.com/tphakala/photoindex/internal/datastore"
)

// clusterMinPts is the DBSCAN density floor: a face needs at least this
// many neighbors (itself included) to seed a cluster.
const clusterMinPts = 2

// noiseLabel marks vectors that belong to no cluster.
const noiseLabel = -1

// Cluster runs DBSCAN over unit vectors with cosine distance and
// returns one label per vector, -1 for noise. Labels are dense from 0.
func Cluster(vectors [][]float32, eps float64, minPts int) []int {
	labels := make([]int, len(vectors))
	for i := range labels {
		labels[i] = noiseLabel
	}

	visited := make([]bool, len(vectors))
	next := 0
	for i := range vectors {
		if visited[i] {
			continue
		}
		visited[i] = true
		neighbors := regionQuery(vectors, i, eps)
		if len(neighbors) < minPts {
			continue
		}
		labels[i] = next
		expandCluster(vectors, labels, visited, neighbors, next, eps, minPts)
		next++
	}
	return labels
}

// expandCluster grows one cluster from its seed neighborhood. Border
// points already claimed by an earlier cluster are left alone.
func expandCluster(vectors [][]float32, labels []int, visited []bool, seeds []int, label int, eps float64, minPts int) {
	for qi := 0; qi < len(seeds); qi++ {
		j := seeds[qi]
		if labels[j] == noiseLabel {
			labels[j] = label
		}
		if visited[j] {
			continue
		}
		visited[j] = true
		neighbors := regionQuery(vectors, j, eps)
		if len(neighbors) >= minPts {
			seeds = append(seeds, neighbors...)
		}
	}
}

func regionQuery(vectors [][]float32, i int, eps float64) []int {
	var neighbors []int
	for j := range vectors {
		if CosineDistance(vectors[i], vectors[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

// BuildClusters reassembles every stored face into person clusters: a
// DBSCAN pass over all decodable embeddings, then each cluster keeps
// the person most of its members already belong to, or is marked for a
// fresh one (nil PersonID, name left for the caller). Noise faces stay
// unassigned and are only counted.
func BuildClusters(rows []datastore.FaceEmbedding, eps float64, minPts int) (clusters []datastore.FaceCluster, noise int) {
	ids := make([]uint, 0, len(rows))
	persons := make([]*uint, 0, len(rows))
	vectors := make([][]float32, 0, len(rows))
	for _, row := range rows {
		if len(row.Embedding) == 0 {
			continue
		}
		vec, err := DecodeEmbedding(row.Embedding)
		if err != nil {
			continue
		}
		ids = append(ids, row.FaceID)
		persons = append(persons, row.PersonID)
		vectors = append(vectors, vec)
	}
	if len(vectors) == 0 {
		return nil, 0
	}

	labels := Cluster(vectors, eps, minPts)

	byLabel := make(map[int][]int)
	numLabels := 0
	for idx, label := range labels {
		if label == noiseLabel {
			noise++
			continue
		}
		byLabel[label] = append(byLabel[label], idx)
		if label+1 > numLabels {
			numLabels = label + 1
		}
	}

	clusters = make([]datastore.FaceCluster, 0, numLabels)
	for label := 0; label < numLabels; label++ {
		members := byLabel[label]
		cluster := datastore.FaceCluster{FaceIDs: make([]uint, 0, len(members))}
		votes := make(map[uint]int)
		for _, idx := range members {
			cluster.FaceIDs = append(cluster.FaceIDs, ids[idx])
			if persons[idx] != nil {
				votes[*persons[idx]]++
			}
		}
		if personID, ok := majority(votes); ok {
			id := personID
			cluster.PersonID = &id
		}
		slices.Sort(cluster.FaceIDs)
		clusters = append(clusters, cluster)
	}
	return clusters, noise
}

// majority picks the person with the most votes, lowest id on ties.
func majority(votes map[uint]int) (uint, bool) {
	var (
		best  uint
		count int
	)
	for id, n := range votes {
		if n > count || (n == count && count > 0 && id < best) {
			best, count = id, n
		}
	}
	return best, count > 0
}
