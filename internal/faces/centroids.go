package faces

import (
	"sync"

	"github.com/tphakala/photoindex/internal/datastore"
)

// Centroids is the incremental assignment index: one running mean per
// person, compared by cosine distance. A new face within epsilon of a
// centroid joins that person immediately; everything else waits for
// the next full re-cluster.
type Centroids struct {
	mu      sync.RWMutex
	sums    map[uint][]float32
	counts  map[uint]int
	epsilon float64
}

// NewCentroids returns an empty index with the given assignment
// threshold.
func NewCentroids(epsilon float64) *Centroids {
	return &Centroids{
		sums:    make(map[uint][]float32),
		counts:  make(map[uint]int),
		epsilon: epsilon,
	}
}

// Seed rebuilds the index from stored faces, replacing whatever was
// accumulated before. Rows without a person or an embedding are
// ignored; undecodable embeddings are counted in skipped.
func (c *Centroids) Seed(rows []datastore.FaceEmbedding) (persons, skipped int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sums = make(map[uint][]float32)
	c.counts = make(map[uint]int)
	for _, row := range rows {
		if row.PersonID == nil || len(row.Embedding) == 0 {
			continue
		}
		vec, err := DecodeEmbedding(row.Embedding)
		if err != nil {
			skipped++
			continue
		}
		c.observeLocked(*row.PersonID, vec)
	}
	return len(c.sums), skipped
}

// Observe folds one more face into a person's centroid, creating the
// centroid on first sight.
func (c *Centroids) Observe(personID uint, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observeLocked(personID, vec)
}

func (c *Centroids) observeLocked(personID uint, vec []float32) {
	sum := c.sums[personID]
	if sum == nil {
		sum = make([]float32, len(vec))
		c.sums[personID] = sum
	}
	if len(sum) != len(vec) {
		return
	}
	for i, v := range vec {
		sum[i] += v
	}
	c.counts[personID]++
}

// Assign returns the person whose centroid is nearest to vec when that
// distance is within epsilon. Exact ties go to the lowest person id.
func (c *Centroids) Assign(vec []float32) (uint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		bestID   uint
		bestDist float64
		found    bool
	)
	for id, sum := range c.sums {
		// Normalizing the running sum yields the spherical mean of
		// the observed unit vectors.
		mean := make([]float32, len(sum))
		copy(mean, sum)
		Normalize(mean)

		d := CosineDistance(vec, mean)
		if d > c.epsilon {
			continue
		}
		if !found || d < bestDist || (d == bestDist && id < bestID) {
			bestID, bestDist, found = id, d, true
		}
	}
	return bestID, found
}

// Len reports how many persons currently have a centroid.
func (c *Centroids) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sums)
}
