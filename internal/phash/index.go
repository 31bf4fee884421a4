package phash

import (
	"cmp"
	"math/bits"
	"slices"
	"sync"
)

// DuplicateThreshold is the pHash Hamming distance at or below which
// two files belong to the same duplicate group.
const DuplicateThreshold = 6

// Index is the shared duplicate state: the pHash of every hashed file.
// Stage workers add entries as they hash; content changes overwrite
// and removals delete, and the barrier derives groups from whatever
// the index holds at that moment. Safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	hashes map[uint]uint64
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{hashes: make(map[uint]uint64)}
}

// Add records or replaces the pHash of a file.
func (x *Index) Add(fileID uint, hash uint64) {
	x.mu.Lock()
	x.hashes[fileID] = hash
	x.mu.Unlock()
}

// Remove drops a file from the index.
func (x *Index) Remove(fileID uint) {
	x.mu.Lock()
	delete(x.hashes, fileID)
	x.mu.Unlock()
}

// Len returns the number of indexed files.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.hashes)
}

// Clear empties the index.
func (x *Index) Clear() {
	x.mu.Lock()
	x.hashes = make(map[uint]uint64)
	x.mu.Unlock()
}

// Groups returns the duplicate groups: connected components over file
// pairs within DuplicateThreshold, so near-duplicates chain into one
// equivalence class. Members are ascending, groups are ordered by
// their first member, singletons are dropped.
func (x *Index) Groups() [][]uint {
	x.mu.RLock()
	ids := make([]uint, 0, len(x.hashes))
	for id := range x.hashes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	hashes := make([]uint64, len(ids))
	for i, id := range ids {
		hashes[i] = x.hashes[id]
	}
	x.mu.RUnlock()

	parent := make([]int, len(ids))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			if bits.OnesCount64(hashes[i]^hashes[j]) <= DuplicateThreshold {
				ri, rj := find(i), find(j)
				if ri != rj {
					parent[ri] = rj
				}
			}
		}
	}

	byRoot := make(map[int][]uint)
	for i, id := range ids {
		root := find(i)
		byRoot[root] = append(byRoot[root], id)
	}
	groups := make([][]uint, 0, len(byRoot))
	for _, members := range byRoot {
		if len(members) > 1 {
			groups = append(groups, members)
		}
	}
	slices.SortFunc(groups, func(a, b []uint) int {
		return cmp.Compare(a[0], b[0])
	})
	return groups
}
