// Package faces finds faces in photos, renders their display crops,
// computes identity embeddings and maintains the person clusters built
// from them.
package faces

import (
	"encoding/binary"
	"math"

	"github.com/tphakala/photoindex/internal/errors"
)

// EmbeddingDim is the length of the identity vectors produced by the
// ArcFace model.
const EmbeddingDim = 512

// EncodeEmbedding serializes a vector as little-endian float32 for
// storage on the face row.
func EncodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding is the inverse of EncodeEmbedding.
func DecodeEmbedding(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, errors.Newf("embedding blob has %d bytes, expected a non-zero multiple of 4", len(data)).
			Component("faces").
			Category(errors.CategoryValidation).
			Build()
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// Normalize scales vec in place to unit L2 norm. A zero vector is left
// untouched.
func Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// CosineDistance returns 1 minus the dot product of two unit vectors:
// 0 is identical direction, 2 is opposite. Vectors of different
// lengths never match and report the maximum distance.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}
