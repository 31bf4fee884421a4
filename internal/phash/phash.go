// Package phash computes perceptual hashes and maintains the shared
// duplicate index the batch barrier turns into duplicate groups.
package phash

import (
	"image"

	"github.com/corona10/goimagehash"

	"github.com/tphakala/photoindex/internal/errors"
)

// Hashes are the three 64-bit perceptual hashes of one image.
type Hashes struct {
	PHash uint64
	AHash uint64
	DHash uint64
}

// Compute derives all three hashes from a decoded image. Callers pass
// the reduced copy imageops.HashInput produces, which keeps hashing
// cost flat regardless of source resolution.
func Compute(img image.Image) (Hashes, error) {
	if img == nil {
		return Hashes{}, errors.Newf("cannot hash a nil image").
			Component("phash").
			Category(errors.CategoryValidation).
			Build()
	}

	p, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return Hashes{}, hashError(err, "phash")
	}
	a, err := goimagehash.AverageHash(img)
	if err != nil {
		return Hashes{}, hashError(err, "ahash")
	}
	d, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return Hashes{}, hashError(err, "dhash")
	}

	return Hashes{
		PHash: p.GetHash(),
		AHash: a.GetHash(),
		DHash: d.GetHash(),
	}, nil
}

func hashError(err error, kind string) error {
	return errors.New(err).
		Component("phash").
		Category(errors.CategoryImageDecode).
		Context("operation", "compute-hash").
		Context("hash_kind", kind).
		Build()
}
