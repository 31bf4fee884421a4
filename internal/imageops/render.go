package imageops

import (
	"bytes"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/tphakala/photoindex/internal/errors"
)

const (
	thumbQuality = 80

	faceCropSize    = 150
	faceCropQuality = 85
	facePadFraction = 0.3

	captionMaxEdge = 1024
	captionQuality = 85

	hashInputEdge = 256
)

// Thumbnail renders one thumbnail: the image scaled down so its longest
// edge is at most size (never upscaled), encoded as lossy WebP.
func Thumbnail(img image.Image, size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Newf("imageops: invalid thumbnail size %d", size).
			Component("imageops").
			Category(errors.CategoryValidation).
			Build()
	}
	return encodeWebP(imaging.Fit(img, size, size, imaging.Lanczos), thumbQuality)
}

// Thumbnails renders all requested sizes from one decoded image.
func Thumbnails(img image.Image, sizes []int) (map[int][]byte, error) {
	out := make(map[int][]byte, len(sizes))
	for _, size := range sizes {
		data, err := Thumbnail(img, size)
		if err != nil {
			return nil, err
		}
		out[size] = data
	}
	return out, nil
}

// FaceCrop renders the display crop for a detected face: the bounding
// box padded by 30% on each side, clamped to the image, scaled to at
// most 150 px and encoded as WebP. The box is in the coordinate space
// of img.
func FaceCrop(img image.Image, box image.Rectangle) ([]byte, error) {
	bounds := img.Bounds()
	box = box.Canon()
	if box.Empty() {
		return nil, errors.Newf("imageops: empty face box").
			Component("imageops").
			Category(errors.CategoryValidation).
			Build()
	}

	padX := int(float64(box.Dx()) * facePadFraction)
	padY := int(float64(box.Dy()) * facePadFraction)
	padded := image.Rect(box.Min.X-padX, box.Min.Y-padY, box.Max.X+padX, box.Max.Y+padY)
	padded = padded.Intersect(bounds)
	if padded.Empty() {
		return nil, errors.Newf("imageops: face box outside image bounds").
			Component("imageops").
			Category(errors.CategoryValidation).
			Context("bounds", bounds.String()).
			Build()
	}

	crop := imaging.Crop(img, padded)
	return encodeWebP(imaging.Fit(crop, faceCropSize, faceCropSize, imaging.Lanczos), faceCropQuality)
}

// CaptionInput renders the payload sent to the vision endpoint: the
// image scaled to at most 1024 px on the longest edge, JPEG quality 85.
func CaptionInput(img image.Image) ([]byte, error) {
	small := imaging.Fit(img, captionMaxEdge, captionMaxEdge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(captionQuality)); err != nil {
		return nil, errors.New(err).
			Component("imageops").
			Category(errors.CategoryImageDecode).
			Context("operation", "caption-input").
			Build()
	}
	return buf.Bytes(), nil
}

// HashInput returns the low-res copy perceptual hashes are computed
// from. Hashing a reduced copy is part of the hash definition here, so
// it stays byte-for-byte deterministic for identical source content.
func HashInput(img image.Image) image.Image {
	return imaging.Fit(img, hashInputEdge, hashInputEdge, imaging.Lanczos)
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, errors.New(err).
			Component("imageops").
			Category(errors.CategoryImageDecode).
			Context("operation", "webp-encode").
			Build()
	}
	return buf.Bytes(), nil
}
