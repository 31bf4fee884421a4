package imageops

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/errors"
)

// makeTestImage returns a gradient image so lossy encoders have real
// content to work on.
func makeTestImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}

func writeJPEG(t *testing.T, img image.Image) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 90}))
	require.NoError(t, f.Close())
	return path
}

func decodeBytes(t *testing.T, data []byte) (image.Image, string) {
	t.Helper()

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err, "Rendered bytes should decode")
	return img, format
}

func TestDecodeJPEG(t *testing.T) {
	t.Parallel()

	path := writeJPEG(t, makeTestImage(320, 200))

	img, err := Decode(path)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestDecodeMissingFileIsTransient(t *testing.T) {
	t.Parallel()

	_, err := Decode(filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTransientIO),
		"Missing file should be a transient I/O error, got: %v", err)
}

func TestDecodeCorruptContentIsPermanent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrupt.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image at all"), 0o644))

	_, err := Decode(path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageDecode),
		"Corrupt content should be a decode error, got: %v", err)
}

func TestDecodeConfigReadsHeaderOnly(t *testing.T) {
	t.Parallel()

	path := writeJPEG(t, makeTestImage(640, 480))

	width, height, format, err := DecodeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 640, width)
	assert.Equal(t, 480, height)
	assert.Equal(t, "jpeg", format)
}

func TestThumbnailDownscalesToLongestEdge(t *testing.T) {
	t.Parallel()

	data, err := Thumbnail(makeTestImage(2000, 1000), 600)
	require.NoError(t, err)

	img, format := decodeBytes(t, data)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 600, img.Bounds().Dx(), "Longest edge should hit the requested size")
	assert.Equal(t, 300, img.Bounds().Dy(), "Aspect ratio should be preserved")
}

func TestThumbnailNeverUpscales(t *testing.T) {
	t.Parallel()

	data, err := Thumbnail(makeTestImage(100, 50), 600)
	require.NoError(t, err)

	img, _ := decodeBytes(t, data)
	assert.Equal(t, 100, img.Bounds().Dx(), "Small images must not be upscaled")
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestThumbnailRejectsInvalidSize(t *testing.T) {
	t.Parallel()

	_, err := Thumbnail(makeTestImage(10, 10), 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestThumbnailsRendersAllSizes(t *testing.T) {
	t.Parallel()

	sizes := []int{200, 600, 1200}
	out, err := Thumbnails(makeTestImage(2400, 1600), sizes)
	require.NoError(t, err)
	require.Len(t, out, len(sizes))

	for _, size := range sizes {
		img, _ := decodeBytes(t, out[size])
		assert.Equal(t, size, img.Bounds().Dx(), "Size %d thumbnail has wrong edge", size)
	}
}

func TestFaceCropClampsAtImageEdge(t *testing.T) {
	t.Parallel()

	// A box in the top-left corner: padding would extend past (0,0)
	// and must clamp instead.
	data, err := FaceCrop(makeTestImage(400, 400), image.Rect(0, 0, 100, 100))
	require.NoError(t, err)

	img, format := decodeBytes(t, data)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 130, img.Bounds().Dx(), "Padding should clamp at the image edge")
	assert.Equal(t, 130, img.Bounds().Dy())
}

func TestFaceCropScalesToLimit(t *testing.T) {
	t.Parallel()

	// 100x100 box padded 30% each side becomes 160x160, above the
	// 150 px crop limit, so the result scales down to 150.
	data, err := FaceCrop(makeTestImage(400, 400), image.Rect(100, 100, 200, 200))
	require.NoError(t, err)

	img, _ := decodeBytes(t, data)
	assert.Equal(t, 150, img.Bounds().Dx())
	assert.Equal(t, 150, img.Bounds().Dy())
}

func TestFaceCropRejectsEmptyBox(t *testing.T) {
	t.Parallel()

	_, err := FaceCrop(makeTestImage(50, 50), image.Rect(10, 10, 10, 10))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestFaceCropRejectsBoxOutsideImage(t *testing.T) {
	t.Parallel()

	_, err := FaceCrop(makeTestImage(50, 50), image.Rect(500, 500, 600, 600))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestCaptionInputCapsLongestEdge(t *testing.T) {
	t.Parallel()

	data, err := CaptionInput(makeTestImage(3000, 1500))
	require.NoError(t, err)

	img, format := decodeBytes(t, data)
	assert.Equal(t, "jpeg", format, "Caption payloads are JPEG")
	assert.Equal(t, 1024, img.Bounds().Dx())
	assert.Equal(t, 512, img.Bounds().Dy())
}

func TestCaptionInputKeepsSmallImages(t *testing.T) {
	t.Parallel()

	data, err := CaptionInput(makeTestImage(300, 200))
	require.NoError(t, err)

	img, _ := decodeBytes(t, data)
	assert.Equal(t, 300, img.Bounds().Dx())
}

func TestHashInputBounds(t *testing.T) {
	t.Parallel()

	small := HashInput(makeTestImage(4000, 3000))
	assert.LessOrEqual(t, small.Bounds().Dx(), 256)
	assert.LessOrEqual(t, small.Bounds().Dy(), 256)
}

func TestSupportedExt(t *testing.T) {
	t.Parallel()

	for _, ext := range []string{".jpg", ".JPG", ".jpeg", ".png", ".webp", ".heic", ".heif", ".tiff", ".tif", ".bmp"} {
		assert.True(t, SupportedExt(ext), "Extension %s should be supported", ext)
	}
	for _, ext := range []string{".mp4", ".txt", ".gif", ".raw", ""} {
		assert.False(t, SupportedExt(ext), "Extension %s should not be supported", ext)
	}
}

func TestMimeTypeForPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "image/jpeg", MimeTypeForPath("/photos/2024/IMG_1.JPG"))
	assert.Equal(t, "image/heic", MimeTypeForPath("a.heic"))
	assert.Empty(t, MimeTypeForPath("clip.mp4"))
}
