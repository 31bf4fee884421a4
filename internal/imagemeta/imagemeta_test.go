package imagemeta

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()

	e := NewExtractor()
	t.Cleanup(func() {
		require.NoError(t, e.Close())
	})
	return e
}

func writePlainJPEG(t *testing.T, width, height int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	path := filepath.Join(t.TempDir(), "plain.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())
	return path
}

// writeExifTIFF writes a minimal little-endian TIFF whose IFD carries
// Make, Orientation and DateTimeOriginal. It has no pixel data; it
// exists to exercise the EXIF parsing path with known values.
func writeExifTIFF(t *testing.T) string {
	t.Helper()

	var buf bytes.Buffer
	le := binary.LittleEndian

	write16 := func(v uint16) { require.NoError(t, binary.Write(&buf, le, v)) }
	write32 := func(v uint32) { require.NoError(t, binary.Write(&buf, le, v)) }

	buf.WriteString("II")
	write16(42)
	write32(8) // IFD0 offset

	makeValue := "Canon\x00"
	dateValue := "2023:06:15 14:30:00\x00"
	// Header (8) + count (2) + 3 entries (36) + next pointer (4) = 50.
	makeOffset := uint32(50)
	dateOffset := makeOffset + uint32(len(makeValue))

	write16(3) // entry count

	write16(0x010F) // Make, ASCII
	write16(2)
	write32(uint32(len(makeValue)))
	write32(makeOffset)

	write16(0x0112) // Orientation, SHORT
	write16(3)
	write32(1)
	write32(6) // rotated 90 CW

	write16(0x9003) // DateTimeOriginal, ASCII
	write16(2)
	write32(uint32(len(dateValue)))
	write32(dateOffset)

	write32(0) // no next IFD

	buf.WriteString(makeValue)
	buf.WriteString(dateValue)

	path := filepath.Join(t.TempDir(), "exif.tif")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractPlainJPEGHasDimensionsOnly(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(t)
	data, err := e.Extract(writePlainJPEG(t, 320, 240))
	require.NoError(t, err)

	assert.Equal(t, 320, data.Width, "Width should come from the image header")
	assert.Equal(t, 240, data.Height)
	assert.Nil(t, data.DateTaken, "A camera-less JPEG has no capture timestamp")
	assert.Nil(t, data.Latitude)
	assert.Empty(t, data.CameraMake)
}

func TestExtractReadsEXIFTags(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(t)
	data, err := e.Extract(writeExifTIFF(t))
	require.NoError(t, err)

	assert.Equal(t, "Canon", data.CameraMake, "NUL padding should be stripped")
	assert.Equal(t, 6, data.Orientation)
	require.NotNil(t, data.DateTaken)
	want := time.Date(2023, 6, 15, 14, 30, 0, 0, time.UTC)
	assert.True(t, data.DateTaken.Equal(want), "Capture timestamp should round-trip exactly, got %v", data.DateTaken)
}

func TestExtractMissingFileIsTransient(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(t)
	_, err := e.Extract(filepath.Join(t.TempDir(), "gone.jpg"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTransientIO),
		"Missing file should be transient, got: %v", err)
}

func TestParseExifDatetime(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want *time.Time
	}{
		{"standard colon form", "2023:06:15 14:30:00", timePtr(2023, 6, 15, 14, 30, 0)},
		{"dashed variant", "2023-06-15 14:30:00", timePtr(2023, 6, 15, 14, 30, 0)},
		{"date only", "2023:06:15", timePtr(2023, 6, 15, 0, 0, 0)},
		{"padded with NULs", "2023:06:15 14:30:00\x00\x00", timePtr(2023, 6, 15, 14, 30, 0)},
		{"garbage", "not a date", nil},
		{"empty", "", nil},
		{"all zeros placeholder", "0000:00:00 00:00:00", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := parseExifDatetime(tc.raw)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, got.Equal(*tc.want), "got %v, want %v", got, tc.want)
		})
	}
}

func TestParseExifDatetimeWithZone(t *testing.T) {
	t.Parallel()

	got := parseExifDatetime("2023:06:15 14:30:00+02:00")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2023, 6, 15, 12, 30, 0, 0, time.UTC), got.UTC())
}

func timePtr(year int, month time.Month, day, hour, minute, sec int) *time.Time {
	ts := time.Date(year, month, day, hour, minute, sec, 0, time.UTC)
	return &ts
}

func TestValidLatLon(t *testing.T) {
	t.Parallel()

	assert.True(t, validLatLon(48.8566, 2.3522))
	assert.True(t, validLatLon(-33.9, 151.2))
	assert.True(t, validLatLon(0, 0), "Null Island is in range; callers decide its meaning")
	assert.False(t, validLatLon(91, 0))
	assert.False(t, validLatLon(0, 181))
	assert.False(t, validLatLon(-90.1, 0))
}

func TestFormatExposureSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1/250", formatExposureSeconds(0.004))
	assert.Equal(t, "1/2", formatExposureSeconds(0.5))
	assert.Equal(t, "2", formatExposureSeconds(2))
	assert.Equal(t, "1.5", formatExposureSeconds(1.5))
	assert.Empty(t, formatExposureSeconds(0))
	assert.Empty(t, formatExposureSeconds(-1))
}

func TestApplyOrientationSwapsRotatedDimensions(t *testing.T) {
	t.Parallel()

	for _, orientation := range []int{5, 6, 7, 8} {
		data := &datastore.ExifData{Width: 4000, Height: 3000, Orientation: orientation}
		applyOrientation(data)
		assert.Equal(t, 3000, data.Width, "Orientation %d should swap dimensions", orientation)
		assert.Equal(t, 4000, data.Height)
	}

	for _, orientation := range []int{0, 1, 2, 3, 4} {
		data := &datastore.ExifData{Width: 4000, Height: 3000, Orientation: orientation}
		applyOrientation(data)
		assert.Equal(t, 4000, data.Width, "Orientation %d must not swap dimensions", orientation)
	}
}

func TestCleanString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Apple", cleanString("Apple\x00\x00"))
	assert.Equal(t, "NIKON D750", cleanString("  NIKON D750 \x00"))
	assert.Empty(t, cleanString("\x00"))
}

func TestHasAnyMetadata(t *testing.T) {
	t.Parallel()

	assert.False(t, hasAnyMetadata(&datastore.ExifData{}))
	assert.True(t, hasAnyMetadata(&datastore.ExifData{CameraMake: "Canon"}))
	assert.True(t, hasAnyMetadata(&datastore.ExifData{Width: 100}))
	assert.True(t, hasAnyMetadata(&datastore.ExifData{DateTaken: timePtr(2024, 1, 1, 0, 0, 0)}))
}
