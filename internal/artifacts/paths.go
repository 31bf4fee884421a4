package artifacts

import (
	"fmt"
	"path"
)

// Thumbnail edge lengths generated for every decodable photo.
const (
	ThumbSmall  = 200
	ThumbMedium = 600
	ThumbLarge  = 1200
)

// ThumbSizes lists the generated thumbnail sizes in ascending order.
var ThumbSizes = []int{ThumbSmall, ThumbMedium, ThumbLarge}

// ClosestThumbSize returns the smallest generated size that is at least
// the requested size, or the largest size when the request exceeds all
// of them. Requests of zero or less get the medium size.
func ClosestThumbSize(requested int) int {
	if requested <= 0 {
		return ThumbMedium
	}
	for _, s := range ThumbSizes {
		if s >= requested {
			return s
		}
	}
	return ThumbSizes[len(ThumbSizes)-1]
}

// shard returns the two-character fan-out directory for an identifier.
// Identifiers shorter than two characters shard under themselves.
func shard(id string) string {
	if len(id) < 2 {
		return id
	}
	return id[:2]
}

// ThumbPath returns the store-relative path of a thumbnail. Paths are a
// pure function of (hash, size) so re-runs land on the same file.
func ThumbPath(hash string, size int) string {
	return path.Join("thumbs", shard(hash), fmt.Sprintf("%s_%d.webp", hash, size))
}

// FaceCropPath returns the store-relative path of a face crop. The index
// is the face ordinal within the photo, assigned in detection order.
func FaceCropPath(hash string, index int) string {
	return path.Join("faces", shard(hash), fmt.Sprintf("%s_face%d.webp", hash, index))
}

// MotionVideoPath returns the store-relative path of an extracted motion
// video. The stem is the source file name without its extension.
func MotionVideoPath(stem string) string {
	return path.Join("motion_videos", shard(stem), stem+"_motion.mp4")
}
