// consts.go: shared constants for the conf package
package conf

// ThumbnailSizes are the longest-edge pixel sizes generated per photo.
// Order matters: the API serves the smallest size >= the requested one.
var ThumbnailSizes = []int{200, 600, 1200}

// PhotoExtensions lists the file extensions the discovery walk accepts,
// lowercase with leading dot.
var PhotoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".heic": true,
	".heif": true,
	".tiff": true,
	".tif":  true,
	".bmp":  true,
}

// VideoExtensions lists extensions considered when resolving live-photo
// sidecar companions next to a still image.
var VideoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".avi": true,
	".mkv": true,
}
