// Package artifacts stores derived binary outputs (thumbnails, face
// crops, extracted motion videos) under the data directory, confined
// with os.Root so a malformed identifier can never escape it.
package artifacts

import (
	"github.com/tphakala/photoindex/internal/errors"
)

// Sentinel errors for the artifacts package.
// These errors can be used with errors.Is to check for specific error conditions.
var (
	// ErrPathTraversal indicates an attempt to access a path outside the data directory
	// via relative path traversal (e.g., using "../" to escape the directory).
	ErrPathTraversal = errors.NewStd("artifacts: path attempts to traverse outside data directory")

	// ErrInvalidPath indicates an invalid path specification (e.g., absolute path when relative is required)
	ErrInvalidPath = errors.NewStd("artifacts: invalid path specification")

	// ErrNotRegularFile indicates an attempt to serve something that is not a regular file
	ErrNotRegularFile = errors.NewStd("artifacts: not a regular file")
)
