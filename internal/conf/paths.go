// paths.go: derived filesystem locations under the data directory
package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tphakala/photoindex/internal/errors"
)

// DatabasePath returns the SQLite database file location.
func (s *Settings) DatabasePath() string {
	return filepath.Join(s.Library.DataDir, "db", "photoindex.db")
}

// ThumbsDir returns the thumbnail artifact root.
func (s *Settings) ThumbsDir() string {
	return filepath.Join(s.Library.DataDir, "thumbs")
}

// FacesDir returns the face crop artifact root.
func (s *Settings) FacesDir() string {
	return filepath.Join(s.Library.DataDir, "faces")
}

// MotionVideosDir returns the extracted motion video artifact root.
func (s *Settings) MotionVideosDir() string {
	return filepath.Join(s.Library.DataDir, "motion_videos")
}

// ModelsDir returns the directory for downloaded model and dataset blobs.
func (s *Settings) ModelsDir() string {
	return filepath.Join(s.Library.DataDir, "models")
}

// LogsDir returns the directory for log files.
func (s *Settings) LogsDir() string {
	return filepath.Join(s.Library.DataDir, "logs")
}

// ResolveModelPath resolves a possibly relative model or dataset path
// against the models directory. Absolute paths pass through unchanged;
// empty input stays empty.
func (s *Settings) ResolveModelPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.ModelsDir(), path)
}

// EnsureDataDirs creates the data directory tree. The photos root is
// deliberately left alone; it is treated as read-only.
func (s *Settings) EnsureDataDirs() error {
	dirs := []string{
		filepath.Join(s.Library.DataDir, "db"),
		s.ThumbsDir(),
		s.FacesDir(),
		s.MotionVideosDir(),
		s.ModelsDir(),
		s.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(fmt.Errorf("creating %s: %w", dir, err)).
				Component("conf").
				Category(errors.CategoryFileIO).
				Context("operation", "ensure-data-dirs").
				Build()
		}
	}
	return nil
}
