package artifacts

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/logging"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// derivedRoots are the subtrees owned by the store. ClearDerived empties
// exactly these; db/, models/ and logs/ under the same data directory
// are never touched.
var derivedRoots = []string{"thumbs", "faces", "motion_videos"}

// Store is a content-addressed blob store rooted at the data directory.
//
// All operations go through Go's os.Root, which enforces the directory
// boundary at the OS level: traversal via "..", absolute paths and
// symlinks pointing outside the base directory are all rejected. Writes
// are atomic (temp file in the target directory, fsync, rename) so a
// crash never leaves a half-written artifact at its final path.
type Store struct {
	baseDir string
	root    *os.Root
	logger  *slog.Logger

	// onWrite, when set, observes every successful write with the
	// artifact kind and size. Set before writes start, never after.
	onWrite func(kind string, size int64)
}

// New opens a store rooted at baseDir, creating the directory if needed.
func New(baseDir string) (*Store, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact base path: %w", err)
	}

	if err := os.MkdirAll(absPath, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create artifact base directory: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact root: %w", err)
	}

	logger := logging.ForService("artifacts")
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		baseDir: absPath,
		root:    root,
		logger:  logger,
	}, nil
}

// BaseDir returns the absolute base directory of the store.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Close closes the underlying root.
func (s *Store) Close() error {
	if s.root != nil {
		return s.root.Close()
	}
	return nil
}

// SetOnWrite registers the write observer. Must be called before any
// writer runs; the store takes no lock around it.
func (s *Store) SetOnWrite(fn func(kind string, size int64)) {
	s.onWrite = fn
}

// artifactKind names the family a store-relative path belongs to, keyed
// by its top-level directory.
func artifactKind(relPath string) string {
	top, _, _ := strings.Cut(relPath, string(filepath.Separator))
	switch top {
	case "thumbs":
		return "thumbnail"
	case "faces":
		return "face_crop"
	case "motion_videos":
		return "motion_video"
	}
	return "other"
}

// validateRel cleans and validates a path assumed to be relative to the
// base directory. Generated paths always pass; the check matters for
// paths reconstructed from request parameters.
func (s *Store) validateRel(relPath string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(relPath))

	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: path must be relative, got %q", ErrInvalidPath, relPath)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, relPath)
	}

	return strings.TrimPrefix(cleaned, string(filepath.Separator)), nil
}

// ensureDir creates a directory and its parents inside the root.
func (s *Store) ensureDir(relDir string) error {
	if relDir == "" || relDir == "." {
		return nil
	}

	current := ""
	for component := range strings.SplitSeq(relDir, string(filepath.Separator)) {
		if component == "" {
			continue
		}
		current = filepath.Join(current, component)
		if err := s.root.Mkdir(current, dirPerm); err != nil && !os.IsExist(err) {
			return fmt.Errorf("failed to create directory %s: %w", current, err)
		}
	}
	return nil
}

// WriteFile atomically writes data to relPath, creating parent
// directories as needed. Writing the same path twice replaces the
// previous content.
func (s *Store) WriteFile(relPath string, data []byte) error {
	validated, err := s.validateRel(relPath)
	if err != nil {
		return err
	}

	if err := s.ensureDir(filepath.Dir(validated)); err != nil {
		return err
	}

	// Stage in the target directory so the rename stays on one filesystem.
	// Artifact paths are single-writer (keyed by file identity), so a
	// deterministic temp name cannot collide with a concurrent writer.
	tempPath := validated + ".tmp"
	f, err := s.root.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create temp artifact %s: %w", tempPath, err)
	}

	success := false
	defer func() {
		if !success {
			if err := f.Close(); err != nil {
				s.logger.Warn("Failed to close temp artifact", "path", tempPath, "error", err)
			}
			if err := s.root.Remove(tempPath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("Failed to remove temp artifact", "path", tempPath, "error", err)
			}
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", validated, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync artifact %s: %w", validated, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close artifact %s: %w", validated, err)
	}

	if err := s.root.Rename(tempPath, validated); err != nil {
		return fmt.Errorf("failed to finalize artifact %s: %w", validated, err)
	}

	success = true
	if s.onWrite != nil {
		s.onWrite(artifactKind(validated), int64(len(data)))
	}
	return nil
}

// Open opens an artifact for reading.
func (s *Store) Open(relPath string) (*os.File, error) {
	validated, err := s.validateRel(relPath)
	if err != nil {
		return nil, err
	}
	return s.root.Open(validated)
}

// ReadFile reads an artifact and returns its contents.
func (s *Store) ReadFile(relPath string) ([]byte, error) {
	f, err := s.Open(relPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("Failed to close artifact", "path", relPath, "error", err)
		}
	}()
	return io.ReadAll(f)
}

// Stat returns file info for an artifact.
func (s *Store) Stat(relPath string) (fs.FileInfo, error) {
	validated, err := s.validateRel(relPath)
	if err != nil {
		return nil, err
	}
	return s.root.Stat(validated)
}

// Exists reports whether an artifact is present. Validation failures
// are logged and reported as absent.
func (s *Store) Exists(relPath string) bool {
	validated, err := s.validateRel(relPath)
	if err != nil {
		s.logger.Warn("Rejected artifact path", "path", relPath, "error", err)
		return false
	}
	_, err = s.root.Stat(validated)
	return err == nil
}

// Remove deletes an artifact. A missing file is not an error.
func (s *Store) Remove(relPath string) error {
	validated, err := s.validateRel(relPath)
	if err != nil {
		return err
	}
	if err := s.root.Remove(validated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact %s: %w", validated, err)
	}
	return nil
}

// RemoveForHash deletes every artifact derived from one file identity:
// all thumbnail sizes plus any face crops in the hash's shard.
func (s *Store) RemoveForHash(hash string) error {
	for _, size := range ThumbSizes {
		if err := s.Remove(ThumbPath(hash, size)); err != nil {
			return err
		}
	}

	// Face crop count is not known here, so sweep the shard directory
	// for the hash prefix instead of reconstructing ordinals.
	cropDir := filepath.Join("faces", shard(hash))
	entries, err := s.readDir(cropDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	prefix := hash + "_face"
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if err := s.Remove(filepath.Join(cropDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// RemoveMotionVideo deletes the extracted motion video for a file stem.
func (s *Store) RemoveMotionVideo(stem string) error {
	return s.Remove(MotionVideoPath(stem))
}

// ClearDerived empties the thumbnail, face crop and motion video
// subtrees, leaving the (recreated) top-level directories in place.
func (s *Store) ClearDerived() error {
	for _, dir := range derivedRoots {
		if err := s.removeAllRel(dir); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dir, err)
		}
		if err := s.ensureDir(dir); err != nil {
			return err
		}
	}
	s.logger.Warn("Cleared all derived artifacts", "base_dir", s.baseDir)
	return nil
}

func (s *Store) readDir(relPath string) ([]os.DirEntry, error) {
	dir, err := s.root.Open(relPath)
	if err != nil {
		return nil, err
	}
	entries, err := dir.ReadDir(0)
	if closeErr := dir.Close(); closeErr != nil {
		s.logger.Warn("Failed to close directory", "path", relPath, "error", closeErr)
	}
	return entries, err
}

// removeAllRel removes a validated relative path recursively using root
// operations only.
func (s *Store) removeAllRel(relPath string) error {
	info, err := s.root.Stat(relPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return s.root.Remove(relPath)
	}

	entries, err := s.readDir(relPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := s.removeAllRel(filepath.Join(relPath, entry.Name())); err != nil {
			return err
		}
	}
	return s.root.Remove(relPath)
}

// ServeRelative serves an artifact over HTTP, assuming relPath is
// relative to the store base. It supports range requests and sets the
// content type from the file extension.
func (s *Store) ServeRelative(c echo.Context, relPath string) error {
	f, err := s.Open(relPath)
	if err != nil {
		return mapOpenErrorToHTTP(err, relPath)
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("Failed to close artifact", "path", relPath, "error", err)
		}
	}()

	stat, err := f.Stat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get file info").SetInternal(err)
	}
	if !stat.Mode().IsRegular() {
		return echo.NewHTTPError(http.StatusForbidden, "Not a regular file")
	}

	if c.Response().Header().Get(echo.HeaderContentType) == "" {
		c.Response().Header().Set(echo.HeaderContentType, contentTypeFor(relPath))
	}

	http.ServeContent(c.Response(), c.Request(), filepath.Base(relPath), stat.ModTime(), f)
	return nil
}

// mapOpenErrorToHTTP converts artifact open errors to HTTP errors.
func mapOpenErrorToHTTP(err error, relPath string) *echo.HTTPError {
	switch {
	case os.IsNotExist(err):
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Artifact not found: %s", relPath))
	case os.IsPermission(err):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	case isPathError(err):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid artifact path").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Error serving artifact").SetInternal(err)
	}
}

func isPathError(err error) bool {
	return errors.Is(err, ErrPathTraversal) || errors.Is(err, ErrInvalidPath)
}

// contentTypeFor determines the content type from the file extension.
func contentTypeFor(path string) string {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}
