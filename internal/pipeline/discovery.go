// discovery.go: the explicit library walk and per-file adoption
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/imageops"
)

// hashBufferSize keeps the content hash read loop at a fixed 64 KiB so
// large originals do not spike memory.
const hashBufferSize = 64 * 1024

// scanCountsFlushEvery is how many walked files sit between persisted
// progress counter updates.
const scanCountsFlushEvery = 25

// runState is the in-process side of one ScanRun row.
type runState struct {
	id      uint
	started time.Time

	cancel   atomic.Bool
	walkDone atomic.Bool

	discovered atomic.Int64
	processed  atomic.Int64

	mu      sync.Mutex
	current string
	seen    map[string]struct{}
}

func newRunState(id uint) *runState {
	return &runState{
		id:      id,
		started: time.Now(),
		seen:    make(map[string]struct{}),
	}
}

func (r *runState) note(rel string) {
	r.mu.Lock()
	r.seen[rel] = struct{}{}
	r.current = rel
	r.mu.Unlock()
}

// noteSeen records a path without touching the progress display. Watcher
// flushes during a scan use it so the scan-end removal pass cannot take
// their adoptions for deleted files.
func (r *runState) noteSeen(rel string) {
	r.mu.Lock()
	r.seen[rel] = struct{}{}
	r.mu.Unlock()
}

func (r *runState) currentFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// seenSet hands out the walked path set. Only read after the walk has
// finished, when the monitor settles the run.
func (r *runState) seenSet() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen
}

// hiddenName reports whether a file or directory name is dot-prefixed.
// Hidden subtrees hold editor caches and trash, never library photos.
func hiddenName(name string) bool {
	return strings.HasPrefix(name, ".")
}

// runDiscovery walks the library root and adopts every supported file it
// finds, streaming: stage work starts while the walk is still going. Runs
// on its own goroutine; the monitor finishes the run once the walk and
// all the work it enqueued have drained.
func (p *Pipeline) runDiscovery(run *runState) {
	defer p.wg.Done()
	defer p.producers.Add(-1)
	defer run.walkDone.Store(true)

	root := p.settings.Library.PhotosPath
	p.logger.Info("Library scan started", "path", root, "scan_id", run.id)

	err := filepath.WalkDir(root, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are logged and skipped, the walk goes on
			p.logger.Warn("walk error", "path", walkPath, "error", err)
			return nil
		}
		if run.cancel.Load() {
			return fs.SkipAll
		}
		select {
		case <-p.quit:
			return fs.SkipAll
		default:
		}
		if d.IsDir() {
			if walkPath != root && hiddenName(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if hiddenName(d.Name()) {
			if p.metrics != nil {
				p.metrics.RecordFileSkipped("hidden")
			}
			return nil
		}
		if !imageops.SupportedExt(filepath.Ext(walkPath)) {
			if p.metrics != nil {
				p.metrics.RecordFileSkipped("unsupported")
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, walkPath)
		if relErr != nil {
			p.logger.Warn("path outside library root", "path", walkPath, "error", relErr)
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, infoErr := d.Info()
		if infoErr != nil {
			p.logger.Warn("stat failed during walk", "path", rel, "error", infoErr)
			return nil
		}

		run.discovered.Add(1)
		run.note(rel)
		if p.metrics != nil {
			p.metrics.RecordFileDiscovered()
		}
		p.ingestFile(walkPath, rel, info)
		run.processed.Add(1)

		if run.discovered.Load()%scanCountsFlushEvery == 0 {
			p.flushScanCounts(run)
		}
		return nil
	})
	if err != nil {
		p.logger.Error("library walk failed", "path", root, "error", err)
	}

	p.flushScanCounts(run)
	p.logger.Info("Library walk finished",
		"scan_id", run.id,
		"discovered", run.discovered.Load(),
		"cancelled", run.cancel.Load(),
		"duration", time.Since(run.started).Round(time.Millisecond).String())
}

// ingestFile runs the probe on one file and, when the probe misses,
// hashes and adopts it. Files whose ledger is not fully settled are fed
// to the root stages; fully settled files cost one query and no I/O.
func (p *Pipeline) ingestFile(absPath, rel string, info fs.FileInfo) {
	probe, err := p.store.ProbeUnchanged(rel, info.Size(), info.ModTime())
	if err != nil {
		p.logger.Error("probe failed", "path", rel, "error", err)
		return
	}
	if probe != nil {
		if !probe.Settled {
			p.enqueueRoots(probe.FileID)
		} else if p.metrics != nil {
			p.metrics.RecordFileSkipped("unchanged")
		}
		return
	}

	hash, err := hashFile(absPath)
	if err != nil {
		p.logger.Warn("hashing failed", "path", rel, "error", err)
		return
	}

	photo, outcome, err := p.store.AdoptFile(&datastore.IncomingFile{
		Path:      rel,
		Name:      path.Base(rel),
		Directory: path.Dir(rel),
		Size:      info.Size(),
		MTime:     info.ModTime(),
		Hash:      hash,
		MimeType:  imageops.MimeTypeForPath(rel),
		OnDisk:    p.libraryPathExists,
	}, stageSeeds())
	if err != nil {
		p.logger.Error("adoption failed", "path", rel, "error", err)
		return
	}

	if p.settings.Debug {
		p.logger.Debug("file adopted",
			"path", rel, "outcome", outcome.String(), "file_id", photo.ID)
	}
	if outcome == datastore.AdoptDuplicate {
		// The cataloged copy carries the work; the ledger row for this
		// content is keyed to it, so there is nothing to enqueue.
		if p.metrics != nil {
			p.metrics.RecordFileSkipped("duplicate")
		}
		return
	}
	p.markDirty()
	p.enqueueRoots(photo.ID)
}

// libraryPathExists reports whether a catalog-relative path is currently
// present under the library root.
func (p *Pipeline) libraryPathExists(rel string) bool {
	_, err := os.Stat(filepath.Join(p.settings.Library.PhotosPath, filepath.FromSlash(rel)))
	return err == nil
}

func (p *Pipeline) enqueueRoots(fileID uint) {
	for _, stage := range rootStages {
		p.enqueue(stage, fileID)
	}
}

func (p *Pipeline) flushScanCounts(run *runState) {
	if err := p.store.UpdateScanCounts(run.id, run.discovered.Load(), run.processed.Load()); err != nil {
		p.logger.Warn("scan counter update failed", "scan_id", run.id, "error", err)
	}
	p.notify()
}

// hashFile returns the lowercase hex SHA-256 of a file's content.
func hashFile(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			FileContext(filePath, 0).
			Build()
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			FileContext(filePath, 0).
			Build()
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
