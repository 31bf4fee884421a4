// watcher.go: filesystem change feed into the adoption path
package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tphakala/photoindex/internal/imageops"
)

// watchLibrary feeds filesystem changes into the same adoption path the
// explicit walk uses. Events coalesce into a pending set flushed once
// per watch interval, so a burst of writes to one file costs one probe.
// The watcher only adds and refreshes; removals are the business of the
// startup reconcile and the explicit scan.
func (p *Pipeline) watchLibrary() {
	defer p.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Error("file watcher unavailable", "error", err)
		return
	}
	defer watcher.Close()

	root := p.settings.Library.PhotosPath
	if err := p.watchTree(watcher, root); err != nil {
		p.logger.Error("file watcher setup failed", "path", root, "error", err)
		return
	}

	interval := time.Duration(p.settings.Library.WatchInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("File watcher started", "path", root, "interval", interval.String())

	pending := make(map[string]struct{})
	for {
		select {
		case <-p.quit:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			p.noteEvent(watcher, event, pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("file watcher error", "error", err)

		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			batch := pending
			pending = make(map[string]struct{})
			// flush off the event loop so a blocked enqueue cannot back
			// up the kernel event queue; the producer hold is taken here
			// to close the gap before the goroutine starts
			p.producers.Add(1)
			p.wg.Add(1)
			go p.flushWatched(batch)
		}
	}
}

// noteEvent records one filesystem event. New directories are watched
// immediately and their current contents queued, since files can land in
// a fresh directory before its watch does. Files wait for the next flush.
func (p *Pipeline) noteEvent(watcher *fsnotify.Watcher, event fsnotify.Event, pending map[string]struct{}) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		// gone again before we looked
		return
	}
	if hiddenName(filepath.Base(event.Name)) {
		return
	}

	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			p.watchNewDirectory(watcher, event.Name, pending)
		}
		return
	}
	if !imageops.SupportedExt(filepath.Ext(event.Name)) {
		return
	}
	pending[event.Name] = struct{}{}
}

// watchTree installs a watch on every directory under root, skipping
// hidden subtrees the walk skips too. The watch API is not recursive;
// directories created later are added as their create events arrive.
func (p *Pipeline) watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(dir string, d fs.DirEntry, err error) error {
		if err != nil {
			if dir == root {
				return err
			}
			p.logger.Warn("watch setup skipped subtree", "path", dir, "error", err)
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if dir != root && hiddenName(d.Name()) {
			return fs.SkipDir
		}
		if err := watcher.Add(dir); err != nil {
			p.logger.Warn("watch add failed", "path", dir, "error", err)
		}
		return nil
	})
}

func (p *Pipeline) watchNewDirectory(watcher *fsnotify.Watcher, dir string, pending map[string]struct{}) {
	err := filepath.WalkDir(dir, func(sub string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if sub != dir && hiddenName(d.Name()) {
				return fs.SkipDir
			}
			if werr := watcher.Add(sub); werr != nil {
				p.logger.Warn("watch add failed", "path", sub, "error", werr)
			}
			return nil
		}
		if !hiddenName(d.Name()) && imageops.SupportedExt(filepath.Ext(sub)) {
			pending[sub] = struct{}{}
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("new directory sweep failed", "path", dir, "error", err)
	}
}

// flushWatched probes one coalesced batch of changed paths. The caller
// already holds the producer count for this flush.
func (p *Pipeline) flushWatched(batch map[string]struct{}) {
	defer p.wg.Done()
	defer p.producers.Add(-1)

	root := p.settings.Library.PhotosPath
	run := p.activeRun()
	ingested := 0
	for abs := range batch {
		select {
		case <-p.quit:
			return
		default:
		}

		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		p.ingestFile(abs, rel, info)
		if run != nil {
			run.noteSeen(rel)
		}
		ingested++
	}
	if ingested > 0 {
		p.logger.Info("Watched changes ingested", "count", ingested)
		p.notify()
	}
}
