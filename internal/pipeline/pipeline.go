// Package pipeline drives the ingestion machinery: the explicit library
// walk, the filesystem watcher, per-stage worker pools over the
// persistent work ledger, and the idle-time barrier that regroups the
// whole library.
//
// Work always flows through the ledger. Discovery adopts files and seeds
// one pending row per stage; workers claim rows, run the stage and commit
// results together with the ledger mark; the monitor watches for the
// moment everything drains and then rebuilds events and duplicate
// groups. Restarting the process never rescans the library, the ledger
// says what is still owed.
package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/photoindex/internal/artifacts"
	"github.com/tphakala/photoindex/internal/caption"
	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/faces"
	"github.com/tphakala/photoindex/internal/geocode"
	"github.com/tphakala/photoindex/internal/imagemeta"
	"github.com/tphakala/photoindex/internal/logging"
	"github.com/tphakala/photoindex/internal/motion"
	"github.com/tphakala/photoindex/internal/observability"
	"github.com/tphakala/photoindex/internal/observability/metrics"
	"github.com/tphakala/photoindex/internal/phash"
)

// Control sentinels surfaced to the API layer.
var (
	// ErrScanActive reports a trigger or destructive operation while a
	// scan is running.
	ErrScanActive = errors.Newf("a scan is already running").
			Component("pipeline").
			Category(errors.CategoryConflict).
			Build()

	// ErrNoActiveScan reports a stop request with nothing to stop.
	ErrNoActiveScan = errors.Newf("no scan is running").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
)

// monitorInterval paces idle detection and with it how quickly the
// barrier follows the last settle.
const monitorInterval = 500 * time.Millisecond

// Services bundles the stage implementations the pipeline drives. A nil
// Metrics runs the pipeline unobserved.
type Services struct {
	Meta     *imagemeta.Extractor
	Geocoder *geocode.Geocoder
	Motion   *motion.Extractor
	Faces    *faces.Service
	Vision   *caption.Client
	Metrics  *observability.Metrics
}

// Pipeline supervises discovery, the stage workers and the barrier.
type Pipeline struct {
	settings *conf.Settings
	store    datastore.Interface
	files    *artifacts.Store
	logger   *slog.Logger
	metrics  *metrics.PipelineMetrics

	meta     *imagemeta.Extractor
	geocoder *geocode.Geocoder
	motion   *motion.Extractor
	faces    *faces.Service
	vision   *caption.Client
	dupes    *phash.Index

	handlers map[datastore.Stage]stageHandler
	queues   map[datastore.Stage]chan item
	track    *tracker

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	// gen stamps queue deliveries; inflight counts queued plus running
	// plus owed work; producers counts active walks, pumps and flushes.
	// Idle means both counters are zero.
	gen       atomic.Uint64
	inflight  atomic.Int64
	producers atomic.Int64
	dirty     atomic.Bool

	runMu          sync.Mutex
	run            *runState
	lastOutcome    string
	lastElapsed    time.Duration
	lastDiscovered int64
	lastProcessed  int64

	// onChange fires after every observable state change. Set before
	// Start; invoked from worker goroutines without any pipeline lock
	// held.
	onChange func()
}

// New wires a pipeline over its stores and services. Call Start to run it.
func New(settings *conf.Settings, store datastore.Interface, files *artifacts.Store, svc Services) *Pipeline {
	logger := logging.ForService("pipeline")
	if logger == nil {
		logger = slog.Default().With("service", "pipeline")
	}

	queueSize := settings.Pipeline.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	stages := datastore.AllStages()
	queues := make(map[datastore.Stage]chan item, len(stages))
	for _, stage := range stages {
		queues[stage] = make(chan item, queueSize)
	}

	p := &Pipeline{
		settings: settings,
		store:    store,
		files:    files,
		logger:   logger,
		meta:     svc.Meta,
		geocoder: svc.Geocoder,
		motion:   svc.Motion,
		faces:    svc.Faces,
		vision:   svc.Vision,
		dupes:    phash.NewIndex(),
		queues:   queues,
		track:    newTracker(),
		quit:     make(chan struct{}),
	}
	if svc.Metrics != nil {
		p.metrics = svc.Metrics.Pipeline
		if files != nil {
			// Every derived artifact flows through the store, so one hook
			// covers thumbnails, face crops and motion videos alike.
			files.SetOnWrite(p.metrics.RecordArtifactWritten)
		}
	}
	p.handlers = p.buildHandlers()
	return p
}

// SetOnChange registers the state change callback. Must be called before
// Start.
func (p *Pipeline) SetOnChange(fn func()) { p.onChange = fn }

// QueueCapacity returns the bounded queue capacity shared by all stages.
func (p *Pipeline) QueueCapacity() int { return cap(p.queues[datastore.StageExif]) }

// Start recovers the ledger, launches the worker pools and begins
// watching the library. It never walks the photo tree; only an explicit
// TriggerScan does that.
func (p *Pipeline) Start() error {
	p.ctx, p.cancel = context.WithCancel(context.Background())

	if err := p.recover(); err != nil {
		return err
	}

	p.startWorkers()
	p.pumpBacklog()

	if p.metrics != nil {
		for _, stage := range datastore.AllStages() {
			p.metrics.UpdateQueueCapacity(string(stage), cap(p.queues[stage]))
		}
	}

	p.wg.Add(1)
	go p.monitor()

	if p.settings.Library.WatchEnabled {
		p.wg.Add(1)
		go p.watchLibrary()
	}

	p.logger.Info("Pipeline started",
		"queue_size", cap(p.queues[datastore.StageExif]),
		"watch", p.settings.Library.WatchEnabled)
	return nil
}

// recover is the startup ledger pass: release stale claims, close
// abandoned runs, requeue results from outdated stage versions, mark
// catalog paths that vanished from disk and reload the in-memory
// indexes. No file content is read and no stage work happens here.
func (p *Pipeline) recover() error {
	if _, err := p.store.DemoteInFlight(); err != nil {
		return err
	}

	abandoned, err := p.store.FailAbandonedScanRuns()
	if err != nil {
		return err
	}
	if abandoned > 0 {
		p.logger.Warn("Closed abandoned scan runs", "count", abandoned)
		if p.metrics != nil {
			for range int(abandoned) {
				p.metrics.RecordScanRun(datastore.ScanStatusFailed, 0)
			}
		}
	}

	for _, stage := range datastore.AllStages() {
		if _, err := p.store.ResetOutdated(stage, StageVersion(stage)); err != nil {
			return err
		}
	}

	root := p.settings.Library.PhotosPath
	marked, cleared, err := p.store.ReconcileMissing(func(rel string) bool {
		_, statErr := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		return statErr == nil
	})
	if err != nil {
		return err
	}
	if marked > 0 || cleared > 0 {
		p.markDirty()
	}

	if err := p.seedDuplicates(); err != nil {
		return err
	}
	if p.faces != nil {
		if err := p.faces.Seed(); err != nil {
			p.logger.Warn("person index seed failed", "error", err)
		}
	}
	return nil
}

// seedDuplicates rebuilds the in-memory duplicate index from every
// stored perceptual hash.
func (p *Pipeline) seedDuplicates() error {
	entries, err := p.store.PHashEntries()
	if err != nil {
		return err
	}
	p.dupes.Clear()
	for _, entry := range entries {
		p.dupes.Add(entry.FileID, entry.Hash)
	}
	if len(entries) > 0 {
		p.logger.Info("Duplicate index seeded", "hashes", len(entries))
	}
	return nil
}

// Shutdown stops every goroutine, then releases the claims this process
// still holds and closes a scan left running. Safe to call once after a
// successful Start.
func (p *Pipeline) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.quit)
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()

		released, err := p.store.DemoteInFlight()
		if err != nil {
			p.logger.Error("shutdown ledger sweep failed", "error", err)
		} else if released > 0 {
			p.logger.Info("Released in-flight claims", "count", released)
		}

		p.runMu.Lock()
		run := p.run
		p.run = nil
		p.runMu.Unlock()
		if run != nil {
			if err := p.store.FinishScanRun(run.id, datastore.ScanStatusCancelled,
				"interrupted by shutdown"); err != nil {
				p.logger.Error("closing scan run failed", "scan_id", run.id, "error", err)
			}
		}

		p.logger.Info("Pipeline stopped")
	})
}

// TriggerScan starts a full library walk and returns its scan run ID.
// One scan at a time; a second trigger gets ErrScanActive.
func (p *Pipeline) TriggerScan() (uint, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.run != nil {
		return 0, ErrScanActive
	}

	row, err := p.store.StartScanRun()
	if err != nil {
		return 0, err
	}
	run := newRunState(row.ID)
	p.run = run

	p.producers.Add(1)
	p.wg.Add(1)
	go p.runDiscovery(run)

	p.logger.Info("Scan triggered", "scan_id", row.ID)
	p.notify()
	return row.ID, nil
}

// StopScan requests cancellation of the running scan. The walk stops at
// its next file, queued deliveries strand, in-flight work finishes, and
// every unprocessed ledger row stays pending for a later pass.
func (p *Pipeline) StopScan() error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.run == nil {
		return ErrNoActiveScan
	}
	p.run.cancel.Store(true)
	p.gen.Add(1)

	p.logger.Info("Scan cancel requested", "scan_id", p.run.id)
	p.notify()
	return nil
}

// ClearIndex wipes every derived row and artifact. The photo tree is
// untouched; the next scan rebuilds the catalog from scratch. Refused
// while a scan is running.
func (p *Pipeline) ClearIndex() error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.run != nil {
		return ErrScanActive
	}
	p.gen.Add(1)

	if err := p.store.ClearIndex(); err != nil {
		return err
	}
	if err := p.files.ClearDerived(); err != nil {
		return err
	}
	p.dupes.Clear()
	if p.faces != nil {
		if err := p.faces.Seed(); err != nil {
			p.logger.Warn("person index reset failed", "error", err)
		}
	}
	p.lastOutcome = ""
	p.lastElapsed = 0
	p.lastDiscovered = 0
	p.lastProcessed = 0

	p.logger.Info("Index cleared")
	p.notify()
	return nil
}

// RequestRebuild asks for an events and duplicates rebuild at the next
// idle moment, without waiting for a settle to mark the library dirty.
func (p *Pipeline) RequestRebuild() {
	p.markDirty()
}

func (p *Pipeline) activeRun() *runState {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.run
}

// isIdle reports whether nothing is queued, running, owed or producing.
func (p *Pipeline) isIdle() bool {
	return p.producers.Load() == 0 && p.inflight.Load() == 0
}

func (p *Pipeline) markDirty() { p.dirty.Store(true) }

func (p *Pipeline) notify() {
	if p.onChange != nil {
		p.onChange()
	}
}

func (p *Pipeline) monitor() {
	defer p.wg.Done()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.updateGauges()
			p.tick()
		}
	}
}

// updateGauges publishes queue depth and worker activity, once per
// monitor interval.
func (p *Pipeline) updateGauges() {
	if p.metrics == nil {
		return
	}
	for _, stage := range datastore.AllStages() {
		p.metrics.UpdateQueueDepth(string(stage), len(p.queues[stage]))
		p.metrics.UpdateInFlight(string(stage), p.track.runningCount(stage))
	}
}

// tick runs the idle-edge work: settle a drained scan run first, then
// rebuild the grouped views if anything changed since the last rebuild.
// Both run on the monitor goroutine and hold the producer count, so the
// pipeline does not read as idle while either is still underway.
func (p *Pipeline) tick() {
	if !p.isIdle() {
		return
	}
	p.producers.Add(1)
	defer p.producers.Add(-1)

	if run := p.activeRun(); run != nil {
		p.finishRun(run)
		return
	}

	if p.dirty.CompareAndSwap(true, false) {
		p.runBarrier()
	}
}

// finishRun settles a drained scan. Completed runs prune catalog rows
// the walk did not see; cancelled runs skip pruning and release whatever
// claims remain.
func (p *Pipeline) finishRun(run *runState) {
	status := datastore.ScanStatusCompleted
	message := ""

	if run.cancel.Load() {
		status = datastore.ScanStatusCancelled
		message = "stopped by request"
		if _, err := p.store.DemoteInFlight(); err != nil {
			p.logger.Error("post-cancel ledger sweep failed", "error", err)
		}
	} else {
		removed, err := p.store.RemoveMissing(run.seenSet())
		switch {
		case err != nil:
			p.logger.Error("removal pass failed", "scan_id", run.id, "error", err)
		case removed > 0:
			p.logger.Info("Removed vanished files", "scan_id", run.id, "count", removed)
			// stored rows changed under the in-memory indexes
			if err := p.seedDuplicates(); err != nil {
				p.logger.Error("duplicate index reseed failed", "error", err)
			}
			if p.faces != nil {
				if err := p.faces.Seed(); err != nil {
					p.logger.Warn("person index reseed failed", "error", err)
				}
			}
			p.markDirty()
		}
	}

	p.flushScanCounts(run)
	if err := p.store.FinishScanRun(run.id, status, message); err != nil {
		p.logger.Error("closing scan run failed", "scan_id", run.id, "error", err)
	}

	elapsed := time.Since(run.started)
	if p.metrics != nil {
		p.metrics.RecordScanRun(status, elapsed.Seconds())
	}
	p.runMu.Lock()
	p.run = nil
	p.lastOutcome = status
	p.lastElapsed = elapsed
	p.lastDiscovered = run.discovered.Load()
	p.lastProcessed = run.processed.Load()
	p.runMu.Unlock()

	p.logger.Info("Scan finished",
		"scan_id", run.id,
		"status", status,
		"discovered", run.discovered.Load(),
		"duration", elapsed.Round(time.Millisecond).String())
	p.notify()
}

// ScanStatus is the compact scan view for the scan socket and endpoint.
func (p *Pipeline) ScanStatus() ScanProgress {
	run := p.activeRun()
	if run == nil {
		return ScanProgress{}
	}

	phase := "discovery"
	current := run.currentFile()
	if run.walkDone.Load() {
		phase = "processing"
		if file := p.track.anyCurrent(); file != "" {
			current = file
		}
	}
	return ScanProgress{
		IsScanning:     true,
		TotalFiles:     run.discovered.Load(),
		ProcessedFiles: run.processed.Load(),
		CurrentFile:    current,
		Phase:          phase,
	}
}

// Snapshot assembles the full pipeline view: ledger totals per stage,
// live queue depths and worker activity, and the scan frame.
func (p *Pipeline) Snapshot() (Stats, error) {
	counts, err := p.store.StageCounts()
	if err != nil {
		return Stats{}, err
	}

	allStages := datastore.AllStages()
	stages := make([]StageStatus, 0, len(allStages))
	for _, stage := range allStages {
		c := counts[stage]
		current, last, settled := p.track.view(stage)
		stages = append(stages, StageStatus{
			Stage:       string(stage),
			Workers:     workerCount(stage, &p.settings.Pipeline.Workers),
			QueueDepth:  len(p.queues[stage]),
			Pending:     c.Pending,
			InFlight:    c.InFlight,
			Done:        c.Done,
			Failed:      c.Failed,
			Skipped:     c.Skipped,
			Processed:   settled,
			CurrentFile: current,
			LastFile:    last,
		})
	}

	p.runMu.Lock()
	run := p.run
	lastOutcome := p.lastOutcome
	lastElapsed := p.lastElapsed
	discovered := p.lastDiscovered
	processed := p.lastProcessed
	p.runMu.Unlock()

	uptime := lastElapsed.Seconds()
	if run != nil {
		discovered = run.discovered.Load()
		processed = run.processed.Load()
		uptime = time.Since(run.started).Seconds()
	}

	status := StatusIdle
	switch {
	case run != nil || !p.isIdle():
		status = StatusProcessing
	case lastOutcome == datastore.ScanStatusCompleted:
		status = StatusDone
	}

	return Stats{
		Status:        status,
		ScanActive:    run != nil,
		Discovered:    discovered,
		Processed:     processed,
		UptimeSeconds: uptime,
		Bottleneck:    bottleneck(stages),
		Stages:        stages,
	}, nil
}
