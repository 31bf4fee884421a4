// workers.go: per-stage worker pools and the claim/settle/fan-out contract
package pipeline

import (
	"time"

	"github.com/tphakala/photoindex/internal/datastore"
)

// item is one queue delivery. The generation stamps which scan epoch
// enqueued it; a cancel or index clear bumps the epoch and strands stale
// deliveries, whose ledger rows stay pending for a later pass.
type item struct {
	fileID uint
	gen    uint64
}

func (p *Pipeline) startWorkers() {
	for _, stage := range datastore.AllStages() {
		handler := p.handlers[stage]
		for range workerCount(stage, &p.settings.Pipeline.Workers) {
			p.wg.Add(1)
			go p.workerLoop(stage, handler)
		}
	}
}

func (p *Pipeline) workerLoop(stage datastore.Stage, handler stageHandler) {
	defer p.wg.Done()
	queue := p.queues[stage]
	for {
		select {
		case <-p.quit:
			return
		case it := <-queue:
			p.processOne(stage, it, handler)
		}
	}
}

// processOne handles a single delivery end to end. Ledger status decides
// what a delivery means: only a pending row with a settled parent is
// claimed and run, everything else is a duplicate, a stale epoch, or a
// file whose turn has not come.
func (p *Pipeline) processOne(stage datastore.Stage, it item, handler stageHandler) {
	defer p.inflight.Add(-1)

	if it.gen != p.gen.Load() {
		return
	}

	row, parentSettled, err := p.stageState(it.fileID, stage)
	if err != nil {
		p.logger.Error("ledger lookup failed",
			"stage", string(stage), "file_id", it.fileID, "error", err)
		return
	}
	if row == nil {
		// file removed under us, its ledger rows went with it
		return
	}
	if row.Status != datastore.StatusPending {
		if isSettled(row.Status) {
			// duplicate delivery after settle: keep dependents moving
			p.fanOut(stage, it.fileID)
		}
		return
	}
	if !parentSettled {
		// the parent settle will re-deliver this file
		return
	}

	claimed, err := p.store.ClaimStage(it.fileID, stage)
	if err != nil {
		p.logger.Error("stage claim failed",
			"stage", string(stage), "file_id", it.fileID, "error", err)
		return
	}
	if !claimed {
		return
	}

	photo, err := p.store.GetPhotoByID(it.fileID)
	if err != nil {
		// claim stays in_flight; the demotion sweep returns it if the
		// row still exists
		p.logger.Error("photo lookup failed after claim",
			"stage", string(stage), "file_id", it.fileID, "error", err)
		return
	}

	p.track.setCurrent(stage, photo.FilePath)
	started := time.Now()
	err = handler(p.ctx, photo)
	p.track.clearCurrent(stage, photo.FilePath)

	if p.metrics != nil {
		p.metrics.RecordStageDuration(string(stage), time.Since(started).Seconds())
	}

	if err == nil {
		if p.metrics != nil {
			p.metrics.RecordStageProcessed(string(stage), string(datastore.StatusDone))
		}
		p.settle(stage, it.fileID, photo.FilePath)
		return
	}
	p.settleError(stage, it.fileID, photo.FilePath, row.Attempts, err)
}

// settle records a successful stage locally. The handler already committed
// results and marked the ledger row done in one transaction.
func (p *Pipeline) settle(stage datastore.Stage, fileID uint, file string) {
	p.track.noteSettled(stage, file)
	p.markDirty()
	p.fanOut(stage, fileID)
	p.notify()
}

// settleError maps a handler error to its ledger disposition.
func (p *Pipeline) settleError(stage datastore.Stage, fileID uint, file string, priorAttempts int, cause error) {
	version := StageVersion(stage)

	switch outcomeFor(cause) {
	case outcomeRelease:
		// interrupted, not attempted: the row stays in_flight until the
		// demotion sweep at shutdown or cancel returns it to pending
		return

	case outcomeSkip:
		p.skip(stage, fileID, file, version, cause)

	case outcomeFail:
		p.fail(stage, fileID, file, version, cause)

	case outcomeRetry:
		attempt := priorAttempts + 1
		if attempt >= maxAttempts(&p.settings.Pipeline.Retry) {
			if degradesToSkip(stage, cause) {
				p.skip(stage, fileID, file, version, cause)
				return
			}
			p.fail(stage, fileID, file, version, cause)
			return
		}
		if err := p.store.RecordAttempt(fileID, stage, errText(cause)); err != nil {
			p.logger.Error("record attempt failed",
				"stage", string(stage), "file_id", fileID, "error", err)
			return
		}
		if p.metrics != nil {
			p.metrics.RecordStageRetry(string(stage))
		}
		delay := backoffDelay(&p.settings.Pipeline.Retry, attempt)
		p.logger.Warn("stage attempt failed, will retry",
			"stage", string(stage),
			"file_id", fileID,
			"attempt", attempt,
			"retry_in", delay.Round(time.Millisecond).String(),
			"error", cause)
		p.requeueAfter(stage, fileID, delay)
	}
}

func (p *Pipeline) skip(stage datastore.Stage, fileID uint, file string, version int, cause error) {
	if err := p.store.MarkSkipped(fileID, stage, version, errText(cause)); err != nil {
		p.logger.Error("mark skipped failed",
			"stage", string(stage), "file_id", fileID, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.RecordStageProcessed(string(stage), string(datastore.StatusSkipped))
	}
	p.settle(stage, fileID, file)
}

func (p *Pipeline) fail(stage datastore.Stage, fileID uint, file string, version int, cause error) {
	if err := p.store.MarkFailed(fileID, stage, version, errText(cause)); err != nil {
		p.logger.Error("mark failed failed",
			"stage", string(stage), "file_id", fileID, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.RecordStageProcessed(string(stage), string(datastore.StatusFailed))
	}
	p.logger.Error("stage failed terminally",
		"stage", string(stage), "file_id", fileID, "path", file, "error", cause)
	p.settle(stage, fileID, file)
}

// stageState fetches the ledger row for one stage plus whether its parent
// stage, when it has one, is settled.
func (p *Pipeline) stageState(fileID uint, stage datastore.Stage) (*datastore.LedgerEntry, bool, error) {
	entries, err := p.store.LedgerEntries(fileID)
	if err != nil {
		return nil, false, err
	}

	parent, hasParent := parentStage(stage)
	parentSettled := !hasParent
	parentSeen := false
	var row *datastore.LedgerEntry
	for i := range entries {
		switch entries[i].Stage {
		case stage:
			row = &entries[i]
		case parent:
			if hasParent {
				parentSeen = true
				parentSettled = isSettled(entries[i].Status)
			}
		}
	}
	if hasParent && !parentSeen {
		// a missing parent row must not gate forever
		parentSettled = true
	}
	return row, parentSettled, nil
}

func isSettled(status datastore.Status) bool {
	switch status {
	case datastore.StatusDone, datastore.StatusFailed, datastore.StatusSkipped:
		return true
	}
	return false
}

// fanOut delivers a settled stage's file to each dependent stage. Sends
// block when a queue is full, which propagates backpressure upstream; the
// stage graph is acyclic so blocked fan-out cannot deadlock.
func (p *Pipeline) fanOut(stage datastore.Stage, fileID uint) {
	for _, next := range Downstream(stage) {
		p.enqueue(next, fileID)
	}
}

// enqueue delivers one file to a stage queue, blocking when it is full.
// The inflight count covers queued items, so idle detection cannot fire
// while work sits buffered.
func (p *Pipeline) enqueue(stage datastore.Stage, fileID uint) {
	p.inflight.Add(1)
	select {
	case p.queues[stage] <- item{fileID: fileID, gen: p.gen.Load()}:
	case <-p.quit:
		p.inflight.Add(-1)
	}
}

// requeueAfter re-delivers a file to its stage once the backoff delay has
// passed. The timer holds an inflight count so the pipeline does not go
// idle, and with it run the batch barrier, while a retry is still owed.
func (p *Pipeline) requeueAfter(stage datastore.Stage, fileID uint, delay time.Duration) {
	p.inflight.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inflight.Add(-1)
		select {
		case <-p.quit:
		case <-time.After(delay):
			p.enqueue(stage, fileID)
		}
	}()
}

// pumpBacklog enqueues every pending ledger row left over from earlier
// runs of the process, one pass per stage. Rows created while the pump
// walks arrive through discovery and fan-out instead; duplicate
// deliveries lose the claim and drop.
func (p *Pipeline) pumpBacklog() {
	for _, stage := range datastore.AllStages() {
		p.producers.Add(1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.producers.Add(-1)

			ids, err := p.store.PendingFiles(stage, 0)
			if err != nil {
				p.logger.Error("backlog fetch failed",
					"stage", string(stage), "error", err)
				return
			}
			if len(ids) == 0 {
				return
			}
			p.logger.Info("Resuming pending work from ledger",
				"stage", string(stage), "count", len(ids))
			for _, id := range ids {
				select {
				case <-p.quit:
					return
				default:
				}
				p.enqueue(stage, id)
			}
		}()
	}
}
