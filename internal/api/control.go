// internal/api/control.go
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/pipeline"
)

// initControlRoutes registers the scan and pipeline control endpoints.
func (c *Controller) initControlRoutes() {
	c.Group.GET("/scan/status", c.ScanStatus)
	c.Group.POST("/scan/trigger", c.TriggerScan)
	c.Group.POST("/scan/stop", c.StopScan)
	c.Group.POST("/scan/clear-index", c.ClearIndex)
	c.Group.GET("/pipeline/status", c.PipelineStatus)
	c.Group.GET("/pipeline/queues", c.PipelineQueues)
	c.Group.GET("/pipeline/queues/:stage", c.PipelineQueue)
	c.Group.GET("/pipeline/flow", c.PipelineFlow)
}

// requirePipeline rejects control requests when no pipeline is attached.
func (c *Controller) requirePipeline(ctx echo.Context) error {
	if c.Pipeline == nil {
		return c.HandleError(ctx,
			errors.Newf("pipeline not running").Component("api").Category(errors.CategoryState).Build(),
			"Pipeline not available", http.StatusServiceUnavailable)
	}
	return nil
}

// ScanRunInfo summarizes one recorded scan run.
type ScanRunInfo struct {
	ID              uint       `json:"id"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	FilesDiscovered int64      `json:"files_discovered"`
	FilesProcessed  int64      `json:"files_processed"`
	Message         string     `json:"message,omitempty"`
}

func scanRunInfo(run *datastore.ScanRun) *ScanRunInfo {
	if run == nil {
		return nil
	}
	return &ScanRunInfo{
		ID:              run.ID,
		Status:          run.Status,
		StartedAt:       run.StartedAt,
		CompletedAt:     run.CompletedAt,
		FilesDiscovered: run.FilesDiscovered,
		FilesProcessed:  run.FilesProcessed,
		Message:         run.Message,
	}
}

// ScanStatusResponse is the scan view: live progress plus the most recent
// recorded run.
type ScanStatusResponse struct {
	pipeline.ScanProgress
	LastRun *ScanRunInfo `json:"last_run,omitempty"`
}

// ScanStatus handles GET /api/scan/status.
func (c *Controller) ScanStatus(ctx echo.Context) error {
	if err := c.requirePipeline(ctx); err != nil {
		return err
	}

	response := ScanStatusResponse{ScanProgress: c.Pipeline.ScanStatus()}

	run, err := c.DS.LatestScanRun()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load scan history", http.StatusInternalServerError)
	}
	response.LastRun = scanRunInfo(run)

	return ctx.JSON(http.StatusOK, response)
}

// TriggerScan handles POST /api/scan/trigger. Requesting a scan while one
// runs is not an error, the response just says so.
func (c *Controller) TriggerScan(ctx echo.Context) error {
	if err := c.requirePipeline(ctx); err != nil {
		return err
	}

	scanID, err := c.Pipeline.TriggerScan()
	switch {
	case errors.Is(err, pipeline.ErrScanActive):
		return ctx.JSON(http.StatusOK, map[string]any{"status": "already_scanning"})
	case err != nil:
		return c.HandleError(ctx, err, "Failed to start scan", http.StatusInternalServerError)
	}

	c.statsCache.Flush()
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":  "scan_started",
		"scan_id": scanID,
	})
}

// StopScan handles POST /api/scan/stop. Cancellation is cooperative;
// workers drain what they already claimed.
func (c *Controller) StopScan(ctx echo.Context) error {
	if err := c.requirePipeline(ctx); err != nil {
		return err
	}

	err := c.Pipeline.StopScan()
	switch {
	case errors.Is(err, pipeline.ErrNoActiveScan):
		return ctx.JSON(http.StatusOK, map[string]any{"status": "no_active_scan"})
	case err != nil:
		return c.HandleError(ctx, err, "Failed to stop scan", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"status": "stop_requested"})
}

// ClearIndex handles POST /api/scan/clear-index, dropping every indexed
// photo and all derived artifacts. The library files are untouched.
func (c *Controller) ClearIndex(ctx echo.Context) error {
	if err := c.requirePipeline(ctx); err != nil {
		return err
	}

	if err := c.Pipeline.ClearIndex(); err != nil {
		if errors.Is(err, pipeline.ErrScanActive) {
			return c.HandleError(ctx, err, "Cannot clear the index while a scan is running", http.StatusConflict)
		}
		return c.HandleError(ctx, err, "Failed to clear index", http.StatusInternalServerError)
	}

	c.statsCache.Flush()
	return ctx.JSON(http.StatusOK, map[string]any{"status": "index_cleared"})
}

// PipelineStatus handles GET /api/pipeline/status with the full snapshot.
func (c *Controller) PipelineStatus(ctx echo.Context) error {
	if err := c.requirePipeline(ctx); err != nil {
		return err
	}

	stats, err := c.Pipeline.Snapshot()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read pipeline state", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, stats)
}

// QueueInfo is the queue-centric view of one stage.
type QueueInfo struct {
	Stage       string `json:"stage"`
	Workers     int    `json:"workers"`
	Capacity    int    `json:"capacity"`
	Depth       int    `json:"depth"`
	Pending     int64  `json:"pending"`
	InFlight    int64  `json:"in_flight"`
	Done        int64  `json:"done"`
	Failed      int64  `json:"failed"`
	Skipped     int64  `json:"skipped"`
	CurrentFile string `json:"current_file,omitempty"`
	LastFile    string `json:"last_file,omitempty"`
}

func queueInfo(s *pipeline.StageStatus, capacity int) QueueInfo {
	return QueueInfo{
		Stage:       s.Stage,
		Workers:     s.Workers,
		Capacity:    capacity,
		Depth:       s.QueueDepth,
		Pending:     s.Pending,
		InFlight:    s.InFlight,
		Done:        s.Done,
		Failed:      s.Failed,
		Skipped:     s.Skipped,
		CurrentFile: s.CurrentFile,
		LastFile:    s.LastFile,
	}
}

// PipelineQueues handles GET /api/pipeline/queues.
func (c *Controller) PipelineQueues(ctx echo.Context) error {
	if err := c.requirePipeline(ctx); err != nil {
		return err
	}

	stats, err := c.Pipeline.Snapshot()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read pipeline state", http.StatusInternalServerError)
	}

	capacity := c.Pipeline.QueueCapacity()
	queues := make([]QueueInfo, 0, len(stats.Stages))
	for i := range stats.Stages {
		queues = append(queues, queueInfo(&stats.Stages[i], capacity))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"queues": queues})
}

// PipelineQueue handles GET /api/pipeline/queues/:stage.
func (c *Controller) PipelineQueue(ctx echo.Context) error {
	if err := c.requirePipeline(ctx); err != nil {
		return err
	}

	stage := ctx.Param("stage")
	if !validStage(stage) {
		return c.HandleError(ctx,
			errors.Newf("unknown stage %q", stage).Component("api").Category(errors.CategoryValidation).Build(),
			"Unknown pipeline stage", http.StatusNotFound)
	}

	stats, err := c.Pipeline.Snapshot()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read pipeline state", http.StatusInternalServerError)
	}

	for i := range stats.Stages {
		if stats.Stages[i].Stage == stage {
			return ctx.JSON(http.StatusOK, queueInfo(&stats.Stages[i], c.Pipeline.QueueCapacity()))
		}
	}
	return c.HandleError(ctx, nil, "Unknown pipeline stage", http.StatusNotFound)
}

// validStage reports whether the name is a known pipeline stage.
func validStage(name string) bool {
	for _, stage := range datastore.AllStages() {
		if string(stage) == name {
			return true
		}
	}
	return false
}

// PipelineFlow handles GET /api/pipeline/flow with the static stage graph.
// The graph does not depend on pipeline state, so this works even while
// the pipeline is down.
func (c *Controller) PipelineFlow(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{"edges": pipeline.Flow()})
}
