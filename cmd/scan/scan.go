// Package scan provides the scan command, a headless one-shot walk of
// the photo library.
package scan

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

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
	"github.com/tphakala/photoindex/internal/pipeline"
	"github.com/tphakala/photoindex/internal/telemetry"
)

// pollInterval paces the completion checks of the headless run.
const pollInterval = time.Second

// Command creates the scan command for a single headless library walk.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one full library scan and exit",
		Long:  "Walk the photo library once, process every stage until the pipeline drains, then exit. No HTTP server and no filesystem watcher are started.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(settings)
		},
	}
}

// runScan triggers a full walk and waits for the pipeline to drain.
// SIGINT and SIGTERM request a cooperative cancel; in-flight work still
// finishes before the process exits.
func runScan(settings *conf.Settings) error {
	logger := logging.ForService("scan")
	if logger == nil {
		logger = slog.Default().With("service", "scan")
	}

	fi, err := os.Stat(settings.Library.PhotosPath)
	if err != nil {
		return fmt.Errorf("photo library path %q is not accessible: %w", settings.Library.PhotosPath, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("photo library path %q is not a directory", settings.Library.PhotosPath)
	}

	if err := telemetry.Init(settings); err != nil {
		logger.Warn("telemetry unavailable", "error", err)
	} else if err := telemetry.Attach(); err != nil {
		logger.Warn("telemetry event bus unavailable", "error", err)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("error initializing metrics: %w", err)
	}

	store := datastore.New(settings, metrics.Datastore)
	if err := store.Open(); err != nil {
		return fmt.Errorf("error opening catalog: %w", err)
	}
	defer closeDataStore(store)

	files, err := artifacts.New(settings.Library.DataDir)
	if err != nil {
		return fmt.Errorf("error opening artifact store: %w", err)
	}
	defer func() { _ = files.Close() }()

	geocoder, err := geocode.New(settings.ResolveModelPath(settings.Pipeline.Geocode.Dataset))
	if err != nil {
		return fmt.Errorf("error loading place index: %w", err)
	}

	// One-shot mode, the watcher never runs.
	settings.Library.WatchEnabled = false

	pl := pipeline.New(settings, store, files, pipeline.Services{
		Meta:     imagemeta.NewExtractor(),
		Geocoder: geocoder,
		Motion:   motion.NewExtractor(files),
		Faces:    faces.New(settings, store, files),
		Vision:   caption.NewClient(settings.Ollama),
		Metrics:  metrics,
	})

	if err := pl.Start(); err != nil {
		return fmt.Errorf("error starting pipeline: %w", err)
	}

	scanID, err := pl.TriggerScan()
	if err != nil {
		pl.Shutdown()
		return fmt.Errorf("error starting scan: %w", err)
	}
	logger.Info("Scan started", "scan_id", scanID, "photos", settings.Library.PhotosPath)

	last := waitForDrain(pl, logger)

	pl.Shutdown()
	telemetry.Shutdown(3 * time.Second)

	if last.Status == pipeline.StatusDone {
		fmt.Printf("Scan complete: %d files discovered, %d processed\n", last.Discovered, last.Processed)
	} else {
		fmt.Printf("Scan stopped before completion: %d files discovered, %d processed\n", last.Discovered, last.Processed)
	}
	return nil
}

// waitForDrain polls the pipeline until it reads as settled and returns
// the final snapshot. Two consecutive idle reads straddle at least one
// monitor tick, so a pending grouped-view rebuild cannot be missed.
func waitForDrain(pl *pipeline.Pipeline, logger *slog.Logger) pipeline.Stats {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last pipeline.Stats
	idleReads := 0
	for {
		select {
		case sig := <-sigChan:
			logger.Info("Cancelling scan", "signal", sig.String())
			if err := pl.StopScan(); err != nil && !errors.Is(err, pipeline.ErrNoActiveScan) {
				logger.Warn("stop request failed", "error", err)
			}

		case <-ticker.C:
			stats, err := pl.Snapshot()
			if err != nil {
				logger.Warn("pipeline status read failed", "error", err)
				continue
			}
			last = stats
			if stats.Status == pipeline.StatusProcessing {
				idleReads = 0
				continue
			}
			idleReads++
			if idleReads >= 2 {
				return last
			}
		}
	}
}

// closeDataStore attempts to close the database connection and logs the result.
func closeDataStore(store datastore.Interface) {
	if err := store.Close(); err != nil {
		logging.Error("Failed to close catalog database", "error", err)
	}
}
