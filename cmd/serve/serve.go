// Package serve provides the serve command, the long-running mode that
// indexes the photo library and serves the web API.
package serve

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/photoindex/internal/api"
	"github.com/tphakala/photoindex/internal/artifacts"
	"github.com/tphakala/photoindex/internal/caption"
	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/faces"
	"github.com/tphakala/photoindex/internal/geocode"
	"github.com/tphakala/photoindex/internal/imagemeta"
	"github.com/tphakala/photoindex/internal/logging"
	"github.com/tphakala/photoindex/internal/motion"
	"github.com/tphakala/photoindex/internal/observability"
	"github.com/tphakala/photoindex/internal/pipeline"
	"github.com/tphakala/photoindex/internal/telemetry"
)

// Command creates the serve command for the long-running indexing mode.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Index the photo library and serve the web API",
		Long:  "Start the ingestion pipeline with the filesystem watcher and serve the JSON API, thumbnails and progress websockets over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(settings)
		},
	}

	// Set up flags specific to the 'serve' command
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "HTTP port to listen on")
	cmd.Flags().BoolVar(&settings.Library.WatchEnabled, "watch", viper.GetBool("library.watchenabled"), "Watch the library for filesystem changes")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

// runServe wires the full application and blocks until SIGINT or
// SIGTERM. The pipeline's startup ledger sweep runs before the HTTP
// server accepts its first request.
func runServe(settings *conf.Settings) error {
	logger := logging.ForService("main")
	if logger == nil {
		logger = slog.Default().With("service", "main")
	}

	fi, err := os.Stat(settings.Library.PhotosPath)
	if err != nil {
		return fmt.Errorf("photo library path %q is not accessible: %w", settings.Library.PhotosPath, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("photo library path %q is not a directory", settings.Library.PhotosPath)
	}

	// Telemetry comes up first so startup failures are reported. It is
	// opt-in and a misconfiguration never blocks serving.
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

	pl := pipeline.New(settings, store, files, pipeline.Services{
		Meta:     imagemeta.NewExtractor(),
		Geocoder: geocoder,
		Motion:   motion.NewExtractor(files),
		Faces:    faces.New(settings, store, files),
		Vision:   caption.NewClient(settings.Ollama),
		Metrics:  metrics,
	})

	// The API controller registers the pipeline's change callback, so
	// the server is built before Start.
	var server *api.Server
	if settings.WebServer.Enabled {
		server, err = api.NewServer(settings, store, pl, files, metrics, log.Default())
		if err != nil {
			return fmt.Errorf("error building HTTP server: %w", err)
		}
	}

	// Start runs the ledger sweep and reconcile before returning, so
	// the catalog is consistent before the first request lands.
	if err := pl.Start(); err != nil {
		return fmt.Errorf("error starting pipeline: %w", err)
	}

	if server != nil {
		server.Start()
	}

	logger.Info("PhotoIndex started",
		"version", settings.Version,
		"photos", settings.Library.PhotosPath,
		"data", settings.Library.DataDir,
		"http", settings.WebServer.Enabled)

	waitForSignal(logger)

	// Shutdown order: stop accepting requests and close the progress
	// sockets, then drain the pipeline, then flush telemetry. The
	// catalog closes last through the deferred close.
	if server != nil {
		if err := server.Shutdown(); err != nil {
			logger.Warn("HTTP server shutdown failed", "error", err)
		}
	}
	pl.Shutdown()
	telemetry.Shutdown(3 * time.Second)

	return nil
}

// waitForSignal blocks until SIGINT or SIGTERM arrives.
func waitForSignal(logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	logger.Info("Shutting down", "signal", sig.String())
}

// closeDataStore attempts to close the database connection and logs the result.
func closeDataStore(store datastore.Interface) {
	if err := store.Close(); err != nil {
		logging.Error("Failed to close catalog database", "error", err)
	}
}
