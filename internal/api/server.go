// internal/api/server.go
package api

import (
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/photoindex/internal/artifacts"
	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/observability"
	"github.com/tphakala/photoindex/internal/pipeline"
)

// Server encapsulates the Echo instance and the API controller bound to it.
type Server struct {
	Echo       *echo.Echo
	Settings   *conf.Settings
	Controller *Controller
}

// NewServer builds the HTTP server and mounts the API on it. The pipeline may
// be nil, in which case scan and pipeline endpoints report 503.
func NewServer(settings *conf.Settings, ds datastore.Interface, pl *pipeline.Pipeline,
	files *artifacts.Store, metrics *observability.Metrics, logger *log.Logger) (*Server, error) {
	configureDefaultSettings(settings)

	e := echo.New()
	e.HideBanner = true
	e.IPExtractor = echo.ExtractIPFromXFFHeader()

	// The API logging middleware covers requests; Echo's own logger only
	// duplicates it.
	e.Logger.SetOutput(io.Discard)
	e.Logger.SetLevel(99)

	controller, err := New(e, ds, settings, pl, files, metrics, logger)
	if err != nil {
		return nil, err
	}

	return &Server{
		Echo:       e,
		Settings:   settings,
		Controller: controller,
	}, nil
}

// Start begins listening and serving HTTP requests.
func (s *Server) Start() {
	errChan := make(chan error)

	go func() {
		if err := s.Echo.Start(":" + s.Settings.WebServer.Port); err != nil {
			errChan <- err
		}
	}()

	go handleServerError(errChan)

	log.Printf("HTTP server started on port %s", s.Settings.WebServer.Port)
}

// Shutdown stops the API controller and closes the HTTP server.
func (s *Server) Shutdown() error {
	s.Controller.Shutdown()
	return s.Echo.Close()
}

// configureDefaultSettings sets default values for server settings.
func configureDefaultSettings(settings *conf.Settings) {
	if settings.WebServer.Port == "" {
		settings.WebServer.Port = "8080"
	}
}

// handleServerError listens for server errors and handles them.
func handleServerError(errChan chan error) {
	for err := range errChan {
		if errors.Is(err, http.ErrServerClosed) {
			continue
		}
		log.Printf("Server error: %v", err)
	}
}
