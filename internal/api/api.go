// internal/api/api.go
package api

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/photoindex/internal/artifacts"
	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/logging"
	"github.com/tphakala/photoindex/internal/observability"
	"github.com/tphakala/photoindex/internal/pipeline"
)

// Pagination limits for list endpoints.
const (
	defaultPageSize = 60
	maxPageSize     = 200
)

// statsCacheTTL bounds how stale the aggregate stats endpoints may be.
const statsCacheTTL = 30 * time.Second

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings
	Pipeline *pipeline.Pipeline

	files     *artifacts.Store // derived artifacts under the data dir
	originals *artifacts.Store // read-only view of the photo library

	logger         *log.Logger
	statsCache     *cache.Cache // caches aggregate stats responses
	apiLogger      *slog.Logger // structured logger for API operations
	apiLevelVar    *slog.LevelVar
	apiLoggerClose func() error
	metrics        *observability.Metrics
	hub            *streamHub
	startTime      *time.Time

	// Goroutine lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new API controller and registers all routes.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	pl *pipeline.Pipeline, files *artifacts.Store,
	metrics *observability.Metrics, logger *log.Logger) (*Controller, error) {
	return NewWithOptions(e, ds, settings, pl, files, metrics, logger, true)
}

// NewWithOptions creates a new API controller with optional route
// initialization. Tests pass initializeRoutes=false and invoke handlers
// directly.
func NewWithOptions(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	pl *pipeline.Pipeline, files *artifacts.Store,
	metrics *observability.Metrics, logger *log.Logger, initializeRoutes bool) (*Controller, error) {

	if logger == nil {
		logger = log.Default()
	}

	// The originals store serves library files back out. The photo root is
	// read-only and must already exist; it is never created here.
	photosPath := settings.Library.PhotosPath
	fi, err := os.Stat(photosPath)
	if err != nil {
		return nil, fmt.Errorf("photo library path %q is not accessible: %w", photosPath, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("photo library path %q is not a directory", photosPath)
	}
	originals, err := artifacts.New(photosPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open photo library for serving: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		Echo:       e,
		DS:         ds,
		Settings:   settings,
		Pipeline:   pl,
		files:      files,
		originals:  originals,
		logger:     logger,
		statsCache: cache.New(statsCacheTTL, time.Minute),
		metrics:    metrics,
		ctx:        ctx,
		cancel:     cancel,
	}

	// Structured logger for API requests, rotating file with a fallback to
	// a disabled logger when the file cannot be opened.
	apiLogPath := settings.WebServer.Log.Path
	if apiLogPath == "" {
		apiLogPath = "logs/web.log"
	}
	c.apiLevelVar = new(slog.LevelVar)
	c.apiLevelVar.Set(slog.LevelInfo)
	if settings.Debug {
		c.apiLevelVar.Set(slog.LevelDebug)
	}

	apiLogger, closeFunc, err := logging.NewFileLogger(apiLogPath, "api", c.apiLevelVar)
	if err != nil {
		logger.Printf("Warning: Failed to initialize API structured logger: %v", err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: c.apiLevelVar})
		c.apiLogger = slog.New(fbHandler).With("service", "api")
		c.apiLoggerClose = func() error { return nil }
	} else {
		c.apiLogger = apiLogger
		c.apiLoggerClose = closeFunc
	}

	// Create the API group
	c.Group = e.Group("/api")

	// Configure middlewares
	c.Group.Use(middleware.Recover())
	c.Group.Use(middleware.CORS())
	c.Group.Use(middleware.BodyLimit("1M"))
	c.Group.Use(c.LoggingMiddleware())

	now := time.Now()
	c.startTime = &now

	// Progress websockets. The hub pushes coalesced snapshots whenever the
	// pipeline reports a change.
	c.hub = newStreamHub(c)
	if pl != nil {
		pl.SetOnChange(c.hub.markDirty)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.hub.run(ctx)
	}()

	if initializeRoutes {
		c.initRoutes()
	}

	return c, nil
}

// LoggingMiddleware logs API requests and feeds the HTTP metrics.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()

			err := next(ctx)

			req := ctx.Request()
			res := ctx.Response()
			elapsed := time.Since(start)

			if c.metrics != nil && c.metrics.HTTP != nil {
				// ctx.Path() is the route pattern, keeping label cardinality bounded
				c.metrics.HTTP.RecordRequest(req.Method, ctx.Path(), strconv.Itoa(res.Status))
				c.metrics.HTTP.RecordRequestDuration(req.Method, ctx.Path(), elapsed.Seconds())
			}

			if c.apiLogger == nil {
				return err
			}

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("query", req.URL.RawQuery),
				slog.Int("status", res.Status),
				slog.String("ip", ctx.RealIP()),
				slog.String("user_agent", req.UserAgent()),
				slog.Int64("latency_ms", elapsed.Milliseconds()),
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}

			c.apiLogger.LogAttrs(req.Context(), slog.LevelInfo, "API Request", attrs...)

			return err
		}
	}
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	// Health check endpoint
	c.Group.GET("/health", c.HealthCheck)

	routeInitializers := []struct {
		name string
		fn   func()
	}{
		{"photo routes", c.initPhotoRoutes},
		{"browse routes", c.initBrowseRoutes},
		{"people routes", c.initPeopleRoutes},
		{"collection routes", c.initCollectionRoutes},
		{"control routes", c.initControlRoutes},
		{"stream routes", c.initStreamRoutes},
	}

	for _, initializer := range routeInitializers {
		c.Debug("Initializing %s...", initializer.name)

		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Printf("PANIC during %s initialization: %v", initializer.name, r)
				}
			}()

			initializer.fn()
		}()
	}

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// HealthCheck reports process health: catalog connectivity and photo root
// availability.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	response := map[string]any{
		"status":     "healthy",
		"version":    c.Settings.Version,
		"build_date": c.Settings.BuildDate,
		"timestamp":  time.Now().Format(time.RFC3339),
	}

	database := "connected"
	if _, err := c.DS.CountPhotos(); err != nil {
		database = "disconnected"
		response["database_error"] = err.Error()
		response["status"] = "degraded"
	}
	response["database"] = database

	photosRoot := "available"
	if fi, err := os.Stat(c.Settings.Library.PhotosPath); err != nil || !fi.IsDir() {
		photosRoot = "missing"
		response["status"] = "degraded"
	}
	response["photos_root"] = photosRoot

	if c.startTime != nil {
		uptime := time.Since(*c.startTime)
		response["uptime"] = uptime.String()
		response["uptime_seconds"] = uptime.Seconds()
	}

	return ctx.JSON(http.StatusOK, response)
}

// Shutdown performs cleanup of all resources used by the API controller.
// This should be called when the application is shutting down.
func (c *Controller) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}

	// Wait for the stream hub and per-connection readers to finish
	c.wg.Wait()

	if c.apiLoggerClose != nil {
		if err := c.apiLoggerClose(); err != nil {
			c.logger.Printf("Error closing API log file: %v", err)
		}
	}

	if c.originals != nil {
		if err := c.originals.Close(); err != nil {
			c.logger.Printf("Error closing photo library handle: %v", err)
		}
	}

	if c.statsCache != nil {
		c.statsCache.Flush()
	}

	c.Debug("API controller shutting down")
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	correlationID := generateCorrelationID()

	var errorStr string
	if err != nil {
		errorStr = err.Error()
	} else {
		errorStr = message
	}

	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
	}
}

// generateCorrelationID creates a unique identifier for error tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}

	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError constructs and returns an appropriate error response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	ip := ctx.RealIP()
	c.logger.Printf("API Error [%s] from %s: %s: %v", errorResp.CorrelationID, ip, message, err)

	if c.apiLogger != nil {
		var errorStr string
		if err != nil {
			errorStr = err.Error()
		} else {
			errorStr = message
		}

		c.apiLogger.Error("API Error",
			"correlation_id", errorResp.CorrelationID,
			"message", message,
			"error", errorStr,
			"code", code,
			"path", ctx.Request().URL.Path,
			"method", ctx.Request().Method,
			"ip", ip,
		)
	}

	return ctx.JSON(code, errorResp)
}

// Debug logs debug messages when debug mode is enabled.
func (c *Controller) Debug(format string, v ...any) {
	if c.Settings.Debug {
		msg := fmt.Sprintf(format, v...)
		c.logger.Printf("[DEBUG] %s", msg)

		if c.apiLogger != nil {
			c.apiLogger.Debug(msg)
		}
	}
}

// --- Query parameter helpers shared by list handlers ---

// queryInt parses an integer query parameter, falling back to def on
// absence or garbage.
func queryInt(ctx echo.Context, name string, def int) int {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}

// queryBoolPtr parses an optional boolean query parameter. Absence means
// "no constraint" and returns nil.
func queryBoolPtr(ctx echo.Context, name string) *bool {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &value
}

// parseIDParam parses the numeric :id path parameter.
func parseIDParam(ctx echo.Context) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", ctx.Param("id"))
	}
	return uint(id), nil
}

// pageParams returns the validated page and page size for a list request.
func pageParams(ctx echo.Context) (page, pageSize int) {
	page = queryInt(ctx, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize = queryInt(ctx, "page_size", defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// parseDateParam parses a date filter value, accepting RFC 3339 timestamps
// and plain dates. Plain dates used as a range end extend to the end of
// that day.
func parseDateParam(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected RFC 3339 or YYYY-MM-DD", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return &t, nil
}
