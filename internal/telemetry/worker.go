package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/events"
	"github.com/tphakala/photoindex/internal/logging"
)

// TelemetryWorker implements events.EventConsumer to process error events and
// send them to Sentry. A circuit breaker guards against Sentry outages and a
// rate limiter keeps a corrupt library from flooding the project: a failing
// scan can raise thousands of decode errors in seconds.
type TelemetryWorker struct {
	enabled        bool
	circuitBreaker *CircuitBreaker
	rateLimiter    *RateLimiter

	// Metrics
	eventsProcessed atomic.Uint64
	eventsDropped   atomic.Uint64
	eventsFailed    atomic.Uint64

	// Sentry reporter (using interface for testability)
	sentryReporter errors.TelemetryReporter

	logger *slog.Logger
}

// WorkerConfig holds configuration for the telemetry worker
type WorkerConfig struct {
	// CircuitBreaker settings
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	HalfOpenMaxEvents int

	// Rate limiting
	RateLimitWindow    time.Duration
	RateLimitMaxEvents int
}

// DefaultWorkerConfig returns default configuration
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		FailureThreshold:   10,
		RecoveryTimeout:    60 * time.Second,
		HalfOpenMaxEvents:  5,
		RateLimitWindow:    1 * time.Minute,
		RateLimitMaxEvents: 100,
	}
}

// CircuitBreaker implements the circuit breaker pattern for Sentry failures
type CircuitBreaker struct {
	mu              sync.Mutex
	state           string // "closed", "open", "half-open"
	failures        int
	lastFailureTime time.Time
	successCount    int
	config          *WorkerConfig
}

// TimeSource is an interface for getting the current time (allows testing with fake time)
type TimeSource interface {
	Now() time.Time
}

// RealTimeSource uses the actual system time
type RealTimeSource struct{}

func (RealTimeSource) Now() time.Time { return time.Now() }

// RateLimiter implements a sliding window rate limit for telemetry
type RateLimiter struct {
	mu         sync.Mutex
	window     time.Duration
	maxEvents  int
	eventTimes []time.Time
	timeSource TimeSource // Injectable time source for testing
}

// NewTelemetryWorker creates a new telemetry worker
func NewTelemetryWorker(enabled bool, config *WorkerConfig) *TelemetryWorker {
	if config == nil {
		config = DefaultWorkerConfig()
	}

	logger := logging.ForService("telemetry")
	if logger == nil {
		logger = slog.Default().With("service", "telemetry")
	}

	return &TelemetryWorker{
		enabled: enabled,
		circuitBreaker: &CircuitBreaker{
			state:  "closed",
			config: config,
		},
		rateLimiter: &RateLimiter{
			window:     config.RateLimitWindow,
			maxEvents:  config.RateLimitMaxEvents,
			timeSource: RealTimeSource{},
		},
		sentryReporter: errors.NewSentryReporter(enabled),
		logger:         logger.With("consumer", "telemetry-worker"),
	}
}

// Name returns the consumer name
func (w *TelemetryWorker) Name() string {
	return "telemetry-worker"
}

// ProcessEvent processes a single error event
func (w *TelemetryWorker) ProcessEvent(event events.ErrorEvent) error {
	if !w.enabled {
		return nil
	}

	if !w.circuitBreaker.Allow() {
		w.eventsDropped.Add(1)
		w.logger.Debug("circuit breaker open, dropping event",
			"component", event.GetComponent(),
			"category", event.GetCategory(),
		)
		return nil
	}

	if !w.rateLimiter.Allow() {
		w.eventsDropped.Add(1)
		w.logger.Debug("rate limit exceeded, dropping event",
			"component", event.GetComponent(),
			"category", event.GetCategory(),
		)
		return nil
	}

	if event.IsReported() {
		return nil
	}

	if err := w.reportToSentry(event); err != nil {
		w.eventsFailed.Add(1)
		w.circuitBreaker.RecordFailure()
		w.logger.Error("failed to report to Sentry",
			"error", err,
			"component", event.GetComponent(),
			"category", event.GetCategory(),
		)
		return err
	}

	w.eventsProcessed.Add(1)
	w.circuitBreaker.RecordSuccess()
	event.MarkReported()

	return nil
}

// reportToSentry sends the error event to Sentry
func (w *TelemetryWorker) reportToSentry(event events.ErrorEvent) error {
	// Convert ErrorEvent to EnhancedError for compatibility
	ee, ok := event.(*errors.EnhancedError)
	if !ok {
		// If not an EnhancedError, create one using the builder pattern
		ee = errors.New(event.GetError()).
			Component(event.GetComponent()).
			Category(errors.ErrorCategory(event.GetCategory())).
			Build()

		if ctx := event.GetContext(); ctx != nil {
			for k, v := range ctx {
				ee.Context[k] = v
			}
		}
	}

	w.sentryReporter.ReportError(ee)

	return nil
}

// GetStats returns worker statistics
func (w *TelemetryWorker) GetStats() WorkerStats {
	return WorkerStats{
		EventsProcessed: w.eventsProcessed.Load(),
		EventsDropped:   w.eventsDropped.Load(),
		EventsFailed:    w.eventsFailed.Load(),
		CircuitState:    w.circuitBreaker.State(),
	}
}

// WorkerStats contains runtime statistics
type WorkerStats struct {
	EventsProcessed uint64
	EventsDropped   uint64
	EventsFailed    uint64
	CircuitState    string
}

// CircuitBreaker methods

// Allow checks if the circuit allows the operation
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case "open":
		// Check if we should transition to half-open
		if time.Since(cb.lastFailureTime) > cb.config.RecoveryTimeout {
			cb.state = "half-open"
			cb.successCount = 0
			return true
		}
		return false

	case "half-open":
		// Allow limited events in half-open state
		return cb.successCount < cb.config.HalfOpenMaxEvents

	default: // closed
		return true
	}
}

// RecordSuccess records a successful operation
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0

	if cb.state == "half-open" {
		cb.successCount++
		if cb.successCount >= cb.config.HalfOpenMaxEvents {
			cb.state = "closed"
		}
	}
}

// RecordFailure records a failed operation
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	if cb.failures >= cb.config.FailureThreshold {
		cb.state = "open"
	}

	if cb.state == "half-open" {
		cb.state = "open"
	}
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RateLimiter methods

// Allow checks if an event is allowed under the rate limit
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.timeSource.Now()
	cutoff := now.Add(-rl.window)

	// Remove old events outside the window
	validEvents := make([]time.Time, 0, len(rl.eventTimes))
	for _, t := range rl.eventTimes {
		if t.After(cutoff) {
			validEvents = append(validEvents, t)
		}
	}
	rl.eventTimes = validEvents

	if len(rl.eventTimes) >= rl.maxEvents {
		return false
	}

	rl.eventTimes = append(rl.eventTimes, now)
	return true
}
