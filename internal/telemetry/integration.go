package telemetry

import (
	"fmt"
	"sync"

	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/events"
)

var (
	workerMu        sync.RWMutex
	telemetryWorker *TelemetryWorker
)

// Attach routes enhanced errors through the event bus to Sentry. It starts
// the bus, registers the telemetry worker as a consumer, and hands the errors
// package a publisher so Build() calls stop blocking on network I/O. Call
// after Init; a no-op when telemetry is disabled.
func Attach() error {
	if !enabled.Load() {
		getLogger().Debug("telemetry disabled, skipping event bus integration")
		return nil
	}

	if _, err := events.Initialize(nil); err != nil {
		return fmt.Errorf("initializing event bus: %w", err)
	}

	eventBus := events.GetEventBus()
	if eventBus == nil {
		return fmt.Errorf("event bus is nil after initialization")
	}

	worker := NewTelemetryWorker(true, DefaultWorkerConfig())
	if err := eventBus.RegisterConsumer(worker); err != nil {
		return fmt.Errorf("registering telemetry worker: %w", err)
	}

	err := events.InitializeErrorsIntegration(func(publisher any) {
		if p, ok := publisher.(errors.EventPublisher); ok {
			errors.SetEventPublisher(p)
		}
	})
	if err != nil {
		return fmt.Errorf("wiring errors integration: %w", err)
	}

	workerMu.Lock()
	telemetryWorker = worker
	workerMu.Unlock()

	getLogger().Info("telemetry worker registered with event bus",
		"rate_limit", DefaultWorkerConfig().RateLimitMaxEvents,
		"failure_threshold", DefaultWorkerConfig().FailureThreshold,
	)

	return nil
}

// GetWorkerStats returns telemetry worker statistics, or nil when the worker
// was never attached.
func GetWorkerStats() *WorkerStats {
	workerMu.RLock()
	defer workerMu.RUnlock()

	if telemetryWorker == nil {
		return nil
	}
	stats := telemetryWorker.GetStats()
	return &stats
}
