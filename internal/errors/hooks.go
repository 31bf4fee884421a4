// Package errors - event bus integration
package errors

import (
	"sync/atomic"
)

// EventPublisher is an interface for publishing error events.
// This interface allows the errors package to publish events without
// importing the events package, avoiding circular dependencies.
type EventPublisher interface {
	TryPublish(event any) bool
}

// hasActiveReporting is the fast-path flag checked on every Build().
// It stays false until a telemetry reporter or event publisher is
// registered, keeping error construction cheap in the common case.
var hasActiveReporting atomic.Bool

// Global event publisher (set by the events package)
var globalEventPublisher atomic.Pointer[EventPublisher]

// SetEventPublisher sets the global event publisher.
// This should be called by the events package during initialization.
func SetEventPublisher(publisher EventPublisher) {
	globalEventPublisher.Store(&publisher)
	updateActiveReporting()
}

// updateActiveReporting recomputes the fast-path flag.
func updateActiveReporting() {
	active := false
	if publisherPtr := globalEventPublisher.Load(); publisherPtr != nil && *publisherPtr != nil {
		active = true
	}
	if globalTelemetryReporter != nil && globalTelemetryReporter.IsEnabled() {
		active = true
	}
	hasActiveReporting.Store(active)
}

// publishToEventBus publishes an error to the event bus if available
func publishToEventBus(ee *EnhancedError) bool {
	publisherPtr := globalEventPublisher.Load()
	if publisherPtr == nil {
		return false
	}

	publisher := *publisherPtr
	if publisher == nil {
		return false
	}

	return publisher.TryPublish(ee)
}

// reportToTelemetry reports an error through the event bus when one is
// registered, falling back to the direct telemetry reporter.
func reportToTelemetry(ee *EnhancedError) {
	if !hasActiveReporting.Load() {
		return
	}

	if publishToEventBus(ee) {
		return
	}

	if globalTelemetryReporter != nil && globalTelemetryReporter.IsEnabled() {
		globalTelemetryReporter.ReportError(ee)
	}
}
