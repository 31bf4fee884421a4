package telemetry

import (
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/errors"
)

// initForTesting points the Sentry SDK at an in-memory transport and enables
// capture for the duration of the test. The empty DSN keeps the SDK offline;
// the explicit transport records every event for assertions. Tests using this
// helper share the global Sentry hub and must not run in parallel.
func initForTesting(t *testing.T) *MockTransport {
	t.Helper()

	transport := NewMockTransport()
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              "",
		Transport:        transport,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "test",
		ServerName:       "",
		Release:          "photoindex@test",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	require.NoError(t, err)

	enabled.Store(true)
	t.Cleanup(func() {
		enabled.Store(false)
		errors.SetTelemetryReporter(nil)
		sentry.Flush(time.Second)
	})

	return transport
}
