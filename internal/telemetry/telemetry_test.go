package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/events"
	"github.com/tphakala/photoindex/internal/privacy"
)

func TestCaptureInertWhenDisabled(t *testing.T) {
	transport := initForTesting(t)
	enabled.Store(false)

	CaptureError(fmt.Errorf("should not be sent"), "api")
	CaptureMessage("should not be sent either", sentry.LevelInfo, "api")
	Flush(100 * time.Millisecond)

	assert.Equal(t, 0, transport.GetEventCount(), "disabled telemetry must not capture anything")
}

func TestCaptureErrorScrubsLibraryPaths(t *testing.T) {
	transport := initForTesting(t)

	CaptureError(fmt.Errorf("open /home/alice/Photos/IMG_1234.jpg: permission denied"), "imagemeta")

	require.Equal(t, 1, transport.GetEventCount())
	event := transport.GetLastEvent()

	assert.Contains(t, event.Message, "path-")
	assert.Contains(t, event.Message, ".jpg", "extension survives for debugging value")
	assert.NotContains(t, event.Message, "alice")
	assert.NotContains(t, event.Message, "IMG_1234")

	assert.Equal(t, "imagemeta", event.Tags["component"])
	assert.NotContains(t, event.Tags["error_title"], "alice", "titles are built from the scrubbed message")
	assert.Equal(t, sentry.LevelError, event.Level)

	require.Len(t, event.Exception, 1)
	assert.NotContains(t, event.Exception[0].Type, "alice")
	assert.NotContains(t, event.Exception[0].Value, "alice")

	for _, fp := range event.Fingerprint {
		assert.NotContains(t, fp, "alice")
	}
}

func TestCaptureMessageScrubsURLs(t *testing.T) {
	transport := initForTesting(t)

	CaptureMessage("geocode lookup failed for https://maps.internal.example.com/reverse",
		sentry.LevelWarning, "geocode")

	require.Equal(t, 1, transport.GetEventCount())
	event := transport.GetLastEvent()

	assert.Contains(t, event.Message, "url-")
	assert.NotContains(t, event.Message, "maps.internal")
	assert.Equal(t, "geocode", event.Tags["component"])
	assert.Equal(t, sentry.LevelWarning, event.Level)
}

func TestEnhancedErrorsReachSentryScrubbed(t *testing.T) {
	transport := initForTesting(t)
	events.ResetForTesting()
	installErrorHooks()

	err := errors.Newf("decoding /mnt/photos/2024/01/DSC0001.raf: unexpected EOF").
		Component("imagemeta").
		Category(errors.CategoryImageDecode).
		Context("operation", "exif_extract").
		Build()

	require.True(t, transport.WaitForEventCount(1, time.Second),
		"building a reported error should reach the transport via the direct reporter")
	assert.True(t, err.IsReported())

	event := transport.GetLastEvent()
	assert.NotContains(t, event.Message, "DSC0001")
	assert.Contains(t, event.Message, "path-")
	assert.Equal(t, "imagemeta", event.Tags["component"])
}

func TestApplyPrivacyFilters(t *testing.T) {
	t.Parallel()

	event := sentry.NewEvent()
	event.Message = "cannot index /home/alice/Photos/x.jpg"
	event.User = sentry.User{ID: "user-1", Email: "alice@example.com"}
	event.ServerName = "alice-desktop"
	event.Contexts["device"] = sentry.Context{"name": "alice-desktop"}
	event.Contexts["os"] = sentry.Context{"name": "linux"}
	event.Contexts["runtime"] = sentry.Context{"name": "go"}
	event.Contexts["application"] = sentry.Context{"name": "photoindex"}
	event.Extra["error_type"] = "*fs.PathError"
	event.Extra["component"] = "imagemeta"
	event.Extra["photo_path"] = "/home/alice/Photos/x.jpg"
	event.Tags["server_name"] = "alice-desktop"
	event.Tags["hostname"] = "alice-desktop"
	event.Tags["component"] = "imagemeta"

	filtered := applyPrivacyFilters(event)

	assert.True(t, filtered.User.IsEmpty(), "user identity must be cleared")
	assert.Empty(t, filtered.ServerName)
	assert.NotContains(t, filtered.Message, "alice")

	assert.NotContains(t, filtered.Contexts, "device")
	assert.NotContains(t, filtered.Contexts, "os")
	assert.NotContains(t, filtered.Contexts, "runtime")
	assert.Contains(t, filtered.Contexts, "application")

	assert.Contains(t, filtered.Extra, "error_type")
	assert.Contains(t, filtered.Extra, "component")
	assert.NotContains(t, filtered.Extra, "photo_path")

	assert.NotContains(t, filtered.Tags, "server_name")
	assert.NotContains(t, filtered.Tags, "hostname")
	assert.Equal(t, "imagemeta", filtered.Tags["component"])
}

func TestGenerateErrorTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		message   string
		component string
		want      string
	}{
		{
			name:      "nil pointer with component",
			message:   "runtime error: invalid memory address or nil pointer dereference",
			component: "pipeline",
			want:      "Pipeline: Nil Pointer Dereference",
		},
		{
			name:      "index out of range",
			message:   "index out of range [5] with length 3",
			component: "api",
			want:      "API: Index Out of Range",
		},
		{
			name:      "panic message",
			message:   "panic: unexpected fault during decode",
			component: "",
			want:      "Panic: unexpected fault during decode",
		},
		{
			name:      "plain error keeps message",
			message:   "thumbnail target missing",
			component: "datastore",
			want:      "Datastore: thumbnail target missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, generateErrorTitle(tt.message, tt.component))
		})
	}
}

func TestGenerateErrorTitleTruncatesLongMessages(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 100)
	title := generateErrorTitle(long, "")

	assert.Equal(t, strings.Repeat("x", 60)+"...", title)
}

func TestInitDisabledByDefault(t *testing.T) {
	settings := &conf.Settings{}

	require.NoError(t, Init(settings))
	assert.False(t, Enabled())
}

func TestInitRequiresDSN(t *testing.T) {
	settings := &conf.Settings{}
	settings.Telemetry.Enabled = true

	err := Init(settings)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.False(t, Enabled())
}

func TestInitWithDSN(t *testing.T) {
	settings := &conf.Settings{}
	settings.Telemetry.Enabled = true
	settings.Telemetry.DSN = "https://00000000000000000000000000000000@o0.ingest.sentry.io/1"
	settings.Library.DataDir = t.TempDir()
	settings.Version = "test"

	require.NoError(t, Init(settings))
	t.Cleanup(func() {
		Shutdown(100 * time.Millisecond)
		errors.SetTelemetryReporter(nil)
	})

	assert.True(t, Enabled())
	assert.True(t, privacy.IsValidSystemID(SystemID()))

	// The installation ID persists next to the rest of the derived data
	data, err := os.ReadFile(filepath.Join(settings.Library.DataDir, systemIDFile))
	require.NoError(t, err)
	assert.Equal(t, SystemID(), strings.TrimSpace(string(data)))
}

func TestAttachRegistersWorker(t *testing.T) {
	initForTesting(t)
	events.ResetForTesting()
	t.Cleanup(func() {
		events.ResetForTesting()
		errors.SetEventPublisher(nil)
	})

	require.NoError(t, Attach())

	stats := GetWorkerStats()
	require.NotNil(t, stats)
	assert.Equal(t, "closed", stats.CircuitState)
	assert.True(t, events.IsInitialized())
	assert.True(t, events.HasActiveConsumers())
}

func TestAttachSkippedWhenDisabled(t *testing.T) {
	events.ResetForTesting()
	enabled.Store(false)

	require.NoError(t, Attach())
	assert.False(t, events.IsInitialized(), "disabled telemetry must not start the event bus")
}

func TestShutdownSafeWhenUninitialized(t *testing.T) {
	events.ResetForTesting()
	enabled.Store(false)

	Shutdown(50 * time.Millisecond)
}
