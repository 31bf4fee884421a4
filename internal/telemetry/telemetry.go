// Package telemetry provides privacy-compliant error tracking via Sentry.
// Reporting is strictly opt-in: nothing leaves the host unless telemetry is
// enabled in the configuration and a DSN is set. Everything submitted passes
// through the privacy package first, so photo library paths and URLs never
// appear in an event.
package telemetry

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/events"
	"github.com/tphakala/photoindex/internal/logging"
	"github.com/tphakala/photoindex/internal/privacy"
)

var (
	enabled  atomic.Bool
	systemID atomic.Value // string, set once during Init
)

// getLogger returns the telemetry service logger, falling back to the
// default logger when structured logging is not initialized yet.
func getLogger() *slog.Logger {
	logger := logging.ForService("telemetry")
	if logger == nil {
		logger = slog.Default().With("service", "telemetry")
	}
	return logger
}

// PlatformInfo holds privacy-safe platform information for telemetry
type PlatformInfo struct {
	OS           string `json:"os"`
	Architecture string `json:"arch"`
	Container    bool   `json:"container"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`
}

// collectPlatformInfo gathers privacy-safe platform information for telemetry
func collectPlatformInfo() PlatformInfo {
	return PlatformInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		Container:    conf.RunningInContainer(),
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
}

// Init initializes the Sentry SDK with privacy-compliant settings. Telemetry
// is opt-in: when disabled this is a no-op and every capture function stays
// inert. The DSN comes from the configuration, so reports go to whatever
// Sentry project the operator runs.
func Init(settings *conf.Settings) error {
	if !settings.Telemetry.Enabled {
		getLogger().Info("telemetry is disabled (opt-in required)")
		return nil
	}

	if settings.Telemetry.DSN == "" {
		return errors.Newf("telemetry enabled but no DSN configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	id, err := loadOrCreateSystemID(settings.Library.DataDir)
	if err != nil {
		return err
	}
	systemID.Store(id)

	if err := initializeSentrySDK(settings); err != nil {
		return err
	}

	configureSentryScope(settings, id)
	installErrorHooks()
	enabled.Store(true)

	getLogger().Info("telemetry initialized",
		"system_id", id,
		"version", settings.Version,
		"platform", runtime.GOOS,
		"arch", runtime.GOARCH,
	)

	return nil
}

// initializeSentrySDK initializes the Sentry SDK with privacy-compliant options
func initializeSentrySDK(settings *conf.Settings) error {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:        settings.Telemetry.DSN,
		SampleRate: 1.0,   // Capture all errors by default
		Debug:      false, // Keep debug off for production

		// Privacy-compliant settings
		AttachStacktrace: false, // Don't attach stack traces by default
		Environment:      "production",
		ServerName:       "", // Explicitly clear server name to prevent hostname leakage

		Release: fmt.Sprintf("photoindex@%s", settings.Version),

		// BeforeSend filters sensitive data out of every outgoing event
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return nil
}

// applyPrivacyFilters applies privacy filters to a Sentry event. Messages are
// scrubbed of URLs and filesystem paths, user and host identity is cleared,
// and only whitelisted extra fields survive.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	// Clear user data and server name
	event.User = sentry.User{}
	event.ServerName = ""

	// Scrub free-text fields; titles and fingerprints can embed the message
	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Type = privacy.ScrubMessage(event.Exception[i].Type)
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	for i := range event.Fingerprint {
		event.Fingerprint[i] = privacy.ScrubMessage(event.Fingerprint[i])
	}
	if title, ok := event.Tags["error_title"]; ok {
		event.Tags["error_title"] = privacy.ScrubMessage(title)
	}

	// Remove sensitive contexts
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	// Remove extra fields except allowed ones
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	// Remove sensitive tags
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}

// configureSentryScope configures the global Sentry scope with system information
func configureSentryScope(settings *conf.Settings, id string) {
	platformInfo := collectPlatformInfo()

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		// System ID tags every event without identifying the host
		scope.SetTag("system_id", id)
		scope.SetTag("os", platformInfo.OS)
		scope.SetTag("arch", platformInfo.Architecture)
		scope.SetTag("container", fmt.Sprintf("%t", platformInfo.Container))

		scope.SetContext("application", map[string]any{
			"name":      "photoindex",
			"version":   settings.Version,
			"system_id": id,
		})

		scope.SetContext("platform", map[string]any{
			"os":           platformInfo.OS,
			"architecture": platformInfo.Architecture,
			"container":    platformInfo.Container,
			"num_cpu":      platformInfo.NumCPU,
			"go_version":   platformInfo.GoVersion,
		})
	})
}

// installErrorHooks points the errors package at the privacy scrubber and the
// direct Sentry reporter. The reporter is the fallback path; once Attach
// registers the event bus worker, reports flow through the bus instead.
func installErrorHooks() {
	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
}

// Enabled reports whether telemetry was initialized and is active.
func Enabled() bool {
	return enabled.Load()
}

// SystemID returns the anonymous installation identifier, or an empty string
// when telemetry was never initialized.
func SystemID() string {
	if id, ok := systemID.Load().(string); ok {
		return id
	}
	return ""
}

// CaptureError captures an error with privacy-compliant context. Intended for
// call sites outside the enhanced error flow, such as panic recovery.
func CaptureError(err error, component string) {
	if !enabled.Load() {
		return
	}

	scrubbedErrorMsg := privacy.ScrubMessage(err.Error())

	sentry.WithScope(func(scope *sentry.Scope) {
		// Title comes from the scrubbed message so paths cannot leak
		// through tags or fingerprints
		errorTitle := generateErrorTitle(scrubbedErrorMsg, component)

		scope.SetTag("component", component)
		scope.SetTag("error_title", errorTitle)
		scope.SetContext("error", map[string]any{
			"type":             fmt.Sprintf("%T", err),
			"scrubbed_message": scrubbedErrorMsg,
		})
		scope.SetFingerprint([]string{errorTitle, component})

		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = scrubbedErrorMsg
		event.Exception = []sentry.Exception{{
			Type:  errorTitle,
			Value: scrubbedErrorMsg,
		}}

		sentry.CaptureEvent(event)
	})
}

// CaptureMessage captures a message with privacy-compliant context
func CaptureMessage(message string, level sentry.Level, component string) {
	if !enabled.Load() {
		return
	}

	scrubbedMessage := privacy.ScrubMessage(message)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetLevel(level)
		sentry.CaptureMessage(scrubbedMessage)
	})
}

// Flush ensures all buffered events are sent to Sentry
func Flush(timeout time.Duration) {
	if !enabled.Load() {
		return
	}
	sentry.Flush(timeout)
}

// Shutdown drains the event bus, flushes pending Sentry events, and disables
// further capture. Safe to call when telemetry was never initialized.
func Shutdown(timeout time.Duration) {
	if bus := events.GetEventBus(); bus != nil {
		if err := bus.Shutdown(timeout); err != nil {
			getLogger().Warn("event bus shutdown incomplete", "error", err)
		}
	}

	if enabled.CompareAndSwap(true, false) {
		sentry.Flush(timeout)
	}
}

// generateErrorTitle creates a meaningful error title for Sentry based on the
// error message and component. It parses common runtime errors and panic
// messages into human-readable titles.
func generateErrorTitle(errMsg, component string) string {
	errorType := parseErrorType(errMsg)

	if component != "" && component != "unknown" {
		return fmt.Sprintf("%s: %s", titleCaseComponent(component), errorType)
	}

	return errorType
}

// parseErrorType extracts a human-readable error type from the error message
func parseErrorType(errMsg string) string {
	// Check for common runtime panic patterns
	switch {
	case strings.Contains(errMsg, "nil pointer dereference"):
		return "Nil Pointer Dereference"
	case strings.Contains(errMsg, "index out of range"):
		return "Index Out of Range"
	case strings.Contains(errMsg, "slice bounds out of range"):
		return "Slice Bounds Out of Range"
	case strings.Contains(errMsg, "integer divide by zero"):
		return "Integer Divide by Zero"
	case strings.Contains(errMsg, "invalid memory address"):
		return "Invalid Memory Access"
	case strings.Contains(errMsg, "send on closed channel"):
		return "Send on Closed Channel"
	case strings.Contains(errMsg, "close of closed channel"):
		return "Close of Closed Channel"
	case strings.Contains(errMsg, "concurrent map"):
		return "Concurrent Map Access"
	case strings.Contains(errMsg, "interface conversion"):
		if strings.Contains(errMsg, "is nil") {
			return "Interface Conversion: Nil Value"
		}
		return "Interface Conversion Failed"
	case strings.HasPrefix(errMsg, "panic:"):
		panicMsg := strings.TrimPrefix(errMsg, "panic: ")
		if len(panicMsg) > 50 {
			panicMsg = panicMsg[:50] + "..."
		}
		return fmt.Sprintf("Panic: %s", panicMsg)
	default:
		// Truncate very long messages
		if len(errMsg) > 60 {
			return errMsg[:60] + "..."
		}
		return errMsg
	}
}

// titleCaseComponent converts component names to title case for better readability
// Examples: "api" -> "API", "datastore" -> "Datastore"
func titleCaseComponent(component string) string {
	// Handle common abbreviations
	component = strings.ReplaceAll(component, "http", "HTTP ")
	component = strings.ReplaceAll(component, "api", "API ")
	component = strings.ReplaceAll(component, "exif", "EXIF ")
	component = strings.ReplaceAll(component, "db", "DB ")

	component = strings.ReplaceAll(component, "_", " ")

	words := strings.Fields(component)

	for i, word := range words {
		if word != "" {
			// Skip if already all uppercase (abbreviations like HTTP, API)
			if strings.ToUpper(word) == word {
				continue
			}
			runes := []rune(word)
			runes[0] = unicode.ToUpper(runes[0])
			words[i] = string(runes)
		}
	}

	return strings.Join(words, " ")
}
