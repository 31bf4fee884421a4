package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/errors"
)

// fakeReporter records reported errors without touching the Sentry SDK.
type fakeReporter struct {
	mu       sync.Mutex
	reported []*errors.EnhancedError
}

func (f *fakeReporter) ReportError(ee *errors.EnhancedError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reported = append(f.reported, ee)
}

func (f *fakeReporter) IsEnabled() bool { return true }

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reported)
}

// fakeTime is a settable TimeSource for rate limiter tests.
type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// resetErrorHooks detaches any reporter or publisher left over from other
// tests so Build() stays inert and events arrive unreported.
func resetErrorHooks(t *testing.T) {
	t.Helper()
	errors.SetTelemetryReporter(nil)
	errors.SetEventPublisher(nil)
}

func newTestEvent(t *testing.T) *errors.EnhancedError {
	t.Helper()
	return errors.Newf("decode failed: unexpected EOF").
		Component("imagemeta").
		Category(errors.CategoryImageDecode).
		Build()
}

func TestWorkerName(t *testing.T) {
	assert.Equal(t, "telemetry-worker", NewTelemetryWorker(true, nil).Name())
}

func TestWorkerDisabledIgnoresEvents(t *testing.T) {
	resetErrorHooks(t)

	worker := NewTelemetryWorker(false, nil)
	fake := &fakeReporter{}
	worker.sentryReporter = fake

	event := newTestEvent(t)
	require.NoError(t, worker.ProcessEvent(event))

	assert.Equal(t, 0, fake.count())
	assert.False(t, event.IsReported())
	assert.Zero(t, worker.GetStats().EventsProcessed)
}

func TestWorkerReportsEvent(t *testing.T) {
	resetErrorHooks(t)

	worker := NewTelemetryWorker(true, nil)
	fake := &fakeReporter{}
	worker.sentryReporter = fake

	event := newTestEvent(t)
	require.NoError(t, worker.ProcessEvent(event))

	assert.Equal(t, 1, fake.count())
	assert.True(t, event.IsReported())

	stats := worker.GetStats()
	assert.Equal(t, uint64(1), stats.EventsProcessed)
	assert.Equal(t, "closed", stats.CircuitState)
}

func TestWorkerSkipsAlreadyReported(t *testing.T) {
	resetErrorHooks(t)

	worker := NewTelemetryWorker(true, nil)
	fake := &fakeReporter{}
	worker.sentryReporter = fake

	event := newTestEvent(t)
	event.MarkReported()

	require.NoError(t, worker.ProcessEvent(event))

	assert.Equal(t, 0, fake.count())
	assert.Zero(t, worker.GetStats().EventsProcessed)
}

func TestWorkerRateLimitDrops(t *testing.T) {
	resetErrorHooks(t)

	config := &WorkerConfig{
		FailureThreshold:   10,
		RecoveryTimeout:    time.Minute,
		HalfOpenMaxEvents:  5,
		RateLimitWindow:    time.Minute,
		RateLimitMaxEvents: 2,
	}
	worker := NewTelemetryWorker(true, config)
	fake := &fakeReporter{}
	worker.sentryReporter = fake

	clock := &fakeTime{now: time.Now()}
	worker.rateLimiter.timeSource = clock

	for range 3 {
		require.NoError(t, worker.ProcessEvent(newTestEvent(t)))
	}

	assert.Equal(t, 2, fake.count(), "third event exceeds the window limit")
	assert.Equal(t, uint64(1), worker.GetStats().EventsDropped)

	// A fresh window admits events again
	clock.advance(61 * time.Second)
	require.NoError(t, worker.ProcessEvent(newTestEvent(t)))
	assert.Equal(t, 3, fake.count())
}

func TestCircuitBreakerTransitions(t *testing.T) {
	t.Parallel()

	cb := &CircuitBreaker{state: "closed", config: DefaultWorkerConfig()}
	assert.True(t, cb.Allow())

	for range cb.config.FailureThreshold {
		cb.RecordFailure()
	}
	assert.Equal(t, "open", cb.State())
	assert.False(t, cb.Allow())

	// After the recovery timeout the breaker probes in half-open state
	cb.lastFailureTime = time.Now().Add(-2 * cb.config.RecoveryTimeout)
	assert.True(t, cb.Allow())
	assert.Equal(t, "half-open", cb.State())

	for range cb.config.HalfOpenMaxEvents {
		cb.RecordSuccess()
	}
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	t.Parallel()

	cb := &CircuitBreaker{state: "closed", config: DefaultWorkerConfig()}
	for range cb.config.FailureThreshold {
		cb.RecordFailure()
	}
	cb.lastFailureTime = time.Now().Add(-2 * cb.config.RecoveryTimeout)
	require.True(t, cb.Allow())
	require.Equal(t, "half-open", cb.State())

	cb.RecordFailure()
	assert.Equal(t, "open", cb.State())
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	clock := &fakeTime{now: time.Now()}
	rl := &RateLimiter{window: time.Minute, maxEvents: 3, timeSource: clock}

	for range 3 {
		assert.True(t, rl.Allow())
	}
	assert.False(t, rl.Allow())

	clock.advance(30 * time.Second)
	assert.False(t, rl.Allow(), "events inside the window still count")

	clock.advance(31 * time.Second)
	assert.True(t, rl.Allow())
}
