package pipeline

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
)

func categorized(category errors.ErrorCategory) error {
	return errors.Newf("synthetic failure").
		Component("pipeline").
		Category(category).
		Build()
}

func TestOutcomeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want outcome
	}{
		{"cancellation releases the claim", categorized(errors.CategoryCancellation), outcomeRelease},
		{"missing precondition skips", categorized(errors.CategoryPrecondition), outcomeSkip},
		{"disabled external service skips", categorized(errors.CategoryExternalDisabled), outcomeSkip},
		{"undecodable image skips", categorized(errors.CategoryImageDecode), outcomeSkip},
		{"validation fails terminally", categorized(errors.CategoryValidation), outcomeFail},
		{"network errors retry", categorized(errors.CategoryNetwork), outcomeRetry},
		{"transient io retries", categorized(errors.CategoryTransientIO), outcomeRetry},
		{"database errors retry", categorized(errors.CategoryDatabase), outcomeRetry},
		{"uncategorized errors retry", stderrors.New("boom"), outcomeRetry},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, outcomeFor(tc.err))
		})
	}
}

func TestDegradesToSkip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		stage datastore.Stage
		err   error
		want  bool
	}{
		{"caption endpoint unreachable", datastore.StageCaption, categorized(errors.CategoryNetwork), true},
		{"tags endpoint unreachable", datastore.StageTags, categorized(errors.CategoryNetwork), true},
		{"caption with non-network error", datastore.StageCaption, categorized(errors.CategoryValidation), false},
		{"network error on a core stage", datastore.StageExif, categorized(errors.CategoryNetwork), false},
		{"uncategorized error on caption", datastore.StageCaption, stderrors.New("boom"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, degradesToSkip(tc.stage, tc.err))
		})
	}
}

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	t.Parallel()

	retry := &conf.RetrySettings{MaxAttempts: 5, InitialDelay: 2, MaxDelay: 600, Multiplier: 2.0}

	nominal := map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: 16 * time.Second,
	}
	for attempt, want := range nominal {
		got := backoffDelay(retry, attempt)
		low := time.Duration(0.9 * float64(want))
		high := time.Duration(1.1 * float64(want))
		assert.GreaterOrEqual(t, got, low, "attempt %d below jitter floor", attempt)
		assert.LessOrEqual(t, got, high, "attempt %d above jitter ceiling", attempt)
	}
}

func TestBackoffDelayCappedAtMax(t *testing.T) {
	t.Parallel()

	retry := &conf.RetrySettings{InitialDelay: 10, MaxDelay: 30, Multiplier: 10.0}

	// nominal for the third attempt is 1000s, far past the cap
	assert.Equal(t, 30*time.Second, backoffDelay(retry, 3))
}

func TestBackoffDelayDefaults(t *testing.T) {
	t.Parallel()

	// a zero config still produces a sane, bounded delay
	got := backoffDelay(&conf.RetrySettings{}, 1)
	assert.GreaterOrEqual(t, got, time.Duration(0.9*float64(2*time.Second)))
	assert.LessOrEqual(t, got, time.Duration(1.1*float64(2*time.Second)))

	// a max below the initial delay cannot shrink the first attempt
	got = backoffDelay(&conf.RetrySettings{InitialDelay: 8, MaxDelay: 1}, 1)
	assert.GreaterOrEqual(t, got, time.Duration(0.9*float64(8*time.Second)))
}

func TestMaxAttempts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, maxAttempts(&conf.RetrySettings{MaxAttempts: 5}))
	assert.Equal(t, 1, maxAttempts(&conf.RetrySettings{}), "zero config still allows one attempt")
	assert.Equal(t, 1, maxAttempts(&conf.RetrySettings{MaxAttempts: -3}))
}

func TestErrText(t *testing.T) {
	t.Parallel()

	assert.Empty(t, errText(nil))
	assert.Equal(t, "boom", errText(stderrors.New("boom")))
}
