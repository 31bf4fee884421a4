// policy.go: what happens to a ledger row when its stage body errors
package pipeline

import (
	"math"
	"time"

	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
)

// outcome classifies a stage error into the ledger transition it causes.
type outcome int

const (
	// outcomeRetry requeues the row with backoff until the attempt limit,
	// then fails it.
	outcomeRetry outcome = iota
	// outcomeSkip settles the row as skipped; the stage does not apply
	// to this file and retrying cannot change that.
	outcomeSkip
	// outcomeFail settles the row as failed immediately; the error is
	// deterministic and retrying would reproduce it.
	outcomeFail
	// outcomeRelease leaves the claimed row in_flight for the demotion
	// sweep; the work was interrupted, not attempted.
	outcomeRelease
)

// outcomeFor maps an error to its ledger transition by category. Unknown
// and uncategorized errors retry: a wrongly retried deterministic error
// costs a few attempts, a wrongly failed transient one loses the work.
func outcomeFor(err error) outcome {
	switch {
	case errors.IsCategory(err, errors.CategoryCancellation):
		return outcomeRelease
	case errors.IsCategory(err, errors.CategoryPrecondition),
		errors.IsCategory(err, errors.CategoryExternalDisabled),
		errors.IsCategory(err, errors.CategoryImageDecode):
		return outcomeSkip
	case errors.IsCategory(err, errors.CategoryValidation):
		return outcomeFail
	default:
		return outcomeRetry
	}
}

// degradesToSkip reports whether an error that exhausted its retries
// settles as skipped instead of failed. The external vision stages are
// optional: an endpoint that stays unreachable skips the file the same
// way a disabled endpoint does, instead of pinning a terminal failure
// on content the stage never judged.
func degradesToSkip(stage datastore.Stage, err error) bool {
	switch stage {
	case datastore.StageCaption, datastore.StageTags:
		return errors.IsCategory(err, errors.CategoryNetwork)
	default:
		return false
	}
}

// backoffDelay computes the wait before retry attempt number attempt
// (1-based), exponential with jitter and capped at the configured maximum.
func backoffDelay(retry *conf.RetrySettings, attempt int) time.Duration {
	initial := time.Duration(retry.InitialDelay) * time.Second
	if initial <= 0 {
		initial = 2 * time.Second
	}
	maxDelay := time.Duration(retry.MaxDelay) * time.Second
	if maxDelay < initial {
		maxDelay = initial
	}
	multiplier := retry.Multiplier
	if multiplier < 1 {
		multiplier = 2.0
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))

	// ±10% jitter so retries from one failure burst spread out
	jitter := 0.9 + 0.2*float64(time.Now().Nanosecond())/1e9
	delay *= jitter

	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}

// maxAttempts returns the configured attempt limit, at least one.
func maxAttempts(retry *conf.RetrySettings) int {
	return max(retry.MaxAttempts, 1)
}

// errText renders an error for ledger storage. Enhanced errors print with
// their context; anything else falls back to Error().
func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
