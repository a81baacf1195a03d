package async

import (
	"fmt"
	"time"
)

// Retry defaults
const (
	MaxRetryCount = 3
)

// DefaultRetryDelays is indexed by attempt: first retry after 5 minutes,
// then 30, then 120. Attempts beyond the table reuse the last entry.
var DefaultRetryDelays = []time.Duration{
	5 * time.Minute,
	30 * time.Minute,
	120 * time.Minute,
}

// RetryPolicy maps a failed run to either a delayed retry or terminal failure
type RetryPolicy struct {
	MaxRetries int
	Delays     []time.Duration
}

// DefaultRetryPolicy returns the standard cap and delay table
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: MaxRetryCount,
		Delays:     DefaultRetryDelays,
	}
}

// Delay returns the backoff before retry number attempt (1-based), clamped to the last entry
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(p.Delays) {
		attempt = len(p.Delays)
	}
	return p.Delays[attempt-1]
}

// Apply records a failed run on the job. Below the cap the job returns to
// pending with a future next_retry_at; at the cap it becomes terminally failed.
// Returns true when a retry was scheduled.
func (p RetryPolicy) Apply(job *Job, cause error, now time.Time) bool {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	classified := ClassifyError(job.Metadata.Phase, cause)

	job.Metadata.LastError = msg
	job.Metadata.Record(EventError, now, msg, job.RetryCount+1)

	if job.RetryCount >= p.MaxRetries {
		job.Fail(fmt.Sprintf("%s (after %d retries)", msg, job.RetryCount), now)
		job.Metadata.LastError = msg
		return false
	}

	job.RetryCount++
	next := now.Add(p.Delay(job.RetryCount))
	job.Requeue(&next, now)
	job.Metadata.RetryReason = string(classified.Code)
	job.Metadata.Record(EventRetry, now,
		fmt.Sprintf("retry %d/%d at %s", job.RetryCount, p.MaxRetries, next.UTC().Format(time.RFC3339)),
		job.RetryCount)
	return true
}
