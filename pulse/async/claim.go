package async

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/pulse/telemetry"
)

// Claimer performs the pending to processing transition.
// At most one caller wins for a given job; losers get (nil, nil).
type Claimer struct {
	store    JobStore
	now      func() time.Time
	newToken func() string
}

// NewClaimer creates a claimer that mints a fresh uuid claim token per run
func NewClaimer(store JobStore) *Claimer {
	return &Claimer{
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
		newToken: uuid.NewString,
	}
}

// Claim attempts to take ownership of a job for one run.
// Returns the claimed job, or nil if the job was not pending, not yet due, or
// another invocation claimed it first. None of those are errors.
func (c *Claimer) Claim(ctx context.Context, jobID string) (*Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load job %s for claim", jobID)
	}

	now := c.now()
	if !job.IsEligible(now) {
		return nil, nil
	}

	job.Start(c.newToken(), now)

	won, err := c.store.ClaimJob(ctx, job, now)
	if err != nil {
		return nil, err
	}
	if !won {
		telemetry.ClaimsLost.Inc()
		return nil, nil
	}

	telemetry.Claims.Inc()
	return job, nil
}

// SetClock replaces the claim clock (tests)
func (c *Claimer) SetClock(now func() time.Time) {
	c.now = now
}
