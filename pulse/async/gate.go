package async

import (
	"context"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/pulse/telemetry"
)

// DefaultConcurrencyCap is the default soft limit on processing jobs
const DefaultConcurrencyCap = 100

// Gate compares the in-flight count against the concurrency cap.
//
// The cap is soft: reading the count and then claiming is not atomic, so
// racing invocations can briefly push in-flight above the cap.
type Gate struct {
	store JobStore
	cap   int
}

// NewGate creates a gate; cap <= 0 uses DefaultConcurrencyCap
func NewGate(store JobStore, cap int) *Gate {
	if cap <= 0 {
		cap = DefaultConcurrencyCap
	}
	return &Gate{store: store, cap: cap}
}

// Cap returns the configured concurrency cap
func (g *Gate) Cap() int {
	return g.cap
}

// InFlight counts jobs currently in processing
func (g *Gate) InFlight(ctx context.Context) (int, error) {
	n, err := g.store.CountByStatus(ctx, JobStatusProcessing)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count in-flight jobs")
	}
	telemetry.InFlightGauge.Set(float64(n))
	return n, nil
}

// Available returns cap minus in-flight, floored at zero
func (g *Gate) Available(ctx context.Context) (int, error) {
	inflight, err := g.InFlight(ctx)
	if err != nil {
		return 0, err
	}
	if inflight >= g.cap {
		return 0, nil
	}
	return g.cap - inflight, nil
}
