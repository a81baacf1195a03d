package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pressline/errors"
)

func TestTickerStartStop(t *testing.T) {
	t.Log("⏳ Cronos starts the clock...")
	var calls atomic.Int64
	ticker := NewTicker(context.Background(), "sweep", 10*time.Millisecond, func(ctx context.Context, tickTime time.Time) error {
		calls.Add(1)
		return nil
	}, zaptest.NewLogger(t).Sugar())

	ticker.Start()
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	ticker.Stop()

	stopped := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "no ticks after Stop")

	stats := ticker.GetStats()
	assert.Equal(t, "sweep", stats.Name)
	assert.Equal(t, stopped, stats.TicksSinceStart)
	assert.False(t, stats.LastTickAt.IsZero())
}

func TestTickerKeepsGoingAfterErrors(t *testing.T) {
	var calls atomic.Int64
	ticker := NewTicker(context.Background(), "monitor", 10*time.Millisecond, func(ctx context.Context, tickTime time.Time) error {
		calls.Add(1)
		return errors.New("database is locked")
	}, zaptest.NewLogger(t).Sugar())

	ticker.Start()
	defer ticker.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "database is locked", ticker.GetStats().LastError)
}

func TestTickerDisabled(t *testing.T) {
	var calls atomic.Int64
	ticker := NewTicker(context.Background(), "sweep", 0, func(ctx context.Context, tickTime time.Time) error {
		calls.Add(1)
		return nil
	}, zaptest.NewLogger(t).Sugar())

	ticker.Start()
	time.Sleep(30 * time.Millisecond)
	ticker.Stop()
	assert.Zero(t, calls.Load())
}

func TestTickerParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan struct{}, 1)
	ticker := NewTicker(ctx, "sweep", 10*time.Millisecond, func(ctx context.Context, tickTime time.Time) error {
		select {
		case seen <- struct{}{}:
		default:
		}
		return nil
	}, zaptest.NewLogger(t).Sugar())

	ticker.Start()
	<-seen
	cancel()

	done := make(chan struct{})
	go func() {
		ticker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the parent context was cancelled")
	}
}

func TestTickerPassesDoNotOverlap(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	var calls atomic.Int64
	ticker := NewTicker(context.Background(), "sweep", 5*time.Millisecond, func(ctx context.Context, tickTime time.Time) error {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		calls.Add(1)
		return nil
	}, zaptest.NewLogger(t).Sugar())

	ticker.Start()
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	ticker.Stop()
	assert.Equal(t, int64(1), maxInFlight.Load())
}
