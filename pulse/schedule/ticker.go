// Package schedule runs pulse passes on an interval and keeps their history.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pressline/logger"
)

// TickFunc is one periodic pass. Errors are logged and the ticker keeps going.
type TickFunc func(ctx context.Context, tickTime time.Time) error

// Ticker runs a pass at a fixed interval until stopped.
// Passes never overlap: a slow pass delays the next tick.
type Ticker struct {
	name     string
	fn       TickFunc
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	pulseLog *zap.SugaredLogger // Logger with Pulse symbol pre-attached

	mu              sync.Mutex
	started         bool
	lastTickAt      time.Time
	ticksSinceStart int64
	lastError       string
}

// TickerStats is a snapshot of a ticker's progress
type TickerStats struct {
	Name            string        `json:"name"`
	Interval        time.Duration `json:"interval"`
	LastTickAt      time.Time     `json:"last_tick_at"`
	TicksSinceStart int64         `json:"ticks_since_start"`
	LastError       string        `json:"last_error,omitempty"`
}

// NewTicker creates a ticker that calls fn every interval.
// A non-positive interval disables the ticker: Start does nothing.
func NewTicker(ctx context.Context, name string, interval time.Duration, fn TickFunc, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		name:     name,
		fn:       fn,
		interval: interval,
		ctx:      tickerCtx,
		cancel:   cancel,
		pulseLog: logger.AddPulseSymbol(log.Named(name)),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	if t.interval <= 0 {
		t.pulseLog.Infow("Pulse ticker disabled", "ticker", t.name)
		return
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run()
	t.pulseLog.Infow("Pulse ticker started", "ticker", t.name, "interval", t.interval)
}

// Stop cancels the loop and waits for an in-progress pass to return
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.pulseLog.Infow("Pulse ticker stopped", "ticker", t.name)
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			tick := t.ticksSinceStart
			t.mu.Unlock()

			err := t.fn(t.ctx, tickTime)

			t.mu.Lock()
			if err != nil {
				t.lastError = err.Error()
			} else {
				t.lastError = ""
			}
			t.mu.Unlock()

			if err != nil && t.ctx.Err() == nil {
				// Don't spam logs - log errors at warn level
				t.pulseLog.Warnw("Pulse tick error", "ticker", t.name, logger.FieldError, err, "tick", tick)
			}
		}
	}
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() TickerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TickerStats{
		Name:            t.name,
		Interval:        t.interval,
		LastTickAt:      t.lastTickAt,
		TicksSinceStart: t.ticksSinceStart,
		LastError:       t.lastError,
	}
}
