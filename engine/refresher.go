/*
refresher.go - Periodic and focus-triggered refresh

PURPOSE:
  Runs Engine.Refresh on a fixed interval, and immediately whenever the
  consuming surface regains attention (Focus). Both triggers run the same
  cycle on the same goroutine, so refreshes never overlap each other.

USAGE:
  r := engine.NewRefresher(eng, 60*time.Second)
  r.Start()
  // ... later
  r.Focus()
  r.Stop()

SEE ALSO:
  - reads.go: Refresh
  - cleanup/scheduler.go: the hourly retention scheduler
*/
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRefreshInterval is the period between refresh cycles.
const DefaultRefreshInterval = 60 * time.Second

// Refresher drives periodic and focus-triggered refresh of an Engine.
type Refresher struct {
	Engine   *Engine
	Interval time.Duration

	ticker *time.Ticker
	focus  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRefresher creates a refresher. A non-positive interval means the
// default.
func NewRefresher(e *Engine, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		Engine:   e,
		Interval: interval,
		focus:    make(chan struct{}, 1),
	}
}

// Start begins refreshing. Calling Start on a running refresher is a no-op.
func (r *Refresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.ticker = time.NewTicker(r.Interval)
	r.wg.Add(1)

	go r.run(ctx, r.ticker, r.done)

	slog.Info("refresher started", "interval", r.Interval)
}

// Stop stops refreshing and waits for an in-flight cycle to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	r.cancel()
	close(r.done)
	r.wg.Wait()
	r.ticker = nil
	slog.Info("refresher stopped")
}

// Focus requests an immediate refresh. Requests made while one is already
// queued are coalesced.
func (r *Refresher) Focus() {
	select {
	case r.focus <- struct{}{}:
	default:
	}
}

func (r *Refresher) run(ctx context.Context, ticker *time.Ticker, done <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case <-ticker.C:
			r.cycle(ctx, "tick")
		case <-r.focus:
			r.cycle(ctx, "focus")
		case <-done:
			return
		}
	}
}

func (r *Refresher) cycle(ctx context.Context, trigger string) {
	if err := r.Engine.Refresh(ctx); err != nil {
		slog.Warn("refresh failed", "trigger", trigger, "error", err)
		return
	}
	slog.Debug("refresh complete", "trigger", trigger, "reachable", r.Engine.Reachable())
}
