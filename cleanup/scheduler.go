package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCheckInterval is how often the scheduler checks the window.
const DefaultCheckInterval = time.Hour

// Scheduler runs the automatic cleanup on a fixed interval.
type Scheduler struct {
	Service       *Service
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates an enabled scheduler checking every hour.
func NewScheduler(s *Service) *Scheduler {
	return &Scheduler{
		Service:       s,
		CheckInterval: DefaultCheckInterval,
		Enabled:       true,
	}
}

// Start begins the scheduler. It checks once immediately.
func (cs *Scheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		slog.Info("cleanup scheduler disabled, not starting")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)

	go cs.run(cs.ticker, cs.stop)

	slog.Info("cleanup scheduler started", "interval", cs.CheckInterval)
}

// Stop stops the scheduler and waits for a running check to finish.
func (cs *Scheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		slog.Info("cleanup scheduler stopped")
	}
}

func (cs *Scheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer cs.wg.Done()

	// Run immediately on start
	cs.check()

	for {
		select {
		case <-ticker.C:
			cs.check()
		case <-stop:
			return
		}
	}
}

func (cs *Scheduler) check() {
	res, ran, err := cs.Service.RunAuto(context.Background())
	if err != nil {
		slog.Warn("automatic cleanup failed", "error", err)
		return
	}
	if ran {
		slog.Info("automatic cleanup done", "removed", res.Removed, "remaining", res.Remaining)
	}
}
