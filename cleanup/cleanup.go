/*
Package cleanup implements the retention policy of the delivery tracker.

PURPOSE:
  Delivered orders are removed once per logical day, after the end of the
  business day. The purge goes through the reconciliation engine, so every
  removal is a verified remote delete.

RULES:
  - The retention window opens at a configured local hour (default 23:00).
  - The automatic run happens at most once per day: it runs only when the
    window is open and the recorded last-cleanup day is not today, and it
    records today only when every delivered record was removed. While the
    remote is unreachable, or after a failed delete, the day stays open and
    the next hourly check retries.
  - A manual run ignores the window and does not record the day, so the
    automatic end-of-day run still happens.
  - A record that fails to delete is logged and skipped; it counts as
    remaining and as failed.

SEE ALSO:
  - scheduler.go: hourly trigger
  - engine/writes.go: DeleteDelivery
*/
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/warp/delivery-tracker/tracker"
)

// DefaultHour is the local hour at which the retention window opens.
const DefaultHour = 23

// Engine is the part of the reconciliation engine the policy needs.
type Engine interface {
	Now() time.Time
	Today() tracker.Day
	Reachable() bool
	Reconcile(ctx context.Context, day tracker.Day) ([]tracker.Delivery, error)
	DeleteDelivery(ctx context.Context, id string) error
	LastCleanup(ctx context.Context) (tracker.Day, bool)
	RecordCleanup(ctx context.Context, day tracker.Day)
}

// Result reports one purge.
type Result struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
	Failed    int `json:"failed,omitempty"`
}

// Status describes the automatic cleanup schedule.
type Status struct {
	LastCleanup     tracker.Day `json:"lastCleanup,omitempty"`
	ShouldRun       bool        `json:"shouldRun"`
	IsCleanupTime   bool        `json:"isCleanupTime"`
	NextAutoCleanup time.Time   `json:"nextAutoCleanup"`
}

// Service is the retention policy.
type Service struct {
	engine Engine
	hour   int
}

// New creates a service whose window opens at hour. An hour outside 0-23
// means DefaultHour.
func New(e Engine, hour int) *Service {
	if hour < 0 || hour > 23 {
		hour = DefaultHour
	}
	return &Service{engine: e, hour: hour}
}

// IsRetentionWindowOpen reports whether the local hour has reached the
// threshold.
func (s *Service) IsRetentionWindowOpen() bool {
	return s.engine.Now().Hour() >= s.hour
}

// ShouldRun reports whether no automatic cleanup was recorded today.
func (s *Service) ShouldRun(ctx context.Context) bool {
	last, ok := s.engine.LastCleanup(ctx)
	return !ok || last != s.engine.Today()
}

// Purge deletes every delivered record of day through the engine.
func (s *Service) Purge(ctx context.Context, day tracker.Day) (Result, error) {
	deliveries, err := s.engine.Reconcile(ctx, day)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, d := range deliveries {
		if !d.DeliveryStatus.Terminal() {
			res.Remaining++
			continue
		}
		if err := s.engine.DeleteDelivery(ctx, d.ID); err != nil {
			slog.Warn("cleanup could not remove delivery, skipping", "id", d.ID, "day", day, "error", err)
			res.Remaining++
			res.Failed++
			continue
		}
		res.Removed++
	}

	slog.Info("cleanup finished", "day", day, "removed", res.Removed, "remaining", res.Remaining)
	return res, nil
}

// RunAuto purges today when the window is open and today has not been
// cleaned yet. The bool reports whether a purge ran.
func (s *Service) RunAuto(ctx context.Context) (Result, bool, error) {
	if !s.IsRetentionWindowOpen() || !s.ShouldRun(ctx) {
		return Result{}, false, nil
	}
	if !s.engine.Reachable() {
		slog.Info("automatic cleanup postponed, remote unreachable")
		return Result{}, false, nil
	}
	today := s.engine.Today()
	res, err := s.Purge(ctx, today)
	if err != nil {
		return Result{}, true, err
	}
	if res.Failed > 0 {
		slog.Warn("automatic cleanup incomplete, will retry", "day", today, "failed", res.Failed)
		return res, true, nil
	}
	s.engine.RecordCleanup(ctx, today)
	return res, true, nil
}

// Force purges day immediately, ignoring the window. The last-cleanup day
// is not recorded.
func (s *Service) Force(ctx context.Context, day tracker.Day) (Result, error) {
	slog.Info("manual cleanup requested", "day", day)
	return s.Purge(ctx, day)
}

// Status reports the automatic schedule.
func (s *Service) Status(ctx context.Context) Status {
	now := s.engine.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, 0, 0, 0, now.Location())
	if now.Hour() >= s.hour {
		next = next.AddDate(0, 0, 1)
	}
	last, _ := s.engine.LastCleanup(ctx)
	return Status{
		LastCleanup:     last,
		ShouldRun:       s.ShouldRun(ctx),
		IsCleanupTime:   s.IsRetentionWindowOpen(),
		NextAutoCleanup: next,
	}
}
