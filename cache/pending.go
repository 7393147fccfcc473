package cache

import (
	"context"
	"time"

	"github.com/warp/delivery-tracker/tracker"
)

// Record kinds tracked by the pending-sync outbox.
const (
	KindDelivery = "delivery"
	KindStore    = "store"
)

// PendingWrite identifies a record that was written locally but whose
// remote write has not been confirmed. Seq is assigned by MarkPending and
// grows with every mark, including across restarts.
type PendingWrite struct {
	Kind     string      `json:"kind"`
	ID       string      `json:"id"`
	Day      tracker.Day `json:"day,omitempty"`
	MarkedAt time.Time   `json:"markedAt"`
	Seq      uint64      `json:"seq"`
}

// Pending returns the outbox in insertion order.
func (c *Cache) Pending(ctx context.Context) []PendingWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked(ctx)
}

// MarkPending adds a write to the outbox and returns it with its sequence
// number. An existing entry for the same record is replaced.
func (c *Cache) MarkPending(ctx context.Context, w PendingWrite) PendingWrite {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.markPendingLocked(ctx, &w)
	return w
}

func (c *Cache) markPendingLocked(ctx context.Context, w *PendingWrite) {
	for _, p := range c.pendingLocked(ctx) {
		if p.Seq > c.seq {
			c.seq = p.Seq
		}
	}
	c.seq++
	w.Seq = c.seq

	out := c.withoutLocked(ctx, w.Kind, w.ID)
	c.save(ctx, keyPending, append(out, *w))
}

// ClearPending removes a record from the outbox.
func (c *Cache) ClearPending(ctx context.Context, kind, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.save(ctx, keyPending, c.withoutLocked(ctx, kind, id))
}

// Settle removes w from the outbox only if it has not been re-marked since
// it was read, so that a newer local edit stays queued. It reports whether
// the entry was removed.
func (c *Cache) Settle(ctx context.Context, w PendingWrite) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.pendingLocked(ctx) {
		if p.Kind == w.Kind && p.ID == w.ID {
			if p.Seq != w.Seq {
				return false
			}
			c.save(ctx, keyPending, c.withoutLocked(ctx, w.Kind, w.ID))
			return true
		}
	}
	return false
}

func (c *Cache) pendingLocked(ctx context.Context) []PendingWrite {
	var writes []PendingWrite
	if !c.load(ctx, keyPending, &writes) {
		return nil
	}
	return writes
}

func (c *Cache) withoutLocked(ctx context.Context, kind, id string) []PendingWrite {
	var out []PendingWrite
	for _, p := range c.pendingLocked(ctx) {
		if p.Kind == kind && p.ID == id {
			continue
		}
		out = append(out, p)
	}
	if out == nil {
		out = []PendingWrite{}
	}
	return out
}
