package remote

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/warp/delivery-tracker/tracker"
)

// =============================================================================
// SELF-HEALING WRAPPER
// =============================================================================

// Healing wraps a Client so that an operation failing with
// tracker.ErrSchemaMissing triggers one EnsureSchema followed by exactly one
// retry. A second failure is returned as is.
type Healing struct {
	next Client
	mu   sync.Mutex
}

// NewHealing wraps next.
func NewHealing(next Client) *Healing {
	return &Healing{next: next}
}

func heal[T any](ctx context.Context, h *Healing, op string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil || !errors.Is(err, tracker.ErrSchemaMissing) {
		return v, err
	}
	slog.Warn("remote schema missing, re-provisioning", "op", op, "error", err)
	if herr := h.EnsureSchema(ctx); herr != nil {
		var zero T
		return zero, herr
	}
	return fn()
}

func healErr(ctx context.Context, h *Healing, op string, fn func() error) error {
	_, err := heal(ctx, h, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (h *Healing) Probe(ctx context.Context) error {
	return h.next.Probe(ctx)
}

// EnsureSchema is serialized so that concurrent heals issue one bootstrap
// at a time.
func (h *Healing) EnsureSchema(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next.EnsureSchema(ctx)
}

func (h *Healing) SaveStore(ctx context.Context, s tracker.Store) error {
	return healErr(ctx, h, "save store", func() error { return h.next.SaveStore(ctx, s) })
}

func (h *Healing) SaveDelivery(ctx context.Context, d tracker.Delivery) error {
	return healErr(ctx, h, "save delivery", func() error { return h.next.SaveDelivery(ctx, d) })
}

func (h *Healing) ListStores(ctx context.Context) ([]tracker.Store, error) {
	return heal(ctx, h, "list stores", func() ([]tracker.Store, error) { return h.next.ListStores(ctx) })
}

func (h *Healing) ListDeliveriesByDate(ctx context.Context, day tracker.Day) ([]tracker.Delivery, error) {
	return heal(ctx, h, "list deliveries by date", func() ([]tracker.Delivery, error) {
		return h.next.ListDeliveriesByDate(ctx, day)
	})
}

func (h *Healing) ListDeliveries(ctx context.Context) ([]tracker.Delivery, error) {
	return heal(ctx, h, "list deliveries", func() ([]tracker.Delivery, error) { return h.next.ListDeliveries(ctx) })
}

func (h *Healing) DeleteDelivery(ctx context.Context, id string) error {
	return healErr(ctx, h, "delete delivery", func() error { return h.next.DeleteDelivery(ctx, id) })
}

func (h *Healing) DeleteStore(ctx context.Context, id string) error {
	return healErr(ctx, h, "delete store", func() error { return h.next.DeleteStore(ctx, id) })
}
