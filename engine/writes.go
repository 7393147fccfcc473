package engine

import (
	"context"
	"log/slog"

	"github.com/warp/delivery-tracker/cache"
	"github.com/warp/delivery-tracker/changefeed"
	"github.com/warp/delivery-tracker/tracker"
)

// =============================================================================
// DELIVERY WRITES
// =============================================================================

// Writes and deletes run on a context detached from the caller's
// cancellation: once started they complete even if the caller goes away.
// The remote client's per-call timeout still bounds every remote call.

// AddDelivery assigns an id, stores the delivery in the cache and sends it
// to the remote. When the remote write fails the delivery is kept locally
// and a *tracker.PendingSyncError is returned together with the record.
func (e *Engine) AddDelivery(ctx context.Context, in tracker.DeliveryInput) (tracker.Delivery, error) {
	ctx = context.WithoutCancel(ctx)
	d, err := tracker.NewDelivery(e.opts.IDs.NewID(), in)
	if err != nil {
		return tracker.Delivery{}, err
	}
	w := e.stageDelivery(ctx, d)
	return d, e.pushDelivery(ctx, d, w)
}

// AddDeliveries adds each input in turn with the policy of AddDelivery and
// returns one result per input, in input order.
func (e *Engine) AddDeliveries(ctx context.Context, ins []tracker.DeliveryInput) []AddResult {
	out := make([]AddResult, 0, len(ins))
	for _, in := range ins {
		d, err := e.AddDelivery(ctx, in)
		out = append(out, AddResult{Delivery: d, Err: err})
	}
	return out
}

// UpdateDelivery applies patch to a delivery. A delivery missing from the
// working set is re-fetched from the remote before it is reported gone.
func (e *Engine) UpdateDelivery(ctx context.Context, id string, patch tracker.DeliveryPatch) (tracker.Delivery, error) {
	ctx = context.WithoutCancel(ctx)
	cur, err := e.lookupDelivery(ctx, id)
	if err != nil {
		return tracker.Delivery{}, err
	}
	next := patch.Apply(cur)
	if err := next.Validate(); err != nil {
		return tracker.Delivery{}, err
	}
	w := e.stageDelivery(ctx, next)
	return next, e.pushDelivery(ctx, next, w)
}

// DeleteDelivery deletes on the remote first, verifies the id is gone from
// its date partition, and only then removes it from the cache.
func (e *Engine) DeleteDelivery(ctx context.Context, id string) error {
	ctx = context.WithoutCancel(ctx)
	if !e.Reachable() {
		return offlineError("delete delivery")
	}
	d, err := e.lookupDelivery(ctx, id)
	if err != nil {
		return err
	}

	if err := e.remote.DeleteDelivery(ctx, id); err != nil {
		e.noteFailure("delete delivery", err)
		return err
	}
	remaining, err := e.remote.ListDeliveriesByDate(ctx, d.Date)
	if err != nil {
		e.noteFailure("verify delete", err)
		return err
	}
	if tracker.Contains(remaining, id) {
		slog.Error("delivery still present after delete", "id", id, "day", d.Date)
		return &tracker.VerificationError{Kind: cache.KindDelivery, ID: id, Day: d.Date}
	}

	e.mu.Lock()
	e.tombstones[id] = d.Date
	e.cache.RemoveDelivery(ctx, d.Date, id)
	e.cache.ClearPending(ctx, cache.KindDelivery, id)
	e.refreshWorkingLocked(ctx)
	e.mu.Unlock()

	e.publish(ctx, changefeed.DeliveryDeleted, id, d.Date)
	return nil
}

// lookupDelivery finds a delivery in the working set, falling back to a
// full remote re-fetch. Absence is only reported once the remote confirmed
// it; while unreachable the absence cannot be confirmed.
func (e *Engine) lookupDelivery(ctx context.Context, id string) (tracker.Delivery, error) {
	if d, ok := e.findWorking(id); ok {
		return d, nil
	}
	if !e.Reachable() {
		return tracker.Delivery{}, offlineError("find delivery")
	}
	if err := e.pull(ctx); err != nil {
		return tracker.Delivery{}, err
	}
	if d, ok := e.findWorking(id); ok {
		return d, nil
	}
	return tracker.Delivery{}, &tracker.NotFoundError{Kind: cache.KindDelivery, ID: id}
}

// stageDelivery writes d to the cache and queues it in the outbox in one
// step, so it is pending before any remote call is made.
func (e *Engine) stageDelivery(ctx context.Context, d tracker.Delivery) cache.PendingWrite {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.cache.StageDelivery(ctx, d, e.pendingWrite(cache.KindDelivery, d.ID, d.Date))
	e.refreshWorkingLocked(ctx)
	return w
}

// pushDelivery sends d to the remote and settles its outbox entry once the
// remote confirmed it. On failure the entry stays for the next flush.
func (e *Engine) pushDelivery(ctx context.Context, d tracker.Delivery, w cache.PendingWrite) error {
	if !e.Reachable() {
		return &tracker.PendingSyncError{Kind: cache.KindDelivery, ID: d.ID}
	}
	if err := e.remote.SaveDelivery(ctx, d); err != nil {
		e.noteFailure("save delivery", err)
		return &tracker.PendingSyncError{Kind: cache.KindDelivery, ID: d.ID, Err: err}
	}
	e.cache.Settle(ctx, w)
	e.publish(ctx, changefeed.DeliverySaved, d.ID, d.Date)
	return nil
}

func (e *Engine) pendingWrite(kind, id string, day tracker.Day) cache.PendingWrite {
	return cache.PendingWrite{Kind: kind, ID: id, Day: day, MarkedAt: e.opts.Now().UTC()}
}

// =============================================================================
// STORE WRITES
// =============================================================================

// AddStore assigns an id, stores the store in the cache and sends it to the
// remote, with the same failure policy as AddDelivery.
func (e *Engine) AddStore(ctx context.Context, in tracker.StoreInput) (tracker.Store, error) {
	ctx = context.WithoutCancel(ctx)
	s, err := tracker.NewStore(e.opts.IDs.NewID(), in)
	if err != nil {
		return tracker.Store{}, err
	}
	w := e.stageStore(ctx, s)
	return s, e.pushStore(ctx, s, w)
}

// UpdateStore applies patch to a store. Deliveries keep the store name they
// were created with.
func (e *Engine) UpdateStore(ctx context.Context, id string, patch tracker.StorePatch) (tracker.Store, error) {
	ctx = context.WithoutCancel(ctx)
	cur, err := e.lookupStore(ctx, id)
	if err != nil {
		return tracker.Store{}, err
	}
	next := patch.Apply(cur)
	if err := next.Validate(); err != nil {
		return tracker.Store{}, err
	}
	w := e.stageStore(ctx, next)
	return next, e.pushStore(ctx, next, w)
}

// DeleteStore deletes on the remote first, verifies the id is gone from the
// store list, and only then removes it from the cache. Deliveries of the
// store are kept.
func (e *Engine) DeleteStore(ctx context.Context, id string) error {
	ctx = context.WithoutCancel(ctx)
	if !e.Reachable() {
		return offlineError("delete store")
	}
	if _, err := e.lookupStore(ctx, id); err != nil {
		return err
	}

	if err := e.remote.DeleteStore(ctx, id); err != nil {
		e.noteFailure("delete store", err)
		return err
	}
	remaining, err := e.remote.ListStores(ctx)
	if err != nil {
		e.noteFailure("verify delete", err)
		return err
	}
	for _, s := range remaining {
		if s.ID == id {
			slog.Error("store still present after delete", "id", id)
			return &tracker.VerificationError{Kind: cache.KindStore, ID: id}
		}
	}

	e.mu.Lock()
	e.storeTombstones[id] = struct{}{}
	e.cache.RemoveStore(ctx, id)
	e.cache.ClearPending(ctx, cache.KindStore, id)
	e.refreshWorkingLocked(ctx)
	e.mu.Unlock()

	e.publish(ctx, changefeed.StoreDeleted, id, "")
	return nil
}

func (e *Engine) lookupStore(ctx context.Context, id string) (tracker.Store, error) {
	if s, ok := e.findStore(id); ok {
		return s, nil
	}
	if !e.Reachable() {
		return tracker.Store{}, offlineError("find store")
	}
	if _, err := e.GetStores(ctx); err != nil {
		return tracker.Store{}, err
	}
	if !e.Reachable() {
		return tracker.Store{}, offlineError("find store")
	}
	if s, ok := e.findStore(id); ok {
		return s, nil
	}
	return tracker.Store{}, &tracker.NotFoundError{Kind: cache.KindStore, ID: id}
}

func (e *Engine) stageStore(ctx context.Context, s tracker.Store) cache.PendingWrite {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.cache.StageStore(ctx, s, e.pendingWrite(cache.KindStore, s.ID, ""))
	e.refreshWorkingLocked(ctx)
	return w
}

func (e *Engine) pushStore(ctx context.Context, s tracker.Store, w cache.PendingWrite) error {
	if !e.Reachable() {
		return &tracker.PendingSyncError{Kind: cache.KindStore, ID: s.ID}
	}
	if err := e.remote.SaveStore(ctx, s); err != nil {
		e.noteFailure("save store", err)
		return &tracker.PendingSyncError{Kind: cache.KindStore, ID: s.ID, Err: err}
	}
	e.cache.Settle(ctx, w)
	e.publish(ctx, changefeed.StoreSaved, s.ID, "")
	return nil
}
