package engine

import (
	"context"
	"log/slog"

	"github.com/warp/delivery-tracker/cache"
	"github.com/warp/delivery-tracker/changefeed"
	"github.com/warp/delivery-tracker/tracker"
)

// =============================================================================
// PLAIN READS
// =============================================================================

// GetDailyData returns every day, newest first. When reachable the remote
// is read and the cache overwritten with it; records waiting in the
// pending-sync outbox that the remote does not hold are kept. When
// unreachable, or when the remote read fails, the last cached snapshot is
// returned without error.
func (e *Engine) GetDailyData(ctx context.Context) ([]tracker.DailySnapshot, error) {
	if !e.Reachable() {
		return e.cache.ReadAll(ctx), nil
	}
	deliveries, err := e.remote.ListDeliveries(ctx)
	if err != nil {
		e.noteFailure("list deliveries", err)
		return e.cache.ReadAll(ctx), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.overwriteDeliveriesLocked(ctx, deliveries)
	return e.working, nil
}

// GetStores returns every store, following the same policy as GetDailyData.
func (e *Engine) GetStores(ctx context.Context) ([]tracker.Store, error) {
	if !e.Reachable() {
		return e.cache.ReadStores(ctx), nil
	}
	stores, err := e.remote.ListStores(ctx)
	if err != nil {
		e.noteFailure("list stores", err)
		return e.cache.ReadStores(ctx), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.overwriteStoresLocked(ctx, stores)
	return e.stores, nil
}

// GetDataForWindow returns the snapshots of a logical window. The daily
// window always holds exactly today's snapshot.
func (e *Engine) GetDataForWindow(ctx context.Context, w tracker.Window) ([]tracker.DailySnapshot, error) {
	all, err := e.GetDailyData(ctx)
	if err != nil {
		return nil, err
	}
	return tracker.Slice(all, w, e.Today()), nil
}

// pull re-reads the full remote state into the cache.
func (e *Engine) pull(ctx context.Context) error {
	deliveries, err := e.remote.ListDeliveries(ctx)
	if err != nil {
		e.noteFailure("list deliveries", err)
		return err
	}
	stores, err := e.remote.ListStores(ctx)
	if err != nil {
		e.noteFailure("list stores", err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.overwriteDeliveriesLocked(ctx, deliveries)
	e.overwriteStoresLocked(ctx, stores)
	return nil
}

func (e *Engine) overwriteDeliveriesLocked(ctx context.Context, remote []tracker.Delivery) {
	e.forgetTombstonesLocked(remote, "")
	snapshot := e.withPendingLocked(ctx, e.withoutTombstonesLocked(remote), "")

	e.cache.WriteAll(ctx, tracker.GroupByDay(snapshot))
	e.refreshWorkingLocked(ctx)
}

func (e *Engine) overwriteStoresLocked(ctx context.Context, remote []tracker.Store) {
	stores := e.withoutStoreTombstonesLocked(remote)

	held := make(map[string]struct{}, len(stores))
	for _, s := range stores {
		held[s.ID] = struct{}{}
	}
	local := make(map[string]tracker.Store)
	for _, s := range e.cache.ReadStores(ctx) {
		local[s.ID] = s
	}
	for _, w := range e.cache.Pending(ctx) {
		if w.Kind != cache.KindStore {
			continue
		}
		if _, ok := held[w.ID]; ok {
			if e.cache.Settle(ctx, w) {
				slog.Info("remote store supersedes pending edit", "id", w.ID)
			}
			continue
		}
		if s, ok := local[w.ID]; ok {
			stores = append(stores, s)
		}
	}

	e.cache.WriteStores(ctx, stores)
	e.refreshWorkingLocked(ctx)
}

// withPendingLocked adds to a remote list the outbox deliveries the remote
// does not hold, so a local-only record survives the overwrite. A pending
// delivery the remote already holds is settled instead: the remote copy
// wins and the local edit is dropped. When day is set the list covers that
// day only.
func (e *Engine) withPendingLocked(ctx context.Context, remote []tracker.Delivery, day tracker.Day) []tracker.Delivery {
	pending := e.cache.Pending(ctx)
	if len(pending) == 0 {
		return remote
	}
	held := tracker.IndexByID(remote)
	local := tracker.IndexByID(tracker.Flatten(e.cache.ReadAll(ctx)))

	out := make([]tracker.Delivery, 0, len(remote)+len(pending))
	out = append(out, remote...)
	for _, w := range pending {
		if w.Kind != cache.KindDelivery {
			continue
		}
		l, isLocal := local[w.ID]
		if r, ok := held[w.ID]; ok {
			if !e.cache.Settle(ctx, w) {
				continue
			}
			if isLocal && l.Date != r.Date {
				e.cache.RemoveDelivery(ctx, l.Date, l.ID)
			}
			slog.Info("remote copy supersedes pending edit", "id", w.ID, "day", r.Date)
			continue
		}
		if isLocal && (day == "" || l.Date == day) {
			out = append(out, l)
		}
	}
	return out
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconcile merges the remote and cached views of one logical day and
// writes the result back to the cache: every remote record as the remote
// has it, plus the cached records the remote does not know. When the remote
// is unreachable the cached day is returned unchanged.
func (e *Engine) Reconcile(ctx context.Context, day tracker.Day) ([]tracker.Delivery, error) {
	if !e.Reachable() {
		return e.cache.ReadDay(ctx, day), nil
	}
	remote, err := e.remote.ListDeliveriesByDate(ctx, day)
	if err != nil {
		e.noteFailure("reconcile", err)
		return e.cache.ReadDay(ctx, day), err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.forgetTombstonesLocked(remote, day)
	remote = e.withPendingLocked(ctx, e.withoutTombstonesLocked(remote), day)
	merged := tracker.Merge(remote, e.cache.ReadDay(ctx, day))
	e.cache.ReplaceDay(ctx, day, merged)
	e.refreshWorkingLocked(ctx)

	slog.Debug("reconciled day", "day", day, "remote", len(remote), "merged", len(merged))
	return merged, nil
}

// Refresh is one refresh cycle: send the outbox, reconcile today and reload
// the store list. The outbox goes first, but only records the remote does
// not hold are sent; for the rest the remote copy is kept, so reconciling
// afterwards yields the same result as reconciling first. While
// unreachable it does nothing in strict mode and attempts a reconnect in
// best-effort mode.
func (e *Engine) Refresh(ctx context.Context) error {
	if !e.Reachable() {
		if e.opts.Mode == ModeBestEffort {
			return e.Reconnect(ctx)
		}
		return nil
	}
	if err := e.flushPending(ctx); err != nil {
		return err
	}
	if _, err := e.Reconcile(ctx, e.Today()); err != nil {
		return err
	}
	_, err := e.GetStores(ctx)
	return err
}

// FocusRefresh runs a refresh cycle immediately, for a consumer that just
// regained attention.
func (e *Engine) FocusRefresh(ctx context.Context) error {
	return e.Refresh(ctx)
}

// ForceRefresh sends the outbox and re-pulls the full remote state.
func (e *Engine) ForceRefresh(ctx context.Context) error {
	if !e.Reachable() {
		return offlineError("refresh")
	}
	if err := e.flushPending(ctx); err != nil {
		return err
	}
	return e.pull(ctx)
}

// Resync clears the local cache and re-pulls the full remote state. The
// outbox is sent first; if that fails nothing is cleared.
func (e *Engine) Resync(ctx context.Context) error {
	if !e.Reachable() {
		return offlineError("resync")
	}
	if err := e.flushPending(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	last, hasLast := e.cache.LastCleanup(ctx)
	e.cache.Clear(ctx)
	if hasLast {
		e.cache.SetLastCleanup(ctx, last)
	}
	e.refreshWorkingLocked(ctx)
	e.mu.Unlock()

	slog.Info("local cache cleared, resyncing from remote")
	return e.pull(ctx)
}

// flushPending sends the outbox records the remote does not hold. A record
// the remote already holds is settled without being sent and its remote
// copy replaces the cached one. It stops at the first failure.
func (e *Engine) flushPending(ctx context.Context) error {
	pending := e.cache.Pending(ctx)
	if len(pending) == 0 {
		return nil
	}
	deliveries, stores, err := e.remoteCopies(ctx, pending)
	if err != nil {
		e.noteFailure("flush pending", err)
		return err
	}

	for _, w := range pending {
		var err error
		switch w.Kind {
		case cache.KindDelivery:
			err = e.flushDelivery(ctx, w, deliveries)
		case cache.KindStore:
			err = e.flushStore(ctx, w, stores)
		default:
			e.cache.Settle(ctx, w)
		}
		if err != nil {
			e.noteFailure("flush pending", err)
			return err
		}
	}
	return nil
}

// remoteCopies reads the remote records of the kinds present in the
// outbox, indexed by id.
func (e *Engine) remoteCopies(ctx context.Context, pending []cache.PendingWrite) (map[string]tracker.Delivery, map[string]tracker.Store, error) {
	var wantDeliveries, wantStores bool
	for _, w := range pending {
		switch w.Kind {
		case cache.KindDelivery:
			wantDeliveries = true
		case cache.KindStore:
			wantStores = true
		}
	}

	deliveries := map[string]tracker.Delivery{}
	if wantDeliveries {
		list, err := e.remote.ListDeliveries(ctx)
		if err != nil {
			return nil, nil, err
		}
		deliveries = tracker.IndexByID(list)
	}
	stores := map[string]tracker.Store{}
	if wantStores {
		list, err := e.remote.ListStores(ctx)
		if err != nil {
			return nil, nil, err
		}
		for _, s := range list {
			stores[s.ID] = s
		}
	}
	return deliveries, stores, nil
}

func (e *Engine) flushDelivery(ctx context.Context, w cache.PendingWrite, held map[string]tracker.Delivery) error {
	if r, ok := held[w.ID]; ok {
		e.mu.Lock()
		if e.cache.Settle(ctx, w) {
			if _, dead := e.tombstones[r.ID]; !dead {
				e.cache.PlaceDelivery(ctx, r)
				e.refreshWorkingLocked(ctx)
			}
			slog.Info("remote copy supersedes pending edit", "id", r.ID, "day", r.Date)
		}
		e.mu.Unlock()
		return nil
	}

	d, ok := e.cache.FindDelivery(ctx, w.ID)
	if !ok {
		e.cache.Settle(ctx, w)
		return nil
	}
	if err := e.remote.SaveDelivery(ctx, d); err != nil {
		return err
	}
	e.cache.Settle(ctx, w)
	slog.Info("pending delivery synced", "id", d.ID, "day", d.Date)
	e.publish(ctx, changefeed.DeliverySaved, d.ID, d.Date)
	return nil
}

func (e *Engine) flushStore(ctx context.Context, w cache.PendingWrite, held map[string]tracker.Store) error {
	if r, ok := held[w.ID]; ok {
		e.mu.Lock()
		if e.cache.Settle(ctx, w) {
			if _, dead := e.storeTombstones[r.ID]; !dead {
				e.cache.UpsertStore(ctx, r)
				e.refreshWorkingLocked(ctx)
			}
			slog.Info("remote store supersedes pending edit", "id", r.ID)
		}
		e.mu.Unlock()
		return nil
	}

	var st tracker.Store
	found := false
	for _, s := range e.cache.ReadStores(ctx) {
		if s.ID == w.ID {
			st, found = s, true
			break
		}
	}
	if !found {
		e.cache.Settle(ctx, w)
		return nil
	}
	if err := e.remote.SaveStore(ctx, st); err != nil {
		return err
	}
	e.cache.Settle(ctx, w)
	slog.Info("pending store synced", "id", st.ID)
	e.publish(ctx, changefeed.StoreSaved, st.ID, "")
	return nil
}
