/*
Package cache implements the local cache of the delivery tracker.

PURPOSE:
  Holds the last known-good snapshot of daily data and the store list so
  that reads are instant and still work when the remote store is
  unreachable. Only the reconciliation engine writes to it.

LOGICAL KEYS:
  daily-data    []tracker.DailySnapshot (JSON)
  stores        []tracker.Store (JSON)
  last-cleanup  tracker.Day of the last automatic retention run
  pending-sync  []PendingWrite (JSON) ids whose remote write failed

FAILURE POLICY:
  The cache never raises. A missing, unreadable or corrupt medium degrades
  to empty collections and failed writes are logged, because losing the
  fallback must never crash the primary read path. When the durable medium
  cannot be opened at all, the cache runs on an in-memory medium.

SEE ALSO:
  - store/sqlite/sqlite.go: the durable medium
  - engine/engine.go: the only writer
*/
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/warp/delivery-tracker/store/sqlite"
	"github.com/warp/delivery-tracker/tracker"
)

const (
	keyDailyData   = "daily-data"
	keyStores      = "stores"
	keyLastCleanup = "last-cleanup"
	keyPending     = "pending-sync"
	keyProbe       = "__probe__"
)

// Medium is the durable key/value surface under the cache.
type Medium interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Cache is the typed local cache. It is safe for concurrent use.
type Cache struct {
	medium Medium
	mu     sync.Mutex
	seq    uint64 // last outbox sequence handed out
}

// New creates a cache over the given medium.
func New(medium Medium) *Cache {
	return &Cache{medium: medium}
}

// Open creates a cache backed by a SQLite file at path. An empty path, or a
// path that cannot be opened, yields an in-memory cache. The returned close
// function releases the medium.
func Open(path string) (*Cache, func() error) {
	if path == "" {
		return New(NewMemory()), func() error { return nil }
	}
	kv, err := sqlite.New(path)
	if err != nil {
		slog.Warn("local cache unavailable, running in-memory only", "path", path, "error", err)
		return New(NewMemory()), func() error { return nil }
	}
	return New(kv), kv.Close
}

// =============================================================================
// PROBE
// =============================================================================

// IsUsable probes the medium with a throwaway write and read.
func (c *Cache) IsUsable(ctx context.Context) bool {
	if err := c.medium.Put(ctx, keyProbe, keyProbe); err != nil {
		return false
	}
	v, ok, err := c.medium.Get(ctx, keyProbe)
	if err != nil || !ok || v != keyProbe {
		return false
	}
	return c.medium.Delete(ctx, keyProbe) == nil
}

// =============================================================================
// DAILY DATA
// =============================================================================

// ReadAll returns every cached day, newest first, with summaries recomputed.
func (c *Cache) ReadAll(ctx context.Context) []tracker.DailySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readAllLocked(ctx)
}

// WriteAll replaces the cached daily data.
func (c *Cache) WriteAll(ctx context.Context, snapshots []tracker.DailySnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeAllLocked(ctx, snapshots)
}

// ReadDay returns the cached deliveries of one day.
func (c *Cache) ReadDay(ctx context.Context, day tracker.Day) []tracker.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.readAllLocked(ctx) {
		if s.Date == day {
			return s.Deliveries
		}
	}
	return nil
}

// ReplaceDay replaces the deliveries of one day. An empty list removes the
// day from the snapshot.
func (c *Cache) ReplaceDay(ctx context.Context, day tracker.Day, deliveries []tracker.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.readAllLocked(ctx)
	out := make([]tracker.DailySnapshot, 0, len(all)+1)
	for _, s := range all {
		if s.Date != day {
			out = append(out, s)
		}
	}
	if len(deliveries) > 0 {
		out = append(out, tracker.NewSnapshot(day, deliveries))
	}
	c.writeAllLocked(ctx, out)
}

// UpsertDayDelivery inserts or replaces a delivery in its day.
func (c *Cache) UpsertDayDelivery(ctx context.Context, day tracker.Day, d tracker.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.readAllLocked(ctx)
	found := false
	for i, s := range all {
		if s.Date != day {
			continue
		}
		found = true
		replaced := false
		for j, existing := range s.Deliveries {
			if existing.ID == d.ID {
				all[i].Deliveries[j] = d
				replaced = true
				break
			}
		}
		if !replaced {
			all[i].Deliveries = append(all[i].Deliveries, d)
		}
	}
	if !found {
		all = append(all, tracker.NewSnapshot(day, []tracker.Delivery{d}))
	}
	c.writeAllLocked(ctx, all)
}

// PlaceDelivery writes d to its day, dropping any copy of it from another
// day. The outbox is left alone.
func (c *Cache) PlaceDelivery(ctx context.Context, d tracker.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.placeLocked(ctx, d)
}

// StageDelivery places d like PlaceDelivery and queues it in the outbox in
// the same step. A concurrent read that overwrites the cache therefore
// always sees the record as pending.
func (c *Cache) StageDelivery(ctx context.Context, d tracker.Delivery, w PendingWrite) PendingWrite {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.placeLocked(ctx, d)
	c.markPendingLocked(ctx, &w)
	return w
}

func (c *Cache) placeLocked(ctx context.Context, d tracker.Delivery) {
	all := c.readAllLocked(ctx)
	out := make([]tracker.DailySnapshot, 0, len(all)+1)
	placed := false
	for _, s := range all {
		kept := s.Deliveries[:0:0]
		for _, existing := range s.Deliveries {
			switch {
			case existing.ID != d.ID:
				kept = append(kept, existing)
			case s.Date == d.Date:
				kept = append(kept, d)
				placed = true
			}
		}
		if s.Date == d.Date && !placed {
			kept = append(kept, d)
			placed = true
		}
		if len(kept) > 0 {
			s.Deliveries = kept
			out = append(out, s)
		}
	}
	if !placed {
		out = append(out, tracker.NewSnapshot(d.Date, []tracker.Delivery{d}))
	}
	c.writeAllLocked(ctx, out)
}

// RemoveDelivery deletes a delivery from its day. Days left empty are
// dropped.
func (c *Cache) RemoveDelivery(ctx context.Context, day tracker.Day, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.readAllLocked(ctx)
	out := make([]tracker.DailySnapshot, 0, len(all))
	for _, s := range all {
		if s.Date == day {
			kept := s.Deliveries[:0:0]
			for _, d := range s.Deliveries {
				if d.ID != id {
					kept = append(kept, d)
				}
			}
			if len(kept) == 0 {
				continue
			}
			s.Deliveries = kept
		}
		out = append(out, s)
	}
	c.writeAllLocked(ctx, out)
}

// FindDelivery looks a delivery up by id across all cached days.
func (c *Cache) FindDelivery(ctx context.Context, id string) (tracker.Delivery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.readAllLocked(ctx) {
		for _, d := range s.Deliveries {
			if d.ID == id {
				return d, true
			}
		}
	}
	return tracker.Delivery{}, false
}

func (c *Cache) readAllLocked(ctx context.Context) []tracker.DailySnapshot {
	var snapshots []tracker.DailySnapshot
	if !c.load(ctx, keyDailyData, &snapshots) {
		return []tracker.DailySnapshot{}
	}
	return tracker.Resummarize(snapshots)
}

func (c *Cache) writeAllLocked(ctx context.Context, snapshots []tracker.DailySnapshot) {
	c.save(ctx, keyDailyData, tracker.Resummarize(snapshots))
}

// =============================================================================
// STORES
// =============================================================================

// ReadStores returns the cached store list.
func (c *Cache) ReadStores(ctx context.Context) []tracker.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readStoresLocked(ctx)
}

// WriteStores replaces the cached store list.
func (c *Cache) WriteStores(ctx context.Context, stores []tracker.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.save(ctx, keyStores, stores)
}

// UpsertStore inserts or replaces a store.
func (c *Cache) UpsertStore(ctx context.Context, s tracker.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stores := c.readStoresLocked(ctx)
	for i, existing := range stores {
		if existing.ID == s.ID {
			stores[i] = s
			c.save(ctx, keyStores, stores)
			return
		}
	}
	c.save(ctx, keyStores, append(stores, s))
}

// StageStore upserts s and queues it in the outbox in the same step.
func (c *Cache) StageStore(ctx context.Context, s tracker.Store, w PendingWrite) PendingWrite {
	c.mu.Lock()
	defer c.mu.Unlock()

	stores := c.readStoresLocked(ctx)
	replaced := false
	for i, existing := range stores {
		if existing.ID == s.ID {
			stores[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		stores = append(stores, s)
	}
	c.save(ctx, keyStores, stores)

	c.markPendingLocked(ctx, &w)
	return w
}

// RemoveStore deletes a store from the cached list.
func (c *Cache) RemoveStore(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stores := c.readStoresLocked(ctx)
	kept := stores[:0]
	for _, s := range stores {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	c.save(ctx, keyStores, kept)
}

func (c *Cache) readStoresLocked(ctx context.Context) []tracker.Store {
	var stores []tracker.Store
	if !c.load(ctx, keyStores, &stores) || stores == nil {
		return []tracker.Store{}
	}
	return stores
}

// =============================================================================
// SCALARS
// =============================================================================

// LastCleanup returns the day of the last automatic cleanup, if any.
func (c *Cache) LastCleanup(ctx context.Context) (tracker.Day, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok, err := c.medium.Get(ctx, keyLastCleanup)
	if err != nil || !ok {
		return "", false
	}
	day := tracker.Day(v)
	if !day.Valid() {
		return "", false
	}
	return day, true
}

// SetLastCleanup records the day of the last automatic cleanup.
func (c *Cache) SetLastCleanup(ctx context.Context, day tracker.Day) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.medium.Put(ctx, keyLastCleanup, string(day)); err != nil {
		slog.Warn("cache write failed", "key", keyLastCleanup, "error", err)
	}
}

// Clear drops every cached key.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range []string{keyDailyData, keyStores, keyLastCleanup, keyPending} {
		if err := c.medium.Delete(ctx, key); err != nil {
			slog.Warn("cache delete failed", "key", key, "error", err)
		}
	}
}

// =============================================================================
// SERIALIZATION
// =============================================================================

func (c *Cache) load(ctx context.Context, key string, into any) bool {
	raw, ok, err := c.medium.Get(ctx, key)
	if err != nil {
		slog.Warn("cache read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		slog.Warn("cache entry corrupt, treating as empty", "key", key, "error", err)
		return false
	}
	return true
}

func (c *Cache) save(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		slog.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.medium.Put(ctx, key, string(raw)); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
}
