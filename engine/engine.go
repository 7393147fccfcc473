/*
Package engine implements the reconciliation engine of the delivery tracker.

PURPOSE:
  Decides what the current set of stores and deliveries is, given the local
  cache, the remote store, in-flight writes and periodic or focus-driven
  resynchronization. It is the only writer of the local cache.

RULES:
  - Plain reads: remote when reachable (and the cache is overwritten with
    the result), last cached snapshot otherwise. No blending.
  - Writes: cache first, then remote. A failed remote write keeps the local
    copy, records it in the pending-sync outbox and flips to unreachable.
  - Deletes: remote first, verified by re-reading the remote partition, then
    removed from the cache.
  - Reconcile(day): remote ∪ local-only. Remote wins for every id it has.

SYNC STATE:
  reachable --remote call fails--> unreachable
  unreachable --Reconnect / successful probe--> reachable

CONCURRENCY:
  Engine is safe for concurrent use. mu guards the sync state, the working
  set and every read-modify-write on the cache. It is never held across a
  remote call, so a refresh tick may interleave with a user write; the merge
  rule converges regardless of interleaving.

SEE ALSO:
  - tracker/merge.go: the reconciliation rule
  - refresher.go: periodic and focus-triggered refresh
  - cleanup/cleanup.go: retention policy built on this engine
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/delivery-tracker/cache"
	"github.com/warp/delivery-tracker/changefeed"
	"github.com/warp/delivery-tracker/remote"
	"github.com/warp/delivery-tracker/tracker"
)

// StartupMode selects what Initialize does when the remote is unreachable.
type StartupMode string

const (
	// ModeStrict fails Initialize with tracker.ErrRemoteRequired.
	ModeStrict StartupMode = "strict"
	// ModeBestEffort serves the cache and keeps trying to reconnect.
	ModeBestEffort StartupMode = "best-effort"
)

// ParseStartupMode maps a string to a StartupMode. Empty means strict.
func ParseStartupMode(s string) (StartupMode, error) {
	switch StartupMode(s) {
	case "", ModeStrict:
		return ModeStrict, nil
	case ModeBestEffort:
		return ModeBestEffort, nil
	}
	return "", fmt.Errorf("unknown startup mode %q (want strict or best-effort)", s)
}

// errOffline is the cause reported when an operation that needs the remote
// is attempted while it is marked unreachable.
var errOffline = errors.New("remote marked unreachable, reconnect first")

// AddResult is the outcome of one record of a batch add. Err may be a
// *tracker.PendingSyncError, in which case Delivery was kept locally.
type AddResult struct {
	Delivery tracker.Delivery
	Err      error
}

// SyncState is the process-wide connectivity state.
type SyncState struct {
	Reachable   bool        `json:"reachable"`
	SchemaReady bool        `json:"schemaReady"`
	LastCleanup tracker.Day `json:"lastCleanup,omitempty"`
	Pending     int         `json:"pending"`
}

// Options configures an Engine. Zero values get defaults.
type Options struct {
	Mode      StartupMode
	Location  *time.Location
	Now       func() time.Time
	IDs       tracker.IDGenerator
	Publisher changefeed.Publisher
}

// Engine is the reconciliation engine.
type Engine struct {
	remote remote.Client
	cache  *cache.Cache
	opts   Options

	mu          sync.Mutex
	reachable   bool
	schemaReady bool
	working     []tracker.DailySnapshot
	stores      []tracker.Store

	// Ids whose delete was confirmed, so that a refresh which fetched the
	// remote before the delete cannot resurrect them.
	tombstones      map[string]tracker.Day
	storeTombstones map[string]struct{}
}

// New creates an engine. It does not touch the remote until Initialize.
func New(client remote.Client, c *cache.Cache, opts Options) *Engine {
	if opts.Mode == "" {
		opts.Mode = ModeStrict
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IDs == nil {
		opts.IDs = tracker.UUIDGenerator{}
	}
	if opts.Publisher == nil {
		opts.Publisher = changefeed.Nop{}
	}
	return &Engine{
		remote:          client,
		cache:           c,
		opts:            opts,
		tombstones:      make(map[string]tracker.Day),
		storeTombstones: make(map[string]struct{}),
	}
}

// Mode returns the configured startup mode.
func (e *Engine) Mode() StartupMode { return e.opts.Mode }

// Today returns the current logical day in the engine's location.
func (e *Engine) Today() tracker.Day {
	return tracker.DayOf(e.opts.Now().In(e.opts.Location))
}

// Now returns the engine's clock reading in its location.
func (e *Engine) Now() time.Time {
	return e.opts.Now().In(e.opts.Location)
}

// =============================================================================
// LIFECYCLE AND SYNC STATE
// =============================================================================

// Initialize probes the remote, provisions the schema once and loads the
// working set. In strict mode an unreachable remote is a hard error.
func (e *Engine) Initialize(ctx context.Context) error {
	if !e.cache.IsUsable(ctx) {
		slog.Warn("local cache unusable, running without offline fallback")
	}
	e.loadWorkingFromCache(ctx)

	err := e.remote.Probe(ctx)
	if err == nil {
		err = e.ensureSchemaOnce(ctx)
	}
	if err != nil {
		e.setReachable(false)
		if e.opts.Mode == ModeStrict {
			return fmt.Errorf("%w: %w", tracker.ErrRemoteRequired, err)
		}
		slog.Warn("remote unreachable at startup, serving local cache", "error", err)
		return nil
	}

	e.setReachable(true)
	slog.Info("remote reachable, loading data")
	return e.pull(ctx)
}

// State returns a copy of the sync state.
func (e *Engine) State(ctx context.Context) SyncState {
	e.mu.Lock()
	st := SyncState{Reachable: e.reachable, SchemaReady: e.schemaReady}
	e.mu.Unlock()

	st.LastCleanup, _ = e.cache.LastCleanup(ctx)
	st.Pending = len(e.cache.Pending(ctx))
	return st
}

// Reachable reports whether the remote is currently considered reachable.
func (e *Engine) Reachable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reachable
}

// TestRemoteConnection probes the remote and updates reachability.
func (e *Engine) TestRemoteConnection(ctx context.Context) bool {
	err := e.remote.Probe(ctx)
	if err != nil {
		slog.Debug("remote probe failed", "error", err)
	}
	e.setReachable(err == nil)
	return err == nil
}

// Reconnect probes the remote and, when it answers, provisions the schema,
// sends the pending-sync outbox and re-pulls the full remote state.
func (e *Engine) Reconnect(ctx context.Context) error {
	if err := e.remote.Probe(ctx); err != nil {
		e.setReachable(false)
		return err
	}
	if err := e.ensureSchemaOnce(ctx); err != nil {
		e.noteFailure("ensure schema", err)
		return err
	}
	e.setReachable(true)
	slog.Info("reconnected to remote")

	if err := e.flushPending(ctx); err != nil {
		return err
	}
	return e.pull(ctx)
}

// LastCleanup returns the day of the last automatic cleanup.
func (e *Engine) LastCleanup(ctx context.Context) (tracker.Day, bool) {
	return e.cache.LastCleanup(ctx)
}

// RecordCleanup stores the day of an automatic cleanup.
func (e *Engine) RecordCleanup(ctx context.Context, day tracker.Day) {
	e.cache.SetLastCleanup(ctx, day)
}

func (e *Engine) setReachable(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reachable != ok {
		slog.Info("remote reachability changed", "reachable", ok)
	}
	e.reachable = ok
}

// noteFailure flips to unreachable when err is a remote availability error.
func (e *Engine) noteFailure(op string, err error) {
	if tracker.IsRemote(err) {
		slog.Warn("remote call failed, switching to offline", "op", op, "error", err)
		e.setReachable(false)
		return
	}
	if errors.Is(err, context.Canceled) {
		slog.Debug("remote call abandoned by caller", "op", op)
		return
	}
	slog.Error("remote call failed", "op", op, "error", err)
}

func (e *Engine) ensureSchemaOnce(ctx context.Context) error {
	e.mu.Lock()
	ready := e.schemaReady
	e.mu.Unlock()
	if ready {
		return nil
	}
	if err := e.remote.EnsureSchema(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.schemaReady = true
	e.mu.Unlock()
	return nil
}

// offlineError reports an operation refused because the remote is down.
func offlineError(op string) error {
	return &tracker.RemoteError{Op: op, Err: errOffline}
}

// =============================================================================
// WORKING SET
// =============================================================================

// loadWorkingFromCache replaces the working set with the cache contents.
func (e *Engine) loadWorkingFromCache(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshWorkingLocked(ctx)
}

func (e *Engine) refreshWorkingLocked(ctx context.Context) {
	e.working = e.cache.ReadAll(ctx)
	e.stores = e.cache.ReadStores(ctx)
}

// findWorking looks a delivery up in the in-memory working set.
func (e *Engine) findWorking(id string) (tracker.Delivery, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.working {
		for _, d := range s.Deliveries {
			if d.ID == id {
				return d, true
			}
		}
	}
	return tracker.Delivery{}, false
}

func (e *Engine) findStore(id string) (tracker.Store, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.stores {
		if s.ID == id {
			return s, true
		}
	}
	return tracker.Store{}, false
}

// withoutTombstonesLocked drops deliveries whose delete was confirmed.
func (e *Engine) withoutTombstonesLocked(remote []tracker.Delivery) []tracker.Delivery {
	if len(e.tombstones) == 0 {
		return remote
	}
	out := make([]tracker.Delivery, 0, len(remote))
	for _, d := range remote {
		if _, dead := e.tombstones[d.ID]; !dead {
			out = append(out, d)
		}
	}
	return out
}

// forgetTombstonesLocked forgets tombstones the remote no longer reports.
// When day is empty the remote list covers every day.
func (e *Engine) forgetTombstonesLocked(remote []tracker.Delivery, day tracker.Day) {
	present := make(map[string]struct{}, len(remote))
	for _, d := range remote {
		present[d.ID] = struct{}{}
	}
	for id, tday := range e.tombstones {
		if day != "" && tday != day {
			continue
		}
		if _, ok := present[id]; !ok {
			delete(e.tombstones, id)
		}
	}
}

func (e *Engine) withoutStoreTombstonesLocked(remote []tracker.Store) []tracker.Store {
	present := make(map[string]struct{}, len(remote))
	out := make([]tracker.Store, 0, len(remote))
	for _, s := range remote {
		present[s.ID] = struct{}{}
		if _, dead := e.storeTombstones[s.ID]; !dead {
			out = append(out, s)
		}
	}
	for id := range e.storeTombstones {
		if _, ok := present[id]; !ok {
			delete(e.storeTombstones, id)
		}
	}
	return out
}

func (e *Engine) publish(ctx context.Context, typ, id string, day tracker.Day) {
	ev := changefeed.Event{Type: typ, ID: id, Day: day, At: e.opts.Now().UTC()}
	if err := e.opts.Publisher.Publish(ctx, ev); err != nil {
		slog.Warn("change event not published", "type", typ, "id", id, "error", err)
	}
}
