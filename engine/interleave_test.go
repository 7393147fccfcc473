package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/delivery-tracker/cache"
	"github.com/warp/delivery-tracker/engine"
	"github.com/warp/delivery-tracker/remote"
	"github.com/warp/delivery-tracker/tracker"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// hookedRemote runs a callback in the middle of a remote call, standing in
// for a refresh or user action that interleaves with it. Hooks fire once.
type hookedRemote struct {
	*remote.Memory

	mu         sync.Mutex
	duringSave func()
	afterList  func()
	failSaves  bool
}

func (r *hookedRemote) take(hook *func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn := *hook
	*hook = nil
	return fn
}

func (r *hookedRemote) saveFails() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failSaves
}

func (r *hookedRemote) setSaveFails(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSaves = fail
}

func (r *hookedRemote) SaveDelivery(ctx context.Context, d tracker.Delivery) error {
	if fn := r.take(&r.duringSave); fn != nil {
		fn()
	}
	if r.saveFails() {
		return &tracker.RemoteError{Op: "save delivery", Err: errors.New("connection reset")}
	}
	return r.Memory.SaveDelivery(ctx, d)
}

func (r *hookedRemote) SaveStore(ctx context.Context, s tracker.Store) error {
	if fn := r.take(&r.duringSave); fn != nil {
		fn()
	}
	if r.saveFails() {
		return &tracker.RemoteError{Op: "save store", Err: errors.New("connection reset")}
	}
	return r.Memory.SaveStore(ctx, s)
}

func (r *hookedRemote) ListDeliveriesByDate(ctx context.Context, day tracker.Day) ([]tracker.Delivery, error) {
	out, err := r.Memory.ListDeliveriesByDate(ctx, day)
	if fn := r.take(&r.afterList); fn != nil {
		fn()
	}
	return out, err
}

func (r *hookedRemote) ListDeliveries(ctx context.Context) ([]tracker.Delivery, error) {
	out, err := r.Memory.ListDeliveries(ctx)
	if fn := r.take(&r.afterList); fn != nil {
		fn()
	}
	return out, err
}

func newHooked(t *testing.T) (*hookedRemote, *cache.Cache, *engine.Engine) {
	t.Helper()
	r := &hookedRemote{Memory: remote.NewMemory()}
	c := cache.New(cache.NewMemory())
	eng := engine.New(r, c, engine.Options{
		Mode:     engine.ModeStrict,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
		IDs:      tracker.NewSequenceGenerator("d"),
	})
	require.NoError(t, eng.Initialize(context.Background()))
	return r, c, eng
}

// =============================================================================
// WRITES INTERLEAVED WITH READS
// =============================================================================

func TestAddDelivery_ReadDuringFailingSaveKeepsRecord(t *testing.T) {
	ctx := context.Background()
	r, c, eng := newHooked(t)

	// GIVEN: a full read runs while the remote save is in flight, and the
	// save then fails
	r.duringSave = func() {
		_, err := eng.GetDailyData(ctx)
		assert.NoError(t, err)
	}
	r.setSaveFails(true)

	// WHEN: a delivery is added
	d, err := eng.AddDelivery(ctx, input(today, "Ada"))

	// THEN: it is kept locally and queued
	assert.ErrorIs(t, err, tracker.ErrNotSynced)
	assert.Equal(t, []string{d.ID}, ids(c.ReadDay(ctx, today)))
	require.Len(t, c.Pending(ctx), 1)
	assert.Equal(t, d.ID, c.Pending(ctx)[0].ID)

	// AND: it reaches the remote on reconnect
	r.setSaveFails(false)
	require.NoError(t, eng.Reconnect(ctx))
	onRemote, err := r.Memory.ListDeliveriesByDate(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, []string{d.ID}, ids(onRemote))
	assert.Empty(t, c.Pending(ctx))
}

func TestAddDelivery_ReadDuringSuccessfulSave(t *testing.T) {
	ctx := context.Background()
	r, c, eng := newHooked(t)
	r.duringSave = func() {
		_, err := eng.GetDailyData(ctx)
		assert.NoError(t, err)
	}

	d, err := eng.AddDelivery(ctx, input(today, "Ada"))

	require.NoError(t, err)
	assert.Equal(t, []string{d.ID}, ids(c.ReadDay(ctx, today)))
	assert.Empty(t, c.Pending(ctx))
}

func TestUpdateDelivery_ReadDuringFailingSaveYieldsToRemote(t *testing.T) {
	ctx := context.Background()
	r, c, eng := newHooked(t)
	d, err := eng.AddDelivery(ctx, input(today, "Ada"))
	require.NoError(t, err)

	// GIVEN: a full read runs while the save of an edit is in flight, and
	// the save then fails
	r.duringSave = func() {
		_, err := eng.GetDailyData(ctx)
		assert.NoError(t, err)
	}
	r.setSaveFails(true)
	delivered := tracker.StatusDelivered

	// WHEN: the record is edited
	_, err = eng.UpdateDelivery(ctx, d.ID, tracker.DeliveryPatch{DeliveryStatus: &delivered})

	// THEN: the remote copy the read saw wins and nothing is left to send
	assert.ErrorIs(t, err, tracker.ErrNotSynced)
	day := c.ReadDay(ctx, today)
	require.Len(t, day, 1)
	assert.Equal(t, tracker.StatusPendingPickup, day[0].DeliveryStatus)
	assert.Empty(t, c.Pending(ctx))
}

func TestAddStore_ReadDuringFailingSaveKeepsRecord(t *testing.T) {
	ctx := context.Background()
	r, c, eng := newHooked(t)
	r.duringSave = func() {
		_, err := eng.GetStores(ctx)
		assert.NoError(t, err)
	}
	r.setSaveFails(true)

	s, err := eng.AddStore(ctx, tracker.StoreInput{Name: "Corner Shop"})

	assert.ErrorIs(t, err, tracker.ErrNotSynced)
	stores := c.ReadStores(ctx)
	require.Len(t, stores, 1)
	assert.Equal(t, s.ID, stores[0].ID)
	assert.Len(t, c.Pending(ctx), 1)
}

// =============================================================================
// DELETES INTERLEAVED WITH REFRESH
// =============================================================================

func TestReconcile_StaleReadDoesNotResurrectDeletedRecord(t *testing.T) {
	ctx := context.Background()
	r, c, eng := newHooked(t)
	d, err := eng.AddDelivery(ctx, input(today, "Ada"))
	require.NoError(t, err)

	// GIVEN: the delete completes after the reconcile read the remote
	r.afterList = func() {
		require.NoError(t, eng.DeleteDelivery(ctx, d.ID))
	}

	// WHEN: the reconcile applies what it read
	merged, err := eng.Reconcile(ctx, today)

	// THEN: the deleted record stays deleted
	require.NoError(t, err)
	assert.Empty(t, merged)
	assert.Empty(t, c.ReadDay(ctx, today))

	// AND: a fresh reconcile agrees
	merged, err = eng.Reconcile(ctx, today)
	require.NoError(t, err)
	assert.Empty(t, merged)
}

func TestGetDailyData_StaleReadDoesNotResurrectDeletedRecord(t *testing.T) {
	ctx := context.Background()
	r, c, eng := newHooked(t)
	d, err := eng.AddDelivery(ctx, input(today, "Ada"))
	require.NoError(t, err)
	kept, err := eng.AddDelivery(ctx, input(today, "Grace"))
	require.NoError(t, err)

	r.afterList = func() {
		require.NoError(t, eng.DeleteDelivery(ctx, d.ID))
	}

	data, err := eng.GetDailyData(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, ids(tracker.Flatten(data)))
	assert.Equal(t, []string{kept.ID}, ids(c.ReadDay(ctx, today)))
}

// =============================================================================
// REMOTE PRECEDENCE OVER THE OUTBOX
// =============================================================================

func TestReconcile_RemoteCopyWinsOverPendingEdit(t *testing.T) {
	ctx := context.Background()
	h := started(t)

	// GIVEN: the remote holds a record whose local edit is in the outbox
	require.NoError(t, h.mem.SaveDelivery(ctx, record("a", today, tracker.StatusPendingPickup)))
	h.cache.UpsertDayDelivery(ctx, today, record("a", today, tracker.StatusDelivered))
	h.cache.MarkPending(ctx, cache.PendingWrite{Kind: cache.KindDelivery, ID: "a", Day: today})

	// WHEN: the day is reconciled
	merged, err := h.eng.Reconcile(ctx, today)

	// THEN: the remote version is kept and the local edit is dropped
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, tracker.StatusPendingPickup, merged[0].DeliveryStatus)
	assert.Empty(t, h.cache.Pending(ctx))
}

func TestReconcile_PendingEditMovedDayYieldsToRemote(t *testing.T) {
	ctx := context.Background()
	h := started(t)
	tomorrow := today.AddDays(1)

	// GIVEN: a pending local edit moved a remote record to another day
	require.NoError(t, h.mem.SaveDelivery(ctx, record("a", today, tracker.StatusPendingPickup)))
	h.cache.UpsertDayDelivery(ctx, tomorrow, record("a", tomorrow, tracker.StatusPendingPickup))
	h.cache.MarkPending(ctx, cache.PendingWrite{Kind: cache.KindDelivery, ID: "a", Day: tomorrow})

	// WHEN: the remote day is reconciled
	merged, err := h.eng.Reconcile(ctx, today)

	// THEN: the record is back on its remote day only
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(merged))
	assert.Empty(t, h.cache.ReadDay(ctx, tomorrow))
	assert.Empty(t, h.cache.Pending(ctx))
}

func TestRefresh_OtherDeviceEditBeatsOfflineEdit(t *testing.T) {
	ctx := context.Background()
	h := started(t)
	d, err := h.eng.AddDelivery(ctx, input(today, "Ada"))
	require.NoError(t, err)

	// GIVEN: another device picked the delivery up
	elsewhere := d
	elsewhere.DeliveryStatus = tracker.StatusPickedUp
	require.NoError(t, h.mem.SaveDelivery(ctx, elsewhere))

	// AND: an edit made here while offline is waiting in the outbox
	h.mem.SetOffline(true)
	require.False(t, h.eng.TestRemoteConnection(ctx))
	delivered := tracker.StatusDelivered
	_, err = h.eng.UpdateDelivery(ctx, d.ID, tracker.DeliveryPatch{DeliveryStatus: &delivered})
	require.ErrorIs(t, err, tracker.ErrNotSynced)
	require.Equal(t, 1, h.eng.State(ctx).Pending)

	// WHEN: the remote comes back and today is reconciled
	h.mem.SetOffline(false)
	require.True(t, h.eng.TestRemoteConnection(ctx))
	merged, err := h.eng.Reconcile(ctx, today)

	// THEN: the other device's version wins
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, tracker.StatusPickedUp, merged[0].DeliveryStatus)
	assert.Zero(t, h.eng.State(ctx).Pending)

	// AND: the next refresh does not write the offline edit back
	h.mem.ResetCalls()
	require.NoError(t, h.eng.Refresh(ctx))
	assert.Zero(t, h.mem.Calls(remote.OpSaveDelivery))
	onRemote, err := h.mem.ListDeliveriesByDate(ctx, today)
	require.NoError(t, err)
	require.Len(t, onRemote, 1)
	assert.Equal(t, tracker.StatusPickedUp, onRemote[0].DeliveryStatus)
	cached := h.cache.ReadDay(ctx, today)
	require.Len(t, cached, 1)
	assert.Equal(t, tracker.StatusPickedUp, cached[0].DeliveryStatus)
}

func TestRefresh_FlushSendsOnlyRecordsTheRemoteLacks(t *testing.T) {
	ctx := context.Background()
	h := started(t)
	yesterday := today.AddDays(-1)
	old, err := h.eng.AddDelivery(ctx, input(yesterday, "Ada"))
	require.NoError(t, err)

	// GIVEN: while offline, a remote record on another day is edited and a
	// new record is added
	h.mem.SetOffline(true)
	require.False(t, h.eng.TestRemoteConnection(ctx))
	delivered := tracker.StatusDelivered
	_, err = h.eng.UpdateDelivery(ctx, old.ID, tracker.DeliveryPatch{DeliveryStatus: &delivered})
	require.ErrorIs(t, err, tracker.ErrNotSynced)
	fresh, err := h.eng.AddDelivery(ctx, input(today, "Grace"))
	require.ErrorIs(t, err, tracker.ErrNotSynced)

	h.mem.SetOffline(false)
	require.True(t, h.eng.TestRemoteConnection(ctx))
	h.mem.ResetCalls()

	// WHEN: a refresh runs, which only reconciles today
	require.NoError(t, h.eng.Refresh(ctx))

	// THEN: only the new record was sent
	assert.Equal(t, 1, h.mem.Calls(remote.OpSaveDelivery))
	onRemote, err := h.mem.ListDeliveriesByDate(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, ids(onRemote))

	// AND: the edited record matches the remote again, here and there
	onRemote, err = h.mem.ListDeliveriesByDate(ctx, yesterday)
	require.NoError(t, err)
	require.Len(t, onRemote, 1)
	assert.Equal(t, tracker.StatusPendingPickup, onRemote[0].DeliveryStatus)
	cached := h.cache.ReadDay(ctx, yesterday)
	require.Len(t, cached, 1)
	assert.Equal(t, tracker.StatusPendingPickup, cached[0].DeliveryStatus)
	assert.Empty(t, h.cache.Pending(ctx))
}

func TestGetStores_OtherDeviceRenameBeatsOfflineRename(t *testing.T) {
	ctx := context.Background()
	h := started(t)
	s, err := h.eng.AddStore(ctx, tracker.StoreInput{Name: "Corner Shop"})
	require.NoError(t, err)

	// GIVEN: another device renamed the store
	elsewhere := s
	elsewhere.Name = "Corner Shop Annex"
	require.NoError(t, h.mem.SaveStore(ctx, elsewhere))

	// AND: a rename made here while offline is waiting in the outbox
	h.mem.SetOffline(true)
	require.False(t, h.eng.TestRemoteConnection(ctx))
	local := "Local Name"
	_, err = h.eng.UpdateStore(ctx, s.ID, tracker.StorePatch{Name: &local})
	require.ErrorIs(t, err, tracker.ErrNotSynced)

	// WHEN: the remote comes back and the store list is read
	h.mem.SetOffline(false)
	require.True(t, h.eng.TestRemoteConnection(ctx))
	stores, err := h.eng.GetStores(ctx)

	// THEN: the remote name wins
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, "Corner Shop Annex", stores[0].Name)
	assert.Empty(t, h.cache.Pending(ctx))

	// AND: a refresh leaves the remote alone
	h.mem.ResetCalls()
	require.NoError(t, h.eng.Refresh(ctx))
	assert.Zero(t, h.mem.Calls(remote.OpSaveStore))
	onRemote, err := h.mem.ListStores(ctx)
	require.NoError(t, err)
	require.Len(t, onRemote, 1)
	assert.Equal(t, "Corner Shop Annex", onRemote[0].Name)
}

// =============================================================================
// CALLER CANCELLATION
// =============================================================================

func newSQLEngine(t *testing.T) (*remote.SQL, *engine.Engine) {
	t.Helper()
	client, err := remote.Open(remote.DriverSQLite, ":memory:", 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	eng := engine.New(client, cache.New(cache.NewMemory()), engine.Options{
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
		IDs:      tracker.NewSequenceGenerator("d"),
	})
	require.NoError(t, eng.Initialize(context.Background()))
	return client, eng
}

func TestAddDelivery_CompletesAfterCallerCancels(t *testing.T) {
	client, eng := newSQLEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := eng.AddDelivery(ctx, input(today, "Ada"))

	require.NoError(t, err)
	assert.True(t, eng.Reachable())
	onRemote, err := client.ListDeliveriesByDate(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, []string{d.ID}, ids(onRemote))
}

func TestDeleteDelivery_CompletesAfterCallerCancels(t *testing.T) {
	client, eng := newSQLEngine(t)
	d, err := eng.AddDelivery(context.Background(), input(today, "Ada"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, eng.DeleteDelivery(ctx, d.ID))

	assert.True(t, eng.Reachable())
	onRemote, err := client.ListDeliveriesByDate(context.Background(), today)
	require.NoError(t, err)
	assert.Empty(t, onRemote)
}

func TestGetDailyData_CallerCancelDoesNotGoOffline(t *testing.T) {
	_, eng := newSQLEngine(t)
	_, err := eng.AddDelivery(context.Background(), input(today, "Ada"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data, err := eng.GetDailyData(ctx)

	require.NoError(t, err)
	assert.True(t, eng.Reachable())
	assert.Len(t, tracker.Flatten(data), 1)
}

// =============================================================================
// BATCH ADD
// =============================================================================

func TestAddDeliveries_ReportsEachRecord(t *testing.T) {
	ctx := context.Background()
	h := started(t)
	bad := input(today, "Bad")
	bad.Date = "10/01/2024"

	results := h.eng.AddDeliveries(ctx, []tracker.DeliveryInput{
		input(today, "Ada"),
		bad,
		input(today, "Grace"),
	})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.True(t, tracker.IsClientError(results[1].Err))
	assert.NoError(t, results[2].Err)
	assert.Equal(t, []string{results[0].Delivery.ID, results[2].Delivery.ID}, ids(h.cache.ReadDay(ctx, today)))
	assert.Equal(t, 2, h.mem.Calls(remote.OpSaveDelivery))
}
