package cleanup_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/delivery-tracker/cache"
	"github.com/warp/delivery-tracker/cleanup"
	"github.com/warp/delivery-tracker/engine"
	"github.com/warp/delivery-tracker/remote"
	"github.com/warp/delivery-tracker/tracker"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const today = tracker.Day("2024-01-10")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(hour, minute int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(2024, 1, 10, hour, minute, 0, 0, time.UTC)
}

type fixture struct {
	mem   *remote.Memory
	cache *cache.Cache
	eng   *engine.Engine
	clock *clock
	svc   *cleanup.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:   remote.NewMemory(),
		cache: cache.New(cache.NewMemory()),
		clock: &clock{},
	}
	f.clock.Set(10, 0)
	f.eng = engine.New(f.mem, f.cache, engine.Options{
		Location: time.UTC,
		Now:      f.clock.Now,
		IDs:      tracker.NewSequenceGenerator("d"),
	})
	require.NoError(t, f.eng.Initialize(context.Background()))
	f.svc = cleanup.New(f.eng, cleanup.DefaultHour)
	return f
}

// seed adds one delivery per status to today's partition.
func (f *fixture) seed(t *testing.T, statuses ...tracker.DeliveryStatus) []tracker.Delivery {
	t.Helper()
	var out []tracker.Delivery
	for _, st := range statuses {
		d, err := f.eng.AddDelivery(context.Background(), tracker.DeliveryInput{
			StoreID:        "store-1",
			StoreName:      "Corner Shop",
			Date:           today,
			DeliveryStatus: st,
			OrderPrice:     decimal.NewFromInt(10),
			PaymentStatus:  tracker.PaymentStatus{Total: decimal.NewFromInt(10), Paid: decimal.NewFromInt(10)},
		})
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

// =============================================================================
// PURGE
// =============================================================================

func TestPurge_RemovesDeliveredAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN: three records, two delivered
	f.seed(t, tracker.StatusDelivered, tracker.StatusPendingPickup, tracker.StatusDelivered)

	// WHEN: purged
	res, err := f.svc.Purge(ctx, today)

	// THEN: two removed, one remaining
	require.NoError(t, err)
	assert.Equal(t, cleanup.Result{Removed: 2, Remaining: 1}, res)

	day, err := f.mem.ListDeliveriesByDate(ctx, today)
	require.NoError(t, err)
	assert.Len(t, day, 1)
	assert.Len(t, f.cache.ReadDay(ctx, today), 1)

	// AND: a second purge removes nothing
	res, err = f.svc.Purge(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, cleanup.Result{Removed: 0, Remaining: 1}, res)
}

func TestPurge_SkipsRecordsThatFailToDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seeded := f.seed(t, tracker.StatusDelivered, tracker.StatusDelivered, tracker.StatusPickedUp)
	f.mem.Linger(seeded[0].ID)

	res, err := f.svc.Purge(ctx, today)

	require.NoError(t, err)
	assert.Equal(t, cleanup.Result{Removed: 1, Remaining: 2, Failed: 1}, res)
}

func TestPurge_OtherDaysUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, tracker.StatusDelivered)

	res, err := f.svc.Purge(ctx, today.AddDays(-1))

	require.NoError(t, err)
	assert.Equal(t, cleanup.Result{}, res)
	assert.Len(t, f.cache.ReadDay(ctx, today), 1)
}

// =============================================================================
// AUTOMATIC AND MANUAL RUNS
// =============================================================================

func TestRetentionWindow(t *testing.T) {
	f := newFixture(t)

	f.clock.Set(22, 59)
	assert.False(t, f.svc.IsRetentionWindowOpen())

	f.clock.Set(23, 0)
	assert.True(t, f.svc.IsRetentionWindowOpen())
}

func TestRunAuto_OncePerDayAfterWindowOpens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, tracker.StatusDelivered, tracker.StatusPendingPickup)

	// GIVEN: the window is closed
	_, ran, err := f.svc.RunAuto(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	// WHEN: the window opens
	f.clock.Set(23, 5)
	res, ran, err := f.svc.RunAuto(ctx)

	// THEN: today is purged and recorded
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, cleanup.Result{Removed: 1, Remaining: 1}, res)
	last, ok := f.eng.LastCleanup(ctx)
	require.True(t, ok)
	assert.Equal(t, today, last)

	// AND: it does not run twice
	_, ran, err = f.svc.RunAuto(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestRunAuto_OfflineLeavesDayOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, tracker.StatusDelivered)

	// GIVEN: the window is open but the remote went away
	f.clock.Set(23, 5)
	f.mem.SetOffline(true)
	require.False(t, f.eng.TestRemoteConnection(ctx))

	// WHEN: the automatic check runs
	_, ran, err := f.svc.RunAuto(ctx)

	// THEN: nothing is purged and the day is not recorded
	require.NoError(t, err)
	assert.False(t, ran)
	_, ok := f.eng.LastCleanup(ctx)
	assert.False(t, ok)
	assert.True(t, f.svc.ShouldRun(ctx))

	// AND: once the remote is back the next check purges the day
	f.mem.SetOffline(false)
	require.NoError(t, f.eng.Reconnect(ctx))
	res, ran, err := f.svc.RunAuto(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, res.Removed)
	last, ok := f.eng.LastCleanup(ctx)
	require.True(t, ok)
	assert.Equal(t, today, last)
}

func TestRunAuto_FailedDeleteLeavesDayOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seeded := f.seed(t, tracker.StatusDelivered, tracker.StatusDelivered)
	f.mem.Linger(seeded[0].ID)
	f.clock.Set(23, 5)

	res, ran, err := f.svc.RunAuto(ctx)

	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, cleanup.Result{Removed: 1, Remaining: 1, Failed: 1}, res)
	_, ok := f.eng.LastCleanup(ctx)
	assert.False(t, ok)
	assert.True(t, f.svc.ShouldRun(ctx))
}

func TestForce_DoesNotRecordDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, tracker.StatusDelivered)

	res, err := f.svc.Force(ctx, today)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	_, ok := f.eng.LastCleanup(ctx)
	assert.False(t, ok)
	assert.True(t, f.svc.ShouldRun(ctx))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	st := f.svc.Status(ctx)
	assert.True(t, st.ShouldRun)
	assert.False(t, st.IsCleanupTime)
	assert.Equal(t, time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC), st.NextAutoCleanup)

	f.clock.Set(23, 30)
	_, _, err := f.svc.RunAuto(ctx)
	require.NoError(t, err)

	st = f.svc.Status(ctx)
	assert.False(t, st.ShouldRun)
	assert.True(t, st.IsCleanupTime)
	assert.Equal(t, today, st.LastCleanup)
	assert.Equal(t, time.Date(2024, 1, 11, 23, 0, 0, 0, time.UTC), st.NextAutoCleanup)
}

func TestNew_InvalidHourUsesDefault(t *testing.T) {
	f := newFixture(t)
	svc := cleanup.New(f.eng, 42)

	f.clock.Set(22, 0)
	assert.False(t, svc.IsRetentionWindowOpen())
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestScheduler_ChecksOnStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, tracker.StatusDelivered)
	f.clock.Set(23, 10)

	s := cleanup.NewScheduler(f.svc)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		_, ok := f.eng.LastCleanup(ctx)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.cache.ReadDay(ctx, today))
}

func TestScheduler_Disabled(t *testing.T) {
	f := newFixture(t)
	s := cleanup.NewScheduler(f.svc)
	s.Enabled = false

	s.Start()
	s.Stop()
}
