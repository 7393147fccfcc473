package tracker_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/delivery-tracker/tracker"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func delivery(id string, day tracker.Day, status tracker.DeliveryStatus) tracker.Delivery {
	return tracker.Delivery{
		ID:             id,
		StoreID:        "store-1",
		StoreName:      "Corner Shop",
		Date:           day,
		CustomerName:   "Customer " + id,
		DeliveryStatus: status,
		OrderPrice:     money("10"),
		PaymentStatus: tracker.PaymentStatus{
			Total:   money("10"),
			Paid:    money("4"),
			Pending: money("6"),
			Overdue: money("1.5"),
		},
		Bills: 1,
	}
}

// =============================================================================
// MERGE TESTS
// =============================================================================

func TestMerge_RemoteWinsLocalOnlySurvives(t *testing.T) {
	// GIVEN: local holds a (pending) and b; remote holds a (delivered)
	day := tracker.Day("2024-01-10")
	local := []tracker.Delivery{
		delivery("a", day, tracker.StatusPendingPickup),
		delivery("b", day, tracker.StatusPendingPickup),
	}
	remote := []tracker.Delivery{
		delivery("a", day, tracker.StatusDelivered),
	}

	// WHEN: merging
	merged := tracker.Merge(remote, local)

	// THEN: a comes from remote, b from local, count 2
	require.Len(t, merged, 2)
	byID := tracker.IndexByID(merged)
	assert.Equal(t, tracker.StatusDelivered, byID["a"].DeliveryStatus)
	assert.Equal(t, local[1], byID["b"])
}

func TestMerge_Idempotent(t *testing.T) {
	day := tracker.Day("2024-01-10")
	remote := []tracker.Delivery{
		delivery("a", day, tracker.StatusDelivered),
		delivery("c", day, tracker.StatusPickedUp),
	}
	local := []tracker.Delivery{
		delivery("a", day, tracker.StatusPendingPickup),
		delivery("b", day, tracker.StatusPendingPickup),
		delivery("d", day, tracker.StatusPickedUp),
	}

	once := tracker.Merge(remote, local)
	twice := tracker.Merge(remote, once)

	assert.Equal(t, once, twice)
}

func TestMerge_RemotePrecedenceForSharedIDs(t *testing.T) {
	day := tracker.Day("2024-01-10")
	r := delivery("a", day, tracker.StatusDelivered)
	r.CustomerName = "remote name"
	l := delivery("a", day, tracker.StatusPendingPickup)
	l.CustomerName = "local edit"

	merged := tracker.Merge([]tracker.Delivery{r}, []tracker.Delivery{l})

	require.Len(t, merged, 1)
	assert.Equal(t, r, merged[0], "no field of the local edit may survive")
}

func TestMerge_EmptyRemoteKeepsAllLocal(t *testing.T) {
	day := tracker.Day("2024-01-10")
	local := []tracker.Delivery{delivery("x", day, tracker.StatusPendingPickup)}

	merged := tracker.Merge(nil, local)

	assert.Equal(t, local, merged)
}

func TestLocalOnly(t *testing.T) {
	day := tracker.Day("2024-01-10")
	remote := []tracker.Delivery{delivery("a", day, tracker.StatusDelivered)}
	local := []tracker.Delivery{
		delivery("a", day, tracker.StatusPendingPickup),
		delivery("b", day, tracker.StatusPendingPickup),
	}

	only := tracker.LocalOnly(remote, local)

	require.Len(t, only, 1)
	assert.Equal(t, "b", only[0].ID)
}

// =============================================================================
// AGGREGATION TESTS
// =============================================================================

func TestSummarize(t *testing.T) {
	day := tracker.Day("2024-01-10")
	d1 := delivery("a", day, tracker.StatusDelivered)
	d2 := delivery("b", day, tracker.StatusPendingPickup)
	d3 := delivery("c", day, tracker.StatusPickedUp)
	d3.StoreID = "store-2"

	sum := tracker.Summarize([]tracker.Delivery{d1, d2, d3})

	assert.Equal(t, 2, sum.TotalStores)
	assert.Equal(t, 3, sum.TotalDeliveries)
	assert.Equal(t, 1, sum.TotalDelivered)
	assert.Equal(t, 2, sum.TotalPending)
	assert.Equal(t, 3, sum.TotalBills)
	assert.True(t, sum.TotalRevenue.Equal(money("30")))
	assert.True(t, sum.TotalPaid.Equal(money("12")))
	assert.True(t, sum.TotalOutstanding.Equal(money("22.5")))
}

func TestSummarize_Empty(t *testing.T) {
	sum := tracker.Summarize(nil)

	assert.Equal(t, 0, sum.TotalDeliveries)
	assert.True(t, sum.TotalRevenue.IsZero())
}

func TestGroupByDay_NewestFirst(t *testing.T) {
	deliveries := []tracker.Delivery{
		delivery("a", "2024-01-09", tracker.StatusDelivered),
		delivery("b", "2024-01-11", tracker.StatusPendingPickup),
		delivery("c", "2024-01-09", tracker.StatusPendingPickup),
	}

	snaps := tracker.GroupByDay(deliveries)

	require.Len(t, snaps, 2)
	assert.Equal(t, tracker.Day("2024-01-11"), snaps[0].Date)
	assert.Equal(t, tracker.Day("2024-01-09"), snaps[1].Date)
	assert.Equal(t, 2, snaps[1].Summary.TotalDeliveries)
	assert.Equal(t, "a", snaps[1].Deliveries[0].ID)
}

func TestSlice_Windows(t *testing.T) {
	var deliveries []tracker.Delivery
	start := tracker.Day("2024-01-01")
	for i := 0; i < 40; i++ {
		deliveries = append(deliveries, delivery(string(rune('a'+i%26))+start.AddDays(i).String(), start.AddDays(i), tracker.StatusPendingPickup))
	}
	snaps := tracker.GroupByDay(deliveries)
	today := start.AddDays(39)

	daily := tracker.Slice(snaps, tracker.WindowDaily, today)
	weekly := tracker.Slice(snaps, tracker.WindowWeekly, today)
	monthly := tracker.Slice(snaps, tracker.WindowMonthly, today)

	require.Len(t, daily, 1)
	assert.Equal(t, today, daily[0].Date)
	assert.Len(t, weekly, 7)
	assert.Len(t, monthly, 30)
}

func TestSlice_DailyCreatesEmptyToday(t *testing.T) {
	snaps := tracker.GroupByDay([]tracker.Delivery{delivery("a", "2024-01-09", tracker.StatusDelivered)})

	daily := tracker.Slice(snaps, tracker.WindowDaily, "2024-01-10")

	require.Len(t, daily, 1)
	assert.Equal(t, tracker.Day("2024-01-10"), daily[0].Date)
	assert.Empty(t, daily[0].Deliveries)
	assert.NotNil(t, daily[0].Deliveries)
}

func TestParseWindow(t *testing.T) {
	w, err := tracker.ParseWindow("")
	require.NoError(t, err)
	assert.Equal(t, tracker.WindowDaily, w)

	w, err = tracker.ParseWindow("monthly")
	require.NoError(t, err)
	assert.Equal(t, 30, w.Days())

	_, err = tracker.ParseWindow("yearly")
	assert.ErrorIs(t, err, tracker.ErrInvalidRecord)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestNewDelivery_DefaultsStatus(t *testing.T) {
	d, err := tracker.NewDelivery("id-1", tracker.DeliveryInput{
		StoreID: "s", StoreName: "S", Date: "2024-01-10",
		PaymentStatus: tracker.PaymentStatus{Total: money("5"), Paid: money("5")},
	})

	require.NoError(t, err)
	assert.Equal(t, tracker.StatusPendingPickup, d.DeliveryStatus)
}

func TestNewDelivery_RejectsInconsistentPayment(t *testing.T) {
	_, err := tracker.NewDelivery("id-1", tracker.DeliveryInput{
		Date: "2024-01-10",
		PaymentStatus: tracker.PaymentStatus{
			Total: money("10"), Paid: money("3"), Pending: money("3"),
		},
	})

	var vErr *tracker.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "paymentStatus.total", vErr.Field)
	assert.True(t, tracker.IsClientError(err))
}

func TestDelivery_ValidateRejects(t *testing.T) {
	base := delivery("a", "2024-01-10", tracker.StatusPendingPickup)
	base.PaymentStatus = tracker.PaymentStatus{Total: money("10"), Paid: money("10")}
	require.NoError(t, base.Validate())

	cases := map[string]func(d *tracker.Delivery){
		"bad date":       func(d *tracker.Delivery) { d.Date = "10/01/2024" },
		"bad status":     func(d *tracker.Delivery) { d.DeliveryStatus = "lost" },
		"negative price": func(d *tracker.Delivery) { d.OrderPrice = money("-1") },
		"negative paid": func(d *tracker.Delivery) {
			d.PaymentStatus = tracker.PaymentStatus{Total: money("0"), Paid: money("-1"), Pending: money("1")}
		},
		"missing id": func(d *tracker.Delivery) { d.ID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := base
			mutate(&d)
			assert.ErrorIs(t, d.Validate(), tracker.ErrInvalidRecord)
		})
	}
}

func TestStore_Validate(t *testing.T) {
	_, err := tracker.NewStore("s-1", tracker.StoreInput{Name: "  "})
	assert.ErrorIs(t, err, tracker.ErrInvalidRecord)

	neg := money("-2")
	_, err = tracker.NewStore("s-1", tracker.StoreInput{Name: "Shop", PricePerOrder: &neg})
	assert.ErrorIs(t, err, tracker.ErrInvalidRecord)

	s, err := tracker.NewStore("s-1", tracker.StoreInput{Name: "Shop"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", s.ID)
}

func TestPatches(t *testing.T) {
	d := delivery("a", "2024-01-10", tracker.StatusPendingPickup)
	status := tracker.StatusDelivered
	notes := "left at door"

	patched := tracker.DeliveryPatch{DeliveryStatus: &status, Notes: &notes}.Apply(d)

	assert.Equal(t, tracker.StatusDelivered, patched.DeliveryStatus)
	assert.Equal(t, notes, patched.Notes)
	assert.Equal(t, d.CustomerName, patched.CustomerName)
	assert.Equal(t, tracker.StatusPendingPickup, d.DeliveryStatus, "original untouched")

	name := "Renamed"
	s := tracker.StorePatch{Name: &name}.Apply(tracker.Store{ID: "s", Name: "Old"})
	assert.Equal(t, "Renamed", s.Name)
}

// =============================================================================
// DAY AND ID TESTS
// =============================================================================

func TestDay(t *testing.T) {
	d, err := tracker.ParseDay("2024-02-28")
	require.NoError(t, err)
	assert.Equal(t, tracker.Day("2024-03-01"), d.AddDays(2))
	assert.True(t, d.Valid())

	_, err = tracker.ParseDay("2024-13-01")
	assert.Error(t, err)
}

func TestIDGenerators(t *testing.T) {
	seq := tracker.NewSequenceGenerator("d")
	assert.Equal(t, "d-1", seq.NewID())
	assert.Equal(t, "d-2", seq.NewID())

	var gen tracker.UUIDGenerator
	a, b := gen.NewID(), gen.NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestErrorTaxonomy(t *testing.T) {
	remoteErr := &tracker.RemoteError{Op: "probe", Err: assert.AnError}
	assert.True(t, tracker.IsRemote(remoteErr))
	assert.ErrorIs(t, remoteErr, assert.AnError)

	pending := &tracker.PendingSyncError{Kind: "delivery", ID: "x"}
	assert.ErrorIs(t, pending, tracker.ErrNotSynced)
	assert.True(t, tracker.IsRemote(pending))

	nf := &tracker.NotFoundError{Kind: "delivery", ID: "x"}
	assert.True(t, tracker.IsNotFound(nf))
	assert.Contains(t, nf.Error(), "may have been deleted")

	ver := &tracker.VerificationError{Kind: "delivery", ID: "x", Day: "2024-01-10"}
	assert.ErrorIs(t, ver, tracker.ErrVerificationFailed)
}
