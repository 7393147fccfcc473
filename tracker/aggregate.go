package tracker

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGGREGATION - pure derivation of DailySnapshot from deliveries
// =============================================================================

// Summarize derives the DailyAggregate of a set of deliveries.
//
// Counts are per record: every delivery is one order. TotalStores counts
// distinct store ids. Outstanding is pending plus overdue.
func Summarize(deliveries []Delivery) Summary {
	sum := Summary{
		TotalRevenue:     decimal.Zero,
		TotalPaid:        decimal.Zero,
		TotalOutstanding: decimal.Zero,
	}
	stores := make(map[string]struct{})
	for _, d := range deliveries {
		stores[d.StoreID] = struct{}{}
		sum.TotalDeliveries++
		if d.DeliveryStatus == StatusDelivered {
			sum.TotalDelivered++
		} else {
			sum.TotalPending++
		}
		sum.TotalBills += d.Bills
		sum.TotalRevenue = sum.TotalRevenue.Add(d.PaymentStatus.Total)
		sum.TotalPaid = sum.TotalPaid.Add(d.PaymentStatus.Paid)
		sum.TotalOutstanding = sum.TotalOutstanding.Add(d.PaymentStatus.Outstanding())
	}
	sum.TotalStores = len(stores)
	return sum
}

// NewSnapshot builds the snapshot of one day. A nil slice becomes empty so
// that serialized snapshots always carry a list.
func NewSnapshot(day Day, deliveries []Delivery) DailySnapshot {
	if deliveries == nil {
		deliveries = []Delivery{}
	}
	return DailySnapshot{
		Date:       day,
		Deliveries: deliveries,
		Summary:    Summarize(deliveries),
	}
}

// GroupByDay partitions deliveries by Date and returns one snapshot per day,
// newest day first. Order within a day is preserved.
func GroupByDay(deliveries []Delivery) []DailySnapshot {
	byDay := make(map[Day][]Delivery)
	var days []Day
	for _, d := range deliveries {
		if _, ok := byDay[d.Date]; !ok {
			days = append(days, d.Date)
		}
		byDay[d.Date] = append(byDay[d.Date], d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] > days[j] })

	out := make([]DailySnapshot, 0, len(days))
	for _, day := range days {
		out = append(out, NewSnapshot(day, byDay[day]))
	}
	return out
}

// Flatten returns every delivery of the snapshots in snapshot order.
func Flatten(snapshots []DailySnapshot) []Delivery {
	var out []Delivery
	for _, s := range snapshots {
		out = append(out, s.Deliveries...)
	}
	return out
}

// Resummarize recomputes every snapshot's summary and re-sorts newest first.
// Stored summaries are never trusted.
func Resummarize(snapshots []DailySnapshot) []DailySnapshot {
	out := make([]DailySnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, NewSnapshot(s.Date, s.Deliveries))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

// Slice returns the snapshots visible in window w as of today. The daily
// window always yields exactly today's snapshot, empty if nothing was
// recorded yet. Weekly and monthly take the newest 7 or 30 snapshots.
func Slice(snapshots []DailySnapshot, w Window, today Day) []DailySnapshot {
	if w == WindowDaily || w == "" {
		for _, s := range snapshots {
			if s.Date == today {
				return []DailySnapshot{s}
			}
		}
		return []DailySnapshot{NewSnapshot(today, nil)}
	}
	n := w.Days()
	if len(snapshots) < n {
		n = len(snapshots)
	}
	return snapshots[:n]
}
