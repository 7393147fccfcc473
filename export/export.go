// Package export projects the engine's read surface into backup and
// spreadsheet formats. Nothing here reconciles or mutates data.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/warp/delivery-tracker/tracker"
)

// FormatVersion identifies the backup layout.
const FormatVersion = "2.0.0"

// ErrNoData is returned when a CSV export selects no deliveries.
var ErrNoData = errors.New("no delivery data found for the selected date range")

// Backup is the JSON dump of the whole dataset.
type Backup struct {
	DailyData     []tracker.DailySnapshot `json:"dailyData"`
	Stores        []tracker.Store         `json:"stores"`
	ExportedAt    time.Time               `json:"exportedAt"`
	FormatVersion string                  `json:"formatVersion"`
}

// NewBackup assembles a backup taken at the given time.
func NewBackup(daily []tracker.DailySnapshot, stores []tracker.Store, at time.Time) Backup {
	if daily == nil {
		daily = []tracker.DailySnapshot{}
	}
	if stores == nil {
		stores = []tracker.Store{}
	}
	return Backup{
		DailyData:     daily,
		Stores:        stores,
		ExportedAt:    at.UTC(),
		FormatVersion: FormatVersion,
	}
}

// WriteJSON writes b as indented JSON.
func WriteJSON(w io.Writer, b Backup) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// Range limits a CSV export to days From..To inclusive. Empty bounds are
// open.
type Range struct {
	From tracker.Day
	To   tracker.Day
}

// Contains reports whether day is inside the range.
func (r Range) Contains(day tracker.Day) bool {
	if r.From != "" && day < r.From {
		return false
	}
	if r.To != "" && day > r.To {
		return false
	}
	return true
}

// FileName returns the download name of a CSV export.
func (r Range) FileName(today tracker.Day) string {
	switch {
	case r.From != "" && r.To != "":
		return fmt.Sprintf("deliveries_%s_to_%s.csv", r.From, r.To)
	case r.From != "":
		return fmt.Sprintf("deliveries_from_%s.csv", r.From)
	case r.To != "":
		return fmt.Sprintf("deliveries_until_%s.csv", r.To)
	}
	return fmt.Sprintf("deliveries_%s.csv", today)
}

var csvHeader = []string{
	"Date",
	"Store Name",
	"Customer Name",
	"Phone Number",
	"Address",
	"Order Number",
	"Order Price",
	"Delivery Status",
	"Bills",
	"Total Amount",
	"Paid Amount",
	"Pending Amount",
	"Overdue Amount",
}

// WriteCSV writes one row per delivery of the snapshots inside r, in
// snapshot order. It returns the number of rows written.
func WriteCSV(w io.Writer, snapshots []tracker.DailySnapshot, r Range) (int, error) {
	var rows [][]string
	for _, s := range snapshots {
		if !r.Contains(s.Date) {
			continue
		}
		for _, d := range s.Deliveries {
			rows = append(rows, []string{
				string(d.Date),
				d.StoreName,
				d.CustomerName,
				d.PhoneNumber,
				d.Address,
				d.OrderNumber,
				d.OrderPrice.String(),
				string(d.DeliveryStatus),
				strconv.Itoa(d.Bills),
				d.PaymentStatus.Total.String(),
				d.PaymentStatus.Paid.String(),
				d.PaymentStatus.Pending.String(),
				d.PaymentStatus.Overdue.String(),
			})
		}
	}
	if len(rows) == 0 {
		return 0, ErrNoData
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	if err := cw.WriteAll(rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
