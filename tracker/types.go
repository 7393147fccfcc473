/*
Package tracker provides the record model of the delivery tracker.

PURPOSE:
  Entity definitions shared by every layer (remote store, local cache,
  reconciliation engine, cleanup, HTTP surface) and the pure functions that
  derive per-day summaries from a list of deliveries. Nothing in this package
  performs I/O.

KEY CONCEPTS IN THIS FILE (types.go):
  - Store: a shop that hands out orders for delivery
  - Delivery: one order, partitioned by its logical Day
  - PaymentStatus: money owed/paid on a delivery (decimal, never float)
  - DailySnapshot: a day's deliveries plus their derived Summary

DESIGN PRINCIPLES:
  1. Precision: all money uses decimal.Decimal
  2. Identity: ids are opaque strings assigned once at creation
  3. Derived data is never trusted from storage: summaries are recomputed

SEE ALSO:
  - aggregate.go: Summarize / GroupByDay
  - merge.go: the reconciliation rule (remote wins, local-only survives)
  - validate.go: construction-time validation
*/
package tracker

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE
// =============================================================================

// Store is a shop whose orders are delivered. Deleting a Store does not
// remove its deliveries; they keep the denormalized StoreName.
type Store struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Address       string           `json:"address,omitempty"`
	Contact       string           `json:"contact,omitempty"`
	PricePerOrder *decimal.Decimal `json:"pricePerOrder,omitempty"`
}

// StoreInput is the caller-supplied part of a new Store.
type StoreInput struct {
	Name          string           `json:"name"`
	Address       string           `json:"address,omitempty"`
	Contact       string           `json:"contact,omitempty"`
	PricePerOrder *decimal.Decimal `json:"pricePerOrder,omitempty"`
}

// StorePatch holds optional field updates for a Store.
type StorePatch struct {
	Name          *string          `json:"name,omitempty"`
	Address       *string          `json:"address,omitempty"`
	Contact       *string          `json:"contact,omitempty"`
	PricePerOrder *decimal.Decimal `json:"pricePerOrder,omitempty"`
}

// Apply returns a copy of s with the patch applied.
func (p StorePatch) Apply(s Store) Store {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Address != nil {
		s.Address = *p.Address
	}
	if p.Contact != nil {
		s.Contact = *p.Contact
	}
	if p.PricePerOrder != nil {
		price := *p.PricePerOrder
		s.PricePerOrder = &price
	}
	return s
}

// NewStore builds a validated Store with the given id.
func NewStore(id string, in StoreInput) (Store, error) {
	s := Store{
		ID:            id,
		Name:          in.Name,
		Address:       in.Address,
		Contact:       in.Contact,
		PricePerOrder: in.PricePerOrder,
	}
	if err := s.Validate(); err != nil {
		return Store{}, err
	}
	return s, nil
}

// =============================================================================
// DELIVERY
// =============================================================================

// DeliveryStatus is the lifecycle state of a delivery.
type DeliveryStatus string

const (
	StatusPendingPickup DeliveryStatus = "pending_pickup"
	StatusPickedUp      DeliveryStatus = "picked_up"
	StatusDelivered     DeliveryStatus = "delivered"
)

// Valid reports whether s is a known status.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusPendingPickup, StatusPickedUp, StatusDelivered:
		return true
	}
	return false
}

// Terminal reports whether a delivery in this state is eligible for
// retention cleanup.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered
}

// PaymentStatus tracks money on a delivery. Total is expected to equal
// Paid + Pending; Validate enforces it.
type PaymentStatus struct {
	Total   decimal.Decimal `json:"total"`
	Paid    decimal.Decimal `json:"paid"`
	Pending decimal.Decimal `json:"pending"`
	Overdue decimal.Decimal `json:"overdue"`
}

// Outstanding is the amount still owed (pending plus overdue).
func (p PaymentStatus) Outstanding() decimal.Decimal {
	return p.Pending.Add(p.Overdue)
}

// Delivery is a single order. Date is the logical partition key.
type Delivery struct {
	ID             string          `json:"id"`
	StoreID        string          `json:"storeId"`
	StoreName      string          `json:"storeName"`
	Date           Day             `json:"date"`
	CustomerName   string          `json:"customerName"`
	PhoneNumber    string          `json:"phoneNumber"`
	Address        string          `json:"address"`
	ItemDetails    string          `json:"itemDetails"`
	OrderNumber    string          `json:"orderNumber"`
	DeliveryStatus DeliveryStatus  `json:"deliveryStatus"`
	OrderPrice     decimal.Decimal `json:"orderPrice"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	Bills          int             `json:"bills"`
	Notes          string          `json:"notes,omitempty"`
}

// DeliveryInput is the caller-supplied part of a new Delivery.
type DeliveryInput struct {
	StoreID        string          `json:"storeId"`
	StoreName      string          `json:"storeName"`
	Date           Day             `json:"date"`
	CustomerName   string          `json:"customerName"`
	PhoneNumber    string          `json:"phoneNumber"`
	Address        string          `json:"address"`
	ItemDetails    string          `json:"itemDetails"`
	OrderNumber    string          `json:"orderNumber"`
	DeliveryStatus DeliveryStatus  `json:"deliveryStatus"`
	OrderPrice     decimal.Decimal `json:"orderPrice"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	Bills          int             `json:"bills"`
	Notes          string          `json:"notes,omitempty"`
}

// NewDelivery builds a validated Delivery with the given id. An empty status
// defaults to pending pickup.
func NewDelivery(id string, in DeliveryInput) (Delivery, error) {
	status := in.DeliveryStatus
	if status == "" {
		status = StatusPendingPickup
	}
	d := Delivery{
		ID:             id,
		StoreID:        in.StoreID,
		StoreName:      in.StoreName,
		Date:           in.Date,
		CustomerName:   in.CustomerName,
		PhoneNumber:    in.PhoneNumber,
		Address:        in.Address,
		ItemDetails:    in.ItemDetails,
		OrderNumber:    in.OrderNumber,
		DeliveryStatus: status,
		OrderPrice:     in.OrderPrice,
		PaymentStatus:  in.PaymentStatus,
		Bills:          in.Bills,
		Notes:          in.Notes,
	}
	if err := d.Validate(); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// DeliveryPatch holds optional field updates for a Delivery. Status and
// payment edits are the common case.
type DeliveryPatch struct {
	Date           *Day             `json:"date,omitempty"`
	CustomerName   *string          `json:"customerName,omitempty"`
	PhoneNumber    *string          `json:"phoneNumber,omitempty"`
	Address        *string          `json:"address,omitempty"`
	ItemDetails    *string          `json:"itemDetails,omitempty"`
	OrderNumber    *string          `json:"orderNumber,omitempty"`
	DeliveryStatus *DeliveryStatus  `json:"deliveryStatus,omitempty"`
	OrderPrice     *decimal.Decimal `json:"orderPrice,omitempty"`
	PaymentStatus  *PaymentStatus   `json:"paymentStatus,omitempty"`
	Bills          *int             `json:"bills,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
}

// Apply returns a copy of d with the patch applied. Identity and the store
// snapshot are never patched.
func (p DeliveryPatch) Apply(d Delivery) Delivery {
	if p.Date != nil {
		d.Date = *p.Date
	}
	if p.CustomerName != nil {
		d.CustomerName = *p.CustomerName
	}
	if p.PhoneNumber != nil {
		d.PhoneNumber = *p.PhoneNumber
	}
	if p.Address != nil {
		d.Address = *p.Address
	}
	if p.ItemDetails != nil {
		d.ItemDetails = *p.ItemDetails
	}
	if p.OrderNumber != nil {
		d.OrderNumber = *p.OrderNumber
	}
	if p.DeliveryStatus != nil {
		d.DeliveryStatus = *p.DeliveryStatus
	}
	if p.OrderPrice != nil {
		d.OrderPrice = *p.OrderPrice
	}
	if p.PaymentStatus != nil {
		d.PaymentStatus = *p.PaymentStatus
	}
	if p.Bills != nil {
		d.Bills = *p.Bills
	}
	if p.Notes != nil {
		d.Notes = *p.Notes
	}
	return d
}

// =============================================================================
// DAILY SNAPSHOT - derived, recomputed on every read
// =============================================================================

// Summary is the DailyAggregate of one logical day.
type Summary struct {
	TotalStores      int             `json:"totalStores"`
	TotalDeliveries  int             `json:"totalDeliveries"`
	TotalDelivered   int             `json:"totalDelivered"`
	TotalPending     int             `json:"totalPending"`
	TotalBills       int             `json:"totalBills"`
	TotalRevenue     decimal.Decimal `json:"totalRevenue"`
	TotalPaid        decimal.Decimal `json:"totalPaid"`
	TotalOutstanding decimal.Decimal `json:"totalOutstanding"`
}

// DailySnapshot groups the deliveries of one logical day with their summary.
type DailySnapshot struct {
	Date       Day        `json:"date"`
	Deliveries []Delivery `json:"deliveries"`
	Summary    Summary    `json:"summary"`
}

// Window is a logical view over the daily snapshots.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// Days returns how many trailing days the window covers.
func (w Window) Days() int {
	switch w {
	case WindowWeekly:
		return 7
	case WindowMonthly:
		return 30
	default:
		return 1
	}
}

// ParseWindow maps a string to a Window. Empty means daily.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case "", WindowDaily:
		return WindowDaily, nil
	case WindowWeekly, WindowMonthly:
		return Window(s), nil
	}
	return "", &ValidationError{Field: "window", Message: "must be daily, weekly or monthly"}
}
