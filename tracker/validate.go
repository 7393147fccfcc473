package tracker

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Validate checks a Store before it can be persisted.
func (s Store) Validate() error {
	if s.ID == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if s.PricePerOrder != nil && s.PricePerOrder.IsNegative() {
		return &ValidationError{Field: "pricePerOrder", Message: "must not be negative"}
	}
	return nil
}

// Validate checks a Delivery before it can be persisted. The payment
// invariant total = paid + pending is enforced here so that no layer below
// ever stores an inconsistent record.
func (d Delivery) Validate() error {
	if d.ID == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if !d.Date.Valid() {
		return &ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
	}
	if !d.DeliveryStatus.Valid() {
		return &ValidationError{Field: "deliveryStatus", Message: "must be pending_pickup, picked_up or delivered"}
	}
	if d.OrderPrice.IsNegative() {
		return &ValidationError{Field: "orderPrice", Message: "must not be negative"}
	}
	if d.Bills < 0 {
		return &ValidationError{Field: "bills", Message: "must not be negative"}
	}
	return d.PaymentStatus.Validate()
}

// Validate checks the payment invariant.
func (p PaymentStatus) Validate() error {
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"paymentStatus.total", p.Total},
		{"paymentStatus.paid", p.Paid},
		{"paymentStatus.pending", p.Pending},
		{"paymentStatus.overdue", p.Overdue},
	} {
		if f.value.IsNegative() {
			return &ValidationError{Field: f.name, Message: "must not be negative"}
		}
	}
	if !p.Total.Equal(p.Paid.Add(p.Pending)) {
		return &ValidationError{
			Field:   "paymentStatus.total",
			Message: "must equal paid + pending (" + p.Paid.Add(p.Pending).String() + ")",
		}
	}
	return nil
}
