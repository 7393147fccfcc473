package remote

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/delivery-tracker/tracker"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// createdAtLayout is fixed-width so that created_at sorts lexically.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// SQL is a Client over database/sql.
type SQL struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
	now     func() time.Time

	// schemaMu serializes bootstraps issued by this process.
	schemaMu sync.Mutex
}

// Open connects to a remote store. A zero timeout disables the
// per-operation deadline.
func Open(driver, dsn string, timeout time.Duration) (*SQL, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported remote driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases alive between calls.
		db.SetMaxOpenConns(1)
	}
	return &SQL{db: db, driver: driver, timeout: timeout, now: time.Now}, nil
}

// Close closes the connection pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQL) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return res, classify(op, err)
}

// =============================================================================
// PROBE AND SCHEMA
// =============================================================================

func (s *SQL) Probe(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return &tracker.RemoteError{Op: "probe", Err: err}
	}
	return nil
}

func (s *SQL) EnsureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, stmt := range bootstrapStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isAlreadyExists(err) {
				continue
			}
			return &tracker.RemoteError{Op: "ensure schema", Err: err}
		}
	}
	return nil
}

// =============================================================================
// STORES
// =============================================================================

func (s *SQL) SaveStore(ctx context.Context, st tracker.Store) error {
	query := `
		INSERT INTO stores (id, name, address, contact, price_per_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			contact = excluded.contact,
			price_per_order = excluded.price_per_order
	`

	var price sql.NullString
	if st.PricePerOrder != nil {
		price = sql.NullString{String: st.PricePerOrder.String(), Valid: true}
	}

	_, err := s.exec(ctx, "save store", query,
		st.ID, st.Name, st.Address, st.Contact, price, s.createdAt())
	return err
}

func (s *SQL) ListStores(ctx context.Context) ([]tracker.Store, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, name, COALESCE(address, ''), COALESCE(contact, ''), price_per_order
		FROM stores
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("list stores", err)
	}
	defer rows.Close()

	stores := []tracker.Store{}
	for rows.Next() {
		var st tracker.Store
		var price sql.NullString
		if err := rows.Scan(&st.ID, &st.Name, &st.Address, &st.Contact, &price); err != nil {
			return nil, classify("list stores", err)
		}
		if price.Valid && price.String != "" {
			p, err := decimal.NewFromString(price.String)
			if err != nil {
				return nil, &tracker.RemoteError{Op: "list stores", Err: fmt.Errorf("store %s: bad price: %w", st.ID, err)}
			}
			st.PricePerOrder = &p
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list stores", err)
	}
	return stores, nil
}

func (s *SQL) DeleteStore(ctx context.Context, id string) error {
	_, err := s.exec(ctx, "delete store", "DELETE FROM stores WHERE id = ?", id)
	return err
}

// =============================================================================
// DELIVERIES
// =============================================================================

func (s *SQL) SaveDelivery(ctx context.Context, d tracker.Delivery) error {
	query := `
		INSERT INTO deliveries (
			id, store_id, store_name, date, customer_name, phone_number, address,
			item_details, order_number, delivery_status, order_price,
			total_deliveries, delivered, pending, bills,
			payment_total, payment_paid, payment_pending, payment_overdue,
			notes, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			store_id = excluded.store_id,
			store_name = excluded.store_name,
			date = excluded.date,
			customer_name = excluded.customer_name,
			phone_number = excluded.phone_number,
			address = excluded.address,
			item_details = excluded.item_details,
			order_number = excluded.order_number,
			delivery_status = excluded.delivery_status,
			order_price = excluded.order_price,
			total_deliveries = excluded.total_deliveries,
			delivered = excluded.delivered,
			pending = excluded.pending,
			bills = excluded.bills,
			payment_total = excluded.payment_total,
			payment_paid = excluded.payment_paid,
			payment_pending = excluded.payment_pending,
			payment_overdue = excluded.payment_overdue,
			notes = excluded.notes
	`

	delivered, pending := 0, 1
	if d.DeliveryStatus == tracker.StatusDelivered {
		delivered, pending = 1, 0
	}

	_, err := s.exec(ctx, "save delivery", query,
		d.ID, d.StoreID, d.StoreName, string(d.Date),
		d.CustomerName, d.PhoneNumber, d.Address, d.ItemDetails, d.OrderNumber,
		string(d.DeliveryStatus), d.OrderPrice.String(),
		1, delivered, pending, d.Bills,
		d.PaymentStatus.Total.String(), d.PaymentStatus.Paid.String(),
		d.PaymentStatus.Pending.String(), d.PaymentStatus.Overdue.String(),
		d.Notes, s.createdAt(),
	)
	return err
}

const selectDeliveries = `
	SELECT id, store_id, store_name, date,
		COALESCE(customer_name, ''), COALESCE(phone_number, ''), COALESCE(address, ''),
		COALESCE(item_details, ''), COALESCE(order_number, ''),
		COALESCE(delivery_status, ''), COALESCE(order_price, '0'), COALESCE(bills, 0),
		COALESCE(payment_total, '0'), COALESCE(payment_paid, '0'),
		COALESCE(payment_pending, '0'), COALESCE(payment_overdue, '0'),
		COALESCE(notes, '')
	FROM deliveries
`

func (s *SQL) ListDeliveriesByDate(ctx context.Context, day tracker.Day) ([]tracker.Delivery, error) {
	return s.queryDeliveries(ctx, "list deliveries by date",
		selectDeliveries+" WHERE date = ? ORDER BY created_at, id", string(day))
}

func (s *SQL) ListDeliveries(ctx context.Context) ([]tracker.Delivery, error) {
	return s.queryDeliveries(ctx, "list deliveries",
		selectDeliveries+" ORDER BY date DESC, created_at, id")
}

func (s *SQL) DeleteDelivery(ctx context.Context, id string) error {
	_, err := s.exec(ctx, "delete delivery", "DELETE FROM deliveries WHERE id = ?", id)
	return err
}

func (s *SQL) queryDeliveries(ctx context.Context, op, query string, args ...any) ([]tracker.Delivery, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	deliveries := []tracker.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, &tracker.RemoteError{Op: op, Err: err}
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return deliveries, nil
}

func scanDelivery(rows *sql.Rows) (tracker.Delivery, error) {
	var d tracker.Delivery
	var date, status, orderPrice string
	var total, paid, pending, overdue string

	err := rows.Scan(
		&d.ID, &d.StoreID, &d.StoreName, &date,
		&d.CustomerName, &d.PhoneNumber, &d.Address,
		&d.ItemDetails, &d.OrderNumber,
		&status, &orderPrice, &d.Bills,
		&total, &paid, &pending, &overdue,
		&d.Notes,
	)
	if err != nil {
		return d, err
	}

	d.Date = tracker.Day(date)
	d.DeliveryStatus = tracker.DeliveryStatus(status)
	if !d.DeliveryStatus.Valid() {
		d.DeliveryStatus = tracker.StatusPendingPickup
	}

	amounts := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{orderPrice, &d.OrderPrice},
		{total, &d.PaymentStatus.Total},
		{paid, &d.PaymentStatus.Paid},
		{pending, &d.PaymentStatus.Pending},
		{overdue, &d.PaymentStatus.Overdue},
	}
	for _, a := range amounts {
		v, err := decimal.NewFromString(a.raw)
		if err != nil {
			return d, fmt.Errorf("delivery %s: bad amount %q: %w", d.ID, a.raw, err)
		}
		*a.dst = v
	}
	return d, nil
}

func (s *SQL) createdAt() string {
	return s.now().UTC().Format(createdAtLayout)
}
