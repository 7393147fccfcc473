package remote

import (
	"fmt"
)

// =============================================================================
// REMOTE SCHEMA
// =============================================================================

// column is one remote column and its definition for ALTER TABLE ADD COLUMN.
type column struct {
	name string
	def  string
}

// Tables are created with their key columns only; every other column is
// added one by one so that a partially migrated remote is repaired by the
// same bootstrap.
var (
	storesTable = `CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`

	deliveriesTable = `CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		store_name TEXT NOT NULL,
		date TEXT NOT NULL
	)`

	storeColumns = []column{
		{"address", "TEXT"},
		{"contact", "TEXT"},
		{"price_per_order", "TEXT"},
		{"created_at", "TEXT NOT NULL DEFAULT ''"},
	}

	// total_deliveries, delivered and pending are per-record counters kept
	// for older readers of the table; they are derived from delivery_status.
	deliveryColumns = []column{
		{"customer_name", "TEXT NOT NULL DEFAULT ''"},
		{"phone_number", "TEXT NOT NULL DEFAULT ''"},
		{"address", "TEXT NOT NULL DEFAULT ''"},
		{"item_details", "TEXT NOT NULL DEFAULT ''"},
		{"order_number", "TEXT NOT NULL DEFAULT ''"},
		{"delivery_status", "TEXT NOT NULL DEFAULT 'pending_pickup'"},
		{"order_price", "TEXT NOT NULL DEFAULT '0'"},
		{"total_deliveries", "INTEGER NOT NULL DEFAULT 0"},
		{"delivered", "INTEGER NOT NULL DEFAULT 0"},
		{"pending", "INTEGER NOT NULL DEFAULT 0"},
		{"bills", "INTEGER NOT NULL DEFAULT 0"},
		{"payment_total", "TEXT NOT NULL DEFAULT '0'"},
		{"payment_paid", "TEXT NOT NULL DEFAULT '0'"},
		{"payment_pending", "TEXT NOT NULL DEFAULT '0'"},
		{"payment_overdue", "TEXT NOT NULL DEFAULT '0'"},
		{"notes", "TEXT"},
		{"created_at", "TEXT NOT NULL DEFAULT ''"},
	}

	indexes = []string{
		`CREATE INDEX IF NOT EXISTS idx_deliveries_date ON deliveries(date)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_store ON deliveries(store_id)`,
	}
)

// bootstrapStatements returns the ordered statements of a full bootstrap.
func bootstrapStatements() []string {
	stmts := []string{storesTable, deliveriesTable}
	for _, c := range storeColumns {
		stmts = append(stmts, addColumn("stores", c))
	}
	for _, c := range deliveryColumns {
		stmts = append(stmts, addColumn("deliveries", c))
	}
	return append(stmts, indexes...)
}

func addColumn(table string, c column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.def)
}
