/*
Package remote implements the Remote Store Client of the delivery tracker.

PURPOSE:
  The remote store is the single source of truth for stores and deliveries
  when it is reachable. This package owns the remote schema (idempotent
  bootstrap and column repair), the CRUD statements, and the self-healing
  retry that re-provisions the schema once when a table or column is
  missing.

IMPLEMENTATIONS:
  - SQL:     database/sql over "sqlite3" (mattn/go-sqlite3) or "postgres"
             (lib/pq). Every call runs under a per-operation timeout.
  - Healing: wraps any Client; on ErrSchemaMissing it calls EnsureSchema
             once and retries the operation exactly once.
  - Memory:  in-process remote with fault injection, for tests and demos.

ERRORS:
  Every error returned by a Client is either a *tracker.RemoteError
  (network, auth, timeout) or a *tracker.SchemaError (missing table or
  column). Raw driver errors never leave this package.

SEE ALSO:
  - classify.go: driver error classification
  - engine/engine.go: the only caller
*/
package remote

import (
	"context"

	"github.com/warp/delivery-tracker/tracker"
)

// Client is the contract of a remote store.
type Client interface {
	// Probe checks that the remote answers. It does not touch the schema.
	Probe(ctx context.Context) error

	// EnsureSchema creates absent tables and columns. It is idempotent and
	// safe to call concurrently.
	EnsureSchema(ctx context.Context) error

	// SaveStore creates or replaces a store.
	SaveStore(ctx context.Context, s tracker.Store) error

	// SaveDelivery creates or replaces a delivery.
	SaveDelivery(ctx context.Context, d tracker.Delivery) error

	// ListStores returns every store in creation order.
	ListStores(ctx context.Context) ([]tracker.Store, error)

	// ListDeliveriesByDate returns the deliveries of one logical day in
	// creation order.
	ListDeliveriesByDate(ctx context.Context, day tracker.Day) ([]tracker.Delivery, error)

	// ListDeliveries returns every delivery, newest day first.
	ListDeliveries(ctx context.Context) ([]tracker.Delivery, error)

	// DeleteDelivery removes a delivery. Deleting an absent id is not an
	// error.
	DeleteDelivery(ctx context.Context, id string) error

	// DeleteStore removes a store. Its deliveries are left in place.
	DeleteStore(ctx context.Context, id string) error
}
