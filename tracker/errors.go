/*
errors.go - Error taxonomy of the delivery tracker

PURPOSE:
  All error types in one place. The remote client produces RemoteError and
  SchemaError, the engine produces NotFoundError, VerificationError and
  PendingSyncError, and the record model produces ValidationError. Callers
  test categories with errors.Is against the sentinels.

ERROR CATEGORIES:
  1. Remote errors   - RemoteUnavailable (recoverable, flips reachability)
  2. Schema errors   - SchemaMissing (healed once, fatal on second failure)
  3. Logical errors  - RecordNotFound, VerificationFailed
  4. Input errors    - InvalidRecord
  5. Sync errors     - NotSynced (kept locally, remote not updated)

SEE ALSO:
  - remote/classify.go: maps driver errors into this taxonomy
  - api/handlers.go: maps this taxonomy into HTTP status codes
*/
package tracker

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRemoteUnavailable is returned when the remote store cannot be
	// reached (network, auth, timeout). The engine flips to unreachable.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrSchemaMissing is returned when a remote table or column is absent.
	ErrSchemaMissing = errors.New("remote schema missing")

	// ErrRecordNotFound is returned when a record is absent locally and
	// remotely. It may have been deleted from another device.
	ErrRecordNotFound = errors.New("record not found")

	// ErrVerificationFailed is returned when a delete reported success but
	// the record is still visible on re-read.
	ErrVerificationFailed = errors.New("delete verification failed")

	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrNotSynced is returned when a write was kept in the local cache but
	// could not be sent to the remote store.
	ErrNotSynced = errors.New("saved locally, remote not updated")

	// ErrRemoteRequired is returned by a strict startup when the remote
	// store is unreachable.
	ErrRemoteRequired = errors.New("remote store required at startup")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RemoteError wraps a transport-level failure of a remote operation.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() []error {
	return []error{ErrRemoteUnavailable, e.Err}
}

// SchemaError wraps a missing table/column failure.
type SchemaError struct {
	Op  string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("remote %s: schema missing: %v", e.Op, e.Err)
}

func (e *SchemaError) Unwrap() []error {
	return []error{ErrSchemaMissing, e.Err}
}

// NotFoundError reports a record that is gone.
type NotFoundError struct {
	Kind string // "delivery" or "store"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found: it may have been deleted", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrRecordNotFound
}

// VerificationError reports a record still visible after a confirmed delete.
type VerificationError struct {
	Kind string
	ID   string
	Day  Day // empty for stores
}

func (e *VerificationError) Error() string {
	if e.Day != "" {
		return fmt.Sprintf("%s %s still present on %s after delete", e.Kind, e.ID, e.Day)
	}
	return fmt.Sprintf("%s %s still present after delete", e.Kind, e.ID)
}

func (e *VerificationError) Unwrap() error {
	return ErrVerificationFailed
}

// ValidationError provides details about an invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRecord
}

// PendingSyncError reports a write that only reached the local cache.
type PendingSyncError struct {
	Kind string
	ID   string
	Err  error // nil when the remote was already known to be unreachable
}

func (e *PendingSyncError) Error() string {
	msg := fmt.Sprintf("could not save %s %s to remote, check connection", e.Kind, e.ID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PendingSyncError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNotSynced, ErrRemoteUnavailable}
	}
	return []error{ErrNotSynced, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRemote returns true if the error is a remote availability failure.
func IsRemote(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRecord)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
