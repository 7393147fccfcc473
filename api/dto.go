/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Response envelopes shared by the handlers. Request bodies decode straight
  into the record model's input and patch types (tracker.DeliveryInput,
  tracker.DeliveryPatch, tracker.StoreInput, tracker.StorePatch), which
  already carry JSON tags.

WRITE RESPONSES:
  A write that reached the local cache but not the remote store answers
  202 Accepted with the record and a Warning. The record is not lost: it is
  flushed on the next reconnect.

SEE ALSO:
  - handlers.go: where the envelopes are produced
  - tracker/errors.go: the taxonomy mapped to status codes
*/
package api

import (
	"github.com/warp/delivery-tracker/cleanup"
	"github.com/warp/delivery-tracker/tracker"
)

// WriteResponse wraps the record returned by a create or update.
type WriteResponse struct {
	Record  any    `json:"record"`
	Warning string `json:"warning,omitempty"`
}

// BatchItem is the outcome of one record of a batch add. Status is the
// code a single add of that record would have answered.
type BatchItem struct {
	Status  int               `json:"status"`
	Record  *tracker.Delivery `json:"record,omitempty"`
	Warning string            `json:"warning,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// BatchResponse lists batch outcomes in request order.
type BatchResponse struct {
	Created int         `json:"created"`
	Pending int         `json:"pending"`
	Failed  int         `json:"failed"`
	Items   []BatchItem `json:"items"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// DayResponse is one reconciled day.
type DayResponse struct {
	Date       tracker.Day        `json:"date"`
	Deliveries []tracker.Delivery `json:"deliveries"`
	Summary    tracker.Summary    `json:"summary"`
}

// ConnectionResponse reports the outcome of a probe.
type ConnectionResponse struct {
	Reachable bool `json:"reachable"`
}

// CleanupResponse reports a manual purge.
type CleanupResponse struct {
	Date tracker.Day `json:"date"`
	cleanup.Result
}
