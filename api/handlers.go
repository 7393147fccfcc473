/*
handlers.go - HTTP request handlers

PURPOSE:
  Thin adapters between HTTP and the reconciliation engine. Each handler
  decodes its input, calls one engine (or cleanup) operation and maps the
  result onto a status code. No business logic lives here.

ERROR MAPPING:
  tracker.ErrInvalidRecord       400 Bad Request
  tracker.ErrRecordNotFound      404 Not Found
  tracker.ErrNotSynced           202 Accepted (record plus warning)
  tracker.ErrVerificationFailed  502 Bad Gateway
  tracker.ErrRemoteUnavailable   503 Service Unavailable
  tracker.ErrSchemaMissing       503 Service Unavailable
  anything else                  500 Internal Server Error

SEE ALSO:
  - server.go: route registration
  - dto.go: response envelopes
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/delivery-tracker/cleanup"
	"github.com/warp/delivery-tracker/engine"
	"github.com/warp/delivery-tracker/export"
	"github.com/warp/delivery-tracker/tracker"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Engine  *engine.Engine
	Cleanup *cleanup.Service

	// Refresher is optional. When set, focus events are coalesced through
	// it instead of refreshing inline.
	Refresher *engine.Refresher
}

// NewHandler creates a new handler.
func NewHandler(e *engine.Engine, c *cleanup.Service) *Handler {
	return &Handler{Engine: e, Cleanup: c}
}

// =============================================================================
// STORE ENDPOINTS
// =============================================================================

// ListStores returns the store list.
// GET /api/stores
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.Engine.GetStores(r.Context())
	if err != nil {
		writeEngineError(w, "failed to load stores", err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

// AddStore creates a store.
// POST /api/stores
func (h *Handler) AddStore(w http.ResponseWriter, r *http.Request) {
	var in tracker.StoreInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	s, err := h.Engine.AddStore(r.Context(), in)
	writeRecord(w, http.StatusCreated, s, "failed to add store", err)
}

// UpdateStore patches a store.
// PUT /api/stores/{id}
func (h *Handler) UpdateStore(w http.ResponseWriter, r *http.Request) {
	var patch tracker.StorePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	s, err := h.Engine.UpdateStore(r.Context(), chi.URLParam(r, "id"), patch)
	writeRecord(w, http.StatusOK, s, "failed to update store", err)
}

// DeleteStore removes a store. Its deliveries are kept.
// DELETE /api/stores/{id}
func (h *Handler) DeleteStore(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteStore(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, "failed to delete store", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DAILY DATA ENDPOINTS
// =============================================================================

// GetDaily returns the snapshots of a window (daily, weekly, monthly).
// GET /api/daily?window=weekly
func (h *Handler) GetDaily(w http.ResponseWriter, r *http.Request) {
	window, err := tracker.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window", err)
		return
	}
	data, err := h.Engine.GetDataForWindow(r.Context(), window)
	if err != nil {
		writeEngineError(w, "failed to load daily data", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// GetDay reconciles one day against the remote store.
// GET /api/daily/{date}
func (h *Handler) GetDay(w http.ResponseWriter, r *http.Request) {
	day, err := tracker.ParseDay(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date", err)
		return
	}
	deliveries, err := h.Engine.Reconcile(r.Context(), day)
	if err != nil {
		writeEngineError(w, "failed to reconcile day", err)
		return
	}
	if deliveries == nil {
		deliveries = []tracker.Delivery{}
	}
	writeJSON(w, http.StatusOK, DayResponse{
		Date:       day,
		Deliveries: deliveries,
		Summary:    tracker.Summarize(deliveries),
	})
}

// =============================================================================
// DELIVERY ENDPOINTS
// =============================================================================

// AddDelivery creates a delivery.
// POST /api/deliveries
func (h *Handler) AddDelivery(w http.ResponseWriter, r *http.Request) {
	var in tracker.DeliveryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	d, err := h.Engine.AddDelivery(r.Context(), in)
	writeRecord(w, http.StatusCreated, d, "failed to add delivery", err)
}

// maxBatch bounds one batch add.
const maxBatch = 200

// AddDeliveries creates several deliveries, one after another. Every record
// gets its own outcome; one failure does not stop the rest.
// POST /api/deliveries/batch
func (h *Handler) AddDeliveries(w http.ResponseWriter, r *http.Request) {
	var ins []tracker.DeliveryInput
	if err := json.NewDecoder(r.Body).Decode(&ins); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(ins) == 0 || len(ins) > maxBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch must hold 1 to %d deliveries", maxBatch), nil)
		return
	}

	resp := BatchResponse{Items: make([]BatchItem, 0, len(ins))}
	for _, res := range h.Engine.AddDeliveries(r.Context(), ins) {
		d := res.Delivery
		switch {
		case res.Err == nil:
			resp.Created++
			resp.Items = append(resp.Items, BatchItem{Status: http.StatusCreated, Record: &d})
		case errors.Is(res.Err, tracker.ErrNotSynced):
			resp.Pending++
			resp.Items = append(resp.Items, BatchItem{Status: http.StatusAccepted, Record: &d, Warning: res.Err.Error()})
		default:
			resp.Failed++
			resp.Items = append(resp.Items, BatchItem{Status: statusFor(res.Err), Error: res.Err.Error()})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateDelivery patches a delivery, typically its status or payment.
// PUT /api/deliveries/{id}
func (h *Handler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	var patch tracker.DeliveryPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	d, err := h.Engine.UpdateDelivery(r.Context(), chi.URLParam(r, "id"), patch)
	writeRecord(w, http.StatusOK, d, "failed to update delivery", err)
}

// DeleteDelivery removes a delivery once the remote confirms it is gone.
// DELETE /api/deliveries/{id}
func (h *Handler) DeleteDelivery(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteDelivery(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, "failed to delete delivery", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SYNC ENDPOINTS
// =============================================================================

// SyncStatus returns reachability and outbox size.
// GET /api/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.State(r.Context()))
}

// Refresh runs one background-style refresh cycle.
// POST /api/sync/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.syncCommand(w, r, "refresh failed", h.Engine.ForceRefresh)
}

// Focus signals that the front-end regained focus.
// POST /api/sync/focus
func (h *Handler) Focus(w http.ResponseWriter, r *http.Request) {
	if h.Refresher != nil {
		h.Refresher.Focus()
		writeJSON(w, http.StatusAccepted, h.Engine.State(r.Context()))
		return
	}
	h.syncCommand(w, r, "focus refresh failed", h.Engine.FocusRefresh)
}

// TestConnection probes the remote store.
// POST /api/sync/test
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ConnectionResponse{Reachable: h.Engine.TestRemoteConnection(r.Context())})
}

// Reconnect flushes pending writes and reloads remote state.
// POST /api/sync/reconnect
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	h.syncCommand(w, r, "reconnect failed", h.Engine.Reconnect)
}

// Resync clears the cache and reloads everything from the remote.
// POST /api/sync/resync
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	h.syncCommand(w, r, "resync failed", h.Engine.Resync)
}

func (h *Handler) syncCommand(w http.ResponseWriter, r *http.Request, msg string, run func(ctx context.Context) error) {
	if err := run(r.Context()); err != nil {
		writeEngineError(w, msg, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.State(r.Context()))
}

// =============================================================================
// CLEANUP ENDPOINTS
// =============================================================================

// CleanupStatus returns the retention schedule.
// GET /api/cleanup/status
func (h *Handler) CleanupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cleanup.Status(r.Context()))
}

// RunCleanup purges delivered records of a day (today by default). A manual
// run does not count as the day's automatic run.
// POST /api/cleanup/run?date=2024-01-10
func (h *Handler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	day := h.Engine.Today()
	if s := r.URL.Query().Get("date"); s != "" {
		parsed, err := tracker.ParseDay(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date", err)
			return
		}
		day = parsed
	}
	res, err := h.Cleanup.Force(r.Context(), day)
	if err != nil {
		writeEngineError(w, "cleanup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Date: day, Result: res})
}

// =============================================================================
// EXPORT ENDPOINTS
// =============================================================================

// ExportJSON downloads a full backup.
// GET /api/export/json
func (h *Handler) ExportJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	daily, err := h.Engine.GetDailyData(ctx)
	if err != nil {
		writeEngineError(w, "failed to load daily data", err)
		return
	}
	stores, err := h.Engine.GetStores(ctx)
	if err != nil {
		writeEngineError(w, "failed to load stores", err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteJSON(&buf, export.NewBackup(daily, stores, h.Engine.Now())); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode backup", err)
		return
	}
	name := fmt.Sprintf("delivery-tracker-backup-%s.json", h.Engine.Today())
	writeDownload(w, "application/json", name, buf.Bytes())
}

// ExportCSV downloads deliveries as CSV, optionally limited to a range.
// GET /api/export/csv?from=2024-01-01&to=2024-01-31
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	var rng export.Range
	for _, b := range []struct {
		param string
		into  *tracker.Day
	}{{"from", &rng.From}, {"to", &rng.To}} {
		s := r.URL.Query().Get(b.param)
		if s == "" {
			continue
		}
		day, err := tracker.ParseDay(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+b.param+" date", err)
			return
		}
		*b.into = day
	}

	daily, err := h.Engine.GetDailyData(r.Context())
	if err != nil {
		writeEngineError(w, "failed to load daily data", err)
		return
	}

	var buf bytes.Buffer
	if _, err := export.WriteCSV(&buf, daily, rng); err != nil {
		if errors.Is(err, export.ErrNoData) {
			writeError(w, http.StatusNotFound, "nothing to export", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to encode csv", err)
		return
	}
	writeDownload(w, "text/csv", rng.FileName(h.Engine.Today()), buf.Bytes())
}

// =============================================================================
// HELPERS
// =============================================================================

// writeRecord answers a create/update. A record that only reached the local
// cache is still returned, with 202 and a warning.
func writeRecord(w http.ResponseWriter, status int, record any, msg string, err error) {
	switch {
	case err == nil:
		writeJSON(w, status, WriteResponse{Record: record})
	case errors.Is(err, tracker.ErrNotSynced):
		writeJSON(w, http.StatusAccepted, WriteResponse{Record: record, Warning: err.Error()})
	default:
		writeEngineError(w, msg, err)
	}
}

func writeEngineError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
	}
	writeError(w, status, msg, err)
}

// statusFor maps the tracker error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case tracker.IsClientError(err):
		return http.StatusBadRequest
	case tracker.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrNotSynced):
		return http.StatusAccepted
	case errors.Is(err, tracker.ErrVerificationFailed):
		return http.StatusBadGateway
	case tracker.IsRemote(err), errors.Is(err, tracker.ErrSchemaMissing):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeDownload(w http.ResponseWriter, contentType, name string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
