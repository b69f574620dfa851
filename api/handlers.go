/*
handlers.go - HTTP request handlers

PURPOSE:
  Implements the read surface over the published key store and the
  trigger endpoint for on-demand runs. Handlers translate HTTP to
  engine/store calls and domain errors to status codes; they hold no
  business logic of their own.

ERROR MAPPING:
  - keys.ErrUnknownKeyType  -> 400
  - keys.ErrAccountNotFound -> 404
  - keys.ErrNoHistory       -> 404
  - keys.ErrStoreUnavailable-> 503
  - anything else           -> 500

SEE ALSO:
  - server.go: Routes these handlers
  - dto.go:    Response shapes
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/r360/key-engine/keys"
	"github.com/r360/key-engine/store/sqlite"
)

// PublishLog exposes the publish audit trail. Optional; only the
// SQLite store provides one.
type PublishLog interface {
	Publishes(ctx context.Context, limit int) ([]sqlite.PublishRecord, error)
}

// Handler holds the dependencies for the HTTP surface.
type Handler struct {
	store  keys.Store
	engine *keys.Engine
	log    PublishLog // may be nil
}

// NewHandler creates a handler. log may be nil when the backing store
// keeps no publish trail.
func NewHandler(store keys.Store, engine *keys.Engine, log PublishLog) *Handler {
	return &Handler{store: store, engine: engine, log: log}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing sensible left to do.
		return
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain sentinels to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, keys.ErrUnknownKeyType):
		writeError(w, http.StatusBadRequest, "unknown key type", err)
	case errors.Is(err, keys.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found", err)
	case errors.Is(err, keys.ErrNoHistory):
		writeError(w, http.StatusNotFound, "no history for this key type", err)
	case errors.Is(err, keys.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "key store unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// keyTypeParam parses and validates the {type} URL parameter.
func keyTypeParam(r *http.Request) (keys.KeyType, error) {
	kt := keys.KeyType(chi.URLParam(r, "type"))
	if !kt.Valid() {
		return "", keys.ErrUnknownKeyType
	}
	return kt, nil
}

// =============================================================================
// KEY ENDPOINTS
// =============================================================================

// GetMapping handles GET /api/keys/{type}.
// Returns the full published join table for one key type.
func (h *Handler) GetMapping(w http.ResponseWriter, r *http.Request) {
	kt, err := keyTypeParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	snap, err := h.store.Snapshot(r.Context(), kt)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rows := make([]KeyRowDTO, 0, len(snap.Keys))
	for id, key := range snap.Keys {
		rows = append(rows, KeyRowDTO{AccountID: string(id), KeyValue: int64(key)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].AccountID < rows[j].AccountID })

	writeJSON(w, http.StatusOK, MappingDTO{
		KeyType:  string(kt),
		Accounts: len(rows),
		Rows:     rows,
	})
}

// GetAccountKey handles GET /api/keys/{type}/accounts/{id}.
// The account id is canonicalized before lookup so callers may pass
// raw extract values.
func (h *Handler) GetAccountKey(w http.ResponseWriter, r *http.Request) {
	kt, err := keyTypeParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	id := keys.NormalizeAccountID(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "empty account id", nil)
		return
	}

	key, err := h.store.Lookup(r.Context(), kt, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, KeyRowDTO{AccountID: string(id), KeyValue: int64(key)})
}

// GetAccountHistory handles GET /api/keys/{type}/accounts/{id}/history.
func (h *Handler) GetAccountHistory(w http.ResponseWriter, r *http.Request) {
	kt, err := keyTypeParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	id := keys.NormalizeAccountID(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "empty account id", nil)
		return
	}

	entries, err := h.store.History(r.Context(), kt, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]HistoryEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, HistoryEntryDTO{
			RunID:       e.RunID,
			PublishedAt: e.PublishedAt.Format(time.RFC3339),
			KeyValue:    int64(e.Key),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RUN ENDPOINTS
// =============================================================================

// CreateRun handles POST /api/runs.
// Accepts an account extract inline and executes a full run against
// the configured key types. Runs are serialized by the engine; a
// request that arrives while another run holds the lock waits.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Accounts) == 0 {
		writeError(w, http.StatusBadRequest, "accounts must not be empty", nil)
		return
	}

	report, err := h.engine.Run(r.Context(), req.Accounts, uuid.NewString())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if report.Failed() {
		// Partial success: some key types published, some did not.
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, toRunReportDTO(report))
}

// GetLatestRun handles GET /api/runs/latest.
func (h *Handler) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	report := h.engine.LastReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "no runs yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRunReportDTO(report))
}

// GetPublishes handles GET /api/runs/publishes?limit=N.
func (h *Handler) GetPublishes(w http.ResponseWriter, r *http.Request) {
	if h.log == nil {
		writeError(w, http.StatusNotFound, "publish log not available", nil)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	records, err := h.log.Publishes(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]PublishDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, PublishDTO{
			RunID:       rec.RunID,
			KeyType:     string(rec.KeyType),
			PublishedAt: rec.PublishedAt.Format(time.RFC3339),
			Accounts:    rec.Accounts,
			NextKey:     int64(rec.NextKey),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetHealth handles GET /api/health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
