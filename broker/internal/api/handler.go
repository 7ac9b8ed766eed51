package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/consistd/consistd/broker/internal/auth"
	"github.com/consistd/consistd/broker/internal/ingest"
	"github.com/consistd/consistd/broker/internal/metrics"
)

// Handler is the HTTP handler for all /api/v1/* endpoints on the ingest port.
type Handler struct {
	svc     *ingest.Service
	guard   *auth.Guard
	met     *metrics.Metrics
	gauges  metrics.Gauges
	maxBody int64
	mux     *http.ServeMux
}

// New creates a Handler wired to the given ingest service and registers all
// routes. maxPayload bounds the accepted invalidate request body.
func New(svc *ingest.Service, guard *auth.Guard, met *metrics.Metrics, gauges metrics.Gauges, maxPayload int) http.Handler {
	h := &Handler{
		svc:    svc,
		guard:  guard,
		met:    met,
		gauges: gauges,
		// Allowance for the JSON envelope and base64 expansion around the payload.
		maxBody: int64(maxPayload)*4/3 + 1024,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("/api/v1/invalidate", h.invalidate)
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/stats", h.stats)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// invalidate handles POST /api/v1/invalidate — the change report entrypoint
// for backends. Accepted reports answer 202 before fan-out happens.
func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.guard.Authorize(r); err != nil {
		jsonErr(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req InvalidateRequest
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err := h.svc.ReportChange(r.Context(), req.URI, req.Payload)
	switch {
	case err == nil:
		jsonResp(w, http.StatusAccepted, InvalidateResponse{OK: true})
	case errors.Is(err, ingest.ErrEmptyURI):
		jsonResp(w, http.StatusBadRequest, InvalidateResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ingest.ErrBacklogFull):
		jsonResp(w, http.StatusServiceUnavailable, InvalidateResponse{OK: false, Error: err.Error()})
	default:
		slog.Error("api: report failed", "uri", req.URI, "err", err)
		jsonResp(w, http.StatusInternalServerError, InvalidateResponse{OK: false, Error: err.Error()})
	}
}

// health returns GET /api/v1/health — liveness plus headline gauges.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		State:         "ok",
		Sessions:      gaugeVal(h.gauges.Sessions),
		Resources:     gaugeVal(h.gauges.Resources),
		Subscriptions: gaugeVal(h.gauges.Subscriptions),
	})
}

// stats returns GET /api/v1/stats — the full counter dump.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, StatsResponse{
		Snapshot:      h.met.Snapshot(),
		Sessions:      gaugeVal(h.gauges.Sessions),
		Resources:     gaugeVal(h.gauges.Resources),
		Subscriptions: gaugeVal(h.gauges.Subscriptions),
		Backlog:       h.svc.Backlog(),
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
	})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func gaugeVal(fn func() int) int {
	if fn == nil {
		return 0
	}
	return fn()
}
