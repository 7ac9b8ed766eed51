package api

import "github.com/consistd/consistd/broker/internal/metrics"

// InvalidateRequest is the body of POST /api/v1/invalidate.
type InvalidateRequest struct {
	URI     string `json:"uri"`
	Payload []byte `json:"payload,omitempty"` // base64 in JSON, opaque to the broker
}

// InvalidateResponse acknowledges an accepted or refused change report.
type InvalidateResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State         string `json:"state"`
	Sessions      int    `json:"sessions"`
	Resources     int    `json:"resources"`
	Subscriptions int    `json:"subscriptions"`
}

// StatsResponse is the payload for GET /api/v1/stats: every counter the
// broker keeps plus the live gauges.
type StatsResponse struct {
	metrics.Snapshot

	Sessions      int    `json:"sessions"`
	Resources     int    `json:"resources"`
	Subscriptions int    `json:"subscriptions"`
	Backlog       int    `json:"backlog"`
	GeneratedAt   string `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
