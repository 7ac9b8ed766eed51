package auth

import (
	"fmt"
	"net/http"
	"sync"
)

// Guard enforces API key authentication on ingest requests.
//
// Behaviour:
//   - If mode != "apikey" or key == "", all requests are allowed
//     (pass-through, useful for local development with auth disabled).
//   - Otherwise the guard reads the named header and compares it to key.
//   - A missing or incorrect key fails Authorize.
//
// Credentials swap under a lock so a config reload can rotate the key
// without restarting the broker or dropping client sessions.
type Guard struct {
	mu     sync.RWMutex
	mode   string
	header string
	key    string
}

// NewGuard creates a guard holding the given credentials.
func NewGuard(mode, header, key string) *Guard {
	return &Guard{mode: mode, header: header, key: key}
}

// Update replaces the guard's credentials. In-flight requests finish against
// whichever credentials they loaded.
func (g *Guard) Update(mode, header, key string) {
	g.mu.Lock()
	g.mode = mode
	g.header = header
	g.key = key
	g.mu.Unlock()
}

// Authorize checks r against the current credentials. A nil error means the
// request may proceed.
func (g *Guard) Authorize(r *http.Request) error {
	g.mu.RLock()
	mode, header, key := g.mode, g.header, g.key
	g.mu.RUnlock()

	// Non-apikey modes or unconfigured key → allow everything.
	if mode != "apikey" || key == "" {
		return nil
	}

	got := r.Header.Get(header)
	if got == "" {
		return fmt.Errorf("missing api key: set the %s header", header)
	}
	if got != key {
		return fmt.Errorf("invalid api key")
	}
	return nil
}
