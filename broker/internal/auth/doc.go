// Package auth guards the broker's ingest surface with static API keys.
//
// NewGuard(mode, header, key) builds a Guard; Guard.Authorize(r) checks one
// HTTP request. When mode != "apikey" or key == "", all requests pass
// through (local development with auth disabled). Guard.Update swaps the
// credentials in place, which is how config hot-reload rotates keys without
// a restart.
//
// The public WebSocket port is intentionally unguarded: subscribers only
// learn that a uri changed, while the write path (reporting changes) is the
// surface worth a key.
package auth
