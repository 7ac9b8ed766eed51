// Package registry maintains consistd's subscription state: which session
// watches which resource URI.
//
// The registry holds a forward index (uri → sessions) for dispatch fan-out
// and a reverse index (session → uris) so a disconnect releases all of a
// session's subscriptions without scanning the full table. Both indexes
// mutate under a single mutex and always agree: a (session, uri) pair is in
// one exactly when it is in the other.
//
// Subscribe and Unsubscribe are idempotent. SubscribersOf returns a snapshot
// slice that stays valid while the registry keeps changing. Sessions are
// identified by opaque string IDs, never by connection pointers, so the
// registry holds no reference that could keep a dead connection alive.
package registry
