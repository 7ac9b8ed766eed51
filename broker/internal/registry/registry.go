package registry

import "sync"

// Registry tracks which sessions watch which resource URIs.
//
// Two indexes are kept in lockstep under one mutex: forward (uri → sessions)
// answers fan-out lookups, reverse (session → uris) makes disconnect cleanup
// proportional to the session's own subscriptions instead of the whole table.
// Empty sets are pruned immediately, so a uri disappears when its last
// watcher leaves and neither index grows without bound.
type Registry struct {
	mu      sync.RWMutex
	forward map[string]map[string]struct{}
	reverse map[string]map[string]struct{}
	pairs   int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		forward: make(map[string]map[string]struct{}),
		reverse: make(map[string]map[string]struct{}),
	}
}

// Subscribe records that session watches uri. It reports whether the
// subscription is new; re-subscribing is a harmless no-op.
func (r *Registry) Subscribe(session, uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.forward[uri][session]; ok {
		return false
	}
	if r.forward[uri] == nil {
		r.forward[uri] = make(map[string]struct{})
	}
	r.forward[uri][session] = struct{}{}
	if r.reverse[session] == nil {
		r.reverse[session] = make(map[string]struct{})
	}
	r.reverse[session][uri] = struct{}{}
	r.pairs++
	return true
}

// Unsubscribe drops the session's subscription to uri. It reports whether
// the subscription existed; unsubscribing twice is a harmless no-op.
func (r *Registry) Unsubscribe(session, uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.forward[uri][session]; !ok {
		return false
	}
	delete(r.forward[uri], session)
	if len(r.forward[uri]) == 0 {
		delete(r.forward, uri)
	}
	delete(r.reverse[session], uri)
	if len(r.reverse[session]) == 0 {
		delete(r.reverse, session)
	}
	r.pairs--
	return true
}

// RemoveSession releases every subscription held by session and returns how
// many were released. Unknown sessions release nothing.
func (r *Registry) RemoveSession(session string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	uris := r.reverse[session]
	for uri := range uris {
		delete(r.forward[uri], session)
		if len(r.forward[uri]) == 0 {
			delete(r.forward, uri)
		}
	}
	delete(r.reverse, session)
	r.pairs -= len(uris)
	return len(uris)
}

// SubscribersOf returns a snapshot of the sessions watching uri. The slice
// is the caller's own; registry changes after the call do not affect it.
func (r *Registry) SubscribersOf(uri string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.forward[uri]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for session := range set {
		out = append(out, session)
	}
	return out
}

// Subscriptions returns a snapshot of the URIs watched by session.
func (r *Registry) Subscriptions(session string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.reverse[session]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for uri := range set {
		out = append(out, uri)
	}
	return out
}

// ResourceCount returns the number of URIs with at least one watcher.
func (r *Registry) ResourceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.forward)
}

// SessionCount returns the number of sessions holding at least one
// subscription.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reverse)
}

// SubscriptionCount returns the total number of live (session, uri) pairs.
func (r *Registry) SubscriptionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pairs
}
