package registry

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
)

// checkMirrored verifies that the forward and reverse indexes describe the
// same set of (session, uri) pairs and that the pair counter agrees.
func checkMirrored(t *testing.T, r *Registry) {
	t.Helper()

	n := 0
	for uri, sessions := range r.forward {
		if len(sessions) == 0 {
			t.Errorf("forward[%q] is an empty set, should have been pruned", uri)
		}
		for session := range sessions {
			if _, ok := r.reverse[session][uri]; !ok {
				t.Errorf("forward has (%q, %q) but reverse does not", session, uri)
			}
			n++
		}
	}
	for session, uris := range r.reverse {
		if len(uris) == 0 {
			t.Errorf("reverse[%q] is an empty set, should have been pruned", session)
		}
		for uri := range uris {
			if _, ok := r.forward[uri][session]; !ok {
				t.Errorf("reverse has (%q, %q) but forward does not", session, uri)
			}
		}
	}
	if r.pairs != n {
		t.Errorf("pair counter: got %d, want %d", r.pairs, n)
	}
}

func TestSubscribe_Idempotent(t *testing.T) {
	r := New()
	if !r.Subscribe("s1", "/orders/42") {
		t.Error("first subscribe: got false, want true")
	}
	if r.Subscribe("s1", "/orders/42") {
		t.Error("repeat subscribe: got true, want false")
	}
	if got := r.SubscribersOf("/orders/42"); len(got) != 1 {
		t.Errorf("subscribers: got %d, want 1", len(got))
	}
	if got := r.SubscriptionCount(); got != 1 {
		t.Errorf("SubscriptionCount: got %d, want 1", got)
	}
	checkMirrored(t, r)
}

func TestUnsubscribe_UnknownIsNoop(t *testing.T) {
	r := New()
	if r.Unsubscribe("ghost", "/nothing") {
		t.Error("unsubscribe of unknown pair: got true, want false")
	}
	r.Subscribe("s1", "/a")
	if r.Unsubscribe("s1", "/b") {
		t.Error("unsubscribe of unwatched uri: got true, want false")
	}
	if got := r.SubscriptionCount(); got != 1 {
		t.Errorf("SubscriptionCount: got %d, want 1", got)
	}
	checkMirrored(t, r)
}

func TestUnsubscribe_PrunesEmptySets(t *testing.T) {
	r := New()
	r.Subscribe("s1", "/a")
	r.Unsubscribe("s1", "/a")

	if got := r.ResourceCount(); got != 0 {
		t.Errorf("ResourceCount: got %d, want 0", got)
	}
	if got := r.SessionCount(); got != 0 {
		t.Errorf("SessionCount: got %d, want 0", got)
	}
	checkMirrored(t, r)
}

func TestRemoveSession_ReleasesEverything(t *testing.T) {
	r := New()
	r.Subscribe("s1", "/a")
	r.Subscribe("s1", "/b")
	r.Subscribe("s2", "/a")

	if got := r.RemoveSession("s1"); got != 2 {
		t.Errorf("RemoveSession: released %d, want 2", got)
	}
	if got := r.SubscribersOf("/a"); len(got) != 1 || got[0] != "s2" {
		t.Errorf("subscribers of /a: got %v, want [s2]", got)
	}
	if got := r.SubscribersOf("/b"); got != nil {
		t.Errorf("subscribers of /b: got %v, want nil", got)
	}
	if got := r.Subscriptions("s1"); got != nil {
		t.Errorf("subscriptions of s1: got %v, want nil", got)
	}
	checkMirrored(t, r)
}

func TestRemoveSession_UnknownReleasesNothing(t *testing.T) {
	r := New()
	r.Subscribe("s1", "/a")
	if got := r.RemoveSession("ghost"); got != 0 {
		t.Errorf("RemoveSession of unknown session: got %d, want 0", got)
	}
	checkMirrored(t, r)
}

func TestSubscribersOf_SnapshotIsStable(t *testing.T) {
	r := New()
	r.Subscribe("s1", "/a")
	r.Subscribe("s2", "/a")

	snap := r.SubscribersOf("/a")
	r.RemoveSession("s1")
	r.RemoveSession("s2")

	sort.Strings(snap)
	if len(snap) != 2 || snap[0] != "s1" || snap[1] != "s2" {
		t.Errorf("snapshot changed under mutation: got %v", snap)
	}
}

func TestCounts(t *testing.T) {
	r := New()
	r.Subscribe("s1", "/a")
	r.Subscribe("s1", "/b")
	r.Subscribe("s2", "/a")

	if got := r.ResourceCount(); got != 2 {
		t.Errorf("ResourceCount: got %d, want 2", got)
	}
	if got := r.SessionCount(); got != 2 {
		t.Errorf("SessionCount: got %d, want 2", got)
	}
	if got := r.SubscriptionCount(); got != 3 {
		t.Errorf("SubscriptionCount: got %d, want 3", got)
	}
}

// TestIndexes_StayMirroredUnderRandomOps drives a deterministic pseudo-random
// mix of every mutation and re-checks the mirror invariant after each step.
func TestIndexes_StayMirroredUnderRandomOps(t *testing.T) {
	r := New()
	rng := rand.New(rand.NewSource(1))

	sessions := make([]string, 8)
	for i := range sessions {
		sessions[i] = fmt.Sprintf("s%d", i)
	}
	uris := make([]string, 12)
	for i := range uris {
		uris[i] = fmt.Sprintf("/res/%d", i)
	}

	for i := 0; i < 2000; i++ {
		session := sessions[rng.Intn(len(sessions))]
		uri := uris[rng.Intn(len(uris))]
		switch rng.Intn(5) {
		case 0, 1:
			r.Subscribe(session, uri)
		case 2, 3:
			r.Unsubscribe(session, uri)
		case 4:
			r.RemoveSession(session)
		}
		checkMirrored(t, r)
		if t.Failed() {
			t.Fatalf("invariant broken at step %d", i)
		}
	}
}
