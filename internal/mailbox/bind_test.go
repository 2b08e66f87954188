package mailbox

import (
	"sync"
	"testing"
)

func TestResolveDirectMatch(t *testing.T) {
	root := newTestRoot(t)
	createTestMailbox(t, root, "real-session-id")

	m, ok, err := root.Resolve("real-session-id")
	if err != nil || !ok {
		t.Fatalf("Resolve = (%v, %v)", ok, err)
	}
	if m.Key() != "real-session-id" {
		t.Errorf("resolved %q", m.Key())
	}
}

func TestResolveBoundMatch(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "provisional-1")
	if err := m.Bind("host-42"); err != nil {
		t.Fatal(err)
	}

	got, ok, err := root.Resolve("host-42")
	if err != nil || !ok {
		t.Fatalf("Resolve = (%v, %v)", ok, err)
	}
	if got.Key() != "provisional-1" {
		t.Errorf("resolved %q, want provisional-1", got.Key())
	}
}

func TestResolveClaimsSingleUnbound(t *testing.T) {
	root := newTestRoot(t)
	createTestMailbox(t, root, "provisional-1")

	m, ok, err := root.Resolve("host-42")
	if err != nil || !ok {
		t.Fatalf("Resolve = (%v, %v)", ok, err)
	}
	if m.Key() != "provisional-1" {
		t.Errorf("resolved %q", m.Key())
	}
	if bound, _ := m.BoundSession(); bound != "host-42" {
		t.Errorf("bound marker = %q", bound)
	}
}

func TestResolveRefusesZeroOrManyUnbound(t *testing.T) {
	root := newTestRoot(t)

	// No mailboxes at all: not our session.
	if _, ok, err := root.Resolve("host-42"); ok || err != nil {
		t.Fatalf("Resolve on empty root = (%v, %v)", ok, err)
	}

	// Two unbound candidates: guessing would hijack someone else's slot.
	createTestMailbox(t, root, "provisional-1")
	createTestMailbox(t, root, "provisional-2")
	if _, ok, err := root.Resolve("host-42"); ok || err != nil {
		t.Fatalf("Resolve with two unbound = (%v, %v)", ok, err)
	}

	// Neither got bound by the refusal.
	for _, key := range []string{"provisional-1", "provisional-2"} {
		if _, bound := root.Mailbox(key).BoundSession(); bound {
			t.Errorf("%s was bound by a refused resolve", key)
		}
	}
}

// Two hook processes for the same host session race to claim the last
// unbound mailbox; both must end up on the same one.
func TestResolveRaceSettlesOnOneMailbox(t *testing.T) {
	root := newTestRoot(t)
	createTestMailbox(t, root, "provisional-1")

	const racers = 8
	keys := make([]string, racers)
	oks := make([]bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, ok, err := root.Resolve("host-42")
			if err != nil {
				t.Errorf("racer %d: %v", i, err)
				return
			}
			oks[i] = ok
			if ok {
				keys[i] = m.Key()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < racers; i++ {
		if !oks[i] {
			t.Errorf("racer %d failed to resolve", i)
			continue
		}
		if keys[i] != "provisional-1" {
			t.Errorf("racer %d resolved %q", i, keys[i])
		}
	}
}
