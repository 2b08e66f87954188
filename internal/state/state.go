// Package state persists the slot table: the small shared record of which
// sessions are active, which mailbox each one owns, and where the daemon is.
// Both the hook process and the daemon read-modify-write it wholesale under
// an exclusive lock; neither holds it open across an operation.
package state

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrCapacityExceeded is returned when every slot is occupied.
	ErrCapacityExceeded = errors.New("all slots are occupied")
	// ErrDuplicateSession is returned when the session key already owns a slot.
	ErrDuplicateSession = errors.New("session already active")
	// ErrDuplicateIntent is returned when another session already claimed the
	// same project and topic, which usually means a second activation raced in
	// the same terminal.
	ErrDuplicateIntent = errors.New("project and topic already active under another session")
)

// Slot describes one active session binding.
type Slot struct {
	SessionKey string    `json:"session_key"`
	Project    string    `json:"project"`
	TopicName  string    `json:"topic_name"`
	ThreadID   int64     `json:"thread_id,omitempty"` // remote forum topic, set by the daemon
	StartedAt  time.Time `json:"started_at"`
}

// Table is the whole persisted state: slots keyed by ordinal plus the
// daemon's liveness record.
type Table struct {
	Slots           map[int]Slot `json:"slots"`
	DaemonPID       int          `json:"daemon_pid,omitempty"`
	DaemonHeartbeat time.Time    `json:"daemon_heartbeat,omitempty"`
}

// NewTable returns an empty table ready for claims.
func NewTable() *Table {
	return &Table{Slots: make(map[int]Slot)}
}

// Claim assigns the lowest free ordinal in 1..maxSlots to slot and returns
// it. It fails without mutating the table when capacity is exhausted, when
// the session key already owns a slot, or when the same (project, topic)
// pair is active under a different session.
func (t *Table) Claim(maxSlots int, slot Slot) (int, error) {
	if t.Slots == nil {
		t.Slots = make(map[int]Slot)
	}
	if n, existing, ok := t.FindBySession(slot.SessionKey); ok {
		return 0, fmt.Errorf("%w: slot S%d (session %s)", ErrDuplicateSession, n, shortKey(existing.SessionKey))
	}
	if n, existing, ok := t.FindByIntent(slot.Project, slot.TopicName); ok && existing.SessionKey != slot.SessionKey {
		return 0, fmt.Errorf("%w: slot S%d", ErrDuplicateIntent, n)
	}
	for n := 1; n <= maxSlots; n++ {
		if _, taken := t.Slots[n]; !taken {
			t.Slots[n] = slot
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w (%d of %d)", ErrCapacityExceeded, len(t.Slots), maxSlots)
}

// Release removes the slot owned by sessionKey and reports which ordinal it
// held. Releasing an absent session is a no-op, not an error.
func (t *Table) Release(sessionKey string) (int, bool) {
	n, _, ok := t.FindBySession(sessionKey)
	if !ok {
		return 0, false
	}
	delete(t.Slots, n)
	return n, true
}

// FindBySession returns the ordinal and slot bound to sessionKey.
func (t *Table) FindBySession(sessionKey string) (int, Slot, bool) {
	for n, s := range t.Slots {
		if s.SessionKey == sessionKey {
			return n, s, true
		}
	}
	return 0, Slot{}, false
}

// FindByIntent returns the slot holding the given (project, topic) pair.
func (t *Table) FindByIntent(project, topic string) (int, Slot, bool) {
	for n, s := range t.Slots {
		if s.Project == project && s.TopicName == topic {
			return n, s, true
		}
	}
	return 0, Slot{}, false
}

// Ordinals returns the occupied slot numbers in ascending order.
func (t *Table) Ordinals() []int {
	out := make([]int, 0, len(t.Slots))
	for n := range t.Slots {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// SessionKeys returns the set of active mailbox keys.
func (t *Table) SessionKeys() map[string]int {
	out := make(map[string]int, len(t.Slots))
	for n, s := range t.Slots {
		out[s.SessionKey] = n
	}
	return out
}

// Empty reports whether no slots are active.
func (t *Table) Empty() bool {
	return len(t.Slots) == 0
}

// PrunedSlot records one slot removed by Prune and why.
type PrunedSlot struct {
	Ordinal    int
	SessionKey string
	Reason     string
}

// Prune removes slots whose sessions are demonstrably dead: the mailbox is
// gone or carries a kill marker, or the daemon vanished with a stale
// heartbeat. intact inspects the slot's mailbox and returns a reason when it
// is broken. The removed slots are returned so the caller can clean their
// mailbox directories.
func (t *Table) Prune(now time.Time, intact func(sessionKey string) (bool, string)) []PrunedSlot {
	daemonUp := t.DaemonAlive(now)
	var pruned []PrunedSlot
	for _, n := range t.Ordinals() {
		s := t.Slots[n]
		if s.SessionKey == "" {
			pruned = append(pruned, PrunedSlot{n, s.SessionKey, "session key missing"})
			delete(t.Slots, n)
			continue
		}
		if ok, reason := intact(s.SessionKey); !ok {
			pruned = append(pruned, PrunedSlot{n, s.SessionKey, reason})
			delete(t.Slots, n)
			continue
		}
		if !daemonUp {
			pruned = append(pruned, PrunedSlot{n, s.SessionKey, "daemon dead"})
			delete(t.Slots, n)
		}
	}
	return pruned
}

func shortKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}
