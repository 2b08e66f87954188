package mailbox

import (
	"fmt"
	"path/filepath"

	"github.com/fakeyudi/afk/internal/lockfile"
)

const bindLockName = ".bind.lock"

// Resolve finds the mailbox serving sessionID. Match order:
//
//  1. a mailbox directory named exactly sessionID (activation knew the id);
//  2. a mailbox whose bound marker names sessionID;
//  3. if exactly one unbound mailbox exists, claim it for sessionID.
//
// With zero or several unbound mailboxes there is no safe guess, so the
// session is simply not ours: ok is false and the caller stays silent.
// Claiming runs under a root-level lock so two racing hook processes cannot
// both take the same last mailbox.
func (r *Root) Resolve(sessionID string) (*Mailbox, bool, error) {
	if m := r.Mailbox(sessionID); m.Exists() {
		return m, true, nil
	}
	if m, ok, err := r.findBound(sessionID); err != nil || ok {
		return m, ok, err
	}

	lock, err := lockfile.Acquire(filepath.Join(r.dir, bindLockName))
	if err != nil {
		return nil, false, fmt.Errorf("locking binder: %w", err)
	}
	defer lock.Release()

	// Re-check under the lock: the losing racer must find the winner's bind
	// instead of claiming a second mailbox for the same session.
	if m, ok, err := r.findBound(sessionID); err != nil || ok {
		return m, ok, err
	}
	unbound, err := r.unbound()
	if err != nil {
		return nil, false, err
	}
	if len(unbound) != 1 {
		return nil, false, nil
	}
	m := unbound[0]
	if err := m.Bind(sessionID); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (r *Root) findBound(sessionID string) (*Mailbox, bool, error) {
	keys, err := r.List()
	if err != nil {
		return nil, false, err
	}
	for _, key := range keys {
		m := r.Mailbox(key)
		if bound, ok := m.BoundSession(); ok && bound == sessionID {
			return m, true, nil
		}
	}
	return nil, false, nil
}

func (r *Root) unbound() ([]*Mailbox, error) {
	keys, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []*Mailbox
	for _, key := range keys {
		m := r.Mailbox(key)
		if _, ok := m.BoundSession(); !ok {
			out = append(out, m)
		}
	}
	return out, nil
}
