package bridge

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Journal is the daemon's durable memory, kept in a local sqlite file so a
// restart loses nothing that matters: per-mailbox read cursors (events are
// never re-delivered), the channel update offset, per-session trust and
// counters, and the pending entries whose buttons an operator may still tap.
type Journal struct {
	db *sql.DB
}

// PendingKind distinguishes what a pending entry is waiting for.
type PendingKind string

const (
	// PendingPermission awaits an allow/deny tap.
	PendingPermission PendingKind = "permission"
	// PendingStop awaits an instruction or a stop tap.
	PendingStop PendingKind = "stop"
)

// Pending is one dispatched entry awaiting an operator decision. Key is the
// event id for single dispatches and a fresh batch id for combined ones;
// EventIDs lists every mailbox event the decision applies to.
type Pending struct {
	Key         string
	SessionKey  string
	Kind        PendingKind
	Slot        int
	MessageID   int64
	CreatedAt   time.Time
	StaleWarned bool
	EventIDs    []string
}

// SessionState is the per-session bookkeeping the resilience features run on.
type SessionState struct {
	Trusted      bool
	Approvals    int
	Interactions int
	WarnedLevel  int
	LastActivity time.Time
	LastIdlePing time.Time
}

// OpenJournal opens (creating if needed) the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	// modernc.org/sqlite uses a file path as DSN.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := initJournalSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing journal: %w", err)
	}

	// Single-process local DB; one connection avoids writer contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Journal{db: db}, nil
}

func initJournalSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS cursors (
  session_key TEXT PRIMARY KEY,
  offset      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
  session_key    TEXT PRIMARY KEY,
  trusted        INTEGER NOT NULL DEFAULT 0,
  approvals      INTEGER NOT NULL DEFAULT 0,
  interactions   INTEGER NOT NULL DEFAULT 0,
  warned_level   INTEGER NOT NULL DEFAULT 0,
  last_activity  INTEGER NOT NULL DEFAULT 0,
  last_idle_ping INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS pending (
  key          TEXT PRIMARY KEY,
  session_key  TEXT NOT NULL,
  kind         TEXT NOT NULL,
  slot         INTEGER NOT NULL,
  message_id   INTEGER NOT NULL,
  created_at   INTEGER NOT NULL,
  stale_warned INTEGER NOT NULL DEFAULT 0,
  event_ids    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS channel (
  id            INTEGER PRIMARY KEY CHECK (id = 1),
  update_offset INTEGER NOT NULL
);
`)
	return err
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Cursor returns the read offset for a mailbox log; an unseen mailbox starts
// at zero.
func (j *Journal) Cursor(sessionKey string) (int64, error) {
	var offset int64
	err := j.db.QueryRow(`SELECT offset FROM cursors WHERE session_key = ?`, sessionKey).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading cursor: %w", err)
	}
	return offset, nil
}

// SetCursor records how far the daemon has read a mailbox log.
func (j *Journal) SetCursor(sessionKey string, offset int64) error {
	_, err := j.db.Exec(`
INSERT INTO cursors(session_key, offset) VALUES(?, ?)
ON CONFLICT(session_key) DO UPDATE SET offset = excluded.offset
`, sessionKey, offset)
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// UpdateOffset returns the channel poll offset to resume from.
func (j *Journal) UpdateOffset() (int64, error) {
	var offset int64
	err := j.db.QueryRow(`SELECT update_offset FROM channel WHERE id = 1`).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading update offset: %w", err)
	}
	return offset, nil
}

// SetUpdateOffset records the channel poll position.
func (j *Journal) SetUpdateOffset(offset int64) error {
	_, err := j.db.Exec(`
INSERT INTO channel(id, update_offset) VALUES(1, ?)
ON CONFLICT(id) DO UPDATE SET update_offset = excluded.update_offset
`, offset)
	if err != nil {
		return fmt.Errorf("saving update offset: %w", err)
	}
	return nil
}

// Session returns the bookkeeping row for a session; an unseen session is all
// zeroes.
func (j *Journal) Session(sessionKey string) (SessionState, error) {
	var (
		s                      SessionState
		trusted                int
		lastActivity, lastPing int64
	)
	err := j.db.QueryRow(`
SELECT trusted, approvals, interactions, warned_level, last_activity, last_idle_ping
FROM sessions WHERE session_key = ?
`, sessionKey).Scan(&trusted, &s.Approvals, &s.Interactions, &s.WarnedLevel, &lastActivity, &lastPing)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionState{}, nil
	}
	if err != nil {
		return SessionState{}, fmt.Errorf("reading session state: %w", err)
	}
	s.Trusted = trusted != 0
	if lastActivity > 0 {
		s.LastActivity = time.Unix(lastActivity, 0).UTC()
	}
	if lastPing > 0 {
		s.LastIdlePing = time.Unix(lastPing, 0).UTC()
	}
	return s, nil
}

// SetTrusted flips the sticky trust flag.
func (j *Journal) SetTrusted(sessionKey string, trusted bool) error {
	v := 0
	if trusted {
		v = 1
	}
	_, err := j.db.Exec(`
INSERT INTO sessions(session_key, trusted) VALUES(?, ?)
ON CONFLICT(session_key) DO UPDATE SET trusted = excluded.trusted
`, sessionKey, v)
	if err != nil {
		return fmt.Errorf("saving trust flag: %w", err)
	}
	return nil
}

// AddApproval counts one human approval signal and returns the new total.
func (j *Journal) AddApproval(sessionKey string) (int, error) {
	return j.increment(sessionKey, "approvals")
}

// AddInteraction counts one permission or stop event against the session's
// context budget and returns the new total.
func (j *Journal) AddInteraction(sessionKey string) (int, error) {
	return j.increment(sessionKey, "interactions")
}

func (j *Journal) increment(sessionKey, column string) (int, error) {
	q := fmt.Sprintf(`
INSERT INTO sessions(session_key, %[1]s) VALUES(?, 1)
ON CONFLICT(session_key) DO UPDATE SET %[1]s = %[1]s + 1
`, column)
	if _, err := j.db.Exec(q, sessionKey); err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", column, err)
	}
	var n int
	q = fmt.Sprintf(`SELECT %s FROM sessions WHERE session_key = ?`, column)
	if err := j.db.QueryRow(q, sessionKey).Scan(&n); err != nil {
		return 0, fmt.Errorf("reading %s: %w", column, err)
	}
	return n, nil
}

// SetWarnedLevel records the highest context-budget level already warned
// about, so each crossing fires once.
func (j *Journal) SetWarnedLevel(sessionKey string, level int) error {
	_, err := j.db.Exec(`
INSERT INTO sessions(session_key, warned_level) VALUES(?, ?)
ON CONFLICT(session_key) DO UPDATE SET warned_level = excluded.warned_level
`, sessionKey, level)
	if err != nil {
		return fmt.Errorf("saving warned level: %w", err)
	}
	return nil
}

// TouchActivity records when the session last saw real traffic (events or
// operator actions; keep-alive heartbeats do not count).
func (j *Journal) TouchActivity(sessionKey string, at time.Time) error {
	_, err := j.db.Exec(`
INSERT INTO sessions(session_key, last_activity) VALUES(?, ?)
ON CONFLICT(session_key) DO UPDATE SET last_activity = excluded.last_activity
`, sessionKey, at.Unix())
	if err != nil {
		return fmt.Errorf("saving activity time: %w", err)
	}
	return nil
}

// SetIdlePing records when an idle ping was last sent.
func (j *Journal) SetIdlePing(sessionKey string, at time.Time) error {
	_, err := j.db.Exec(`
INSERT INTO sessions(session_key, last_idle_ping) VALUES(?, ?)
ON CONFLICT(session_key) DO UPDATE SET last_idle_ping = excluded.last_idle_ping
`, sessionKey, at.Unix())
	if err != nil {
		return fmt.Errorf("saving idle ping time: %w", err)
	}
	return nil
}

// ResetContext is the single reset point for a context clear: trust revoked,
// approval and interaction counters zeroed, warning marks cleared. Activity
// timestamps survive.
func (j *Journal) ResetContext(sessionKey string) error {
	_, err := j.db.Exec(`
UPDATE sessions SET trusted = 0, approvals = 0, interactions = 0, warned_level = 0
WHERE session_key = ?
`, sessionKey)
	if err != nil {
		return fmt.Errorf("resetting session context: %w", err)
	}
	return nil
}

// AddPending records a dispatched entry awaiting a decision. Re-recording a
// key replaces the entry, which covers a crash between dispatch and cursor
// save re-sending the same event.
func (j *Journal) AddPending(p Pending) error {
	ids, err := json.Marshal(p.EventIDs)
	if err != nil {
		return fmt.Errorf("encoding pending event ids: %w", err)
	}
	_, err = j.db.Exec(`
INSERT INTO pending(key, session_key, kind, slot, message_id, created_at, stale_warned, event_ids)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  session_key = excluded.session_key,
  kind = excluded.kind,
  slot = excluded.slot,
  message_id = excluded.message_id,
  created_at = excluded.created_at,
  stale_warned = excluded.stale_warned,
  event_ids = excluded.event_ids
`, p.Key, p.SessionKey, string(p.Kind), p.Slot, p.MessageID, p.CreatedAt.Unix(), boolToInt(p.StaleWarned), string(ids))
	if err != nil {
		return fmt.Errorf("saving pending entry: %w", err)
	}
	return nil
}

// Pending looks up one pending entry by its key.
func (j *Journal) Pending(key string) (Pending, bool, error) {
	row := j.db.QueryRow(`
SELECT key, session_key, kind, slot, message_id, created_at, stale_warned, event_ids
FROM pending WHERE key = ?
`, key)
	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Pending{}, false, nil
	}
	if err != nil {
		return Pending{}, false, err
	}
	return p, true, nil
}

// PendingAll returns every pending entry, oldest first.
func (j *Journal) PendingAll() ([]Pending, error) {
	rows, err := j.db.Query(`
SELECT key, session_key, kind, slot, message_id, created_at, stale_warned, event_ids
FROM pending ORDER BY created_at ASC, key ASC
`)
	if err != nil {
		return nil, fmt.Errorf("listing pending entries: %w", err)
	}
	defer rows.Close()

	var out []Pending
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// OpenStop returns the session's most recent pending stop, if any.
func (j *Journal) OpenStop(sessionKey string) (Pending, bool, error) {
	row := j.db.QueryRow(`
SELECT key, session_key, kind, slot, message_id, created_at, stale_warned, event_ids
FROM pending WHERE session_key = ? AND kind = ?
ORDER BY created_at DESC, key DESC LIMIT 1
`, sessionKey, string(PendingStop))
	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Pending{}, false, nil
	}
	if err != nil {
		return Pending{}, false, err
	}
	return p, true, nil
}

// RemovePending drops a resolved or superseded entry.
func (j *Journal) RemovePending(key string) error {
	if _, err := j.db.Exec(`DELETE FROM pending WHERE key = ?`, key); err != nil {
		return fmt.Errorf("removing pending entry: %w", err)
	}
	return nil
}

// MarkStaleWarned flags an entry so its staleness warning fires once.
func (j *Journal) MarkStaleWarned(key string) error {
	if _, err := j.db.Exec(`UPDATE pending SET stale_warned = 1 WHERE key = ?`, key); err != nil {
		return fmt.Errorf("marking stale warning: %w", err)
	}
	return nil
}

// SessionKeys returns every session the journal holds any row for, so the
// daemon can sweep entries whose slot no longer exists.
func (j *Journal) SessionKeys() ([]string, error) {
	rows, err := j.db.Query(`
SELECT session_key FROM cursors
UNION
SELECT session_key FROM sessions
UNION
SELECT session_key FROM pending
`)
	if err != nil {
		return nil, fmt.Errorf("listing journal sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("listing journal sessions: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// DropSession removes everything the journal knows about a session: its
// cursor, its counters, and all its pending entries. Used on deactivation and
// zombie cleanup.
func (j *Journal) DropSession(sessionKey string) error {
	for _, q := range []string{
		`DELETE FROM pending WHERE session_key = ?`,
		`DELETE FROM sessions WHERE session_key = ?`,
		`DELETE FROM cursors WHERE session_key = ?`,
	} {
		if _, err := j.db.Exec(q, sessionKey); err != nil {
			return fmt.Errorf("dropping session from journal: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (Pending, error) {
	var (
		p       Pending
		kind    string
		created int64
		warned  int
		ids     string
	)
	if err := row.Scan(&p.Key, &p.SessionKey, &kind, &p.Slot, &p.MessageID, &created, &warned, &ids); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Pending{}, err
		}
		return Pending{}, fmt.Errorf("reading pending entry: %w", err)
	}
	p.Kind = PendingKind(kind)
	p.CreatedAt = time.Unix(created, 0).UTC()
	p.StaleWarned = warned != 0
	if err := json.Unmarshal([]byte(ids), &p.EventIDs); err != nil {
		return Pending{}, fmt.Errorf("decoding pending event ids: %w", err)
	}
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
