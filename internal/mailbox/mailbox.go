package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	eventsFile     = "events.jsonl"
	metaFile       = "meta.json"
	boundFile      = "bound_session"
	killFile       = "kill"
	forceClearFile = "force_clear"
	queuedFile     = "queued_instruction.json"
	processedFile  = "deactivation_processed"
	responsePrefix = "response-"
)

var (
	// ErrNoMailbox is returned when the addressed mailbox does not exist.
	ErrNoMailbox = errors.New("mailbox does not exist")
	// ErrAlreadyResponded is returned when a response for the event id exists;
	// the first answer wins and later ones must not overwrite it.
	ErrAlreadyResponded = errors.New("event already has a response")
	// ErrAlreadyBound is returned when a mailbox is bound to another session.
	ErrAlreadyBound = errors.New("mailbox already bound")
)

// Meta is the immutable record written when a mailbox is created.
type Meta struct {
	SessionKey string    `json:"session_key"`
	Slot       int       `json:"slot"`
	Project    string    `json:"project"`
	TopicName  string    `json:"topic_name"`
	Started    time.Time `json:"started"`
}

// Root is the directory holding one mailbox per active session.
type Root struct {
	dir string
}

// NewRoot returns a Root at dir, creating it if needed.
func NewRoot(dir string) (*Root, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating mailbox root: %w", err)
	}
	return &Root{dir: dir}, nil
}

// Dir returns the root directory path.
func (r *Root) Dir() string {
	return r.dir
}

// Mailbox addresses the mailbox for key without touching the filesystem.
func (r *Root) Mailbox(key string) *Mailbox {
	return &Mailbox{dir: filepath.Join(r.dir, key), key: key}
}

// Create makes the mailbox directory for meta.SessionKey and writes its meta
// record. Creating over an existing mailbox is an error: the slot table is
// supposed to prevent double activation.
func (r *Root) Create(meta Meta) (*Mailbox, error) {
	m := r.Mailbox(meta.SessionKey)
	if m.Exists() {
		return nil, fmt.Errorf("mailbox %s already exists", meta.SessionKey)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating mailbox: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding mailbox meta: %w", err)
	}
	if err := os.WriteFile(m.path(metaFile), append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("writing mailbox meta: %w", err)
	}
	return m, nil
}

// List returns the keys of all existing mailboxes, sorted.
func (r *Root) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Intact reports whether the mailbox for key is still usable, with a short
// reason when it is not. The slot table prunes slots that fail this check.
func (r *Root) Intact(key string) (bool, string) {
	m := r.Mailbox(key)
	if !m.Exists() {
		return false, "mailbox missing"
	}
	if _, err := os.Stat(m.path(metaFile)); err != nil {
		return false, "meta missing"
	}
	if _, killed := m.Killed(); killed {
		return false, "kill marker present"
	}
	return true, ""
}

// Sweep removes mailbox directories whose key is not in keep. Orphans appear
// when a crash interrupts deactivation between slot release and cleanup.
func (r *Root) Sweep(keep map[string]int) ([]string, error) {
	keys, err := r.List()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, key := range keys {
		if _, ok := keep[key]; ok {
			continue
		}
		if err := r.Mailbox(key).Remove(); err != nil {
			return removed, err
		}
		removed = append(removed, key)
	}
	return removed, nil
}

// Mailbox is one session's IPC directory.
type Mailbox struct {
	dir string
	key string
}

// Key returns the directory name the mailbox was created under (the
// provisional session key chosen at activation).
func (m *Mailbox) Key() string {
	return m.key
}

// Dir returns the mailbox directory path.
func (m *Mailbox) Dir() string {
	return m.dir
}

// Exists reports whether the mailbox directory is present.
func (m *Mailbox) Exists() bool {
	fi, err := os.Stat(m.dir)
	return err == nil && fi.IsDir()
}

// Remove deletes the mailbox directory and everything in it.
func (m *Mailbox) Remove() error {
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("removing mailbox: %w", err)
	}
	return nil
}

// Meta reads the mailbox's creation record.
func (m *Mailbox) Meta() (Meta, error) {
	data, err := os.ReadFile(m.path(metaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Meta{}, ErrNoMailbox
		}
		return Meta{}, fmt.Errorf("reading mailbox meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("parsing mailbox meta: %w", err)
	}
	return meta, nil
}

// Append adds one event to the log. The line is built in memory and handed
// to the kernel in a single O_APPEND write, so concurrent appenders cannot
// interleave partial lines.
func (m *Mailbox) Append(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	f, err := os.OpenFile(m.path(eventsFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoMailbox
		}
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// WriteResponse creates the single-use response file for eventID. The
// content is staged in a temp file and hard-linked into place, so the
// response appears complete or not at all, and only the first writer for an
// event id succeeds; later ones get ErrAlreadyResponded.
func (m *Mailbox) WriteResponse(eventID string, resp Response) error {
	if err := resp.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}

	tmp, err := os.CreateTemp(m.dir, ".response-*.tmp")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoMailbox
		}
		return fmt.Errorf("staging response: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing response: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	if err := os.Link(tmpName, m.responsePath(eventID)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrAlreadyResponded, eventID)
		}
		return fmt.Errorf("publishing response: %w", err)
	}
	return nil
}

// TakeResponse consumes the response for eventID: it reads the file and
// deletes it, so a response is observed at most once. The boolean reports
// whether a response was present. A file that does not parse is left in
// place and reported as an error; pollers treat that as "not yet available"
// and retry.
func (m *Mailbox) TakeResponse(eventID string) (Response, bool, error) {
	path := m.responsePath(eventID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Response{}, false, nil
		}
		return Response{}, false, fmt.Errorf("reading response: %w", err)
	}
	resp, err := parseResponse(data)
	if err != nil {
		return Response{}, false, err
	}
	if err := os.Remove(path); err != nil {
		return Response{}, false, fmt.Errorf("consuming response: %w", err)
	}
	return resp, true, nil
}

// Bind records sessionID as the host session this mailbox belongs to.
// Binding is first-write-wins: rebinding to the same session is a no-op,
// rebinding to a different one fails.
func (m *Mailbox) Bind(sessionID string) error {
	if current, ok := m.BoundSession(); ok {
		if current == sessionID {
			return nil
		}
		return fmt.Errorf("%w: to %s", ErrAlreadyBound, shorten(current))
	}
	if err := os.WriteFile(m.path(boundFile), []byte(sessionID+"\n"), 0o644); err != nil {
		return fmt.Errorf("binding mailbox: %w", err)
	}
	return nil
}

// BoundSession returns the bound host session id, if any.
func (m *Mailbox) BoundSession() (string, bool) {
	data, err := os.ReadFile(m.path(boundFile))
	if err != nil {
		return "", false
	}
	s := strings.TrimSpace(string(data))
	return s, s != ""
}

// Kill writes the kill marker telling every poller to abandon the session.
// The reason is stored in the marker for the hook's farewell message.
func (m *Mailbox) Kill(reason string) error {
	if err := os.WriteFile(m.path(killFile), []byte(reason+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing kill marker: %w", err)
	}
	return nil
}

// Killed reports whether the kill marker is present and what reason it holds.
func (m *Mailbox) Killed() (string, bool) {
	data, err := os.ReadFile(m.path(killFile))
	if err != nil {
		return "", false
	}
	reason := strings.TrimSpace(string(data))
	if reason == "" {
		reason = "session terminated"
	}
	return reason, true
}

// ForceClear drops the force-clear marker, used when the operator demands a
// context reset even though no poller is known to be waiting.
func (m *Mailbox) ForceClear() error {
	if err := os.WriteFile(m.path(forceClearFile), nil, 0o644); err != nil {
		return fmt.Errorf("writing force-clear marker: %w", err)
	}
	return nil
}

// TakeForceClear consumes the force-clear marker if present.
func (m *Mailbox) TakeForceClear() bool {
	return os.Remove(m.path(forceClearFile)) == nil
}

// QueueInstruction stores an instruction for a session that has no pending
// stop event. The next stop poll delivers it. Last write wins.
func (m *Mailbox) QueueInstruction(text string) error {
	data, err := json.Marshal(struct {
		Instruction string    `json:"instruction"`
		Timestamp   time.Time `json:"timestamp"`
	}{text, time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding queued instruction: %w", err)
	}
	if err := os.WriteFile(m.path(queuedFile), data, 0o644); err != nil {
		return fmt.Errorf("queueing instruction: %w", err)
	}
	return nil
}

// TakeQueuedInstruction consumes the queued instruction, if any.
func (m *Mailbox) TakeQueuedInstruction() (string, bool) {
	path := m.path(queuedFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	os.Remove(path)
	var q struct {
		Instruction string `json:"instruction"`
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return "", false
	}
	q.Instruction = strings.TrimSpace(q.Instruction)
	return q.Instruction, q.Instruction != ""
}

// MarkDeactivationProcessed signals that the daemon finished tearing down
// the session's remote side, unblocking the deactivate command.
func (m *Mailbox) MarkDeactivationProcessed() error {
	if err := os.WriteFile(m.path(processedFile), nil, 0o644); err != nil {
		return fmt.Errorf("writing deactivation marker: %w", err)
	}
	return nil
}

// DeactivationProcessed reports whether the daemon acknowledged teardown.
func (m *Mailbox) DeactivationProcessed() bool {
	_, err := os.Stat(m.path(processedFile))
	return err == nil
}

func (m *Mailbox) path(name string) string {
	return filepath.Join(m.dir, name)
}

func (m *Mailbox) responsePath(eventID string) string {
	return filepath.Join(m.dir, responsePrefix+eventID+".json")
}

func shorten(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}
