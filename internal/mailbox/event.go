// Package mailbox implements the per-session IPC directories that connect
// short-lived hook processes to the long-running daemon. Each active session
// owns one directory holding an append-only event log, single-use response
// files, and a handful of marker files. Every primitive here is a plain file
// operation chosen so that concurrent writers never need a shared lock: the
// log is written with one O_APPEND write per event, responses are created
// with O_EXCL and consumed by delete, and markers are empty-or-tiny files
// whose presence is the signal.
package mailbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the events that may appear in a mailbox log.
type Kind string

const (
	// KindActivation announces a freshly claimed slot to the daemon.
	KindActivation Kind = "activation"
	// KindPermissionRequest asks the operator to allow or deny a tool call.
	KindPermissionRequest Kind = "permission_request"
	// KindStop reports that the agent finished its turn and awaits direction.
	KindStop Kind = "stop"
	// KindNotification carries one-way informational messages.
	KindNotification Kind = "notification"
	// KindKeepAlive re-arms a pending stop so the daemon knows the hook is
	// still waiting.
	KindKeepAlive Kind = "keep_alive"
	// KindContextCommand reports a context-shaping action (/clear, /compact).
	KindContextCommand Kind = "context_command"
	// KindDeactivation asks the daemon to tear the session down.
	KindDeactivation Kind = "deactivation"
)

// Known reports whether k is one of the kinds this version understands.
// Logs are long-lived files; a newer writer may append kinds an older daemon
// has never heard of, and those must surface as errors rather than vanish.
func (k Kind) Known() bool {
	switch k {
	case KindActivation, KindPermissionRequest, KindStop, KindNotification,
		KindKeepAlive, KindContextCommand, KindDeactivation:
		return true
	}
	return false
}

var (
	// ErrUnknownEventKind marks a log line whose type is not in the Kind set.
	ErrUnknownEventKind = errors.New("unknown event kind")
	// ErrMalformedEvent marks a log line that is not a well-formed event.
	ErrMalformedEvent = errors.New("malformed event")
)

// Event is one line of the mailbox log. The struct is the union of every
// kind's fields; which fields are meaningful depends on Kind.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	// activation, deactivation
	Slot      int    `json:"slot,omitempty"`
	Project   string `json:"project,omitempty"`
	TopicName string `json:"topic_name,omitempty"`

	// permission_request
	ToolName    string          `json:"tool_name,omitempty"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
	Description string          `json:"description,omitempty"`

	// stop
	LastMessage    string `json:"last_message,omitempty"`
	StopHookActive bool   `json:"stop_hook_active,omitempty"`

	// keep_alive
	OriginalEventID string `json:"original_event_id,omitempty"`

	// notification
	NotificationType string `json:"notification_type,omitempty"`
	Message          string `json:"message,omitempty"`
	Title            string `json:"title,omitempty"`

	// context_command
	Command string `json:"command,omitempty"`
}

// NewEvent returns an event of the given kind with a fresh id and the
// current time. Kind-specific fields are filled in by the caller.
func NewEvent(kind Kind, sessionID string) Event {
	return Event{
		ID:        NewEventID(),
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// NewEventID returns a short random event id. Eight hex characters of a
// random UUID is plenty: ids only need to be unique within one mailbox.
func NewEventID() string {
	return uuid.NewString()[:8]
}

// ParseEvent decodes one log line. An unknown kind still yields the decoded
// event alongside ErrUnknownEventKind so the caller can log what it skipped.
func ParseEvent(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(bytes.TrimSpace(line), &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Kind == "" {
		return Event{}, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	if !ev.Kind.Known() {
		return ev, fmt.Errorf("%w: %q", ErrUnknownEventKind, ev.Kind)
	}
	return ev, nil
}
