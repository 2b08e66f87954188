// Package hook handles the host agent's lifecycle callbacks. Each callback
// arrives as one JSON payload on stdin of a fresh process; the handler
// routes it to the session's mailbox, optionally blocks for an operator
// decision, and prints at most one decision payload on stdout. Anything that
// goes wrong internally degrades to silence: a hook that crashes or babbles
// could stall the host's turn, so the host default always remains reachable.
package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Host callback names this handler reacts to. Anything else passes through
// untouched.
const (
	EventPermissionRequest = "PermissionRequest"
	EventStop              = "Stop"
	EventNotification      = "Notification"
)

// maxPayloadBytes bounds how much of stdin is trusted. Tool inputs can be
// large (whole file bodies) but anything past a megabyte is not a hook
// payload.
const maxPayloadBytes = 1 << 20

// ErrBadPayload marks stdin content that is not a hook payload.
var ErrBadPayload = errors.New("bad hook payload")

// Payload is the host's callback envelope. Fields are a union across the
// callback types, same as the mailbox event it usually turns into.
type Payload struct {
	SessionID     string `json:"session_id"`
	HookEventName string `json:"hook_event_name"`

	// PermissionRequest
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`

	// Stop
	LastAssistantMessage string `json:"last_assistant_message"`
	StopHookActive       bool   `json:"stop_hook_active"`

	// Notification
	NotificationType string `json:"notification_type"`
	Message          string `json:"message"`
	Title            string `json:"title"`
}

// ReadPayload decodes one callback payload from r, reading at most
// maxPayloadBytes.
func ReadPayload(r io.Reader) (Payload, error) {
	var p Payload
	if err := json.NewDecoder(io.LimitReader(r, maxPayloadBytes)).Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return p, nil
}
