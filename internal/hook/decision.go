package hook

import (
	"encoding/json"
	"fmt"
	"io"
)

// The host reads at most one JSON document from the hook's stdout. These
// writers produce the three documents the host understands; everything else
// the handler wants to say must stay off stdout.

type permissionDecision struct {
	Behavior string `json:"behavior"`
	Message  string `json:"message,omitempty"`
}

type permissionOutput struct {
	HookSpecificOutput struct {
		HookEventName string             `json:"hookEventName"`
		Decision      permissionDecision `json:"decision"`
	} `json:"hookSpecificOutput"`
}

func writePermissionDecision(w io.Writer, d permissionDecision) error {
	var out permissionOutput
	out.HookSpecificOutput.HookEventName = EventPermissionRequest
	out.HookSpecificOutput.Decision = d
	return writeJSON(w, out)
}

// WriteAllow emits an allow decision for a permission request.
func WriteAllow(w io.Writer) error {
	return writePermissionDecision(w, permissionDecision{Behavior: "allow"})
}

// WriteDeny emits a deny decision with a reason the agent will see.
func WriteDeny(w io.Writer, message string) error {
	return writePermissionDecision(w, permissionDecision{Behavior: "deny", Message: message})
}

// WriteContinuation blocks a stop: the host keeps the turn going and feeds
// the instruction back to the agent.
func WriteContinuation(w io.Writer, instruction string) error {
	return writeJSON(w, struct {
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	}{"block", instruction})
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding decision: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing decision: %w", err)
	}
	return nil
}
