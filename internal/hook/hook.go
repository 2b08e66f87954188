package hook

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fakeyudi/afk/internal/config"
	"github.com/fakeyudi/afk/internal/mailbox"
)

// stopMessageLimit caps how much of the agent's final message rides inside a
// stop event; the channel renderer trims further.
const stopMessageLimit = 2000

// Handler processes one host callback. It never returns an error to the
// host: failures are logged and the handler goes silent, leaving the host's
// own defaults in charge.
type Handler struct {
	Config config.Config
	Root   *mailbox.Root
	Log    *zap.Logger
	Out    io.Writer // decision payloads (host stdout)
	Notice io.Writer // human-facing notes (host stderr, shown in terminal)
}

// Run reads one callback payload from in and handles it. The returned error
// is for the caller's log only; the process must still exit zero.
func (h *Handler) Run(ctx context.Context, in io.Reader) error {
	p, err := ReadPayload(in)
	if err != nil {
		return err
	}
	if p.SessionID == "" {
		return nil
	}

	mb, ok, err := h.Root.Resolve(p.SessionID)
	if err != nil {
		return fmt.Errorf("resolving session: %w", err)
	}
	if !ok {
		// Not a watched session. Most callbacks land here; stay quiet.
		h.Log.Debug("ignoring unwatched session", zap.String("session", p.SessionID))
		return nil
	}

	switch p.HookEventName {
	case EventPermissionRequest:
		return h.permission(ctx, mb, p)
	case EventStop:
		return h.stop(ctx, mb, p)
	case EventNotification:
		return h.notification(mb, p)
	default:
		return nil
	}
}

// permission asks the operator to allow or deny a tool call, unless policy
// approves it locally. On timeout no decision is emitted: the host's own
// permission flow takes over, which fails closed rather than auto-denying.
func (h *Handler) permission(ctx context.Context, mb *mailbox.Mailbox, p Payload) error {
	if autoApproved(h.Config, p.ToolName, p.ToolInput) {
		h.Log.Info("auto-approved tool call",
			zap.String("tool", p.ToolName), zap.String("session", mb.Key()))
		return WriteAllow(h.Out)
	}

	ev := mailbox.NewEvent(mailbox.KindPermissionRequest, mb.Key())
	ev.ToolName = p.ToolName
	ev.ToolInput = p.ToolInput
	ev.Description = DescribeToolCall(p.ToolName, p.ToolInput)
	if err := mb.Append(ev); err != nil {
		return fmt.Errorf("appending permission request: %w", err)
	}
	h.Log.Info("awaiting remote decision",
		zap.String("event", ev.ID), zap.String("tool", p.ToolName))

	res, err := mb.PollResponse(ctx, ev.ID, h.Config.PermissionWait())
	if err != nil {
		return err
	}
	switch {
	case res.Killed:
		h.farewell(res.KillReason)
		return nil
	case res.ForceClear:
		// The operator reset the session out from under us; unblock the call.
		h.Log.Info("force-clear during permission wait", zap.String("event", ev.ID))
		return WriteAllow(h.Out)
	case res.Response != nil:
		return h.applyDecision(ev.ID, *res.Response)
	default:
		h.Log.Info("permission wait timed out, leaving decision to host",
			zap.String("event", ev.ID))
		return nil
	}
}

func (h *Handler) applyDecision(eventID string, resp mailbox.Response) error {
	if resp.Kind != mailbox.ResponseDecision {
		h.Log.Warn("non-decision response to permission request",
			zap.String("event", eventID), zap.String("kind", string(resp.Kind)))
		return nil
	}
	if resp.Decision == mailbox.DecisionAllow {
		return WriteAllow(h.Out)
	}
	message := resp.Message
	if message == "" {
		message = "Denied via Telegram"
	}
	return WriteDeny(h.Out, message)
}

// stop reports the end of a turn and then waits for direction for as long
// as it takes. Every keep-alive interval without an answer appends a
// keep_alive heartbeat and re-arms the wait; only a kill marker, an explicit
// stop, or an instruction ends the loop.
func (h *Handler) stop(ctx context.Context, mb *mailbox.Mailbox, p Payload) error {
	ev := mailbox.NewEvent(mailbox.KindStop, mb.Key())
	ev.LastMessage = truncate(p.LastAssistantMessage, stopMessageLimit)
	ev.StopHookActive = p.StopHookActive
	if err := mb.Append(ev); err != nil {
		return fmt.Errorf("appending stop event: %w", err)
	}
	h.Log.Info("turn finished, holding session open",
		zap.String("event", ev.ID), zap.Bool("stop_hook_active", p.StopHookActive))

	for {
		res, err := mb.PollResponse(ctx, ev.ID, h.Config.KeepAliveInterval())
		if err != nil {
			return err
		}
		switch {
		case res.Killed:
			h.farewell(res.KillReason)
			return nil
		case res.ForceClear:
			return WriteContinuation(h.Out, "/clear")
		case res.Response != nil:
			resp := *res.Response
			if resp.Kind != mailbox.ResponseInstruction {
				h.Log.Warn("non-instruction response to stop event",
					zap.String("event", ev.ID), zap.String("kind", string(resp.Kind)))
				return nil
			}
			if resp.Instruction == "" {
				h.Log.Info("released to stop", zap.String("event", ev.ID))
				return nil
			}
			h.Log.Info("continuing with instruction", zap.String("event", ev.ID))
			return WriteContinuation(h.Out, resp.Instruction)
		default:
			ka := mailbox.NewEvent(mailbox.KindKeepAlive, mb.Key())
			ka.OriginalEventID = ev.ID
			if err := mb.Append(ka); err != nil {
				h.Log.Warn("keep-alive append failed", zap.Error(err))
			}
		}
	}
}

func (h *Handler) notification(mb *mailbox.Mailbox, p Payload) error {
	ev := mailbox.NewEvent(mailbox.KindNotification, mb.Key())
	ev.NotificationType = p.NotificationType
	ev.Message = p.Message
	ev.Title = p.Title
	return mb.Append(ev)
}

func (h *Handler) farewell(reason string) {
	fmt.Fprintf(h.Notice, "\nRemote session ended (%s). Returning control to the local console.\n", reason)
}
