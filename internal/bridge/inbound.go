package bridge

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/afk/internal/mailbox"
	"github.com/fakeyudi/afk/internal/state"
	"github.com/fakeyudi/afk/internal/telegram"
)

// slotPrefix matches an explicit "S2: do the thing" target in a free-text
// reply.
var slotPrefix = regexp.MustCompile(`^[Ss]([1-9])\s*:\s*`)

// handleCallback dispatches one button tap by its verb.
func (d *Daemon) handleCallback(ctx context.Context, table *state.Table, cb telegram.CallbackQuery) {
	verb, arg, ok := strings.Cut(cb.Data, ":")
	if !ok {
		d.ack(ctx, cb.ID, "")
		return
	}
	switch verb {
	case "allow", "allowall":
		d.resolvePermission(ctx, table, cb, arg, true, false)
	case "deny", "denyall":
		d.resolvePermission(ctx, table, cb, arg, false, false)
	case "trust":
		d.resolvePermission(ctx, table, cb, arg, true, true)
	case "stop":
		d.resolveStop(ctx, table, cb, arg)
	case "ctxcompact":
		d.ack(ctx, cb.ID, "Compacting")
		d.applyContextButton(ctx, table, cb, arg, "/compact")
	case "ctxclear":
		d.ack(ctx, cb.ID, "Clearing")
		d.applyContextButton(ctx, table, cb, arg, "/clear")
	case "ctxdismiss":
		d.ack(ctx, cb.ID, "Dismissed")
		if n, _, ok := table.FindBySession(arg); ok && cb.Message != nil {
			d.editInline(ctx, table, arg, cb.Message.MessageID, editDismissed(n))
		}
	default:
		d.log.Warn("unknown callback verb", zap.String("data", cb.Data))
		d.ack(ctx, cb.ID, "")
	}
}

// resolvePermission settles a pending permission entry (single or batch) with
// one decision for every event id it covers. A trust tap approves the entry
// it rides on and marks the session trusted.
func (d *Daemon) resolvePermission(ctx context.Context, table *state.Table, cb telegram.CallbackQuery, key string, allow, trust bool) {
	p, ok, err := d.journal.Pending(key)
	if err != nil {
		d.log.Error("looking up pending entry", zap.String("key", key), zap.Error(err))
		d.ack(ctx, cb.ID, "")
		return
	}
	if !ok || p.Kind != PendingPermission {
		d.ack(ctx, cb.ID, "Already handled")
		return
	}

	resp := mailbox.DenyResponse("Denied via Telegram")
	if allow {
		resp = mailbox.AllowResponse()
	}
	mb := d.root.Mailbox(p.SessionKey)
	for _, id := range p.EventIDs {
		if err := mb.WriteResponse(id, resp); err != nil && !errors.Is(err, mailbox.ErrAlreadyResponded) {
			d.log.Error("writing response", zap.String("event", id), zap.Error(err))
		}
	}
	if err := d.journal.RemovePending(p.Key); err != nil {
		d.log.Error("removing pending entry", zap.String("key", p.Key), zap.Error(err))
	}
	d.touchActivity(p.SessionKey)

	toast, text := "Denied", editDenied(p.Slot)
	if allow {
		toast, text = "Approved", editApproved(p.Slot)
	}
	d.ack(ctx, cb.ID, toast)
	d.edit(ctx, table, p, text)

	if allow {
		d.recordApproval(ctx, table, p, trust)
	}
}

// recordApproval counts one human approval signal and grants trust when the
// threshold is reached or the tap asked for it outright.
func (d *Daemon) recordApproval(ctx context.Context, table *state.Table, p Pending, explicitTrust bool) {
	count, err := d.journal.AddApproval(p.SessionKey)
	if err != nil {
		d.log.Error("counting approval", zap.String("session", p.SessionKey), zap.Error(err))
		return
	}
	st, err := d.journal.Session(p.SessionKey)
	if err != nil {
		d.log.Error("reading session state", zap.String("session", p.SessionKey), zap.Error(err))
		return
	}
	if st.Trusted {
		return
	}
	if !explicitTrust && count < d.cfg.SessionTrustThreshold {
		return
	}
	if err := d.journal.SetTrusted(p.SessionKey, true); err != nil {
		d.log.Error("granting trust", zap.String("session", p.SessionKey), zap.Error(err))
		return
	}
	d.log.Info("session trusted", zap.Int("slot", p.Slot), zap.Int("approvals", count))
	d.send(ctx, table, p.SessionKey, formatTrustGranted(p.Slot), nil)
}

// resolveStop ends a pending stop with an empty instruction, which tells the
// waiting hook to let the host finish the session.
func (d *Daemon) resolveStop(ctx context.Context, table *state.Table, cb telegram.CallbackQuery, key string) {
	p, ok, err := d.journal.Pending(key)
	if err != nil {
		d.log.Error("looking up pending entry", zap.String("key", key), zap.Error(err))
		d.ack(ctx, cb.ID, "")
		return
	}
	if !ok || p.Kind != PendingStop {
		d.ack(ctx, cb.ID, "Already handled")
		return
	}

	err = d.root.Mailbox(p.SessionKey).WriteResponse(p.EventIDs[0], mailbox.InstructionResponse(""))
	if err != nil && !errors.Is(err, mailbox.ErrAlreadyResponded) {
		d.log.Error("writing stop response", zap.String("event", p.EventIDs[0]), zap.Error(err))
	}
	if err := d.journal.RemovePending(p.Key); err != nil {
		d.log.Error("removing pending entry", zap.String("key", p.Key), zap.Error(err))
	}
	d.touchActivity(p.SessionKey)
	d.ack(ctx, cb.ID, "Stopping")
	d.edit(ctx, table, p, editStopped(p.Slot))
}

// applyContextButton turns a warning-keyboard tap into a durable
// context_command event and retires the warning message's controls.
func (d *Daemon) applyContextButton(ctx context.Context, table *state.Table, cb telegram.CallbackQuery, sessionKey, command string) {
	n, _, ok := table.FindBySession(sessionKey)
	if !ok {
		return
	}
	d.appendContextCommand(sessionKey, command)
	if cb.Message != nil {
		text := editCompacting(n)
		if command == "/clear" {
			text = editClearing(n)
		}
		d.editInline(ctx, table, sessionKey, cb.Message.MessageID, text)
	}
}

// appendContextCommand writes a synthesized context_command into the
// session's log so the regular event handler applies it on the next scan.
func (d *Daemon) appendContextCommand(sessionKey, command string) {
	ev := mailbox.NewEvent(mailbox.KindContextCommand, sessionKey)
	ev.Command = command
	if err := d.root.Mailbox(sessionKey).Append(ev); err != nil {
		d.log.Error("appending context command", zap.String("session", sessionKey), zap.Error(err))
	}
}

// handleMessage routes a free-text reply to a session, then either resolves
// that session's open stop with it or queues it for the next one.
func (d *Daemon) handleMessage(ctx context.Context, table *state.Table, msg telegram.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	key, n, ok := d.routeMessage(ctx, table, msg, &text)
	if !ok {
		return
	}
	d.touchActivity(key)

	if text == "/clear" || text == "/compact" {
		d.appendContextCommand(key, text)
		d.send(ctx, table, key, formatSentAck(n), nil)
		return
	}

	stop, open, err := d.journal.OpenStop(key)
	if err != nil {
		d.log.Error("looking up open stop", zap.String("session", key), zap.Error(err))
		return
	}
	if open {
		err := d.root.Mailbox(key).WriteResponse(stop.EventIDs[0], mailbox.InstructionResponse(text))
		switch {
		case errors.Is(err, mailbox.ErrAlreadyResponded):
			// The entry went stale under us; fall back to queueing.
			if err := d.journal.RemovePending(stop.Key); err != nil {
				d.log.Error("removing pending entry", zap.String("key", stop.Key), zap.Error(err))
			}
		case err != nil:
			d.log.Error("writing instruction", zap.String("event", stop.EventIDs[0]), zap.Error(err))
			return
		default:
			if err := d.journal.RemovePending(stop.Key); err != nil {
				d.log.Error("removing pending entry", zap.String("key", stop.Key), zap.Error(err))
			}
			d.typing[key] = time.Time{}
			d.edit(ctx, table, stop, editContinuing(stop.Slot, text))
			d.send(ctx, table, key, formatSentAck(n), nil)
			return
		}
	}

	if err := d.root.Mailbox(key).QueueInstruction(text); err != nil {
		d.log.Error("queueing instruction", zap.String("session", key), zap.Error(err))
		return
	}
	d.send(ctx, table, key, formatQueuedAck(n), nil)
}

// routeMessage picks the session a reply belongs to: its thread, an explicit
// S<n>: prefix, the last session that opened a stop, or the only active one.
// Anything else earns a prompt listing the live slots. A prefix match strips
// the prefix from text.
func (d *Daemon) routeMessage(ctx context.Context, table *state.Table, msg telegram.Message, text *string) (string, int, bool) {
	if msg.MessageThreadID > 0 {
		for _, n := range table.Ordinals() {
			if table.Slots[n].ThreadID == msg.MessageThreadID {
				return table.Slots[n].SessionKey, n, true
			}
		}
		// A topic this daemon does not own; leave it alone.
		d.log.Debug("message in unknown thread", zap.Int64("thread", msg.MessageThreadID))
		return "", 0, false
	}

	if m := slotPrefix.FindStringSubmatch(*text); m != nil {
		n := int(m[1][0] - '0')
		if slot, ok := table.Slots[n]; ok {
			*text = strings.TrimSpace((*text)[len(m[0]):])
			return slot.SessionKey, n, true
		}
		d.notifyUnrouted(ctx, table)
		return "", 0, false
	}

	if d.replyTarget != "" {
		if n, slot, ok := table.FindBySession(d.replyTarget); ok {
			return slot.SessionKey, n, true
		}
		d.replyTarget = ""
	}

	if len(table.Slots) == 1 {
		n := table.Ordinals()[0]
		return table.Slots[n].SessionKey, n, true
	}

	d.notifyUnrouted(ctx, table)
	return "", 0, false
}

func (d *Daemon) notifyUnrouted(ctx context.Context, table *state.Table) {
	text := formatNoSession()
	if !table.Empty() {
		text = formatAmbiguous(table.Ordinals())
	}
	if _, err := d.gw.SendMessage(ctx, 0, text, nil); err != nil {
		d.log.Warn("sending routing prompt", zap.Error(err))
	}
}

// editInline rewrites a message that is not tracked as a pending entry, such
// as a context warning.
func (d *Daemon) editInline(ctx context.Context, table *state.Table, sessionKey string, messageID int64, text string) {
	if err := d.gw.EditMessage(ctx, messageID, text, nil); err != nil {
		if telegram.IsDestinationGone(err) {
			if n, _, ok := table.FindBySession(sessionKey); ok {
				d.zombieCleanup(table, n, err)
			}
			return
		}
		d.log.Warn("editing message", zap.Int64("message", messageID), zap.Error(err))
	}
}

func (d *Daemon) ack(ctx context.Context, callbackID, text string) {
	if err := d.gw.AnswerCallback(ctx, callbackID, text); err != nil {
		d.log.Debug("answering callback", zap.Error(err))
	}
}

func (d *Daemon) touchActivity(sessionKey string) {
	if err := d.journal.TouchActivity(sessionKey, d.now()); err != nil {
		d.log.Error("recording activity", zap.String("session", sessionKey), zap.Error(err))
	}
}
