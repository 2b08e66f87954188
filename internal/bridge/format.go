package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/fakeyudi/afk/internal/mailbox"
	"github.com/fakeyudi/afk/internal/telegram"
)

const (
	// lastMessageLimit caps the agent output echoed into a stop message.
	lastMessageLimit = 600
	// echoLimit caps an instruction echoed back in a confirmation edit.
	echoLimit = 200
	// batchItemLimit caps one line of a combined permission list.
	batchItemLimit = 120
)

func formatPermission(slot int, ev mailbox.Event) string {
	tool := ev.ToolName
	if tool == "" {
		tool = "?"
	}
	return fmt.Sprintf(
		"🔐 <b>S%d — Permission Request</b>\n\n<b>Tool:</b> %s\n<pre>%s</pre>",
		slot, telegram.EscapeHTML(tool), telegram.EscapeHTML(ev.Description),
	)
}

func formatBatch(slot int, events []mailbox.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔐 <b>S%d — %d Permission Requests</b>\n\n", slot, len(events))
	for i, ev := range events {
		tool := ev.ToolName
		if tool == "" {
			tool = "?"
		}
		desc := truncate(firstLine(ev.Description), batchItemLimit)
		fmt.Fprintf(&b, "%d. <b>%s</b> — %s\n", i+1, telegram.EscapeHTML(tool), telegram.EscapeHTML(desc))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStop(slot int, ev mailbox.Event) string {
	lastMsg := ev.LastMessage
	if lastMsg != "" {
		lastMsg = telegram.EscapeHTML(truncate(lastMsg, lastMessageLimit))
	}
	return fmt.Sprintf(
		"✅ <b>S%d — Task Complete</b>\n\n%s\n\n<i>Reply with next instruction or let it timeout to stop.</i>",
		slot, lastMsg,
	)
}

func formatNotification(slot int, ev mailbox.Event) string {
	emoji := "📢"
	switch ev.NotificationType {
	case "permission_prompt":
		emoji = "🔔"
	case "idle_prompt":
		emoji = "💤"
	}
	return fmt.Sprintf("%s <b>S%d</b> — %s\n%s",
		emoji, slot, telegram.EscapeHTML(ev.Title), telegram.EscapeHTML(ev.Message))
}

func formatActivation(slot int, project string) string {
	if project == "" {
		project = "unknown"
	}
	return fmt.Sprintf("📡 <b>S%d — AFK Activated</b>\nProject: %s", slot, telegram.EscapeHTML(project))
}

func formatDeactivation(slot int) string {
	return fmt.Sprintf("👋 <b>S%d — AFK Deactivated</b>", slot)
}

func formatTrustedApproval(slot int, tool string) string {
	if tool == "" {
		tool = "?"
	}
	return fmt.Sprintf("🤝 <b>S%d</b> — Auto-approved %s (trusted session)", slot, telegram.EscapeHTML(tool))
}

func formatTrustGranted(slot int) string {
	return fmt.Sprintf("🤝 <b>S%d</b> — Session trusted. Tool use is auto-approved until /clear.", slot)
}

func formatQueuedDelivered(slot int, instruction string) string {
	return fmt.Sprintf("▶️ <b>S%d</b> — Continuing with queued instruction:\n<i>%s</i>",
		slot, telegram.EscapeHTML(truncate(instruction, echoLimit)))
}

func formatQueuedAck(slot int) string {
	return fmt.Sprintf("📥 Queued for S%d — delivered when the current task completes.", slot)
}

func formatStaleWarning(slot int, age time.Duration) string {
	return fmt.Sprintf("⏳ <b>S%d</b> — Permission request unanswered for %s.", slot, humanDuration(age))
}

func formatIdlePing(slot int, idle time.Duration) string {
	return fmt.Sprintf("💤 <b>S%d</b> — Still waiting after %s of silence. The session stays open until you reply or stop it.",
		slot, humanDuration(idle))
}

func formatContextWarning(slot, interactions int) string {
	return fmt.Sprintf(
		"📈 <b>S%d — Context Budget</b>\n%d interactions this session. Consider compacting or clearing before quality degrades.",
		slot, interactions,
	)
}

func formatAmbiguous(ordinals []int) string {
	tags := make([]string, len(ordinals))
	for i, n := range ordinals {
		tags[i] = fmt.Sprintf("S%d", n)
	}
	return fmt.Sprintf("Which session? Reply with: <b>S1:</b> your instruction\nActive: %s",
		strings.Join(tags, ", "))
}

func formatNoSession() string {
	return "No active session. Activate one first."
}

// Edit texts replace a pending message once its decision lands.

func editApproved(slot int) string {
	return fmt.Sprintf("✅ <b>S%d</b> — Approved", slot)
}

func editDenied(slot int) string {
	return fmt.Sprintf("❌ <b>S%d</b> — Denied", slot)
}

func editStopped(slot int) string {
	return fmt.Sprintf("🛑 <b>S%d</b> — Stopped", slot)
}

func editContinuing(slot int, instruction string) string {
	return fmt.Sprintf("▶️ <b>S%d</b> — Continuing:\n<i>%s</i>",
		slot, telegram.EscapeHTML(truncate(instruction, echoLimit)))
}

func editDismissed(slot int) string {
	return fmt.Sprintf("👍 <b>S%d</b> — Warning dismissed", slot)
}

func editCompacting(slot int) string {
	return fmt.Sprintf("🗜 <b>S%d</b> — Compacting context", slot)
}

func editClearing(slot int) string {
	return fmt.Sprintf("🧹 <b>S%d</b> — Clearing context", slot)
}

func formatSentAck(slot int) string {
	return fmt.Sprintf("📨 Sent to S%d", slot)
}

func permissionKeyboard(key string) [][]telegram.Button {
	return [][]telegram.Button{
		{
			{Text: "✅ Approve", CallbackData: "allow:" + key},
			{Text: "❌ Deny", CallbackData: "deny:" + key},
		},
		{
			{Text: "🤝 Trust session", CallbackData: "trust:" + key},
		},
	}
}

func batchKeyboard(key string) [][]telegram.Button {
	return [][]telegram.Button{
		{
			{Text: "✅ Approve all", CallbackData: "allowall:" + key},
			{Text: "❌ Deny all", CallbackData: "denyall:" + key},
		},
		{
			{Text: "🤝 Trust session", CallbackData: "trust:" + key},
		},
	}
}

func stopKeyboard(key string) [][]telegram.Button {
	return [][]telegram.Button{
		{
			{Text: "🛑 Let it stop", CallbackData: "stop:" + key},
		},
	}
}

func warningKeyboard(sessionKey string) [][]telegram.Button {
	return [][]telegram.Button{
		{
			{Text: "🗜 Compact", CallbackData: "ctxcompact:" + sessionKey},
			{Text: "🧹 Clear", CallbackData: "ctxclear:" + sessionKey},
			{Text: "👍 Dismiss", CallbackData: "ctxdismiss:" + sessionKey},
		},
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
