package bridge

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fakeyudi/afk/internal/mailbox"
)

func TestFormatPermissionEscapesHTML(t *testing.T) {
	ev := mailbox.Event{
		Kind:        mailbox.KindPermissionRequest,
		ToolName:    "Bash",
		Description: "rm -rf <dir> && echo done",
	}
	got := formatPermission(2, ev)

	assert.Contains(t, got, "🔐 <b>S2 — Permission Request</b>")
	assert.Contains(t, got, "<b>Tool:</b> Bash")
	assert.Contains(t, got, "<pre>rm -rf &lt;dir&gt; &amp;&amp; echo done</pre>")
}

func TestFormatPermissionUnknownTool(t *testing.T) {
	got := formatPermission(1, mailbox.Event{Kind: mailbox.KindPermissionRequest})
	assert.Contains(t, got, "<b>Tool:</b> ?")
}

func TestFormatBatchNumbersAndTruncates(t *testing.T) {
	events := []mailbox.Event{
		{ToolName: "Bash", Description: "first line\nsecond line"},
		{ToolName: "Edit", Description: strings.Repeat("x", 300)},
	}
	got := formatBatch(3, events)

	assert.Contains(t, got, "🔐 <b>S3 — 2 Permission Requests</b>")
	assert.Contains(t, got, "1. <b>Bash</b> — first line")
	assert.NotContains(t, got, "second line", "only the first description line is listed")
	assert.Contains(t, got, "2. <b>Edit</b> — "+strings.Repeat("x", batchItemLimit)+"...")
	assert.False(t, strings.HasSuffix(got, "\n"))
}

func TestFormatStopTruncatesLastMessage(t *testing.T) {
	long := strings.Repeat("a", lastMessageLimit+50)
	got := formatStop(1, mailbox.Event{Kind: mailbox.KindStop, LastMessage: long})

	assert.Contains(t, got, "✅ <b>S1 — Task Complete</b>")
	assert.Contains(t, got, strings.Repeat("a", lastMessageLimit)+"...")
	assert.NotContains(t, got, strings.Repeat("a", lastMessageLimit+1))
	assert.Contains(t, got, "<i>Reply with next instruction or let it timeout to stop.</i>")
}

func TestFormatNotificationEmoji(t *testing.T) {
	cases := []struct {
		name  string
		typ   string
		emoji string
	}{
		{"permission prompt", "permission_prompt", "🔔"},
		{"idle prompt", "idle_prompt", "💤"},
		{"generic", "something_else", "📢"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := formatNotification(1, mailbox.Event{
				NotificationType: tc.typ, Title: "Title", Message: "Body",
			})
			assert.True(t, strings.HasPrefix(got, tc.emoji), got)
		})
	}
}

func TestFormatActivationFallsBackToUnknown(t *testing.T) {
	assert.Contains(t, formatActivation(1, ""), "Project: unknown")
	assert.Contains(t, formatActivation(2, "my<proj>"), "Project: my&lt;proj&gt;")
}

func TestKeyboardCallbackData(t *testing.T) {
	perm := permissionKeyboard("abc123")
	assert.Equal(t, "allow:abc123", perm[0][0].CallbackData)
	assert.Equal(t, "deny:abc123", perm[0][1].CallbackData)
	assert.Equal(t, "trust:abc123", perm[1][0].CallbackData)

	batch := batchKeyboard("b42")
	assert.Equal(t, "allowall:b42", batch[0][0].CallbackData)
	assert.Equal(t, "denyall:b42", batch[0][1].CallbackData)
	assert.Equal(t, "trust:b42", batch[1][0].CallbackData)

	stop := stopKeyboard("s7")
	assert.Equal(t, "stop:s7", stop[0][0].CallbackData)

	warn := warningKeyboard("sess-a")
	assert.Equal(t, "ctxcompact:sess-a", warn[0][0].CallbackData)
	assert.Equal(t, "ctxclear:sess-a", warn[0][1].CallbackData)
	assert.Equal(t, "ctxdismiss:sess-a", warn[0][2].CallbackData)
}

func TestTruncateIsRuneSafe(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 5))
	assert.Equal(t, "hél...", truncate("héllo", 3))
	assert.Equal(t, "🔐🔐...", truncate("🔐🔐🔐🔐", 2))
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "45s", humanDuration(45*time.Second))
	assert.Equal(t, "1m", humanDuration(90*time.Second))
	assert.Equal(t, "2m", humanDuration(2*time.Minute+10*time.Second))
	assert.Equal(t, "13h", humanDuration(13*time.Hour+5*time.Minute))
}
