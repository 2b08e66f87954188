// Package bridge implements the routing daemon: a single control loop that
// scans session mailboxes for new events, renders them into the messaging
// channel, and feeds operator decisions back into the mailboxes. The loop
// also carries the resilience duties that make unattended sessions safe to
// leave alone: permission batching, session trust, stale and zombie
// detection, idle pings, and context-budget warnings.
package bridge

import (
	"context"
	"time"

	"github.com/fakeyudi/afk/internal/telegram"
)

// Gateway is the messaging channel as the daemon consumes it. Implementations
// must return an error satisfying telegram.IsDestinationGone when the
// conversation target no longer exists; every other failure is treated as
// transient and retried on a later iteration.
type Gateway interface {
	// SendMessage delivers HTML text into a thread (0 = chat root),
	// optionally with inline controls, and returns the sent message's id.
	SendMessage(ctx context.Context, threadID int64, text string, rows [][]telegram.Button) (int64, error)
	// EditMessage rewrites a sent message; empty rows drop its keyboard.
	EditMessage(ctx context.Context, messageID int64, text string, rows [][]telegram.Button) error
	// AnswerCallback acknowledges a button tap.
	AnswerCallback(ctx context.Context, callbackID, text string) error
	// SendTyping shows a transient typing indicator in a thread.
	SendTyping(ctx context.Context, threadID int64) error
	// CreateTopic opens a named thread and returns its reference.
	CreateTopic(ctx context.Context, name string) (int64, error)
	// DeleteTopic removes a thread.
	DeleteTopic(ctx context.Context, threadID int64) error
	// GetUpdates polls for inbound messages and taps at or after offset.
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

var _ Gateway = (*telegram.Client)(nil)
