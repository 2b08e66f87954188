package bridge

import (
	"sort"
	"time"

	"github.com/fakeyudi/afk/internal/mailbox"
)

// batch aggregates one session's permission burst during its collection
// window.
type batch struct {
	sessionKey string
	slot       int
	started    time.Time
	events     []mailbox.Event
}

// batcher holds at most one open batch per session. A batch opens on the
// first permission event of a burst and flushes once its window elapses. A
// flush that fails transiently leaves the batch open, so the next iteration
// retries it and late events keep joining.
type batcher struct {
	window time.Duration
	open   map[string]*batch
}

func newBatcher(window time.Duration) *batcher {
	return &batcher{window: window, open: make(map[string]*batch)}
}

// add appends an event to the session's open batch, starting one if needed.
func (b *batcher) add(sessionKey string, slot int, ev mailbox.Event, now time.Time) {
	cur, ok := b.open[sessionKey]
	if !ok {
		cur = &batch{sessionKey: sessionKey, slot: slot, started: now}
		b.open[sessionKey] = cur
	}
	cur.events = append(cur.events, ev)
}

// due returns batches whose window has elapsed, oldest first. They stay open
// until remove is called, so a failed dispatch is retried.
func (b *batcher) due(now time.Time) []*batch {
	var out []*batch
	for _, cur := range b.open {
		if now.Sub(cur.started) >= b.window {
			out = append(out, cur)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].started.Before(out[j].started) })
	return out
}

// remove closes the session's open batch.
func (b *batcher) remove(sessionKey string) {
	delete(b.open, sessionKey)
}
