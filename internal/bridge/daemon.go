package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/afk/internal/config"
	"github.com/fakeyudi/afk/internal/mailbox"
	"github.com/fakeyudi/afk/internal/state"
	"github.com/fakeyudi/afk/internal/telegram"
)

const (
	// scanInterval is the floor between control-loop iterations; the channel
	// long-poll stretches an iteration beyond it when the line is quiet.
	scanInterval = 500 * time.Millisecond
	// heartbeatInterval is how often the daemon refreshes its liveness record.
	heartbeatInterval = 30 * time.Second
	// channelPollTimeout bounds the inbound long-poll so one iteration never
	// blocks the rest of the loop for long.
	channelPollTimeout = time.Second
	// typingRefresh re-sends the transient typing indicator before the
	// channel's own one expires.
	typingRefresh = 4 * time.Second
)

// errNoSessions ends the loop when the slot table empties.
var errNoSessions = errors.New("no active sessions")

// Daemon is the bridge's long-running half: one control loop that moves
// mailbox events out to the channel and operator decisions back in. All
// session state lives in the slot table, the mailboxes, and the journal;
// the in-memory fields are re-derivable overlays.
type Daemon struct {
	cfg     config.Config
	store   *state.Store
	root    *mailbox.Root
	journal *Journal
	gw      Gateway
	log     *zap.Logger

	batches     *batcher
	undelivered map[string]mailbox.Event // stop events awaiting dispatch
	typing      map[string]time.Time     // instruction outstanding → last indicator
	replyTarget string                   // session that most recently opened a stop

	now func() time.Time
}

// New assembles a daemon over its collaborators.
func New(cfg config.Config, store *state.Store, root *mailbox.Root, journal *Journal, gw Gateway, log *zap.Logger) *Daemon {
	return &Daemon{
		cfg:         cfg,
		store:       store,
		root:        root,
		journal:     journal,
		gw:          gw,
		log:         log,
		batches:     newBatcher(cfg.BatchWindow()),
		undelivered: make(map[string]mailbox.Event),
		typing:      make(map[string]time.Time),
		now:         time.Now,
	}
}

// Run drives the control loop until the context is cancelled or the slot
// table empties. It returns nil on both of those clean endings.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("daemon starting",
		zap.Int("pid", os.Getpid()),
		zap.String("ipc", d.root.Dir()))
	defer d.clearLiveness()

	// Taps made while no daemon was running answer messages that no longer
	// have a pending entry behind them; drop them instead of replaying.
	if err := d.flushBacklog(ctx); err != nil {
		d.log.Warn("flushing update backlog", zap.Error(err))
	}
	d.heartbeat()

	wake := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.watchMailboxes(gctx, wake) })
	g.Go(func() error { return d.loop(gctx, wake) })

	err := g.Wait()
	if errors.Is(err, errNoSessions) || errors.Is(err, context.Canceled) {
		d.log.Info("daemon stopped")
		return nil
	}
	return err
}

// loop runs iterations forever, paced by the scan ticker and woken early by
// mailbox writes. A failed iteration is logged and the loop carries on; only
// cancellation and an empty slot table end it.
func (d *Daemon) loop(ctx context.Context, wake <-chan struct{}) error {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	lastBeat := d.now()
	for {
		empty, err := d.iterate(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			d.log.Error("iteration failed", zap.Error(err))
		}
		if empty {
			d.log.Info("slot table empty, shutting down")
			return errNoSessions
		}
		if d.now().Sub(lastBeat) >= heartbeatInterval {
			d.heartbeat()
			lastBeat = d.now()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

// iterate is one ordered control pass: scan mailboxes, flush due work, run
// the resilience checks, then poll the channel. It reports whether the slot
// table is empty. Step failures are logged inside each step; only a failure
// to read the table aborts the pass.
func (d *Daemon) iterate(ctx context.Context) (bool, error) {
	table, err := d.store.Load()
	if err != nil {
		return false, fmt.Errorf("loading slot table: %w", err)
	}
	if table.Empty() {
		return true, nil
	}

	d.sweepJournal(table)
	d.scanMailboxes(ctx, table)
	d.dispatchStops(ctx, table)
	d.flushBatches(ctx, table)
	d.sendTypingIndicators(ctx, table)
	d.warnStalePending(ctx, table)
	d.sendIdlePings(ctx, table)
	d.pollChannel(ctx, table)
	return table.Empty(), nil
}

// sweepJournal drops journal rows for sessions that no longer hold a slot
// (deactivated, pruned, or cleaned up by a previous daemon).
func (d *Daemon) sweepJournal(table *state.Table) {
	keys, err := d.journal.SessionKeys()
	if err != nil {
		d.log.Error("listing journal sessions", zap.Error(err))
		return
	}
	active := table.SessionKeys()
	for _, key := range keys {
		if _, ok := active[key]; ok {
			continue
		}
		if err := d.journal.DropSession(key); err != nil {
			d.log.Error("sweeping journal session", zap.String("session", key), zap.Error(err))
		}
	}
}

// scanMailboxes reads each active mailbox past its cursor and feeds the new
// events through the handler. The cursor only advances for sessions still
// present afterwards, so a zombie cleanup mid-scan never strands bookkeeping.
func (d *Daemon) scanMailboxes(ctx context.Context, table *state.Table) {
	for _, n := range table.Ordinals() {
		slot, ok := table.Slots[n]
		if !ok {
			continue
		}
		key := slot.SessionKey
		mb := d.root.Mailbox(key)

		cursor, err := d.journal.Cursor(key)
		if err != nil {
			d.log.Error("reading mailbox cursor", zap.String("session", key), zap.Error(err))
			continue
		}
		records, next, err := mb.ReadNew(cursor)
		if err != nil {
			d.log.Error("reading mailbox", zap.String("session", key), zap.Error(err))
			continue
		}
		for _, rec := range records {
			if rec.Err != nil {
				// Unknown kinds land here too; protocol drift must be seen.
				d.log.Error("bad event line", zap.String("session", key), zap.Error(rec.Err))
				continue
			}
			d.handleEvent(ctx, table, n, rec.Event)
			if _, still := table.Slots[n]; !still {
				break
			}
		}
		if _, still := table.Slots[n]; still && next != cursor {
			if err := d.journal.SetCursor(key, next); err != nil {
				d.log.Error("saving mailbox cursor", zap.String("session", key), zap.Error(err))
			}
		}
	}
}

// handleEvent is the single exhaustive dispatch over event kinds.
func (d *Daemon) handleEvent(ctx context.Context, table *state.Table, n int, ev mailbox.Event) {
	slot := table.Slots[n]
	key := slot.SessionKey

	if ev.Kind != mailbox.KindKeepAlive {
		// Any real event means the agent is talking again.
		delete(d.typing, key)
		d.touchActivity(key)
	}

	switch ev.Kind {
	case mailbox.KindActivation:
		d.handleActivation(ctx, table, n)
	case mailbox.KindPermissionRequest:
		d.handlePermission(ctx, table, n, ev)
	case mailbox.KindStop:
		d.handleStop(ctx, table, n, ev)
	case mailbox.KindNotification:
		d.send(ctx, table, key, formatNotification(n, ev), nil)
	case mailbox.KindKeepAlive:
		// Heartbeat only; the idle-ping pass reads its traces.
	case mailbox.KindContextCommand:
		d.handleContextCommand(ctx, table, n, ev)
	case mailbox.KindDeactivation:
		d.handleDeactivation(ctx, table, n)
	default:
		d.log.Error("unhandled event kind", zap.String("kind", string(ev.Kind)))
	}
}

// handleActivation opens the session's forum topic and greets it. A missing
// topic is survivable: sends fall back to the chat root until one exists.
func (d *Daemon) handleActivation(ctx context.Context, table *state.Table, n int) {
	slot := table.Slots[n]
	key := slot.SessionKey

	if slot.ThreadID == 0 {
		name := slot.TopicName
		if name == "" {
			name = fmt.Sprintf("S%d — %s", n, slot.Project)
		}
		threadID, err := d.gw.CreateTopic(ctx, name)
		switch {
		case telegram.IsDestinationGone(err):
			d.zombieCleanup(table, n, err)
			return
		case err != nil:
			d.log.Warn("creating topic", zap.Int("slot", n), zap.Error(err))
		default:
			err := d.store.Mutate(func(t *state.Table) error {
				if m, s, ok := t.FindBySession(key); ok {
					s.ThreadID = threadID
					t.Slots[m] = s
				}
				return nil
			})
			if err != nil {
				d.log.Error("saving thread ref", zap.Int("slot", n), zap.Error(err))
			}
			slot.ThreadID = threadID
			table.Slots[n] = slot
		}
	}

	d.send(ctx, table, key, formatActivation(n, slot.Project), nil)
}

// handlePermission counts the interaction, then either auto-approves for a
// trusted session or joins the session's batch window.
func (d *Daemon) handlePermission(ctx context.Context, table *state.Table, n int, ev mailbox.Event) {
	key := table.Slots[n].SessionKey
	d.countInteraction(ctx, table, key, n)

	st, err := d.journal.Session(key)
	if err != nil {
		d.log.Error("reading session state", zap.String("session", key), zap.Error(err))
	}
	if st.Trusted {
		err := d.root.Mailbox(key).WriteResponse(ev.ID, mailbox.AllowResponse())
		if err != nil && !errors.Is(err, mailbox.ErrAlreadyResponded) {
			d.log.Error("writing trusted approval", zap.String("event", ev.ID), zap.Error(err))
			return
		}
		d.send(ctx, table, key, formatTrustedApproval(n, ev.ToolName), nil)
		return
	}

	d.batches.add(key, n, ev, d.now())
}

// handleStop first drains a queued instruction, resolving the stop without
// bothering the operator; otherwise the stop is queued for dispatch.
func (d *Daemon) handleStop(ctx context.Context, table *state.Table, n int, ev mailbox.Event) {
	key := table.Slots[n].SessionKey
	d.countInteraction(ctx, table, key, n)

	mb := d.root.Mailbox(key)
	if instr, ok := mb.TakeQueuedInstruction(); ok {
		if err := mb.WriteResponse(ev.ID, mailbox.InstructionResponse(instr)); err != nil {
			d.log.Error("delivering queued instruction", zap.String("event", ev.ID), zap.Error(err))
			if qerr := mb.QueueInstruction(instr); qerr != nil {
				d.log.Error("re-queueing instruction", zap.Error(qerr))
			}
		} else {
			d.typing[key] = time.Time{}
			d.send(ctx, table, key, formatQueuedDelivered(n, instr), nil)
			return
		}
	}

	d.undelivered[key] = ev
	d.replyTarget = key
}

// handleContextCommand applies a context-shaping command: resolve an open
// stop with it directly, or leave a marker/queued instruction for the next
// poll to find. A /clear is also the single reset point for trust and
// counters.
func (d *Daemon) handleContextCommand(ctx context.Context, table *state.Table, n int, ev mailbox.Event) {
	key := table.Slots[n].SessionKey
	cmd := ev.Command
	if cmd == "" {
		return
	}
	if cmd == "/clear" {
		if err := d.journal.ResetContext(key); err != nil {
			d.log.Error("resetting session context", zap.String("session", key), zap.Error(err))
		}
	}

	mb := d.root.Mailbox(key)
	stop, open, err := d.journal.OpenStop(key)
	if err != nil {
		d.log.Error("looking up open stop", zap.String("session", key), zap.Error(err))
		return
	}
	if open {
		err := mb.WriteResponse(stop.EventIDs[0], mailbox.InstructionResponse(cmd))
		if err != nil && !errors.Is(err, mailbox.ErrAlreadyResponded) {
			d.log.Error("resolving stop with command", zap.String("event", stop.EventIDs[0]), zap.Error(err))
			return
		}
		if err := d.journal.RemovePending(stop.Key); err != nil {
			d.log.Error("removing pending stop", zap.Error(err))
		}
		d.typing[key] = time.Time{}
		d.edit(ctx, table, stop, editContinuing(n, cmd))
		return
	}
	if cmd == "/clear" {
		if err := mb.ForceClear(); err != nil {
			d.log.Error("writing force-clear marker", zap.String("session", key), zap.Error(err))
		}
		return
	}
	if err := mb.QueueInstruction(cmd); err != nil {
		d.log.Error("queueing instruction", zap.String("session", key), zap.Error(err))
	}
}

// handleDeactivation tears down the session's channel presence and
// acknowledges so the waiting CLI can finish removing the slot and mailbox.
func (d *Daemon) handleDeactivation(ctx context.Context, table *state.Table, n int) {
	slot := table.Slots[n]
	key := slot.SessionKey

	d.batches.remove(key)
	delete(d.typing, key)
	delete(d.undelivered, key)
	if d.replyTarget == key {
		d.replyTarget = ""
	}

	if slot.ThreadID > 0 {
		if err := d.gw.DeleteTopic(ctx, slot.ThreadID); err != nil && !telegram.IsDestinationGone(err) {
			d.log.Warn("deleting topic", zap.Int("slot", n), zap.Error(err))
		}
	}
	if err := d.root.Mailbox(key).MarkDeactivationProcessed(); err != nil {
		d.log.Error("acknowledging deactivation", zap.String("session", key), zap.Error(err))
	}
	// The topic is gone; say goodbye in the chat root.
	if _, err := d.gw.SendMessage(ctx, 0, formatDeactivation(n), nil); err != nil {
		d.log.Warn("sending farewell", zap.Error(err))
	}
}

// dispatchStops sends stop prompts that have not reached the channel yet.
// Transient failures leave them queued for the next pass.
func (d *Daemon) dispatchStops(ctx context.Context, table *state.Table) {
	for key, ev := range d.undelivered {
		n, _, ok := table.FindBySession(key)
		if !ok {
			delete(d.undelivered, key)
			continue
		}
		msgID, sent := d.send(ctx, table, key, formatStop(n, ev), stopKeyboard(ev.ID))
		if !sent {
			continue
		}
		p := Pending{
			Key:        ev.ID,
			SessionKey: key,
			Kind:       PendingStop,
			Slot:       n,
			MessageID:  msgID,
			CreatedAt:  d.now(),
			EventIDs:   []string{ev.ID},
		}
		if err := d.journal.AddPending(p); err != nil {
			d.log.Error("recording pending stop", zap.String("event", ev.ID), zap.Error(err))
		}
		delete(d.undelivered, key)
	}
}

// flushBatches dispatches permission batches whose window has elapsed: one
// event becomes an individual prompt, several become a combined list with
// approve-all/deny-all controls.
func (d *Daemon) flushBatches(ctx context.Context, table *state.Table) {
	for _, b := range d.batches.due(d.now()) {
		n, _, ok := table.FindBySession(b.sessionKey)
		if !ok {
			d.batches.remove(b.sessionKey)
			continue
		}

		var (
			key  string
			text string
			rows [][]telegram.Button
		)
		if len(b.events) == 1 {
			key = b.events[0].ID
			text = formatPermission(n, b.events[0])
			rows = permissionKeyboard(key)
		} else {
			key = mailbox.NewEventID()
			text = formatBatch(n, b.events)
			rows = batchKeyboard(key)
		}

		msgID, sent := d.send(ctx, table, b.sessionKey, text, rows)
		if !sent {
			continue
		}
		ids := make([]string, len(b.events))
		for i, ev := range b.events {
			ids[i] = ev.ID
		}
		p := Pending{
			Key:        key,
			SessionKey: b.sessionKey,
			Kind:       PendingPermission,
			Slot:       n,
			MessageID:  msgID,
			CreatedAt:  d.now(),
			EventIDs:   ids,
		}
		if err := d.journal.AddPending(p); err != nil {
			d.log.Error("recording pending permission", zap.String("key", key), zap.Error(err))
		}
		d.batches.remove(b.sessionKey)
	}
}

// sendTypingIndicators keeps the channel's transient indicator alive for
// sessions with an instruction outstanding.
func (d *Daemon) sendTypingIndicators(ctx context.Context, table *state.Table) {
	for key, last := range d.typing {
		n, slot, ok := table.FindBySession(key)
		if !ok {
			delete(d.typing, key)
			continue
		}
		if !last.IsZero() && d.now().Sub(last) < typingRefresh {
			continue
		}
		if err := d.gw.SendTyping(ctx, slot.ThreadID); err != nil {
			if telegram.IsDestinationGone(err) {
				d.zombieCleanup(table, n, err)
				continue
			}
			d.log.Debug("sending typing indicator", zap.Int("slot", n), zap.Error(err))
		}
		d.typing[key] = d.now()
	}
}

// warnStalePending nudges the operator once per permission entry that has
// waited past the staleness threshold.
func (d *Daemon) warnStalePending(ctx context.Context, table *state.Table) {
	pendings, err := d.journal.PendingAll()
	if err != nil {
		d.log.Error("listing pending entries", zap.Error(err))
		return
	}
	for _, p := range pendings {
		if p.Kind != PendingPermission || p.StaleWarned {
			continue
		}
		age := d.now().Sub(p.CreatedAt)
		if age < d.cfg.StaleAfter() {
			continue
		}
		if _, _, ok := table.FindBySession(p.SessionKey); !ok {
			continue
		}
		if _, sent := d.send(ctx, table, p.SessionKey, formatStaleWarning(p.Slot, age), nil); sent {
			if err := d.journal.MarkStaleWarned(p.Key); err != nil {
				d.log.Error("marking stale warning", zap.String("key", p.Key), zap.Error(err))
			}
		}
	}
}

// sendIdlePings reminds the operator about sessions that are still waiting on
// a stop but have heard nothing for the idle interval. Keep-alive heartbeats
// prove the hook is alive without counting as activity.
func (d *Daemon) sendIdlePings(ctx context.Context, table *state.Table) {
	interval := d.cfg.IdlePingInterval()
	for _, n := range table.Ordinals() {
		key := table.Slots[n].SessionKey
		_, waiting, err := d.journal.OpenStop(key)
		if err != nil {
			d.log.Error("looking up open stop", zap.String("session", key), zap.Error(err))
			continue
		}
		if !waiting {
			continue
		}
		st, err := d.journal.Session(key)
		if err != nil {
			d.log.Error("reading session state", zap.String("session", key), zap.Error(err))
			continue
		}
		now := d.now()
		if st.LastActivity.IsZero() || now.Sub(st.LastActivity) < interval {
			continue
		}
		if !st.LastIdlePing.IsZero() && now.Sub(st.LastIdlePing) < interval {
			continue
		}
		if _, sent := d.send(ctx, table, key, formatIdlePing(n, now.Sub(st.LastActivity)), nil); sent {
			if err := d.journal.SetIdlePing(key, now); err != nil {
				d.log.Error("recording idle ping", zap.String("session", key), zap.Error(err))
			}
		}
	}
}

// pollChannel drains inbound updates and dispatches them.
func (d *Daemon) pollChannel(ctx context.Context, table *state.Table) {
	offset, err := d.journal.UpdateOffset()
	if err != nil {
		d.log.Error("reading update offset", zap.Error(err))
		return
	}
	updates, err := d.gw.GetUpdates(ctx, offset, channelPollTimeout)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn("polling channel", zap.Error(err))
		}
		return
	}
	for _, u := range updates {
		if u.UpdateID >= offset {
			offset = u.UpdateID + 1
		}
		switch {
		case u.CallbackQuery != nil:
			d.handleCallback(ctx, table, *u.CallbackQuery)
		case u.Message != nil:
			d.handleMessage(ctx, table, *u.Message)
		}
	}
	if len(updates) > 0 {
		if err := d.journal.SetUpdateOffset(offset); err != nil {
			d.log.Error("saving update offset", zap.Error(err))
		}
	}
}

// countInteraction bumps the session's context budget and fires the one-shot
// warnings at the threshold and at 1.25x the threshold.
func (d *Daemon) countInteraction(ctx context.Context, table *state.Table, key string, n int) {
	count, err := d.journal.AddInteraction(key)
	if err != nil {
		d.log.Error("counting interaction", zap.String("session", key), zap.Error(err))
		return
	}
	threshold := d.cfg.ContextWarningThreshold
	level := 0
	switch {
	case count >= threshold*5/4:
		level = 2
	case count >= threshold:
		level = 1
	}
	if level == 0 {
		return
	}
	st, err := d.journal.Session(key)
	if err != nil {
		d.log.Error("reading session state", zap.String("session", key), zap.Error(err))
		return
	}
	if st.WarnedLevel >= level {
		return
	}
	if _, sent := d.send(ctx, table, key, formatContextWarning(n, count), warningKeyboard(key)); sent {
		if err := d.journal.SetWarnedLevel(key, level); err != nil {
			d.log.Error("recording warning level", zap.String("session", key), zap.Error(err))
		}
	}
}

// send delivers text into the session's thread. Destination loss triggers
// zombie cleanup; any other failure is logged and reported as not sent.
func (d *Daemon) send(ctx context.Context, table *state.Table, sessionKey, text string, rows [][]telegram.Button) (int64, bool) {
	n, slot, ok := table.FindBySession(sessionKey)
	if !ok {
		return 0, false
	}
	id, err := d.gw.SendMessage(ctx, slot.ThreadID, text, rows)
	if err != nil {
		if telegram.IsDestinationGone(err) {
			d.zombieCleanup(table, n, err)
		} else {
			d.log.Warn("sending message", zap.Int("slot", n), zap.Error(err))
		}
		return 0, false
	}
	return id, true
}

// edit rewrites a pending entry's message after its decision lands.
func (d *Daemon) edit(ctx context.Context, table *state.Table, p Pending, text string) {
	if p.MessageID == 0 {
		return
	}
	if err := d.gw.EditMessage(ctx, p.MessageID, text, nil); err != nil {
		if telegram.IsDestinationGone(err) {
			if n, _, ok := table.FindBySession(p.SessionKey); ok {
				d.zombieCleanup(table, n, err)
			}
			return
		}
		d.log.Warn("editing message", zap.Int64("message", p.MessageID), zap.Error(err))
	}
}

// zombieCleanup forcibly ends a session whose remote destination no longer
// exists: kill marker for the polling hook, slot dropped, journal and
// in-memory overlays discarded. This is the daemon's only forced teardown
// path and fires solely on the destination-gone signal.
func (d *Daemon) zombieCleanup(table *state.Table, n int, cause error) {
	slot, ok := table.Slots[n]
	if !ok {
		return
	}
	key := slot.SessionKey
	d.log.Warn("remote destination gone, cleaning up session",
		zap.Int("slot", n),
		zap.String("session", key),
		zap.Error(cause))

	if err := d.root.Mailbox(key).Kill("remote conversation deleted"); err != nil {
		d.log.Error("writing kill marker", zap.String("session", key), zap.Error(err))
	}
	if err := d.store.Mutate(func(t *state.Table) error {
		t.Release(key)
		return nil
	}); err != nil {
		d.log.Error("releasing slot", zap.Int("slot", n), zap.Error(err))
	}
	delete(table.Slots, n)

	d.batches.remove(key)
	delete(d.typing, key)
	delete(d.undelivered, key)
	if d.replyTarget == key {
		d.replyTarget = ""
	}
	if err := d.journal.DropSession(key); err != nil {
		d.log.Error("dropping journal session", zap.String("session", key), zap.Error(err))
	}
}

// flushBacklog reads and discards updates queued while no daemon was running.
func (d *Daemon) flushBacklog(ctx context.Context) error {
	offset, err := d.journal.UpdateOffset()
	if err != nil {
		return err
	}
	updates, err := d.gw.GetUpdates(ctx, offset, 0)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	d.log.Info("discarded update backlog", zap.Int("count", len(updates)))
	return d.journal.SetUpdateOffset(updates[len(updates)-1].UpdateID + 1)
}

// heartbeat refreshes the liveness record activation probes before spawning
// a second daemon.
func (d *Daemon) heartbeat() {
	err := d.store.Mutate(func(t *state.Table) error {
		t.DaemonPID = os.Getpid()
		t.DaemonHeartbeat = d.now().UTC()
		return nil
	})
	if err != nil {
		d.log.Error("writing heartbeat", zap.Error(err))
	}
}

// clearLiveness removes this process's liveness record on the way out, but
// leaves another daemon's record alone.
func (d *Daemon) clearLiveness() {
	err := d.store.Mutate(func(t *state.Table) error {
		if t.DaemonPID == os.Getpid() {
			t.ClearDaemon()
		}
		return nil
	})
	if err != nil {
		d.log.Error("clearing liveness record", zap.Error(err))
	}
}

// watchMailboxes feeds loop wakeups from filesystem events so fresh mailbox
// writes are noticed ahead of the next tick. Watch failures degrade to pure
// interval scanning.
func (d *Daemon) watchMailboxes(ctx context.Context, wake chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.Warn("mailbox watcher unavailable, relying on interval scans", zap.Error(err))
		<-ctx.Done()
		return nil
	}
	defer watcher.Close()

	if err := watcher.Add(d.root.Dir()); err != nil {
		d.log.Warn("watching ipc root", zap.Error(err))
	}
	if keys, err := d.root.List(); err == nil {
		for _, key := range keys {
			if err := watcher.Add(d.root.Mailbox(key).Dir()); err != nil {
				d.log.Debug("watching mailbox", zap.String("session", key), zap.Error(err))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := watcher.Add(ev.Name); err != nil {
						d.log.Debug("watching new mailbox", zap.String("dir", ev.Name), zap.Error(err))
					}
				}
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.log.Debug("mailbox watcher error", zap.Error(err))
		}
	}
}
