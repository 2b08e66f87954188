package mailbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	root, err := NewRoot(filepath.Join(t.TempDir(), "ipc"))
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	return root
}

func createTestMailbox(t *testing.T, root *Root, key string) *Mailbox {
	t.Helper()
	m, err := root.Create(Meta{
		SessionKey: key,
		Slot:       1,
		Project:    "demo",
		TopicName:  "S1 - demo",
		Started:    time.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		t.Fatalf("Create(%s): %v", key, err)
	}
	return m
}

func TestCreateAndMeta(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	meta, err := m.Meta()
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if meta.SessionKey != "session-a" || meta.Slot != 1 || meta.Project != "demo" {
		t.Errorf("meta mismatch: %+v", meta)
	}

	if _, err := root.Create(Meta{SessionKey: "session-a"}); err == nil {
		t.Error("second Create for the same key succeeded, want error")
	}
}

func TestAppendAndReadNew(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	first := NewEvent(KindStop, "session-a")
	first.LastMessage = "done with the refactor"
	if err := m.Append(first); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, offset, err := m.ReadNew(0)
	if err != nil {
		t.Fatalf("ReadNew: %v", err)
	}
	if len(records) != 1 || records[0].Err != nil {
		t.Fatalf("got %d records (first err %v), want 1 clean record", len(records), records[0].Err)
	}
	if got := records[0].Event; got.ID != first.ID || got.LastMessage != first.LastMessage {
		t.Errorf("event mismatch: %+v", got)
	}

	// Nothing new at the advanced offset.
	records, offset2, err := m.ReadNew(offset)
	if err != nil {
		t.Fatalf("ReadNew at offset: %v", err)
	}
	if len(records) != 0 || offset2 != offset {
		t.Errorf("expected empty re-read, got %d records, offset %d -> %d", len(records), offset, offset2)
	}

	// A second append is picked up from the saved offset.
	second := NewEvent(KindKeepAlive, "session-a")
	second.OriginalEventID = first.ID
	if err := m.Append(second); err != nil {
		t.Fatalf("Append second: %v", err)
	}
	records, _, err = m.ReadNew(offset)
	if err != nil {
		t.Fatalf("ReadNew after second append: %v", err)
	}
	if len(records) != 1 || records[0].Event.ID != second.ID {
		t.Fatalf("incremental read got %+v", records)
	}
}

func TestReadNewLeavesPartialLine(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	ev := NewEvent(KindNotification, "session-a")
	ev.Message = "hello"
	if err := m.Append(ev); err != nil {
		t.Fatal(err)
	}
	// Simulate a writer caught mid-append: valid JSON but no newline yet.
	f, err := os.OpenFile(m.path(eventsFile), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"id":"deadbeef","type":"stop","session_id":"session-a"`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	records, offset, err := m.ReadNew(0)
	if err != nil {
		t.Fatalf("ReadNew: %v", err)
	}
	if len(records) != 1 || records[0].Event.ID != ev.ID {
		t.Fatalf("want only the complete line, got %+v", records)
	}

	// Finish the line; the next read picks it up from the same offset.
	f, err = os.OpenFile(m.path(eventsFile), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(",\"timestamp\":\"2026-01-02T15:04:05Z\"}\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	records, _, err = m.ReadNew(offset)
	if err != nil {
		t.Fatalf("ReadNew after completion: %v", err)
	}
	if len(records) != 1 || records[0].Event.ID != "deadbeef" {
		t.Fatalf("completed line not read: %+v", records)
	}
}

func TestReadNewReportsBadLines(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	f, err := os.OpenFile(m.path(eventsFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	lines := "{\"id\":\"aaaa0001\",\"type\":\"stop\",\"session_id\":\"s\"}\n" +
		"garbage\n" +
		"{\"id\":\"aaaa0002\",\"type\":\"wormhole\",\"session_id\":\"s\"}\n"
	if _, err := f.WriteString(lines); err != nil {
		t.Fatal(err)
	}
	f.Close()

	records, _, err := m.ReadNew(0)
	if err != nil {
		t.Fatalf("ReadNew: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Err != nil {
		t.Errorf("first record: unexpected error %v", records[0].Err)
	}
	if !errors.Is(records[1].Err, ErrMalformedEvent) {
		t.Errorf("second record: got %v, want ErrMalformedEvent", records[1].Err)
	}
	if !errors.Is(records[2].Err, ErrUnknownEventKind) {
		t.Errorf("third record: got %v, want ErrUnknownEventKind", records[2].Err)
	}
}

func TestReadNewResetsWhenLogShrinks(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	if err := m.Append(NewEvent(KindStop, "session-a")); err != nil {
		t.Fatal(err)
	}
	_, offset, err := m.ReadNew(0)
	if err != nil {
		t.Fatal(err)
	}

	// Recreate the log shorter than the cursor.
	if err := os.Remove(m.path(eventsFile)); err != nil {
		t.Fatal(err)
	}
	ev := NewEvent(KindNotification, "session-a")
	if err := m.Append(ev); err != nil {
		t.Fatal(err)
	}

	records, _, err := m.ReadNew(offset + 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Event.ID != ev.ID {
		t.Fatalf("cursor did not reset: %+v", records)
	}
}

func TestResponseLifecycle(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	// Absent response: not an error, just not there.
	if _, ok, err := m.TakeResponse("ev1"); ok || err != nil {
		t.Fatalf("TakeResponse(absent) = (%v, %v)", ok, err)
	}

	if err := m.WriteResponse("ev1", AllowResponse()); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	// The first answer wins; a second write is rejected.
	err := m.WriteResponse("ev1", DenyResponse("too late"))
	if !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("second write: got %v, want ErrAlreadyResponded", err)
	}

	resp, ok, err := m.TakeResponse("ev1")
	if err != nil || !ok {
		t.Fatalf("TakeResponse = (%v, %v)", ok, err)
	}
	if resp.Kind != ResponseDecision || resp.Decision != DecisionAllow {
		t.Errorf("response mismatch: %+v", resp)
	}

	// Consume-once: it is gone now.
	if _, ok, _ := m.TakeResponse("ev1"); ok {
		t.Error("response survived consumption")
	}

	// No stray staging files left behind.
	entries, err := os.ReadDir(m.Dir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("staging file left behind: %s", e.Name())
		}
	}
}

func TestWriteResponseRejectsInvalid(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")
	if err := m.WriteResponse("ev1", Response{Kind: "verdict"}); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("got %v, want ErrMalformedResponse", err)
	}
}

// A response file that does not parse is reported but not consumed, so a
// retry can succeed once the content is valid.
func TestTakeResponseLeavesMalformedFile(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	path := m.responsePath("ev1")
	if err := os.WriteFile(path, []byte("{half a"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := m.TakeResponse("ev1")
	if ok || !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("TakeResponse = (%v, %v), want malformed error", ok, err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatal("malformed response was consumed")
	}

	if err := os.WriteFile(path, []byte(`{"kind":"instruction","instruction":"go"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	resp, ok, err := m.TakeResponse("ev1")
	if err != nil || !ok || resp.Instruction != "go" {
		t.Fatalf("retry = (%+v, %v, %v)", resp, ok, err)
	}
}

func TestKillMarker(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	if _, killed := m.Killed(); killed {
		t.Fatal("fresh mailbox reports killed")
	}
	if err := m.Kill("topic deleted"); err != nil {
		t.Fatal(err)
	}
	reason, killed := m.Killed()
	if !killed || reason != "topic deleted" {
		t.Errorf("Killed() = (%q, %v)", reason, killed)
	}
}

func TestForceClearConsumedOnce(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	if m.TakeForceClear() {
		t.Fatal("consumed a marker that was never written")
	}
	if err := m.ForceClear(); err != nil {
		t.Fatal(err)
	}
	if !m.TakeForceClear() {
		t.Fatal("marker not consumed")
	}
	if m.TakeForceClear() {
		t.Fatal("marker consumed twice")
	}
}

func TestQueuedInstruction(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	if _, ok := m.TakeQueuedInstruction(); ok {
		t.Fatal("instruction appeared out of nowhere")
	}
	if err := m.QueueInstruction("run the tests again"); err != nil {
		t.Fatal(err)
	}
	text, ok := m.TakeQueuedInstruction()
	if !ok || text != "run the tests again" {
		t.Fatalf("TakeQueuedInstruction = (%q, %v)", text, ok)
	}
	if _, ok := m.TakeQueuedInstruction(); ok {
		t.Fatal("instruction delivered twice")
	}
}

func TestBindFirstWriteWins(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "provisional-1")

	if _, ok := m.BoundSession(); ok {
		t.Fatal("fresh mailbox reports bound")
	}
	if err := m.Bind("real-session"); err != nil {
		t.Fatal(err)
	}
	if err := m.Bind("real-session"); err != nil {
		t.Errorf("rebind to same session: %v", err)
	}
	if err := m.Bind("other-session"); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("rebind to other session: got %v, want ErrAlreadyBound", err)
	}
	bound, ok := m.BoundSession()
	if !ok || bound != "real-session" {
		t.Errorf("BoundSession = (%q, %v)", bound, ok)
	}
}

func TestIntact(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	if ok, reason := root.Intact("session-a"); !ok {
		t.Fatalf("healthy mailbox reported broken: %s", reason)
	}
	if ok, reason := root.Intact("never-made"); ok || reason != "mailbox missing" {
		t.Errorf("Intact(absent) = (%v, %q)", ok, reason)
	}

	if err := m.Kill("test"); err != nil {
		t.Fatal(err)
	}
	if ok, reason := root.Intact("session-a"); ok || reason != "kill marker present" {
		t.Errorf("Intact(killed) = (%v, %q)", ok, reason)
	}

	if err := os.Remove(m.path(metaFile)); err != nil {
		t.Fatal(err)
	}
	if ok, reason := root.Intact("session-a"); ok || reason != "meta missing" {
		t.Errorf("Intact(no meta) = (%v, %q)", ok, reason)
	}
}

func TestSweepRemovesOrphans(t *testing.T) {
	root := newTestRoot(t)
	createTestMailbox(t, root, "keeper")
	createTestMailbox(t, root, "orphan-1")
	createTestMailbox(t, root, "orphan-2")

	removed, err := root.Sweep(map[string]int{"keeper": 1})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed %v, want both orphans", removed)
	}
	keys, err := root.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "keeper" {
		t.Errorf("surviving mailboxes: %v", keys)
	}
}
