package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollResponseReturnsExistingResponse(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	if err := m.WriteResponse("ev1", InstructionResponse("carry on")); err != nil {
		t.Fatal(err)
	}
	res, err := m.PollResponse(context.Background(), "ev1", 5*time.Second)
	if err != nil {
		t.Fatalf("PollResponse: %v", err)
	}
	if res.Response == nil || res.Response.Instruction != "carry on" {
		t.Fatalf("result = %+v", res)
	}
	if _, ok, _ := m.TakeResponse("ev1"); ok {
		t.Error("poll did not consume the response")
	}
}

func TestPollResponsePicksUpLateResponse(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	go func() {
		time.Sleep(150 * time.Millisecond)
		m.WriteResponse("ev1", AllowResponse())
	}()

	start := time.Now()
	res, err := m.PollResponse(context.Background(), "ev1", 10*time.Second)
	if err != nil {
		t.Fatalf("PollResponse: %v", err)
	}
	if res.Response == nil || res.Response.Decision != DecisionAllow {
		t.Fatalf("result = %+v", res)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("poll took %v for a response written after 150ms", time.Since(start))
	}
}

func TestPollResponseSeesKillMarker(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	if err := m.Kill("topic deleted"); err != nil {
		t.Fatal(err)
	}
	res, err := m.PollResponse(context.Background(), "ev1", 10*time.Second)
	if err != nil {
		t.Fatalf("PollResponse: %v", err)
	}
	if !res.Killed || res.KillReason != "topic deleted" {
		t.Fatalf("result = %+v", res)
	}
}

func TestPollResponseSeesForceClear(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	if err := m.ForceClear(); err != nil {
		t.Fatal(err)
	}
	res, err := m.PollResponse(context.Background(), "ev1", 10*time.Second)
	if err != nil {
		t.Fatalf("PollResponse: %v", err)
	}
	if !res.ForceClear {
		t.Fatalf("result = %+v", res)
	}
	// Consumed: a second poll times out instead.
	res, err = m.PollResponse(context.Background(), "ev1", 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut() {
		t.Fatalf("second poll = %+v, want timeout", res)
	}
}

func TestPollResponseTimesOut(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	res, err := m.PollResponse(context.Background(), "ev1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("PollResponse: %v", err)
	}
	if !res.TimedOut() {
		t.Fatalf("result = %+v, want timeout", res)
	}
}

func TestPollResponseHonorsContext(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := m.PollResponse(ctx, "ev1", time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestAwaitDeactivationProcessed(t *testing.T) {
	root := newTestRoot(t)
	m := createTestMailbox(t, root, "session-a")

	if m.AwaitDeactivationProcessed(context.Background(), 50*time.Millisecond) {
		t.Fatal("acknowledged without a marker")
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		m.MarkDeactivationProcessed()
	}()
	if !m.AwaitDeactivationProcessed(context.Background(), 5*time.Second) {
		t.Fatal("marker not seen before timeout")
	}
}
