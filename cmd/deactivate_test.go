package cmd

import (
	"strings"
	"testing"
)

func TestDeactivateUnknownSessionIsNoop(t *testing.T) {
	testDataDir(t)

	out, err := executeCommand(rootCmd, "deactivate", "sess-unknown")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if !strings.Contains(out, "No active AFK sessions found.") {
		t.Errorf("expected the no-session notice, got:\n%s", out)
	}
}

func TestDeactivateReleasesSlot(t *testing.T) {
	dataDir := testDataDir(t)
	store, root := openState(t, dataDir)
	seedSession(t, store, root, "sess-1", "payments")

	// Pretend the daemon already tore the topic down, so the command does
	// not sit out its confirmation window.
	if err := root.Mailbox("sess-1").MarkDeactivationProcessed(); err != nil {
		t.Fatalf("MarkDeactivationProcessed: %v", err)
	}

	out, err := executeCommand(rootCmd, "deactivate", "sess-1")
	if err != nil {
		t.Fatalf("deactivate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "AFK mode deactivated — slot S1 released.") {
		t.Errorf("expected release banner, got:\n%s", out)
	}

	tbl, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !tbl.Empty() {
		t.Errorf("expected an empty table, got %+v", tbl.Slots)
	}
	if root.Mailbox("sess-1").Exists() {
		t.Error("expected the mailbox directory to be removed")
	}
}
