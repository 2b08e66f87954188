package state

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestClaimAssignsLowestFreeOrdinal(t *testing.T) {
	tbl := NewTable()

	for i := 1; i <= 3; i++ {
		n, err := tbl.Claim(4, Slot{SessionKey: fmt.Sprintf("s%d", i), Project: fmt.Sprintf("p%d", i), TopicName: fmt.Sprintf("t%d", i)})
		if err != nil {
			t.Fatalf("Claim %d failed: %v", i, err)
		}
		if n != i {
			t.Errorf("Claim %d: want ordinal %d, got %d", i, i, n)
		}
	}

	// Free the middle slot; the next claim should reuse it.
	if n, ok := tbl.Release("s2"); !ok || n != 2 {
		t.Fatalf("Release(s2) = (%d, %v), want (2, true)", n, ok)
	}
	n, err := tbl.Claim(4, Slot{SessionKey: "s4", Project: "p4", TopicName: "t4"})
	if err != nil {
		t.Fatalf("Claim after release failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Claim after release: want ordinal 2, got %d", n)
	}
}

func TestClaimCapacityExceeded(t *testing.T) {
	tbl := NewTable()
	for i := 1; i <= 4; i++ {
		if _, err := tbl.Claim(4, Slot{SessionKey: fmt.Sprintf("s%d", i), Project: fmt.Sprintf("p%d", i), TopicName: fmt.Sprintf("t%d", i)}); err != nil {
			t.Fatalf("Claim %d failed: %v", i, err)
		}
	}
	_, err := tbl.Claim(4, Slot{SessionKey: "s5", Project: "p5", TopicName: "t5"})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("got %v, want ErrCapacityExceeded", err)
	}
	if len(tbl.Slots) != 4 {
		t.Errorf("failed claim mutated table: %d slots", len(tbl.Slots))
	}
}

func TestClaimDuplicateSession(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Claim(4, Slot{SessionKey: "abc", Project: "p", TopicName: "t"}); err != nil {
		t.Fatal(err)
	}
	_, err := tbl.Claim(4, Slot{SessionKey: "abc", Project: "other", TopicName: "other"})
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("got %v, want ErrDuplicateSession", err)
	}
}

func TestClaimDuplicateIntent(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Claim(4, Slot{SessionKey: "abc", Project: "proj", TopicName: "topic"}); err != nil {
		t.Fatal(err)
	}
	_, err := tbl.Claim(4, Slot{SessionKey: "def", Project: "proj", TopicName: "topic"})
	if !errors.Is(err, ErrDuplicateIntent) {
		t.Fatalf("got %v, want ErrDuplicateIntent", err)
	}

	// A different topic under the same project is a different intent.
	if _, err := tbl.Claim(4, Slot{SessionKey: "def", Project: "proj", TopicName: "topic-2"}); err != nil {
		t.Fatalf("distinct intent rejected: %v", err)
	}
}

func TestReleaseAbsentIsNoOp(t *testing.T) {
	tbl := NewTable()
	if n, ok := tbl.Release("ghost"); ok || n != 0 {
		t.Errorf("Release(ghost) = (%d, %v), want (0, false)", n, ok)
	}
}

// Never more than maxSlots slots exist, for any interleaving of claims and
// releases.
func TestCapacityInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxSlots := rapid.IntRange(1, 4).Draw(rt, "maxSlots")
		tbl := NewTable()
		var active []string

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(rt, "claim") {
				key := fmt.Sprintf("session-%d", i)
				_, err := tbl.Claim(maxSlots, Slot{SessionKey: key, Project: key, TopicName: key})
				if err == nil {
					active = append(active, key)
				} else if !errors.Is(err, ErrCapacityExceeded) {
					rt.Fatalf("unexpected claim error: %v", err)
				}
			} else if len(active) > 0 {
				idx := rapid.IntRange(0, len(active)-1).Draw(rt, "victim")
				tbl.Release(active[idx])
				active = append(active[:idx], active[idx+1:]...)
			}

			if len(tbl.Slots) > maxSlots {
				rt.Fatalf("capacity invariant violated: %d slots with max %d", len(tbl.Slots), maxSlots)
			}
			if len(tbl.Slots) != len(active) {
				rt.Fatalf("bookkeeping mismatch: table %d, model %d", len(tbl.Slots), len(active))
			}
		}
	})
}

func TestPruneRemovesBrokenSlots(t *testing.T) {
	tbl := NewTable()
	tbl.DaemonPID = 0
	tbl.DaemonHeartbeat = time.Now() // daemon considered alive via heartbeat

	for i, key := range []string{"good", "missing-mailbox", "killed"} {
		if _, err := tbl.Claim(4, Slot{SessionKey: key, Project: fmt.Sprintf("p%d", i), TopicName: fmt.Sprintf("t%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	pruned := tbl.Prune(time.Now(), func(key string) (bool, string) {
		switch key {
		case "missing-mailbox":
			return false, "mailbox missing"
		case "killed":
			return false, "kill marker present"
		}
		return true, ""
	})

	if len(pruned) != 2 {
		t.Fatalf("pruned %d slots, want 2: %+v", len(pruned), pruned)
	}
	if _, _, ok := tbl.FindBySession("good"); !ok {
		t.Error("healthy slot was pruned")
	}
	if _, _, ok := tbl.FindBySession("killed"); ok {
		t.Error("killed slot survived prune")
	}
}

func TestPruneDeadDaemonDropsAll(t *testing.T) {
	tbl := NewTable()
	tbl.DaemonPID = 0
	tbl.DaemonHeartbeat = time.Now().Add(-10 * time.Minute)

	if _, err := tbl.Claim(4, Slot{SessionKey: "s1", Project: "p", TopicName: "t"}); err != nil {
		t.Fatal(err)
	}
	pruned := tbl.Prune(time.Now(), func(string) (bool, string) { return true, "" })
	if len(pruned) != 1 || pruned[0].Reason != "daemon dead" {
		t.Fatalf("got %+v, want one daemon-dead prune", pruned)
	}
}
