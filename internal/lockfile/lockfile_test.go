package lockfile

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if l.Path() != path {
		t.Errorf("Path() = %q, want %q", l.Path(), path)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Re-acquirable after release.
	l2, err := Acquire(path)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if err := l2.Release(); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
}

func TestTryAcquireContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contended.lock")

	// flock locks attach to the open file description, so a second open in
	// the same process contends just like a second process would.
	l1, err := TryAcquire(path)
	if err != nil {
		t.Fatalf("first TryAcquire failed: %v", err)
	}
	defer l1.Release()

	_, err = TryAcquire(path)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("second TryAcquire: got %v, want ErrAlreadyLocked", err)
	}
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocking.lock")

	l1, err := TryAcquire(path)
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}

	acquired := make(chan *Lock)
	go func() {
		l, err := Acquire(path)
		if err != nil {
			t.Errorf("blocking Acquire failed: %v", err)
		}
		acquired <- l
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire returned while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	if err := l1.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	select {
	case l := <-acquired:
		_ = l.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return after lock release")
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := Acquire(""); err == nil {
		t.Fatal("Acquire(\"\") succeeded, want error")
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatalf("nil Release returned %v", err)
	}
}
