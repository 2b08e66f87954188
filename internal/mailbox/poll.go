package mailbox

import (
	"context"
	"time"
)

// Poll pacing: start snappy so button taps feel instant, back off toward a
// gentle steady state for the long waits.
const (
	pollInitialInterval = 500 * time.Millisecond
	pollMaxInterval     = 2 * time.Second
	pollBackoffFactor   = 1.2
)

// PollResult is the outcome of one PollResponse call. Exactly one of the
// branches is set; all-zero means the timeout elapsed.
type PollResult struct {
	// Response is set when a response file was consumed.
	Response *Response
	// Killed is set when the kill marker appeared; KillReason explains why.
	Killed     bool
	KillReason string
	// ForceClear is set when the force-clear marker was consumed. The caller
	// decides what it means: an allow for permission waits, a /clear
	// instruction for stop waits.
	ForceClear bool
}

// TimedOut reports whether the poll ended with nothing to show.
func (r PollResult) TimedOut() bool {
	return r.Response == nil && !r.Killed && !r.ForceClear
}

// PollResponse waits up to timeout for the response to eventID, checking the
// kill and force-clear markers on every pass so an abandoned session never
// waits out the full window. The check interval starts at half a second and
// backs off to two. Read failures (including a response file that does not
// parse yet) count as "not there", not as errors: the only error PollResponse
// returns is the context's.
func (m *Mailbox) PollResponse(ctx context.Context, eventID string, timeout time.Duration) (PollResult, error) {
	deadline := time.Now().Add(timeout)
	interval := pollInitialInterval

	for {
		if reason, killed := m.Killed(); killed {
			return PollResult{Killed: true, KillReason: reason}, nil
		}
		if m.TakeForceClear() {
			return PollResult{ForceClear: true}, nil
		}
		if resp, ok, err := m.TakeResponse(eventID); err == nil && ok {
			return PollResult{Response: &resp}, nil
		}

		if time.Now().After(deadline) {
			return PollResult{}, nil
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return PollResult{}, ctx.Err()
		case <-timer.C:
		}
		if next := time.Duration(float64(interval) * pollBackoffFactor); next < pollMaxInterval {
			interval = next
		} else {
			interval = pollMaxInterval
		}
	}
}

// AwaitDeactivationProcessed waits up to timeout for the daemon's teardown
// acknowledgement, checking every 300ms.
func (m *Mailbox) AwaitDeactivationProcessed(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if m.DeactivationProcessed() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		timer := time.NewTimer(300 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
