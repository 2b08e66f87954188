package state

import (
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// heartbeatGrace is how long a heartbeat stays convincing after the daemon
// process itself cannot be observed (it may still be starting up).
const heartbeatGrace = 60 * time.Second

// DaemonAlive reports whether the recorded daemon is still running: its pid
// exists, or its heartbeat is fresh enough that it may just be starting.
func (t *Table) DaemonAlive(now time.Time) bool {
	if t.DaemonPID > 0 {
		if ok, err := process.PidExists(int32(t.DaemonPID)); err == nil && ok {
			return true
		}
	}
	if t.DaemonHeartbeat.IsZero() {
		return false
	}
	return now.Sub(t.DaemonHeartbeat) < heartbeatGrace
}

// ClearDaemon removes the daemon liveness record, used when the last slot is
// released and the daemon is told to exit.
func (t *Table) ClearDaemon() {
	t.DaemonPID = 0
	t.DaemonHeartbeat = time.Time{}
}
