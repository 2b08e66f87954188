package bridge

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// DaemonLogName is the file the detached daemon's stdout and stderr land in.
const DaemonLogName = "daemon.log"

// SpawnDetached starts `exe daemon` in its own session with output appended
// to daemon.log under dataDir, and returns the child's pid without waiting
// for it. The child must outlive the caller: activation is a short CLI run,
// the daemon keeps going until the slot table empties.
func SpawnDetached(exe, dataDir string) (int, error) {
	logFile, err := os.OpenFile(filepath.Join(dataDir, DaemonLogName),
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening daemon log: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "daemon")
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = detachAttr()

	if err := child.Start(); err != nil {
		return 0, fmt.Errorf("starting daemon: %w", err)
	}
	return child.Process.Pid, nil
}
