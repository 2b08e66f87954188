//go:build !windows

package bridge

import "syscall"

// detachAttr makes the child its own session leader so a closing terminal
// never delivers it a SIGHUP.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
