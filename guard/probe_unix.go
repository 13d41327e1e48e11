// ABOUTME: Unix process liveness probe using a zero-effect signal check.
// ABOUTME: Backs stale-lock detection without touching the probed process.

//go:build !windows

package guard

import (
	"errors"
	"syscall"
)

// Alive reports whether a process with the given pid currently exists.
// It sends signal 0, which performs the kernel's existence and permission
// checks without delivering anything to the target.
//
// EPERM means the process exists but belongs to another user, so it counts
// as alive. Any "no such process" condition counts as dead. A pid recycled
// by an unrelated process is reported alive; that false positive is an
// accepted limitation of pid-based liveness.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
