// ABOUTME: Windows process liveness probe.
// ABOUTME: Uses OpenProcess semantics via os.FindProcess.

//go:build windows

package guard

import "os"

// Alive reports whether a process with the given pid currently exists.
// On Windows, FindProcess fails for pids that do not exist.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
