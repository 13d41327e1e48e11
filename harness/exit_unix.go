//go:build !windows

package harness

import (
	"os"
	"syscall"
)

// exitSignal extracts the terminating signal from a finished process, if it
// was killed by one.
func exitSignal(ps *os.ProcessState) (os.Signal, bool) {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return nil, false
	}
	return ws.Signal(), true
}
