//go:build windows

package harness

import "os"

// exitSignal extracts the terminating signal from a finished process.
// Windows has no notion of a terminating signal; killed processes surface
// through their exit code instead.
func exitSignal(_ *os.ProcessState) (os.Signal, bool) {
	return nil, false
}
