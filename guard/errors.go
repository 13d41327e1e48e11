// ABOUTME: Error types and helpers for directory guard operations.
// ABOUTME: Includes lock-held detection with holder identification.

package guard

import (
	"errors"
	"fmt"
)

// LockHeldError is returned when a data directory cannot be locked because
// another live process holds it.
type LockHeldError struct {
	// Path is the data directory that could not be locked.
	Path string

	// HolderPID identifies the process holding the lock, or 0 if the
	// marker file could not be read.
	HolderPID int
}

func (e *LockHeldError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("data directory %q is locked by another process (pid %d)\n\n"+
			"Another process has this directory open. Options:\n"+
			"  1. Stop the other process\n"+
			"  2. Wait and retry\n"+
			"  3. Point this process at a different data directory", e.Path, e.HolderPID)
	}
	return fmt.Sprintf("data directory %q is locked by another process", e.Path)
}

// IsLockHeld returns true if the error indicates the directory is locked by
// another live process.
func IsLockHeld(err error) bool {
	var lockErr *LockHeldError
	return errors.As(err, &lockErr)
}

// LockHolder returns the pid of the process holding the lock, or 0 if the
// error is not a lock-held error or the holder is unknown.
func LockHolder(err error) int {
	var lockErr *LockHeldError
	if errors.As(err, &lockErr) {
		return lockErr.HolderPID
	}
	return 0
}
