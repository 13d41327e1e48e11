// Package verify reopens possibly-corrupted data directories and runs a
// layered set of consistency checks against them.
//
// Opening is always raced against a timeout, because a damaged directory
// can hang the open path instead of failing it; a timeout is an open
// failure with its own error type, never a success. The integrity checks
// are layered and continue past failures, so one report shows how many
// independent structures are damaged rather than stopping at the first.
package verify

import (
	"errors"
	"fmt"
	"time"

	"github.com/vigildb/vigil/engine"
)

// OpenTimeoutError indicates the open path did not complete within its
// budget. The directory may be corrupted, or recovery may simply be slow;
// callers must not conflate this with a clean open failure.
type OpenTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *OpenTimeoutError) Error() string {
	return fmt.Sprintf("opening data directory %q did not complete within %s; the directory may be corrupted or recovery may be slow", e.Path, e.Timeout)
}

// IsOpenTimeout returns true if the error indicates an open timeout.
func IsOpenTimeout(err error) bool {
	var toErr *OpenTimeoutError
	return errors.As(err, &toErr)
}

// OpenResult is the outcome of TryOpen.
type OpenResult struct {
	// DB is the open handle, or nil on failure.
	DB *engine.DB

	// Err is the open failure, an *OpenTimeoutError on timeout.
	Err error

	// TimedOut is true when Err is a timeout.
	TimedOut bool
}

// Success reports whether the directory opened.
func (r OpenResult) Success() bool {
	return r.Err == nil
}

// TryOpen opens a data directory with an upper bound on how long the open
// path may take.
//
// The open itself cannot be cancelled once started; on timeout the
// straggling attempt is left to finish in the background and its handle,
// if any, is closed when it does.
func TryOpen(dataDir string, timeout time.Duration, opts ...engine.Option) OpenResult {
	type outcome struct {
		db  *engine.DB
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		db, err := engine.Open(dataDir, opts...)
		ch <- outcome{db: db, err: err}
	}()

	select {
	case o := <-ch:
		return OpenResult{DB: o.db, Err: o.err}
	case <-time.After(timeout):
		go func() {
			if o := <-ch; o.db != nil {
				_ = o.db.Close()
			}
		}()
		return OpenResult{
			Err:      &OpenTimeoutError{Path: dataDir, Timeout: timeout},
			TimedOut: true,
		}
	}
}
