// ABOUTME: Exclusive directory lock with stale-owner detection.
// ABOUTME: OS advisory lock is the source of truth; a pid record is the diagnostic.

package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
)

// lockSuffix is appended to the data directory path to form the marker path.
// The marker lives next to the directory, never inside it, because the
// engine rejects unexpected files in its own directory.
const lockSuffix = ".lock"

// LockRecord is the human-readable content of a lock marker file.
type LockRecord struct {
	// OwnerPID is the process that wrote the record.
	OwnerPID int

	// AcquiredAt is when the record was written, in Unix milliseconds.
	AcquiredAt int64
}

// LockHandle represents exclusive access to a data directory. It must be
// released with Release; abnormal process termination releases the OS lock
// implicitly but leaves the marker file behind as a stale record.
type LockHandle struct {
	path   string
	marker string
	fl     *flock.Flock
	record LockRecord
}

// MarkerPath returns the lock marker path for a data directory.
func MarkerPath(dataDir string) string {
	return strings.TrimRight(filepath.Clean(dataDir), string(filepath.Separator)) + lockSuffix
}

// Acquire takes exclusive access to a data directory.
//
// The OS-level advisory lock on the marker file is the source of truth: it
// cannot outlive its holder, so a lock left behind by a dead process is
// reclaimed without manual intervention. The pid record inside the marker
// is a diagnostic; it names the holder in LockHeldError and identifies
// stale records for logging. An unparsable record is treated as stale,
// since a writer that never completed a coherent write is not a live,
// coordinated holder.
//
// This is best-effort single-host deterrence, not a distributed lock: it
// only arbitrates processes on one machine sharing one filesystem.
func Acquire(dataDir string) (*LockHandle, error) {
	marker := MarkerPath(dataDir)
	fl := flock.New(marker)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to open lock marker %q: %w", marker, err)
	}
	if !locked {
		rec, _ := readLockRecord(marker)
		return nil, &LockHeldError{Path: dataDir, HolderPID: rec.OwnerPID}
	}

	// We hold the OS lock. Any existing record belongs to a process that
	// died or never held the OS lock in the first place.
	if rec, err := readLockRecord(marker); err == nil && rec.OwnerPID != 0 && rec.OwnerPID != os.Getpid() {
		if Alive(rec.OwnerPID) {
			// The record names a live process that does not hold the OS
			// lock. Either the pid was recycled or the writer predates
			// OS-level locking. Honor the record and back off.
			_ = fl.Unlock()
			return nil, &LockHeldError{Path: dataDir, HolderPID: rec.OwnerPID}
		}
		log.Warn("reclaiming stale lock left by dead process", "path", dataDir, "pid", rec.OwnerPID)
	} else if err != nil && !os.IsNotExist(err) {
		log.Warn("reclaiming lock with unreadable marker", "path", dataDir, "err", err)
	}

	record := LockRecord{
		OwnerPID:   os.Getpid(),
		AcquiredAt: time.Now().UnixMilli(),
	}
	if err := writeLockRecord(marker, record); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("failed to write lock record: %w", err)
	}

	return &LockHandle{
		path:   dataDir,
		marker: marker,
		fl:     fl,
		record: record,
	}, nil
}

// Release drops the lock and removes the marker file. It is idempotent;
// releasing twice or releasing after the marker is already gone succeeds.
func (h *LockHandle) Release() error {
	if h == nil || h.fl == nil {
		return nil
	}
	if err := h.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %q: %w", h.path, err)
	}
	h.fl = nil
	if err := os.Remove(h.marker); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock marker: %w", err)
	}
	return nil
}

// Path returns the locked data directory.
func (h *LockHandle) Path() string {
	return h.path
}

// Record returns the record written on acquisition.
func (h *LockHandle) Record() LockRecord {
	return h.record
}

// readLockRecord parses a marker file written by writeLockRecord.
func readLockRecord(marker string) (LockRecord, error) {
	data, err := os.ReadFile(marker)
	if err != nil {
		return LockRecord{}, err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		return LockRecord{}, fmt.Errorf("malformed lock record: %d lines", len(lines))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || pid <= 0 {
		return LockRecord{}, fmt.Errorf("malformed lock record pid %q", lines[0])
	}
	at, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return LockRecord{}, fmt.Errorf("malformed lock record timestamp %q", lines[1])
	}
	return LockRecord{OwnerPID: pid, AcquiredAt: at}, nil
}

// writeLockRecord overwrites the marker content with pid and timestamp.
func writeLockRecord(marker string, rec LockRecord) error {
	content := fmt.Sprintf("%d\n%d\n", rec.OwnerPID, rec.AcquiredAt)
	return os.WriteFile(marker, []byte(content), 0o644)
}
