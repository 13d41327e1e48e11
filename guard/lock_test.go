// ABOUTME: Tests for the directory lock manager.
// ABOUTME: Covers acquisition, stale reclaim, corrupt markers, and idempotent release.

package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testDataDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("failed to create data dir: %v", err)
	}
	return dir
}

func TestMarkerPath_IsSibling(t *testing.T) {
	dir := "/tmp/foo/bar"
	marker := MarkerPath(dir)
	if filepath.Dir(marker) != filepath.Dir(dir) {
		t.Errorf("marker %q is not a sibling of %q", marker, dir)
	}
	if strings.HasPrefix(marker, dir+string(filepath.Separator)) {
		t.Errorf("marker %q must not live inside the data directory", marker)
	}
	if MarkerPath(dir+"/") != marker {
		t.Error("trailing separator changed the marker path")
	}
}

func TestAcquireRelease(t *testing.T) {
	dir := testDataDir(t)

	h, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := os.Stat(MarkerPath(dir)); err != nil {
		t.Fatalf("expected marker file after acquire: %v", err)
	}

	rec := h.Record()
	if rec.OwnerPID != os.Getpid() {
		t.Errorf("expected record pid %d, got %d", os.Getpid(), rec.OwnerPID)
	}
	if rec.AcquiredAt == 0 {
		t.Error("expected non-zero acquisition timestamp")
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(MarkerPath(dir)); !os.IsNotExist(err) {
		t.Error("expected marker file to be removed on release")
	}

	// Release is idempotent.
	if err := h.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
}

func TestAcquire_HeldLockFails(t *testing.T) {
	dir := testDataDir(t)

	h, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer func() { _ = h.Release() }()

	_, err = Acquire(dir)
	if err == nil {
		t.Fatal("expected second Acquire to fail while lock is held")
	}
	if !IsLockHeld(err) {
		t.Fatalf("expected LockHeldError, got %v", err)
	}
	if got := LockHolder(err); got != os.Getpid() {
		t.Errorf("expected holder pid %d, got %d", os.Getpid(), got)
	}
}

func TestAcquire_ReclaimsDeadOwner(t *testing.T) {
	dir := testDataDir(t)

	// A record left behind by a process that no longer exists.
	stale := fmt.Sprintf("%d\n%d\n", 999999999, int64(1700000000000))
	if err := os.WriteFile(MarkerPath(dir), []byte(stale), 0o644); err != nil {
		t.Fatalf("failed to plant stale marker: %v", err)
	}

	h, err := Acquire(dir)
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got: %v", err)
	}
	defer func() { _ = h.Release() }()

	if h.Record().OwnerPID != os.Getpid() {
		t.Errorf("expected record to be overwritten with own pid, got %d", h.Record().OwnerPID)
	}
}

func TestAcquire_ReclaimsCorruptMarker(t *testing.T) {
	dir := testDataDir(t)

	for name, content := range map[string]string{
		"garbage":    "not a lock record at all",
		"empty":      "",
		"wrong_pid":  "banana\n12345\n",
		"extra_line": "123\n456\n789\n",
	} {
		t.Run(name, func(t *testing.T) {
			if err := os.WriteFile(MarkerPath(dir), []byte(content), 0o644); err != nil {
				t.Fatalf("failed to plant corrupt marker: %v", err)
			}

			h, err := Acquire(dir)
			if err != nil {
				t.Fatalf("expected corrupt marker to be treated as stale, got: %v", err)
			}
			if err := h.Release(); err != nil {
				t.Fatalf("Release failed: %v", err)
			}
		})
	}
}

func TestAcquire_LiveRecordWithoutOSLock(t *testing.T) {
	dir := testDataDir(t)

	// A record naming a live process that never took the OS lock. The
	// record wins: we back off rather than assume pid reuse.
	rec := fmt.Sprintf("%d\n%d\n", os.Getppid(), int64(1700000000000))
	if err := os.WriteFile(MarkerPath(dir), []byte(rec), 0o644); err != nil {
		t.Fatalf("failed to plant marker: %v", err)
	}

	_, err := Acquire(dir)
	if !IsLockHeld(err) {
		t.Fatalf("expected LockHeldError for live record holder, got %v", err)
	}
	if got := LockHolder(err); got != os.Getppid() {
		t.Errorf("expected holder pid %d, got %d", os.Getppid(), got)
	}
}

func TestAcquire_AfterReleaseSucceeds(t *testing.T) {
	dir := testDataDir(t)

	h1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := h1.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	h2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	if err := h2.Release(); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
}

func TestIsLockHeld_WrappedError(t *testing.T) {
	base := &LockHeldError{Path: "/tmp/x", HolderPID: 42}
	wrapped := fmt.Errorf("failed to open store: %w", base)

	if !IsLockHeld(wrapped) {
		t.Error("expected IsLockHeld to see through wrapping")
	}
	if LockHolder(wrapped) != 42 {
		t.Errorf("expected holder 42, got %d", LockHolder(wrapped))
	}
	if IsLockHeld(errors.New("something else")) {
		t.Error("unrelated error reported as lock-held")
	}
}
