// ABOUTME: Partial-initialization detection and quarantine for data directories.
// ABOUTME: A directory that failed first-time setup is renamed aside, never repaired.

package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Layout describes the structural facts about the engine's on-disk shape
// that partial-init detection depends on. The storage-entry threshold is an
// empirical property of the engine's initialization sequence, not a
// contract, so it is configurable rather than hard-coded.
type Layout struct {
	// VersionFile is the marker file the engine writes at the directory
	// root as the last step of first-time initialization.
	VersionFile string

	// StorageDir is the primary-storage subdirectory.
	StorageDir string

	// MinStorageEntries is the minimum number of immediate children a
	// completed initialization leaves in StorageDir. A complete first-time
	// init produces at least three: two template databases and one user
	// database.
	MinStorageEntries int
}

// DefaultLayout returns the layout facts for the current engine version.
func DefaultLayout() Layout {
	return Layout{
		VersionFile:       "DB_VERSION",
		StorageDir:        "base",
		MinStorageEntries: 3,
	}
}

// InitState is the derived initialization state of a data directory.
type InitState struct {
	// HasVersionMarker is true when the version marker file exists.
	HasVersionMarker bool

	// StorageEntries is the number of immediate children of the
	// primary-storage subdirectory.
	StorageEntries int
}

// FullyInitialized reports whether the directory completed first-time setup.
func (s InitState) FullyInitialized(layout Layout) bool {
	return s.HasVersionMarker && s.StorageEntries >= layout.MinStorageEntries
}

// QuarantineReport describes a quarantine performed by CheckAndQuarantine.
type QuarantineReport struct {
	// Path is the data directory that was quarantined.
	Path string

	// BackupPath is where the partial directory was moved.
	BackupPath string

	// State is the init state that triggered the quarantine.
	State InitState

	// When is the quarantine time.
	When time.Time
}

// CheckAndQuarantine inspects a data directory for an interrupted first-time
// initialization and quarantines it if found. It must run before the engine
// touches a non-empty directory.
//
// A partial directory is renamed to a timestamped backup, a fresh empty
// directory is created in its place, and a warning names the backup. The
// backup is never deleted automatically; it is left for manual inspection.
// No repair of partial state is ever attempted, because first-time
// initialization is not itself crash-atomic and partial state cannot be
// trusted.
//
// Returns (nil, nil) when the directory is absent, empty, or fully
// initialized. If the directory cannot be listed at all, no action is taken
// and no error is reported; the engine's own open path will surface the
// underlying I/O problem without it being mistaken for partial init.
func CheckAndQuarantine(dataDir string, layout Layout) (*QuarantineReport, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		// Unrelated I/O failure. Defer to the engine's open path.
		log.Debug("skipping partial-init check, directory unreadable", "path", dataDir, "err", err)
		return nil, nil
	}
	if len(entries) == 0 {
		return nil, nil
	}

	state := initState(dataDir, layout, entries)
	if state.FullyInitialized(layout) {
		return nil, nil
	}

	backup, err := quarantine(dataDir)
	if err != nil {
		return nil, err
	}

	report := &QuarantineReport{
		Path:       dataDir,
		BackupPath: backup,
		State:      state,
		When:       time.Now(),
	}
	log.Warn("data directory was left partially initialized; moved aside",
		"path", dataDir, "backup", backup,
		"versionMarker", state.HasVersionMarker, "storageEntries", state.StorageEntries)
	return report, nil
}

// initState computes the derived initialization state from directory contents.
func initState(dataDir string, layout Layout, entries []os.DirEntry) InitState {
	var state InitState
	for _, e := range entries {
		if e.Name() == layout.VersionFile && !e.IsDir() {
			state.HasVersionMarker = true
			break
		}
	}
	if sub, err := os.ReadDir(filepath.Join(dataDir, layout.StorageDir)); err == nil {
		state.StorageEntries = len(sub)
	}
	return state
}

// quarantine renames the directory to a timestamped backup and recreates an
// empty directory at the original path.
func quarantine(dataDir string) (string, error) {
	stamp := time.Now().Format("20060102-150405")
	backup := fmt.Sprintf("%s.corrupt-%s", dataDir, stamp)
	for i := 1; ; i++ {
		if _, err := os.Stat(backup); os.IsNotExist(err) {
			break
		}
		backup = fmt.Sprintf("%s.corrupt-%s.%d", dataDir, stamp, i)
	}
	if err := os.Rename(dataDir, backup); err != nil {
		return "", fmt.Errorf("failed to quarantine %q: %w", dataDir, err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to recreate data directory after quarantine: %w", err)
	}
	return backup, nil
}
