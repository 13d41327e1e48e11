// Package engine provides the guarded open path for a file-backed SQL data
// directory.
//
// A data directory is owned by one process at a time. Every open, whether
// by a workload process or a verifier, runs the same two guards before the
// database files are touched: the directory lock manager, which refuses
// directories held by a live process and reclaims locks left by dead ones,
// and the partial-init detector, which quarantines directories whose
// first-time initialization never completed. Neither guard is test-only
// code.
package engine

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vigildb/vigil/guard"
)

// Version is the on-disk format version written to the version marker.
const Version = 1

// userDatabase is the storage entry opened for queries. The two template
// databases exist only as initialization artifacts, in the manner of the
// engines this layout imitates.
const userDatabase = "user.db"

// Config holds optional configuration for opening a data directory.
type Config struct {
	layout guard.Layout
}

// Option is a functional option for configuring an open.
type Option func(*Config)

// WithLayout overrides the default on-disk layout facts. Useful when the
// engine version changed the initialization sequence.
func WithLayout(layout guard.Layout) Option {
	return func(c *Config) {
		c.layout = layout
	}
}

// DB is an open handle on a data directory. It holds the directory lock for
// its lifetime; Close releases it.
type DB struct {
	db         *sql.DB
	dir        string
	layout     guard.Layout
	lock       *guard.LockHandle
	quarantine *guard.QuarantineReport
}

// Open opens a data directory, creating and initializing it if needed.
//
// The open path is, in order: acquire the directory lock, run partial-init
// detection (quarantining a doomed directory and replacing it with a fresh
// one), perform first-time initialization if the directory is empty, then
// open the user database. A guard.LockHeldError is returned as-is when a
// live process holds the directory.
//
// Open may block for a long time on a damaged directory while SQLite
// attempts recovery; callers that need a bound should race it against a
// timeout.
func Open(dataDir string, opts ...Option) (*DB, error) {
	cfg := &Config{layout: guard.DefaultLayout()}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock, err := guard.Acquire(dataDir)
	if err != nil {
		return nil, err
	}

	quarantine, err := guard.CheckAndQuarantine(dataDir, cfg.layout)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("failed to list data directory: %w", err)
	}
	if len(entries) == 0 {
		if err := initialize(dataDir, cfg.layout); err != nil {
			_ = lock.Release()
			return nil, err
		}
	} else if err := checkVersion(dataDir, cfg.layout); err != nil {
		_ = lock.Release()
		return nil, err
	}

	db, err := openSQLite(filepath.Join(dataDir, cfg.layout.StorageDir, userDatabase))
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	return &DB{
		db:         db,
		dir:        dataDir,
		layout:     cfg.layout,
		lock:       lock,
		quarantine: quarantine,
	}, nil
}

// initialize performs first-time setup of an empty data directory.
//
// The version marker is written last, after the storage subdirectory is
// fully populated, so a process killed at any point mid-initialization
// leaves a directory the partial-init detector will recognize and
// quarantine on the next open.
func initialize(dataDir string, layout guard.Layout) error {
	base := filepath.Join(dataDir, layout.StorageDir)
	if err := os.MkdirAll(base, 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	template0 := filepath.Join(base, "template0.db")
	tdb, err := openSQLite(template0)
	if err != nil {
		return fmt.Errorf("failed to create template database: %w", err)
	}
	if err := setMeta(tdb, "format_version", Version); err != nil {
		_ = tdb.Close()
		return err
	}
	// Checkpoint so the template is a single self-contained file to clone.
	if _, err := tdb.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		_ = tdb.Close()
		return fmt.Errorf("failed to checkpoint template: %w", err)
	}
	if err := tdb.Close(); err != nil {
		return fmt.Errorf("failed to close template database: %w", err)
	}

	if err := copyFile(template0, filepath.Join(base, "template1.db")); err != nil {
		return fmt.Errorf("failed to clone template1: %w", err)
	}
	if err := copyFile(template0, filepath.Join(base, userDatabase)); err != nil {
		return fmt.Errorf("failed to clone user database: %w", err)
	}

	marker := filepath.Join(dataDir, layout.VersionFile)
	if err := os.WriteFile(marker, []byte(strconv.Itoa(Version)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write version marker: %w", err)
	}
	return nil
}

// checkVersion validates the version marker of an initialized directory.
func checkVersion(dataDir string, layout guard.Layout) error {
	data, err := os.ReadFile(filepath.Join(dataDir, layout.VersionFile))
	if err != nil {
		return fmt.Errorf("failed to read version marker: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("malformed version marker %q", strings.TrimSpace(string(data)))
	}
	if v > Version {
		return fmt.Errorf("data directory format version %d is newer than supported version %d", v, Version)
	}
	return nil
}

// copyFile copies src to dst, syncing the destination before returning.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// SQL exposes the underlying database handle for queries.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Path returns the data directory this handle owns.
func (d *DB) Path() string {
	return d.dir
}

// Layout returns the layout facts this handle was opened with.
func (d *DB) Layout() guard.Layout {
	return d.layout
}

// UserDatabasePath returns the path of the primary storage file.
func (d *DB) UserDatabasePath() string {
	return filepath.Join(d.dir, d.layout.StorageDir, userDatabase)
}

// Quarantined returns the quarantine report from this open, or nil if the
// directory was healthy. A quarantine is informational, not fatal: the
// directory is usable immediately after.
func (d *DB) Quarantined() *guard.QuarantineReport {
	return d.quarantine
}

// SetMeta stores an integer value in the user database's meta table.
func (d *DB) SetMeta(name string, value int64) error {
	return setMeta(d.db, name, value)
}

// GetMeta reads an integer value from the user database's meta table.
func (d *DB) GetMeta(name string) (int64, error) {
	return getMeta(d.db, name)
}

// Close closes the database and releases the directory lock. Best-effort:
// the lock is released even when the database close fails.
func (d *DB) Close() error {
	dbErr := d.db.Close()
	lockErr := d.lock.Release()
	if dbErr != nil {
		return dbErr
	}
	return lockErr
}
