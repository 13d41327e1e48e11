// ABOUTME: SQLite layer for engine databases.
// ABOUTME: Opens databases with WAL mode and the baseline schema.

package engine

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// openSQLite opens or creates a SQLite database with the engine's baseline
// schema. Uses WAL mode for better concurrency (multiple readers, one writer).
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Baseline schema present in every database cloned from the templates.
	schema := `
		CREATE TABLE IF NOT EXISTS meta (
			name  TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		) WITHOUT ROWID;
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// setMeta stores an integer value in the meta table.
func setMeta(db *sql.DB, name string, value int64) error {
	_, err := db.Exec(`
		INSERT INTO meta (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, name, value)
	if err != nil {
		return fmt.Errorf("failed to set meta %q: %w", name, err)
	}
	return nil
}

// getMeta reads an integer value from the meta table. Missing names read as
// zero.
func getMeta(db *sql.DB, name string) (int64, error) {
	var value int64
	err := db.QueryRow(`SELECT value FROM meta WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get meta %q: %w", name, err)
	}
	return value, nil
}
