// ABOUTME: Scenario-specific consistency checks composed by the orchestrator.
// ABOUTME: Count reconciliation, full-scan comparison, duplicate detection, write probe.

package verify

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/vigildb/vigil/engine"
)

// ReconcileCount compares a table's row count against the count a worker
// promised in the meta table before the kill point. Returns issues, one per
// discrepancy.
func ReconcileCount(db *engine.DB, table, metaKey string) []string {
	var issues []string

	expected, err := db.GetMeta(metaKey)
	if err != nil {
		return append(issues, fmt.Sprintf("failed to read expected count %q: %v", metaKey, err))
	}

	var actual int64
	if err := db.SQL().QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&actual); err != nil {
		return append(issues, fmt.Sprintf("failed to count table %q: %v", table, err))
	}

	if actual != expected {
		issues = append(issues, fmt.Sprintf("table %q has %d rows, meta %q promised %d", table, actual, metaKey, expected))
	}
	return issues
}

// FullScan compares a table's aggregate row count against a literal row
// enumeration. Page-level damage can leave the aggregate intact while the
// enumeration fails or comes up short; this check surfaces that.
func FullScan(db *engine.DB, table string) []string {
	var issues []string

	var aggregate int64
	if err := db.SQL().QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&aggregate); err != nil {
		return append(issues, fmt.Sprintf("aggregate count on %q failed: %v", table, err))
	}

	rows, err := db.SQL().Query(fmt.Sprintf(`SELECT rowid FROM %q ORDER BY rowid`, table))
	if err != nil {
		return append(issues, fmt.Sprintf("row enumeration on %q failed: %v", table, err))
	}
	defer func() { _ = rows.Close() }()

	var enumerated int64
	for rows.Next() {
		var rowid int64
		if err := rows.Scan(&rowid); err != nil {
			issues = append(issues, fmt.Sprintf("row scan on %q failed after %d rows: %v", table, enumerated, err))
			return issues
		}
		enumerated++
	}
	if err := rows.Err(); err != nil {
		issues = append(issues, fmt.Sprintf("row enumeration on %q aborted after %d rows: %v", table, enumerated, err))
	}

	if enumerated != aggregate {
		issues = append(issues, fmt.Sprintf("table %q enumerates %d rows but aggregates %d", table, enumerated, aggregate))
	}
	return issues
}

// Duplicates reports values of a column that appear more than once.
func Duplicates(db *engine.DB, table, column string) []string {
	var issues []string

	q := fmt.Sprintf(`SELECT %q, COUNT(*) FROM %q GROUP BY %q HAVING COUNT(*) > 1`, column, table, column)
	rows, err := db.SQL().Query(q)
	if err != nil {
		return append(issues, fmt.Sprintf("duplicate check on %q.%q failed: %v", table, column, err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var value string
		var count int64
		if err := rows.Scan(&value, &count); err != nil {
			return append(issues, fmt.Sprintf("duplicate check scan on %q failed: %v", table, err))
		}
		issues = append(issues, fmt.Sprintf("value %q appears %d times in %q.%q", value, count, table, column))
	}
	if err := rows.Err(); err != nil {
		issues = append(issues, fmt.Sprintf("duplicate check on %q aborted: %v", table, err))
	}
	return issues
}

// WriteProbe proves the reopened directory is writable, not just readable:
// it creates a probe table, inserts a uniquely-tagged row, reads it back,
// then removes every trace. Repeated verification runs stay idempotent.
func WriteProbe(db *engine.DB) error {
	const probeTable = "vigil_write_probe"

	if _, err := db.SQL().Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id TEXT PRIMARY KEY)`, probeTable)); err != nil {
		return fmt.Errorf("write probe failed to create table: %w", err)
	}

	sentinel := uuid.New().String()
	if _, err := db.SQL().Exec(fmt.Sprintf(`INSERT INTO %q (id) VALUES (?)`, probeTable), sentinel); err != nil {
		return fmt.Errorf("write probe failed to insert: %w", err)
	}

	var got string
	if err := db.SQL().QueryRow(fmt.Sprintf(`SELECT id FROM %q WHERE id = ?`, probeTable), sentinel).Scan(&got); err != nil {
		return fmt.Errorf("write probe failed to read back: %w", err)
	}
	if got != sentinel {
		return fmt.Errorf("write probe read back %q, wrote %q", got, sentinel)
	}

	if _, err := db.SQL().Exec(fmt.Sprintf(`DROP TABLE %q`, probeTable)); err != nil {
		return fmt.Errorf("write probe failed to clean up: %w", err)
	}
	return nil
}
