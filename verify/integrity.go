// ABOUTME: Layered integrity checking for reopened data directories.
// ABOUTME: Each layer appends issues and continues, so damage is enumerated, not truncated.

package verify

import (
	"fmt"
	"strings"

	"github.com/vigildb/vigil/engine"
)

// Report is the outcome of one integrity run. It is produced fresh by each
// run and never mutated afterwards.
type Report struct {
	// Issues lists every check failure, in check order.
	Issues []string

	// Tables is the number of user tables enumerated.
	Tables int

	// Indexes is the number of user indexes enumerated.
	Indexes int

	// IntegrityDetails is the raw output of the storage-level integrity
	// check. "ok" when healthy.
	IntegrityDetails string
}

// Intact is true iff no check recorded an issue.
func (r *Report) Intact() bool {
	return len(r.Issues) == 0
}

// String returns a human-readable summary of the report.
func (r *Report) String() string {
	var sb strings.Builder
	if r.Intact() {
		sb.WriteString("✓ integrity: OK\n")
	} else {
		sb.WriteString(fmt.Sprintf("✗ integrity: %d issue(s)\n", len(r.Issues)))
	}
	sb.WriteString(fmt.Sprintf("✓ tables checked: %d\n", r.Tables))
	sb.WriteString(fmt.Sprintf("✓ indexes checked: %d\n", r.Indexes))
	if r.IntegrityDetails != "" && r.IntegrityDetails != "ok" {
		sb.WriteString(fmt.Sprintf("✗ storage check: %s\n", r.IntegrityDetails))
	}
	for _, issue := range r.Issues {
		sb.WriteString(fmt.Sprintf("✗ %s\n", issue))
	}
	return sb.String()
}

// Integrity runs the layered consistency checks against an open handle.
// Layers run in order and continue past failures:
//
//  1. a trivial no-table query (baseline liveness);
//  2. the engine's storage-level integrity check;
//  3. enumeration of user tables, a row count per table, and presence of
//     every required table;
//  4. enumeration of user indexes, with a forced index-path query per
//     index over its owning table.
func Integrity(db *engine.DB, required ...string) *Report {
	report := &Report{}

	// Layer 1: baseline liveness.
	var one int
	if err := db.SQL().QueryRow(`SELECT 1`).Scan(&one); err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("baseline query failed: %v", err))
	}

	// Layer 2: storage-level check.
	if err := db.SQL().QueryRow(`PRAGMA integrity_check`).Scan(&report.IntegrityDetails); err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("storage integrity check failed: %v", err))
	} else if report.IntegrityDetails != "ok" {
		report.Issues = append(report.Issues, fmt.Sprintf("storage integrity check reported: %s", report.IntegrityDetails))
	}

	// Layer 3: tables.
	tables, err := userTables(db)
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("failed to enumerate tables: %v", err))
	}
	seen := make(map[string]bool, len(tables))
	for _, table := range tables {
		seen[table] = true
		report.Tables++
		var count int64
		if err := db.SQL().QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&count); err != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("row count on table %q failed: %v", table, err))
		}
	}
	for _, table := range required {
		if !seen[table] {
			report.Issues = append(report.Issues, fmt.Sprintf("required table %q is missing", table))
		}
	}

	// Layer 4: indexes. Forcing the index path proves the index structure
	// is still traversable, not just present in the catalog.
	indexes, err := userIndexes(db)
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("failed to enumerate indexes: %v", err))
	}
	for _, idx := range indexes {
		report.Indexes++
		var count int64
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %q INDEXED BY %q`, idx.table, idx.name)
		if err := db.SQL().QueryRow(q).Scan(&count); err != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("index %q on table %q unusable: %v", idx.name, idx.table, err))
		}
	}

	return report
}

// userTables enumerates non-system tables.
func userTables(db *engine.DB) ([]string, error) {
	rows, err := db.SQL().Query(`
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return tables, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

type indexInfo struct {
	name  string
	table string
}

// userIndexes enumerates non-system indexes with their owning tables.
func userIndexes(db *engine.DB) ([]indexInfo, error) {
	rows, err := db.SQL().Query(`
		SELECT name, tbl_name FROM sqlite_master
		WHERE type = 'index' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var indexes []indexInfo
	for rows.Next() {
		var idx indexInfo
		if err := rows.Scan(&idx.name, &idx.table); err != nil {
			return indexes, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}
