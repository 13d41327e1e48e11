// ABOUTME: End-to-end integration tests for the vigil guard, engine, and verifier.
// ABOUTME: Tests real dependencies (child processes, file I/O, sqlite, badger) without mocks.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigildb/vigil/engine"
	"github.com/vigildb/vigil/guard"
	"github.com/vigildb/vigil/scenario"
	"github.com/vigildb/vigil/verify"
	"github.com/vigildb/vigil/worker"
)

// =============================================================================
// Test Helpers
// =============================================================================

// TestWorkerProcess is not a test. The orchestrator scenarios re-execute
// this binary with a worker environment; in that case it runs the workload
// and exits with its code.
func TestWorkerProcess(t *testing.T) {
	if os.Getenv("VIGIL_WORKER_DIR") == "" {
		return
	}
	os.Exit(worker.Main())
}

// testConfig builds a scenario configuration that re-executes this test
// binary as the worker.
func testConfig(t *testing.T) *scenario.Config {
	t.Helper()
	return &scenario.Config{
		DataRoot:      t.TempDir(),
		OpenTimeout:   15 * time.Second,
		SafetyTimeout: 45 * time.Second,
		KillSignal:    "SIGKILL",
		WorkerProgram: os.Args[0],
		WorkerArgs:    []string{"-test.run=TestWorkerProcess", "--"},
	}
}

// mustOpen opens a data directory and fails the test if it errors.
func mustOpen(t *testing.T, dir string) *engine.DB {
	t.Helper()
	db, err := engine.Open(dir)
	if err != nil {
		t.Fatalf("failed to open %s: %v", dir, err)
	}
	return db
}

// seedRows writes n committed rows and the matching count promise.
func seedRows(t *testing.T, db *engine.DB, n int) {
	t.Helper()
	_, err := db.SQL().Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tag TEXT NOT NULL,
			val TEXT NOT NULL
		)`)
	if err != nil {
		t.Fatalf("failed to create records table: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := db.SQL().Exec(`INSERT INTO records (tag, val) VALUES ('seed', ?)`, i); err != nil {
			t.Fatalf("failed to insert row %d: %v", i, err)
		}
	}
	if err := db.SetMeta(worker.MetaExpectedRecords, int64(n)); err != nil {
		t.Fatalf("failed to record expected count: %v", err)
	}
}

// =============================================================================
// Scenario 1: Lifecycle Across Reopen
// =============================================================================

func TestScenario_LifecycleAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	// --- Phase 1: Initialize and write ---
	t.Log("Phase 1: Initialize a fresh directory and write rows")
	db := mustOpen(t, dir)
	seedRows(t, db, 25)
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	t.Log("Phase 1: ✓ Directory initialized and seeded")

	// --- Phase 2: Reopen and verify the data survived ---
	t.Log("Phase 2: Reopen and verify")
	db = mustOpen(t, dir)
	defer db.Close()

	issues := verify.ReconcileCount(db, worker.RecordsTable, worker.MetaExpectedRecords)
	if len(issues) != 0 {
		t.Fatalf("count reconciliation failed after reopen: %v", issues)
	}
	report := verify.Integrity(db, worker.RecordsTable)
	if !report.Intact() {
		t.Fatalf("integrity report not clean after reopen:\n%s", report)
	}
	t.Log("Phase 2: ✓ All rows survived with a clean integrity report")
}

// =============================================================================
// Scenario 2: Stale Lock Recovery
// =============================================================================

func TestScenario_StaleLockRecovery(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	// --- Phase 1: Populate the directory normally ---
	t.Log("Phase 1: Create a valid directory")
	db := mustOpen(t, dir)
	seedRows(t, db, 5)
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	// --- Phase 2: Plant a marker from a process that no longer exists ---
	t.Log("Phase 2: Plant a stale lock marker")
	marker := guard.MarkerPath(dir)
	if err := os.WriteFile(marker, []byte("999999999\n123\n"), 0o600); err != nil {
		t.Fatalf("failed to plant marker: %v", err)
	}

	// --- Phase 3: Opening must reclaim, not refuse ---
	t.Log("Phase 3: Reopen over the stale marker")
	db = mustOpen(t, dir)
	defer db.Close()

	count, err := db.GetMeta(worker.MetaExpectedRecords)
	if err != nil || count != 5 {
		t.Fatalf("data not intact after reclaim: count=%d err=%v", count, err)
	}
	t.Log("Phase 3: ✓ Stale lock reclaimed, data intact")
}

// =============================================================================
// Scenario 3: Concurrent Open Contention
// =============================================================================

func TestScenario_ConcurrentOpenContention(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	// --- Phase 1: First holder wins ---
	t.Log("Phase 1: Open and hold")
	holder := mustOpen(t, dir)

	// --- Phase 2: Second open must fail and name the holder ---
	t.Log("Phase 2: Contended open must report the holder")
	_, err := engine.Open(dir)
	if !guard.IsLockHeld(err) {
		holder.Close()
		t.Fatalf("expected a held-lock error, got %v", err)
	}
	if pid := guard.LockHolder(err); pid != os.Getpid() {
		holder.Close()
		t.Fatalf("holder pid = %d, want %d", pid, os.Getpid())
	}

	// --- Phase 3: Release unblocks the next open ---
	t.Log("Phase 3: Release and reopen")
	if err := holder.Close(); err != nil {
		t.Fatalf("failed to close holder: %v", err)
	}
	db := mustOpen(t, dir)
	defer db.Close()
	t.Log("Phase 3: ✓ Lock released and reacquired")
}

// =============================================================================
// Scenario 4: Partial Initialization Quarantine
// =============================================================================

func TestScenario_PartialInitQuarantine(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	// --- Phase 1: Fabricate a directory that died during initialization ---
	t.Log("Phase 1: Fabricate a partially-initialized directory")
	layout := guard.DefaultLayout()
	if err := os.MkdirAll(filepath.Join(dir, layout.StorageDir), 0o755); err != nil {
		t.Fatalf("failed to create storage dir: %v", err)
	}
	// One storage entry and no version marker: the initializer died before
	// its final step.
	if err := os.WriteFile(filepath.Join(dir, layout.StorageDir, "template0.db"), []byte("torn"), 0o600); err != nil {
		t.Fatalf("failed to write partial file: %v", err)
	}

	// --- Phase 2: Open must quarantine and rebuild ---
	t.Log("Phase 2: Open over the partial state")
	db := mustOpen(t, dir)
	defer db.Close()

	q := db.Quarantined()
	if q == nil {
		t.Fatal("expected a quarantine report")
	}
	if _, err := os.Stat(q.BackupPath); err != nil {
		t.Fatalf("quarantine backup missing: %v", err)
	}

	// --- Phase 3: The rebuilt directory is fully usable ---
	t.Log("Phase 3: Verify the rebuilt directory")
	seedRows(t, db, 3)
	report := verify.Integrity(db, worker.RecordsTable)
	if !report.Intact() {
		t.Fatalf("rebuilt directory not intact:\n%s", report)
	}
	t.Logf("Phase 3: ✓ Partial state preserved at %s, rebuilt directory verified", q.BackupPath)
}

// =============================================================================
// Scenario 5: Tampered Storage Detection
// =============================================================================

func TestScenario_TamperedStorageDetected(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	// --- Phase 1: Seed and close cleanly ---
	t.Log("Phase 1: Seed a healthy directory")
	db := mustOpen(t, dir)
	seedRows(t, db, 10)
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	// --- Phase 2: Damage the storage file directly ---
	t.Log("Phase 2: Truncate the storage file")
	target := filepath.Join(dir, guard.DefaultLayout().StorageDir, "user.db")
	if err := os.Truncate(target, 0); err != nil {
		t.Fatalf("failed to truncate: %v", err)
	}

	// --- Phase 3: Verification must notice ---
	t.Log("Phase 3: Verify the damaged directory")
	res := verify.TryOpen(dir, 15*time.Second)
	if !res.Success() {
		t.Logf("Phase 3: ✓ Damage surfaced as an open failure: %v", res.Err)
		return
	}
	defer res.DB.Close()
	report := verify.Integrity(res.DB, worker.RecordsTable)
	if report.Intact() {
		t.Fatal("a truncated storage file must not verify clean")
	}
	t.Logf("Phase 3: ✓ Damage surfaced in the integrity report: %v", report.Issues)
}

// =============================================================================
// Scenario 6: Full Crash-and-Verify Cycle
// =============================================================================

func TestScenario_FullCrashVerifyCycle(t *testing.T) {
	if raceEnabled {
		t.Skip("skipping under race detector: upstream BadgerDB data races")
	}

	// --- Phase 1: Run the single-kill scenario end to end ---
	t.Log("Phase 1: Run single-kill with a real worker process")
	cfg := testConfig(t)
	store, err := scenario.OpenStore(filepath.Join(t.TempDir(), "results"))
	if err != nil {
		t.Fatalf("failed to open results archive: %v", err)
	}
	defer store.Close()

	o := scenario.New(cfg, scenario.WithStore(store))
	r, err := o.Run(context.Background(), scenario.SingleKill, filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("scenario failed: %v", err)
	}
	if !r.Clean() {
		t.Fatalf("verdict = %v, want clean; cross checks: %v", r.Verdict, r.CrossCheckIssues)
	}
	t.Log("Phase 1: ✓ Worker killed mid-transaction, directory verified clean")

	// --- Phase 2: The archived result matches the returned one ---
	t.Log("Phase 2: Read the run back from the archive")
	archived, err := store.Get(r.ID)
	if err != nil {
		t.Fatalf("failed to read archived result: %v", err)
	}
	if archived.Scenario != r.Scenario || len(archived.Workers) != len(r.Workers) {
		t.Fatalf("archived result diverges: %+v vs %+v", archived, r)
	}
	t.Log("Phase 2: ✓ Archive round trip complete")
}
