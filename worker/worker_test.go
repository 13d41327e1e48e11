// ABOUTME: In-process tests for the worker workloads.
// ABOUTME: Workloads run against temp directories with a captured reporter.

package worker

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vigildb/vigil/engine"
	"github.com/vigildb/vigil/harness"
)

// capture runs a workload with a buffered reporter and returns the emitted
// messages.
func capture(t *testing.T, cfg *Config, commands *strings.Reader) []harness.Message {
	t.Helper()
	var buf bytes.Buffer
	rep := newReporter(&buf)
	if err := run(cfg, rep, commands); err != nil {
		t.Fatalf("workload %q failed: %v", cfg.Mode, err)
	}
	var msgs []harness.Message
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var m harness.Message
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("failed to decode emitted message: %v", err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func TestRunSeed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	cfg := &Config{Dir: dir, Mode: "seed", Rows: 10}

	msgs := capture(t, cfg, strings.NewReader(""))
	if len(msgs) != 1 || msgs[0].Type != "seeded" || msgs[0].Count != 10 {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	db, err := engine.Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	var count int
	if err := db.SQL().QueryRow(`SELECT COUNT(*) FROM records WHERE tag = 'seed'`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 10 {
		t.Errorf("expected 10 seed rows, got %d", count)
	}
	expected, err := db.GetMeta(MetaExpectedRecords)
	if err != nil || expected != 10 {
		t.Errorf("expected meta promise of 10 rows, got %d err=%v", expected, err)
	}
}

func TestRunCrashTx_RollsBackWhenCommanded(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	capture(t, &Config{Dir: dir, Mode: "seed", Rows: 10}, strings.NewReader(""))

	// Commanded release instead of a kill: the transaction still must not
	// commit.
	cfg := &Config{Dir: dir, Mode: "crash-tx", Tag: "doomed"}
	msgs := capture(t, cfg, strings.NewReader("go\n"))

	var sawTxOpen bool
	for _, m := range msgs {
		if m.Type == "tx-open" {
			sawTxOpen = true
			if m.Count != 20 || m.Tag != "doomed" {
				t.Errorf("unexpected tx-open payload: %+v", m)
			}
		}
	}
	if !sawTxOpen {
		t.Fatalf("missing tx-open message: %+v", msgs)
	}

	db, err := engine.Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	var seed, doomed int
	if err := db.SQL().QueryRow(`SELECT COUNT(*) FROM records WHERE tag = 'seed'`).Scan(&seed); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if err := db.SQL().QueryRow(`SELECT COUNT(*) FROM records WHERE tag = 'doomed'`).Scan(&doomed); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if seed != 10 {
		t.Errorf("expected 10 seed rows to survive, got %d", seed)
	}
	if doomed != 0 {
		t.Errorf("expected 0 uncommitted rows, got %d", doomed)
	}
}

func TestRunCycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	for i := 0; i < 3; i++ {
		msgs := capture(t, &Config{Dir: dir, Mode: "cycle"}, strings.NewReader(""))
		if len(msgs) != 1 || msgs[0].Type != "wrote" {
			t.Fatalf("cycle %d: unexpected messages %+v", i, msgs)
		}
	}

	db, err := engine.Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	var count int
	if err := db.SQL().QueryRow(`SELECT COUNT(*) FROM records WHERE tag = 'cycle'`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 cycle rows, got %d", count)
	}
}

func TestRunContend_ReportsHolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	holder, err := engine.Open(dir)
	if err != nil {
		t.Fatalf("holder open failed: %v", err)
	}
	defer func() { _ = holder.Close() }()

	msgs := capture(t, &Config{Dir: dir, Mode: "contend"}, strings.NewReader(""))
	if len(msgs) != 1 || msgs[0].Type != "lock-held" {
		t.Fatalf("expected lock-held report, got %+v", msgs)
	}
	if msgs[0].HolderPID == 0 {
		t.Error("lock-held report must name the holder")
	}
}

func TestRun_UnknownMode(t *testing.T) {
	cfg := &Config{Dir: t.TempDir(), Mode: "bogus"}
	var buf bytes.Buffer
	if err := run(cfg, newReporter(&buf), strings.NewReader("")); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
}

func TestRun_RequiresDir(t *testing.T) {
	var buf bytes.Buffer
	if err := run(&Config{Mode: "seed"}, newReporter(&buf), strings.NewReader("")); err == nil {
		t.Fatal("expected missing directory to fail")
	}
}
