// ABOUTME: Tests for the badger-backed results archive.
// ABOUTME: Each test opens a fresh archive in a temp directory.

package scenario

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := &Result{
		ID:        "run-1",
		Scenario:  SingleKill,
		DataDir:   "/tmp/run-1",
		StartedAt: time.Now().Round(time.Millisecond),
		Verdict:   []Label{LabelNone},
		Workers: []WorkerRun{
			{Role: "seed", PID: 1234, ExitCode: 0},
			{Role: "crash-tx", PID: 1235, ExitCode: -1, ExitSignal: "killed", KillSent: true},
		},
	}
	if err := s.Put(in); err != nil {
		t.Fatalf("failed to put result: %v", err)
	}

	out, err := s.Get("run-1")
	if err != nil {
		t.Fatalf("failed to get result: %v", err)
	}
	if out.Scenario != SingleKill {
		t.Errorf("scenario = %q, want %q", out.Scenario, SingleKill)
	}
	if len(out.Workers) != 2 || out.Workers[1].Role != "crash-tx" {
		t.Errorf("workers did not survive the round trip: %+v", out.Workers)
	}
	if !out.Clean() {
		t.Errorf("verdict did not survive the round trip: %v", out.Verdict)
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get("no-such-run"); err == nil {
		t.Fatal("expected an error for a missing result")
	}
}

func TestStoreListAndIDs(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Put(&Result{ID: id, Scenario: RapidCycles, Verdict: []Label{LabelNone}}); err != nil {
			t.Fatalf("failed to put result %q: %v", id, err)
		}
	}

	ids, err := s.IDs()
	if err != nil {
		t.Fatalf("failed to list ids: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3: %v", len(ids), ids)
	}

	results, err := s.List()
	if err != nil {
		t.Fatalf("failed to list results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.Scenario != RapidCycles {
			t.Errorf("result %q has scenario %q", r.ID, r.Scenario)
		}
	}
}

func TestStoreOverwrite(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put(&Result{ID: "x", Verdict: []Label{LabelNone}}); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	if err := s.Put(&Result{ID: "x", Verdict: []Label{LabelWriteFailure}}); err != nil {
		t.Fatalf("failed to overwrite: %v", err)
	}

	out, err := s.Get("x")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if !HasLabel(out.Verdict, LabelWriteFailure) {
		t.Errorf("overwrite did not take: %v", out.Verdict)
	}
}
