// ABOUTME: Scenario result model consumed by assertions, the classifier, and the archive.
// ABOUTME: Worker handles are summarized into a serializable form once they are final.

package scenario

import (
	"fmt"
	"time"

	"github.com/vigildb/vigil/harness"
	"github.com/vigildb/vigil/verify"
)

// WorkerRun is the immutable summary of one finished worker.
type WorkerRun struct {
	// Role names what the worker was doing, e.g. "seed" or "crash-tx".
	Role string `json:"role"`

	// PID is the worker's process id.
	PID int `json:"pid"`

	// ExitCode is the exit code, -1 when the worker died by signal.
	ExitCode int `json:"exit_code"`

	// ExitSignal is the terminating signal name, empty for a clean exit.
	ExitSignal string `json:"exit_signal,omitempty"`

	// KillSent records whether the strategy's signal was sent.
	KillSent bool `json:"kill_sent"`

	// Transcript is the full message transcript in arrival order.
	Transcript []harness.Message `json:"transcript,omitempty"`

	// Stderr is the worker's captured standard error.
	Stderr string `json:"stderr,omitempty"`
}

// summarize converts a finished worker handle into its immutable summary.
// Only call after the handle's Wait has returned.
func summarize(role string, h *harness.WorkerHandle) WorkerRun {
	run := WorkerRun{
		Role:       role,
		PID:        h.PID,
		ExitCode:   h.ExitCode(),
		KillSent:   h.KillSent(),
		Transcript: h.Transcript(),
		Stderr:     h.Stderr(),
	}
	if sig := h.ExitSignal(); sig != nil {
		run.ExitSignal = sig.String()
	}
	return run
}

// FirstMessage returns the first transcript message of the given type.
func (w *WorkerRun) FirstMessage(typ string) (harness.Message, bool) {
	for _, m := range w.Transcript {
		if m.Type == typ {
			return m, true
		}
	}
	return harness.Message{}, false
}

// Result is the unit a scenario assertion consumes: the workers that ran,
// the verification outcome, and the final verdict.
type Result struct {
	// ID is a unique identifier for this run.
	ID string `json:"id"`

	// Scenario names the scenario that produced this result.
	Scenario string `json:"scenario"`

	// DataDir is the directory the scenario exercised.
	DataDir string `json:"data_dir"`

	// StartedAt and Duration bound the run; VerifyDuration is the slice
	// of it spent in the verification pipeline.
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	VerifyDuration time.Duration `json:"verify_duration"`

	// Workers are the finished workers, in spawn order.
	Workers []WorkerRun `json:"workers"`

	// OpenTimedOut is true when the verification open timed out.
	OpenTimedOut bool `json:"open_timed_out,omitempty"`

	// OpenError is the verification open failure, if any.
	OpenError string `json:"open_error,omitempty"`

	// Reports are the integrity reports, in run order.
	Reports []*verify.Report `json:"reports,omitempty"`

	// CrossCheckIssues are failures from scenario-specific cross checks
	// (count reconciliation, duplicate detection, forbidden-tag scans).
	CrossCheckIssues []string `json:"cross_check_issues,omitempty"`

	// WriteProbeError is the post-recovery write probe failure, if any.
	WriteProbeError string `json:"write_probe_error,omitempty"`

	// Verdict is the full set of corruption labels that apply.
	Verdict []Label `json:"verdict"`
}

// Clean reports whether the verdict is exactly "none".
func (r *Result) Clean() bool {
	return len(r.Verdict) == 1 && r.Verdict[0] == LabelNone
}

// String returns a short human-readable summary.
func (r *Result) String() string {
	return fmt.Sprintf("%s %s: workers=%d verdict=%v (%s)",
		r.Scenario, r.ID, len(r.Workers), r.Verdict, r.Duration.Round(time.Millisecond))
}
