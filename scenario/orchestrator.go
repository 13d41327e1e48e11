// ABOUTME: Named crash scenarios composing the harness, verifier, and classifier.
// ABOUTME: Each scenario spawns workers, kills them, verifies the survivor directory, and archives the verdict.

package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vigildb/vigil/engine"
	"github.com/vigildb/vigil/guard"
	"github.com/vigildb/vigil/harness"
	"github.com/vigildb/vigil/verify"
	"github.com/vigildb/vigil/worker"
)

// Scenario names.
const (
	SingleKill          = "single-kill"
	RapidCycles         = "rapid-cycles"
	ConcurrentInstances = "concurrent-instances"
	TamperTruncate      = "tamper-truncate"
)

// Orchestrator runs named crash scenarios against a data directory.
type Orchestrator struct {
	cfg     *Config
	metrics *Metrics
	store   *Store
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics attaches a metric set. Without it, nothing is counted.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStore attaches a results archive. Without it, results are only
// returned, not persisted.
func WithStore(s *Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// New builds an orchestrator from the given configuration.
func New(cfg *Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Names returns the known scenario names, sorted.
func Names() []string {
	names := []string{SingleKill, RapidCycles, ConcurrentInstances, TamperTruncate}
	sort.Strings(names)
	return names
}

// Run executes the named scenario against dataDir.
func (o *Orchestrator) Run(ctx context.Context, name, dataDir string) (*Result, error) {
	switch name {
	case SingleKill:
		return o.RunSingleKill(ctx, dataDir)
	case RapidCycles:
		return o.RunRapidCycles(ctx, dataDir, 5)
	case ConcurrentInstances:
		return o.RunConcurrentInstances(ctx, dataDir, 3)
	case TamperTruncate:
		return o.RunTamperTruncate(ctx, dataDir)
	default:
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
}

// RunSingleKill seeds a directory with committed rows, then kills a second
// worker the moment it reports an open uncommitted transaction. The
// verifier must find every committed row, none of the doomed ones, and a
// directory that still accepts writes.
func (o *Orchestrator) RunSingleKill(ctx context.Context, dataDir string) (*Result, error) {
	r := o.newResult(SingleKill, dataDir)
	defer o.finish(r)

	seed, err := o.runWorker(ctx, "seed", harness.Scenario{
		DataDir: dataDir,
		Env:     []string{"VIGIL_WORKER_MODE=seed", "VIGIL_WORKER_ROWS=10"},
		Kill:    neverKill(),
	})
	if err != nil {
		return nil, err
	}
	r.Workers = append(r.Workers, seed)
	if seed.ExitCode != 0 {
		return nil, fmt.Errorf("seed worker failed: exit %d: %s", seed.ExitCode, seed.Stderr)
	}

	sig, err := o.cfg.Signal()
	if err != nil {
		return nil, err
	}
	tag := "doomed-" + uuid.New().String()[:8]
	victim, err := o.runWorker(ctx, "crash-tx", harness.Scenario{
		DataDir: dataDir,
		Env:     []string{"VIGIL_WORKER_MODE=crash-tx", "VIGIL_WORKER_TAG=" + tag},
		Kill:    harness.OnMessage(harness.TypeIs("tx-open")),
		Signal:  sig,
	})
	if err != nil {
		return nil, err
	}
	r.Workers = append(r.Workers, victim)
	if !victim.KillSent {
		return nil, fmt.Errorf("crash-tx worker exited before the kill point: exit %d: %s", victim.ExitCode, victim.Stderr)
	}

	o.verifyDirectory(r, func(db *engine.DB) {
		r.CrossCheckIssues = append(r.CrossCheckIssues,
			verify.ReconcileCount(db, worker.RecordsTable, worker.MetaExpectedRecords)...)
		r.CrossCheckIssues = append(r.CrossCheckIssues,
			verify.FullScan(db, worker.RecordsTable)...)
		r.CrossCheckIssues = append(r.CrossCheckIssues,
			verify.Duplicates(db, worker.RecordsTable, "val")...)
		r.CrossCheckIssues = append(r.CrossCheckIssues, taggedRows(db, tag)...)
	})
	return r, nil
}

// RunRapidCycles runs n short-lived workers back to back, each killed a few
// dozen milliseconds into its open-write-close cycle, then verifies the
// directory once at the end. This exercises repeated recovery rather than
// one clean crash.
func (o *Orchestrator) RunRapidCycles(ctx context.Context, dataDir string, n int) (*Result, error) {
	r := o.newResult(RapidCycles, dataDir)
	defer o.finish(r)

	seed, err := o.runWorker(ctx, "seed", harness.Scenario{
		DataDir: dataDir,
		Env:     []string{"VIGIL_WORKER_MODE=seed", "VIGIL_WORKER_ROWS=10"},
		Kill:    neverKill(),
	})
	if err != nil {
		return nil, err
	}
	r.Workers = append(r.Workers, seed)
	if seed.ExitCode != 0 {
		return nil, fmt.Errorf("seed worker failed: exit %d: %s", seed.ExitCode, seed.Stderr)
	}

	sig, err := o.cfg.Signal()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		run, err := o.runWorker(ctx, fmt.Sprintf("cycle-%d", i), harness.Scenario{
			DataDir: dataDir,
			Env:     []string{"VIGIL_WORKER_MODE=cycle"},
			Kill:    harness.AfterDelay(30 * time.Millisecond),
			Signal:  sig,
		})
		if err != nil {
			return nil, err
		}
		r.Workers = append(r.Workers, run)
	}

	o.verifyDirectory(r, func(db *engine.DB) {
		r.CrossCheckIssues = append(r.CrossCheckIssues,
			verify.FullScan(db, worker.RecordsTable)...)
		r.CrossCheckIssues = append(r.CrossCheckIssues,
			verify.Duplicates(db, worker.RecordsTable, "val")...)
	})
	return r, nil
}

// RunConcurrentInstances starts n workers against the same directory at
// once. Exactly one must win the lock; every loser must report the
// winner's pid and write nothing. The winner is then killed while holding
// the lock and the directory must reopen cleanly.
func (o *Orchestrator) RunConcurrentInstances(ctx context.Context, dataDir string, n int) (*Result, error) {
	r := o.newResult(ConcurrentInstances, dataDir)
	defer o.finish(r)

	seed, err := o.runWorker(ctx, "seed", harness.Scenario{
		DataDir: dataDir,
		Env:     []string{"VIGIL_WORKER_MODE=seed", "VIGIL_WORKER_ROWS=10"},
		Kill:    neverKill(),
	})
	if err != nil {
		return nil, err
	}
	r.Workers = append(r.Workers, seed)
	if seed.ExitCode != 0 {
		return nil, fmt.Errorf("seed worker failed: exit %d: %s", seed.ExitCode, seed.Stderr)
	}

	sig, err := o.cfg.Signal()
	if err != nil {
		return nil, err
	}

	runs := make([]WorkerRun, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			run, err := o.runWorker(gctx, fmt.Sprintf("contend-%d", i), harness.Scenario{
				DataDir: dataDir,
				Env:     []string{"VIGIL_WORKER_MODE=contend"},
				Kill:    harness.AfterDelay(3 * time.Second),
				Signal:  sig,
			})
			if err != nil {
				return err
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.Workers = append(r.Workers, runs...)

	winnerPID := 0
	losers := 0
	for _, run := range runs {
		if _, ok := run.FirstMessage("acquired"); ok {
			if winnerPID != 0 {
				r.CrossCheckIssues = append(r.CrossCheckIssues,
					fmt.Sprintf("both pid %d and pid %d acquired the lock", winnerPID, run.PID))
			}
			winnerPID = run.PID
		}
	}
	for _, run := range runs {
		msg, ok := run.FirstMessage("lock-held")
		if !ok {
			continue
		}
		losers++
		if msg.HolderPID != winnerPID {
			r.CrossCheckIssues = append(r.CrossCheckIssues,
				fmt.Sprintf("pid %d saw lock holder %d, winner was %d", run.PID, msg.HolderPID, winnerPID))
		}
	}
	if winnerPID == 0 {
		r.CrossCheckIssues = append(r.CrossCheckIssues, "no worker acquired the lock")
	}
	if losers != n-1 {
		r.CrossCheckIssues = append(r.CrossCheckIssues,
			fmt.Sprintf("%d workers reported a held lock, expected %d", losers, n-1))
	}

	// The winner died holding the lock; the verifier's open must reclaim
	// the stale marker, not fail. Losers must not have written, so the
	// seeded count still reconciles.
	o.verifyDirectory(r, func(db *engine.DB) {
		r.CrossCheckIssues = append(r.CrossCheckIssues,
			verify.ReconcileCount(db, worker.RecordsTable, worker.MetaExpectedRecords)...)
	})
	return r, nil
}

// RunTamperTruncate seeds a directory, then truncates the primary storage
// file behind the engine's back before verifying. The point is exercising
// the verifier against real damage, so the verdict here is expected to be
// dirty.
func (o *Orchestrator) RunTamperTruncate(ctx context.Context, dataDir string) (*Result, error) {
	r := o.newResult(TamperTruncate, dataDir)
	defer o.finish(r)

	seed, err := o.runWorker(ctx, "seed", harness.Scenario{
		DataDir: dataDir,
		Env:     []string{"VIGIL_WORKER_MODE=seed", "VIGIL_WORKER_ROWS=10"},
		Kill:    neverKill(),
	})
	if err != nil {
		return nil, err
	}
	r.Workers = append(r.Workers, seed)
	if seed.ExitCode != 0 {
		return nil, fmt.Errorf("seed worker failed: exit %d: %s", seed.ExitCode, seed.Stderr)
	}

	layout := guard.DefaultLayout()
	target := filepath.Join(dataDir, layout.StorageDir, "user.db")
	if err := os.Truncate(target, 0); err != nil {
		return nil, fmt.Errorf("failed to truncate storage file: %w", err)
	}
	log.Warn("truncated storage file", "path", target)

	o.verifyDirectory(r, func(db *engine.DB) {
		r.CrossCheckIssues = append(r.CrossCheckIssues,
			verify.ReconcileCount(db, worker.RecordsTable, worker.MetaExpectedRecords)...)
	})
	return r, nil
}

// verifyDirectory runs the verification pipeline against the result's data
// directory: bounded open, layered integrity report, scenario cross checks,
// then the write probe. Every stage past a failed open is skipped; the open
// failure itself is the finding.
func (o *Orchestrator) verifyDirectory(r *Result, cross func(db *engine.DB)) {
	start := time.Now()
	defer func() { r.VerifyDuration = time.Since(start) }()

	res := verify.TryOpen(r.DataDir, o.cfg.OpenTimeout)
	if !res.Success() {
		r.OpenTimedOut = res.TimedOut
		r.OpenError = res.Err.Error()
		return
	}
	defer func() {
		if err := res.DB.Close(); err != nil {
			log.Error("failed to close verified directory", "path", r.DataDir, "err", err)
		}
	}()

	r.Reports = append(r.Reports, verify.Integrity(res.DB, worker.RecordsTable))
	if cross != nil {
		cross(res.DB)
	}
	if err := verify.WriteProbe(res.DB); err != nil {
		r.WriteProbeError = err.Error()
	}
}

// taggedRows flags surviving rows carrying the doomed transaction's tag.
// Any hit means an uncommitted write became durable.
func taggedRows(db *engine.DB, tag string) []string {
	var count int64
	err := db.SQL().QueryRow(
		fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE tag = ?`, worker.RecordsTable), tag).Scan(&count)
	if err != nil {
		return []string{fmt.Sprintf("failed to scan for tag %q: %v", tag, err)}
	}
	if count > 0 {
		return []string{fmt.Sprintf("%d rows from the killed transaction (tag %q) survived", count, tag)}
	}
	return nil
}

// runWorker spawns one worker process and waits for it to finish.
func (o *Orchestrator) runWorker(ctx context.Context, role string, sc harness.Scenario) (WorkerRun, error) {
	sc.WorkerProgram = o.cfg.WorkerProgram
	sc.WorkerArgs = o.cfg.WorkerArgs
	if sc.SafetyTimeout <= 0 {
		sc.SafetyTimeout = o.cfg.SafetyTimeout
	}

	h, err := harness.Run(ctx, sc)
	if err != nil {
		return WorkerRun{}, fmt.Errorf("failed to run %s worker: %w", role, err)
	}
	log.Debug("worker started", "role", role, "pid", h.PID, "kill", sc.Kill.String())
	if err := h.Wait(ctx); err != nil {
		return WorkerRun{}, fmt.Errorf("failed waiting for %s worker: %w", role, err)
	}
	return summarize(role, h), nil
}

// neverKill is the strategy for workers that must run to completion; the
// safety timeout is the only bound on them.
func neverKill() harness.KillStrategy {
	return harness.OnMessage(func(harness.Message) bool { return false })
}

func (o *Orchestrator) newResult(name, dataDir string) *Result {
	return &Result{
		ID:        uuid.New().String(),
		Scenario:  name,
		DataDir:   dataDir,
		StartedAt: time.Now(),
	}
}

// finish classifies, records metrics, and archives the result. Runs as a
// deferred step so even partially-assembled results get a verdict.
func (o *Orchestrator) finish(r *Result) {
	r.Duration = time.Since(r.StartedAt)
	r.Verdict = Classify(r)
	log.Info("scenario finished", "scenario", r.Scenario, "id", r.ID, "verdict", r.Verdict)
	o.metrics.observeRun(r.Scenario, r.Verdict, r.VerifyDuration)
	if o.store != nil {
		if err := o.store.Put(r); err != nil {
			log.Error("failed to archive result", "id", r.ID, "err", err)
		}
	}
}
