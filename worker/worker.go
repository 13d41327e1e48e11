// Package worker implements the workload program the crash-injection
// harness spawns. It opens a data directory through the standard guarded
// open path, runs one scripted workload selected by environment, and
// reports each step over the message pipe so the coordinator can kill it at
// a precise moment.
package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/charmbracelet/log"

	"github.com/vigildb/vigil/engine"
	"github.com/vigildb/vigil/guard"
	"github.com/vigildb/vigil/harness"
)

// RecordsTable is the user table every workload writes to.
const RecordsTable = "records"

// MetaExpectedRecords is the meta key holding the committed row count the
// worker promises; the verifier reconciles against it after a crash.
const MetaExpectedRecords = "expected_records"

// Config is the worker's environment-driven configuration.
type Config struct {
	// Dir is the target data directory.
	Dir string `env:"VIGIL_WORKER_DIR"`

	// Mode selects the workload: seed, crash-tx, hold, contend, or cycle.
	Mode string `env:"VIGIL_WORKER_MODE" envDefault:"seed"`

	// Rows is the committed row count for the seed workload.
	Rows int `env:"VIGIL_WORKER_ROWS" envDefault:"10"`

	// Tag marks rows written by the uncommitted transaction.
	Tag string `env:"VIGIL_WORKER_TAG" envDefault:"uncommitted"`
}

// ConfigFromEnv reads the worker configuration from the environment.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse worker environment: %w", err)
	}
	return &cfg, nil
}

// reporter serializes messages onto the coordinator pipe.
type reporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newReporter(w io.Writer) *reporter {
	return &reporter{enc: json.NewEncoder(w)}
}

func (r *reporter) emit(msg harness.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.At == 0 {
		msg.At = time.Now().UnixMilli()
	}
	// A write failure means the coordinator is gone; the safety timeout
	// will reap us, so there is nothing useful to do with the error.
	_ = r.enc.Encode(msg)
}

func (r *reporter) emitError(err error) {
	msg := harness.NewMessage("error")
	msg.Error = err.Error()
	r.emit(msg)
}

// Main is the worker entry point. It returns the process exit code.
func Main() int {
	cfg, err := ConfigFromEnv()
	if err != nil {
		log.Error("bad worker environment", "err", err)
		return 1
	}
	rep := newReporter(os.NewFile(3, "messages"))
	if err := run(cfg, rep, os.Stdin); err != nil {
		rep.emitError(err)
		log.Error("workload failed", "mode", cfg.Mode, "err", err)
		return 1
	}
	return 0
}

// run dispatches to the workload selected by cfg.Mode. The commands reader
// is the coordinator-to-worker channel (stdin).
func run(cfg *Config, rep *reporter, commands io.Reader) error {
	if cfg.Dir == "" {
		return fmt.Errorf("no data directory configured")
	}
	switch cfg.Mode {
	case "seed":
		return runSeed(cfg, rep)
	case "crash-tx":
		return runCrashTx(cfg, rep, commands)
	case "hold":
		return runHold(cfg, rep, commands)
	case "contend":
		return runContend(cfg, rep, commands)
	case "cycle":
		return runCycle(cfg, rep)
	default:
		return fmt.Errorf("unknown worker mode %q", cfg.Mode)
	}
}

// ensureSchema creates the records table and its tag index.
func ensureSchema(db *engine.DB) error {
	_, err := db.SQL().Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id  INTEGER PRIMARY KEY AUTOINCREMENT,
			tag TEXT NOT NULL,
			val TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS records_tag_idx ON records (tag);
	`)
	if err != nil {
		return fmt.Errorf("failed to create workload schema: %w", err)
	}
	return nil
}

// runSeed initializes the directory and commits a known baseline: Rows
// seed rows plus a meta record promising that count.
func runSeed(cfg *Config, rep *reporter) error {
	db, err := engine.Open(cfg.Dir)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := ensureSchema(db); err != nil {
		return err
	}

	tx, err := db.SQL().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	for i := 0; i < cfg.Rows; i++ {
		if _, err := tx.Exec(`INSERT INTO records (tag, val) VALUES ('seed', ?)`, fmt.Sprintf("seed-%d", i)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert seed row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed rows: %w", err)
	}

	if err := db.SetMeta(MetaExpectedRecords, int64(cfg.Rows)); err != nil {
		return err
	}

	msg := harness.NewMessage("seeded")
	msg.Table = RecordsTable
	msg.Count = cfg.Rows
	rep.emit(msg)
	return nil
}

// runCrashTx opens an uncommitted transaction that inserts tagged rows and
// deletes some committed ones, announces it, and holds until killed. None
// of the transaction's effects may survive the crash.
func runCrashTx(cfg *Config, rep *reporter, commands io.Reader) error {
	db, err := engine.Open(cfg.Dir)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := ensureSchema(db); err != nil {
		return err
	}
	rep.emit(harness.NewMessage("opened"))

	tx, err := db.SQL().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin crash transaction: %w", err)
	}
	for i := 0; i < 20; i++ {
		if _, err := tx.Exec(`INSERT INTO records (tag, val) VALUES (?, ?)`, cfg.Tag, fmt.Sprintf("doomed-%d", i)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert uncommitted row: %w", err)
		}
	}
	if _, err := tx.Exec(`
		DELETE FROM records WHERE id IN (
			SELECT id FROM records WHERE tag = 'seed' ORDER BY id LIMIT 2
		)
	`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to delete seed rows: %w", err)
	}

	msg := harness.NewMessage("tx-open")
	msg.Table = RecordsTable
	msg.Count = 20
	msg.Tag = cfg.Tag
	rep.emit(msg)

	// Hold with the transaction open. The coordinator kills us here; the
	// deliberately-never-committed transaction must vanish with us.
	holdUntilCommand(commands)
	return tx.Rollback()
}

// runHold opens the directory and holds it until killed or commanded.
func runHold(cfg *Config, rep *reporter, commands io.Reader) error {
	db, err := engine.Open(cfg.Dir)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	rep.emit(harness.NewMessage("opened"))
	holdUntilCommand(commands)
	rep.emit(harness.NewMessage("released"))
	return nil
}

// runContend attempts to open a directory that another worker may hold.
// On contention it reports the holder and exits without writing anything;
// on success it behaves like runHold.
func runContend(cfg *Config, rep *reporter, commands io.Reader) error {
	db, err := engine.Open(cfg.Dir)
	if guard.IsLockHeld(err) {
		msg := harness.NewMessage("lock-held")
		msg.HolderPID = guard.LockHolder(err)
		rep.emit(msg)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	msg := harness.NewMessage("acquired")
	msg.HolderPID = os.Getpid()
	rep.emit(msg)
	holdUntilCommand(commands)
	rep.emit(harness.NewMessage("released"))
	return nil
}

// runCycle performs one small committed write and exits, for rapid
// open-write-close cycling under random kills.
func runCycle(cfg *Config, rep *reporter) error {
	db, err := engine.Open(cfg.Dir)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := ensureSchema(db); err != nil {
		return err
	}
	if _, err := db.SQL().Exec(`INSERT INTO records (tag, val) VALUES ('cycle', ?)`, time.Now().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to insert cycle row: %w", err)
	}

	msg := harness.NewMessage("wrote")
	msg.Table = RecordsTable
	msg.Count = 1
	rep.emit(msg)
	return nil
}

// holdUntilCommand blocks until the coordinator sends any line or closes
// the command channel. Workers holding here are usually reaped by a signal
// instead.
func holdUntilCommand(commands io.Reader) {
	if commands == nil {
		select {}
	}
	r := bufio.NewReader(commands)
	_, _ = r.ReadString('\n')
}
