// Package harness spawns worker processes that run database workloads and
// terminates them at precisely controlled moments.
//
// A worker is a child OS process with a message pipe back to the
// coordinator (fd 3 in the child), a command pipe from the coordinator
// (stdin), and captured standard streams. The coordinator appends every
// inbound message to a transcript in arrival order and evaluates the
// scenario's kill strategy against it. A safety timeout always applies on
// top of the strategy, so no worker can hang a test run indefinitely.
//
// All coordination is message passing and process-exit notification; the
// harness itself has no shared-memory concurrency with the worker.
package harness

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultSafetyTimeout is the last-resort bound on worker lifetime. It is
// deliberately much longer than any strategy delay a scenario would use.
const DefaultSafetyTimeout = 60 * time.Second

// Scenario describes one worker run.
type Scenario struct {
	// DataDir is the target data directory, exported to the worker as
	// VIGIL_WORKER_DIR.
	DataDir string

	// WorkerProgram is the executable to spawn.
	WorkerProgram string

	// WorkerArgs are passed to the worker program.
	WorkerArgs []string

	// Env entries are appended to the coordinator's environment.
	Env []string

	// Kill decides when the termination signal is sent.
	Kill KillStrategy

	// Signal is the termination signal. Nil means SIGKILL.
	Signal os.Signal

	// SafetyTimeout overrides DefaultSafetyTimeout when positive.
	SafetyTimeout time.Duration
}

// WorkerHandle tracks one spawned worker. It is owned by the Run call that
// created it and becomes immutable once the process exit is observed.
type WorkerHandle struct {
	// PID is the worker's process id.
	PID int

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu         sync.Mutex
	transcript []Message
	stdout     bytes.Buffer
	stderr     bytes.Buffer
	exitCode   int
	exitSig    os.Signal
	killSent   bool

	done chan struct{}

	killOnce sync.Once
}

// Run spawns the worker described by sc and arms its kill strategy. It
// returns as soon as the worker is running; completion is observed through
// Wait. A WorkerSpawnError means the environment is broken and the caller
// should abort the scenario.
func Run(ctx context.Context, sc Scenario) (*WorkerHandle, error) {
	if sc.WorkerProgram == "" {
		return nil, &WorkerSpawnError{Program: "", Err: fmt.Errorf("no worker program configured")}
	}
	if err := sc.Kill.validate(); err != nil {
		return nil, err
	}

	sig := sc.Signal
	if sig == nil {
		sig = syscall.SIGKILL
	}
	safety := sc.SafetyTimeout
	if safety <= 0 {
		safety = DefaultSafetyTimeout
	}

	msgR, msgW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create message pipe: %w", err)
	}

	cmd := exec.Command(sc.WorkerProgram, sc.WorkerArgs...)
	cmd.Env = append(os.Environ(), sc.Env...)
	if sc.DataDir != "" {
		cmd.Env = append(cmd.Env, "VIGIL_WORKER_DIR="+sc.DataDir)
	}
	cmd.ExtraFiles = []*os.File{msgW} // fd 3 in the child

	h := &WorkerHandle{cmd: cmd, done: make(chan struct{})}
	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = msgR.Close()
		_ = msgW.Close()
		return nil, fmt.Errorf("failed to create command pipe: %w", err)
	}
	h.stdin = stdin

	if err := cmd.Start(); err != nil {
		_ = msgR.Close()
		_ = msgW.Close()
		return nil, &WorkerSpawnError{Program: sc.WorkerProgram, Err: err}
	}
	h.PID = cmd.Process.Pid
	// The child holds the write end now.
	_ = msgW.Close()

	// Transcript reader. Also the dispatch point for message-triggered
	// kills: arrival order here is the authoritative order.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		scanner := bufio.NewScanner(msgR)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var msg Message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				// A worker dying mid-send leaves a torn line. Expected.
				continue
			}
			h.mu.Lock()
			h.transcript = append(h.transcript, msg)
			h.mu.Unlock()
			if sc.Kill.kind == killOnMessage && sc.Kill.pred(msg) {
				h.kill(sig)
			}
		}
	}()

	var delayTimer *time.Timer
	if sc.Kill.kind == killAfterDelay {
		delayTimer = time.AfterFunc(sc.Kill.delay, func() {
			h.kill(sig)
		})
	}

	// Last-resort bound. Sends the strongest signal unconditionally, on
	// top of whatever the strategy already sent.
	safetyTimer := time.AfterFunc(safety, func() {
		select {
		case <-h.done:
		default:
			_ = cmd.Process.Kill()
		}
	})

	// Coordinator-side cancellation.
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		case <-h.done:
		}
	}()

	go func() {
		waitErr := cmd.Wait()
		// Drain remaining buffered messages before finalizing.
		_ = msgR.Close()
		<-readerDone
		if delayTimer != nil {
			delayTimer.Stop()
		}
		safetyTimer.Stop()
		_ = stdin.Close()

		h.mu.Lock()
		h.exitCode = cmd.ProcessState.ExitCode()
		if termSig, ok := exitSignal(cmd.ProcessState); ok {
			h.exitSig = termSig
		}
		h.mu.Unlock()
		_ = waitErr // exit status is carried by ProcessState
		close(h.done)
	}()

	return h, nil
}

// kill sends the termination signal exactly once. Further triggers are
// no-ops; only the safety timeout escalates past it.
func (h *WorkerHandle) kill(sig os.Signal) {
	h.killOnce.Do(func() {
		h.mu.Lock()
		h.killSent = true
		h.mu.Unlock()
		_ = h.cmd.Process.Signal(sig)
	})
}

// Wait blocks until the worker has exited by any means, or ctx is done.
func (h *WorkerHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes a command message to the worker's stdin.
func (h *WorkerHandle) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	if _, err := h.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to send command to worker: %w", err)
	}
	return nil
}

// Transcript returns a copy of the messages observed so far, in arrival
// order. Messages sent by the worker after the kill signal may never
// arrive; callers must not assert on anything past the kill point.
func (h *WorkerHandle) Transcript() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.transcript))
	copy(out, h.transcript)
	return out
}

// KillSent reports whether the strategy's termination signal was sent.
func (h *WorkerHandle) KillSent() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killSent
}

// ExitCode returns the worker's exit code, or -1 if it was signaled. Valid
// after Wait.
func (h *WorkerHandle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// ExitSignal returns the signal that terminated the worker, or nil if it
// exited on its own. Valid after Wait.
func (h *WorkerHandle) ExitSignal() os.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitSig
}

// Stdout returns the worker's captured standard output. Valid after Wait.
func (h *WorkerHandle) Stdout() string {
	return h.stdout.String()
}

// Stderr returns the worker's captured standard error. Valid after Wait.
func (h *WorkerHandle) Stderr() string {
	return h.stderr.String()
}
