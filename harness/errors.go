package harness

import (
	"errors"
	"fmt"
)

// WorkerSpawnError indicates the worker process could not be started at all.
// This is an environment problem, not a crash-safety finding; scenarios
// abort on it instead of recording it as corruption.
type WorkerSpawnError struct {
	Program string
	Err     error
}

func (e *WorkerSpawnError) Error() string {
	return fmt.Sprintf("failed to spawn worker %q: %v", e.Program, e.Err)
}

func (e *WorkerSpawnError) Unwrap() error {
	return e.Err
}

// IsWorkerSpawn returns true if the error indicates a worker spawn failure.
func IsWorkerSpawn(err error) bool {
	var spawnErr *WorkerSpawnError
	return errors.As(err, &spawnErr)
}
