package supervisor

import "errors"

var (
	// ErrInProgress means another invocation holds the operation lock.
	ErrInProgress = errors.New("another supervisor operation is in progress")
	// ErrPortInUse means the requested host:port cannot be bound.
	ErrPortInUse = errors.New("port already in use")
	// ErrSpawn wraps failures to launch the child (missing executable, permissions).
	ErrSpawn = errors.New("failed to spawn process")
	// ErrTerminationFailed means the process survived both SIGTERM and SIGKILL.
	ErrTerminationFailed = errors.New("process did not terminate")
	// ErrNoLogs means no run has produced log files yet.
	ErrNoLogs = errors.New("no logs available")
	// ErrExitedDuringStart means the child died within the start grace period.
	ErrExitedDuringStart = errors.New("process exited during start")
)
