// Package supervisor controls the lifecycle of the chat UI server: one
// detached background process, tracked through a status record on disk and
// re-validated against the OS process table on every observation.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/medchat/internal/detector"
	"github.com/loykin/medchat/internal/history"
	"github.com/loykin/medchat/internal/logger"
	"github.com/loykin/medchat/internal/logstore"
	"github.com/loykin/medchat/internal/metrics"
	"github.com/loykin/medchat/internal/record"
)

// Default timings.
const (
	DefaultStopTimeout = 10 * time.Second
	DefaultKillTimeout = 5 * time.Second
	DefaultLockWait    = 2 * time.Second
	DefaultLogLines    = 50

	pollInterval = 50 * time.Millisecond
	sinkTimeout  = 5 * time.Second
)

// File names inside StateDir.
const (
	RecordFile = "status.json"
	LockFile   = "supervisor.lock"
)

// Operation names written into the lock file.
const (
	OpStart   = "start"
	OpStop    = "stop"
	OpRestart = "restart"
	OpStatus  = "status"
)

// Options configures a Supervisor. Zero durations take the defaults above;
// a zero StartGrace skips the post-spawn liveness check.
type Options struct {
	StateDir string
	LogDir   string // defaults to StateDir/logs
	LogName  string // file name prefix of run logs; defaults to "ui"

	Self   string // executable used when Descriptor.App is empty; defaults to os.Executable
	Python string // interpreter for .py apps; defaults to python3

	StopTimeout    time.Duration
	KillTimeout    time.Duration
	StartGrace     time.Duration
	StartTolerance time.Duration
	LockWait       time.Duration // how long Status waits for a busy lock

	// Foreground runs also echo the child's output here when set.
	ForegroundStdout io.Writer
	ForegroundStderr io.Writer

	Logger *slog.Logger
	Sink   history.Sink
}

// Supervisor is safe to share between goroutines of one process; separate
// processes coordinate through the lock file.
type Supervisor struct {
	opts    Options
	log     *slog.Logger
	records *record.Store
	lock    *record.Lock
	runs    *logstore.Store

	// replaced in tests to simulate unkillable children and failed writes
	term, kill func(pid int) error
	save       func(record.Record) error

	// children spawned by this process, closed once reaped
	mu       sync.Mutex
	children map[int]chan struct{}
	// serializes in-process callers; flock only excludes other open files
	opMu sync.Mutex
}

func New(opts Options) (*Supervisor, error) {
	if opts.StateDir == "" {
		return nil, errors.New("state dir is required")
	}
	if opts.LogDir == "" {
		opts.LogDir = filepath.Join(opts.StateDir, "logs")
	}
	if opts.LogName == "" {
		opts.LogName = "ui"
	}
	if opts.Self == "" {
		if exe, err := os.Executable(); err == nil {
			opts.Self = exe
		}
	}
	if opts.Python == "" {
		opts.Python = "python3"
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = DefaultKillTimeout
	}
	if opts.StartTolerance <= 0 {
		opts.StartTolerance = detector.DefaultTolerance
	}
	if opts.LockWait <= 0 {
		opts.LockWait = DefaultLockWait
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if err := os.MkdirAll(opts.StateDir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &Supervisor{
		opts:     opts,
		log:      opts.Logger.With("component", "supervisor"),
		records:  record.NewStore(filepath.Join(opts.StateDir, RecordFile)),
		lock:     record.NewLock(filepath.Join(opts.StateDir, LockFile)),
		runs:     logstore.New(opts.LogDir, opts.LogName),
		term:     signalTerm,
		kill:     signalKill,
		children: make(map[int]chan struct{}),
	}
	s.save = s.records.Save
	return s, nil
}

// Options returns the effective options after defaults.
func (s *Supervisor) Options() Options { return s.opts }

// RecordPath is where the status record lives.
func (s *Supervisor) RecordPath() string { return s.records.Path() }

// Result is the outcome of Start, Stop and Restart.
type Result struct {
	PID            int      `json:"pid,omitempty"`
	Port           int      `json:"port,omitempty"`
	Host           string   `json:"host,omitempty"`
	AlreadyRunning bool     `json:"already_running,omitempty"`
	NotRunning     bool     `json:"not_running,omitempty"`
	Stopped        bool     `json:"stopped,omitempty"`
	Restarted      bool     `json:"restarted,omitempty"`
	Killed         bool     `json:"killed,omitempty"` // SIGKILL was needed
	Foreground     bool     `json:"foreground,omitempty"`
	ExitCode       int      `json:"exit_code"`
	Command        []string `json:"command,omitempty"`
	StdoutLog      string   `json:"stdout_log,omitempty"`
	StderrLog      string   `json:"stderr_log,omitempty"`
}

// Message renders r for operators.
func (r Result) Message() string {
	switch {
	case r.AlreadyRunning:
		return fmt.Sprintf("already running (pid %d, port %d)", r.PID, r.Port)
	case r.NotRunning:
		return "not running"
	case r.Foreground:
		return fmt.Sprintf("exited with code %d", r.ExitCode)
	case r.Restarted:
		return fmt.Sprintf("restarted (pid %d, port %d)", r.PID, r.Port)
	case r.Stopped && r.Killed:
		return fmt.Sprintf("stopped pid %d (killed)", r.PID)
	case r.Stopped:
		return fmt.Sprintf("stopped pid %d", r.PID)
	default:
		return fmt.Sprintf("started (pid %d, port %d)", r.PID, r.Port)
	}
}

// Start launches the managed process unless it is already running.
func (s *Supervisor) Start(ctx context.Context, d Descriptor) (Result, error) {
	if err := s.acquire(ctx, OpStart, 0); err != nil {
		s.count(OpStart, Result{}, err)
		return Result{}, err
	}
	res, wait, err := s.start(ctx, d)
	s.release()
	if wait != nil {
		res, err = wait(res)
	}
	s.count(OpStart, res, err)
	return res, err
}

// Stop terminates the managed process if one is running.
func (s *Supervisor) Stop(ctx context.Context) (Result, error) {
	if err := s.acquire(ctx, OpStop, 0); err != nil {
		s.count(OpStop, Result{}, err)
		return Result{}, err
	}
	res, err := s.stop(ctx)
	s.release()
	s.count(OpStop, res, err)
	return res, err
}

// Restart stops the managed process (if running) and starts it with d while
// holding the lock across both phases.
func (s *Supervisor) Restart(ctx context.Context, d Descriptor) (Result, error) {
	if err := s.acquire(ctx, OpRestart, 0); err != nil {
		s.count(OpRestart, Result{}, err)
		return Result{}, err
	}
	res, wait, err := s.restart(ctx, d)
	s.release()
	if wait != nil {
		res, err = wait(res)
	}
	s.count(OpRestart, res, err)
	return res, err
}

func (s *Supervisor) restart(ctx context.Context, d Descriptor) (Result, waitFunc, error) {
	stopped, err := s.stop(ctx)
	if err != nil {
		return stopped, nil, err
	}
	res, wait, err := s.start(ctx, d)
	res.Restarted = err == nil
	res.Stopped = !stopped.NotRunning
	return res, wait, err
}

func (s *Supervisor) acquire(ctx context.Context, op string, wait time.Duration) error {
	if wait <= 0 {
		if !s.opMu.TryLock() {
			return fmt.Errorf("%w: %s in this process", ErrInProgress, op)
		}
	} else if !s.lockLocal(ctx, wait) {
		return fmt.Errorf("%w: %s in this process", ErrInProgress, op)
	}
	if err := s.lock.TryAcquire(ctx, op, wait); err != nil {
		s.opMu.Unlock()
		if errors.Is(err, record.ErrLocked) {
			return fmt.Errorf("%w: %w", ErrInProgress, err)
		}
		return err
	}
	return nil
}

func (s *Supervisor) lockLocal(ctx context.Context, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		if s.opMu.TryLock() {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(pollInterval)
	}
}

func (s *Supervisor) release() {
	if err := s.lock.Release(); err != nil {
		s.log.Warn("release lock", "error", err)
	}
	s.opMu.Unlock()
}

func (s *Supervisor) count(op string, res Result, err error) {
	switch {
	case errors.Is(err, ErrInProgress):
		metrics.IncOperation(op, metrics.ResultBusy)
	case err != nil:
		metrics.IncOperation(op, metrics.ResultError)
	case res.AlreadyRunning:
		metrics.IncOperation(op, metrics.ResultAlready)
	case res.NotRunning:
		metrics.IncOperation(op, metrics.ResultNotRunning)
	default:
		metrics.IncOperation(op, metrics.ResultOK)
	}
}

func (s *Supervisor) emit(e history.Event) {
	if s.opts.Sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.Name == "" {
		e.Name = s.opts.LogName
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := s.opts.Sink.Send(ctx, e); err != nil {
		s.log.Warn("history sink send failed", "event", e.Type, "error", err)
	}
}

func eventFor(t history.EventType, r *record.Record, detail string) history.Event {
	return history.Event{
		Type:      t,
		PID:       r.PID,
		Port:      r.Port,
		App:       r.App,
		StartedAt: r.StartedAt,
		Detail:    detail,
	}
}

func (s *Supervisor) track(pid int) chan struct{} {
	done := make(chan struct{})
	s.mu.Lock()
	s.children[pid] = done
	s.mu.Unlock()
	return done
}

func (s *Supervisor) untrack(pid int) {
	s.mu.Lock()
	delete(s.children, pid)
	s.mu.Unlock()
}

// reaped reports whether pid is a child of this process that has already exited.
func (s *Supervisor) reaped(pid int) bool {
	s.mu.Lock()
	done, ok := s.children[pid]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// gone reports whether pid has left the process table (or is a zombie).
func (s *Supervisor) gone(pid int) bool {
	return s.reaped(pid) || !detector.PIDAlive(pid)
}

// waitGone polls until pid is gone or d elapses.
func (s *Supervisor) waitGone(ctx context.Context, pid int, d time.Duration) (bool, error) {
	deadline := time.Now().Add(d)
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		if s.gone(pid) {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
		}
	}
}
