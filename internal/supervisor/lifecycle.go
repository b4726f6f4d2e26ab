package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/loykin/medchat/internal/detector"
	"github.com/loykin/medchat/internal/history"
	"github.com/loykin/medchat/internal/logstore"
	"github.com/loykin/medchat/internal/metrics"
	"github.com/loykin/medchat/internal/record"
)

// waitFunc finishes a foreground run after the lock has been released.
type waitFunc func(Result) (Result, error)

func (s *Supervisor) start(ctx context.Context, d Descriptor) (Result, waitFunc, error) {
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return Result{}, nil, err
	}

	obs, err := s.reconcile()
	if err != nil {
		return Result{}, nil, err
	}
	if obs.state == StateRunning {
		r := obs.rec
		s.log.Info("already running", "pid", r.PID, "port", r.Port)
		return Result{
			PID: r.PID, Port: r.Port, Host: r.Host, AlreadyRunning: true,
			Command: r.Command, StdoutLog: r.StdoutLog, StderrLog: r.StderrLog,
		}, nil, nil
	}

	if err := checkPort(d.Host, d.Port); err != nil {
		return Result{}, nil, err
	}

	files, err := s.runs.Create(time.Now())
	if err != nil {
		return Result{}, nil, err
	}
	argv := d.Command(s.opts.Self, s.opts.Python)
	res := Result{
		Port: d.Port, Host: d.Host, Command: argv,
		StdoutLog: files.Stdout, StderrLog: files.Stderr,
	}

	// #nosec G204 -- argv comes from operator configuration
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = d.WorkDir
	cmd.Env = append(os.Environ(), d.Env...)
	cmd.Stdin = nil
	if d.Background {
		cmd.Stdout = files.Out
		cmd.Stderr = files.Err
		detach(cmd)
	} else {
		cmd.Stdout = echo(files.Out, s.opts.ForegroundStdout)
		cmd.Stderr = echo(files.Err, s.opts.ForegroundStderr)
	}

	if err := cmd.Start(); err != nil {
		files.Close()
		// nothing ran, so the pair holds no output
		_ = os.Remove(files.Stdout)
		_ = os.Remove(files.Stderr)
		s.log.Error("spawn failed", "command", argv, "error", err)
		return Result{}, nil, fmt.Errorf("%w: %s: %w", ErrSpawn, argv[0], err)
	}
	pid := cmd.Process.Pid
	res.PID = pid
	if err := s.runs.MarkLast(files.Pair); err != nil {
		s.log.Warn("write last-run pointer", "error", err)
	}

	if !d.Background {
		res.Foreground = true
		s.log.Info("started in foreground", "pid", pid, "port", d.Port, "command", argv)
		return res, func(r Result) (Result, error) {
			defer files.Close()
			err := cmd.Wait()
			r.ExitCode = cmd.ProcessState.ExitCode()
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) {
				return r, fmt.Errorf("wait for pid %d: %w", pid, err)
			}
			s.log.Info("foreground run exited", "pid", pid, "code", r.ExitCode)
			return r, nil
		}, nil
	}

	// The child keeps its own descriptors.
	files.Close()
	done := s.track(pid)
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	rec := record.Record{
		PID:           pid,
		StartedAt:     time.Now().UTC(),
		ProcStartUnix: detector.StartUnix(pid),
		App:           d.App,
		Port:          d.Port,
		Host:          d.Host,
		Args:          d.Args,
		Command:       argv,
		StdoutLog:     files.Stdout,
		StderrLog:     files.Stderr,
	}
	if err := s.save(rec); err != nil {
		s.log.Error("persist status record failed, killing child", "pid", pid, "error", err)
		s.abandon(pid)
		return Result{}, nil, fmt.Errorf("persist status record: %w", err)
	}

	if g := s.opts.StartGrace; g > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(g):
		}
		if s.gone(pid) {
			_ = s.records.Delete()
			s.untrack(pid)
			s.log.Error("process exited during start", "pid", pid, "stderr", files.Stderr)
			s.emit(eventFor(history.EventCleared, &rec, "exited during start"))
			return res, nil, fmt.Errorf("%w: pid %d, see %s", ErrExitedDuringStart, pid, files.Stderr)
		}
	}

	s.log.Info("started", "pid", pid, "port", d.Port, "host", d.Host, "stdout", files.Stdout)
	metrics.SetRunning(true)
	s.emit(eventFor(history.EventStart, &rec, ""))
	return res, nil, nil
}

// abandon kills a child whose record could not be written.
func (s *Supervisor) abandon(pid int) {
	_ = s.kill(pid)
	if ok, _ := s.waitGone(context.Background(), pid, s.opts.KillTimeout); !ok {
		s.log.Error("failed to kill untracked child", "pid", pid)
	}
	s.untrack(pid)
}

func (s *Supervisor) stop(ctx context.Context) (Result, error) {
	obs, err := s.reconcile()
	if err != nil {
		return Result{}, err
	}
	if obs.state != StateRunning {
		s.log.Info("stop: not running")
		metrics.SetRunning(false)
		return Result{NotRunning: true}, nil
	}
	rec := obs.rec
	pid := rec.PID
	res := Result{PID: pid, Port: rec.Port, Host: rec.Host, StdoutLog: rec.StdoutLog, StderrLog: rec.StderrLog}
	began := time.Now()

	s.log.Info("stopping", "pid", pid, "timeout", s.opts.StopTimeout)
	if err := s.term(pid); err != nil {
		s.log.Warn("graceful signal failed", "pid", pid, "error", err)
	}
	exited, err := s.waitGone(ctx, pid, s.opts.StopTimeout)
	if err != nil {
		return res, err
	}
	if !exited {
		s.log.Warn("graceful stop timed out, killing", "pid", pid)
		metrics.IncEscalation()
		res.Killed = true
		if err := s.kill(pid); err != nil {
			s.log.Warn("kill signal failed", "pid", pid, "error", err)
		}
		exited, err = s.waitGone(ctx, pid, s.opts.KillTimeout)
		if err != nil {
			return res, err
		}
	}
	if !exited {
		s.log.Error("termination failed", "pid", pid)
		return res, fmt.Errorf("%w: pid %d", ErrTerminationFailed, pid)
	}

	if err := s.records.Delete(); err != nil {
		return res, fmt.Errorf("delete status record: %w", err)
	}
	s.untrack(pid)
	res.Stopped = true
	metrics.ObserveStopDuration(time.Since(began).Seconds())
	metrics.SetRunning(false)
	detail := "terminated"
	if res.Killed {
		detail = "killed"
	}
	s.log.Info("stopped", "pid", pid, "killed", res.Killed)
	s.emit(eventFor(history.EventStop, rec, detail))
	return res, nil
}

// checkPort fails with ErrPortInUse when host:port cannot be bound right now.
func checkPort(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPortInUse, addr, err)
	}
	_ = ln.Close()
	return nil
}

func echo(f *os.File, w io.Writer) io.Writer {
	if w == nil {
		return f
	}
	return io.MultiWriter(f, w)
}

// Logs returns the last n lines of stream from the current run, or the most
// recent run when nothing is running.
func (s *Supervisor) Logs(stream logstore.Stream, n int) (Tail, error) {
	if n <= 0 {
		n = DefaultLogLines
	}
	var pair logstore.Pair
	rec, err := s.records.Load()
	if err == nil && rec != nil {
		pair = logstore.Pair{Stdout: rec.StdoutLog, Stderr: rec.StderrLog}
	} else if last, ok := s.runs.Last(); ok {
		pair = last
	} else {
		return Tail{}, ErrNoLogs
	}
	path := pair.Path(stream)
	lines, err := logstore.Tail(path, n)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Tail{}, fmt.Errorf("%w: %s", ErrNoLogs, path)
		}
		return Tail{}, err
	}
	return Tail{Stream: stream, Path: path, Lines: lines}, nil
}

// Tail is a slice of one run's log.
type Tail struct {
	Stream logstore.Stream `json:"stream"`
	Path   string          `json:"path"`
	Lines  []string        `json:"lines"`
}
