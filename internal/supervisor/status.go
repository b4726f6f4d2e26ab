package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/medchat/internal/detector"
	"github.com/loykin/medchat/internal/history"
	"github.com/loykin/medchat/internal/metrics"
	"github.com/loykin/medchat/internal/record"
)

// State is the supervisor's view of the managed process.
type State string

const (
	StateAbsent   State = "absent"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	// StateStale is reported when a record points at a dead or recycled PID
	// but another invocation holds the lock, so it cannot be cleared yet.
	StateStale State = "stale"
)

// Status is a point-in-time report built by Status.
type Status struct {
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Port      int           `json:"port,omitempty"`
	Host      string        `json:"host,omitempty"`
	App       string        `json:"app,omitempty"`
	Command   []string      `json:"command,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	StdoutLog string        `json:"stdout_log,omitempty"`
	StderrLog string        `json:"stderr_log,omitempty"`

	// Cleared is set when this call removed a stale record.
	Cleared     bool   `json:"cleared,omitempty"`
	ClearReason string `json:"clear_reason,omitempty"`

	// Op and OpPID name the operation another invocation is running.
	Op    string `json:"op,omitempty"`
	OpPID int    `json:"op_pid,omitempty"`

	Sample *metrics.Sample `json:"sample,omitempty"`
}

func (st Status) Running() bool { return st.State == StateRunning }

// Status reconciles the record against the process table. When another
// invocation holds the lock the report is built without touching the record.
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	err := s.acquire(ctx, OpStatus, s.opts.LockWait)
	if errors.Is(err, ErrInProgress) {
		return s.observeBusy(err)
	}
	if err != nil {
		return Status{}, err
	}
	obs, err := s.reconcile()
	s.release()
	if err != nil {
		return Status{}, err
	}

	st := statusFrom(obs.rec)
	st.State = obs.state
	st.Cleared = obs.cleared
	st.ClearReason = obs.reason
	if st.State == StateRunning {
		if sample, err := metrics.SampleProcess(st.PID); err == nil {
			st.Sample = &sample
			metrics.SetSample(sample)
		} else {
			s.log.Debug("sample process", "pid", st.PID, "error", err)
		}
	}
	metrics.SetRunning(st.State == StateRunning)
	return st, nil
}

func (s *Supervisor) observeBusy(lockErr error) (Status, error) {
	rec, err := s.records.Load()
	if err != nil && !errors.Is(err, record.ErrCorrupt) {
		return Status{}, err
	}
	st := statusFrom(rec)
	var busy *record.BusyError
	if errors.As(lockErr, &busy) {
		st.Op = busy.Holder.Op
		st.OpPID = busy.Holder.PID
	}
	switch st.Op {
	case OpStart:
		st.State = StateStarting
	case OpStop:
		st.State = StateStopping
	case OpRestart:
		st.State = StateStarting
		if rec != nil && s.probe(rec) == detector.Alive {
			st.State = StateStopping
		}
	default:
		switch {
		case rec == nil:
			st.State = StateAbsent
		case s.probe(rec) == detector.Alive:
			st.State = StateRunning
		default:
			st.State = StateStale
		}
	}
	return st, nil
}

func statusFrom(rec *record.Record) Status {
	if rec == nil {
		return Status{State: StateAbsent}
	}
	return Status{
		PID:       rec.PID,
		Port:      rec.Port,
		Host:      rec.Host,
		App:       rec.App,
		Command:   rec.Command,
		StartedAt: rec.StartedAt,
		Uptime:    time.Since(rec.StartedAt).Round(time.Second),
		StdoutLog: rec.StdoutLog,
		StderrLog: rec.StderrLog,
	}
}

type observation struct {
	rec     *record.Record
	state   State
	cleared bool
	reason  string
}

// reconcile loads the record and clears it when its PID is dead, a zombie
// or recycled. Callers hold the lock.
func (s *Supervisor) reconcile() (observation, error) {
	rec, err := s.records.Load()
	if errors.Is(err, record.ErrCorrupt) {
		s.log.Warn("clearing unreadable status record", "path", s.records.Path(), "error", err)
		if derr := s.records.Delete(); derr != nil {
			return observation{}, fmt.Errorf("delete status record: %w", derr)
		}
		metrics.IncReconcileCleared()
		return observation{state: StateAbsent, cleared: true, reason: "corrupt record"}, nil
	}
	if err != nil {
		return observation{}, fmt.Errorf("load status record: %w", err)
	}
	if rec == nil {
		return observation{state: StateAbsent}, nil
	}

	v := s.probe(rec)
	if v == detector.Alive {
		return observation{rec: rec, state: StateRunning}, nil
	}
	reason := "pid " + v.String()
	s.log.Warn("clearing stale status record", "pid", rec.PID, "reason", reason)
	if err := s.records.Delete(); err != nil {
		return observation{}, fmt.Errorf("delete status record: %w", err)
	}
	s.untrack(rec.PID)
	metrics.IncReconcileCleared()
	metrics.SetRunning(false)
	s.emit(eventFor(history.EventCleared, rec, reason))
	return observation{state: StateAbsent, cleared: true, reason: reason}, nil
}

func (s *Supervisor) probe(rec *record.Record) detector.Verdict {
	if s.reaped(rec.PID) {
		return detector.Gone
	}
	return detector.PIDDetector{
		PID:       rec.PID,
		StartUnix: rec.ProcStartUnix,
		Tolerance: s.opts.StartTolerance,
	}.Probe()
}
