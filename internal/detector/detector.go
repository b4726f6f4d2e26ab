package detector

import (
	"fmt"
	"time"
)

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Verdict is the outcome of checking a recorded PID against the process table.
type Verdict int

const (
	// Gone means no live (non-zombie) process holds the PID.
	Gone Verdict = iota
	// Alive means the PID is live and, when known, its start time matches.
	Alive
	// Recycled means the PID is live but belongs to a process started at a different time.
	Recycled
)

func (v Verdict) String() string {
	switch v {
	case Alive:
		return "alive"
	case Recycled:
		return "recycled"
	default:
		return "gone"
	}
}

// DefaultTolerance bounds the allowed drift between a recorded and an observed start time.
const DefaultTolerance = 2 * time.Second

// PIDDetector detects a process by PID. When StartUnix is non-zero the
// observed OS start time must match it within Tolerance, which guards
// against the OS handing the PID to an unrelated process.
type PIDDetector struct {
	PID       int
	StartUnix int64
	Tolerance time.Duration
}

// Probe reports whether the PID is alive, gone, or recycled.
func (d PIDDetector) Probe() Verdict {
	if !PIDAlive(d.PID) {
		return Gone
	}
	if d.StartUnix <= 0 {
		return Alive
	}
	cur := StartUnix(d.PID)
	if cur <= 0 {
		// start time unavailable on this platform; liveness is all we have
		return Alive
	}
	tol := d.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	diff := time.Duration(abs(cur-d.StartUnix)) * time.Second
	if diff > tol {
		return Recycled
	}
	return Alive
}

func (d PIDDetector) Alive() (bool, error) { return d.Probe() == Alive, nil }

func (d PIDDetector) Describe() string {
	if d.StartUnix > 0 {
		return fmt.Sprintf("pid:%d@%d", d.PID, d.StartUnix)
	}
	return fmt.Sprintf("pid:%d", d.PID)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
