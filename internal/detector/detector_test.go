package detector

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test")
	}
}

// startSleep starts a short-lived sleep process and returns *exec.Cmd already started
func startSleep(dur string) (*exec.Cmd, error) {
	if runtime.GOOS == "windows" {
		return nil, fmt.Errorf("unsupported on windows")
	}
	// #nosec G204
	cmd := exec.Command("/bin/sh", "-c", "exec sleep "+dur)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func TestPIDDetector_StartMatches(t *testing.T) {
	requireUnix(t)
	cmd, err := startSleep("2")
	if err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	pid := cmd.Process.Pid
	time.Sleep(20 * time.Millisecond)
	start := StartUnix(pid)
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}

	d := PIDDetector{PID: pid, StartUnix: start}
	if v := d.Probe(); v != Alive {
		t.Fatalf("expected alive with matching start, got %s", v)
	}
	alive, err := d.Alive()
	if err != nil || !alive {
		t.Fatalf("Alive() = %v, %v", alive, err)
	}
}

func TestPIDDetector_StartMismatchIsRecycled(t *testing.T) {
	requireUnix(t)
	cmd, err := startSleep("2")
	if err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	pid := cmd.Process.Pid
	time.Sleep(20 * time.Millisecond)
	start := StartUnix(pid)
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}

	d := PIDDetector{PID: pid, StartUnix: start + 12345}
	if v := d.Probe(); v != Recycled {
		t.Fatalf("expected recycled with mismatched start, got %s", v)
	}
	if alive, _ := d.Alive(); alive {
		t.Fatalf("recycled PID must not be reported alive")
	}
}

func TestPIDDetector_WithinTolerance(t *testing.T) {
	requireUnix(t)
	self := os.Getpid()
	start := StartUnix(self)
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	d := PIDDetector{PID: self, StartUnix: start - 1, Tolerance: 3 * time.Second}
	if v := d.Probe(); v != Alive {
		t.Fatalf("expected alive within tolerance, got %s", v)
	}
}

func TestPIDDetector_ExitedAndZombie(t *testing.T) {
	requireUnix(t)
	cmd, err := startSleep("0")
	if err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	pid := cmd.Process.Pid
	// Not reaped yet: the child is a zombie and must count as gone.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !IsZombie(pid) {
		time.Sleep(10 * time.Millisecond)
	}
	if runtime.GOOS == "linux" && !IsZombie(pid) {
		t.Fatalf("expected zombie state for unreaped child")
	}
	if v := (PIDDetector{PID: pid}).Probe(); v != Gone {
		t.Fatalf("zombie should probe as gone, got %s", v)
	}
	_ = cmd.Wait()
	if PIDAlive(pid) {
		t.Fatalf("reaped pid %d still reported alive", pid)
	}
}

func TestPIDAlive_InvalidPID(t *testing.T) {
	if PIDAlive(0) || PIDAlive(-5) {
		t.Fatalf("non-positive PIDs are never alive")
	}
	if StartUnix(0) != 0 {
		t.Fatalf("StartUnix(0) should be 0")
	}
}

func TestVerdictAndDescribe(t *testing.T) {
	if Gone.String() != "gone" || Alive.String() != "alive" || Recycled.String() != "recycled" {
		t.Fatalf("unexpected verdict strings")
	}
	if got := (PIDDetector{PID: 12}).Describe(); got != "pid:12" {
		t.Fatalf("describe = %q", got)
	}
	if got := (PIDDetector{PID: 12, StartUnix: 99}).Describe(); got != "pid:12@99" {
		t.Fatalf("describe = %q", got)
	}
}
