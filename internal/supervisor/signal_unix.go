//go:build !windows

package supervisor

import (
	"errors"
	"os/exec"
	"syscall"
)

// detach starts the child in its own session so it outlives this process
// and can be signalled as a group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func signalTerm(pid int) error { return signalGroup(pid, syscall.SIGTERM) }

func signalKill(pid int) error { return signalGroup(pid, syscall.SIGKILL) }

// signalGroup signals the process group led by pid, falling back to the
// single process when the group is gone.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	err := syscall.Kill(pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
