//go:build windows

package detector

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PIDAlive returns true if a process with pid exists.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

// IsZombie is always false on Windows; exited processes leave the table.
func IsZombie(int) bool { return false }

// StartUnix returns the process creation time as Unix seconds. Returns 0 on error.
func StartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}
