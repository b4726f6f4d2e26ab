package metrics

import (
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Sample is a point-in-time resource reading for one process.
type Sample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// SampleProcess reads live CPU and memory figures for pid through gopsutil.
// CPU is the lifetime average reported by the OS since a single status call
// has no previous sample to diff against.
func SampleProcess(pid int) (Sample, error) {
	if pid <= 0 {
		return Sample{}, fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Sample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	s := Sample{PID: int32(pid), Timestamp: time.Now()}

	if cpu, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	s.MemoryRSS = mem.RSS
	s.MemoryVMS = mem.VMS
	s.MemoryMB = float64(mem.RSS) / 1024 / 1024
	if n, err := proc.NumThreads(); err == nil {
		s.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			s.NumFDs = n
		}
	}
	return s, nil
}
