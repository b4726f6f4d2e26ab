package metrics

import (
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	before := testutil.ToFloat64(operations.WithLabelValues("start", ResultOK))
	IncOperation("start", ResultOK)
	assert.Equal(t, before+1, testutil.ToFloat64(operations.WithLabelValues("start", ResultOK)))

	c0 := testutil.ToFloat64(reconcileCleared)
	IncReconcileCleared()
	assert.Equal(t, c0+1, testutil.ToFloat64(reconcileCleared))

	SetRunning(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(running))
	SetSample(Sample{CPUPercent: 12.5, MemoryRSS: 2048, NumThreads: 3})
	assert.Equal(t, 12.5, testutil.ToFloat64(processCPU))
	assert.Equal(t, 2048.0, testutil.ToFloat64(processRSS))
	SetRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(running))
	assert.Equal(t, 0.0, testutil.ToFloat64(processRSS))

	ObserveStopDuration(0.3)
	IncEscalation()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"medchat_supervisor_operations_total",
		"medchat_supervisor_reconcile_cleared_total",
		"medchat_supervisor_running",
		"medchat_supervisor_stop_duration_seconds",
		"medchat_supervisor_kill_escalations_total",
	} {
		assert.True(t, names[n], "missing %s", n)
	}
}

func TestSampleProcessSelf(t *testing.T) {
	s, err := SampleProcess(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), s.PID)
	assert.Greater(t, s.MemoryRSS, uint64(0))
	assert.Greater(t, s.NumThreads, int32(0))
	assert.False(t, s.Timestamp.IsZero())
}

func TestSampleProcessInvalid(t *testing.T) {
	_, err := SampleProcess(0)
	assert.Error(t, err)
}
