package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels for OperationsTotal.
const (
	ResultOK         = "ok"
	ResultAlready    = "already_running"
	ResultNotRunning = "not_running"
	ResultBusy       = "busy"
	ResultError      = "error"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medchat",
			Subsystem: "supervisor",
			Name:      "operations_total",
			Help:      "Supervisor operations by kind and outcome.",
		}, []string{"op", "result"},
	)
	reconcileCleared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "medchat",
			Subsystem: "supervisor",
			Name:      "reconcile_cleared_total",
			Help:      "Status records removed because the recorded PID was dead, a zombie or recycled.",
		},
	)
	running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "medchat",
			Subsystem: "supervisor",
			Name:      "running",
			Help:      "1 when the managed UI process was last observed running, 0 otherwise.",
		},
	)
	stopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "medchat",
			Subsystem: "supervisor",
			Name:      "stop_duration_seconds",
			Help:      "Time from the first termination signal to confirmed exit.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
	)
	escalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "medchat",
			Subsystem: "supervisor",
			Name:      "kill_escalations_total",
			Help:      "Stops that had to escalate from SIGTERM to SIGKILL.",
		},
	)

	processCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "medchat", Subsystem: "process", Name: "cpu_percent",
		Help: "CPU usage of the managed process at the last status sample.",
	})
	processRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "medchat", Subsystem: "process", Name: "memory_rss_bytes",
		Help: "Resident memory of the managed process at the last status sample.",
	})
	processThreads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "medchat", Subsystem: "process", Name: "num_threads",
		Help: "Thread count of the managed process at the last status sample.",
	})
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{operations, reconcileCleared, running, stopDuration, escalations, processCPU, processRSS, processThreads}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register succeeds.

func IncOperation(op, result string) {
	if regOK.Load() {
		operations.WithLabelValues(op, result).Inc()
	}
}

func IncReconcileCleared() {
	if regOK.Load() {
		reconcileCleared.Inc()
	}
}

func SetRunning(up bool) {
	if !regOK.Load() {
		return
	}
	if up {
		running.Set(1)
		return
	}
	running.Set(0)
	processCPU.Set(0)
	processRSS.Set(0)
	processThreads.Set(0)
}

func ObserveStopDuration(seconds float64) {
	if regOK.Load() {
		stopDuration.Observe(seconds)
	}
}

func IncEscalation() {
	if regOK.Load() {
		escalations.Inc()
	}
}

// SetSample publishes the latest process sample as gauges.
func SetSample(s Sample) {
	if !regOK.Load() {
		return
	}
	processCPU.Set(s.CPUPercent)
	processRSS.Set(float64(s.MemoryRSS))
	processThreads.Set(float64(s.NumThreads))
}
