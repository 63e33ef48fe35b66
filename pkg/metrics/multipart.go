package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eteran/stagegate/pkg/multipart"
	"github.com/eteran/stagegate/pkg/s3err"
)

// Multipart operation names used as the "op" label.
const (
	OpCreate     = "create"
	OpUploadPart = "upload_part"
	OpComplete   = "complete"
	OpAbort      = "abort"
)

// MultipartMetrics instruments multipart operations and cleanup sweeps.
type MultipartMetrics struct {
	ops            *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	completedBytes prometheus.Counter
	sweepSessions  *prometheus.CounterVec
	sweepRuns      *prometheus.CounterVec
	sweepLastRun   prometheus.Gauge
}

// NewMultipartMetrics registers multipart metrics on reg.
func NewMultipartMetrics(reg *prometheus.Registry) *MultipartMetrics {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "multipart",
		Name:      "ops_total",
		Help:      "Multipart operations by result; result is ok or the S3 error code.",
	}, []string{"op", "result"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "multipart",
		Name:      "op_duration_seconds",
		Help:      "Histogram of multipart operation durations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
	completedBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "multipart",
		Name:      "completed_bytes_total",
		Help:      "Bytes handed to the content store by completed uploads.",
	})
	sweepSessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "sessions_total",
		Help:      "Sessions seen by the cleanup sweep, by outcome.",
	}, []string{"outcome"})
	sweepRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Cleanup sweep passes by result.",
	}, []string{"result"})
	sweepLastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "last_run_timestamp_seconds",
		Help:      "Timestamp of the last finished sweep pass in seconds since epoch.",
	})

	reg.MustRegister(ops, latency, completedBytes, sweepSessions, sweepRuns, sweepLastRun)

	return &MultipartMetrics{
		ops:            ops,
		latency:        latency,
		completedBytes: completedBytes,
		sweepSessions:  sweepSessions,
		sweepRuns:      sweepRuns,
		sweepLastRun:   sweepLastRun,
	}
}

// ObserveOp records one multipart operation.
func (m *MultipartMetrics) ObserveOp(op string, err error, dur time.Duration) {
	result := "ok"
	if err != nil {
		result = s3err.From(err).Code
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *MultipartMetrics) ObserveCompleted(size int64) {
	if size > 0 {
		m.completedBytes.Add(float64(size))
	}
}

// ObserveSweep records one sweep pass. It matches the signature expected
// by multipart.WithSweepObserver.
func (m *MultipartMetrics) ObserveSweep(stats multipart.SweepStats, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepLastRun.SetToCurrentTime()

	for outcome, n := range map[string]int{
		"expired":  stats.Expired,
		"corrupt":  stats.Corrupt,
		"retained": stats.Retained,
		"skipped":  stats.Skipped,
		"failed":   stats.Failed,
		"loose":    stats.LooseItems,
	} {
		if n > 0 {
			m.sweepSessions.WithLabelValues(outcome).Add(float64(n))
		}
	}
}
