package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"netsentinel/internal/model"
)

var (
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsentinel_probes_total",
		Help: "Completed probes by target and outcome",
	}, []string{"target", "result"})

	ProbeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netsentinel_probe_latency_ms",
		Help:    "Latency of successful probes in milliseconds",
		Buckets: []float64{5, 10, 20, 35, 50, 75, 100, 150, 250, 400, 750, 1500},
	}, []string{"target"})

	LastLatency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netsentinel_last_latency_ms",
		Help: "Latency of the most recent successful probe",
	}, []string{"target"})

	LastJitter = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netsentinel_last_jitter_ms",
		Help: "Jitter of the most recent successful probe",
	}, []string{"target"})

	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsentinel_probe_results_dropped_total",
		Help: "Probe completions discarded because their recording had ended",
	}, []string{"target"})

	Recording = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netsentinel_recording",
		Help: "1 while a recording is active",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsentinel_sessions_total",
		Help: "Recordings frozen into sessions",
	})
)

// ObserveSample records one stored sample.
func ObserveSample(targetID string, s model.Sample) {
	if !s.Success {
		ProbesTotal.WithLabelValues(targetID, "failure").Inc()
		return
	}
	ProbesTotal.WithLabelValues(targetID, "success").Inc()
	ProbeLatency.WithLabelValues(targetID).Observe(float64(s.LatencyMs))
	LastLatency.WithLabelValues(targetID).Set(float64(s.LatencyMs))
	LastJitter.WithLabelValues(targetID).Set(float64(s.JitterMs))
}

// ObserveDropped counts a late completion.
func ObserveDropped(targetID string) {
	DroppedTotal.WithLabelValues(targetID).Inc()
}

// SetRecording mirrors the run state.
func SetRecording(running bool) {
	if running {
		Recording.Set(1)
		return
	}
	Recording.Set(0)
}
