package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	encoderReadiness = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mp3rec_encoder_readiness",
		Help: "Current encoder readiness state (1 for the active state, 0 otherwise)",
	}, []string{"state"})

	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mp3rec_encoder_active_jobs",
		Help: "Number of encoding jobs registered in the dispatch table",
	})

	backlogSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mp3rec_encoder_backlog_samples",
		Help: "Samples sent to the encoder and not yet acknowledged, summed over all jobs",
	})

	encodedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mp3rec_encoded_bytes_total",
		Help: "Total number of encoded MP3 bytes received from the encoder",
	})

	recordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mp3rec_recordings_total",
		Help: "Total number of recording sessions by outcome",
	}, []string{"outcome"})
)

var readinessStates = []string{"inactive", "loading", "ready", "failed"}

// SetEncoderReadiness marks state as the current readiness state.
func SetEncoderReadiness(state string) {
	for _, s := range readinessStates {
		v := 0.0
		if s == state {
			v = 1
		}
		encoderReadiness.WithLabelValues(s).Set(v)
	}
}

// JobRegistered counts a job entering the dispatch table.
func JobRegistered() { activeJobs.Inc() }

// JobUnregistered counts a job leaving the dispatch table.
func JobUnregistered() { activeJobs.Dec() }

// AddBacklog adjusts the backlog gauge by delta samples.
func AddBacklog(delta int) { backlogSamples.Add(float64(delta)) }

// AddEncodedBytes counts encoded output.
func AddEncodedBytes(n int) { encodedBytesTotal.Add(float64(n)) }

// IncRecordings records a finished session.
// outcome ∈ {completed,cancelled,failed}; anything else is counted as unknown.
func IncRecordings(outcome string) {
	switch outcome {
	case "completed", "cancelled", "failed":
	default:
		outcome = "unknown"
	}
	recordingsTotal.WithLabelValues(outcome).Inc()
}
