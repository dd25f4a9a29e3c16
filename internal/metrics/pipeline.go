package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for the uploads counter.
const (
	OutcomeExtracted = "extracted"
	OutcomeFailed    = "extraction_failed"
	OutcomeRejected  = "rejected"
)

// PipelineCounters holds monitoring counters for the ingest pipeline
type PipelineCounters struct {
	Uploads            *prometheus.CounterVec
	UploadBytes        prometheus.Counter
	ExtractionDuration prometheus.Histogram
	CleanupFailures    prometheus.Counter
	InFlight           prometheus.Gauge
}

// NewPipelineCounters creates the pipeline counters and registers them with reg.
// A nil registerer leaves the counters unregistered.
func NewPipelineCounters(reg prometheus.Registerer) *PipelineCounters {
	c := &PipelineCounters{
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "firmware_uploads_total",
			Help: "Upload requests by pipeline outcome",
		}, []string{"outcome"}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "firmware_upload_bytes_total",
			Help: "Bytes written to the upload directory",
		}),
		ExtractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "firmware_extraction_duration_seconds",
			Help:    "Time spent extracting archives",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		CleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "firmware_cleanup_failures_total",
			Help: "Archives left on disk after successful extraction",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "firmware_pipeline_in_flight",
			Help: "Pipeline runs currently in progress",
		}),
	}
	for _, outcome := range []string{OutcomeExtracted, OutcomeFailed, OutcomeRejected} {
		c.Uploads.With(prometheus.Labels{"outcome": outcome}).Add(0)
	}
	if reg != nil {
		reg.MustRegister(c.Uploads, c.UploadBytes, c.ExtractionDuration, c.CleanupFailures, c.InFlight)
	}
	return c
}
