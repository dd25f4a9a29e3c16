package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewPipelineCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPipelineCounters(reg)

	c.Uploads.WithLabelValues(OutcomeExtracted).Inc()
	c.UploadBytes.Add(42)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Uploads.WithLabelValues(OutcomeExtracted)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Uploads.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.UploadBytes))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestNewPipelineCounters_Unregistered(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPipelineCounters(nil)
		NewPipelineCounters(nil)
	})
}
