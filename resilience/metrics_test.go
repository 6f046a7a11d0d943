package resilience

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	require.NoError(t, err)
	second, err := NewMetrics(reg)
	require.NoError(t, err)

	first.recordRetry("shared")
	second.recordRetry("shared")
	assert.InDelta(t, 2, testutil.ToFloat64(first.retries.WithLabelValues("shared")), 0)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.recordRetry("noop") })
}
