package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unexpected metric type")
	return 0
}

func TestCountersIncrement(t *testing.T) {
	before := value(t, LeadsEnrichedTotal.WithLabelValues("A"))
	LeadsEnrichedTotal.WithLabelValues("A").Inc()
	assert.Equal(t, before+1, value(t, LeadsEnrichedTotal.WithLabelValues("A")))

	rows := value(t, ImportRowsTotal)
	ImportRowsTotal.Add(250)
	assert.Equal(t, rows+250, value(t, ImportRowsTotal))
}

func TestBreakerStateGauge(t *testing.T) {
	BreakerState.WithLabelValues("website").Set(1)
	assert.Equal(t, 1.0, value(t, BreakerState.WithLabelValues("website")))
}
