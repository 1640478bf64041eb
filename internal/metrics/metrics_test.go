package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestObserveMethodsIncrementRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveWALFsync(0.01)
	m.ObserveTrickleFlush()
	m.ObserveCompaction()
	m.ObserveDataFileBytes(4096)

	assert := require.New(t)
	assert.Equal(float64(1), counterValue(t, m.WALFsyncsTotal))
	assert.Equal(float64(1), counterValue(t, m.TrickleFlushTotal))
	assert.Equal(float64(1), counterValue(t, m.CompactionsTotal))

	families, err := reg.Gather()
	assert.NoError(err)
	assert.NotEmpty(families)
}

func TestNilMetricsIsANoOp(t *testing.T) {
	var m *Metrics
	m.ObserveWALFsync(1)
	m.ObserveTrickleFlush()
	m.ObserveCompaction()
	m.ObserveDataFileBytes(1)
}

func TestNewWithNilRegistererSkipsRegistration(t *testing.T) {
	m := New(nil)
	require.NotNil(t, m)
	m.ObserveCompaction()
}
