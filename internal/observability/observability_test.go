package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Attempt("fluid", "direct", true, 20*time.Millisecond)
	m.Attempt("fluid", "direct", false, 20*time.Millisecond)
	m.Attempt("fluid", "direct", false, 20*time.Millisecond)
	m.Bridge(true)
	m.BufferHeld(1)
	m.BufferHeld(-1)
	m.RemoteCall("pickup", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Attempts.WithLabelValues("fluid", "direct", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Bridges.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BuffersHeld))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteCalls.WithLabelValues("pickup", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Attempt("power", "direct", true, time.Second)
	m.Connection("power", "success")
	m.Bridge(false)
	m.BufferHeld(1)
	m.RemoteCall("fetch_path", true)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	l, err = NewLogger(LogConfig{Level: "nonsense"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))

	_, err = NewLogger(LogConfig{Format: "xml"})
	assert.Error(t, err)
}
