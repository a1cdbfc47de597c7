package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Request("get", "ok", 0.001)
		m.Delivered()
		m.Dropped()
		m.Updated()
		m.StaleRejected()
		m.SubscriptionStarted()
		m.SubscriptionEnded("CANCELLED")
		m.SessionOpened()
		m.SessionClosed()
		m.ConnectionOpened()
		m.ConnectionClosed()
	})
}

func TestMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Request("get", "ok", 0.001)
	m.Request("get", "ok", 0.002)
	m.Request("set", "read_only", 0.001)
	m.Delivered()
	m.Dropped()
	m.SubscriptionStarted()
	m.SubscriptionStarted()
	m.SubscriptionEnded("EXPIRED")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("set", "read_only")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptionEnds.WithLabelValues("EXPIRED")))
}

func TestMetricsDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
