package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var pb dto.Metric
	require.NoError(t, (<-ch).Write(&pb))
	return pb.GetCounter().GetValue()
}

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Probe(true)
	m.Probe(false)
	m.Probe(false)
	m.Poll(true, 3)
	m.Delivery(false)
	m.Abandoned()
	m.Retained("events", 4)
	m.Retained("events", 0)

	assert.Equal(t, 1.0, value(t, m.Probes.WithLabelValues("ok")))
	assert.Equal(t, 2.0, value(t, m.Probes.WithLabelValues("fail")))
	assert.Equal(t, 3.0, value(t, m.EventsFetched))
	assert.Equal(t, 1.0, value(t, m.Deliveries.WithLabelValues("failed")))
	assert.Equal(t, 1.0, value(t, m.DeliveryAbandoned))
	assert.Equal(t, 4.0, value(t, m.RetentionDeleted.WithLabelValues("events")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Probe(true)
		m.Transition("offline")
		m.Poll(false, 0)
		m.Ingested("pending")
		m.Duplicate()
		m.Delivery(true)
		m.Abandoned()
		m.Notification("sent")
		m.Retained("log_dirs", 1)
		m.ObserveCycle("poller", 0.1)
		m.CyclePanicked("poller")
	})
}
