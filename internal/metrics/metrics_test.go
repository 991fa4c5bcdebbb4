package metrics_test

import (
	"testing"
	"time"

	"github.com/blukai/coopparty/internal/metrics"
	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.Sent("ping")
	m.Received("pong")
	m.DecodeError("checksum")
	m.Dropped()
	m.ObserveLatency(time.Second)
	m.Connected()
	m.Reject()
}

func TestRegistered(t *testing.T) {
	is := is.New(t)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "host")

	m.Sent("snapshot")
	m.Sent("snapshot")
	m.ObserveLatency(20 * time.Millisecond)

	is.Equal(testutil.ToFloat64(m.PacketsSent.WithLabelValues("snapshot")), float64(2))
	is.Equal(testutil.ToFloat64(m.Latency), 0.02)

	families, err := reg.Gather()
	is.NoErr(err)
	is.True(len(families) > 0)
}
