package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"quicroute/internal/protocol"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := <-ch
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}

func TestRecordDropIncrementsLabeledCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.RecordDrop(protocol.DropInvalidPacket)
	c.RecordDrop(protocol.DropInvalidPacket)
	c.RecordDrop(protocol.DropUnknownVersion)

	if got := counterValue(t, c.drops.WithLabelValues(string(protocol.DropInvalidPacket))); got != 2 {
		t.Errorf("INVALID_PACKET count = %v, want 2", got)
	}
	if got := counterValue(t, c.drops.WithLabelValues(string(protocol.DropUnknownVersion))); got != 1 {
		t.Errorf("UNKNOWN_VERSION count = %v, want 1", got)
	}
}

func TestConnectionLifecycleTracksActiveGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.ConnectionCreated()
	c.ConnectionCreated()
	c.ConnectionClosed()

	if got := counterValue(t, c.connectionsActive); got != 1 {
		t.Errorf("active gauge = %v, want 1", got)
	}
	if got := counterValue(t, c.connectionsCreated); got != 2 {
		t.Errorf("created counter = %v, want 2", got)
	}
	if got := counterValue(t, c.connectionsClosed); got != 1 {
		t.Errorf("closed counter = %v, want 1", got)
	}
}
