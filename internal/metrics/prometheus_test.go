package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersOnProvidedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordMessage("FBSB_REQ", 0.0001)
	m.RecordMessage("FBSB_REQ", 0.0002)
	m.RecordDropped("DATA_REQ", "short")
	m.RecordSent("RESET_IND")
	m.SetBuffersInUse(3)
	m.SetDedicatedActive(true)

	if got := testutil.ToFloat64(m.MessagesReceived.WithLabelValues("FBSB_REQ")); got != 2 {
		t.Errorf("Expected 2 FBSB_REQ messages, got %v", got)
	}
	if got := testutil.ToFloat64(m.MessagesDropped.WithLabelValues("DATA_REQ", "short")); got != 1 {
		t.Errorf("Expected 1 dropped message, got %v", got)
	}
	if got := testutil.ToFloat64(m.BuffersInUse); got != 3 {
		t.Errorf("Expected 3 buffers in use, got %v", got)
	}
	if got := testutil.ToFloat64(m.DedicatedActive); got != 1 {
		t.Errorf("Expected dedicated active, got %v", got)
	}

	expected := `
# HELP l1ctl_messages_sent_total Total number of L1CTL messages emitted, by message type
# TYPE l1ctl_messages_sent_total counter
l1ctl_messages_sent_total{type="RESET_IND"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "l1ctl_messages_sent_total"); err != nil {
		t.Errorf("Unexpected exposition: %v", err)
	}
}

func TestNewMetricsTwiceOnSeparateRegistries(t *testing.T) {
	// separate registries must not collide
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordMessage("ECHO_REQ", 0)
	m.RecordDropped("ECHO_REQ", "unknown")
	m.RecordSent("ECHO_CONF")
	m.RecordFatal()
	m.RecordFrameReceived("5")
	m.RecordFrameSent("5")
	m.RecordTransportError("read")
	m.RecordReconnect()
	m.SetBuffersInUse(1)
	m.SetTxQueueLength("main", 1)
	m.SetDedicatedActive(false)
	m.SetFrameNumber(42)
	m.RecordHTTPRequest("GET", "/health", "200", 0)
	m.RecordHTTPError("GET", "/health", "method_not_allowed")
}
