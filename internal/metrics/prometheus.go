package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the L1CTL bridge.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// L1CTL message metrics
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	FatalErrors      prometheus.Counter

	// Transport metrics
	FramesReceived  *prometheus.CounterVec
	FramesSent      *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec
	LinkReconnects  prometheus.Counter

	// Control state metrics
	BuffersInUse    prometheus.Gauge
	TxQueueLength   *prometheus.GaugeVec
	DedicatedActive prometheus.Gauge
	FrameNumber     prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "l1ctl_messages_received_total",
			Help: "Total number of L1CTL messages dispatched, by message type",
		}, []string{"type"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "l1ctl_messages_dropped_total",
			Help: "Total number of L1CTL messages dropped, by message type and reason",
		}, []string{"type", "reason"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "l1ctl_messages_sent_total",
			Help: "Total number of L1CTL messages emitted, by message type",
		}, []string{"type"}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "l1ctl_dispatch_duration_seconds",
			Help:    "Time spent handling one inbound L1CTL message",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10), // 1us to ~0.26s
		}),
		FatalErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "l1ctl_fatal_errors_total",
			Help: "Total number of fatal errors such as buffer exhaustion",
		}),

		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "l1ctl_transport_frames_received_total",
			Help: "Total number of frames received from the link, by DLCI",
		}, []string{"dlci"}),
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "l1ctl_transport_frames_sent_total",
			Help: "Total number of frames sent on the link, by DLCI",
		}, []string{"dlci"}),
		TransportErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "l1ctl_transport_errors_total",
			Help: "Total number of transport errors, by kind",
		}, []string{"kind"}),
		LinkReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "l1ctl_transport_reconnects_total",
			Help: "Total number of times the serial link was reopened",
		}),

		BuffersInUse: f.NewGauge(prometheus.GaugeOpts{
			Name: "l1ctl_msgb_in_use",
			Help: "Current number of allocated message buffers",
		}),
		TxQueueLength: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "l1ctl_tx_queue_length",
			Help: "Current number of frames waiting in a transmit queue",
		}, []string{"channel"}),
		DedicatedActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "l1ctl_dedicated_active",
			Help: "1 when a dedicated channel is established",
		}),
		FrameNumber: f.NewGauge(prometheus.GaugeOpts{
			Name: "l1ctl_frame_number",
			Help: "Current TDMA frame number of the layer 1 clock",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "l1ctl_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "l1ctl_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "l1ctl_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordMessage records one dispatched message and its handling time
func (m *Metrics) RecordMessage(msgType string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType).Inc()
	m.DispatchDuration.Observe(durationSeconds)
}

// RecordDropped records a message dropped for reason
func (m *Metrics) RecordDropped(msgType, reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(msgType, reason).Inc()
}

// RecordSent records an emitted message
func (m *Metrics) RecordSent(msgType string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

// RecordFatal increments the fatal error counter
func (m *Metrics) RecordFatal() {
	if m == nil {
		return
	}
	m.FatalErrors.Inc()
}

// RecordFrameReceived records a frame received on dlci
func (m *Metrics) RecordFrameReceived(dlci string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(dlci).Inc()
}

// RecordFrameSent records a frame sent on dlci
func (m *Metrics) RecordFrameSent(dlci string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(dlci).Inc()
}

// RecordTransportError records a transport error of the given kind
func (m *Metrics) RecordTransportError(kind string) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(kind).Inc()
}

// RecordReconnect increments the link reconnect counter
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.LinkReconnects.Inc()
}

// SetBuffersInUse sets the number of allocated message buffers
func (m *Metrics) SetBuffersInUse(n int) {
	if m == nil {
		return
	}
	m.BuffersInUse.Set(float64(n))
}

// SetTxQueueLength sets the length of the named transmit queue
func (m *Metrics) SetTxQueueLength(channel string, n int) {
	if m == nil {
		return
	}
	m.TxQueueLength.WithLabelValues(channel).Set(float64(n))
}

// SetDedicatedActive sets whether a dedicated channel is established
func (m *Metrics) SetDedicatedActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.DedicatedActive.Set(1)
	} else {
		m.DedicatedActive.Set(0)
	}
}

// SetFrameNumber sets the current TDMA frame number
func (m *Metrics) SetFrameNumber(fn uint32) {
	if m == nil {
		return
	}
	m.FrameNumber.Set(float64(fn))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
