package sercomm

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sickwell/osmocom-bb-raw/internal/metrics"
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
)

// RxFunc receives a message arriving on a DLCI and owns it from then on
type RxFunc func(msg *msgb.Msg)

// Link writes frames to the peer
type Link interface {
	WriteFrame(dlci uint8, payload []byte) error
}

// Mux routes received frames to per-DLCI callbacks and sends frames
// through the attached link
type Mux struct {
	pool    *msgb.Pool
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.RWMutex
	rx   map[uint8]RxFunc
	link Link

	delivered     atomic.Uint64
	unrouted      atomic.Uint64
	allocFailures atomic.Uint64
	sent          atomic.Uint64
	sendErrors    atomic.Uint64
}

// MuxStatistics are the mux counters
type MuxStatistics struct {
	Delivered     uint64 `json:"delivered"`
	Unrouted      uint64 `json:"unrouted"`
	AllocFailures uint64 `json:"alloc_failures"`
	Sent          uint64 `json:"sent"`
	SendErrors    uint64 `json:"send_errors"`
}

// NewMux creates a mux copying received frames into buffers from pool
func NewMux(pool *msgb.Pool, logger *slog.Logger, m *metrics.Metrics) *Mux {
	return &Mux{
		pool:    pool,
		logger:  logger,
		metrics: m,
		rx:      make(map[uint8]RxFunc),
	}
}

// RegisterRx installs the receive callback of a DLCI
func (m *Mux) RegisterRx(dlci uint8, fn RxFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rx[dlci]; exists {
		return fmt.Errorf("dlci %d already has a receive handler", dlci)
	}
	m.rx[dlci] = fn
	return nil
}

// Attach sets the link used by Send
func (m *Mux) Attach(link Link) {
	m.mu.Lock()
	m.link = link
	m.mu.Unlock()
}

// Deliver hands a received payload to the callback of its DLCI. Frames
// for unknown DLCIs and frames that find the pool empty are dropped.
func (m *Mux) Deliver(dlci uint8, payload []byte) error {
	m.mu.RLock()
	fn, ok := m.rx[dlci]
	m.mu.RUnlock()

	if !ok {
		m.unrouted.Add(1)
		m.metrics.RecordTransportError("unrouted")
		return fmt.Errorf("%w %d", ErrNoHandler, dlci)
	}

	msg, err := m.pool.FromBytes(payload, "rx")
	if err != nil {
		m.allocFailures.Add(1)
		m.metrics.RecordTransportError("rx_alloc")
		return fmt.Errorf("dropping %d byte frame on dlci %d: %w", len(payload), dlci, err)
	}

	m.delivered.Add(1)
	m.metrics.RecordFrameReceived(dlciLabel(dlci))
	fn(msg)
	m.metrics.SetBuffersInUse(m.pool.InUse())
	return nil
}

// Send writes msg on dlci and frees it
func (m *Mux) Send(dlci uint8, msg *msgb.Msg) error {
	defer func() {
		if err := msg.Free(); err != nil {
			m.logger.Error("Failed to release sent frame",
				slog.Int("dlci", int(dlci)),
				slog.String("error", err.Error()),
			)
		}
	}()

	m.mu.RLock()
	link := m.link
	m.mu.RUnlock()

	if link == nil {
		m.sendErrors.Add(1)
		return ErrNoLink
	}

	if err := link.WriteFrame(dlci, msg.Bytes()); err != nil {
		m.sendErrors.Add(1)
		m.metrics.RecordTransportError("write")
		return fmt.Errorf("failed to write frame on dlci %d: %w", dlci, err)
	}

	m.sent.Add(1)
	m.metrics.RecordFrameSent(dlciLabel(dlci))
	return nil
}

// EchoHandler returns a receive callback sending every message back on dlci
func (m *Mux) EchoHandler(dlci uint8) RxFunc {
	return func(msg *msgb.Msg) {
		if err := m.Send(dlci, msg); err != nil {
			m.logger.Debug("Failed to echo frame",
				slog.Int("dlci", int(dlci)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// GetStatistics returns the mux counters
func (m *Mux) GetStatistics() MuxStatistics {
	return MuxStatistics{
		Delivered:     m.delivered.Load(),
		Unrouted:      m.unrouted.Load(),
		AllocFailures: m.allocFailures.Load(),
		Sent:          m.sent.Load(),
		SendErrors:    m.sendErrors.Load(),
	}
}
