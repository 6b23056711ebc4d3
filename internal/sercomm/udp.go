package sercomm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sickwell/osmocom-bb-raw/internal/config"
	"github.com/sickwell/osmocom-bb-raw/internal/metrics"
)

// UDPLink carries frames as datagrams of the form [DLCI:1][Payload]
type UDPLink struct {
	conn    *net.UDPConn
	config  *config.UDPConfig
	logger  *slog.Logger
	mux     *Mux
	metrics *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	recvWG sync.WaitGroup
	procWG sync.WaitGroup

	// Received datagrams are processed in arrival order by one goroutine
	packetChan chan *incomingPacket

	peerMu sync.RWMutex
	peer   *net.UDPAddr

	framesReceived uint64
	framesSent     uint64
	parseErrors    uint64
	dropped        uint64
	mu             sync.RWMutex
}

// incomingPacket represents a received datagram with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPLink creates a UDP link delivering into mux
func NewUDPLink(cfg *config.UDPConfig, mux *Mux, logger *slog.Logger, m *metrics.Metrics) *UDPLink {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPLink{
		config:     cfg,
		logger:     logger,
		mux:        mux,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, cfg.QueueSize),
	}
}

// Start begins listening for datagrams
func (l *UDPLink) Start() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(l.config.BindAddress, fmt.Sprint(l.config.Port)))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	if l.config.RemoteAddress != "" {
		peer, err := net.ResolveUDPAddr("udp", l.config.RemoteAddress)
		if err != nil {
			return fmt.Errorf("failed to resolve remote address: %w", err)
		}
		l.setPeer(peer)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	l.conn = conn

	if err := l.conn.SetReadBuffer(l.config.BufferSize); err != nil {
		l.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", l.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	l.logger.Info("UDP link started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", l.config.BufferSize),
	)

	l.procWG.Add(1)
	go l.packetProcessor()

	l.recvWG.Add(1)
	go l.receiveLoop()

	return nil
}

// Stop gracefully stops the link
func (l *UDPLink) Stop() error {
	l.logger.Info("Stopping UDP link...")

	l.cancel()

	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			l.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// the receive loop is the only producer
	l.recvWG.Wait()
	close(l.packetChan)
	l.procWG.Wait()

	stats := l.GetStatistics()
	l.logger.Info("UDP link stopped",
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("frames_sent", stats.FramesSent),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	return nil
}

// LocalAddr returns the bound address, or nil before Start
func (l *UDPLink) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *UDPLink) setPeer(addr *net.UDPAddr) {
	l.peerMu.Lock()
	l.peer = addr
	l.peerMu.Unlock()
}

func (l *UDPLink) getPeer() *net.UDPAddr {
	l.peerMu.RLock()
	defer l.peerMu.RUnlock()
	return l.peer
}

// receiveLoop is the main datagram receiving loop
func (l *UDPLink) receiveLoop() {
	defer l.recvWG.Done()

	buffer := make([]byte, l.config.BufferSize)

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := l.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			select {
			case <-l.ctx.Done():
				return
			default:
			}
			l.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-l.ctx.Done():
				return
			default:
				l.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
				l.metrics.RecordTransportError("read")
				continue
			}
		}

		l.mu.Lock()
		l.framesReceived++
		l.mu.Unlock()

		// buffer is reused for the next read
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case l.packetChan <- packet:
		default:
			l.mu.Lock()
			l.dropped++
			l.mu.Unlock()
			l.metrics.RecordTransportError("queue_full")
			l.logger.Warn("Frame processing queue full, dropping datagram",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor delivers queued datagrams to the mux
func (l *UDPLink) packetProcessor() {
	defer l.procWG.Done()

	for packet := range l.packetChan {
		l.handlePacket(packet)
	}
}

// handlePacket processes a single incoming datagram
func (l *UDPLink) handlePacket(packet *incomingPacket) {
	if len(packet.data) < 1 {
		l.mu.Lock()
		l.parseErrors++
		l.mu.Unlock()
		l.logger.Warn("Empty datagram", slog.String("remote_addr", packet.remoteAddr.String()))
		return
	}

	if l.config.RemoteAddress == "" {
		l.setPeer(packet.remoteAddr)
	}

	dlci := packet.data[0]
	if err := l.mux.Deliver(dlci, packet.data[1:]); err != nil {
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.logger.Warn("Failed to deliver frame",
			slog.Int("dlci", int(dlci)),
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	l.logger.Debug("Frame delivered",
		slog.Int("dlci", int(dlci)),
		slog.Int("size", len(packet.data)-1),
		slog.Duration("queued", time.Since(packet.timestamp)),
	)
}

// WriteFrame sends one datagram to the peer
func (l *UDPLink) WriteFrame(dlci uint8, payload []byte) error {
	peer := l.getPeer()
	if l.conn == nil || peer == nil {
		return ErrLinkDown
	}

	datagram := make([]byte, 0, 1+len(payload))
	datagram = append(datagram, dlci)
	datagram = append(datagram, payload...)

	if _, err := l.conn.WriteToUDP(datagram, peer); err != nil {
		return fmt.Errorf("failed to write UDP datagram to %s: %w", peer, err)
	}

	l.mu.Lock()
	l.framesSent++
	l.mu.Unlock()
	return nil
}

// GetStatistics returns current link statistics
func (l *UDPLink) GetStatistics() LinkStatistics {
	stats := LinkStatistics{
		Transport:     "udp",
		QueueSize:     uint64(len(l.packetChan)),
		QueueCapacity: uint64(cap(l.packetChan)),
	}
	if peer := l.getPeer(); peer != nil {
		stats.Connected = true
		stats.Peer = peer.String()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	stats.FramesReceived = l.framesReceived
	stats.FramesSent = l.framesSent
	stats.ParseErrors = l.parseErrors
	stats.Dropped = l.dropped
	return stats
}
