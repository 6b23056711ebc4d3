package sercomm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.bug.st/serial"

	"github.com/sickwell/osmocom-bb-raw/internal/config"
	"github.com/sickwell/osmocom-bb-raw/internal/metrics"
)

// OpenFunc opens the serial device
type OpenFunc func(device string, mode *serial.Mode) (io.ReadWriteCloser, error)

func openSerial(device string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(device, mode)
}

// SerialLink carries length-prefixed frames over a serial port and
// reopens the port with exponential backoff when it fails
type SerialLink struct {
	config  *config.SerialConfig
	mux     *Mux
	logger  *slog.Logger
	metrics *metrics.Metrics
	open    OpenFunc

	mu   sync.Mutex
	port io.ReadWriteCloser

	framesReceived atomic.Uint64
	framesSent     atomic.Uint64
	parseErrors    atomic.Uint64
	dropped        atomic.Uint64
	reconnects     atomic.Uint64
}

// NewSerialLink creates a serial link delivering into mux
func NewSerialLink(cfg *config.SerialConfig, mux *Mux, logger *slog.Logger, m *metrics.Metrics) *SerialLink {
	return &SerialLink{
		config:  cfg,
		mux:     mux,
		logger:  logger,
		metrics: m,
		open:    openSerial,
	}
}

// SetOpenFunc replaces the function used to open the device
func (l *SerialLink) SetOpenFunc(fn OpenFunc) {
	l.open = fn
}

func (l *SerialLink) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: l.config.BaudRate,
		DataBits: l.config.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}

	switch l.config.StopBits {
	case "one_point_five":
		mode.StopBits = serial.OnePointFiveStopBits
	case "two":
		mode.StopBits = serial.TwoStopBits
	}

	switch l.config.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	}

	return mode
}

// Run opens the port and reads frames until ctx is done
func (l *SerialLink) Run(ctx context.Context) error {
	for {
		port, err := l.openWithBackoff(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to open serial device %s: %w", l.config.Device, err)
		}

		l.logger.Info("Serial link open",
			slog.String("device", l.config.Device),
			slog.Int("baud_rate", l.config.BaudRate),
		)

		err = l.serve(ctx, port)
		if ctx.Err() != nil {
			return nil
		}

		l.reconnects.Add(1)
		l.metrics.RecordReconnect()
		l.logger.Warn("Serial link lost, reopening",
			slog.String("device", l.config.Device),
			slog.String("error", err.Error()),
		)
	}
}

func (l *SerialLink) openWithBackoff(ctx context.Context) (io.ReadWriteCloser, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.config.GetReopenInitial()
	b.MaxInterval = l.config.GetReopenMax()

	mode := l.mode()
	return backoff.Retry(ctx, func() (io.ReadWriteCloser, error) {
		return l.open(l.config.Device, mode)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.logger.Warn("Failed to open serial device",
				slog.String("device", l.config.Device),
				slog.Duration("retry_in", next),
				slog.String("error", err.Error()),
			)
		}),
	)
}

// serve reads frames from port until it fails or ctx is done
func (l *SerialLink) serve(ctx context.Context, port io.ReadWriteCloser) error {
	l.mu.Lock()
	l.port = port
	l.mu.Unlock()

	closePort := sync.OnceFunc(func() {
		l.mu.Lock()
		l.port = nil
		l.mu.Unlock()
		port.Close()
	})
	defer closePort()
	stop := context.AfterFunc(ctx, closePort)
	defer stop()

	reader := NewFrameReader(port, MaxPayload)
	for {
		dlci, payload, err := reader.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				l.parseErrors.Add(1)
				l.metrics.RecordTransportError("frame_too_large")
			}
			return err
		}

		l.framesReceived.Add(1)
		if err := l.mux.Deliver(dlci, payload); err != nil {
			l.dropped.Add(1)
			l.logger.Warn("Failed to deliver frame",
				slog.Int("dlci", int(dlci)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// WriteFrame writes one frame to the port
func (l *SerialLink) WriteFrame(dlci uint8, payload []byte) error {
	frame, err := AppendFrame(make([]byte, 0, FrameHeaderSize+len(payload)), dlci, payload)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return ErrLinkDown
	}
	if _, err := l.port.Write(frame); err != nil {
		return fmt.Errorf("failed to write to %s: %w", l.config.Device, err)
	}

	l.framesSent.Add(1)
	return nil
}

// GetStatistics returns current link statistics
func (l *SerialLink) GetStatistics() LinkStatistics {
	l.mu.Lock()
	connected := l.port != nil
	l.mu.Unlock()

	return LinkStatistics{
		Transport:      "serial",
		Connected:      connected,
		Peer:           l.config.Device,
		FramesReceived: l.framesReceived.Load(),
		FramesSent:     l.framesSent.Load(),
		ParseErrors:    l.parseErrors.Load(),
		Dropped:        l.dropped.Load(),
		Reconnects:     l.reconnects.Load(),
	}
}
