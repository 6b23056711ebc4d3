package l1ctl

import (
	"fmt"
	"log/slog"

	"github.com/sickwell/osmocom-bb-raw/internal/metrics"
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
	"github.com/sickwell/osmocom-bb-raw/internal/protocol"
	"github.com/sickwell/osmocom-bb-raw/internal/sercomm"
)

// Headroom is reserved in front of every outbound message body for the
// L1CTL header
const Headroom = protocol.HeaderSize

// Emitter builds outbound L1CTL messages and sends them towards layer 2/3
type Emitter struct {
	pool    *msgb.Pool
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// release frees a message that was never handed to the transport
func (e *Emitter) release(msg *msgb.Msg) {
	if err := msg.Free(); err != nil {
		e.logger.Error("Failed to release L1CTL message",
			slog.String("label", msg.Label),
			slog.String("error", err.Error()),
		)
	}
}

// NewEmitter creates an emitter allocating from pool
func NewEmitter(pool *msgb.Pool, sender Sender, logger *slog.Logger, m *metrics.Metrics) *Emitter {
	return &Emitter{
		pool:    pool,
		sender:  sender,
		logger:  logger,
		metrics: m,
	}
}

// send allocates a message, fills in body and header and hands it to the
// transport. An exhausted pool is returned as msgb.ErrOutOfBuffers.
func (e *Emitter) send(t protocol.MessageType, flags uint8, body []byte) error {
	msg, err := e.pool.Alloc(Headroom, t.String())
	if err != nil {
		return fmt.Errorf("failed to allocate %s: %w", t, err)
	}

	if err := msg.Append(body); err != nil {
		e.release(msg)
		return fmt.Errorf("failed to build %s: %w", t, err)
	}

	hdr, err := msg.Push(protocol.HeaderSize)
	if err != nil {
		e.release(msg)
		return fmt.Errorf("failed to build %s: %w", t, err)
	}
	copy(hdr, protocol.AppendHeader(nil, t, flags))

	if err := e.sender.Send(sercomm.DLCIL1AL23, msg); err != nil {
		e.logger.Warn("Failed to send L1CTL message",
			slog.String("type", t.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to send %s: %w", t, err)
	}

	e.metrics.RecordSent(t.String())
	e.logger.Debug("L1CTL message sent",
		slog.String("type", t.String()),
		slog.Int("body_size", len(body)),
	)
	return nil
}

// ResetInd announces a layer 1 reset, sent once at boot
func (e *Emitter) ResetInd(resetType uint8) error {
	return e.send(protocol.MsgResetInd, 0, protocol.AppendReset(nil, protocol.Reset{Type: resetType}))
}

// ResetConf confirms a reset request, echoing its type
func (e *Emitter) ResetConf(resetType uint8) error {
	return e.send(protocol.MsgResetConf, 0, protocol.AppendReset(nil, protocol.Reset{Type: resetType}))
}

// CCCHModeConf confirms the CCCH mode in effect
func (e *Emitter) CCCHModeConf(mode uint8) error {
	return e.send(protocol.MsgCCCHModeConf, 0, protocol.AppendMode(nil, mode))
}

// TCHModeConf confirms the traffic channel mode actually applied
func (e *Emitter) TCHModeConf(mode uint8) error {
	return e.send(protocol.MsgTCHModeConf, 0, protocol.AppendMode(nil, mode))
}

// FBSBConf reports the result of a sync search
func (e *Emitter) FBSBConf(conf protocol.FBSBConf) error {
	return e.send(protocol.MsgFBSBConf, 0, protocol.AppendFBSBConf(nil, conf))
}

// PMConf reports power measurements. last marks the end of the sweep.
func (e *Emitter) PMConf(entries []protocol.PMConfEntry, last bool) error {
	if len(entries) > protocol.MaxPMConfEntries {
		return fmt.Errorf("%w: %d power measurement entries exceed %d",
			protocol.ErrInvalidParameter, len(entries), protocol.MaxPMConfEntries)
	}

	body := make([]byte, 0, len(entries)*protocol.PMConfEntrySize)
	for _, entry := range entries {
		body = protocol.AppendPMConfEntry(body, entry)
	}

	var flags uint8
	if last {
		flags = protocol.FlagLast
	}
	return e.send(protocol.MsgPMConf, flags, body)
}

// RACHConf reports the frame an access burst was sent in
func (e *Emitter) RACHConf(dl protocol.InfoDL) error {
	return e.send(protocol.MsgRACHConf, 0, protocol.AppendInfoDL(nil, dl))
}

// DataConf reports the transmission of a queued frame
func (e *Emitter) DataConf(dl protocol.InfoDL) error {
	return e.send(protocol.MsgDataConf, 0, protocol.AppendInfoDL(nil, dl))
}

// EchoConf returns the body of an echo request
func (e *Emitter) EchoConf(body []byte) error {
	return e.send(protocol.MsgEchoConf, 0, body)
}
