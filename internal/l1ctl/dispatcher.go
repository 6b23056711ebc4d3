package l1ctl

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sickwell/osmocom-bb-raw/internal/l1state"
	"github.com/sickwell/osmocom-bb-raw/internal/metrics"
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
	"github.com/sickwell/osmocom-bb-raw/internal/protocol"
)

// ErrUnknownMessage is returned for message types without a handler
var ErrUnknownMessage = errors.New("unknown message type")

// Disposition tells who owns a message after dispatch
type Disposition int

const (
	// Released messages have been freed by Dispatch
	Released Disposition = iota
	// Retained messages were moved into the control state
	Retained
)

func (d Disposition) String() string {
	if d == Retained {
		return "retained"
	}
	return "released"
}

// Result is the outcome of dispatching one message
type Result struct {
	Type        protocol.MessageType
	Disposition Disposition
	Err         error
}

// Stats are the dispatcher's outcome counters
type Stats struct {
	Received     uint64 `json:"received"`
	Handled      uint64 `json:"handled"`
	Retained     uint64 `json:"retained"`
	Malformed    uint64 `json:"malformed"`
	Invalid      uint64 `json:"invalid"`
	Unknown      uint64 `json:"unknown"`
	Fatal        uint64 `json:"fatal"`
	OtherErrors  uint64 `json:"other_errors"`
	LastType     string `json:"last_type,omitempty"`
	LastDispatch string `json:"last_dispatch,omitempty"`
}

type handlerFunc func(msg *msgb.Msg, body []byte) (Disposition, error)

// Dispatcher routes inbound L1CTL messages to their handlers. It is the
// only writer of the control state and must be driven from one goroutine.
type Dispatcher struct {
	state   *l1state.State
	l1      Layer1
	emit    *Emitter
	logger  *slog.Logger
	metrics *metrics.Metrics

	handlers map[protocol.MessageType]handlerFunc

	onFatalMu sync.RWMutex
	onFatal   func(error)

	received    atomic.Uint64
	handled     atomic.Uint64
	retained    atomic.Uint64
	malformed   atomic.Uint64
	invalid     atomic.Uint64
	unknown     atomic.Uint64
	fatal       atomic.Uint64
	otherErrors atomic.Uint64

	lastMu       sync.Mutex
	lastType     protocol.MessageType
	lastDispatch time.Time
}

// NewDispatcher creates a dispatcher writing to state and driving l1
func NewDispatcher(state *l1state.State, l1 Layer1, emit *Emitter, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		state:   state,
		l1:      l1,
		emit:    emit,
		logger:  logger,
		metrics: m,
	}

	d.handlers = map[protocol.MessageType]handlerFunc{
		protocol.MsgFBSBReq:     d.handleFBSBReq,
		protocol.MsgDMEstReq:    d.handleDMEstReq,
		protocol.MsgDMFreqReq:   d.handleDMFreqReq,
		protocol.MsgCryptoReq:   d.handleCryptoReq,
		protocol.MsgDMRelReq:    d.handleDMRelReq,
		protocol.MsgParamReq:    d.handleParamReq,
		protocol.MsgRACHReq:     d.handleRACHReq,
		protocol.MsgDataReq:     d.handleDataReq,
		protocol.MsgPMReq:       d.handlePMReq,
		protocol.MsgResetReq:    d.handleResetReq,
		protocol.MsgCCCHModeReq: d.handleCCCHModeReq,
		protocol.MsgTCHModeReq:  d.handleTCHModeReq,
		protocol.MsgEchoReq:     d.handleEchoReq,
	}

	return d
}

// OnFatal sets the function called when dispatch hits an unrecoverable
// error such as message buffer exhaustion
func (d *Dispatcher) OnFatal(fn func(error)) {
	d.onFatalMu.Lock()
	d.onFatal = fn
	d.onFatalMu.Unlock()
}

// Dispatch handles one complete inbound message. Unless the result is
// Retained, msg has been freed exactly once when Dispatch returns.
func (d *Dispatcher) Dispatch(msg *msgb.Msg) Result {
	start := time.Now()
	d.received.Add(1)

	res := d.route(msg)

	if res.Disposition == Released {
		if err := msg.Free(); err != nil {
			d.logger.Error("Failed to release L1CTL message",
				slog.String("type", res.Type.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	d.record(res, time.Since(start))
	return res
}

func (d *Dispatcher) route(msg *msgb.Msg) Result {
	data := msg.Bytes()

	hdr, err := protocol.ParseHeader(data)
	if err != nil {
		return Result{Type: protocol.MsgNone, Err: err}
	}
	msg.L1H = 0

	handler, ok := d.handlers[hdr.MsgType]
	if !ok {
		return Result{
			Type: hdr.MsgType,
			Err:  fmt.Errorf("%w: %s", ErrUnknownMessage, hdr.MsgType),
		}
	}

	disposition, err := handler(msg, data[protocol.HeaderSize:])
	return Result{Type: hdr.MsgType, Disposition: disposition, Err: err}
}

func (d *Dispatcher) record(res Result, elapsed time.Duration) {
	typeName := res.Type.String()

	d.lastMu.Lock()
	d.lastType = res.Type
	d.lastDispatch = time.Now()
	d.lastMu.Unlock()

	d.metrics.RecordMessage(typeName, elapsed.Seconds())

	if res.Err == nil {
		d.handled.Add(1)
		if res.Disposition == Retained {
			d.retained.Add(1)
		}
		d.logger.Debug("L1CTL message handled",
			slog.String("type", typeName),
			slog.String("disposition", res.Disposition.String()),
			slog.Duration("elapsed", elapsed),
		)
		return
	}

	reason := errorReason(res.Err)
	d.metrics.RecordDropped(typeName, reason)

	switch reason {
	case "short":
		d.malformed.Add(1)
		d.logger.Warn("Dropping malformed L1CTL message",
			slog.String("type", typeName),
			slog.String("error", res.Err.Error()),
		)
	case "invalid":
		d.invalid.Add(1)
		d.logger.Warn("Rejecting L1CTL message with invalid parameter",
			slog.String("type", typeName),
			slog.String("error", res.Err.Error()),
		)
	case "unknown":
		d.unknown.Add(1)
		d.logger.Debug("Ignoring unknown L1CTL message",
			slog.String("type", typeName),
		)
	case "out_of_buffers":
		d.fatal.Add(1)
		d.metrics.RecordFatal()
		d.logger.Error("Message buffers exhausted",
			slog.String("type", typeName),
			slog.String("error", res.Err.Error()),
		)
		d.raiseFatal(res.Err)
	default:
		d.otherErrors.Add(1)
		d.logger.Error("Failed to handle L1CTL message",
			slog.String("type", typeName),
			slog.String("error", res.Err.Error()),
		)
	}
}

func (d *Dispatcher) raiseFatal(err error) {
	d.onFatalMu.RLock()
	fn := d.onFatal
	d.onFatalMu.RUnlock()

	if fn != nil {
		fn(err)
	}
}

// errorReason maps an error to the label used in logs and metrics
func errorReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrShortMessage):
		return "short"
	case errors.Is(err, protocol.ErrInvalidParameter):
		return "invalid"
	case errors.Is(err, ErrUnknownMessage):
		return "unknown"
	case errors.Is(err, msgb.ErrOutOfBuffers):
		return "out_of_buffers"
	}
	return "error"
}

// Stats returns the dispatcher counters
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		Received:    d.received.Load(),
		Handled:     d.handled.Load(),
		Retained:    d.retained.Load(),
		Malformed:   d.malformed.Load(),
		Invalid:     d.invalid.Load(),
		Unknown:     d.unknown.Load(),
		Fatal:       d.fatal.Load(),
		OtherErrors: d.otherErrors.Load(),
	}

	d.lastMu.Lock()
	if !d.lastDispatch.IsZero() {
		s.LastType = d.lastType.String()
		s.LastDispatch = d.lastDispatch.Format(time.RFC3339Nano)
	}
	d.lastMu.Unlock()

	return s
}
