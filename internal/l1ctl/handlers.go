package l1ctl

import (
	"fmt"
	"log/slog"

	"github.com/sickwell/osmocom-bb-raw/internal/channr"
	"github.com/sickwell/osmocom-bb-raw/internal/l1state"
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
	"github.com/sickwell/osmocom-bb-raw/internal/protocol"
)

// Every handler parses and validates its body completely before it
// touches the control state or a collaborator.

func freqSet(tsc uint8, f protocol.FreqParams) l1state.FreqSet {
	if !f.Hopping {
		return l1state.FreqSet{TSC: tsc, ARFCN: f.ARFCN}
	}
	return l1state.FreqSet{
		TSC:     tsc,
		Hopping: true,
		HSN:     f.H1.HSN,
		MAIO:    f.H1.MAIO,
		MA:      f.H1.MA,
	}
}

// resetScheduler drops all tasks together with the scheduler's events
func (d *Dispatcher) resetScheduler() {
	d.state.SetTasks(0)
	d.l1.Scheduler.Reset()
}

// applyTrafficMode sets the speech path to mode and returns the mode applied
func (d *Dispatcher) applyTrafficMode(mode uint8) uint8 {
	applied := d.l1.Audio.SetTrafficMode(mode)
	d.state.SetTCHMode(applied)
	d.l1.Audio.SetAudioEnabled(applied != protocol.ChanModeSignalling)
	return applied
}

func (d *Dispatcher) handleFBSBReq(_ *msgb.Msg, body []byte) (Disposition, error) {
	req, err := protocol.ParseFBSBReq(body)
	if err != nil {
		return Released, err
	}

	d.logger.Info("Starting sync search",
		slog.Int("band_arfcn", int(req.BandARFCN)),
		slog.Int("timeout", int(req.Timeout)),
		slog.Int("ccch_mode", int(req.CCCHMode)),
	)

	d.resetScheduler()
	d.l1.Scheduler.ResetHardware()
	d.state.SetCCCHMode(req.CCCHMode)
	d.l1.Scheduler.StartSyncSearch(req)
	return Released, nil
}

func (d *Dispatcher) handleDMEstReq(_ *msgb.Msg, body []byte) (Disposition, error) {
	req, err := protocol.ParseDMEstReq(body)
	if err != nil {
		return Released, err
	}

	ch := channr.Decode(req.ChanNr)
	task := channr.DecodeTask(req.ChanNr)
	if ch.Type == channr.TypeUnknown || task == channr.TaskNone {
		return Released, fmt.Errorf("%w: chan_nr 0x%02x", protocol.ErrInvalidParameter, req.ChanNr)
	}

	d.logger.Info("Establishing dedicated channel",
		slog.String("channel", ch.String()),
		slog.Int("tsc", int(req.TSC)),
		slog.Bool("hopping", req.Freq.Hopping),
	)

	// the new task replaces whatever ran before; it is enabled only once
	// its configuration is visible
	d.state.SetTasks(0)
	d.state.SetDedicated(l1state.Dedicated{
		Type:     ch.Type,
		Timeslot: ch.Timeslot,
		Primary:  freqSet(req.TSC, req.Freq),
	})

	if ch.Type.IsTraffic() {
		d.applyTrafficMode(req.TCHMode)
		d.state.SetTCHSync(true)
	}

	d.state.SetTasks(channr.MaskOf(task))
	d.metrics.SetDedicatedActive(true)
	return Released, nil
}

func (d *Dispatcher) handleDMFreqReq(_ *msgb.Msg, body []byte) (Disposition, error) {
	req, err := protocol.ParseDMFreqReq(body)
	if err != nil {
		return Released, err
	}

	d.logger.Info("Scheduling frequency redefinition",
		slog.Int("starting_time", int(req.FN)),
		slog.Bool("hopping", req.Freq.Hopping),
	)

	d.state.UpdateSecondary(freqSet(req.TSC, req.Freq), req.FN)
	d.l1.Scheduler.ScheduleFrequencyChange(req.FN)
	return Released, nil
}

func (d *Dispatcher) handleCryptoReq(_ *msgb.Msg, body []byte) (Disposition, error) {
	req, err := protocol.ParseCryptoReq(body)
	if err != nil {
		return Released, err
	}
	if err := req.Validate(); err != nil {
		return Released, err
	}

	key := req.Key
	if req.Algo == 0 {
		key = nil
	}

	d.logger.Info("Loading cipher parameters", slog.Int("algo", int(req.Algo)))
	d.l1.Cipher.SetCipher(req.Algo, key)
	d.state.SetCipher(req.Algo, key)
	return Released, nil
}

func (d *Dispatcher) handleDMRelReq(_ *msgb.Msg, _ []byte) (Disposition, error) {
	d.logger.Info("Releasing dedicated channel",
		slog.String("type", d.state.Dedicated().Type.String()),
	)

	// tasks off before the configuration they use goes away
	d.state.SetTasks(0)
	d.state.ClearDedicated()
	d.state.SetTCHSync(false)

	if n := d.state.FlushQueues(); n > 0 {
		d.logger.Debug("Flushed transmit queues", slog.Int("frames", n))
	}
	d.state.SetMeasReport(nil)

	d.l1.Cipher.SetCipher(0, nil)
	d.state.SetCipher(0, nil)

	// signalling mode also turns the speech path off
	d.applyTrafficMode(protocol.ChanModeSignalling)

	d.metrics.SetDedicatedActive(false)
	return Released, nil
}

func (d *Dispatcher) handleParamReq(_ *msgb.Msg, body []byte) (Disposition, error) {
	req, err := protocol.ParseParamReq(body)
	if err != nil {
		return Released, err
	}

	d.logger.Debug("Updating uplink parameters",
		slog.Int("ta", int(req.TA)),
		slog.Int("tx_power", int(req.TxPower)),
	)

	d.state.SetParams(l1state.Params{TA: req.TA, TxPower: req.TxPower})
	return Released, nil
}

func (d *Dispatcher) handleRACHReq(_ *msgb.Msg, body []byte) (Disposition, error) {
	req, err := protocol.ParseRACHReq(body)
	if err != nil {
		return Released, err
	}

	d.logger.Debug("Triggering random access",
		slog.Int("ra", int(req.RA)),
		slog.Int("offset", int(req.Offset)),
		slog.Int("combined", int(req.Combined)),
	)

	d.l1.Scheduler.TriggerRandomAccess(req.Offset, req.Combined, req.RA)
	return Released, nil
}

// handleDataReq moves the message into a transmit queue, or into the
// measurement report slot for SACCH measurement reports
func (d *Dispatcher) handleDataReq(msg *msgb.Msg, body []byte) (Disposition, error) {
	req, err := protocol.ParseDataReq(body)
	if err != nil {
		return Released, err
	}

	msg.L3H = protocol.HeaderSize + protocol.InfoULSize

	if req.IsMeasurementReport() {
		d.state.SetMeasReport(msg)
		return Retained, nil
	}

	ch := l1state.ChanMain
	if req.IsSACCH() {
		ch = l1state.ChanSACCH
	}
	q := d.state.Queue(ch)
	q.Enqueue(msg)
	d.metrics.SetTxQueueLength(ch.String(), q.Len())
	return Retained, nil
}

func (d *Dispatcher) handlePMReq(_ *msgb.Msg, body []byte) (Disposition, error) {
	req, err := protocol.ParsePMReq(body)
	if err != nil {
		return Released, err
	}
	if req.Type != protocol.PMTypeRange {
		return Released, fmt.Errorf("%w: power measurement type %d", protocol.ErrInvalidParameter, req.Type)
	}

	d.logger.Info("Starting power scan",
		slog.Int("arfcn_from", int(req.From)),
		slog.Int("arfcn_to", int(req.To)),
	)

	d.state.StartScan(req.From, req.To)
	d.l1.Scheduler.StartPowerScan()
	return Released, nil
}

func (d *Dispatcher) handleResetReq(_ *msgb.Msg, body []byte) (Disposition, error) {
	req, err := protocol.ParseReset(body)
	if err != nil {
		return Released, err
	}

	switch req.Type {
	case protocol.ResetFull:
		d.logger.Info("Full layer 1 reset")
		d.resetScheduler()
		d.l1.Scheduler.ResetHardware()
		d.l1.Audio.SetAudioEnabled(false)
	case protocol.ResetSched:
		d.logger.Info("Scheduler reset")
		d.l1.Scheduler.ResetFrameCounter()
	default:
		return Released, fmt.Errorf("%w: reset type %d", protocol.ErrInvalidParameter, req.Type)
	}

	return Released, d.emit.ResetConf(req.Type)
}

func (d *Dispatcher) handleCCCHModeReq(_ *msgb.Msg, body []byte) (Disposition, error) {
	req, err := protocol.ParseModeReq(body)
	if err != nil {
		return Released, err
	}

	mode := req.Mode
	switch mode {
	case protocol.CCCHModeNone, protocol.CCCHModeNonCombined, protocol.CCCHModeCombined:
	default:
		d.logger.Warn("Unsupported CCCH mode, using none", slog.Int("mode", int(mode)))
		mode = protocol.CCCHModeNone
	}

	d.state.SetCCCHMode(mode)
	d.state.DisableTask(channr.TaskCCCHComb)
	d.state.DisableTask(channr.TaskCCCH)
	switch mode {
	case protocol.CCCHModeCombined:
		d.state.EnableTask(channr.TaskCCCHComb)
	case protocol.CCCHModeNonCombined:
		d.state.EnableTask(channr.TaskCCCH)
	}

	return Released, d.emit.CCCHModeConf(mode)
}

func (d *Dispatcher) handleTCHModeReq(_ *msgb.Msg, body []byte) (Disposition, error) {
	req, err := protocol.ParseModeReq(body)
	if err != nil {
		return Released, err
	}

	applied := d.applyTrafficMode(req.Mode)
	d.state.SetTCHSync(true)

	if applied != req.Mode {
		d.logger.Info("Traffic channel mode clamped",
			slog.Int("requested", int(req.Mode)),
			slog.Int("applied", int(applied)),
		)
	}

	return Released, d.emit.TCHModeConf(applied)
}

func (d *Dispatcher) handleEchoReq(_ *msgb.Msg, body []byte) (Disposition, error) {
	return Released, d.emit.EchoConf(body)
}
