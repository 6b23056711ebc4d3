package l1sim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sickwell/osmocom-bb-raw/internal/channr"
	"github.com/sickwell/osmocom-bb-raw/internal/config"
	"github.com/sickwell/osmocom-bb-raw/internal/gsm"
	"github.com/sickwell/osmocom-bb-raw/internal/l1state"
	"github.com/sickwell/osmocom-bb-raw/internal/metrics"
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
	"github.com/sickwell/osmocom-bb-raw/internal/protocol"
)

// ReducedFNModulus is the period of the reduced frame number used by
// starting times (TS 04.08 chapter 10.5.2.38)
const ReducedFNModulus = 26 * 51 * 32

// FBSBResultFail is the result code of a failed sync search
const FBSBResultFail = 255

// dedicatedTasks are the tasks that own a dedicated channel
var dedicatedTasks = func() channr.TaskMask {
	var m channr.TaskMask
	for t := channr.TaskSDCCH4_0; t <= channr.TaskTCHH1; t++ {
		m = m.With(t)
	}
	return m
}()

// Reporter sends layer 1 results towards layer 2/3
type Reporter interface {
	FBSBConf(conf protocol.FBSBConf) error
	PMConf(entries []protocol.PMConfEntry, last bool) error
	RACHConf(dl protocol.InfoDL) error
	DataConf(dl protocol.InfoDL) error
}

type syncSearch struct {
	req       protocol.FBSBReq
	remaining uint32
	fail      bool
}

type rachRequest struct {
	remaining uint32
	ra        uint8
}

// Sim is a software layer 1. It advances the TDMA frame number at the
// configured rate and, at every frame, reads the control state the way
// the real-time scheduler would.
type Sim struct {
	config  *config.SimConfig
	state   *l1state.State
	report  Reporter
	logger  *slog.Logger
	metrics *metrics.Metrics

	cipher CipherEngine
	audio  AudioEngine

	fn atomic.Uint32

	mu            sync.Mutex
	search        *syncSearch
	rach          []rachRequest
	freqPending   bool
	startingTime  uint16
	useSecondary  bool
	scanning      bool
	servingARFCN  uint16
	hwResets      uint64
	framesSent    uint64
	measSent      uint64
	rachSent      uint64
	syncCompleted uint64
}

// Status is a point-in-time view of the simulator
type Status struct {
	FrameNumber       uint32 `json:"frame_number"`
	Time              string `json:"gsm_time"`
	ServingARFCN      uint16 `json:"serving_arfcn"`
	SyncPending       bool   `json:"sync_pending"`
	PowerScanning     bool   `json:"power_scanning"`
	RACHPending       int    `json:"rach_pending"`
	FreqChangePending bool   `json:"freq_change_pending"`
	ActiveSet         string `json:"active_set"`
	CipherAlgo        uint8  `json:"cipher_algo"`
	AudioEnabled      bool   `json:"audio_enabled"`
	TrafficMode       uint8  `json:"traffic_mode"`
	HardwareResets    uint64 `json:"hardware_resets"`
	SyncCompleted     uint64 `json:"sync_completed"`
	RACHSent          uint64 `json:"rach_sent"`
	FramesSent        uint64 `json:"frames_sent"`
	MeasReportsSent   uint64 `json:"meas_reports_sent"`
}

// New creates a simulator reading state and reporting through report
func New(cfg *config.SimConfig, state *l1state.State, report Reporter, logger *slog.Logger, m *metrics.Metrics) *Sim {
	return &Sim{
		config:  cfg,
		state:   state,
		report:  report,
		logger:  logger,
		metrics: m,
	}
}

// Cipher returns the cipher engine
func (s *Sim) Cipher() *CipherEngine {
	return &s.cipher
}

// Audio returns the speech path
func (s *Sim) Audio() *AudioEngine {
	return &s.audio
}

// FrameNumber returns the number of the next frame to be processed
func (s *Sim) FrameNumber() uint32 {
	return s.fn.Load()
}

// Run ticks frames until ctx is done. It stops early only when the
// message pool is exhausted.
func (s *Sim) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.GetFrameDuration())
	defer ticker.Stop()

	s.logger.Info("Simulated layer 1 started",
		slog.Duration("frame_duration", s.config.GetFrameDuration()),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Simulated layer 1 stopped", slog.Uint64("frame_number", uint64(s.fn.Load())))
			return nil
		case <-ticker.C:
			if err := s.Tick(); err != nil {
				return err
			}
		}
	}
}

// Tick processes one TDMA frame
func (s *Sim) Tick() error {
	fn := s.fn.Load()
	s.metrics.SetFrameNumber(fn)

	steps := []func(uint32) error{
		s.tickSync,
		s.tickRACH,
		s.tickPowerScan,
		s.tickTransmit,
	}
	s.tickFrequency(fn)
	for _, step := range steps {
		if err := step(fn); err != nil {
			return err
		}
	}

	// a concurrent frame counter reset wins over the increment
	s.fn.CompareAndSwap(fn, gsm.AddFrames(fn, 1))
	return nil
}

// deliver filters report errors: an exhausted pool is fatal, anything
// else only loses the one report
func (s *Sim) deliver(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, msgb.ErrOutOfBuffers) {
		return err
	}
	s.logger.Warn("Failed to report layer 1 event",
		slog.String("event", what),
		slog.String("error", err.Error()),
	)
	return nil
}

func (s *Sim) tickSync(fn uint32) error {
	s.mu.Lock()
	search := s.search
	if search == nil {
		s.mu.Unlock()
		return nil
	}
	if search.remaining > 1 {
		search.remaining--
		s.mu.Unlock()
		return nil
	}
	s.search = nil
	if !search.fail {
		s.servingARFCN = search.req.BandARFCN
		s.syncCompleted++
	}
	s.mu.Unlock()

	conf := protocol.FBSBConf{
		InfoDL: protocol.InfoDL{FrameNr: fn, BandARFCN: search.req.BandARFCN},
	}
	if search.fail {
		conf.Result = FBSBResultFail
	} else {
		conf.BSIC = uint8(s.config.BSIC)
	}

	t, _ := gsm.FrameToTime(fn)
	s.logger.Info("Sync search finished",
		slog.Int("band_arfcn", int(search.req.BandARFCN)),
		slog.Bool("success", !search.fail),
		slog.String("gsm_time", t.String()),
	)

	return s.deliver("fbsb_conf", s.report.FBSBConf(conf))
}

func (s *Sim) tickRACH(fn uint32) error {
	s.mu.Lock()
	var due []rachRequest
	pending := s.rach[:0]
	for _, r := range s.rach {
		if r.remaining > 1 {
			r.remaining--
			pending = append(pending, r)
			continue
		}
		due = append(due, r)
	}
	s.rach = pending
	s.rachSent += uint64(len(due))
	arfcn := s.servingARFCN
	s.mu.Unlock()

	for _, r := range due {
		s.logger.Debug("Access burst sent",
			slog.Int("ra", int(r.ra)),
			slog.Uint64("frame_number", uint64(fn)),
		)
		err := s.report.RACHConf(protocol.InfoDL{FrameNr: fn, BandARFCN: arfcn})
		if err := s.deliver("rach_conf", err); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sim) tickFrequency(fn uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.freqPending || fn%ReducedFNModulus != uint32(s.startingTime) {
		return
	}
	s.freqPending = false
	s.useSecondary = true
	s.logger.Info("Frequency redefinition applied",
		slog.Uint64("frame_number", uint64(fn)),
		slog.Int("starting_time", int(s.startingTime)),
	)
}

// rxLevel is the simulated signal level of an ARFCN; unknown bands are silent
func (s *Sim) rxLevel(arfcn uint16) uint8 {
	if gsm.ARFCNToBand(arfcn) == gsm.BandUnknown {
		return 0
	}
	return gsm.DBmToRxLev(s.config.SignalLevel)
}

func (s *Sim) tickPowerScan(uint32) error {
	s.mu.Lock()
	scanning := s.scanning
	s.mu.Unlock()
	if !scanning {
		return nil
	}

	entries := make([]protocol.PMConfEntry, 0, s.config.PMBatchSize)
	last := false
	for len(entries) < s.config.PMBatchSize {
		arfcn, isLast, ok := s.state.AdvanceScan()
		if !ok {
			break
		}
		lvl := s.rxLevel(arfcn)
		entries = append(entries, protocol.PMConfEntry{BandARFCN: arfcn, PM: [2]uint8{lvl, lvl}})
		if isLast {
			last = true
			break
		}
	}

	if last || len(entries) == 0 {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
	}
	if len(entries) == 0 {
		return nil
	}

	return s.deliver("pm_conf", s.report.PMConf(entries, last))
}

// activeARFCN is the ARFCN the dedicated channel uses in frame fn.
// Hopping follows the cyclic sequence over the mobile allocation.
func activeARFCN(set l1state.FreqSet, fn uint32) uint16 {
	if !set.Hopping || len(set.MA) == 0 {
		return set.ARFCN
	}
	return set.MA[(fn+uint32(set.MAIO))%uint32(len(set.MA))]
}

func (s *Sim) tickTransmit(fn uint32) error {
	// tasks first: a visible task implies its configuration is visible
	tasks := s.state.Tasks()
	if tasks&dedicatedTasks == 0 {
		return nil
	}
	d := s.state.Dedicated()
	if !d.Active() {
		return nil
	}

	s.mu.Lock()
	set := d.Primary
	if s.useSecondary && d.HasSecondary {
		set = d.Secondary
	}
	s.mu.Unlock()
	arfcn := activeARFCN(set, fn)

	// one main channel block every 4 frames, one SACCH block per
	// 26-multiframe pair on traffic channels or 51-multiframe pair otherwise
	sacchPeriod := uint32(102)
	if d.Type.IsTraffic() {
		sacchPeriod = 104
	}

	var sent []*msgb.Msg
	if fn%4 == 0 {
		if msg := s.state.Queue(l1state.ChanMain).Dequeue(); msg != nil {
			sent = append(sent, msg)
		}
	}
	if fn%sacchPeriod == 0 {
		if msg := s.state.Queue(l1state.ChanSACCH).Dequeue(); msg != nil {
			sent = append(sent, msg)
		} else if s.state.MeasReport() != nil {
			// the pending report is repeated until replaced and never confirmed
			s.mu.Lock()
			s.measSent++
			s.mu.Unlock()
		}
	}
	if len(sent) == 0 {
		return nil
	}

	s.metrics.SetTxQueueLength(l1state.ChanMain.String(), s.state.Queue(l1state.ChanMain).Len())
	s.metrics.SetTxQueueLength(l1state.ChanSACCH.String(), s.state.Queue(l1state.ChanSACCH).Len())

	for _, msg := range sent {
		if err := msg.Free(); err != nil {
			s.logger.Error("Failed to release transmitted frame",
				slog.Uint64("frame_number", uint64(fn)),
				slog.String("error", err.Error()),
			)
		}
		s.mu.Lock()
		s.framesSent++
		s.mu.Unlock()

		err := s.report.DataConf(protocol.InfoDL{FrameNr: fn, BandARFCN: arfcn})
		if err := s.deliver("data_conf", err); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops every scheduled event
func (s *Sim) Reset() {
	s.mu.Lock()
	s.search = nil
	s.rach = nil
	s.freqPending = false
	s.useSecondary = false
	s.scanning = false
	s.mu.Unlock()

	s.state.StopScan()
}

// ResetHardware returns the simulated front end to idle
func (s *Sim) ResetHardware() {
	s.mu.Lock()
	s.hwResets++
	s.mu.Unlock()
}

// StartSyncSearch begins a frequency and sync burst search. It completes
// after the configured delay, or fails at the request timeout when that
// comes first or the ARFCN is in no known band.
func (s *Sim) StartSyncSearch(req protocol.FBSBReq) {
	search := &syncSearch{
		req:       req,
		remaining: uint32(s.config.FBSBDelayFrames),
	}
	if req.Timeout != 0 && uint32(req.Timeout) < search.remaining {
		search.remaining = uint32(req.Timeout)
		search.fail = true
	}
	if gsm.ARFCNToBand(req.BandARFCN) == gsm.BandUnknown {
		search.fail = true
	}

	s.mu.Lock()
	s.search = search
	s.mu.Unlock()
}

// TriggerRandomAccess sends one access burst offset frames from now
func (s *Sim) TriggerRandomAccess(offset uint16, combined uint8, ra uint8) {
	s.mu.Lock()
	s.rach = append(s.rach, rachRequest{remaining: uint32(offset) + 1, ra: ra})
	s.mu.Unlock()
}

// ResetFrameCounter restarts the frame number at zero
func (s *Sim) ResetFrameCounter() {
	s.fn.Store(0)
}

// ScheduleFrequencyChange switches to the secondary set when the reduced
// frame number reaches startingTime
func (s *Sim) ScheduleFrequencyChange(startingTime uint16) {
	s.mu.Lock()
	s.freqPending = true
	s.useSecondary = false
	s.startingTime = startingTime % ReducedFNModulus
	s.mu.Unlock()
}

// StartPowerScan measures the range held in the control state
func (s *Sim) StartPowerScan() {
	s.mu.Lock()
	s.scanning = true
	s.mu.Unlock()
}

// Status returns the simulator status
func (s *Sim) Status() Status {
	fn := s.fn.Load()
	t, _ := gsm.FrameToTime(fn)

	s.mu.Lock()
	defer s.mu.Unlock()

	activeSet := "primary"
	if s.useSecondary {
		activeSet = "secondary"
	}

	return Status{
		FrameNumber:       fn,
		Time:              t.String(),
		ServingARFCN:      s.servingARFCN,
		SyncPending:       s.search != nil,
		PowerScanning:     s.scanning,
		RACHPending:       len(s.rach),
		FreqChangePending: s.freqPending,
		ActiveSet:         activeSet,
		CipherAlgo:        s.cipher.Algo(),
		AudioEnabled:      s.audio.Enabled(),
		TrafficMode:       s.audio.Mode(),
		HardwareResets:    s.hwResets,
		SyncCompleted:     s.syncCompleted,
		RACHSent:          s.rachSent,
		FramesSent:        s.framesSent,
		MeasReportsSent:   s.measSent,
	}
}
