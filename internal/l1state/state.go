package l1state

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sickwell/osmocom-bb-raw/internal/channr"
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
)

// Params are the uplink parameters set by a parameter request
type Params struct {
	TA      int8  `json:"ta"`
	TxPower uint8 `json:"tx_power"`
}

// Cipher mirrors the parameters last loaded into the cipher engine
type Cipher struct {
	Algo uint8  `json:"algo"`
	Key  []byte `json:"-"`
}

// ScanMode is the power measurement state
type ScanMode uint8

const (
	ScanIdle ScanMode = iota
	ScanRange
)

// PowerScan is the ARFCN range of a power measurement sweep
type PowerScan struct {
	Mode  ScanMode `json:"mode"`
	Start uint16   `json:"arfcn_start"`
	Next  uint16   `json:"arfcn_next"`
	End   uint16   `json:"arfcn_end"`
}

// State is the live layer 1 control state. The dispatcher is its only
// writer; the frame path reads it at every TDMA frame boundary.
//
// Each field consumed per frame is published atomically. The dedicated
// configuration is an immutable snapshot replaced as a whole, and callers
// order their writes so that tasks are enabled only after the configuration
// they depend on is visible, and disabled before it is cleared.
//
// TCHSync is the one relaxed field: it is set and cleared without ordering
// against the rest because it only gates when audio starts flowing.
type State struct {
	dedicated atomic.Pointer[Dedicated]
	tasks     atomic.Uint32
	tchSync   atomic.Bool
	tchMode   atomic.Uint32
	ccchMode  atomic.Uint32
	params    atomic.Pointer[Params]
	cipher    atomic.Pointer[Cipher]

	queues [NumChannels]TxQueue

	measMu  sync.Mutex
	measMsg *msgb.Msg

	scanMu sync.Mutex
	scan   PowerScan

	logger *slog.Logger
}

// New returns an idle control state
func New(logger *slog.Logger) *State {
	s := &State{logger: logger}
	for i := range s.queues {
		s.queues[i].logger = logger
	}
	s.dedicated.Store(noDedicated)
	s.params.Store(&Params{})
	s.cipher.Store(&Cipher{})
	return s
}

// Dedicated returns the current dedicated channel configuration
func (s *State) Dedicated() Dedicated {
	return *s.dedicated.Load()
}

// SetDedicated publishes a new dedicated channel configuration
func (s *State) SetDedicated(d Dedicated) {
	s.dedicated.Store(d.clone())
}

// UpdateSecondary replaces only the secondary frequency set of the
// current configuration
func (s *State) UpdateSecondary(set FreqSet, startingTime uint16) {
	next := s.dedicated.Load().clone()
	next.HasSecondary = true
	next.Secondary = set.clone()
	next.StartingTime = startingTime
	s.dedicated.Store(next)
}

// ClearDedicated resets the channel type to none
func (s *State) ClearDedicated() {
	s.dedicated.Store(noDedicated)
}

// Tasks returns the enabled multiframe tasks
func (s *State) Tasks() channr.TaskMask {
	return channr.TaskMask(s.tasks.Load())
}

// SetTasks replaces the enabled task set
func (s *State) SetTasks(m channr.TaskMask) {
	s.tasks.Store(uint32(m))
}

// EnableTask adds one task to the enabled set
func (s *State) EnableTask(t channr.Task) {
	s.updateTasks(func(m channr.TaskMask) channr.TaskMask { return m.With(t) })
}

// DisableTask removes one task from the enabled set
func (s *State) DisableTask(t channr.Task) {
	s.updateTasks(func(m channr.TaskMask) channr.TaskMask { return m.Without(t) })
}

func (s *State) updateTasks(fn func(channr.TaskMask) channr.TaskMask) {
	for {
		old := s.tasks.Load()
		if s.tasks.CompareAndSwap(old, uint32(fn(channr.TaskMask(old)))) {
			return
		}
	}
}

// TCHSync reports whether the traffic channel needs resynchronisation
func (s *State) TCHSync() bool {
	return s.tchSync.Load()
}

// SetTCHSync sets or clears the traffic channel sync flag
func (s *State) SetTCHSync(v bool) {
	s.tchSync.Store(v)
}

// TCHMode returns the applied traffic channel mode
func (s *State) TCHMode() uint8 {
	return uint8(s.tchMode.Load())
}

// SetTCHMode records the applied traffic channel mode
func (s *State) SetTCHMode(mode uint8) {
	s.tchMode.Store(uint32(mode))
}

// CCCHMode returns the serving cell CCCH configuration
func (s *State) CCCHMode() uint8 {
	return uint8(s.ccchMode.Load())
}

// SetCCCHMode records the serving cell CCCH configuration
func (s *State) SetCCCHMode(mode uint8) {
	s.ccchMode.Store(uint32(mode))
}

// Params returns the timing advance and transmit power
func (s *State) Params() Params {
	return *s.params.Load()
}

// SetParams stores the timing advance and transmit power together
func (s *State) SetParams(p Params) {
	s.params.Store(&p)
}

// Cipher returns the loaded cipher parameters
func (s *State) Cipher() Cipher {
	c := *s.cipher.Load()
	c.Key = slices.Clone(c.Key)
	return c
}

// SetCipher records the loaded cipher parameters
func (s *State) SetCipher(algo uint8, key []byte) {
	s.cipher.Store(&Cipher{Algo: algo, Key: slices.Clone(key)})
}

// Queue returns the transmit queue of a logical channel
func (s *State) Queue(c Channel) *TxQueue {
	return &s.queues[c]
}

// FlushQueues drops every queued frame on all channels
func (s *State) FlushQueues() int {
	n := 0
	for c := Channel(0); c < NumChannels; c++ {
		n += s.queues[c].Flush()
	}
	return n
}

// SetMeasReport moves msg into the measurement report slot, freeing the
// message it replaces. A nil msg clears the slot.
func (s *State) SetMeasReport(msg *msgb.Msg) {
	s.measMu.Lock()
	old := s.measMsg
	s.measMsg = msg
	s.measMu.Unlock()

	if old != nil && old != msg {
		release(s.logger, old, "meas_report")
	}
}

// MeasReport returns a copy of the pending measurement report frame,
// starting at its layer 2 payload, or nil when none is installed
func (s *State) MeasReport() []byte {
	s.measMu.Lock()
	defer s.measMu.Unlock()

	if s.measMsg == nil {
		return nil
	}
	return slices.Clone(s.measMsg.Bytes()[s.measMsg.L3H:])
}

// StartScan initialises a power measurement sweep over [start, end]
func (s *State) StartScan(start, end uint16) {
	s.scanMu.Lock()
	s.scan = PowerScan{Mode: ScanRange, Start: start, Next: start, End: end}
	s.scanMu.Unlock()
}

// PowerScan returns the current sweep state
func (s *State) PowerScan() PowerScan {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	return s.scan
}

// AdvanceScan completes the measurement of the next ARFCN. It returns
// the ARFCN just measured and whether it was the last of the range.
func (s *State) AdvanceScan() (arfcn uint16, last bool, ok bool) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if s.scan.Mode != ScanRange {
		return 0, false, false
	}

	arfcn = s.scan.Next
	if arfcn >= s.scan.End {
		s.scan.Mode = ScanIdle
		return arfcn, true, true
	}
	s.scan.Next++
	return arfcn, false, true
}

// StopScan abandons any sweep in progress
func (s *State) StopScan() {
	s.scanMu.Lock()
	s.scan.Mode = ScanIdle
	s.scanMu.Unlock()
}
