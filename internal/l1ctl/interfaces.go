package l1ctl

import (
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
	"github.com/sickwell/osmocom-bb-raw/internal/protocol"
)

// Scheduler controls the TDMA frame scheduler. Enabled multiframe tasks
// are not set through it; the scheduler reads them from the control state.
type Scheduler interface {
	// Reset drops all scheduled events
	Reset()
	// ResetHardware returns the radio front end to its idle state
	ResetHardware()
	// StartSyncSearch begins a frequency and sync burst search
	StartSyncSearch(req protocol.FBSBReq)
	// TriggerRandomAccess schedules one access burst
	TriggerRandomAccess(offset uint16, combined uint8, ra uint8)
	// ResetFrameCounter restarts frame number based scheduling
	ResetFrameCounter()
	// ScheduleFrequencyChange switches to the secondary frequency set at fn
	ScheduleFrequencyChange(fn uint16)
	// StartPowerScan begins measuring the range held in the control state
	StartPowerScan()
}

// Cipher loads ciphering parameters into the cipher engine
type Cipher interface {
	// SetCipher selects algo with key; algo 0 disables ciphering and key is nil
	SetCipher(algo uint8, key []byte)
}

// Audio controls the speech path
type Audio interface {
	SetAudioEnabled(enabled bool)
	// SetTrafficMode applies a channel mode and returns the mode actually applied
	SetTrafficMode(mode uint8) uint8
}

// Sender hands a message to the transport for delivery on a DLCI.
// Send takes ownership of msg whether or not it succeeds.
type Sender interface {
	Send(dlci uint8, msg *msgb.Msg) error
}

// Layer1 groups the layer 1 collaborators driven by the dispatcher
type Layer1 struct {
	Scheduler Scheduler
	Cipher    Cipher
	Audio     Audio
}
