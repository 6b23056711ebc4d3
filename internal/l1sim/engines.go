package l1sim

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sickwell/osmocom-bb-raw/internal/protocol"
)

// CipherEngine holds the ciphering parameters loaded by layer 2/3
type CipherEngine struct {
	mu    sync.Mutex
	algo  uint8
	key   []byte
	loads uint64
}

// SetCipher selects algo with key; algo 0 disables ciphering
func (c *CipherEngine) SetCipher(algo uint8, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.algo = algo
	c.key = slices.Clone(key)
	c.loads++
}

// Algo returns the active algorithm, 0 when ciphering is off
func (c *CipherEngine) Algo() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.algo
}

// Key returns a copy of the active key
func (c *CipherEngine) Key() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.key)
}

// Loads returns how many times parameters were loaded
func (c *CipherEngine) Loads() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// AudioEngine is the speech path. Only full rate and enhanced full rate
// speech are supported; any other mode falls back to signalling.
type AudioEngine struct {
	enabled atomic.Bool
	mode    atomic.Uint32
}

// SetAudioEnabled switches the speech path on or off
func (a *AudioEngine) SetAudioEnabled(enabled bool) {
	a.enabled.Store(enabled)
}

// SetTrafficMode applies mode and returns the mode in effect
func (a *AudioEngine) SetTrafficMode(mode uint8) uint8 {
	switch mode {
	case protocol.ChanModeSpeechV1, protocol.ChanModeSpeechEFR:
	default:
		mode = protocol.ChanModeSignalling
	}
	a.mode.Store(uint32(mode))
	return mode
}

// Enabled reports whether the speech path is on
func (a *AudioEngine) Enabled() bool {
	return a.enabled.Load()
}

// Mode returns the traffic mode in effect
func (a *AudioEngine) Mode() uint8 {
	return uint8(a.mode.Load())
}
