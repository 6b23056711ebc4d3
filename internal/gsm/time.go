package gsm

import (
	"errors"
	"fmt"
)

// Frame counter constants (TS 05.02 chapter 4.3.3)
const (
	SuperframeFrames = 26 * 51
	HyperframeCount  = 2048
	MaxFN            = SuperframeFrames * HyperframeCount
)

// ErrFrameNumberRange is returned for frame numbers outside [0, MaxFN)
var ErrFrameNumberRange = errors.New("frame number out of range")

// Time is the structured GSM time of a TDMA frame.
// FN is canonical; T1/T2/T3/TC are always derived from it.
type Time struct {
	FN uint32 `json:"fn"`
	T1 uint16 `json:"t1"` // FN div (26*51)
	T2 uint8  `json:"t2"` // FN modulo 26
	T3 uint8  `json:"t3"` // FN modulo 51
	TC uint8  `json:"tc"`
}

// FrameToTime decomposes a frame number into GSM time
func FrameToTime(fn uint32) (Time, error) {
	if fn >= MaxFN {
		return Time{}, fmt.Errorf("%w: %d >= %d", ErrFrameNumberRange, fn, MaxFN)
	}

	return Time{
		FN: fn,
		T1: uint16(fn / SuperframeFrames),
		T2: uint8(fn % 26),
		T3: uint8(fn % 51),
		TC: uint8((fn / 51) % 8),
	}, nil
}

// TimeToFrame reconstructs the frame number from T1/T2/T3
func TimeToFrame(t Time) uint32 {
	t2 := int(t.T2)
	t3 := int(t.T3)
	return uint32(51*((t3-t2+26)%26) + t3 + SuperframeFrames*int(t.T1))
}

// AddFrames advances fn by delta frames, wrapping at the hyperframe boundary
func AddFrames(fn, delta uint32) uint32 {
	sum := uint64(fn%MaxFN) + uint64(delta%MaxFN)
	if sum >= MaxFN {
		sum -= MaxFN
	}
	return uint32(sum)
}

// String returns a human-readable representation of the GSM time
func (t Time) String() string {
	return fmt.Sprintf("fn=%d (%d/%d/%d)", t.FN, t.T1, t.T2, t.T3)
}
