package channr

import "fmt"

// Type is the dedicated channel type encoded in the C-bits of a channel number
type Type uint8

const (
	TypeNone Type = iota
	TypeTCHF
	TypeTCHH
	TypeSDCCH4
	TypeSDCCH8
	TypeUnknown
)

var typeNames = [...]string{
	TypeNone:    "none",
	TypeTCHF:    "TCH/F",
	TypeTCHH:    "TCH/H",
	TypeSDCCH4:  "SDCCH/4",
	TypeSDCCH8:  "SDCCH/8",
	TypeUnknown: "unknown",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// IsTraffic reports whether the type is a traffic channel
func (t Type) IsTraffic() bool {
	return t == TypeTCHF || t == TypeTCHH
}

// Subchannel counts of each channel type
const (
	TCHHSubchannels   = 2
	SDCCH4Subchannels = 4
	SDCCH8Subchannels = 8
)

// Channel is a fully decoded channel number (TS 08.58 chapter 9.3.1)
type Channel struct {
	Type       Type  `json:"type"`
	Subchannel uint8 `json:"subchannel"`
	Timeslot   uint8 `json:"timeslot"`
}

func (c Channel) String() string {
	return fmt.Sprintf("%s(ss=%d,tn=%d)", c.Type, c.Subchannel, c.Timeslot)
}

// Timeslot returns the timeslot number in the low three bits
func Timeslot(chanNr uint8) uint8 {
	return chanNr & 0x07
}

// Decode decodes a channel number. The C-bits are matched in a fixed
// priority order and the first match wins; every input has a result.
func Decode(chanNr uint8) Channel {
	cbits := chanNr >> 3
	ch := Channel{Type: TypeUnknown, Timeslot: Timeslot(chanNr)}

	switch {
	case cbits == 0x01:
		ch.Type = TypeTCHF
	case cbits&0x1e == 0x02:
		ch.Type = TypeTCHH
		ch.Subchannel = cbits & 0x01
	case cbits&0x1c == 0x04:
		ch.Type = TypeSDCCH4
		ch.Subchannel = cbits & 0x03
	case cbits&0x18 == 0x08:
		ch.Type = TypeSDCCH8
		ch.Subchannel = cbits & 0x07
	}
	return ch
}

// DecodeType returns only the channel type of a channel number
func DecodeType(chanNr uint8) Type {
	return Decode(chanNr).Type
}

// IsTraffic reports whether a channel number addresses a TCH/F or TCH/H
func IsTraffic(chanNr uint8) bool {
	cbits := chanNr >> 3
	return cbits == 0x01 || cbits&0x1e == 0x02
}

// Encode builds a channel number from its parts. It is the inverse of
// Decode for the known channel types.
func Encode(ch Channel) (uint8, error) {
	var cbits uint8

	switch ch.Type {
	case TypeTCHF:
		cbits = 0x01
	case TypeTCHH:
		if ch.Subchannel >= TCHHSubchannels {
			return 0, fmt.Errorf("TCH/H subchannel %d out of range", ch.Subchannel)
		}
		cbits = 0x02 | ch.Subchannel
	case TypeSDCCH4:
		if ch.Subchannel >= SDCCH4Subchannels {
			return 0, fmt.Errorf("SDCCH/4 subchannel %d out of range", ch.Subchannel)
		}
		cbits = 0x04 | ch.Subchannel
	case TypeSDCCH8:
		if ch.Subchannel >= SDCCH8Subchannels {
			return 0, fmt.Errorf("SDCCH/8 subchannel %d out of range", ch.Subchannel)
		}
		cbits = 0x08 | ch.Subchannel
	default:
		return 0, fmt.Errorf("cannot encode channel type %s", ch.Type)
	}

	if ch.Timeslot > 7 {
		return 0, fmt.Errorf("timeslot %d out of range", ch.Timeslot)
	}
	return cbits<<3 | ch.Timeslot, nil
}
