package protocol

import "encoding/binary"

// FBSBConf reports the outcome of a frequency/sync burst search
// Layout: [InfoDL:8][InitialFreqErr:2][Result:1][BSIC:1]
type FBSBConf struct {
	InfoDL
	InitialFreqErr int16
	Result         uint8 // 0 on success
	BSIC           uint8
}

// PMConfEntry is one measured ARFCN of a power measurement confirmation
// Layout: [BandARFCN:2][PM:2]
type PMConfEntry struct {
	BandARFCN uint16
	PM        [2]uint8 // RXLEV of two measurements
}

// FlagLast marks the PM confirmation carrying the last entry of a sweep
const FlagLast = 0x01

// AppendFBSBConf appends an FBSB confirmation body to b
func AppendFBSBConf(b []byte, c FBSBConf) []byte {
	b = AppendInfoDL(b, c.InfoDL)
	b = binary.BigEndian.AppendUint16(b, uint16(c.InitialFreqErr))
	return append(b, c.Result, c.BSIC)
}

// ParseFBSBConf parses an FBSB confirmation body
func ParseFBSBConf(data []byte) (FBSBConf, error) {
	dl, payload, err := ParseInfoDL(data)
	if err != nil {
		return FBSBConf{}, err
	}
	if len(payload) < FBSBConfSize {
		return FBSBConf{}, short("fbsb_conf", FBSBConfSize, len(payload))
	}

	return FBSBConf{
		InfoDL:         dl,
		InitialFreqErr: int16(binary.BigEndian.Uint16(payload[0:2])),
		Result:         payload[2],
		BSIC:           payload[3],
	}, nil
}

// AppendPMConfEntry appends one power measurement entry to b
func AppendPMConfEntry(b []byte, e PMConfEntry) []byte {
	b = binary.BigEndian.AppendUint16(b, e.BandARFCN)
	return append(b, e.PM[0], e.PM[1])
}

// ParsePMConf parses the entries of a power measurement confirmation body
func ParsePMConf(data []byte) ([]PMConfEntry, error) {
	if len(data)%PMConfEntrySize != 0 {
		return nil, short("pm_conf", len(data)+PMConfEntrySize-len(data)%PMConfEntrySize, len(data))
	}

	entries := make([]PMConfEntry, 0, len(data)/PMConfEntrySize)
	for off := 0; off < len(data); off += PMConfEntrySize {
		entries = append(entries, PMConfEntry{
			BandARFCN: binary.BigEndian.Uint16(data[off : off+2]),
			PM:        [2]uint8{data[off+2], data[off+3]},
		})
	}
	return entries, nil
}
