package protocol

import (
	"encoding/binary"
	"fmt"
)

// FBSBReq asks layer 1 to search for frequency and sync bursts
// Layout: [BandARFCN:2][Timeout:2][FreqErrThresh1:2][FreqErrThresh2:2]
// [NumFreqErrAvg:1][Flags:1][SyncInfoIdx:1][CCCHMode:1]
type FBSBReq struct {
	BandARFCN      uint16
	Timeout        uint16 // in TDMA frames
	FreqErrThresh1 uint16
	FreqErrThresh2 uint16
	NumFreqErrAvg  uint8
	Flags          uint8
	SyncInfoIdx    uint8
	CCCHMode       uint8
}

// Hopping holds the frequency hopping parameters of a dedicated channel
type Hopping struct {
	HSN  uint8
	MAIO uint8
	MA   []uint16
}

// FreqParams is either a single ARFCN (h0) or a hopping set (h1)
// Layout h0: [BandARFCN:2][unused:130]
// Layout h1: [HSN:1][MAIO:1][N:1][Padding:1][MA:2*64]
type FreqParams struct {
	Hopping bool
	ARFCN   uint16
	H1      Hopping
}

// DMEstReq establishes a dedicated channel
// Layout: [InfoUL:4][TSC:1][H:1][FreqParams:132][TCHMode:1]
type DMEstReq struct {
	InfoUL
	TSC     uint8
	Freq    FreqParams
	TCHMode uint8
}

// DMFreqReq announces new frequency parameters applied at a starting time
// Layout: [InfoUL:4][FN:2][TSC:1][H:1][FreqParams:132]
type DMFreqReq struct {
	InfoUL
	FN   uint16
	TSC  uint8
	Freq FreqParams
}

// CryptoReq loads the ciphering algorithm and key
// Layout: [InfoUL:4][Algo:1][Key:N]
type CryptoReq struct {
	InfoUL
	Algo uint8
	Key  []byte
}

// ParamReq updates timing advance and transmit power
// Layout: [InfoUL:4][TA:1][TxPower:1][Padding:2]
type ParamReq struct {
	InfoUL
	TA      int8
	TxPower uint8
}

// RACHReq requests transmission of an access burst
// Layout: [InfoUL:4][RA:1][Combined:1][Offset:2]
type RACHReq struct {
	InfoUL
	RA       uint8
	Combined uint8
	Offset   uint16
}

// DataReq carries one layer 2 frame for transmission
// Layout: [InfoUL:4][Data:23]
type DataReq struct {
	InfoUL
	Data []byte
}

// PMReq requests a power measurement sweep
// Layout: [Type:1][Padding:3][From:2][To:2]
type PMReq struct {
	Type uint8
	From uint16
	To   uint16
}

// Reset is the body of reset requests, confirmations and indications
// Layout: [Type:1][Padding:3]
type Reset struct {
	Type uint8
}

// ModeReq is the body of CCCH and TCH mode requests and confirmations
// Layout: [Mode:1][Padding:3]
type ModeReq struct {
	Mode uint8
}

// ParseFBSBReq parses an FBSB request body
func ParseFBSBReq(data []byte) (FBSBReq, error) {
	if len(data) < FBSBReqSize {
		return FBSBReq{}, short("fbsb_req", FBSBReqSize, len(data))
	}

	return FBSBReq{
		BandARFCN:      binary.BigEndian.Uint16(data[0:2]),
		Timeout:        binary.BigEndian.Uint16(data[2:4]),
		FreqErrThresh1: binary.BigEndian.Uint16(data[4:6]),
		FreqErrThresh2: binary.BigEndian.Uint16(data[6:8]),
		NumFreqErrAvg:  data[8],
		Flags:          data[9],
		SyncInfoIdx:    data[10],
		CCCHMode:       data[11],
	}, nil
}

func parseFreqParams(h uint8, data []byte) (FreqParams, error) {
	if h == 0 {
		return FreqParams{ARFCN: binary.BigEndian.Uint16(data[0:2])}, nil
	}

	n := int(data[2])
	if n > MaxMA {
		return FreqParams{}, fmt.Errorf("%w: mobile allocation of %d entries exceeds %d", ErrInvalidParameter, n, MaxMA)
	}

	ma := make([]uint16, n)
	for i := range ma {
		ma[i] = binary.BigEndian.Uint16(data[4+2*i:])
	}
	return FreqParams{
		Hopping: true,
		H1:      Hopping{HSN: data[0], MAIO: data[1], MA: ma},
	}, nil
}

// ParseDMEstReq parses a dedicated mode establish request body
func ParseDMEstReq(data []byte) (DMEstReq, error) {
	ul, payload, err := ParseInfoUL(data)
	if err != nil {
		return DMEstReq{}, err
	}
	if len(payload) < DMEstReqSize {
		return DMEstReq{}, short("dm_est_req", DMEstReqSize, len(payload))
	}

	freq, err := parseFreqParams(payload[1], payload[2:2+FreqParamsSize])
	if err != nil {
		return DMEstReq{}, err
	}

	return DMEstReq{
		InfoUL:  ul,
		TSC:     payload[0],
		Freq:    freq,
		TCHMode: payload[2+FreqParamsSize],
	}, nil
}

// ParseDMFreqReq parses a dedicated mode frequency request body
func ParseDMFreqReq(data []byte) (DMFreqReq, error) {
	ul, payload, err := ParseInfoUL(data)
	if err != nil {
		return DMFreqReq{}, err
	}
	if len(payload) < DMFreqReqSize {
		return DMFreqReq{}, short("dm_freq_req", DMFreqReqSize, len(payload))
	}

	freq, err := parseFreqParams(payload[3], payload[4:4+FreqParamsSize])
	if err != nil {
		return DMFreqReq{}, err
	}

	return DMFreqReq{
		InfoUL: ul,
		FN:     binary.BigEndian.Uint16(payload[0:2]),
		TSC:    payload[2],
		Freq:   freq,
	}, nil
}

// ParseCryptoReq parses a ciphering request body. The key is whatever
// follows the algorithm byte; see Validate.
func ParseCryptoReq(data []byte) (CryptoReq, error) {
	ul, payload, err := ParseInfoUL(data)
	if err != nil {
		return CryptoReq{}, err
	}
	if len(payload) < CryptoReqSize {
		return CryptoReq{}, short("crypto_req", CryptoReqSize, len(payload))
	}

	key := make([]byte, len(payload)-CryptoReqSize)
	copy(key, payload[CryptoReqSize:])
	return CryptoReq{InfoUL: ul, Algo: payload[0], Key: key}, nil
}

// Validate checks that a non-null algorithm comes with a full key
func (c CryptoReq) Validate() error {
	if c.Algo != 0 && len(c.Key) != CipherKeySize {
		return fmt.Errorf("%w: A5/%d needs a %d byte key, got %d", ErrInvalidParameter, c.Algo, CipherKeySize, len(c.Key))
	}
	return nil
}

// ParseParamReq parses a parameter request body
func ParseParamReq(data []byte) (ParamReq, error) {
	ul, payload, err := ParseInfoUL(data)
	if err != nil {
		return ParamReq{}, err
	}
	if len(payload) < ParamReqSize {
		return ParamReq{}, short("par_req", ParamReqSize, len(payload))
	}

	return ParamReq{InfoUL: ul, TA: int8(payload[0]), TxPower: payload[1]}, nil
}

// ParseRACHReq parses a random access request body
func ParseRACHReq(data []byte) (RACHReq, error) {
	ul, payload, err := ParseInfoUL(data)
	if err != nil {
		return RACHReq{}, err
	}
	if len(payload) < RACHReqSize {
		return RACHReq{}, short("rach_req", RACHReqSize, len(payload))
	}

	return RACHReq{
		InfoUL:   ul,
		RA:       payload[0],
		Combined: payload[1],
		Offset:   binary.BigEndian.Uint16(payload[2:4]),
	}, nil
}

// ParseDataReq parses a data request body. Data aliases the input.
func ParseDataReq(data []byte) (DataReq, error) {
	ul, payload, err := ParseInfoUL(data)
	if err != nil {
		return DataReq{}, err
	}
	if len(payload) < DataSize {
		return DataReq{}, short("data_req", DataSize, len(payload))
	}

	return DataReq{InfoUL: ul, Data: payload[:DataSize]}, nil
}

// IsSACCH reports whether the frame is for the slow associated control channel
func (d DataReq) IsSACCH() bool {
	return d.LinkID&LinkIDSACCH != 0
}

// IsMeasurementReport reports whether the frame is an RR measurement report on SACCH
func (d DataReq) IsMeasurementReport() bool {
	if !d.IsSACCH() || len(d.Data) < sacchL3Offset+2 {
		return false
	}
	pdisc := d.Data[sacchL3Offset] & 0x0f
	return pdisc == PDiscRR && d.Data[sacchL3Offset+1] == MTRRMeasurement
}

// ParsePMReq parses a power measurement request body
func ParsePMReq(data []byte) (PMReq, error) {
	if len(data) < PMReqSize {
		return PMReq{}, short("pm_req", PMReqSize, len(data))
	}

	return PMReq{
		Type: data[0],
		From: binary.BigEndian.Uint16(data[4:6]),
		To:   binary.BigEndian.Uint16(data[6:8]),
	}, nil
}

// ParseReset parses a reset body
func ParseReset(data []byte) (Reset, error) {
	if len(data) < ResetSize {
		return Reset{}, short("reset", ResetSize, len(data))
	}
	return Reset{Type: data[0]}, nil
}

// ParseModeReq parses a CCCH or TCH mode body
func ParseModeReq(data []byte) (ModeReq, error) {
	if len(data) < CCCHModeSize {
		return ModeReq{}, short("mode_req", CCCHModeSize, len(data))
	}
	return ModeReq{Mode: data[0]}, nil
}

func appendFreqParams(b []byte, f FreqParams) []byte {
	var raw [FreqParamsSize]byte
	if f.Hopping {
		raw[0] = f.H1.HSN
		raw[1] = f.H1.MAIO
		raw[2] = uint8(len(f.H1.MA))
		for i, arfcn := range f.H1.MA {
			if i >= MaxMA {
				break
			}
			binary.BigEndian.PutUint16(raw[4+2*i:], arfcn)
		}
	} else {
		binary.BigEndian.PutUint16(raw[0:2], f.ARFCN)
	}
	return append(b, raw[:]...)
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// AppendFBSBReq appends an FBSB request body to b
func AppendFBSBReq(b []byte, r FBSBReq) []byte {
	b = binary.BigEndian.AppendUint16(b, r.BandARFCN)
	b = binary.BigEndian.AppendUint16(b, r.Timeout)
	b = binary.BigEndian.AppendUint16(b, r.FreqErrThresh1)
	b = binary.BigEndian.AppendUint16(b, r.FreqErrThresh2)
	return append(b, r.NumFreqErrAvg, r.Flags, r.SyncInfoIdx, r.CCCHMode)
}

// AppendDMEstReq appends a dedicated mode establish request body to b
func AppendDMEstReq(b []byte, r DMEstReq) []byte {
	b = AppendInfoUL(b, r.InfoUL)
	b = append(b, r.TSC, boolByte(r.Freq.Hopping))
	b = appendFreqParams(b, r.Freq)
	return append(b, r.TCHMode)
}

// AppendDMFreqReq appends a dedicated mode frequency request body to b
func AppendDMFreqReq(b []byte, r DMFreqReq) []byte {
	b = AppendInfoUL(b, r.InfoUL)
	b = binary.BigEndian.AppendUint16(b, r.FN)
	b = append(b, r.TSC, boolByte(r.Freq.Hopping))
	return appendFreqParams(b, r.Freq)
}

// AppendCryptoReq appends a ciphering request body to b
func AppendCryptoReq(b []byte, r CryptoReq) []byte {
	b = AppendInfoUL(b, r.InfoUL)
	b = append(b, r.Algo)
	return append(b, r.Key...)
}

// AppendParamReq appends a parameter request body to b
func AppendParamReq(b []byte, r ParamReq) []byte {
	b = AppendInfoUL(b, r.InfoUL)
	return append(b, uint8(r.TA), r.TxPower, 0, 0)
}

// AppendRACHReq appends a random access request body to b
func AppendRACHReq(b []byte, r RACHReq) []byte {
	b = AppendInfoUL(b, r.InfoUL)
	b = append(b, r.RA, r.Combined)
	return binary.BigEndian.AppendUint16(b, r.Offset)
}

// AppendDataReq appends a data request body to b, padding the frame to DataSize
func AppendDataReq(b []byte, r DataReq) []byte {
	b = AppendInfoUL(b, r.InfoUL)
	var frame [DataSize]byte
	copy(frame[:], r.Data)
	return append(b, frame[:]...)
}

// AppendPMReq appends a power measurement request body to b
func AppendPMReq(b []byte, r PMReq) []byte {
	b = append(b, r.Type, 0, 0, 0)
	b = binary.BigEndian.AppendUint16(b, r.From)
	return binary.BigEndian.AppendUint16(b, r.To)
}

// AppendReset appends a reset body to b
func AppendReset(b []byte, r Reset) []byte {
	return append(b, r.Type, 0, 0, 0)
}

// AppendMode appends a CCCH or TCH mode body to b
func AppendMode(b []byte, mode uint8) []byte {
	return append(b, mode, 0, 0, 0)
}
