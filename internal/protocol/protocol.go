package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType is the L1CTL message type carried in the header
type MessageType uint8

// L1CTL message types
const (
	MsgNone         MessageType = 0
	MsgFBSBReq      MessageType = 1
	MsgFBSBConf     MessageType = 2
	MsgDataInd      MessageType = 3
	MsgRACHReq      MessageType = 4
	MsgDMEstReq     MessageType = 5
	MsgDataReq      MessageType = 6
	MsgResetInd     MessageType = 7
	MsgPMReq        MessageType = 8
	MsgPMConf       MessageType = 9
	MsgEchoReq      MessageType = 10
	MsgEchoConf     MessageType = 11
	MsgRACHConf     MessageType = 12
	MsgResetReq     MessageType = 13
	MsgResetConf    MessageType = 14
	MsgDataConf     MessageType = 15
	MsgCCCHModeReq  MessageType = 16
	MsgCCCHModeConf MessageType = 17
	MsgDMRelReq     MessageType = 18
	MsgParamReq     MessageType = 19
	MsgDMFreqReq    MessageType = 20
	MsgCryptoReq    MessageType = 21
	MsgSIMReq       MessageType = 22
	MsgSIMConf      MessageType = 23
	MsgTCHModeReq   MessageType = 24
	MsgTCHModeConf  MessageType = 25
)

var messageTypeNames = map[MessageType]string{
	MsgFBSBReq:      "FBSB_REQ",
	MsgFBSBConf:     "FBSB_CONF",
	MsgDataInd:      "DATA_IND",
	MsgRACHReq:      "RACH_REQ",
	MsgDMEstReq:     "DM_EST_REQ",
	MsgDataReq:      "DATA_REQ",
	MsgResetInd:     "RESET_IND",
	MsgPMReq:        "PM_REQ",
	MsgPMConf:       "PM_CONF",
	MsgEchoReq:      "ECHO_REQ",
	MsgEchoConf:     "ECHO_CONF",
	MsgRACHConf:     "RACH_CONF",
	MsgResetReq:     "RESET_REQ",
	MsgResetConf:    "RESET_CONF",
	MsgDataConf:     "DATA_CONF",
	MsgCCCHModeReq:  "CCCH_MODE_REQ",
	MsgCCCHModeConf: "CCCH_MODE_CONF",
	MsgDMRelReq:     "DM_REL_REQ",
	MsgParamReq:     "PARAM_REQ",
	MsgDMFreqReq:    "DM_FREQ_REQ",
	MsgCryptoReq:    "CRYPTO_REQ",
	MsgSIMReq:       "SIM_REQ",
	MsgSIMConf:      "SIM_CONF",
	MsgTCHModeReq:   "TCH_MODE_REQ",
	MsgTCHModeConf:  "TCH_MODE_CONF",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
}

// Structure sizes on the wire
const (
	HeaderSize       = 4 // msg_type, flags, padding[2]
	InfoULSize       = 4 // chan_nr, link_id, padding[2]
	InfoDLSize       = 8 // frame_nr, snr, band_arfcn
	FBSBReqSize      = 12
	MaxMA            = 64
	FreqParamsSize   = 4 + 2*MaxMA // union of h0 and h1
	DMEstReqSize     = 2 + FreqParamsSize + 1
	DMFreqReqSize    = 4 + FreqParamsSize
	CryptoReqSize    = 1
	CipherKeySize    = 8
	ParamReqSize     = 4
	RACHReqSize      = 4
	DataSize         = 23 // one LAPDm frame
	PMReqSize        = 8
	ResetSize        = 4
	CCCHModeSize     = 4
	TCHModeSize      = 4
	FBSBConfSize     = 4
	PMConfEntrySize  = 4
	MaxPMConfEntries = 50
)

// Link identifier bits
const (
	LinkIDSACCH = 0x40
)

// GSM 04.08 identifiers used to recognise measurement reports
const (
	PDiscRR         = 0x06
	MTRRMeasurement = 0x15

	// offset of the 04.08 header inside a SACCH frame: 2 bytes L1 header
	// followed by 3 bytes LAPDm header
	sacchL3Offset = 5
)

// Reset types
const (
	ResetBoot  = 0
	ResetFull  = 1
	ResetSched = 2
)

// CCCH modes
const (
	CCCHModeNone        = 0
	CCCHModeNonCombined = 1
	CCCHModeCombined    = 2
)

// Channel modes (GSM 04.08 chapter 10.5.2.6)
const (
	ChanModeSignalling = 0x00
	ChanModeSpeechV1   = 0x01
	ChanModeSpeechEFR  = 0x21
	ChanModeSpeechAMR  = 0x41
)

// FBSB request flags
const (
	FBSBFlagFB0   = 1
	FBSBFlagFB1   = 2
	FBSBFlagSB    = 4
	FBSBFlagFB01S = FBSBFlagFB0 | FBSBFlagFB1 | FBSBFlagSB
)

// Power measurement request types
const (
	PMTypeRange = 1
)

var (
	// ErrShortMessage is returned when a message is shorter than its fixed structure
	ErrShortMessage = errors.New("message too short")
	// ErrInvalidParameter is returned when a field value is out of range
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Header represents the 4-byte L1CTL message header
// Layout: [MsgType:1][Flags:1][Padding:2]
type Header struct {
	MsgType MessageType
	Flags   uint8
}

// InfoUL is the envelope that starts every uplink request body
// Layout: [ChanNr:1][LinkID:1][Padding:2]
type InfoUL struct {
	ChanNr uint8
	LinkID uint8
}

// InfoDL is the envelope that starts downlink indications and confirmations
// Layout: [FrameNr:4][SNR:2][BandARFCN:2]
type InfoDL struct {
	FrameNr   uint32
	SNR       uint16
	BandARFCN uint16
}

func short(what string, need, got int) error {
	return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortMessage, what, need, got)
}

// ParseHeader parses the fixed L1CTL header
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, short("header", HeaderSize, len(data))
	}

	return Header{
		MsgType: MessageType(data[0]),
		Flags:   data[1],
	}, nil
}

// ParseInfoUL parses the uplink envelope and returns the remaining payload
func ParseInfoUL(data []byte) (InfoUL, []byte, error) {
	if len(data) < InfoULSize {
		return InfoUL{}, nil, short("info_ul", InfoULSize, len(data))
	}

	return InfoUL{ChanNr: data[0], LinkID: data[1]}, data[InfoULSize:], nil
}

// ParseInfoDL parses the downlink envelope and returns the remaining payload
func ParseInfoDL(data []byte) (InfoDL, []byte, error) {
	if len(data) < InfoDLSize {
		return InfoDL{}, nil, short("info_dl", InfoDLSize, len(data))
	}

	return InfoDL{
		FrameNr:   binary.BigEndian.Uint32(data[0:4]),
		SNR:       binary.BigEndian.Uint16(data[4:6]),
		BandARFCN: binary.BigEndian.Uint16(data[6:8]),
	}, data[InfoDLSize:], nil
}

// AppendHeader appends an L1CTL header to b
func AppendHeader(b []byte, t MessageType, flags uint8) []byte {
	return append(b, uint8(t), flags, 0, 0)
}

// AppendInfoUL appends an uplink envelope to b
func AppendInfoUL(b []byte, ul InfoUL) []byte {
	return append(b, ul.ChanNr, ul.LinkID, 0, 0)
}

// AppendInfoDL appends a downlink envelope to b
func AppendInfoDL(b []byte, dl InfoDL) []byte {
	b = binary.BigEndian.AppendUint32(b, dl.FrameNr)
	b = binary.BigEndian.AppendUint16(b, dl.SNR)
	return binary.BigEndian.AppendUint16(b, dl.BandARFCN)
}

func (h Header) String() string {
	return fmt.Sprintf("Header{Type:%s, Flags:0x%02x}", h.MsgType, h.Flags)
}

func (ul InfoUL) String() string {
	return fmt.Sprintf("InfoUL{ChanNr:0x%02x, LinkID:0x%02x}", ul.ChanNr, ul.LinkID)
}
