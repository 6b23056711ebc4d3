package sercomm

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Data link connection identifiers multiplexed on one link
const (
	DLCIDebug   uint8 = 4
	DLCIL1AL23  uint8 = 5
	DLCILoader  uint8 = 9
	DLCIConsole uint8 = 10
	DLCIEcho    uint8 = 128
)

// FrameHeaderSize is the size of the stream frame header
// Layout: [DLCI:1][Length:2]
const FrameHeaderSize = 3

// MaxPayload is the largest payload a frame header can describe
const MaxPayload = 0xffff

var (
	// ErrFrameTooLarge is returned for payloads exceeding the allowed size
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrNoLink is returned when sending before a link is attached
	ErrNoLink = errors.New("no link attached")
	// ErrNoHandler is returned for frames on a DLCI nobody listens on
	ErrNoHandler = errors.New("no handler for dlci")
	// ErrLinkDown is returned when writing to a link that is not open
	ErrLinkDown = errors.New("link down")
)

// AppendFrame appends a stream frame carrying payload on dlci to b
func AppendFrame(b []byte, dlci uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return b, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	b = append(b, dlci)
	b = binary.BigEndian.AppendUint16(b, uint16(len(payload)))
	return append(b, payload...), nil
}

// FrameReader reads stream frames from a byte stream
type FrameReader struct {
	r          *bufio.Reader
	maxPayload int
	hdr        [FrameHeaderSize]byte
}

// NewFrameReader creates a reader rejecting payloads above maxPayload
func NewFrameReader(r io.Reader, maxPayload int) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r), maxPayload: maxPayload}
}

// ReadFrame reads one frame. The payload is a fresh slice.
func (fr *FrameReader) ReadFrame() (uint8, []byte, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return 0, nil, err
	}

	dlci := fr.hdr[0]
	n := int(binary.BigEndian.Uint16(fr.hdr[1:3]))
	if n > fr.maxPayload {
		return dlci, nil, fmt.Errorf("%w: %d bytes on dlci %d, limit %d", ErrFrameTooLarge, n, dlci, fr.maxPayload)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return dlci, nil, fmt.Errorf("truncated frame on dlci %d: %w", dlci, err)
	}
	return dlci, payload, nil
}

// dlciLabel formats a DLCI for metric labels
func dlciLabel(dlci uint8) string {
	return strconv.Itoa(int(dlci))
}

// LinkStatistics represents link performance counters
type LinkStatistics struct {
	Transport      string `json:"transport"`
	Connected      bool   `json:"connected"`
	Peer           string `json:"peer,omitempty"`
	FramesReceived uint64 `json:"frames_received"`
	FramesSent     uint64 `json:"frames_sent"`
	ParseErrors    uint64 `json:"parse_errors"`
	Dropped        uint64 `json:"dropped"`
	Reconnects     uint64 `json:"reconnects"`
	QueueSize      uint64 `json:"queue_size"`
	QueueCapacity  uint64 `json:"queue_capacity"`
}
