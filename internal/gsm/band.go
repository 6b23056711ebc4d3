package gsm

import (
	"errors"
	"fmt"
	"strings"
)

// Band identifies a GSM frequency band. Values are bit flags so bands can
// be combined into a support mask.
type Band uint8

const (
	BandUnknown Band = 0
	Band850     Band = 0x01
	Band900     Band = 0x02
	Band1800    Band = 0x04
	Band1900    Band = 0x08
	Band450     Band = 0x10
	Band480     Band = 0x20
	Band750     Band = 0x40
	Band810     Band = 0x80
)

// ARFCN flag bits carried in the two most significant bits of band_arfcn
const (
	ARFCNPCS      = 0x8000
	ARFCNUplink   = 0x4000
	ARFCNFlagMask = ARFCNPCS | ARFCNUplink
)

// ErrInvalidARFCN is returned when an ARFCN falls outside every known band
var ErrInvalidARFCN = errors.New("invalid arfcn")

// ErrUnknownBand is returned for band names or values that are not supported
var ErrUnknownBand = errors.New("unknown band")

var bandNames = map[Band]string{
	Band450:  "GSM450",
	Band480:  "GSM480",
	Band750:  "GSM750",
	Band810:  "GSM810",
	Band850:  "GSM850",
	Band900:  "GSM900",
	Band1800: "DCS1800",
	Band1900: "PCS1900",
}

var bandMHz = map[string]Band{
	"450":  Band450,
	"480":  Band480,
	"750":  Band750,
	"810":  Band810,
	"850":  Band850,
	"900":  Band900,
	"1800": Band1800,
	"1900": Band1900,
}

// String returns the conventional band name
func (b Band) String() string {
	if name, ok := bandNames[b]; ok {
		return name
	}
	return "invalid"
}

// ParseBand parses a band given by its MHz figure ("900", "1800") or by
// its conventional name ("DCS1800")
func ParseBand(s string) (Band, error) {
	s = strings.TrimSpace(s)
	if band, ok := bandMHz[s]; ok {
		return band, nil
	}
	for band, name := range bandNames {
		if strings.EqualFold(s, name) {
			return band, nil
		}
	}
	return BandUnknown, fmt.Errorf("%w: %q", ErrUnknownBand, s)
}

// bandRange is one contiguous ARFCN range of a band with its frequency plan.
// Frequencies are in units of 100 kHz.
type bandRange struct {
	band     Band
	first    uint16
	last     uint16
	origin   int // ARFCN at which ulBase applies
	ulBase   int
	duplex10 int
}

// Ordered as TS 05.05 chapter 2 lists them; first match wins.
var bandRanges = []bandRange{
	{Band900, 0, 124, 0, 8900, 450},
	{Band900, 955, 1023, 1024, 8900, 450},
	{Band850, 128, 251, 128, 8242, 450},
	{Band1800, 512, 885, 512, 17102, 950},
	{Band450, 259, 293, 259, 4506, 100},
	{Band480, 306, 340, 306, 4790, 100},
	{Band810, 350, 425, 350, 8060, 450},
	{Band750, 438, 511, 438, 7472, 300},
}

var pcsRange = bandRange{Band1900, 512, 810, 512, 18502, 800}

func lookupRange(arfcn uint16) (bandRange, bool) {
	isPCS := arfcn&ARFCNPCS != 0
	arfcn &^= ARFCNFlagMask

	if isPCS {
		if arfcn < pcsRange.first || arfcn > pcsRange.last {
			return bandRange{}, false
		}
		return pcsRange, true
	}

	for _, r := range bandRanges {
		if arfcn >= r.first && arfcn <= r.last {
			return r, true
		}
	}
	return bandRange{}, false
}

// ARFCNToBand returns the band an ARFCN belongs to, or BandUnknown
func ARFCNToBand(arfcn uint16) Band {
	r, ok := lookupRange(arfcn)
	if !ok {
		return BandUnknown
	}
	return r.band
}

// ARFCNToFreq10 converts an ARFCN to its carrier frequency in units of
// 100 kHz. The uplink frequency is returned when uplink is set or the
// ARFCN carries the uplink flag.
func ARFCNToFreq10(arfcn uint16, uplink bool) (uint16, error) {
	r, ok := lookupRange(arfcn)
	if !ok {
		return 0, fmt.Errorf("%w: 0x%04x", ErrInvalidARFCN, arfcn)
	}

	uplink = uplink || arfcn&ARFCNUplink != 0
	n := int(arfcn &^ ARFCNFlagMask)

	freq := r.ulBase + 2*(n-r.origin)
	if !uplink {
		freq += r.duplex10
	}
	return uint16(freq), nil
}
