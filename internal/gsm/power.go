package gsm

import "fmt"

// Receive level range per TS 08.05 chapter 8.1.4
const (
	RxLevMin   = 0
	RxLevMax   = 63
	rxLevFloor = -110
)

func isLowBand(band Band) bool {
	switch band {
	case Band450, Band480, Band750, Band810, Band850, Band900:
		return true
	}
	return false
}

// DBmToPowerLevel returns the MS power control level (TS 05.05 chapter 4.1.1)
// closest to, but not below, the requested output power. The mapping is a
// quantization: PowerLevelToDBm(DBmToPowerLevel(x)) may exceed x by 1 dB.
func DBmToPowerLevel(band Band, dbm int) (uint8, error) {
	if dbm < 0 {
		dbm = 0
	}

	switch {
	case isLowBand(band):
		switch {
		case dbm >= 39:
			return 0, nil
		case dbm < 5:
			return 19, nil
		default:
			return uint8(2 + (39-dbm)/2), nil
		}

	case band == Band1800:
		switch {
		case dbm >= 36:
			return 29, nil
		case dbm >= 34:
			return 30, nil
		case dbm >= 32:
			return 31, nil
		case dbm == 31:
			return 0, nil
		default:
			return uint8((30 - dbm) / 2), nil
		}

	case band == Band1900:
		switch {
		case dbm >= 33:
			return 30, nil
		case dbm >= 32:
			return 31, nil
		case dbm == 31:
			return 0, nil
		default:
			return uint8((30 - dbm) / 2), nil
		}
	}

	return 0, fmt.Errorf("%w: %s", ErrUnknownBand, band)
}

// PowerLevelToDBm returns the nominal output power of an MS power control level
func PowerLevelToDBm(band Band, lvl uint8) (int, error) {
	lvl &= 0x1f

	switch {
	case isLowBand(band):
		switch {
		case lvl < 2:
			return 39, nil
		case lvl < 20:
			return 39 - int(lvl-2)*2, nil
		default:
			return 5, nil
		}

	case band == Band1800:
		switch {
		case lvl < 16:
			return 30 - int(lvl)*2, nil
		case lvl < 29:
			return 0, nil
		default:
			return 36 - int(lvl-29)*2, nil
		}

	case band == Band1900:
		switch {
		case lvl < 16:
			return 30 - int(lvl)*2, nil
		case lvl < 30:
			return 0, fmt.Errorf("power level %d reserved on %s", lvl, band)
		default:
			return 33 - int(lvl-30), nil
		}
	}

	return 0, fmt.Errorf("%w: %s", ErrUnknownBand, band)
}

// RxLevToDBm converts a RXLEV value to dBm, clamping values above RxLevMax
func RxLevToDBm(rxlev uint8) int {
	if rxlev > RxLevMax {
		rxlev = RxLevMax
	}
	return rxLevFloor + int(rxlev)
}

// DBmToRxLev converts a received power in dBm to RXLEV, clamped to 0..63
func DBmToRxLev(dbm int) uint8 {
	rxlev := dbm - rxLevFloor
	switch {
	case rxlev > RxLevMax:
		rxlev = RxLevMax
	case rxlev < RxLevMin:
		rxlev = RxLevMin
	}
	return uint8(rxlev)
}
