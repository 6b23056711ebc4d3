// Package gsm provides the GSM timing and radio arithmetic used by the layer 1
// control bridge: frame number to GSM time conversion, ARFCN to band and
// frequency mapping, MS power control levels and RXLEV conversion.
package gsm
