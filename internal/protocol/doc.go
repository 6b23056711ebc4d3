// Package protocol implements the L1CTL wire format exchanged between layer 1
// and layers 2/3: the fixed header, the uplink and downlink envelopes, request
// parsing with explicit length checks, and encoding of confirmations.
// All multi-byte fields are big-endian.
package protocol
