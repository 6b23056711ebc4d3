// Package sercomm multiplexes logical channels, identified by a DLCI, over
// one link to the layer 2/3 host. Two links are provided: datagrams over
// UDP, and length-prefixed frames over a serial port.
package sercomm
