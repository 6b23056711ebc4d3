// Package l1ctl implements the layer 1 side of the L1CTL control protocol.
//
// The Dispatcher takes one inbound message at a time, validates it and
// applies it to the control state and the layer 1 collaborators. Replies
// and reports are built by the Emitter and handed to the transport on the
// L1A/L23 DLCI.
//
// Buffer ownership is explicit: Dispatch frees every message it handles
// except data requests, which move into a transmit queue or the
// measurement report slot and are reported as Retained.
package l1ctl
