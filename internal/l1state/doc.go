// Package l1state holds the layer 1 control state shared between the L1CTL
// dispatcher, its single writer, and the TDMA frame path that reads it
// asynchronously: dedicated channel configuration, enabled multiframe tasks,
// mode flags, transmit queues, the pending measurement report and the power
// measurement sweep.
package l1state
