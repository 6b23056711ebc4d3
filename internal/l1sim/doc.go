// Package l1sim is a software stand-in for the baseband layer 1: a TDMA
// frame ticker acting as the multiframe scheduler, plus the cipher and
// speech path engines. It implements the collaborator interfaces driven
// by the L1CTL dispatcher so the daemon can run without radio hardware.
package l1sim
