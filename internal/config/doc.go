// Package config loads the YAML configuration of the L1CTL daemon and
// validates each section: transport link, HTTP status API, simulated
// layer 1, message buffers and logging.
package config
