// Package server implements the HTTP monitoring API of the bridge: health,
// the live layer 1 control state, component statistics, the effective
// configuration, channel number and frame number decoding, and Prometheus
// metrics.
package server
