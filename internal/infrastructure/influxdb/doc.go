// Package influxdb provides the optional RSSI history sink.
//
// When enabled in config, every accepted observation is written as a
// time-series point (tags: mac, proxy, kind; field: rssi) so the
// dashboard can render signal-strength graphs. Writes are buffered and
// batched; the scanner runs identically with the sink disabled.
package influxdb
