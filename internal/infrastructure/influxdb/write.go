package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// measurementRSSI is the measurement name for signal-strength samples.
const measurementRSSI = "ble_rssi"

// WriteRSSI queues one signal-strength sample.
//
// Non-blocking: the point goes into the WriteAPI buffer and is flushed
// in the background. Implements ingest.HistoryWriter.
func (c *Client) WriteRSSI(mac, proxy string, kind string, rssi int, at time.Time) {
	point := influxdb2.NewPoint(
		measurementRSSI,
		map[string]string{
			"mac":   mac,
			"proxy": proxy,
			"kind":  kind,
		},
		map[string]interface{}{
			"rssi": rssi,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}
