package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by gridd.
const (
	MeasurementDeviceEvent = "device_event"
	MeasurementRegistry    = "registry"
)

// WriteDeviceEvent records a device becoming ready ("add") or leaving
// ("remove").
//
// Example:
//
//	client.WriteDeviceEvent("add", "m1000001", "monome 128", "/dev/ttyUSB0", 14000)
func (c *Client) WriteDeviceEvent(event, serial, friendlyName, devnode string, port int) {
	c.WritePoint(MeasurementDeviceEvent,
		map[string]string{
			"event":  event,
			"serial": serial,
			"model":  friendlyName,
		},
		map[string]interface{}{
			"port":    port,
			"devnode": devnode,
		},
	)
}

// WriteRegistry records how many devices are ready and whether detection
// is enabled.
func (c *Client) WriteRegistry(devices int, enabled bool) {
	c.WritePoint(MeasurementRegistry,
		nil,
		map[string]interface{}{
			"devices": devices,
			"enabled": enabled,
		},
	)
}

// WritePoint writes a custom point timestamped now. It is non-blocking;
// points are batched and sent asynchronously.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
