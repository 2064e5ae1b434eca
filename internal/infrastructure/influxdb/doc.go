// Package influxdb records gridd activity in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Writes are
// non-blocking and batched; failures are reported through SetOnError.
//
// Two measurements are written:
//
//	device_event  tags: event, serial, model   fields: port, devnode
//	registry      fields: devices, enabled
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceEvent("add", "m1000001", "monome 128", "/dev/ttyUSB0", 14000)
package influxdb
