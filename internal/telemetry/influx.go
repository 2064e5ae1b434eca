package telemetry

import (
	"github.com/nerrad567/gridd/internal/supervisor"
)

// PointWriter records device activity. *influxdb.Client satisfies it.
// Its methods must not block.
type PointWriter interface {
	WriteDeviceEvent(event, serial, friendlyName, devnode string, port int)
	WriteRegistry(devices int, enabled bool)
}

// InfluxSink writes a device_event point per add or remove and a registry
// point whenever the ready count or run state changes. The InfluxDB write
// API batches asynchronously, so no queue is needed here.
type InfluxSink struct {
	w       PointWriter
	devices int
	enabled bool
}

// NewInfluxSink returns a sink writing to w.
func NewInfluxSink(w PointWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// DeviceAdded records an add.
func (s *InfluxSink) DeviceAdded(d supervisor.Device) {
	s.devices++
	s.w.WriteDeviceEvent("add", d.Serial, d.FriendlyName, d.Devnode, d.Port)
	s.w.WriteRegistry(s.devices, s.enabled)
}

// DeviceRemoved records a remove.
func (s *InfluxSink) DeviceRemoved(d supervisor.Device) {
	if s.devices > 0 {
		s.devices--
	}
	s.w.WriteDeviceEvent("remove", d.Serial, d.FriendlyName, d.Devnode, d.Port)
	s.w.WriteRegistry(s.devices, s.enabled)
}

// RunStateChanged records the new run state.
func (s *InfluxSink) RunStateChanged(state supervisor.RunState) {
	s.enabled = state == supervisor.Enabled
	s.w.WriteRegistry(s.devices, s.enabled)
}
