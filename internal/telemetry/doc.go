// Package telemetry mirrors supervisor events onto MQTT and InfluxDB, and
// accepts enable/disable commands over MQTT.
//
// Sinks implement supervisor.EventSink and are called on the supervisor's
// loop goroutine, so they must not block. MQTTSink publishes from its own
// goroutine fed by a bounded queue and drops events when it is full.
package telemetry
