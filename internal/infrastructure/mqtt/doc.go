// Package mqtt provides MQTT client connectivity for gridd.
//
// gridd mirrors its device registry onto a broker so that home automation
// and dashboards can follow attached grids without speaking OSC:
//
//	gridd/system/status       retained online/offline, also the Last Will
//	gridd/system/run_state    retained enabled/disabled
//	gridd/device/<serial>     retained per-device state
//	gridd/event/device        add and remove events
//	gridd/command/<name>      enable and disable requests
//
// The prefix is configurable (mqtt.topic_prefix).
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(client.Topics().RunState(), []byte(`{"state":"enabled"}`))
package mqtt
