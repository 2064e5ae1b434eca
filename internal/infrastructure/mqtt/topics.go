package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "gridd"

// Topics builds gridd MQTT topics under a common prefix.
//
//	topics := mqtt.NewTopics("gridd")
//	topics.DeviceState("m1000001")
//	// Returns: "gridd/device/m1000001"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix. Leading and trailing
// slashes are dropped.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of every topic.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// SystemStatus is the retained online/offline topic, also used for the LWT.
//
// Example: gridd/system/status
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}

// RunState is the retained enabled/disabled topic.
//
// Example: gridd/system/run_state
func (t Topics) RunState() string {
	return t.Prefix() + "/system/run_state"
}

// DeviceState is the retained per-device topic.
//
// Example: gridd/device/m1000001
func (t Topics) DeviceState(serial string) string {
	return t.Prefix() + "/device/" + serial
}

// DeviceEvent carries add and remove events as they happen.
//
// Example: gridd/event/device
func (t Topics) DeviceEvent() string {
	return t.Prefix() + "/event/device"
}

// Command is the topic for one remote command.
//
// Example: gridd/command/enable
func (t Topics) Command(name string) string {
	return t.Prefix() + "/command/" + name
}

// AllCommands matches every command topic.
func (t Topics) AllCommands() string {
	return t.Prefix() + "/command/+"
}

// CommandName extracts the command from a topic matched by AllCommands. It
// returns "" for any other topic.
func (t Topics) CommandName(topic string) string {
	name, ok := strings.CutPrefix(topic, t.Prefix()+"/command/")
	if !ok || strings.Contains(name, "/") {
		return ""
	}
	return name
}
