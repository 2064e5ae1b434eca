package ipc

import "fmt"

// Type identifies the kind of message carried in a frame.
type Type uint8

const (
	TypeConnection    Type = 0
	TypeDeviceInfo    Type = 1
	TypePortChange    Type = 2
	TypeReady         Type = 3
	TypeDisconnection Type = 4
	TypeShouldExit    Type = 5
)

// String returns the lower-case name of the message type.
func (t Type) String() string {
	switch t {
	case TypeConnection:
		return "connection"
	case TypeDeviceInfo:
		return "device_info"
	case TypePortChange:
		return "port_change"
	case TypeReady:
		return "ready"
	case TypeDisconnection:
		return "disconnection"
	case TypeShouldExit:
		return "should_exit"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Message is one decoded IPC message. The set of implementations is closed.
type Message interface {
	Type() Type
	isMessage()
}

// Connection reports that the detector found a device node.
type Connection struct {
	Devnode string
}

// DeviceInfo carries the identity of a worker's device.
type DeviceInfo struct {
	Serial       string
	FriendlyName string
}

// PortChange carries the UDP port of a worker's control server.
type PortChange struct {
	Port uint16
}

// Ready tells the supervisor the worker is serving and discoverable.
type Ready struct{}

// Disconnection tells the supervisor the worker's device went away.
type Disconnection struct{}

// ShouldExit asks a worker to shut down cleanly.
type ShouldExit struct{}

func (Connection) Type() Type    { return TypeConnection }
func (DeviceInfo) Type() Type    { return TypeDeviceInfo }
func (PortChange) Type() Type    { return TypePortChange }
func (Ready) Type() Type         { return TypeReady }
func (Disconnection) Type() Type { return TypeDisconnection }
func (ShouldExit) Type() Type    { return TypeShouldExit }

func (Connection) isMessage()    {}
func (DeviceInfo) isMessage()    {}
func (PortChange) isMessage()    {}
func (Ready) isMessage()         {}
func (Disconnection) isMessage() {}
func (ShouldExit) isMessage()    {}
