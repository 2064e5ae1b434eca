// Package supervisor owns the device registry and the discovery surface.
//
// The supervisor launches a detector process, launches one worker process
// per device the detector reports, tracks each worker's lifecycle from the
// IPC frames it sends, and answers list/notify/status/version requests on
// an OSC control port. It can be disabled, which stops the detector and
// every worker, and enabled again.
//
// All registry and subscriber state is owned by one event loop goroutine.
// Other goroutines (the HTTP API, exit watchers) reach it through
// eventloop.Post, so no locks guard it.
//
// Lifecycle of a device record:
//
//	Spawned --DeviceInfo--> InfoKnown --Ready--> Ready --pipe closed--> removed
//	   |                        |                  |
//	   +------------------------+--pipe closed-----+--> removed silently unless Ready
//
// PortChange may arrive at any point and only fills in the port. Ready is
// the sole gate for discoverability.
package supervisor
