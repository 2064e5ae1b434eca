// Package devicestate persists per-device settings and attach history in
// SQLite.
//
// A device worker loads its settings (OSC prefix, application address,
// rotation, preferred server port) once it learns the serial of the grid
// it drives, and saves them whenever a /sys setter changes one of them.
// The supervisor records an attach each time a device becomes ready.
package devicestate
