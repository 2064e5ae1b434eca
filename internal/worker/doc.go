// Package worker runs the per-device control server.
//
// A Worker owns one open grid. It waits for the grid to report its id and
// size, starts an OSC server for it, and then forwards key presses to the
// configured application and LED messages to the grid until the device is
// unplugged or the supervisor asks it to exit.
//
// When launched by the supervisor, the worker reports its lifecycle over
// its standard output as IPC frames (DeviceInfo, PortChange, Ready in that
// order) and reads ShouldExit from its standard input. Run standalone,
// it simply serves the grid.
//
// Every handler runs on the worker's event loop goroutine, so Worker state
// needs no locking.
package worker
