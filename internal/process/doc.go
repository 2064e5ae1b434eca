// Package process starts and stops the helper processes gridd depends on:
// the detector and one device worker per attached grid.
//
// Features:
//   - Child stdin and stdout are plain OS pipes handed to the caller for IPC
//   - Child stderr is captured line by line into the parent's logger
//   - Each child runs in its own process group so signals reach helpers it spawns
//   - Graceful stop: SIGTERM, then SIGKILL after a timeout
//   - Exit notification through a Done channel
//
// Example usage:
//
//	p, err := process.Start(ctx, process.Config{
//	    Name:   "device:/dev/ttyUSB0",
//	    Binary: "/usr/libexec/gridd-device",
//	    Args:   []string{"/dev/ttyUSB0"},
//	})
//	if err != nil {
//	    return err
//	}
//	go consume(p.Output())
//	<-p.Done()
package process
