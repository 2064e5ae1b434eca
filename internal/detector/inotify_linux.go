//go:build linux

package detector

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// pollTimeoutMs keeps the read loop responsive to cancellation.
const pollTimeoutMs = 100

const watchMask = unix.IN_CREATE | unix.IN_MOVED_TO | unix.IN_DELETE | unix.IN_MOVED_FROM

// inotifyEvent is one decoded inotify record.
type inotifyEvent struct {
	Mask uint32
	Name string
}

// watch installs the inotify watch before the initial scan so a node
// created in between is not missed; a duplicate is filtered by present.
func (d *Detector) watch(ctx context.Context, emit EmitFunc) error {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return fmt.Errorf("inotify_init1: %w", err)
	}
	defer unix.Close(fd) //nolint:errcheck // Nothing to do on close failure

	if _, err := unix.InotifyAddWatch(fd, d.cfg.DevDir, watchMask); err != nil {
		return fmt.Errorf("inotify_add_watch on %s: %w", d.cfg.DevDir, err)
	}

	if err := d.scan(emit); err != nil {
		return err
	}

	buffer := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return nil
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}
		if count == 0 {
			continue
		}

		n, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reading inotify: %w", err)
		}

		for _, ev := range parseEvents(buffer[:n]) {
			if ev.Mask&unix.IN_Q_OVERFLOW != 0 {
				d.logger.Warn("inotify queue overflowed, rescanning")
				d.prune()
				if err := d.scan(emit); err != nil {
					return err
				}
				continue
			}
			if ev.Name == "" {
				continue
			}
			if ev.Mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0 {
				d.removed(ev.Name)
				continue
			}
			if err := d.added(ev.Name, emit); err != nil {
				return err
			}
		}
	}
}

// parseEvents decodes a buffer of raw inotify records.
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, NUL padded
//	};
func parseEvents(buffer []byte) []inotifyEvent {
	var events []inotifyEvent
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		mask := binary.NativeEndian.Uint32(buffer[offset+4 : offset+8])
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		size := unix.SizeofInotifyEvent + nameLength
		if offset+size > len(buffer) {
			break
		}

		ev := inotifyEvent{Mask: mask}
		if nameLength > 0 {
			ev.Name = nullTerminated(buffer[offset+unix.SizeofInotifyEvent : offset+size])
		}
		events = append(events, ev)
		offset += size
	}
	return events
}

func nullTerminated(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}
