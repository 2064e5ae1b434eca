//go:build !linux

package detector

import (
	"context"
	"time"
)

const rescanInterval = time.Second

// watch rescans the device directory on platforms without inotify.
func (d *Detector) watch(ctx context.Context, emit EmitFunc) error {
	if err := d.scan(emit); err != nil {
		return err
	}

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.prune()
			if err := d.scan(emit); err != nil {
				return err
			}
		}
	}
}
