package supervisor

import (
	"context"
	"time"
)

// EventSink observes registry and run-state changes. Methods are called on
// the supervisor's loop goroutine and must not block.
type EventSink interface {
	DeviceAdded(d Device)
	DeviceRemoved(d Device)
	RunStateChanged(state RunState)
}

// HistoryRecorder stores device attach history.
// *devicestate.SQLiteRepository satisfies it.
type HistoryRecorder interface {
	RecordAttach(ctx context.Context, serial, friendlyName, devnode string) error
}

// historyTimeout bounds one history write.
const historyTimeout = 2 * time.Second

// HistorySink records every device that becomes ready. Writes run on a
// single background goroutine fed by a bounded queue; when the queue is
// full the attach is dropped and logged.
type HistorySink struct {
	recorder HistoryRecorder
	logger   Logger
	queue    chan Device
	done     chan struct{}
}

// NewHistorySink starts the writer goroutine. Call Close to stop it.
func NewHistorySink(recorder HistoryRecorder, logger Logger) *HistorySink {
	if logger == nil {
		logger = noopLogger{}
	}
	h := &HistorySink{
		recorder: recorder,
		logger:   logger,
		queue:    make(chan Device, 64),
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *HistorySink) run() {
	defer close(h.done)
	for d := range h.queue {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := h.recorder.RecordAttach(ctx, d.Serial, d.FriendlyName, d.Devnode); err != nil {
			h.logger.Warn("failed to record device attach", "serial", d.Serial, "error", err)
		}
		cancel()
	}
}

// DeviceAdded queues an attach record.
func (h *HistorySink) DeviceAdded(d Device) {
	select {
	case h.queue <- d:
	default:
		h.logger.Warn("history queue full, dropping attach", "serial", d.Serial)
	}
}

// DeviceRemoved is a no-op.
func (h *HistorySink) DeviceRemoved(Device) {}

// RunStateChanged is a no-op.
func (h *HistorySink) RunStateChanged(RunState) {}

// Close drains the queue and stops the writer.
func (h *HistorySink) Close() {
	close(h.queue)
	<-h.done
}
