package supervisor

import "context"

// Status is a snapshot of the supervisor.
type Status struct {
	State       string   `json:"state"`
	Pending     bool     `json:"pending"`
	Devices     []Device `json:"devices"`
	Live        int      `json:"live_processes"`
	Records     int      `json:"records"`
	Subscribers int      `json:"subscribers"`
	ControlPort int      `json:"control_port"`
}

// call runs fn on the loop goroutine and waits for it.
func (s *Supervisor) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.loop.Post(func() {
		fn()
		close(done)
	}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.loop.Done():
		// The posted fn may have run just before the loop finished.
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Devices returns the ready devices in the order they were spawned.
func (s *Supervisor) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	err := s.call(ctx, func() {
		out = s.registry.ready()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Device{}
	}
	return out, nil
}

// Status returns the current run state and registry summary.
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.call(ctx, func() {
		devices := s.registry.ready()
		if devices == nil {
			devices = []Device{}
		}
		st = Status{
			State:       s.state.String(),
			Pending:     s.pending,
			Devices:     devices,
			Live:        s.live,
			Records:     s.registry.len(),
			Subscribers: s.subs.len(),
			ControlPort: s.control.Port(),
		}
	})
	return st, err
}

// Enable starts detection. It returns ErrNotApplicable if detection is
// already enabled or a disable is still draining.
func (s *Supervisor) Enable(ctx context.Context) error {
	var result error
	if err := s.call(ctx, func() { result = s.enable() }); err != nil {
		return err
	}
	return result
}

// Disable stops detection and every worker. It returns once the request
// is accepted; Status reports Pending until every subprocess has exited.
func (s *Supervisor) Disable(ctx context.Context) error {
	var result error
	if err := s.call(ctx, func() { result = s.disable() }); err != nil {
		return err
	}
	return result
}
