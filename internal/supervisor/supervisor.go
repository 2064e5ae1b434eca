package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/gridd/internal/eventloop"
	"github.com/nerrad567/gridd/internal/ipc"
	"github.com/nerrad567/gridd/internal/osc"
)

// Defaults applied by New when an option is zero.
const (
	defaultCapacity           = 32
	defaultSubscriberCapacity = 32
	defaultDrainInterval      = 100 * time.Millisecond
	defaultShutdownTimeout    = 5 * time.Second
)

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RunState is whether detection and workers are running.
type RunState int

// Run states.
const (
	Disabled RunState = iota
	Enabled
)

func (s RunState) String() string {
	if s == Enabled {
		return "enabled"
	}
	return "disabled"
}

// Options holds configuration for creating a supervisor.
type Options struct {
	// ControlAddr is the UDP address of the OSC control surface.
	ControlAddr string

	// Spawner launches the detector and workers. Required.
	Spawner Spawner

	// Capacity bounds the number of live device records.
	Capacity int

	// SubscriberCapacity bounds the one-shot notify set.
	SubscriberCapacity int

	// DrainInterval is how often a pending disable checks for exited
	// subprocesses.
	DrainInterval time.Duration

	// ShutdownTimeout is how long Run waits for children to exit before
	// killing them.
	ShutdownTimeout time.Duration

	// StartEnabled launches the detector as soon as Run starts.
	StartEnabled bool

	// Version and Commit are reported by the version request.
	Version string
	Commit  string

	// Sinks observe lifecycle changes. Optional.
	Sinks []EventSink

	// Logger is optional structured logger.
	Logger Logger
}

// sender delivers replies and notifications. *osc.Server satisfies it.
type sender interface {
	Send(addr net.Addr, msg *osc.Message) error
}

// Supervisor tracks devices and their workers.
type Supervisor struct {
	opts   Options
	logger Logger

	loop    *eventloop.Loop
	control *osc.Server
	out     sender

	registry *registry
	subs     *subscribers

	state   RunState
	pending bool

	detector Child

	// live counts subprocesses not yet observed to exit, detector included.
	live  int
	procs map[Child]struct{}

	stopDrain func()

	// childCtx outlives Run's context so children can be asked to exit
	// before they are killed.
	childCtx    context.Context
	childCancel context.CancelFunc
}

// New validates opts and binds the control port. A control port that
// cannot be bound is an error.
func New(opts Options) (*Supervisor, error) {
	if opts.Spawner == nil {
		return nil, fmt.Errorf("spawner is required")
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.SubscriberCapacity <= 0 {
		opts.SubscriberCapacity = defaultSubscriberCapacity
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = defaultDrainInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	control, err := osc.Listen(opts.ControlAddr)
	if err != nil {
		return nil, fmt.Errorf("binding control port: %w", err)
	}

	s := &Supervisor{
		opts:     opts,
		logger:   opts.Logger,
		loop:     eventloop.New(),
		control:  control,
		out:      control,
		registry: newRegistry(opts.Capacity),
		subs:     newSubscribers(opts.SubscriberCapacity),
		procs:    make(map[Child]struct{}),
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	s.loop.SetLogger(s.logger)
	control.SetLogger(s.logger)
	s.childCtx, s.childCancel = context.WithCancel(context.Background())
	s.registerControlMethods()

	return s, nil
}

// ControlPort returns the bound control port.
func (s *Supervisor) ControlPort() int {
	return s.control.Port()
}

// Run serves until ctx is cancelled or Stop is called, then asks every
// child to exit and waits up to the shutdown timeout before killing the
// rest. It returns nil on a clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.childCancel()
	defer s.control.Close() //nolint:errcheck // Shutting down

	if _, err := s.loop.Add(eventloop.Packet(s.control.Conn()), s.onControl); err != nil {
		return fmt.Errorf("watching control port: %w", err)
	}

	if s.opts.StartEnabled {
		s.loop.Post(func() {
			if err := s.enable(); err != nil {
				s.logger.Error("failed to enable at startup", "error", err)
			}
		})
	}

	s.logger.Info("supervisor running", "control_port", s.control.Port(), "capacity", s.opts.Capacity)

	err := s.loop.Run(ctx)
	s.shutdown()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop asks Run to return. Safe from any goroutine.
func (s *Supervisor) Stop() {
	s.loop.Stop()
}

func (s *Supervisor) onControl(ev eventloop.Event) {
	if len(ev.Data) > 0 {
		s.control.HandlePacket(ev.Data, ev.Addr)
	}
	if ev.Closed && ev.Err != nil {
		s.logger.Error("control socket failed", "error", ev.Err)
		s.loop.Stop()
	}
}

// enable launches the detector. It completes immediately.
func (s *Supervisor) enable() error {
	if s.state == Enabled || s.pending {
		return ErrNotApplicable
	}

	child, err := s.opts.Spawner.SpawnDetector(s.childCtx)
	if err != nil {
		return err
	}
	s.detector = child
	s.track(child)

	decoder := ipc.NewDecoder()
	if _, err := s.loop.Add(eventloop.Stream(child.Output()), func(ev eventloop.Event) {
		s.onDetector(child, decoder, ev)
	}); err != nil {
		child.Kill()        //nolint:errcheck // Already failing
		child.CloseInput()  //nolint:errcheck // Already failing
		child.CloseOutput() //nolint:errcheck // Already failing
		return fmt.Errorf("watching detector: %w", err)
	}

	s.setState(Enabled)
	s.logger.Info("detection enabled", "detector_pid", child.PID())
	return nil
}

// disable asks the detector and every worker to exit. The transition
// completes from checkDrained once all of them have exited and every
// worker pipe has closed.
func (s *Supervisor) disable() error {
	if s.state == Disabled || s.pending {
		return ErrNotApplicable
	}
	s.pending = true

	for _, rec := range s.registry.all() {
		if err := ipc.WriteMessage(rec.child.Input(), ipc.ShouldExit{}); err != nil {
			s.logger.Warn("failed to send exit to worker", "devnode", rec.devnode, "error", err)
		}
	}
	if s.detector != nil {
		if err := s.detector.Terminate(); err != nil {
			s.logger.Warn("failed to terminate detector", "error", err)
		}
	}

	s.logger.Info("disabling, waiting for subprocesses", "live", s.live)
	s.stopDrain = s.loop.Every(s.opts.DrainInterval, s.checkDrained)
	return nil
}

func (s *Supervisor) checkDrained() {
	if !s.pending || s.live > 0 || s.registry.len() > 0 {
		return
	}
	if s.stopDrain != nil {
		s.stopDrain()
		s.stopDrain = nil
	}
	s.pending = false
	s.setState(Disabled)
	s.logger.Info("detection disabled")
}

func (s *Supervisor) setState(state RunState) {
	s.state = state
	for _, sink := range s.opts.Sinks {
		sink.RunStateChanged(state)
	}
}

// track counts child as live until its exit is observed on the loop.
func (s *Supervisor) track(child Child) {
	s.live++
	s.procs[child] = struct{}{}
	go func() {
		<-child.Done()
		s.loop.Post(func() {
			s.live--
			delete(s.procs, child)
			if child == s.detector {
				s.detectorExited(child)
			}
		})
	}()
}

func (s *Supervisor) detectorExited(child Child) {
	s.detector = nil
	if s.state == Enabled && !s.pending {
		s.logger.Error("detector exited while enabled, no new devices will be found",
			"pid", child.PID(), "error", child.Err())
		return
	}
	s.logger.Debug("detector exited", "pid", child.PID())
}

func (s *Supervisor) onDetector(child Child, decoder *ipc.Decoder, ev eventloop.Event) {
	if len(ev.Data) > 0 {
		msgs, err := decoder.Feed(ev.Data)
		for _, msg := range msgs {
			conn, ok := msg.(ipc.Connection)
			if !ok {
				s.logger.Warn("ignoring unexpected message from detector", "type", msg.Type())
				continue
			}
			s.connect(conn.Devnode)
		}
		if err != nil {
			s.logger.Warn("malformed frame from detector, dropping buffered bytes", "error", err)
		}
	}
	if ev.Closed {
		if n := decoder.Buffered(); n > 0 {
			s.logger.Warn("detector closed mid-frame", "pid", child.PID(), "bytes", n)
		}
		child.CloseInput() //nolint:errcheck // Detector is gone
		if err := child.CloseOutput(); err != nil {
			s.logger.Debug("closing detector pipe", "pid", child.PID(), "error", err)
		}
		s.logger.Debug("detector pipe closed", "pid", child.PID())
	}
}

// connect handles one Connection from the detector.
func (s *Supervisor) connect(devnode string) {
	if s.state != Enabled || s.pending {
		s.logger.Info("ignoring connection while disabled", "devnode", devnode)
		return
	}
	if err := s.registry.check(devnode); err != nil {
		s.logger.Warn("rejecting device", "devnode", devnode, "error", err)
		return
	}

	child, err := s.opts.Spawner.SpawnWorker(s.childCtx, devnode)
	if err != nil {
		s.logger.Error("failed to spawn worker", "devnode", devnode, "error", err)
		return
	}

	rec, err := s.registry.add(devnode, child)
	if err != nil {
		child.Kill()        //nolint:errcheck // Already failing
		child.CloseInput()  //nolint:errcheck // Already failing
		child.CloseOutput() //nolint:errcheck // Already failing
		s.logger.Error("registry rejected spawned worker", "devnode", devnode, "error", err)
		return
	}
	s.track(child)

	decoder := ipc.NewDecoder()
	id := rec.id
	src, err := s.loop.Add(eventloop.Stream(child.Output()), func(ev eventloop.Event) {
		s.onWorker(id, decoder, ev)
	})
	if err != nil {
		s.registry.remove(id)
		child.Kill()        //nolint:errcheck // Already failing
		child.CloseInput()  //nolint:errcheck // Already failing
		child.CloseOutput() //nolint:errcheck // Already failing
		s.logger.Error("failed to watch worker", "devnode", devnode, "error", err)
		return
	}
	rec.source = src

	s.logger.Info("worker spawned", "devnode", devnode, "pid", child.PID(), "devices", s.registry.len())
}

func (s *Supervisor) onWorker(id WorkerID, decoder *ipc.Decoder, ev eventloop.Event) {
	rec := s.registry.get(id)
	if rec == nil {
		return
	}

	if len(ev.Data) > 0 {
		msgs, err := decoder.Feed(ev.Data)
		for _, msg := range msgs {
			s.handleWorkerMessage(rec, msg)
		}
		if err != nil {
			s.logger.Warn("malformed frame from worker, dropping buffered bytes",
				"devnode", rec.devnode, "error", err)
		}
	}

	if ev.Closed {
		if rec.state == StateReady {
			s.fanOut("remove", rec.device())
		}
		if n := decoder.Buffered(); n > 0 {
			s.logger.Warn("worker closed mid-frame", "devnode", rec.devnode, "bytes", n)
		}
		s.registry.remove(id)
		rec.child.CloseInput()  //nolint:errcheck // Worker is gone
		rec.child.CloseOutput() //nolint:errcheck // Drained
		s.logger.Info("worker pipe closed",
			"devnode", rec.devnode,
			"serial", rec.serial,
			"devices", s.registry.len())
	}
}

func (s *Supervisor) handleWorkerMessage(rec *record, msg ipc.Message) {
	if rec.state == StateGone {
		s.logger.Debug("ignoring message from departed device", "devnode", rec.devnode, "type", msg.Type())
		return
	}

	switch m := msg.(type) {
	case ipc.DeviceInfo:
		rec.serial = m.Serial
		rec.friendlyName = m.FriendlyName
		rec.advance(StateInfoKnown)
		s.logger.Debug("device info", "devnode", rec.devnode, "serial", m.Serial, "name", m.FriendlyName)

	case ipc.PortChange:
		rec.port = int(m.Port)

	case ipc.Ready:
		if rec.state == StateReady {
			return
		}
		rec.advance(StateReady)
		s.logger.Info("device ready",
			"serial", rec.serial,
			"name", rec.friendlyName,
			"port", rec.port,
			"devnode", rec.devnode)
		s.fanOut("add", rec.device())

	case ipc.Disconnection:
		if rec.state == StateReady {
			s.fanOut("remove", rec.device())
		}
		rec.advance(StateGone)
		s.logger.Info("device disconnected", "devnode", rec.devnode, "serial", rec.serial)

	default:
		s.logger.Warn("ignoring unexpected message from worker", "devnode", rec.devnode, "type", msg.Type())
	}
}

// fanOut delivers event to every waiting subscriber, empties the set and
// informs the sinks.
func (s *Supervisor) fanOut(event string, d Device) {
	endpoints := s.subs.take()
	msg := osc.NewMessage("/serialosc/"+event, d.Serial, d.FriendlyName, d.Port)
	for _, ep := range endpoints {
		if err := s.sendTo(ep, msg); err != nil {
			s.logger.Debug("notification not delivered", "to", ep.String(), "error", err)
		}
	}
	s.logger.Debug("notified subscribers", "event", event, "serial", d.Serial, "subscribers", len(endpoints))

	for _, sink := range s.opts.Sinks {
		if event == "add" {
			sink.DeviceAdded(d)
		} else {
			sink.DeviceRemoved(d)
		}
	}
}

func (s *Supervisor) sendTo(ep Endpoint, msg *osc.Message) error {
	addr, err := osc.ResolveAddr(ep.Host, ep.Port)
	if err != nil {
		return err
	}
	return s.out.Send(addr, msg)
}

// shutdown runs after the loop has stopped. Exit notifications can no
// longer be posted, so it waits on the children directly.
func (s *Supervisor) shutdown() {
	if s.stopDrain != nil {
		s.stopDrain()
	}

	for _, rec := range s.registry.all() {
		if err := ipc.WriteMessage(rec.child.Input(), ipc.ShouldExit{}); err != nil {
			s.logger.Debug("failed to send exit to worker", "devnode", rec.devnode, "error", err)
		}
	}
	if s.detector != nil {
		s.detector.Terminate() //nolint:errcheck // Killed below if it lingers
	}

	if len(s.procs) == 0 {
		return
	}
	s.logger.Info("waiting for subprocesses", "count", len(s.procs))

	deadline := time.NewTimer(s.opts.ShutdownTimeout)
	defer deadline.Stop()
	for child := range s.procs {
		select {
		case <-child.Done():
		case <-deadline.C:
			s.killAll()
			return
		}
	}
}

// killAll stops every child still running after the shutdown timeout
// and waits for them.
func (s *Supervisor) killAll() {
	var wg sync.WaitGroup
	for child := range s.procs {
		select {
		case <-child.Done():
			continue
		default:
		}
		s.logger.Warn("stopping subprocess after shutdown timeout", "pid", child.PID())
		wg.Add(1)
		go func(c Child) {
			defer wg.Done()
			if err := c.Stop(); err != nil {
				s.logger.Error("failed to stop subprocess", "pid", c.PID(), "error", err)
			}
		}(child)
	}
	wg.Wait()
}
