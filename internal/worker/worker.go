package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/nerrad567/gridd/internal/devicestate"
	"github.com/nerrad567/gridd/internal/eventloop"
	"github.com/nerrad567/gridd/internal/grid"
	"github.com/nerrad567/gridd/internal/ipc"
	"github.com/nerrad567/gridd/internal/osc"
)

const (
	// defaultIdentifyTimeout bounds the wait for the id and size replies.
	defaultIdentifyTimeout = 5 * time.Second

	// persistTimeout bounds one settings write.
	persistTimeout = 2 * time.Second
)

// Logger defines the logging interface for the worker.
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

// SettingsStore loads and saves per-device settings.
// *devicestate.SQLiteRepository satisfies it.
type SettingsStore interface {
	GetSettings(ctx context.Context, serial string) (*devicestate.Settings, error)
	SaveSettings(ctx context.Context, s *devicestate.Settings) error
}

// Defaults are the settings used for a device with nothing stored.
type Defaults struct {
	ServerPort int
	AppHost    string
	AppPort    int
	Prefix     string
	Rotation   int // degrees
}

// Options holds configuration for creating a worker.
type Options struct {
	// Devnode is the device path, used for logging and serial lookup.
	Devnode string

	// Port is the open grid serial line. The worker closes it on exit.
	Port io.ReadWriteCloser

	// ListenHost is the address the OSC server binds to. Empty means all
	// interfaces.
	ListenHost string

	// Defaults apply to devices without stored settings.
	Defaults Defaults

	// Parent receives lifecycle IPC frames. Nil when run standalone.
	Parent io.Writer

	// ParentIn carries ShouldExit from the supervisor. Nil when run
	// standalone.
	ParentIn io.Reader

	// Store persists settings. Optional.
	Store SettingsStore

	// IdentifyTimeout overrides the default identify wait.
	IdentifyTimeout time.Duration

	// Logger is optional structured logger.
	Logger Logger
}

// Worker serves one grid.
type Worker struct {
	opts   Options
	logger Logger

	loop   *eventloop.Loop
	dev    *grid.Device
	server *osc.Server

	state    State
	serial   string
	settings devicestate.Settings
	app      *net.UDPAddr

	// exitErr is what Run returns once the loop stops.
	exitErr error
}

// New creates a worker. Call Run to serve the device.
func New(opts Options) (*Worker, error) {
	if opts.Port == nil {
		return nil, fmt.Errorf("device port is required")
	}
	if opts.Devnode == "" {
		return nil, fmt.Errorf("devnode is required")
	}
	if opts.IdentifyTimeout <= 0 {
		opts.IdentifyTimeout = defaultIdentifyTimeout
	}

	w := &Worker{
		opts:   opts,
		logger: opts.Logger,
		loop:   eventloop.New(),
		dev:    grid.NewDevice(opts.Port),
	}
	if w.logger == nil {
		w.logger = noopLogger{}
	}
	w.loop.SetLogger(w.logger)
	return w, nil
}

// State returns the lifecycle state. It must only be read from the
// worker's own handlers or after Run has returned.
func (w *Worker) State() State {
	return w.state
}

// Run identifies the grid and serves it until the device goes away, the
// supervisor sends ShouldExit, or ctx is cancelled. A device that is
// simply unplugged is not an error.
func (w *Worker) Run(ctx context.Context) error {
	defer w.opts.Port.Close() //nolint:errcheck // Nothing to do on close failure

	if _, err := w.loop.Add(eventloop.Stream(w.opts.Port), w.onDevice); err != nil {
		return fmt.Errorf("watching device: %w", err)
	}

	if w.opts.ParentIn != nil {
		decoder := ipc.NewDecoder()
		if _, err := w.loop.Add(eventloop.Stream(w.opts.ParentIn), func(ev eventloop.Event) {
			w.onParent(decoder, ev)
		}); err != nil {
			return fmt.Errorf("watching parent pipe: %w", err)
		}
	}

	if err := w.dev.RequestInfo(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceIO, err)
	}

	timer := time.AfterFunc(w.opts.IdentifyTimeout, func() {
		w.loop.Post(func() {
			if w.state == StateStarting {
				w.fail(ErrIdentifyTimeout)
			}
		})
	})
	defer timer.Stop()

	err := w.loop.Run(ctx)
	w.shutdown()

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if w.exitErr != nil {
		return w.exitErr
	}
	return err
}

// Stop asks Run to return. Safe from any goroutine.
func (w *Worker) Stop() {
	w.loop.Stop()
}

func (w *Worker) fail(err error) {
	if w.exitErr == nil {
		w.exitErr = err
	}
	w.loop.Stop()
}

func (w *Worker) onDevice(ev eventloop.Event) {
	if len(ev.Data) > 0 {
		for _, key := range w.dev.Feed(ev.Data) {
			w.sendKey(key)
		}
		if w.state == StateStarting && w.dev.Identified() {
			w.start()
		}
	}

	if ev.Closed {
		if ev.Err != nil {
			w.logger.Warn("device read failed", "devnode", w.opts.Devnode, "error", ev.Err)
			w.fail(fmt.Errorf("%w: %w", ErrDeviceIO, ev.Err))
			return
		}
		w.logger.Info("device disconnected", "devnode", w.opts.Devnode, "serial", w.serial)
		w.loop.Stop()
	}
}

func (w *Worker) onParent(decoder *ipc.Decoder, ev eventloop.Event) {
	if len(ev.Data) > 0 {
		msgs, err := decoder.Feed(ev.Data)
		if err != nil {
			w.logger.Warn("malformed frame from supervisor", "error", err)
		}
		for _, msg := range msgs {
			if _, ok := msg.(ipc.ShouldExit); ok {
				w.logger.Info("supervisor requested exit", "serial", w.serial)
				w.loop.Stop()
				return
			}
			w.logger.Warn("ignoring unexpected message from supervisor", "type", msg.Type())
		}
	}

	if ev.Closed {
		w.logger.Info("supervisor pipe closed, exiting", "serial", w.serial)
		w.loop.Stop()
	}
}

// start runs once the grid has identified itself.
func (w *Worker) start() {
	w.serial = grid.Serial(w.opts.Devnode, w.dev.ID())
	w.settings = w.loadSettings()

	if r, err := grid.RotationFromDegrees(w.settings.Rotation); err == nil {
		w.dev.SetRotation(r)
	}

	app, err := osc.ResolveAddr(w.settings.AppHost, w.settings.AppPort)
	if err != nil {
		w.logger.Warn("application address unresolvable", "host", w.settings.AppHost, "port", w.settings.AppPort, "error", err)
	}
	w.app = app

	server, err := w.listen()
	if err != nil {
		w.fail(err)
		return
	}
	w.server = server
	w.server.SetLogger(w.logger)
	w.registerSysMethods()
	w.registerGridMethods(w.settings.Prefix)

	if _, err := w.loop.Add(eventloop.Packet(server.Conn()), w.onPacket); err != nil {
		w.fail(fmt.Errorf("watching osc socket: %w", err))
		return
	}

	if err := w.dev.All(false); err != nil {
		w.fail(fmt.Errorf("%w: %w", ErrDeviceIO, err))
		return
	}

	w.report(ipc.DeviceInfo{Serial: w.serial, FriendlyName: w.dev.FriendlyName()})
	w.state = StateInfoSent
	w.report(ipc.PortChange{Port: uint16(server.Port())})
	w.report(ipc.Ready{})
	w.state = StateReady

	w.logger.Info("connected, server running",
		"serial", w.serial,
		"name", w.dev.FriendlyName(),
		"devnode", w.opts.Devnode,
		"port", server.Port())
}

// listen binds the stored server port, falling back to an ephemeral one
// when it is taken.
func (w *Worker) listen() (*osc.Server, error) {
	port := w.settings.ServerPort
	server, err := osc.Listen(net.JoinHostPort(w.opts.ListenHost, strconv.Itoa(port)))
	if err == nil || port == 0 {
		return server, err
	}
	w.logger.Warn("stored server port unavailable, using ephemeral port", "port", port, "error", err)
	return osc.Listen(net.JoinHostPort(w.opts.ListenHost, "0"))
}

func (w *Worker) onPacket(ev eventloop.Event) {
	if len(ev.Data) > 0 {
		w.server.HandlePacket(ev.Data, ev.Addr)
	}
	if ev.Closed && ev.Err != nil {
		w.fail(fmt.Errorf("osc socket: %w", ev.Err))
	}
}

// report writes one lifecycle frame to the supervisor, if there is one.
func (w *Worker) report(msg ipc.Message) {
	if w.opts.Parent == nil {
		return
	}
	if err := ipc.WriteMessage(w.opts.Parent, msg); err != nil {
		w.logger.Warn("failed to report to supervisor", "type", msg.Type(), "error", err)
	}
}

func (w *Worker) sendKey(key grid.KeyEvent) {
	if w.server == nil || w.app == nil {
		return
	}
	s := 0
	if key.Down {
		s = 1
	}
	msg := osc.NewMessage(w.settings.Prefix+"/grid/key", key.X, key.Y, s)
	if err := w.server.Send(w.app, msg); err != nil {
		w.logger.Debug("key not delivered", "error", err)
	}
}

func (w *Worker) shutdown() {
	if w.server != nil {
		w.settings.ServerPort = w.server.Port()
		w.saveSettings()
		w.server.Close() //nolint:errcheck // Shutting down
	}
	if n := w.dev.Skipped(); n > 0 {
		w.logger.Warn("device sent unrecognised bytes", "serial", w.serial, "bytes", n)
	}
	w.state = StateExited
	w.logger.Info("worker exiting", "serial", w.serial, "devnode", w.opts.Devnode)
}

// loadSettings merges stored settings over the defaults.
func (w *Worker) loadSettings() devicestate.Settings {
	d := w.opts.Defaults
	s := devicestate.Settings{
		Serial:     w.serial,
		ServerPort: d.ServerPort,
		Prefix:     devicestate.NormalizePrefix(d.Prefix),
		AppHost:    d.AppHost,
		AppPort:    d.AppPort,
		Rotation:   d.Rotation,
	}

	if w.opts.Store == nil {
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	stored, err := w.opts.Store.GetSettings(ctx, w.serial)
	switch {
	case errors.Is(err, devicestate.ErrNotFound):
		w.logger.Debug("no stored settings, using defaults", "serial", w.serial)
		return s
	case err != nil:
		w.logger.Warn("couldn't read settings, using defaults", "serial", w.serial, "error", err)
		return s
	}
	return *stored
}

func (w *Worker) saveSettings() {
	if w.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	s := w.settings
	if err := w.opts.Store.SaveSettings(ctx, &s); err != nil {
		w.logger.Warn("couldn't write settings", "serial", w.serial, "error", err)
	}
}
