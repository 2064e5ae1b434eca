package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gridd/internal/devicestate"
	"github.com/nerrad567/gridd/internal/grid"
	"github.com/nerrad567/gridd/internal/ipc"
	"github.com/nerrad567/gridd/internal/osc"
)

const testTimeout = 2 * time.Second

// pipePort stands in for a serial line.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipePort) Close() error {
	p.r.Close()
	return p.w.Close()
}

// syncBuffer collects what the worker wrote to the grid.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Contains(sub []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Contains(b.buf.Bytes(), sub)
}

type fakeStore struct {
	mu     sync.Mutex
	stored map[string]devicestate.Settings
	saves  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{stored: make(map[string]devicestate.Settings)}
}

func (s *fakeStore) GetSettings(_ context.Context, serial string) (*devicestate.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stored[serial]
	if !ok {
		return nil, devicestate.ErrNotFound
	}
	return &st, nil
}

func (s *fakeStore) SaveSettings(_ context.Context, st *devicestate.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored[st.Serial] = *st
	s.saves++
	return nil
}

func (s *fakeStore) put(st devicestate.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored[st.Serial] = st
}

func (s *fakeStore) get(serial string) (devicestate.Settings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stored[serial]
	return st, ok
}

type harness struct {
	w      *Worker
	devOut *io.PipeWriter // bytes the grid sends
	wireR  *io.PipeReader // the grid's end of the worker's writes
	wire   *syncBuffer    // bytes the worker sent to the grid
	frames chan ipc.Message
	stdin  *io.PipeWriter
	app    net.PacketConn
	done   chan error
}

type harnessOptions struct {
	store           SettingsStore
	standalone      bool
	identifyTimeout time.Duration
}

func startWorker(t *testing.T, ho harnessOptions) *harness {
	t.Helper()

	app, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	t.Cleanup(func() { app.Close() })

	devR, devOut := io.Pipe()
	hostR, hostW := io.Pipe()
	wire := &syncBuffer{}
	go io.Copy(wire, hostR) //nolint:errcheck // Ends when the port closes

	h := &harness{
		devOut: devOut,
		wireR:  hostR,
		wire:   wire,
		frames: make(chan ipc.Message, 16),
		app:    app,
		done:   make(chan error, 1),
	}

	opts := Options{
		Devnode:    "/dev/ttyFAKE0",
		Port:       &pipePort{r: devR, w: hostW},
		ListenHost: "127.0.0.1",
		Defaults: Defaults{
			AppHost: "127.0.0.1",
			AppPort: app.LocalAddr().(*net.UDPAddr).Port,
			Prefix:  "/monome",
		},
		Store:           ho.store,
		IdentifyTimeout: ho.identifyTimeout,
	}

	if !ho.standalone {
		parentR, parentW := io.Pipe()
		stdinR, stdinW := io.Pipe()
		opts.Parent = parentW
		opts.ParentIn = stdinR
		h.stdin = stdinW
		t.Cleanup(func() {
			parentW.Close()
			stdinW.Close()
		})

		go func() {
			defer close(h.frames)
			dec := ipc.NewDecoder()
			buf := make([]byte, 1024)
			for {
				n, err := parentR.Read(buf)
				if n > 0 {
					msgs, _ := dec.Feed(buf[:n])
					for _, m := range msgs {
						h.frames <- m
					}
				}
				if err != nil {
					return
				}
			}
		}()
	}

	w, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.w = w

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.done <- w.Run(ctx) }()

	return h
}

// identify answers the id and size queries as a 16x8 grid.
func (h *harness) identify(t *testing.T) {
	t.Helper()
	reply := make([]byte, 33)
	reply[0] = 0x01
	copy(reply[1:], "m1000001")
	reply = append(reply, 0x03, 16, 8)
	if _, err := h.devOut.Write(reply); err != nil {
		t.Fatalf("writing id reply: %v", err)
	}
}

// frame waits for the next lifecycle frame.
func (h *harness) frame(t *testing.T) ipc.Message {
	t.Helper()
	select {
	case m, ok := <-h.frames:
		if !ok {
			t.Fatal("parent pipe closed")
		}
		return m
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for lifecycle frame")
	}
	return nil
}

// ready identifies the grid and consumes the three startup frames,
// returning the server port.
func (h *harness) ready(t *testing.T) int {
	t.Helper()
	h.identify(t)

	info, ok := h.frame(t).(ipc.DeviceInfo)
	if !ok {
		t.Fatal("first frame is not DeviceInfo")
	}
	if info.Serial != "m1000001" || info.FriendlyName != "monome 128" {
		t.Errorf("DeviceInfo = %+v", info)
	}
	pc, ok := h.frame(t).(ipc.PortChange)
	if !ok {
		t.Fatal("second frame is not PortChange")
	}
	if pc.Port == 0 {
		t.Error("PortChange.Port = 0")
	}
	if _, ok := h.frame(t).(ipc.Ready); !ok {
		t.Fatal("third frame is not Ready")
	}
	return int(pc.Port)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(testTimeout):
		t.Fatal("Run() did not return")
	}
	return nil
}

// recvApp reads the next OSC message sent to the application.
func recvApp(t *testing.T, conn net.PacketConn) *osc.Message {
	t.Helper()
	buf := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("application read error = %v", err)
	}
	msgs, err := osc.Parse(buf[:n])
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Parse() = %v, %v", msgs, err)
	}
	return msgs[0]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, port int) *osc.Client {
	t.Helper()
	c, err := osc.Dial("127.0.0.1", port)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Devnode: "/dev/ttyUSB0"}); err == nil {
		t.Error("New() without port error = nil")
	}
	if _, err := New(Options{Port: &pipePort{}}); err == nil {
		t.Error("New() without devnode error = nil")
	}
}

func TestWorker_Lifecycle(t *testing.T) {
	store := newFakeStore()
	h := startWorker(t, harnessOptions{store: store})
	port := h.ready(t)

	waitFor(t, "id and size queries", func() bool { return h.wire.Contains([]byte{0x01, 0x05}) })
	waitFor(t, "clear on start", func() bool { return h.wire.Contains([]byte{0x12}) })

	// Key presses reach the application in logical coordinates.
	if _, err := h.devOut.Write([]byte{0x21, 1, 2}); err != nil {
		t.Fatal(err)
	}
	key := recvApp(t, h.app)
	if key.Address != "/monome/grid/key" || !reflect.DeepEqual(key.Args, []any{int32(1), int32(2), int32(1)}) {
		t.Errorf("key message = %s %v", key.Address, key.Args)
	}

	// LED messages reach the grid.
	client := dial(t, port)
	if err := client.Send(osc.NewMessage("/monome/grid/led/set", 3, 4, 1)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "led on", func() bool { return h.wire.Contains([]byte{0x11, 3, 4}) })

	// /sys/info with an explicit address answers there.
	if err := client.Send(osc.NewMessage("/sys/info", "127.0.0.1", client.LocalAddr().Port)); err != nil {
		t.Fatal(err)
	}
	var got []string
	for i := 0; i < 7; i++ {
		m, err := client.Receive(testTimeout)
		if err != nil || m == nil {
			t.Fatalf("Receive() = %v, %v after %v", m, err, got)
		}
		got = append(got, m.Address)
		if m.Address == "/sys/id" {
			if s, _ := m.String(0); s != "m1000001" {
				t.Errorf("/sys/id = %q", s)
			}
		}
	}
	want := []string{"/sys/id", "/sys/size", "/sys/host", "/sys/port", "/sys/prefix", "/sys/size", "/sys/rotation"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("/sys/info replies = %v, want %v", got, want)
	}

	if err := ipc.WriteMessage(h.stdin, ipc.ShouldExit{}); err != nil {
		t.Fatal(err)
	}
	if err := h.wait(t); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if h.w.State() != StateExited {
		t.Errorf("State() = %v, want exited", h.w.State())
	}

	saved, ok := store.get("m1000001")
	if !ok {
		t.Fatal("settings not saved on exit")
	}
	if saved.ServerPort != port {
		t.Errorf("saved ServerPort = %d, want %d", saved.ServerPort, port)
	}
}

func TestWorker_IgnoresUnexpectedFrames(t *testing.T) {
	h := startWorker(t, harnessOptions{})
	h.ready(t)

	if err := ipc.WriteMessage(h.stdin, ipc.Connection{Devnode: "/dev/ttyUSB3"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.stdin.Write([]byte{0xff, 0xff, 0xff, 0xff}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-h.done:
		t.Fatalf("Run() returned %v on a non-exit frame", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := ipc.WriteMessage(h.stdin, ipc.ShouldExit{}); err != nil {
		t.Fatal(err)
	}
	if err := h.wait(t); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestWorker_DeviceLoss(t *testing.T) {
	tests := []struct {
		name    string
		closeFn func(*io.PipeWriter)
		wantErr error
	}{
		{"unplugged", func(w *io.PipeWriter) { w.Close() }, nil},
		{"read error", func(w *io.PipeWriter) { w.CloseWithError(errors.New("input/output error")) }, ErrDeviceIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startWorker(t, harnessOptions{})
			h.ready(t)

			tt.closeFn(h.devOut)
			err := h.wait(t)
			if tt.wantErr == nil && err != nil {
				t.Errorf("Run() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Run() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorker_LEDRequests(t *testing.T) {
	t.Run("out of range stays local", func(t *testing.T) {
		h := startWorker(t, harnessOptions{})
		c := dial(t, h.ready(t))

		if err := c.Send(osc.NewMessage("/monome/grid/led/set", 99, 99, 1)); err != nil {
			t.Fatal(err)
		}
		if err := c.Send(osc.NewMessage("/monome/grid/led/set", 2, 3, 1)); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "led on frame", func() bool { return h.wire.Contains([]byte{0x11, 2, 3}) })

		select {
		case err := <-h.done:
			t.Fatalf("Run() returned %v after a rejected request", err)
		default:
		}
	})

	t.Run("write failure ends the worker", func(t *testing.T) {
		h := startWorker(t, harnessOptions{})
		c := dial(t, h.ready(t))

		h.wireR.CloseWithError(errors.New("input/output error"))
		if err := c.Send(osc.NewMessage("/monome/grid/led/set", 1, 1, 1)); err != nil {
			t.Fatal(err)
		}

		err := h.wait(t)
		if !errors.Is(err, ErrDeviceIO) || !errors.Is(err, grid.ErrWrite) {
			t.Errorf("Run() error = %v, want ErrDeviceIO wrapping grid.ErrWrite", err)
		}
	})
}

func TestWorker_IdentifyTimeout(t *testing.T) {
	h := startWorker(t, harnessOptions{identifyTimeout: 50 * time.Millisecond})

	if err := h.wait(t); !errors.Is(err, ErrIdentifyTimeout) {
		t.Errorf("Run() error = %v, want ErrIdentifyTimeout", err)
	}
	select {
	case m := <-h.frames:
		if m != nil {
			t.Errorf("unidentified worker reported %v", m.Type())
		}
	default:
	}
}

func TestWorker_Prefix(t *testing.T) {
	store := newFakeStore()
	h := startWorker(t, harnessOptions{store: store})
	port := h.ready(t)
	client := dial(t, port)

	if err := client.Send(osc.NewMessage("/sys/prefix", "grid")); err != nil {
		t.Fatal(err)
	}
	m := recvApp(t, h.app)
	if s, _ := m.String(0); m.Address != "/sys/prefix" || s != "/grid" {
		t.Errorf("prefix reply = %s %v", m.Address, m.Args)
	}

	if err := client.Send(osc.NewMessage("/grid/grid/led/all", 1)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "all on", func() bool { return h.wire.Contains([]byte{0x13}) })

	if saved, _ := store.get("m1000001"); saved.Prefix != "/grid" {
		t.Errorf("saved prefix = %q, want /grid", saved.Prefix)
	}

	if _, err := h.devOut.Write([]byte{0x20, 0, 0}); err != nil {
		t.Fatal(err)
	}
	key := recvApp(t, h.app)
	if key.Address != "/grid/grid/key" {
		t.Errorf("key address = %q, want /grid/grid/key", key.Address)
	}

	h.w.Stop()
	h.wait(t)
}

func TestWorker_StoredSettings(t *testing.T) {
	store := newFakeStore()
	h := startWorker(t, harnessOptions{store: store})

	// The app port comes from the harness, so store settings pointing at it.
	store.put(devicestate.Settings{
		Serial:   "m1000001",
		Prefix:   "/stored",
		AppHost:  "127.0.0.1",
		AppPort:  h.app.LocalAddr().(*net.UDPAddr).Port,
		Rotation: 180,
	})
	port := h.ready(t)

	if _, err := h.devOut.Write([]byte{0x21, 0, 0}); err != nil {
		t.Fatal(err)
	}
	key := recvApp(t, h.app)
	if key.Address != "/stored/grid/key" || !reflect.DeepEqual(key.Args, []any{int32(15), int32(7), int32(1)}) {
		t.Errorf("key = %s %v, want /stored/grid/key [15 7 1]", key.Address, key.Args)
	}

	client := dial(t, port)
	if err := client.Send(osc.NewMessage("/sys/info/rotation")); err != nil {
		t.Fatal(err)
	}
	if m := recvApp(t, h.app); m.Address != "/sys/size" {
		t.Errorf("first rotation reply = %s, want /sys/size", m.Address)
	}
	m := recvApp(t, h.app)
	if deg, _ := m.Int(0); m.Address != "/sys/rotation" || deg != 180 {
		t.Errorf("rotation reply = %s %v", m.Address, m.Args)
	}

	h.w.Stop()
	h.wait(t)
}

func TestWorker_Rotation(t *testing.T) {
	h := startWorker(t, harnessOptions{standalone: true})
	h.identify(t)

	var port int
	waitFor(t, "server", func() bool {
		done := make(chan struct{})
		h.w.loop.Post(func() {
			if h.w.server != nil {
				port = h.w.server.Port()
			}
			close(done)
		})
		<-done
		return port != 0
	})
	client := dial(t, port)

	if err := client.Send(osc.NewMessage("/sys/rotation", 90)); err != nil {
		t.Fatal(err)
	}
	if m := recvApp(t, h.app); m.Address != "/sys/size" {
		t.Fatalf("first reply = %s, want /sys/size", m.Address)
	} else if c, _ := m.Int(0); c != 8 {
		t.Errorf("rotated cols = %d, want 8", c)
	}
	if m := recvApp(t, h.app); m.Address != "/sys/rotation" {
		t.Errorf("second reply = %s, want /sys/rotation", m.Address)
	}

	// A bad rotation is rejected without affecting the worker.
	if err := client.Send(osc.NewMessage("/sys/rotation", 45)); err != nil {
		t.Fatal(err)
	}
	if err := client.Send(osc.NewMessage("/sys/cable", "b")); err != nil {
		t.Fatal(err)
	}
	m := recvApp(t, h.app)
	if m.Address == "/sys/size" {
		m = recvApp(t, h.app)
	}
	if deg, _ := m.Int(0); m.Address != "/sys/rotation" || deg != 270 {
		t.Errorf("cable reply = %s %v, want /sys/rotation 270", m.Address, m.Args)
	}

	h.w.Stop()
	if err := h.wait(t); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestSpanArgs(t *testing.T) {
	tests := []struct {
		name     string
		msg      *osc.Message
		wantPos  []int
		wantData []byte
		wantErr  bool
	}{
		{"one byte", osc.NewMessage("/r", 0, 3, 255), []int{0, 3}, []byte{255}, false},
		{"two bytes", osc.NewMessage("/r", 8, 1, 1, 2), []int{8, 1}, []byte{1, 2}, false},
		{"too few", osc.NewMessage("/r", 0, 3), nil, nil, true},
		{"string arg", osc.NewMessage("/r", 0, 3, "x"), nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, data, err := spanArgs(tt.msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("spanArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(pos, tt.wantPos) || !reflect.DeepEqual(data, tt.wantData) {
				t.Errorf("spanArgs() = %v, %v", pos, data)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateStarting: "starting",
		StateInfoSent: "info_sent",
		StateReady:    "ready",
		StateExited:   "exited",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
