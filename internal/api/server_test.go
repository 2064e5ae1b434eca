package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gridd/internal/devicestate"
	"github.com/nerrad567/gridd/internal/infrastructure/config"
	"github.com/nerrad567/gridd/internal/infrastructure/logging"
	"github.com/nerrad567/gridd/internal/supervisor"
)

type fakeSupervisor struct {
	devices   []supervisor.Device
	status    supervisor.Status
	err       error
	enableErr error
	calls     []string
}

func (f *fakeSupervisor) Devices(context.Context) ([]supervisor.Device, error) {
	return f.devices, f.err
}

func (f *fakeSupervisor) Status(context.Context) (supervisor.Status, error) {
	return f.status, f.err
}

func (f *fakeSupervisor) Enable(context.Context) error {
	f.calls = append(f.calls, "enable")
	return f.enableErr
}

func (f *fakeSupervisor) Disable(context.Context) error {
	f.calls = append(f.calls, "disable")
	return f.err
}

type fakeHistory struct {
	entries []devicestate.HistoryEntry
	err     error
}

func (f *fakeHistory) ListHistory(context.Context) ([]devicestate.HistoryEntry, error) {
	return f.entries, f.err
}

var testDevices = []supervisor.Device{
	{Serial: "m1000001", FriendlyName: "monome 128", Port: 14001, Devnode: "/dev/ttyUSB0"},
	{Serial: "m1000002", FriendlyName: "monome 64", Port: 14002, Devnode: "/dev/ttyUSB1"},
}

// testServer creates a Server whose hub is running, without binding a port.
func testServer(t *testing.T, sup Supervisor, history HistoryLister) *Server {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test", "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     log,
		Supervisor: sup,
		History:    history,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Hub().Run(ctx)

	return srv
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// ============================================================================
// Construction
// ============================================================================

func TestNew_Validation(t *testing.T) {
	log := logging.Default("test")

	if _, err := New(Deps{Supervisor: &fakeSupervisor{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without supervisor should fail")
	}

	srv, err := New(Deps{Logger: log, Supervisor: &fakeSupervisor{}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if srv.wsCfg.Path != "/api/v1/events" {
		t.Errorf("default websocket path = %q", srv.wsCfg.Path)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v", err)
	}
}

func TestServer_StartClose(t *testing.T) {
	srv := testServer(t, &fakeSupervisor{devices: testDevices}, nil)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer srv.Close() //nolint:errcheck // closed explicitly below

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

// ============================================================================
// REST endpoints
// ============================================================================

func TestHandleListDevices(t *testing.T) {
	srv := testServer(t, &fakeSupervisor{devices: testDevices}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Devices []supervisor.Device `json:"devices"`
		Count   int                 `json:"count"`
	}
	decode(t, rec, &body)
	if body.Count != 2 || len(body.Devices) != 2 {
		t.Fatalf("got %d devices (count %d), want 2", len(body.Devices), body.Count)
	}
	if body.Devices[0] != testDevices[0] {
		t.Errorf("first device = %+v, want %+v", body.Devices[0], testDevices[0])
	}
}

func TestHandleGetDevice(t *testing.T) {
	srv := testServer(t, &fakeSupervisor{devices: testDevices}, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/devices/m1000002", http.StatusOK},
		{"/api/v1/devices/m9999999", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodGet, tt.path)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK {
				var d supervisor.Device
				decode(t, rec, &d)
				if d.Port != 14002 {
					t.Errorf("device = %+v", d)
				}
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	sup := &fakeSupervisor{status: supervisor.Status{
		State:       "enabled",
		Devices:     testDevices[:1],
		Live:        2,
		Records:     1,
		ControlPort: 12002,
	}}
	srv := testServer(t, sup, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var st supervisor.Status
	decode(t, rec, &st)
	if st.State != "enabled" || st.Live != 2 || st.ControlPort != 12002 || len(st.Devices) != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestHandleRunStateChanges(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		enableErr error
		err       error
		want      int
		wantCode  string
	}{
		{"enable accepted", "/api/v1/enable", nil, nil, http.StatusAccepted, ""},
		{"disable accepted", "/api/v1/disable", nil, nil, http.StatusAccepted, ""},
		{"enable not applicable", "/api/v1/enable", supervisor.ErrNotApplicable, nil, http.StatusConflict, ErrCodeConflict},
		{"disable stopped", "/api/v1/disable", nil, supervisor.ErrStopped, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"disable failure", "/api/v1/disable", nil, errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup := &fakeSupervisor{enableErr: tt.enableErr, err: tt.err}
			srv := testServer(t, sup, nil)

			rec := doRequest(t, srv, http.MethodPost, tt.path)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.wantCode != "" {
				var e Error
				decode(t, rec, &e)
				if e.Code != tt.wantCode {
					t.Errorf("error code = %q, want %q", e.Code, tt.wantCode)
				}
			}
			if len(sup.calls) != 1 {
				t.Errorf("supervisor calls = %v, want exactly one", sup.calls)
			}
		})
	}
}

func TestHandleRunState_MethodNotAllowed(t *testing.T) {
	srv := testServer(t, &fakeSupervisor{}, nil)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/enable")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleListHistory(t *testing.T) {
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("not configured", func(t *testing.T) {
		srv := testServer(t, &fakeSupervisor{}, nil)
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/history")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("empty", func(t *testing.T) {
		srv := testServer(t, &fakeSupervisor{}, &fakeHistory{})
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/history")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"history":[]`) {
			t.Errorf("body = %s, want empty history array", rec.Body.String())
		}
	})

	t.Run("entries", func(t *testing.T) {
		h := &fakeHistory{entries: []devicestate.HistoryEntry{{
			Serial:       "m1000001",
			FriendlyName: "monome 128",
			Devnode:      "/dev/ttyUSB0",
			FirstSeen:    seen,
			LastSeen:     seen,
			AttachCount:  3,
		}}}
		srv := testServer(t, &fakeSupervisor{}, h)
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/history")

		var body struct {
			History []devicestate.HistoryEntry `json:"history"`
			Count   int                        `json:"count"`
		}
		decode(t, rec, &body)
		if body.Count != 1 || body.History[0].AttachCount != 3 || !body.History[0].LastSeen.Equal(seen) {
			t.Errorf("history = %+v", body)
		}
	})

	t.Run("error", func(t *testing.T) {
		srv := testServer(t, &fakeSupervisor{}, &fakeHistory{err: errors.New("disk")})
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/history")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})
}

// ============================================================================
// Middleware
// ============================================================================

func TestRequestID(t *testing.T) {
	srv := testServer(t, &fakeSupervisor{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "given-id")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "given-id" {
		t.Errorf("X-Request-ID = %q, want given-id", got)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/health")
	if got := rec.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", got)
	}
}

func TestCORS(t *testing.T) {
	srv := testServer(t, &fakeSupervisor{}, nil)
	srv.cfg.CORS.AllowedOrigins = []string{"http://allowed.example"}

	tests := []struct {
		origin string
		want   string
	}{
		{"http://allowed.example", "http://allowed.example"},
		{"http://other.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want 204", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	srv := testServer(t, &fakeSupervisor{}, nil)
	handler := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// ============================================================================
// WebSocket
// ============================================================================

func dialEvents(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + srv.wsCfg.Path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading websocket message: %v", err)
	}
	return msg
}

func subscribeWS(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	})
	if err != nil {
		t.Fatalf("writing subscribe: %v", err)
	}
	if resp := readWS(t, conn); resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", hub.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocket_DeviceEvents(t *testing.T) {
	srv := testServer(t, &fakeSupervisor{}, nil)
	conn := dialEvents(t, srv)
	waitForClients(t, srv.Hub(), 1)

	subscribeWS(t, conn, ChannelDeviceAdded)

	// Not subscribed, so this one must not arrive.
	srv.Hub().DeviceRemoved(testDevices[1])
	srv.Hub().DeviceAdded(testDevices[0])

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelDeviceAdded {
		t.Fatalf("event = %+v", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok || payload["serial"] != "m1000001" {
		t.Errorf("payload = %#v", msg.Payload)
	}
}

func TestWebSocket_AllChannels(t *testing.T) {
	srv := testServer(t, &fakeSupervisor{}, nil)
	conn := dialEvents(t, srv)
	waitForClients(t, srv.Hub(), 1)

	subscribeWS(t, conn, ChannelAll)

	srv.Hub().RunStateChanged(supervisor.Disabled)
	msg := readWS(t, conn)
	if msg.EventType != ChannelRunStateChanged {
		t.Fatalf("event = %+v", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok || payload["state"] != "disabled" {
		t.Errorf("payload = %#v", msg.Payload)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	srv := testServer(t, &fakeSupervisor{}, nil)
	conn := dialEvents(t, srv)

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("writing ping: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %+v", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError {
		t.Errorf("garbage reply = %+v", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "reboot", ID: "r1"}); err != nil {
		t.Fatalf("writing unknown type: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError || msg.ID != "r1" {
		t.Errorf("unknown type reply = %+v", msg)
	}
}

func TestHub_CloseAllOnCancel(t *testing.T) {
	log := logging.Default("test")
	hub := NewHub(config.WebSocketConfig{}, log)
	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	hub.Register(client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if hub.ClientCount() != 0 {
		t.Errorf("clients after cancel = %d", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("client send channel still open")
	}
	// Unregister after closeAll must not double-close.
	hub.Unregister(client)
}
