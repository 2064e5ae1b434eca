package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nerrad567/gridd/internal/infrastructure/config"
)

// testConfig returns a configuration for a local Mosquitto broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "gridd-test",
		},
		QoS:         1,
		TopicPrefix: "gridd-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker, skipping the test when none
// is running unless RUN_INTEGRATION is set.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") == "" {
			t.Skip("MQTT broker not available, skipping integration test")
		}
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopics(t *testing.T) {
	topics := NewTopics("/home/gridd/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"system status", topics.SystemStatus(), "home/gridd/system/status"},
		{"run state", topics.RunState(), "home/gridd/system/run_state"},
		{"device state", topics.DeviceState("m1000001"), "home/gridd/device/m1000001"},
		{"device event", topics.DeviceEvent(), "home/gridd/event/device"},
		{"command", topics.Command("enable"), "home/gridd/command/enable"},
		{"all commands", topics.AllCommands(), "home/gridd/command/+"},
		{"zero value prefix", Topics{}.SystemStatus(), "gridd/system/status"},
		{"empty prefix", NewTopics("").RunState(), "gridd/system/run_state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_CommandName(t *testing.T) {
	topics := NewTopics("gridd")

	tests := []struct {
		topic string
		want  string
	}{
		{"gridd/command/enable", "enable"},
		{"gridd/command/disable", "disable"},
		{"gridd/command/a/b", ""},
		{"other/command/enable", ""},
		{"gridd/device/m1", ""},
	}

	for _, tt := range tests {
		if got := topics.CommandName(tt.topic); got != tt.want {
			t.Errorf("CommandName(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestStatusPayload(t *testing.T) {
	var body map[string]string
	if err := json.Unmarshal([]byte(statusPayload("offline", "gridd", "graceful_shutdown")), &body); err != nil {
		t.Fatalf("statusPayload() is not JSON: %v", err)
	}
	if body["status"] != "offline" || body["client_id"] != "gridd" || body["reason"] != "graceful_shutdown" {
		t.Errorf("statusPayload() = %v", body)
	}
	if _, err := time.Parse(time.RFC3339, body["timestamp"]); err != nil {
		t.Errorf("timestamp %q: %v", body["timestamp"], err)
	}

	body = nil
	if err := json.Unmarshal([]byte(statusPayload("online", "gridd", "")), &body); err != nil {
		t.Fatalf("statusPayload() is not JSON: %v", err)
	}
	if _, ok := body["reason"]; ok {
		t.Errorf("online payload has a reason: %v", body)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "gridd"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.Username != "gridd" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Errorf("AutoReconnect = %v, CleanSession = %v", opts.AutoReconnect, opts.CleanSession)
	}

	configureLWT(opts, NewTopics("gridd"), cfg.Broker.ClientID)
	if !opts.WillEnabled || opts.WillTopic != "gridd/system/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"bad qos", "gridd/x", []byte("x"), 3, ErrInvalidQoS},
		{"too large", "gridd/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "gridd/x", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("gridd/#", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("gridd/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("gridd/#", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}
}

func TestClose_NeverConnected(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	// Connect retries in the background; it must still give up.
	if _, err := Connect(cfg); err == nil {
		t.Skip("something is listening on 19999")
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	pub := connectOrSkip(t, "gridd-test-pub")
	sub := connectOrSkip(t, "gridd-test-sub")

	topic := pub.Topics().Command("enable")
	received := make(chan string, 1)

	err := sub.Subscribe(sub.Topics().AllCommands(), 1, func(topic string, payload []byte) error {
		received <- sub.Topics().CommandName(topic)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", sub.SubscriptionCount())
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(topic, []byte("{}"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case name := <-received:
		if name != "enable" {
			t.Errorf("command = %q, want enable", name)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}

	if err := sub.Unsubscribe(sub.Topics().AllCommands()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}
