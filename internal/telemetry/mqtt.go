package telemetry

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gridd/internal/infrastructure/mqtt"
	"github.com/nerrad567/gridd/internal/supervisor"
)

// queueSize bounds events waiting for a slow broker or database.
const queueSize = 128

// Logger defines the logging interface for the sinks.
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

// Publisher sends MQTT messages. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DevicePayload is the body of device state and event messages.
type DevicePayload struct {
	Event        string    `json:"event,omitempty"`
	State        string    `json:"state"`
	Serial       string    `json:"serial"`
	FriendlyName string    `json:"friendly_name"`
	Port         int       `json:"port"`
	Devnode      string    `json:"devnode"`
	Timestamp    time.Time `json:"timestamp"`
}

// RunStatePayload is the body of the run state message.
type RunStatePayload struct {
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

type message struct {
	topic    string
	payload  any
	retained bool
}

// MQTTSink publishes registry changes. Device state topics are retained so
// a new subscriber sees every attached grid.
type MQTTSink struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
	logger Logger
	now    func() time.Time

	queue chan message
	done  chan struct{}
}

// NewMQTTSink starts the publishing goroutine. Call Close to stop it.
func NewMQTTSink(pub Publisher, topics mqtt.Topics, qos byte, logger Logger) *MQTTSink {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &MQTTSink{
		pub:    pub,
		topics: topics,
		qos:    qos,
		logger: logger,
		now:    time.Now,
		queue:  make(chan message, queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *MQTTSink) run() {
	defer close(s.done)
	for m := range s.queue {
		data, err := json.Marshal(m.payload)
		if err != nil {
			s.logger.Error("failed to encode mqtt payload", "topic", m.topic, "error", err)
			continue
		}
		if err := s.pub.Publish(m.topic, data, s.qos, m.retained); err != nil {
			s.logger.Warn("mqtt publish failed", "topic", m.topic, "error", err)
		}
	}
}

func (s *MQTTSink) enqueue(m message) {
	select {
	case s.queue <- m:
	default:
		s.logger.Warn("mqtt queue full, dropping message", "topic", m.topic)
	}
}

func (s *MQTTSink) device(event, state string, d supervisor.Device) {
	p := DevicePayload{
		State:        state,
		Serial:       d.Serial,
		FriendlyName: d.FriendlyName,
		Port:         d.Port,
		Devnode:      d.Devnode,
		Timestamp:    s.now().UTC(),
	}
	s.enqueue(message{topic: s.topics.DeviceState(d.Serial), payload: p, retained: true})

	p.Event = event
	s.enqueue(message{topic: s.topics.DeviceEvent(), payload: p})
}

// DeviceAdded publishes the device as ready.
func (s *MQTTSink) DeviceAdded(d supervisor.Device) {
	s.device("add", "ready", d)
}

// DeviceRemoved publishes the device as gone.
func (s *MQTTSink) DeviceRemoved(d supervisor.Device) {
	s.device("remove", "gone", d)
}

// RunStateChanged publishes the retained run state.
func (s *MQTTSink) RunStateChanged(state supervisor.RunState) {
	s.enqueue(message{
		topic:    s.topics.RunState(),
		payload:  RunStatePayload{State: state.String(), Timestamp: s.now().UTC()},
		retained: true,
	})
}

// Close publishes what is queued and stops the goroutine.
func (s *MQTTSink) Close() {
	close(s.queue)
	<-s.done
}
