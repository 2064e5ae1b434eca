package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure shared by the gridd binaries.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Device     DeviceConfig     `yaml:"device"`
	Detector   DetectorConfig   `yaml:"detector"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SupervisorConfig contains settings for the long-lived supervisor.
type SupervisorConfig struct {
	ControlHost        string `yaml:"control_host"`
	ControlPort        int    `yaml:"control_port"`
	Capacity           int    `yaml:"capacity"`
	SubscriberCapacity int    `yaml:"subscriber_capacity"`
	DrainInterval      int    `yaml:"drain_interval_ms"`
	ShutdownTimeout    int    `yaml:"shutdown_timeout"`
	DetectorBinary     string `yaml:"detector_binary"`
	WorkerBinary       string `yaml:"worker_binary"`
	StartEnabled       bool   `yaml:"start_enabled"`
}

// DeviceConfig contains defaults for device workers. Persisted per-device
// settings take precedence once a device's serial is known.
type DeviceConfig struct {
	ServerPort   int    `yaml:"server_port"`
	AppHost      string `yaml:"app_host"`
	AppPort      int    `yaml:"app_port"`
	Prefix       string `yaml:"prefix"`
	Rotation     int    `yaml:"rotation"`
	PersistState bool   `yaml:"persist_state"`
}

// DetectorConfig contains device discovery settings.
type DetectorConfig struct {
	DevDir   string   `yaml:"dev_dir"`
	Patterns []string `yaml:"patterns"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP introspection API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file.
//
// A missing file is not an error: the defaults are used, so the daemon
// can start on a system that was never configured. Environment variables
// are applied on top and the result is validated.
// Environment variables follow the pattern GRIDD_SECTION_KEY,
// for example: GRIDD_SUPERVISOR_CONTROL_PORT, GRIDD_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file (may be empty)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration with environment overrides
// applied but without reading any file.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Supervisor: SupervisorConfig{
			ControlHost:        "127.0.0.1",
			ControlPort:        12002,
			Capacity:           32,
			SubscriberCapacity: 32,
			DrainInterval:      100,
			ShutdownTimeout:    5,
			DetectorBinary:     "gridd-detector",
			WorkerBinary:       "gridd-device",
			StartEnabled:       true,
		},
		Device: DeviceConfig{
			ServerPort:   0,
			AppHost:      "127.0.0.1",
			AppPort:      8000,
			Prefix:       "/monome",
			Rotation:     0,
			PersistState: true,
		},
		Detector: DetectorConfig{
			DevDir:   "/dev",
			Patterns: []string{"ttyUSB*", "ttyACM*"},
		},
		Database: DatabaseConfig{
			Path:        filepath.Join(StateDir(), "devices.db"),
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "gridd",
			},
			QoS:         1,
			TopicPrefix: "gridd",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "gridd",
			Bucket:        "gridd",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 12080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/events",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// StateDir returns the per-user directory for gridd state, following the
// XDG base directory convention.
func StateDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "gridd")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "gridd")
	}
	return filepath.Join(os.TempDir(), "gridd")
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRIDD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Supervisor
	if v := os.Getenv("GRIDD_SUPERVISOR_CONTROL_HOST"); v != "" {
		cfg.Supervisor.ControlHost = v
	}
	envInt("GRIDD_SUPERVISOR_CONTROL_PORT", &cfg.Supervisor.ControlPort)
	envInt("GRIDD_SUPERVISOR_CAPACITY", &cfg.Supervisor.Capacity)
	if v := os.Getenv("GRIDD_SUPERVISOR_DETECTOR_BINARY"); v != "" {
		cfg.Supervisor.DetectorBinary = v
	}
	if v := os.Getenv("GRIDD_SUPERVISOR_WORKER_BINARY"); v != "" {
		cfg.Supervisor.WorkerBinary = v
	}

	// Device
	if v := os.Getenv("GRIDD_DEVICE_APP_HOST"); v != "" {
		cfg.Device.AppHost = v
	}
	envInt("GRIDD_DEVICE_APP_PORT", &cfg.Device.AppPort)

	// Database
	if v := os.Getenv("GRIDD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRIDD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRIDD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRIDD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRIDD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRIDD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// envInt overwrites *dst when the variable holds a valid integer.
func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Supervisor validation
	if c.Supervisor.ControlPort < 1 || c.Supervisor.ControlPort > 65535 {
		errs = append(errs, "supervisor.control_port must be between 1 and 65535")
	}
	if c.Supervisor.Capacity < 1 {
		errs = append(errs, "supervisor.capacity must be at least 1")
	}
	if c.Supervisor.SubscriberCapacity < 1 {
		errs = append(errs, "supervisor.subscriber_capacity must be at least 1")
	}
	if c.Supervisor.DrainInterval < 1 {
		errs = append(errs, "supervisor.drain_interval_ms must be positive")
	}
	if c.Supervisor.WorkerBinary == "" {
		errs = append(errs, "supervisor.worker_binary is required")
	}
	if c.Supervisor.DetectorBinary == "" {
		errs = append(errs, "supervisor.detector_binary is required")
	}

	// Device validation
	if c.Device.ServerPort < 0 || c.Device.ServerPort > 65535 {
		errs = append(errs, "device.server_port must be between 0 and 65535")
	}
	if c.Device.AppPort < 1 || c.Device.AppPort > 65535 {
		errs = append(errs, "device.app_port must be between 1 and 65535")
	}
	if c.Device.Rotation%90 != 0 {
		errs = append(errs, "device.rotation must be a multiple of 90")
	}

	// Detector validation
	if len(c.Detector.Patterns) == 0 {
		errs = append(errs, "detector.patterns must not be empty")
	}
	for _, p := range c.Detector.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			errs = append(errs, fmt.Sprintf("detector.patterns: bad pattern %q", p))
		}
	}

	// Database validation
	if c.Device.PersistState && c.Database.Path == "" {
		errs = append(errs, "database.path is required when device.persist_state is set")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ControlAddr returns the supervisor's control address as host:port.
func (c *Config) ControlAddr() string {
	return fmt.Sprintf("%s:%d", c.Supervisor.ControlHost, c.Supervisor.ControlPort)
}

// GetDrainInterval returns how often a pending disable is checked.
func (c *Config) GetDrainInterval() time.Duration {
	return time.Duration(c.Supervisor.DrainInterval) * time.Millisecond
}

// GetShutdownTimeout returns how long shutdown waits for children.
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Supervisor.ShutdownTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
