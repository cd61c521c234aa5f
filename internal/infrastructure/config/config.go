package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Proflame bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig describes the fireplace controller and the session timings
// used to talk to it. All intervals are in seconds.
type DeviceConfig struct {
	ID                   string `yaml:"id" env:"PROFLAME_DEVICE_ID, overwrite"`
	Name                 string `yaml:"name" env:"PROFLAME_DEVICE_NAME, overwrite"`
	Host                 string `yaml:"host" env:"PROFLAME_DEVICE_HOST, overwrite"`
	Port                 int    `yaml:"port" env:"PROFLAME_DEVICE_PORT, overwrite"`
	ConnectTimeout       int    `yaml:"connect_timeout"`
	ReadTimeout          int    `yaml:"read_timeout"`
	WriteTimeout         int    `yaml:"write_timeout"`
	PingInterval         int    `yaml:"ping_interval"`
	HandshakeTimeout     int    `yaml:"handshake_timeout"`
	ReconnectInterval    int    `yaml:"reconnect_interval"`
	MaxReconnectInterval int    `yaml:"max_reconnect_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"PROFLAME_DATABASE_PATH, overwrite"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls the attribute change journal.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled" env:"PROFLAME_HISTORY_ENABLED, overwrite"`
	RetentionDays int  `yaml:"retention_days"`
	PruneInterval int  `yaml:"prune_interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled        bool                `yaml:"enabled" env:"PROFLAME_MQTT_ENABLED, overwrite"`
	Broker         MQTTBrokerConfig    `yaml:"broker"`
	Auth           MQTTAuthConfig      `yaml:"auth"`
	QoS            int                 `yaml:"qos"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
	HealthInterval int                 `yaml:"health_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"PROFLAME_MQTT_HOST, overwrite"`
	Port     int    `yaml:"port" env:"PROFLAME_MQTT_PORT, overwrite"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"PROFLAME_MQTT_USERNAME, overwrite"`
	Password string `yaml:"password" env:"PROFLAME_MQTT_PASSWORD, overwrite"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled" env:"PROFLAME_API_ENABLED, overwrite"`
	Host     string           `yaml:"host" env:"PROFLAME_API_HOST, overwrite"`
	Port     int              `yaml:"port" env:"PROFLAME_API_PORT, overwrite"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings for API clients.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"PROFLAME_INFLUXDB_ENABLED, overwrite"`
	URL           string `yaml:"url" env:"PROFLAME_INFLUXDB_URL, overwrite"`
	Token         string `yaml:"token" env:"PROFLAME_INFLUXDB_TOKEN, overwrite"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"PROFLAME_LOG_LEVEL, overwrite"`
	Format string `yaml:"format" env:"PROFLAME_LOG_FORMAT, overwrite"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PROFLAME_SECTION_KEY
// For example: PROFLAME_DEVICE_HOST, PROFLAME_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=value files into the process environment.
// Missing files are skipped; variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:                   "fireplace",
			Name:                 "Fireplace",
			Port:                 88,
			ConnectTimeout:       10,
			ReadTimeout:          30,
			WriteTimeout:         5,
			PingInterval:         5,
			HandshakeTimeout:     10,
			ReconnectInterval:    1,
			MaxReconnectInterval: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/proflame.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
			PruneInterval: 3600,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "proflame-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			HealthInterval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "proflame",
			Bucket:        "fireplace",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies PROFLAME_* environment variables on top of the
// file values. Only variables that are set replace a field.
func applyEnvOverrides(ctx context.Context, cfg *Config) error {
	if err := envconfig.Process(ctx, cfg); err != nil {
		return err //nolint:wrapcheck // wrapped by Load
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	} else if strings.ContainsAny(c.Device.ID, "/+#") {
		errs = append(errs, "device.id must not contain MQTT topic characters (/, +, #)")
	}
	if c.Device.Host == "" {
		errs = append(errs, "device.host is required (set PROFLAME_DEVICE_HOST environment variable)")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if c.Device.PingInterval < 1 {
		errs = append(errs, "device.ping_interval must be at least 1 second")
	} else if c.Device.ReadTimeout <= c.Device.PingInterval {
		errs = append(errs, "device.read_timeout must be greater than device.ping_interval")
	}
	if c.Device.ReconnectInterval < 1 {
		errs = append(errs, "device.reconnect_interval must be at least 1 second")
	}
	if c.Device.MaxReconnectInterval < c.Device.ReconnectInterval {
		errs = append(errs, "device.max_reconnect_interval must not be less than device.reconnect_interval")
	}

	// History validation
	if c.History.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history is enabled")
	}
	if c.History.RetentionDays < 0 {
		errs = append(errs, "history.retention_days must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetPingInterval returns the keepalive interval as a Duration.
func (d DeviceConfig) GetPingInterval() time.Duration {
	return time.Duration(d.PingInterval) * time.Second
}

// GetReconnectInterval returns the initial reconnect delay as a Duration.
func (d DeviceConfig) GetReconnectInterval() time.Duration {
	return time.Duration(d.ReconnectInterval) * time.Second
}

// GetMaxReconnectInterval returns the reconnect delay ceiling as a Duration.
func (d DeviceConfig) GetMaxReconnectInterval() time.Duration {
	return time.Duration(d.MaxReconnectInterval) * time.Second
}

// GetConnectTimeout returns the dial timeout as a Duration.
func (d DeviceConfig) GetConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeout) * time.Second
}

// GetReadTimeout returns how long a session may stay silent before it is
// dropped.
func (d DeviceConfig) GetReadTimeout() time.Duration {
	return time.Duration(d.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the per-frame write deadline as a Duration.
func (d DeviceConfig) GetWriteTimeout() time.Duration {
	return time.Duration(d.WriteTimeout) * time.Second
}

// GetHandshakeTimeout returns how long to wait for the handshake ack before
// logging its absence.
func (d DeviceConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(d.HandshakeTimeout) * time.Second
}
