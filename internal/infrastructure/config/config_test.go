package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
device:
  id: "living-room"
  host: "192.168.1.50"
  port: 88
  read_timeout: 45
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ID != "living-room" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "living-room")
	}
	if cfg.Device.Host != "192.168.1.50" {
		t.Errorf("Device.Host = %q, want %q", cfg.Device.Host, "192.168.1.50")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true")
	}

	if got := cfg.Device.GetReadTimeout().Seconds(); got != 45 {
		t.Errorf("Device.GetReadTimeout() = %v, want 45", got)
	}

	// Untouched sections keep their defaults.
	if cfg.Device.PingInterval != 5 {
		t.Errorf("Device.PingInterval = %d, want 5", cfg.Device.PingInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
device:
  host: ""
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for missing device host, got nil")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	content := `
device:
  host: "10.0.0.1"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("PROFLAME_DEVICE_HOST", "10.0.0.2")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.Host != "10.0.0.2" {
		t.Errorf("Device.Host = %q, want %q", cfg.Device.Host, "10.0.0.2")
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Device.Host = "192.168.1.50"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "missing device ID", mutate: func(c *Config) { c.Device.ID = "" }, wantErr: true},
		{name: "device ID with wildcard", mutate: func(c *Config) { c.Device.ID = "fire/+" }, wantErr: true},
		{name: "missing device host", mutate: func(c *Config) { c.Device.Host = "" }, wantErr: true},
		{name: "device port zero", mutate: func(c *Config) { c.Device.Port = 0 }, wantErr: true},
		{name: "device port high", mutate: func(c *Config) { c.Device.Port = 70000 }, wantErr: true},
		{name: "ping interval zero", mutate: func(c *Config) { c.Device.PingInterval = 0 }, wantErr: true},
		{name: "read timeout equals ping interval", mutate: func(c *Config) { c.Device.ReadTimeout = c.Device.PingInterval }, wantErr: true},
		{name: "read timeout below ping interval", mutate: func(c *Config) { c.Device.PingInterval = 60 }, wantErr: true},
		{name: "read timeout zero", mutate: func(c *Config) { c.Device.ReadTimeout = 0 }, wantErr: true},
		{
			name: "read timeout above ping interval",
			mutate: func(c *Config) {
				c.Device.PingInterval = 60
				c.Device.ReadTimeout = 90
			},
			wantErr: false,
		},
		{name: "reconnect interval zero", mutate: func(c *Config) { c.Device.ReconnectInterval = 0 }, wantErr: true},
		{
			name: "max reconnect below initial",
			mutate: func(c *Config) {
				c.Device.ReconnectInterval = 10
				c.Device.MaxReconnectInterval = 5
			},
			wantErr: true,
		},
		{name: "history without database", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{
			name: "no database when history disabled",
			mutate: func(c *Config) {
				c.History.Enabled = false
				c.Database.Path = ""
			},
			wantErr: false,
		},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid API port", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{
			name: "API port ignored when disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
			wantErr: false,
		},
		{name: "influx without URL", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestDeviceConfig_Durations(t *testing.T) {
	d := defaultConfig().Device

	if got := d.GetPingInterval().Seconds(); got != 5 {
		t.Errorf("GetPingInterval() = %v, want 5", got)
	}
	if got := d.GetReconnectInterval().Seconds(); got != 1 {
		t.Errorf("GetReconnectInterval() = %v, want 1", got)
	}
	if got := d.GetMaxReconnectInterval().Seconds(); got != 30 {
		t.Errorf("GetMaxReconnectInterval() = %v, want 30", got)
	}
	if got := d.GetHandshakeTimeout().Seconds(); got != 10 {
		t.Errorf("GetHandshakeTimeout() = %v, want 10", got)
	}
	if got := d.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("PROFLAME_DEVICE_HOST", "fireplace.local")
	t.Setenv("PROFLAME_DEVICE_PORT", "8088")
	t.Setenv("PROFLAME_DATABASE_PATH", "/custom/path.db")
	t.Setenv("PROFLAME_MQTT_HOST", "mqtt.example.com")
	t.Setenv("PROFLAME_MQTT_USERNAME", "testuser")
	t.Setenv("PROFLAME_MQTT_PASSWORD", "testpass")
	t.Setenv("PROFLAME_API_HOST", "192.168.1.1")
	t.Setenv("PROFLAME_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("PROFLAME_HISTORY_ENABLED", "false")

	if err := applyEnvOverrides(t.Context(), cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Device.Host != "fireplace.local" {
		t.Errorf("Device.Host = %q, want %q", cfg.Device.Host, "fireplace.local")
	}
	if cfg.Device.Port != 8088 {
		t.Errorf("Device.Port = %d, want 8088", cfg.Device.Port)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled = true, want false")
	}

	// Unset variables leave file/default values alone.
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestLoadDotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	if err := os.WriteFile(envPath, []byte("PROFLAME_TEST_DOTENV=from-file\n"), 0600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("PROFLAME_TEST_DOTENV", "")
	os.Unsetenv("PROFLAME_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(tmpDir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("PROFLAME_TEST_DOTENV"); got != "from-file" {
		t.Errorf("PROFLAME_TEST_DOTENV = %q, want %q", got, "from-file")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Device.Port != 88 {
		t.Errorf("defaultConfig Device.Port = %d, want 88", cfg.Device.Port)
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}
