package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
engine:
  max_retries: 5
  backoff_base: 2s
  gateway_timeout: 10s
  tick_interval: 500ms
  record_condition_failures: true
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

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	if cfg.Engine.MaxRetries != 5 {
		t.Errorf("Engine.MaxRetries = %d, want 5", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.BackoffBase != 2*time.Second {
		t.Errorf("Engine.BackoffBase = %v, want 2s", cfg.Engine.BackoffBase)
	}
	if cfg.Engine.GatewayTimeout != 10*time.Second {
		t.Errorf("Engine.GatewayTimeout = %v, want 10s", cfg.Engine.GatewayTimeout)
	}
	if cfg.Engine.TickInterval != 500*time.Millisecond {
		t.Errorf("Engine.TickInterval = %v, want 500ms", cfg.Engine.TickInterval)
	}
	if !cfg.Engine.RecordConditionFailures {
		t.Error("Engine.RecordConditionFailures = false, want true")
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
	if err := os.WriteFile(configPath, []byte("site: [not: valid"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing site id",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "zero max retries",
			mutate:  func(c *Config) { c.Engine.MaxRetries = 0 },
			wantErr: true,
		},
		{
			name:    "negative backoff base",
			mutate:  func(c *Config) { c.Engine.BackoffBase = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero gateway timeout",
			mutate:  func(c *Config) { c.Engine.GatewayTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero tick interval",
			mutate:  func(c *Config) { c.Engine.TickInterval = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 10, Write: 20, Idle: 30},
		},
	}

	if got := cfg.GetReadTimeout(); got != 10*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 10s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 20*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 20s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 30*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 30s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_DATABASE_PATH", "/env/override.db")
	t.Setenv("HEARTH_MQTT_HOST", "broker.example")
	t.Setenv("HEARTH_API_PORT", "9090")
	t.Setenv("HEARTH_INFLUXDB_TOKEN", "env-token")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/env/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "broker.example" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "env-token" {
		t.Errorf("InfluxDB.Token = %q, want env override", cfg.InfluxDB.Token)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig() should validate cleanly, got %v", err)
	}

	if cfg.Engine.MaxRetries != 3 {
		t.Errorf("Engine.MaxRetries default = %d, want 3", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.BackoffBase != time.Second {
		t.Errorf("Engine.BackoffBase default = %v, want 1s", cfg.Engine.BackoffBase)
	}
}
