package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/voltalisd/internal/db"
	"github.com/dokzlo13/voltalisd/internal/voltalis"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("VOLTALIS_TEST_USER", "alice@example.com")

	tests := []struct {
		input string
		want  string
	}{
		{"user: ${VOLTALIS_TEST_USER}", "user: alice@example.com"},
		{"user: ${VOLTALIS_TEST_MISSING}", "user: "},
		{"user: ${VOLTALIS_TEST_MISSING:bob}", "user: bob"},
		{"user: ${VOLTALIS_TEST_USER:bob}", "user: alice@example.com"},
		{"plain text", "plain text"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("voltalis:\n  username: u\n  password: p\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Voltalis.BaseURL != voltalis.DefaultBaseURL {
		t.Errorf("BaseURL = %q", cfg.Voltalis.BaseURL)
	}
	if cfg.Voltalis.Timeout.Duration() != 30*time.Second {
		t.Errorf("Timeout = %v", cfg.Voltalis.Timeout.Duration())
	}
	if cfg.Coordinators.ProgramsInterval.Duration() != time.Minute {
		t.Errorf("ProgramsInterval = %v", cfg.Coordinators.ProgramsInterval.Duration())
	}
	if cfg.Database.Path != db.MemoryPath {
		t.Errorf("Database.Path = %q, want in-memory", cfg.Database.Path)
	}
	if got := cfg.Voltalis.GetTokenLifetime(); got == nil || *got != 7 {
		t.Errorf("GetTokenLifetime = %v, want 7", got)
	}
	if cfg.MQTT.GetQoS() != 1 || cfg.MQTT.Enabled {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if !cfg.Control.IsEnabled() || cfg.Control.Port != 8089 {
		t.Errorf("control = %+v", cfg.Control)
	}
	if cfg.EventBus.GetWorkers() != 4 || cfg.EventBus.GetQueueSize() != 100 {
		t.Errorf("eventbus = %+v", cfg.EventBus)
	}
	if cfg.ShutdownTimeout.Duration() != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout.Duration())
	}
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
voltalis:
  token_lifetime_days: 30
  reauth_min_interval: 90s
coordinators:
  devices_interval: 5m
mqtt:
  enabled: true
  qos: 0
control:
  enabled: false
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.Voltalis.GetTokenLifetime(); got == nil || *got != 30 {
		t.Errorf("GetTokenLifetime = %v, want 30", got)
	}
	if cfg.Voltalis.ReauthMinInterval.Duration() != 90*time.Second {
		t.Errorf("ReauthMinInterval = %v", cfg.Voltalis.ReauthMinInterval.Duration())
	}
	if cfg.Coordinators.DevicesInterval.Duration() != 5*time.Minute {
		t.Errorf("DevicesInterval = %v", cfg.Coordinators.DevicesInterval.Duration())
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.GetQoS() != 0 {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.Control.IsEnabled() {
		t.Error("control should be disabled")
	}
}

func TestParse_NeverExpires(t *testing.T) {
	cfg, err := Parse([]byte("voltalis:\n  token_lifetime_days: 3\n  token_never_expires: true\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Voltalis.GetTokenLifetime(); got != nil {
		t.Errorf("GetTokenLifetime = %v, want nil", *got)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"lifetime_zero", "voltalis:\n  token_lifetime_days: 0\n"},
		{"lifetime_too_big", "voltalis:\n  token_lifetime_days: 1000\n"},
		{"qos", "mqtt:\n  qos: 3\n"},
		{"bad_duration", "voltalis:\n  timeout: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("VOLTALIS_TEST_PASSWORD", "secret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("voltalis:\n  password: ${VOLTALIS_TEST_PASSWORD}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Voltalis.Password != "secret" {
		t.Errorf("Password = %q", cfg.Voltalis.Password)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_Example(t *testing.T) {
	t.Setenv("VOLTALIS_USERNAME", "user@example.com")
	t.Setenv("MQTT_BROKER", "")

	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Voltalis.Username != "user@example.com" {
		t.Errorf("Username = %q", cfg.Voltalis.Username)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker = %q, want the inline default", cfg.MQTT.Broker)
	}
	if cfg.MQTT.PublishQuiet.Duration() != 250*time.Millisecond {
		t.Errorf("PublishQuiet = %v", cfg.MQTT.PublishQuiet.Duration())
	}
	if cfg.Database.Path != db.MemoryPath {
		t.Errorf("Database.Path = %q, want in-memory", cfg.Database.Path)
	}
	if got := cfg.Voltalis.GetTokenLifetime(); got == nil || *got != 7 {
		t.Errorf("token lifetime = %v, want 7", got)
	}
}
