package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Registry.BufferSize != 256 {
		t.Errorf("expected buffer size 256, got %d", cfg.Registry.BufferSize)
	}
	if cfg.Cards.TTL != time.Hour {
		t.Errorf("expected card ttl 1h, got %v", cfg.Cards.TTL)
	}
	if cfg.Breaker.HalfOpenMax != 1 {
		t.Errorf("expected half_open_max 1, got %d", cfg.Breaker.HalfOpenMax)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
retry:
  max_attempts: 5
  base_delay: 50ms
agents:
  - id: network
    endpoint: http://net:9001
routing:
  routes:
    - agent: network
      types: [port_scan]
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != 50*time.Millisecond {
		t.Errorf("unexpected retry config %+v", cfg.Retry)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Endpoint != "http://net:9001" {
		t.Errorf("expected network endpoint, got %+v", cfg.Agents)
	}
	if len(cfg.Routing.Routes) != 1 || cfg.Routing.Routes[0].Agent != "network" {
		t.Errorf("unexpected routes %+v", cfg.Routing.Routes)
	}
	// Unchanged fields keep defaults
	if cfg.Retry.MaxDelay != 5*time.Second {
		t.Errorf("expected default max delay, got %v", cfg.Retry.MaxDelay)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, path); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("AGENTRELAY_PORT", "7070")
	t.Setenv("AGENTRELAY_LOG_LEVEL", "warn")
	t.Setenv("AGENTRELAY_BREAKER_COOLDOWN", "1m")
	t.Setenv("AGENTRELAY_RETRY_MAX_ATTEMPTS", "4")
	t.Setenv("AGENTRELAY_OTEL_SAMPLE_RATE", "0.25")
	t.Setenv("NATS_URL", "nats://bus:4222")
	t.Setenv("AGENTRELAY_AGENTS", "triage=http://triage:9000, network=http://net:9001,broken")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Cooldown != time.Minute {
		t.Errorf("expected cooldown 1m, got %v", cfg.Breaker.Cooldown)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("expected 4 attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.OTEL.SampleRate != 0.25 {
		t.Errorf("expected sample rate 0.25, got %v", cfg.OTEL.SampleRate)
	}
	if cfg.NATS.URL != "nats://bus:4222" {
		t.Errorf("expected nats url, got %s", cfg.NATS.URL)
	}
	if len(cfg.Agents) != 2 || cfg.Agents[1].ID != "network" {
		t.Errorf("unexpected agents %+v", cfg.Agents)
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("AGENTRELAY_RETRY_MAX_ATTEMPTS", "many")
	t.Setenv("AGENTRELAY_CARD_TTL", "soon")

	loadEnv(&cfg)

	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("invalid int should keep default, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Cards.TTL != time.Hour {
		t.Errorf("invalid duration should keep default, got %v", cfg.Cards.TTL)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("AGENTRELAY_PORT=6060\nAGENTRELAY_LOG_LEVEL=debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTRELAY_PORT", "7070")
	// Register cleanup, then clear so the dotenv value can land.
	t.Setenv("AGENTRELAY_LOG_LEVEL", "")
	_ = os.Unsetenv("AGENTRELAY_LOG_LEVEL")

	if err := loadDotEnv(envPath); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("AGENTRELAY_PORT"); got != "7070" {
		t.Errorf("real env must win, got %q", got)
	}
	if got := os.Getenv("AGENTRELAY_LOG_LEVEL"); got != "debug" {
		t.Errorf("expected dotenv value, got %q", got)
	}
}

func TestLoadDotEnvMissing(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should not error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"rate without burst", func(c *Config) { c.Server.SubmitRate = 5; c.Server.SubmitBurst = 0 }, "server.submit_rate"},
		{"negative concurrency", func(c *Config) { c.Transport.MaxConcurrent = -1 }, "transport.max_concurrent"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"max below base", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, "retry.base_delay"},
		{"zero threshold", func(c *Config) { c.Breaker.Threshold = 0 }, "breaker.threshold"},
		{"zero half open", func(c *Config) { c.Breaker.HalfOpenMax = 0 }, "breaker.half_open_max"},
		{"zero buffer", func(c *Config) { c.Registry.BufferSize = 0 }, "registry.buffer_size"},
		{"zero card ttl", func(c *Config) { c.Cards.TTL = 0 }, "cards.ttl"},
		{"sample rate", func(c *Config) { c.OTEL.SampleRate = 2 }, "otel.sample_rate"},
		{"shared bucket without nats", func(c *Config) { c.Cards.SharedBucket = "cards" }, "cards.shared_bucket"},
		{"agent without endpoint", func(c *Config) { c.Agents = []Agent{{ID: "a"}} }, "agents[0]"},
		{"duplicate agent", func(c *Config) {
			c.Agents = []Agent{{ID: "a", Endpoint: "http://a"}, {ID: "a", Endpoint: "http://b"}}
		}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFromFullHierarchy(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTRELAY_PORT", "7070")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env should override YAML: got port %q", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("YAML should override defaults: got level %q", cfg.Logging.Level)
	}
}

func TestLoadFromRejectsBadRoutes(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
routing:
  routes:
    - types: [port_scan]
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(yamlPath); err == nil {
		t.Fatal("expected validation error for route without agent")
	}
}
