package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Strob0t/agentrelay/internal/domain/routing"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentrelay.yaml"

// DefaultEnvFile is the dotenv file loaded when present.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < YAML < .env < ENV.
// Both files are optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < .env < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadDotEnv populates the process environment from a dotenv file.
// Variables already set in the environment are never overridden.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTRELAY_PORT")
	setString(&cfg.Server.PublicURL, "AGENTRELAY_PUBLIC_URL")
	setString(&cfg.Server.CORSOrigin, "AGENTRELAY_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "AGENTRELAY_SHUTDOWN_TIMEOUT")
	setDuration(&cfg.Server.Heartbeat, "AGENTRELAY_SSE_HEARTBEAT")
	setFloat64(&cfg.Server.SubmitRate, "AGENTRELAY_SUBMIT_RATE")
	setInt(&cfg.Server.SubmitBurst, "AGENTRELAY_SUBMIT_BURST")
	setDuration(&cfg.Server.IdempotencyTTL, "AGENTRELAY_IDEMPOTENCY_TTL")

	setString(&cfg.Logging.Level, "AGENTRELAY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTRELAY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTRELAY_LOG_ASYNC")

	setDuration(&cfg.Transport.CallTimeout, "AGENTRELAY_CALL_TIMEOUT")
	setDuration(&cfg.Transport.StreamTimeout, "AGENTRELAY_STREAM_TIMEOUT")
	setString(&cfg.Transport.AuthToken, "AGENTRELAY_AUTH_TOKEN")
	setInt(&cfg.Transport.MaxConcurrent, "AGENTRELAY_MAX_CONCURRENT")

	setInt(&cfg.Retry.MaxAttempts, "AGENTRELAY_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "AGENTRELAY_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "AGENTRELAY_RETRY_MAX_DELAY")

	setInt(&cfg.Breaker.Threshold, "AGENTRELAY_BREAKER_THRESHOLD")
	setDuration(&cfg.Breaker.Cooldown, "AGENTRELAY_BREAKER_COOLDOWN")
	setInt(&cfg.Breaker.HalfOpenMax, "AGENTRELAY_BREAKER_HALF_OPEN_MAX")

	setInt(&cfg.Registry.BufferSize, "AGENTRELAY_REGISTRY_BUFFER_SIZE")
	setInt(&cfg.Registry.SubscriberBuffer, "AGENTRELAY_REGISTRY_SUBSCRIBER_BUFFER")
	setDuration(&cfg.Registry.Retention, "AGENTRELAY_REGISTRY_RETENTION")
	setDuration(&cfg.Registry.SweepInterval, "AGENTRELAY_REGISTRY_SWEEP_INTERVAL")

	setDuration(&cfg.Cards.TTL, "AGENTRELAY_CARD_TTL")
	setInt64(&cfg.Cards.MaxSizeMB, "AGENTRELAY_CARD_CACHE_SIZE_MB")
	setString(&cfg.Cards.SharedBucket, "AGENTRELAY_CARD_SHARED_BUCKET")

	setString(&cfg.Routing.RulesFile, "AGENTRELAY_RULES_FILE")
	setBool(&cfg.Routing.Watch, "AGENTRELAY_RULES_WATCH")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "AGENTRELAY_NATS_SUBJECT_PREFIX")

	setBool(&cfg.OTEL.Enabled, "AGENTRELAY_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "AGENTRELAY_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "AGENTRELAY_OTEL_SAMPLE_RATE")

	// AGENTRELAY_AGENTS="triage=http://triage:9000,network=http://net:9001"
	if v := os.Getenv("AGENTRELAY_AGENTS"); v != "" {
		cfg.Agents = parseAgents(v)
	}
}

func parseAgents(v string) []Agent {
	var agents []Agent
	for _, pair := range strings.Split(v, ",") {
		id, endpoint, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || id == "" || endpoint == "" {
			continue
		}
		agents = append(agents, Agent{ID: id, Endpoint: endpoint})
	}
	return agents
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Transport.CallTimeout <= 0 {
		return errors.New("transport.call_timeout must be > 0")
	}
	if cfg.Transport.StreamTimeout <= 0 {
		return errors.New("transport.stream_timeout must be > 0")
	}
	if cfg.Server.SubmitRate < 0 || (cfg.Server.SubmitRate > 0 && cfg.Server.SubmitBurst < 1) {
		return errors.New("server.submit_rate must be >= 0 and needs server.submit_burst >= 1")
	}
	if cfg.Transport.MaxConcurrent < 0 {
		return errors.New("transport.max_concurrent must be >= 0")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Retry.BaseDelay <= 0 || cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return errors.New("retry.base_delay must be > 0 and <= retry.max_delay")
	}
	if cfg.Breaker.Threshold < 1 {
		return errors.New("breaker.threshold must be >= 1")
	}
	if cfg.Breaker.HalfOpenMax < 1 {
		return errors.New("breaker.half_open_max must be >= 1")
	}
	if cfg.Registry.BufferSize < 1 {
		return errors.New("registry.buffer_size must be >= 1")
	}
	if cfg.Registry.SubscriberBuffer < 1 {
		return errors.New("registry.subscriber_buffer must be >= 1")
	}
	if cfg.Cards.TTL <= 0 {
		return errors.New("cards.ttl must be > 0")
	}
	if cfg.Cards.SharedBucket != "" && cfg.NATS.URL == "" {
		return errors.New("cards.shared_bucket requires nats.url")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
	}

	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a.ID == "" || a.Endpoint == "" {
			return fmt.Errorf("agents[%d]: id and endpoint are required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
	}

	if len(cfg.Routing.Routes) > 0 {
		if _, err := routing.NewTable(cfg.Routing.Routes); err != nil {
			return fmt.Errorf("routing.routes: %w", err)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
