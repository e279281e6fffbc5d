// Package config provides hierarchical configuration loading for agentrelay.
// Precedence: defaults < YAML file < .env file < environment variables.
package config

import (
	"time"

	"github.com/Strob0t/agentrelay/internal/domain/routing"
)

// Config holds all runtime configuration for the relay.
type Config struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Transport Transport `yaml:"transport"`
	Retry     Retry     `yaml:"retry"`
	Breaker   Breaker   `yaml:"breaker"`
	Registry  Registry  `yaml:"registry"`
	Cards     Cards     `yaml:"cards"`
	Routing   Routing   `yaml:"routing"`
	Agents    []Agent   `yaml:"agents"`
	NATS      NATS      `yaml:"nats"`
	OTEL      OTEL      `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	PublicURL       string        `yaml:"public_url"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Heartbeat       time.Duration `yaml:"heartbeat"` // SSE keep-alive comment interval
	SubmitRate      float64       `yaml:"submit_rate"`     // submissions per second per client IP; 0 disables
	SubmitBurst     int           `yaml:"submit_burst"`
	IdempotencyTTL  time.Duration `yaml:"idempotency_ttl"` // replay window for Idempotency-Key; 0 disables
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Transport holds outbound A2A client configuration.
type Transport struct {
	CallTimeout   time.Duration `yaml:"call_timeout"`
	StreamTimeout time.Duration `yaml:"stream_timeout"`
	AuthToken     string        `yaml:"auth_token"`     // static bearer attached to every downstream request
	MaxConcurrent int           `yaml:"max_concurrent"` // task runs talking to agents at once; 0 is unlimited
}

// Retry holds backoff configuration for downstream calls.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Breaker holds per-endpoint circuit breaker configuration.
type Breaker struct {
	Threshold   int           `yaml:"threshold"`
	Cooldown    time.Duration `yaml:"cooldown"`
	HalfOpenMax int           `yaml:"half_open_max"`
}

// Registry holds task registry configuration.
type Registry struct {
	BufferSize       int           `yaml:"buffer_size"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	Retention        time.Duration `yaml:"retention"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// Cards holds agent card cache configuration.
type Cards struct {
	TTL          time.Duration `yaml:"ttl"`
	MaxSizeMB    int64         `yaml:"max_size_mb"`
	SharedBucket string        `yaml:"shared_bucket"` // JetStream KV bucket; needs nats.url
}

// Routing holds the rule table, inline or from a watched file.
type Routing struct {
	RulesFile  string          `yaml:"rules_file"`
	Watch      bool            `yaml:"watch"`
	TypeFields []string        `yaml:"type_fields"`
	CodeFields []string        `yaml:"code_fields"`
	Routes     []routing.Route `yaml:"routes"`
}

// Agent maps an agent identity to its endpoint.
type Agent struct {
	ID       string        `yaml:"id"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"` // overrides transport.stream_timeout when set
}

// NATS holds event fan-out configuration. An empty URL disables it.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// OTEL holds OpenTelemetry configuration.
type OTEL struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			PublicURL:       "http://localhost:8080",
			CORSOrigin:      "http://localhost:3000",
			ShutdownTimeout: 10 * time.Second,
			Heartbeat:       15 * time.Second,
			SubmitBurst:     20,
			IdempotencyTTL:  10 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "agentrelay",
		},
		Transport: Transport{
			CallTimeout:   30 * time.Second,
			StreamTimeout: 10 * time.Minute,
		},
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		Breaker: Breaker{
			Threshold:   5,
			Cooldown:    30 * time.Second,
			HalfOpenMax: 1,
		},
		Registry: Registry{
			BufferSize:       256,
			SubscriberBuffer: 64,
			Retention:        time.Hour,
			SweepInterval:    time.Minute,
		},
		Cards: Cards{
			TTL:       time.Hour,
			MaxSizeMB: 16,
		},
		NATS: NATS{
			SubjectPrefix: "agentrelay",
		},
		OTEL: OTEL{
			ServiceName: "agentrelay",
			Insecure:    true,
			SampleRate:  1.0,
		},
	}
}
