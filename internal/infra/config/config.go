package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Reasoner ReasonerConfig `yaml:"reasoner"`
	Session  SessionConfig  `yaml:"session"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Channel  ChannelConfig  `yaml:"channel"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// StoreConfig holds record store settings.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

// ReasonerConfig holds Bedrock reasoner settings.
type ReasonerConfig struct {
	Region         string               `yaml:"region"`
	Model          string               `yaml:"model"`
	MaxTokens      int                  `yaml:"max_tokens"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for the reasoner.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// SessionConfig holds conversation session settings.
type SessionConfig struct {
	Timeout time.Duration `yaml:"timeout"` // inactivity window before a session resets
}

// DedupConfig holds message deduplication settings.
type DedupConfig struct {
	TTL           time.Duration `yaml:"ttl"`            // dedup hash lifetime
	PurgeSchedule string        `yaml:"purge_schedule"` // cron spec for expired-hash cleanup
}

// ChannelConfig holds channel gateway settings.
type ChannelConfig struct {
	WhatsApp  WhatsAppConfig `yaml:"whatsapp"`
	SendRate  float64        `yaml:"send_rate"`  // outbound messages per second
	SendBurst int            `yaml:"send_burst"`
}

// WhatsAppConfig holds WhatsApp Cloud API settings.
type WhatsAppConfig struct {
	Token       string `yaml:"token"`
	PhoneID     string `yaml:"phone_id"`
	VerifyToken string `yaml:"verify_token"`
	AppSecret   string `yaml:"app_secret,omitempty"`
	WebhookAddr string `yaml:"webhook_addr"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "./data/guidebot.db",
		},
		Reasoner: ReasonerConfig{
			Region:    "eu-west-1",
			Model:     "anthropic.claude-3-haiku-20240307-v1:0",
			MaxTokens: 1000,
			Timeout:   30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Session: SessionConfig{
			Timeout: 5 * time.Minute,
		},
		Dedup: DedupConfig{
			TTL:           60 * time.Second,
			PurgeSchedule: "@every 10m",
		},
		Channel: ChannelConfig{
			WhatsApp: WhatsAppConfig{
				WebhookAddr: ":3335",
			},
			SendRate:  5,
			SendBurst: 10,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing file
// is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps GUIDEBOT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GUIDEBOT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("GUIDEBOT_REASONER_REGION"); v != "" {
		cfg.Reasoner.Region = v
	}
	if v := os.Getenv("GUIDEBOT_REASONER_MODEL"); v != "" {
		cfg.Reasoner.Model = v
	}
	if v := os.Getenv("GUIDEBOT_REASONER_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Reasoner.MaxTokens = n
		}
	}
	if v := os.Getenv("GUIDEBOT_REASONER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Reasoner.Timeout = d
		}
	}
	if v := os.Getenv("GUIDEBOT_SESSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Session.Timeout = d
		}
	}
	if v := os.Getenv("GUIDEBOT_DEDUP_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Dedup.TTL = d
		}
	}
	if v := os.Getenv("GUIDEBOT_WHATSAPP_TOKEN"); v != "" {
		cfg.Channel.WhatsApp.Token = v
	}
	if v := os.Getenv("GUIDEBOT_WHATSAPP_PHONE_ID"); v != "" {
		cfg.Channel.WhatsApp.PhoneID = v
	}
	if v := os.Getenv("GUIDEBOT_WHATSAPP_VERIFY_TOKEN"); v != "" {
		cfg.Channel.WhatsApp.VerifyToken = v
	}
	if v := os.Getenv("GUIDEBOT_WHATSAPP_APP_SECRET"); v != "" {
		cfg.Channel.WhatsApp.AppSecret = v
	}
	if v := os.Getenv("GUIDEBOT_WHATSAPP_WEBHOOK_ADDR"); v != "" {
		cfg.Channel.WhatsApp.WebhookAddr = v
	}
	if v := os.Getenv("GUIDEBOT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("GUIDEBOT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("GUIDEBOT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("GUIDEBOT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// Validate checks config invariants.
func Validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if cfg.Reasoner.Model == "" {
		return fmt.Errorf("reasoner.model must not be empty")
	}
	if cfg.Reasoner.MaxTokens <= 0 {
		return fmt.Errorf("reasoner.max_tokens must be positive")
	}
	if cfg.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive")
	}
	if cfg.Dedup.TTL <= 0 {
		return fmt.Errorf("dedup.ttl must be positive")
	}
	return nil
}
