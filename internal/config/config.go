package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Values load from an optional YAML
// file first, then the environment; environment wins so deployments can
// override a checked-in file without editing it.
type Config struct {
	Env         string `yaml:"env"`
	Version     string `yaml:"version"`
	DatabaseURL string `yaml:"database_url"`

	OpenAIAPIKey string `yaml:"openai_api_key"`
	// MockExtractor forces the deterministic extractor regardless of key.
	MockExtractor bool `yaml:"mock_extractor"`

	AttachmentMaxMB int `yaml:"attachment_max_mb"`

	MetricsAddr   string        `yaml:"metrics_addr"`
	WorkerName    string        `yaml:"worker_name"`
	SchedulerPoll time.Duration `yaml:"scheduler_poll"`
	OutboxPoll    time.Duration `yaml:"outbox_poll"`
}

// Load reads .env (if present), then the YAML file at path (if non-empty and
// present), then the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:           "development",
		MetricsAddr:   ":9190",
		SchedulerPoll: 15 * time.Second,
		OutboxPoll:    5 * time.Second,
	}

	if path != "" {
		body, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(body, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	overlayEnv(cfg)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	setString(&cfg.Env, "APP_ENV")
	setString(&cfg.Version, "APP_VERSION")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")
	setString(&cfg.WorkerName, "WORKER_NAME")

	if v := os.Getenv("MOCK_EXTRACTOR"); v != "" {
		cfg.MockExtractor, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("ATTACHMENT_MAX_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AttachmentMaxMB = n
		}
	}
	if v := os.Getenv("SCHEDULER_POLL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SchedulerPoll = d
		}
	}
	if v := os.Getenv("OUTBOX_POLL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OutboxPoll = d
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// AttachmentMaxBytes returns the upload cap, zero meaning "use the default".
func (c *Config) AttachmentMaxBytes() int {
	if c.AttachmentMaxMB <= 0 {
		return 0
	}
	return c.AttachmentMaxMB << 20
}
