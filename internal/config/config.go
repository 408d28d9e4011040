// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	ScrapeAPI  ScrapeAPIConfig  `mapstructure:"scrape_api"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Mapper     MapperConfig     `mapstructure:"mapper"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ExtractionConfig governs run behavior.
type ExtractionConfig struct {
	MaxPages          int     `mapstructure:"max_pages"`
	BlobThresholdKB   int     `mapstructure:"blob_threshold_kb"`
	StructuredPassCap int     `mapstructure:"structured_pass_cap"`
	ProbePasses       int     `mapstructure:"probe_passes"`
	ReplayCap         int     `mapstructure:"replay_cap"`
	PageQPS           float64 `mapstructure:"page_qps"`
}

// ScrapeAPIConfig configures the page-discovery/scrape service client.
type ScrapeAPIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// HeadlessConfig configures the headless browsing subsystem.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxPages      int    `mapstructure:"max_pages"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	UserAgent     string `mapstructure:"user_agent"`
	ReplayQPS     int    `mapstructure:"replay_qps"`
}

// MapperConfig controls the local fallback site mapper.
type MapperConfig struct {
	UseLocal bool `mapstructure:"use_local"`
	MaxDepth int  `mapstructure:"max_depth"`
	MaxLinks int  `mapstructure:"max_links"`
}

// StorageConfig selects the blob provider for oversized artifacts.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"` // "gcs", "local", or "none"
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("extraction.max_pages", 15)
	v.SetDefault("extraction.blob_threshold_kb", 256)
	v.SetDefault("extraction.structured_pass_cap", 8)
	v.SetDefault("extraction.probe_passes", 6)
	v.SetDefault("extraction.replay_cap", 50)
	v.SetDefault("extraction.page_qps", 1.0)
	v.SetDefault("scrape_api.timeout_seconds", 90)
	v.SetDefault("scrape_api.max_retries", 2)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_pages", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.user_agent", "eventscope-extractor/0.1")
	v.SetDefault("headless.replay_qps", 2)
	v.SetDefault("mapper.use_local", false)
	v.SetDefault("mapper.max_depth", 3)
	v.SetDefault("mapper.max_links", 500)
	v.SetDefault("storage.provider", "none")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Extraction.MaxPages <= 0 {
		return fmt.Errorf("extraction.max_pages must be > 0")
	}
	if !c.Mapper.UseLocal && c.ScrapeAPI.BaseURL == "" {
		return fmt.Errorf("scrape_api.base_url must be set unless mapper.use_local is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxPages <= 0 {
		return fmt.Errorf("headless.max_pages must be > 0 when headless is enabled")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.provider is local")
		}
	case "none", "":
	default:
		return fmt.Errorf("storage.provider must be one of gcs, local, none")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}
