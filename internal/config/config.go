package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alvmarrod/peer-weaver/internal/rpc"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration parameters
type Config struct {
	SeedURLs         []string `mapstructure:"seed_urls" json:"seed_urls"`
	MaxDepth         int      `mapstructure:"max_depth" json:"max_depth"`
	MaxConcurrency   int      `mapstructure:"max_concurrency" json:"max_concurrency"`
	RequestTimeoutMs int      `mapstructure:"request_timeout_ms" json:"request_timeout_ms"`
	Retries          int      `mapstructure:"retries" json:"retries"`
	Platform         string   `mapstructure:"platform" json:"platform"`
	AdminPort        int      `mapstructure:"admin_port" json:"admin_port"`
	NID              string   `mapstructure:"nid" json:"nid"`
	DBPath           string   `mapstructure:"db_path" json:"db_path"`
	MetricsPath      string   `mapstructure:"metrics_path" json:"metrics_path"`
	MetricsAddr      string   `mapstructure:"metrics_addr" json:"metrics_addr"`
	OutputPath       string   `mapstructure:"output_path" json:"output_path"`
	LogLevel         string   `mapstructure:"log_level" json:"log_level"`
}

// RequestTimeout returns the per-request timeout as a duration
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// NewViper returns a viper instance reading PEERWEAVER_* env vars
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("peerweaver")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers the values used when neither file, env nor flag sets a key.
// An explicit zero for max_depth or retries is kept.
func setDefaults(v *viper.Viper) {
	v.SetDefault("max_depth", 5)
	v.SetDefault("max_concurrency", 10)
	v.SetDefault("request_timeout_ms", 5000)
	v.SetDefault("retries", 1)
	v.SetDefault("platform", "icon")
	v.SetDefault("admin_port", 9000)
	v.SetDefault("metrics_path", "metrics.log")
	v.SetDefault("log_level", "info")
}

// LoadConfig reads the optional config file at path (json/yaml/toml by extension),
// merges env and bound flags from v, then applies defaults and validates
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills fields for which zero is never a usable value
func applyDefaults(cfg *Config) {
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 5000
	}
	if cfg.Platform == "" {
		cfg.Platform = "icon"
	}
	if cfg.AdminPort == 0 {
		cfg.AdminPort = 9000
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.log"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.Platform = strings.ToLower(cfg.Platform)
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	if len(cfg.SeedURLs) == 0 {
		return fmt.Errorf("seed_urls is required")
	}
	for _, seed := range cfg.SeedURLs {
		if strings.TrimSpace(seed) == "" {
			return fmt.Errorf("seed_urls must not contain empty entries")
		}
	}
	if cfg.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0")
	}
	if cfg.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be >= 1")
	}
	if cfg.RequestTimeoutMs < 100 {
		return fmt.Errorf("request_timeout_ms must be >= 100")
	}
	if cfg.Retries < 0 {
		return fmt.Errorf("retries must be >= 0")
	}
	if cfg.AdminPort < 1 || cfg.AdminPort > 65535 {
		return fmt.Errorf("admin_port must be in 1..65535")
	}
	if _, err := rpc.ParsePlatform(cfg.Platform); err != nil {
		return err
	}
	return nil
}
