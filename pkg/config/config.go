// Package config loads the agent configuration from a YAML file with
// an optional .env overlay. Credentials can be supplied or overridden
// through the environment so they stay out of config files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/stevedore-deploy/stevedore/pkg/feeds"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// CacheConfig locates the package cache.
type CacheConfig struct {
	// Root is the cache root, partitioned per feed id beneath it.
	Root string `yaml:"root" validate:"required"`

	// MinFreeBytes is the free disk space required before a download;
	// zero selects the built-in default.
	MinFreeBytes uint64 `yaml:"min_free_bytes"`
}

// JournalConfig locates the installation journal.
type JournalConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// RetryConfig carries the download retry defaults; per-invocation
// flags override them.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts" validate:"min=1"`
	Backoff     Duration `yaml:"backoff" validate:"min=0"`
}

// Config is the full agent configuration.
type Config struct {
	Logging telemetry.LoggingConfig `yaml:"logging"`
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
	Cache   CacheConfig             `yaml:"cache"`
	Journal JournalConfig           `yaml:"journal"`
	Retry   RetryConfig             `yaml:"retry"`
	Feeds   []feeds.Definition      `yaml:"feeds" validate:"dive"`
}

// Default returns the configuration defaults applied before the file
// is read.
func Default() *Config {
	return &Config{
		Logging: telemetry.DefaultLoggingConfig(),
		Retry: RetryConfig{
			MaxAttempts: 5,
			Backoff:     Duration(10 * time.Second),
		},
	}
}

// Load reads the configuration file at path, overlays a .env file next
// to it when one exists, applies environment credential overrides and
// validates the result.
func Load(path string) (*Config, error) {
	// A missing .env is fine; a present one feeds the overrides below.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural and semantic
// problems.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Feeds))
	for _, feed := range c.Feeds {
		if seen[feed.ID] {
			return fmt.Errorf("duplicate feed id %q", feed.ID)
		}
		seen[feed.ID] = true
	}
	return nil
}

// FeedByID returns the definition of a configured feed.
func (c *Config) FeedByID(id string) (feeds.Definition, error) {
	for _, feed := range c.Feeds {
		if feed.ID == id {
			return feed, nil
		}
	}
	return feeds.Definition{}, fmt.Errorf("feed %q is not configured", id)
}

// applyEnvOverrides lets the environment supply feed credentials:
// STEVEDORE_FEED_<ID>_USERNAME / _PASSWORD / _TOKEN, with the feed id
// upper-cased and non-alphanumerics mapped to underscores.
func (c *Config) applyEnvOverrides() {
	for i := range c.Feeds {
		prefix := "STEVEDORE_FEED_" + envKey(c.Feeds[i].ID) + "_"
		if v, ok := os.LookupEnv(prefix + "USERNAME"); ok {
			c.Feeds[i].Credentials.Username = v
		}
		if v, ok := os.LookupEnv(prefix + "PASSWORD"); ok {
			c.Feeds[i].Credentials.Password = v
		}
		if v, ok := os.LookupEnv(prefix + "TOKEN"); ok {
			c.Feeds[i].Credentials.Token = v
		}
	}
}

func envKey(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
