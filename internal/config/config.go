// Package config loads couchfs settings from an optional YAML file and the
// COUCHFS_* environment. Command-line flags override whatever is loaded here.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config carries every tunable the couchfs commands accept.
type Config struct {
	Store StoreConfig `yaml:"store"`
	Mount MountConfig `yaml:"mount"`
	Cache CacheConfig `yaml:"cache"`

	LogLevel string `yaml:"log_level" env:"COUCHFS_LOG_LEVEL" env-default:"info"`
}

// StoreConfig addresses the CouchDB backend.
type StoreConfig struct {
	Database string        `yaml:"database" env:"COUCHFS_DATABASE" env-default:"couchfs"`
	Timeout  time.Duration `yaml:"timeout" env:"COUCHFS_TIMEOUT" env-default:"3s"`
}

// MountConfig covers the kernel-facing mount options.
type MountConfig struct {
	AllowOther bool `yaml:"allow_other" env:"COUCHFS_ALLOW_OTHER"`
	ReadOnly   bool `yaml:"read_only" env:"COUCHFS_READ_ONLY"`
}

// CacheConfig controls the local attribute cache.
type CacheConfig struct {
	Disabled bool          `yaml:"disabled" env:"COUCHFS_CACHE_DISABLED"`
	Dir      string        `yaml:"dir" env:"COUCHFS_CACHE_DIR"`
	TTL      time.Duration `yaml:"ttl" env:"COUCHFS_CACHE_TTL" env-default:"1s"`
}

// Load reads configuration from the given file path. An empty path falls
// back to the COUCHFS_CONFIG environment variable; when that is empty too,
// the configuration comes from environment variables and defaults alone.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("COUCHFS_CONFIG")
	}
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config from environment: %w", err)
		}
		return &cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return &cfg, nil
}
