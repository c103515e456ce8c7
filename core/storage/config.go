package storage

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds engine-wide settings. It is usually loaded from a TOML file.
type Config struct {
	// DomainRoot is the directory under which every {space}/{db} lives.
	DomainRoot string `toml:"domain_root"`
	// SchemaTemplates is a directory of seed schemas copied into newly
	// created databases. Empty disables seeding.
	SchemaTemplates string `toml:"schema_templates"`
	// CacheCapacity bounds the number of cached manifests.
	CacheCapacity int `toml:"cache_capacity"`
	// CacheTTL bounds how long a cached manifest is trusted. Zero disables expiry.
	CacheTTL Duration `toml:"cache_ttl"`
	// SoftDelete makes DropDB rename databases instead of removing them.
	SoftDelete bool `toml:"soft_delete"`
	// MaxRulePasses bounds the fixed-point iteration of computed fields.
	MaxRulePasses int `toml:"max_rule_passes"`
	// LogLevel is a zap level name.
	LogLevel string `toml:"log_level"`
	// HistoryDB is an optional SQLite file recording engine events.
	HistoryDB string `toml:"history_db"`
	// Collation is the BCP 47 locale used to order strings in queries.
	Collation string `toml:"collation"`
}

// Duration wraps time.Duration so it can be written as "5m" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return Config{
		DomainRoot:    "data",
		CacheCapacity: 64,
		CacheTTL:      Duration{5 * time.Minute},
		MaxRulePasses: 10,
		LogLevel:      "info",
		Collation:     "en",
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings for values the engine cannot work with.
func (c Config) Validate() error {
	if c.DomainRoot == "" {
		return fmt.Errorf("config: domain_root must not be empty")
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("config: cache_capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.CacheTTL.Duration < 0 {
		return fmt.Errorf("config: cache_ttl must not be negative")
	}
	if c.MaxRulePasses < 1 {
		return fmt.Errorf("config: max_rule_passes must be positive, got %d", c.MaxRulePasses)
	}
	return nil
}
