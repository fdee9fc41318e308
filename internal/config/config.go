// Package config loads service configuration from defaults, an optional YAML file,
// HITLOG_* environment variables and command-line overrides, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HITLOG_"

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "HITLOG_CONFIG"

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"hitlog.yaml",
	"hitlog.yml",
	"/etc/hitlog/config.yaml",
}

// Config is the full service configuration.
type Config struct {
	Addr string `koanf:"addr" validate:"required"`

	StorageDir       string `koanf:"storage_dir" validate:"required"`
	MaxHitmapRecords int    `koanf:"max_hitmap_records" validate:"min=1"`
	DecodePolicy     string `koanf:"decode_policy" validate:"oneof=skip fail"`
	MaxBodyBytes     int64  `koanf:"max_body_bytes" validate:"min=1"`

	AllowedOrigins []string `koanf:"allowed_origins" validate:"dive,required"`

	ViewerFile string `koanf:"viewer_file"`
	WebDir     string `koanf:"web_dir"`

	Retention         time.Duration `koanf:"retention" validate:"min=0"`
	CompressAfterDays int           `koanf:"compress_after_days" validate:"min=0"`
	CleanerInterval   time.Duration `koanf:"cleaner_interval" validate:"min=0"`

	// RateLimit is uploads per minute per client IP. 0 disables limiting.
	RateLimit int `koanf:"rate_limit" validate:"min=0"`

	SourceTTL       time.Duration `koanf:"source_ttl" validate:"min=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`

	LogLevel  string `koanf:"log_level" validate:"oneof=trace debug info warn error fatal disabled"`
	LogFormat string `koanf:"log_format" validate:"oneof=json console"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:             ":5000",
		StorageDir:       "logs",
		MaxHitmapRecords: 5000,
		DecodePolicy:     "skip",
		MaxBodyBytes:     10 << 20,
		AllowedOrigins: []string{
			"http://127.0.0.1:5500",
			"http://localhost:5500",
			"http://127.0.0.1:8000",
			"http://localhost:8000",
			"http://localhost:5000",
		},
		ViewerFile:        "static/hitmap.html",
		WebDir:            "",
		Retention:         0,
		CompressAfterDays: 0,
		CleanerInterval:   time.Hour,
		RateLimit:         0,
		SourceTTL:         10 * time.Minute,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// sliceKeys are split on commas when they arrive as strings (from the environment).
var sliceKeys = []string{"allowed_origins"}

// Load builds the configuration. path may be empty, in which case HITLOG_CONFIG and
// DefaultConfigPaths are consulted; a missing file is not an error. overrides are applied
// last, keyed by koanf path (e.g. "storage_dir").
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	for key, val := range overrides {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps HITLOG_STORAGE_DIR to storage_dir. HITLOG_CONFIG is not a config key.
func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func processSliceFields(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		strVal, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(key, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}
