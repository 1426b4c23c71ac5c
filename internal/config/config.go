// Package config loads cardsync settings. Later sources override earlier
// ones: built-in defaults, the YAML config file, CARDSYNC_* environment
// variables (a .env file is read first if present), then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// DefaultFile is the config file read when none is named explicitly.
const DefaultFile = "cardsync.yaml"

const envPrefix = "CARDSYNC_"

// Config is the complete application configuration.
type Config struct {
	DB          string `koanf:"db" validate:"required"`
	SessionFile string `koanf:"session_file" validate:"required"`
	JWTSecret   string `koanf:"jwt_secret"`
	ReposDir    string `koanf:"repos_dir" validate:"required"`

	Remote Remote `koanf:"remote"`
	Blob   Blob   `koanf:"blob"`
	Sync   Sync   `koanf:"sync"`
	HTTP   HTTP   `koanf:"http"`
	Log    Log    `koanf:"log"`
}

type Remote struct {
	Driver      string `koanf:"driver" validate:"oneof=postgres memory"`
	DSN         string `koanf:"dsn" validate:"required_if=Driver postgres"`
	RealtimeURL string `koanf:"realtime_url" validate:"omitempty,url"`
}

type Blob struct {
	Dir     string `koanf:"dir" validate:"required"`
	BaseURL string `koanf:"base_url" validate:"required,url"`
}

type Sync struct {
	CardBatchSize int `koanf:"card_batch_size" validate:"min=1,max=50"`
	// Interval of the periodic fallback sync; zero disables it.
	Interval time.Duration `koanf:"interval"`
}

type HTTP struct {
	Addr           string   `koanf:"addr" validate:"required"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type Log struct {
	Level      string `koanf:"level" validate:"oneof=debug info warn error"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"min=1"`
	MaxBackups int    `koanf:"max_backups" validate:"min=0"`
}

var defaults = map[string]any{
	"db":                   "cardsync.db",
	"session_file":         ".cardsync/session",
	"repos_dir":            "repos",
	"remote.driver":        "postgres",
	"remote.dsn":           "postgres://localhost:5432/cardsync?sslmode=disable",
	"blob.dir":             "blobs",
	"blob.base_url":        "http://localhost:8080/blobs",
	"sync.card_batch_size": 5,
	"sync.interval":        "15m",
	"http.addr":            "127.0.0.1:8080",
	"http.allowed_origins": []string{"http://localhost:3000"},
	"log.level":            "info",
	"log.max_size_mb":      10,
	"log.max_backups":      3,
}

// flagKeys maps command-line flag names to config keys. Other flags are
// not configuration.
var flagKeys = map[string]string{
	"db":           "db",
	"session-file": "session_file",
	"remote":       "remote.driver",
	"remote-dsn":   "remote.dsn",
	"addr":         "http.addr",
	"log-level":    "log.level",
	"log-file":     "log.file",
	"batch-size":   "sync.card_batch_size",
	"interval":     "sync.interval",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", DefaultFile, "Path to the YAML config file")
	fs.String("db", "", "Path to the local SQLite database")
	fs.String("session-file", "", "Path to the session token file")
	fs.String("remote", "", "Remote store driver (postgres|memory)")
	fs.String("remote-dsn", "", "Remote Postgres connection string")
	fs.String("addr", "", "Listen address of the status API")
	fs.String("log-level", "", "Log level (debug|info|warn|error)")
	fs.String("log-file", "", "Also write logs to this rotated file")
	fs.Int("batch-size", 0, "Cards pushed concurrently")
	fs.Duration("interval", 0, "Periodic sync interval, 0 disables")
}

// Load builds the configuration. flags may be nil; when it carries a
// "config" flag that was set explicitly the named file must exist.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	path, explicit := DefaultFile, false
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			path, explicit = f.Value.String(), f.Changed
		}
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagValue(flags)), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns CARDSYNC_REMOTE__DSN into remote.dsn. Comma separated
// values become lists for list-valued keys.
func envKey(name, value string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "http.allowed_origins" {
		return key, strings.Split(value, ",")
	}
	return key, value
}

func flagValue(flags *pflag.FlagSet) func(f *pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("invalid config: sync.interval must not be negative")
	}
	return nil
}

// EnsureDirs creates the directories the configured paths live in.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Blob.Dir, c.ReposDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
