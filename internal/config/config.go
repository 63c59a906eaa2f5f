package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "STOK_"

type Config struct {
	HTTPAddr       string        `koanf:"http_addr"`
	DatabaseURL    string        `koanf:"database_url"`
	MigrationsDir  string        `koanf:"migrations_dir"`
	AutoMigrate    bool          `koanf:"auto_migrate"`
	RequireTLS     bool          `koanf:"require_tls"`
	APIKeyHash     string        `koanf:"api_key_hash"`
	LogLevel       string        `koanf:"log_level"`
	MaxUploadBytes int64         `koanf:"max_upload_bytes"`
	MaxImportRows  int           `koanf:"max_import_rows"`
	SessionTTL     time.Duration `koanf:"session_ttl"`
}

func defaults() map[string]any {
	return map[string]any{
		"http_addr":        ":8080",
		"database_url":     "",
		"migrations_dir":   "",
		"auto_migrate":     true,
		"require_tls":      false,
		"api_key_hash":     "",
		"log_level":        "info",
		"max_upload_bytes": int64(5 << 20),
		"max_import_rows":  1000,
		"session_ttl":      "30m",
	}
}

// Load merges, lowest to highest: defaults, the YAML file named by --config or
// STOK_CONFIG_FILE, STOK_* environment variables, flags set on the command line.
// flags may be nil.
func Load(flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path := configFile(flags); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.APIKeyHash = strings.TrimSpace(cfg.APIKeyHash)

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database_url is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	if cfg.MaxImportRows <= 0 {
		cfg.MaxImportRows = 1000
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	return cfg, nil
}

// BindFlags registers the flags Load understands on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("http-addr", ":8080", "listen address")
	fs.String("database-url", "", "postgres:// URL or sqlite file path")
	fs.String("migrations-dir", "", "read migrations from this directory instead of the embedded set")
	fs.Bool("auto-migrate", true, "apply pending migrations on startup")
	fs.Bool("require-tls", false, "reject plain HTTP requests")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.Int64("max-upload-bytes", 5<<20, "largest accepted spreadsheet upload")
	fs.Int("max-import-rows", 1000, "largest accepted number of data rows")
	fs.Duration("session-ttl", 30*time.Minute, "idle lifetime of an import session")
}

func configFile(flags *pflag.FlagSet) string {
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			return strings.TrimSpace(f.Value.String())
		}
	}
	return strings.TrimSpace(os.Getenv(envPrefix + "CONFIG_FILE"))
}
