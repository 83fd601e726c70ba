// Package config loads server and CLI settings. Precedence, highest first:
// explicit flags, TRACKER_* environment variables, tracker.yaml, defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys.
const (
	KeyListenAddr      = "listen_addr"
	KeyDBDriver        = "db.driver"
	KeyDBPath          = "db.path"
	KeyBlobDir         = "blob.dir"
	KeyCORSOrigin      = "cors_origin"
	KeyLogLevel        = "log.level"
	KeyLogFile         = "log.file"
	KeyLogMaxSizeMB    = "log.max_size_mb"
	KeyLogMaxBackups   = "log.max_backups"
	KeyShutdownTimeout = "shutdown_timeout"
	KeyMaxUploadBytes  = "max_upload_bytes"
)

// EnvPrefix prefixes every environment override (TRACKER_DB_PATH).
const EnvPrefix = "TRACKER"

// Config is the resolved configuration.
type Config struct {
	ListenAddr      string
	DBDriver        string
	DBPath          string
	BlobDir         string
	CORSOrigin      string
	LogLevel        string
	LogFile         string
	LogMaxSizeMB    int
	LogMaxBackups   int
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

var v *viper.Viper

// Initialize sets up the process-wide viper instance. It reads tracker.yaml
// from the working directory or $HOME/.config/tracker when present.
func Initialize() error {
	v = New()
	v.SetConfigName("tracker")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "tracker"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment binding but
// no config file.
func New() *viper.Viper {
	nv := viper.New()
	setDefaults(nv)
	nv.SetEnvPrefix(EnvPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()
	return nv
}

func setDefaults(nv *viper.Viper) {
	dataDir := ".tracker"
	nv.SetDefault(KeyListenAddr, "localhost:8080")
	nv.SetDefault(KeyDBDriver, "sqlite")
	nv.SetDefault(KeyDBPath, filepath.Join(dataDir, "tracker.db"))
	nv.SetDefault(KeyBlobDir, filepath.Join(dataDir, "blobs"))
	nv.SetDefault(KeyCORSOrigin, "")
	nv.SetDefault(KeyLogLevel, "info")
	nv.SetDefault(KeyLogFile, "")
	nv.SetDefault(KeyLogMaxSizeMB, 50)
	nv.SetDefault(KeyLogMaxBackups, 3)
	nv.SetDefault(KeyShutdownTimeout, 10*time.Second)
	nv.SetDefault(KeyMaxUploadBytes, int64(10<<20))
}

func instance() *viper.Viper {
	if v == nil {
		v = New()
	}
	return v
}

// BindFlag makes flag override key when the flag is set.
func BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: no such flag", key)
	}
	return instance().BindPFlag(key, flag)
}

// Set overrides key for the rest of the process.
func Set(key string, value any) {
	instance().Set(key, value)
}

// GetString returns a string setting.
func GetString(key string) string {
	return instance().GetString(key)
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	return instance().ConfigFileUsed()
}

// Load resolves the current settings.
func Load() (*Config, error) {
	return FromViper(instance())
}

// FromViper resolves settings from nv and validates them.
func FromViper(nv *viper.Viper) (*Config, error) {
	cfg := &Config{
		ListenAddr:      nv.GetString(KeyListenAddr),
		DBDriver:        nv.GetString(KeyDBDriver),
		DBPath:          nv.GetString(KeyDBPath),
		BlobDir:         nv.GetString(KeyBlobDir),
		CORSOrigin:      nv.GetString(KeyCORSOrigin),
		LogLevel:        strings.ToLower(nv.GetString(KeyLogLevel)),
		LogFile:         nv.GetString(KeyLogFile),
		LogMaxSizeMB:    nv.GetInt(KeyLogMaxSizeMB),
		LogMaxBackups:   nv.GetInt(KeyLogMaxBackups),
		ShutdownTimeout: nv.GetDuration(KeyShutdownTimeout),
		MaxUploadBytes:  nv.GetInt64(KeyMaxUploadBytes),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("%s: unsupported driver %q", KeyDBDriver, c.DBDriver)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%s is required", KeyDBPath)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s: unknown level %q", KeyLogLevel, c.LogLevel)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyShutdownTimeout)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("%s must be positive", KeyMaxUploadBytes)
	}
	return nil
}
