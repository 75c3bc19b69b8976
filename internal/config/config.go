package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/licentra/licentra/internal/domain"
)

const envPrefix = "LICENTRA__"

// AppConfig wraps the parsed configuration and the viper instance that
// produced it, so dynamic values can be reloaded when the file changes.
type AppConfig struct {
	Config *domain.Config
	viper  *viper.Viper

	mu sync.RWMutex
}

// New loads configuration from configPath (a file or a directory that
// contains config.toml), applying defaults and environment overrides.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper:  viper.New(),
		Config: &domain.Config{},
	}

	c.defaults()

	// viper joins the prefix and key with one underscore, giving the
	// LICENTRA__ style names (e.g. LICENTRA__DATADIR).
	c.viper.SetEnvPrefix(strings.TrimSuffix(envPrefix, "_"))
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	c.viper.AutomaticEnv()

	if configPath != "" {
		if err := c.load(configPath); err != nil {
			return nil, err
		}
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("host", "localhost")
	c.viper.SetDefault("port", 7474)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("httpTimeouts.readTimeout", 15)
	c.viper.SetDefault("httpTimeouts.writeTimeout", 15)
	c.viper.SetDefault("httpTimeouts.idleTimeout", 60)
	c.viper.SetDefault("licensing.defaultMaxDevices", 1)
	c.viper.SetDefault("licensing.defaultValidityDays", 365)
	c.viper.SetDefault("licensing.activityWindowMins", 30)
	c.viper.SetDefault("licensing.activityCacheSeconds", 60)
}

func (c *AppConfig) load(configPath string) error {
	info, err := os.Stat(configPath)
	if err == nil && info.IsDir() {
		configPath = filepath.Join(configPath, "config.toml")
	}

	c.viper.SetConfigFile(configPath)
	c.viper.SetConfigType("toml")

	if err := c.viper.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file %q: %w", configPath, err)
	}

	return nil
}

// DatabasePath returns the resolved sqlite database location: dataDir when
// set, otherwise next to the config file.
func (c *AppConfig) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := c.Config.DataDir
	if dir == "" {
		if used := c.viper.ConfigFileUsed(); used != "" {
			dir = filepath.Dir(used)
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "licentra.db")
}

// Licensing returns a copy of the issuing defaults, safe to read while a
// reload is in flight.
func (c *AppConfig) Licensing() domain.Licensing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Config.Licensing
}

// Watch reloads dynamic config values when the config file changes on disk.
// Only log level and licensing defaults are applied live; host/port changes
// require a restart.
func (c *AppConfig) Watch() {
	if c.viper.ConfigFileUsed() == "" {
		return
	}

	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		updated := &domain.Config{}
		if err := c.viper.Unmarshal(updated); err != nil {
			log.Error().Err(err).Msg("Failed to reload config, keeping previous values")
			return
		}

		c.Config.LogLevel = updated.LogLevel
		c.Config.Licensing = updated.Licensing
		SetLogLevel(c.Config.LogLevel)

		log.Debug().Str("file", e.Name).Msg("Config reloaded")
	})
	c.viper.WatchConfig()
}

// SetLogLevel applies a config log level string to the global zerolog level.
func SetLogLevel(level string) {
	switch strings.ToUpper(level) {
	case "TRACE":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "INFO":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
