package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pfrederiksen/meteo-history/internal/history"
	"github.com/pfrederiksen/meteo-history/internal/logger"
	"github.com/pfrederiksen/meteo-history/internal/scraper"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "METEO_HISTORY"

// Configuration keys
const (
	KeyDataFile        = "data_file"
	KeyBaseURL         = "base_url"
	KeyUserAgent       = "user_agent"
	KeyFetchTimeout    = "fetch_timeout"
	KeyRequestInterval = "request_interval"
	KeyConcurrency     = "concurrency"
	KeyRetries         = "retries"
	KeyAutoRefresh     = "auto_refresh"
	KeyMaxQueryDays    = "max_query_days"
	KeyLogLevel        = "log_level"
)

// DefaultDataFile is where the station directory is kept unless configured otherwise
const DefaultDataFile = "~/.local/share/meteo-history/stations.json"

// Config holds the resolved settings
type Config struct {
	DataFile        string        `mapstructure:"data_file"`
	BaseURL         string        `mapstructure:"base_url"`
	UserAgent       string        `mapstructure:"user_agent"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	RequestInterval time.Duration `mapstructure:"request_interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	Retries         int           `mapstructure:"retries"`
	AutoRefresh     bool          `mapstructure:"auto_refresh"`
	MaxQueryDays    int           `mapstructure:"max_query_days"`
	LogLevel        string        `mapstructure:"log_level"`
}

// New returns a viper instance carrying the defaults and reading the environment
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyDataFile, DefaultDataFile)
	v.SetDefault(KeyBaseURL, scraper.DefaultBaseURL)
	v.SetDefault(KeyUserAgent, scraper.UserAgent)
	v.SetDefault(KeyFetchTimeout, scraper.Timeout)
	v.SetDefault(KeyRequestInterval, scraper.RequestInterval)
	v.SetDefault(KeyConcurrency, scraper.DefaultConcurrency)
	v.SetDefault(KeyRetries, scraper.Retries)
	v.SetDefault(KeyAutoRefresh, false)
	v.SetDefault(KeyMaxQueryDays, history.DefaultMaxQueryDays)
	v.SetDefault(KeyLogLevel, "warn")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// DefaultConfigFile returns $XDG_CONFIG_HOME/meteo-history/config.yaml, or "" when no
// user config directory can be determined.
func DefaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "meteo-history", "config.yaml")
}

// Load reads configFile into v, then unmarshals and validates the result. An explicit
// configFile must exist; when it is empty the default location is tried and may be
// absent.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	explicit := configFile != ""
	if !explicit {
		configFile = DefaultConfigFile()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			switch {
			case explicit:
				return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
			case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
				// Default location is optional
			default:
				return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the settings are usable
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataFile) == "" {
		return fmt.Errorf("%s is required", KeyDataFile)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyConcurrency, c.Concurrency)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyFetchTimeout, c.FetchTimeout)
	}
	if c.Retries < 0 {
		return fmt.Errorf("%s cannot be negative, got %d", KeyRetries, c.Retries)
	}
	if c.MaxQueryDays < 0 {
		return fmt.Errorf("%s cannot be negative, got %d", KeyMaxQueryDays, c.MaxQueryDays)
	}
	if c.RequestInterval < 0 {
		return fmt.Errorf("%s cannot be negative, got %s", KeyRequestInterval, c.RequestInterval)
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("%s must be an absolute URL, got %q", KeyBaseURL, c.BaseURL)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// Level returns the configured log level
func (c *Config) Level() logger.Level {
	level, _ := logger.ParseLevel(c.LogLevel)
	return level
}

// ClientConfig returns the HTTP client settings
func (c *Config) ClientConfig() scraper.ClientConfig {
	interval := c.RequestInterval
	if interval == 0 {
		// Zero means no pacing here; the client reads zero as "use the default"
		interval = -1
	}
	return scraper.ClientConfig{
		UserAgent:       c.UserAgent,
		Timeout:         c.FetchTimeout,
		RequestInterval: interval,
		Retries:         c.Retries,
	}
}
