// Package config provides configuration management for the scanner.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"candle-scanner/internal/errors"
	"candle-scanner/internal/fetcher"
	"candle-scanner/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Kite     KiteConfig     `mapstructure:"kite"`
	Data     DataConfig     `mapstructure:"data"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Overview OverviewConfig `mapstructure:"overview"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// KiteConfig holds Kite Connect credentials.
type KiteConfig struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
	TokenPath   string `mapstructure:"token_path"`
	Exchange    string `mapstructure:"exchange"`
}

// DataConfig selects where series and artifacts live.
type DataConfig struct {
	Dir         string   `mapstructure:"dir"`
	Backend     string   `mapstructure:"backend"` // file, sqlite
	DBPath      string   `mapstructure:"db_path"`
	TickersFile string   `mapstructure:"tickers_file"`
	Tickers     []string `mapstructure:"tickers"`
}

// IngestConfig tunes fetching and backfill.
type IngestConfig struct {
	Intervals          []string      `mapstructure:"intervals"`
	RowTarget          int           `mapstructure:"row_target"`
	MaxThinPages       int           `mapstructure:"max_thin_pages"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	Burst              int           `mapstructure:"burst"`
}

// PoolConfig sets the worker pool widths.
type PoolConfig struct {
	FetchWorkers     int `mapstructure:"fetch_workers"`
	IndicatorWorkers int `mapstructure:"indicator_workers"`
}

// ScheduleConfig times the refresh loop.
type ScheduleConfig struct {
	FirstDelay time.Duration `mapstructure:"first_delay"`
	Interval   time.Duration `mapstructure:"interval"`
}

// OverviewConfig configures the overview artifact.
type OverviewConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Freshness          time.Duration `mapstructure:"freshness"`
	Recheck            time.Duration `mapstructure:"recheck"`
	RetryEmpty         time.Duration `mapstructure:"retry_empty"`
	RequestInterval    time.Duration `mapstructure:"request_interval"`
	ShortableURL       string        `mapstructure:"shortable_url"`
	ShortableAvailable string        `mapstructure:"shortable_available"`
	CacheSize          int           `mapstructure:"cache_size"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
}

// StreamConfig configures the live feed.
type StreamConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// RedisConfig configures the optional summary mirror.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MetricsConfig configures the metrics endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/candle-scanner"
	}
	return filepath.Join(home, ".config", "candle-scanner")
}

func setDefaults(v *viper.Viper, configDir string) {
	policy := fetcher.DefaultPolicy()

	v.SetDefault("kite.exchange", string(models.NSE))
	v.SetDefault("kite.token_path", filepath.Join(configDir, "session.json"))

	v.SetDefault("data.dir", filepath.Join(configDir, "data"))
	v.SetDefault("data.backend", "file")
	v.SetDefault("data.db_path", filepath.Join(configDir, "data", "scanner.db"))
	v.SetDefault("data.tickers_file", "")

	v.SetDefault("ingest.intervals", []string{"1m", "5m", "15m", "30m", "1h", "1d", "1w", "1mo"})
	v.SetDefault("ingest.row_target", policy.RowTarget)
	v.SetDefault("ingest.max_thin_pages", policy.MaxThinPages)
	v.SetDefault("ingest.cooldown", policy.Cooldown)
	v.SetDefault("ingest.fetch_timeout", policy.FetchTimeout)
	v.SetDefault("ingest.staleness_threshold", policy.StalenessThreshold)
	v.SetDefault("ingest.requests_per_second", policy.RequestsPerSecond)
	v.SetDefault("ingest.burst", policy.Burst)

	v.SetDefault("pool.fetch_workers", 8)
	v.SetDefault("pool.indicator_workers", 6)

	v.SetDefault("schedule.first_delay", time.Minute)
	v.SetDefault("schedule.interval", time.Hour)

	v.SetDefault("overview.enabled", false)
	v.SetDefault("overview.freshness", 24*time.Hour)
	v.SetDefault("overview.recheck", 6*time.Hour)
	v.SetDefault("overview.retry_empty", time.Hour)
	v.SetDefault("overview.request_interval", time.Second)
	v.SetDefault("overview.cache_size", 4096)
	v.SetDefault("overview.cache_ttl", 24*time.Hour)

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.reconnect_delay", time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "scanner")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", true)
	v.SetDefault("log.file_path", filepath.Join(configDir, "logs", "scanner.log"))
}

// Load loads configuration from the specified directory. If configDir is
// empty, uses the default config directory. A missing config.toml is
// created from the template and defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env files never override variables already set.
	for _, p := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if err := godotenv.Load(p); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "loading %s", p)
		}
	}

	v := viper.New()
	setDefaults(v, configDir)
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "loading config.toml")
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Kite.AccessToken = v
	}
	if v := os.Getenv("SCANNER_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("SCANNER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Intervals(); err != nil {
		errs = append(errs, errors.NewValidationError("ingest.intervals", c.Ingest.Intervals, err.Error()))
	}
	switch c.Data.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, errors.NewValidationError("data.backend", c.Data.Backend, "must be 'file' or 'sqlite'"))
	}
	if c.Data.Dir == "" {
		errs = append(errs, errors.NewValidationError("data.dir", c.Data.Dir, "must not be empty"))
	}
	if c.Pool.FetchWorkers < 1 {
		errs = append(errs, errors.NewValidationError("pool.fetch_workers", c.Pool.FetchWorkers, "must be at least 1"))
	}
	if c.Pool.IndicatorWorkers < 1 {
		errs = append(errs, errors.NewValidationError("pool.indicator_workers", c.Pool.IndicatorWorkers, "must be at least 1"))
	}
	if c.Schedule.Interval <= 0 {
		errs = append(errs, errors.NewValidationError("schedule.interval", c.Schedule.Interval, "must be positive"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.NewValidationError("redis.addr", c.Redis.Addr, "required when redis is enabled"))
	}
	if err := c.FetchPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Intervals parses the configured interval list.
func (c *Config) Intervals() ([]models.Interval, error) {
	return models.ParseIntervals(c.Ingest.Intervals)
}

// FetchPolicy builds the fetch policy from the ingest section.
func (c *Config) FetchPolicy() fetcher.Policy {
	p := fetcher.DefaultPolicy()
	p.RowTarget = c.Ingest.RowTarget
	p.MaxThinPages = c.Ingest.MaxThinPages
	p.Cooldown = c.Ingest.Cooldown
	p.FetchTimeout = c.Ingest.FetchTimeout
	p.StalenessThreshold = c.Ingest.StalenessThreshold
	p.RequestsPerSecond = c.Ingest.RequestsPerSecond
	p.Burst = c.Ingest.Burst
	return p
}

// Exchange returns the configured exchange.
func (c *Config) Exchange() models.Exchange {
	return models.Exchange(strings.ToUpper(c.Kite.Exchange))
}
