package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/viktor-monitor/viktor/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Tokens   TokensConfig   `mapstructure:"tokens"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig holds analysis backend configuration
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APISecret      string        `mapstructure:"api_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	FromCloud      bool          `mapstructure:"from_cloud"`
	PageLimit      int           `mapstructure:"page_limit"`
}

// MonitorConfig holds the report cycle configuration
type MonitorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Source         string        `mapstructure:"source"`
	MinConfidence  float64       `mapstructure:"min_confidence"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	NotifyMinDelta float64       `mapstructure:"notify_min_delta"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds the SQLite cache configuration
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path"`
	MaxRuns    int    `mapstructure:"max_runs"`
	MaxReports int    `mapstructure:"max_reports"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TokensConfig holds the market listing proxy configuration
type TokensConfig struct {
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// VIKTOR_MONITOR_MIN_CONFIDENCE overrides monitor.min_confidence, etc.
	v.SetEnvPrefix("VIKTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api.api_secret", "VIKTOR_API_API_SECRET", "API_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind api secret: %w", err)
	}
	if err := v.BindEnv("api.base_url", "VIKTOR_API_BASE_URL", "API_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind api url: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.base_url", "https://viktor.wakushi.com")
	v.SetDefault("api.api_secret", "")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.retry_delay_base", "1s")
	v.SetDefault("api.from_cloud", false)
	v.SetDefault("api.page_limit", 0)

	// Monitor defaults
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.poll_interval", "15m")
	v.SetDefault("monitor.source", string(models.SourceWeekly))
	v.SetDefault("monitor.min_confidence", 50.0)
	v.SetDefault("monitor.cache_ttl", "10m")
	v.SetDefault("monitor.notify_min_delta", 0.05)
	v.SetDefault("monitor.cooldown", "6h")

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/viktor.db")
	v.SetDefault("storage.max_runs", 2000)
	v.SetDefault("storage.max_reports", 500)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Tokens defaults
	v.SetDefault("tokens.url", "https://coincodex.com/apps/coincodex/cache/all_coins.json")
	v.SetDefault("tokens.timeout", "30s")
	v.SetDefault("tokens.cache_ttl", "1h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate API config
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.APISecret == "" {
		return fmt.Errorf("api.api_secret is required (or set API_SECRET)")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must not be negative")
	}
	if c.API.PageLimit < 0 {
		return fmt.Errorf("api.page_limit must not be negative")
	}

	// Validate Monitor config
	if c.Monitor.PollInterval < 1*time.Minute {
		return fmt.Errorf("monitor.poll_interval must be at least 1 minute")
	}
	if !models.Source(c.Monitor.Source).Valid() {
		return fmt.Errorf("monitor.source must be one of: daily, weekly")
	}
	if c.Monitor.MinConfidence < 0 || c.Monitor.MinConfidence > 100 {
		return fmt.Errorf("monitor.min_confidence must be between 0 and 100")
	}
	if c.Monitor.CacheTTL < 0 {
		return fmt.Errorf("monitor.cache_ttl must not be negative")
	}
	if c.Monitor.NotifyMinDelta < 0 {
		return fmt.Errorf("monitor.notify_min_delta must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxRuns < 1 {
		return fmt.Errorf("storage.max_runs must be at least 1")
	}
	if c.Storage.MaxReports < 1 {
		return fmt.Errorf("storage.max_reports must be at least 1")
	}

	// Validate Server config
	if c.Server.Enabled {
		if c.Server.ListenAddr == "" {
			return fmt.Errorf("server.listen_addr is required when server is enabled")
		}
		if c.Server.RateLimit <= 0 {
			return fmt.Errorf("server.rate_limit must be positive")
		}
		if c.Server.RateBurst < 1 {
			return fmt.Errorf("server.rate_burst must be at least 1")
		}
	}

	// Validate Tokens config
	if c.Tokens.URL == "" {
		return fmt.Errorf("tokens.url is required")
	}
	if c.Tokens.Timeout <= 0 {
		return fmt.Errorf("tokens.timeout must be positive")
	}
	if c.Tokens.CacheTTL < 0 {
		return fmt.Errorf("tokens.cache_ttl must not be negative")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// MonitorSource returns the configured monitor source as a typed value
func (c *Config) MonitorSource() models.Source {
	return models.Source(c.Monitor.Source)
}
