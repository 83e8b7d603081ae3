package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/tapmarket/internal/models"
	"github.com/rewired-gh/tapmarket/internal/storage"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Rebalance RebalanceConfig `mapstructure:"rebalance"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Report    ReportConfig    `mapstructure:"report"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Catalog   []CatalogDrink  `mapstructure:"catalog"`
}

// ServerConfig holds the HTTP control surface configuration
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	MySQLURL     string        `mapstructure:"mysql_url"`
	Bootstrap    bool          `mapstructure:"bootstrap"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// PricingConfig holds tick configuration
type PricingConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	TickLead        time.Duration `mapstructure:"tick_lead"`
	SalesWindow     time.Duration `mapstructure:"sales_window"`
	CrashMultiplier float64       `mapstructure:"crash_multiplier"`
	HistoryLimit    int           `mapstructure:"history_limit"`
}

// RebalanceConfig holds the conservation rebalancer configuration
type RebalanceConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	ThresholdCents  int64         `mapstructure:"threshold_cents"`
	MinPerItemCents int64         `mapstructure:"min_per_item_cents"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ReportConfig holds where end-of-night reports are archived
type ReportConfig struct {
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3PathStyle bool   `mapstructure:"s3_path_style"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CatalogDrink is one seed entry. Prices are in decimal currency units, as
// the bar lists them.
type CatalogDrink struct {
	ID                 int64   `mapstructure:"id"`
	Name               string  `mapstructure:"name"`
	Category           string  `mapstructure:"category"`
	Color              string  `mapstructure:"color"`
	BasePrice          float64 `mapstructure:"base_price"`
	MinPrice           float64 `mapstructure:"min_price"`
	MaxPrice           float64 `mapstructure:"max_price"`
	ExpectedPopularity float64 `mapstructure:"expected_popularity"`
	Gamma              float64 `mapstructure:"gamma"`
	DeltaMax           float64 `mapstructure:"delta_max"`
}

// Load reads configuration from file and environment variables. A missing
// file is tolerated so a deployment can run from the environment alone.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("TAPMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.mysql_url", "")
	v.SetDefault("storage.bootstrap", true)
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.query_timeout", "5s")

	// Pricing defaults
	v.SetDefault("pricing.tick_interval", "30s")
	v.SetDefault("pricing.tick_lead", "1s")
	v.SetDefault("pricing.sales_window", "30s")
	v.SetDefault("pricing.crash_multiplier", 0.90)
	v.SetDefault("pricing.history_limit", 1500)

	// Rebalance defaults
	v.SetDefault("rebalance.enabled", true)
	v.SetDefault("rebalance.interval", "60s")
	v.SetDefault("rebalance.threshold_cents", 5)
	v.SetDefault("rebalance.min_per_item_cents", 1)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Report defaults
	v.SetDefault("report.s3_bucket", "")
	v.SetDefault("report.s3_region", "eu-west-1")
	v.SetDefault("report.s3_endpoint", "")
	v.SetDefault("report.s3_path_style", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	case "mysql":
		if c.Storage.DSN == "" && c.Storage.MySQLURL == "" {
			return fmt.Errorf("storage.dsn or storage.mysql_url is required for driver mysql")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, mysql, postgres")
	}
	if c.Storage.MaxOpenConns < 1 {
		return fmt.Errorf("storage.max_open_conns must be at least 1")
	}

	// Validate Pricing config
	if c.Pricing.TickInterval < time.Second {
		return fmt.Errorf("pricing.tick_interval must be at least 1 second")
	}
	if c.Pricing.TickLead < 0 || c.Pricing.TickLead >= c.Pricing.TickInterval {
		return fmt.Errorf("pricing.tick_lead must be between 0 and pricing.tick_interval")
	}
	if c.Pricing.SalesWindow <= 0 {
		return fmt.Errorf("pricing.sales_window must be positive")
	}
	if c.Pricing.CrashMultiplier <= 0 || c.Pricing.CrashMultiplier > 1 {
		return fmt.Errorf("pricing.crash_multiplier must be in (0, 1]")
	}
	if c.Pricing.HistoryLimit < 1 {
		return fmt.Errorf("pricing.history_limit must be at least 1")
	}

	// Validate Rebalance config
	if c.Rebalance.Enabled && c.Rebalance.Interval < time.Second {
		return fmt.Errorf("rebalance.interval must be at least 1 second")
	}
	if c.Rebalance.ThresholdCents < 0 || c.Rebalance.MinPerItemCents < 0 {
		return fmt.Errorf("rebalance thresholds must not be negative")
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

	// Validate Metrics config
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
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

	// Validate Catalog
	if _, err := c.Drinks(); err != nil {
		return err
	}

	return nil
}

// Drinks converts the configured catalog to models. It returns nil when no
// catalog is configured, meaning the built-in one applies.
func (c *Config) Drinks() ([]models.Drink, error) {
	if len(c.Catalog) == 0 {
		return nil, nil
	}
	drinks := make([]models.Drink, 0, len(c.Catalog))
	seen := make(map[int64]bool, len(c.Catalog))
	for i, entry := range c.Catalog {
		category, err := models.ParseCategory(entry.Category)
		if err != nil {
			return nil, fmt.Errorf("catalog[%d]: %w", i, err)
		}
		d := models.Drink{
			ID:                 entry.ID,
			Name:               entry.Name,
			Category:           category,
			Color:              entry.Color,
			Price:              models.CentsFromFloat(entry.BasePrice),
			BasePrice:          models.CentsFromFloat(entry.BasePrice),
			MinPrice:           models.CentsFromFloat(entry.MinPrice),
			MaxPrice:           models.CentsFromFloat(entry.MaxPrice),
			ExpectedPopularity: entry.ExpectedPopularity,
			Gamma:              entry.Gamma,
			DeltaMax:           entry.DeltaMax,
		}
		if d.Gamma == 0 {
			d.Gamma = 0.4
		}
		if d.DeltaMax == 0 {
			d.DeltaMax = 0.10
		}
		if d.ID <= 0 || seen[d.ID] {
			return nil, fmt.Errorf("catalog[%d]: id must be positive and unique", i)
		}
		seen[d.ID] = true
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("catalog[%d] %q: %w", i, entry.Name, err)
		}
		drinks = append(drinks, d)
	}
	return drinks, nil
}

// DefaultSQLitePath is the database file used when sqlite runs without a dsn.
const DefaultSQLitePath = "./data/tapmarket.db"

// StorageDSN returns the DSN to open. For mysql a configured mysql_url wins
// over dsn; sqlite falls back to DefaultSQLitePath.
func (c *Config) StorageDSN() (string, error) {
	switch {
	case c.Storage.Driver == "mysql" && c.Storage.MySQLURL != "":
		return storage.MySQLURLToDSN(c.Storage.MySQLURL)
	case c.Storage.Driver == "sqlite" && c.Storage.DSN == "":
		return DefaultSQLitePath, nil
	}
	return c.Storage.DSN, nil
}
