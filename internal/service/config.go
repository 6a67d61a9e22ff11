// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Source   SourceConfig   `mapstructure:"source"`
	Sector   SectorConfig   `mapstructure:"sector"`
	Account  AccountConfig  `mapstructure:"account"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig selects the gorm dialector. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"` // sqlite file path or full postgres connection string
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// EngineConfig holds the market session window and ingestion loop pacing.
type EngineConfig struct {
	Timezone          string        `mapstructure:"timezone"`
	Open              string        `mapstructure:"open"`  // "15:04" or "15:04:05", local to Timezone
	Close             string        `mapstructure:"close"` // inclusive, includes closing-auction buffer
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ClosedInterval    time.Duration `mapstructure:"closed_interval"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	CollectTimeout    time.Duration `mapstructure:"collect_timeout"`

	// Consecutive failed collects before the session restarts its source.
	MaxCollectFailures int `mapstructure:"max_collect_failures"`
}

// SourceConfig describes the quotes page and its DOM contract.
type SourceConfig struct {
	URL            string   `mapstructure:"url"`
	UserAgent      string   `mapstructure:"user_agent"`
	Headless       bool     `mapstructure:"headless"`
	LiveSelector   string   `mapstructure:"live_selector"`
	ExpandSelector string   `mapstructure:"expand_selector"`
	TableSelectors []string `mapstructure:"table_selectors"`
	MaxTickerLen   int      `mapstructure:"max_ticker_len"`
}

type SectorConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Suffix        string        `mapstructure:"suffix"` // market suffix appended to tickers, e.g. ".AX"
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	UserAgent     string        `mapstructure:"user_agent"`

	// Re-resolves of unresolved sectors per persist pass, and how long a
	// ticker waits before it is retried.
	HealPerPass int           `mapstructure:"heal_per_pass"`
	HealBackoff time.Duration `mapstructure:"heal_backoff"`
}

type AccountConfig struct {
	StartingBalance float64 `mapstructure:"starting_balance"`
}

type AlertsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ScannerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Period   int           `mapstructure:"period"`  // RSI / SMA lookback
	History  int           `mapstructure:"history"` // price rows loaded per ticker
}

type HTTPConfig struct {
	Addr          string `mapstructure:"addr"`
	AllowedOrigin string `mapstructure:"allowed_origin"`
}

// SetDefaults registers every default on v so that a missing config file still
// yields a runnable configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "kangaroo.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("engine.timezone", "Australia/Sydney")
	v.SetDefault("engine.open", "10:00")
	v.SetDefault("engine.close", "16:15")
	v.SetDefault("engine.poll_interval", time.Second)
	v.SetDefault("engine.closed_interval", 60*time.Second)
	v.SetDefault("engine.retry_interval", 10*time.Second)
	v.SetDefault("engine.navigation_timeout", 60*time.Second)
	v.SetDefault("engine.collect_timeout", 15*time.Second)
	v.SetDefault("engine.max_collect_failures", 5)

	v.SetDefault("source.url", "https://www.marketindex.com.au/asx200")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("source.headless", true)
	v.SetDefault("source.live_selector", "div#live-prices")
	v.SetDefault("source.expand_selector", "a.show-more-rows, button.control-company-display")
	v.SetDefault("source.table_selectors", []string{"table.mi-table.company-table", "table.mi-table.quoteapi-even-items"})
	v.SetDefault("source.max_ticker_len", 5)

	v.SetDefault("sector.base_url", "https://query2.finance.yahoo.com")
	v.SetDefault("sector.suffix", ".AX")
	v.SetDefault("sector.timeout", 10*time.Second)
	v.SetDefault("sector.rate_per_minute", 60)
	v.SetDefault("sector.user_agent", "Mozilla/5.0")
	v.SetDefault("sector.heal_per_pass", 10)
	v.SetDefault("sector.heal_backoff", 5*time.Minute)

	v.SetDefault("account.starting_balance", 100000.0)

	v.SetDefault("alerts.interval", 5*time.Second)

	v.SetDefault("scanner.interval", 5*time.Minute)
	v.SetDefault("scanner.period", 14)
	v.SetDefault("scanner.history", 200)

	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.allowed_origin", "http://localhost:3000")
}

// LoadConfig reads config.yaml from configPath (if present), overlays
// KANGAROO_* environment variables and decodes the result.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("KANGAROO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("engine.timezone %q: %w", c.Engine.Timezone, err)
	}
	open, err := ParseClock(c.Engine.Open)
	if err != nil {
		return fmt.Errorf("engine.open: %w", err)
	}
	closeAt, err := ParseClock(c.Engine.Close)
	if err != nil {
		return fmt.Errorf("engine.close: %w", err)
	}
	if closeAt <= open {
		return fmt.Errorf("engine.close %s must be after engine.open %s", c.Engine.Close, c.Engine.Open)
	}
	for name, d := range map[string]time.Duration{
		"poll_interval":      c.Engine.PollInterval,
		"closed_interval":    c.Engine.ClosedInterval,
		"retry_interval":     c.Engine.RetryInterval,
		"navigation_timeout": c.Engine.NavigationTimeout,
		"collect_timeout":    c.Engine.CollectTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("engine.%s must be positive, got %s", name, d)
		}
	}
	if c.Engine.MaxCollectFailures <= 0 {
		return fmt.Errorf("engine.max_collect_failures must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Account.StartingBalance < 0 {
		return fmt.Errorf("account.starting_balance must not be negative")
	}
	if len(c.Source.TableSelectors) == 0 {
		return fmt.Errorf("source.table_selectors is empty")
	}
	return nil
}
