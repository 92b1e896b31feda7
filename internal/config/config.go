package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"trade-sync/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
	Groups    []GroupConfig   `mapstructure:"groups"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs pass cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// BinanceConfig captures exchange API connectivity.
type BinanceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	RecvWindow     int64         `mapstructure:"recv_window"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SyncConfig tunes the incremental synchronization engine.
type SyncConfig struct {
	MaxItems       int           `mapstructure:"max_items"`
	CallDelay      time.Duration `mapstructure:"call_delay"`
	LockRetries    int           `mapstructure:"lock_retries"`
	LockRetryDelay time.Duration `mapstructure:"lock_retry_delay"`
	MaxStoredRows  int           `mapstructure:"max_stored_rows"`
}

// AlertingConfig defines failure notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// GroupConfig declares one tracked group: an ordered set of base symbols
// synchronized together, quoted against a common ticker suffix.
type GroupConfig struct {
	Name    string   `mapstructure:"name"`
	Symbols []string `mapstructure:"symbols"`
	Ticker  string   `mapstructure:"ticker"`
}

// DefaultTicker is the quote currency applied when a group declares none.
const DefaultTicker = "USDT"

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRADESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalizeGroups()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tradesync")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "10m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x74726453))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("binance.base_url", "https://api.binance.com")
	v.SetDefault("binance.recv_window", int64(5000))
	v.SetDefault("binance.request_timeout", "15s")
	v.SetDefault("binance.user_agent", "tradesync/1.0")

	v.SetDefault("sync.max_items", 100)
	v.SetDefault("sync.call_delay", "500ms")
	v.SetDefault("sync.lock_retries", 5)
	v.SetDefault("sync.lock_retry_delay", "2s")
	v.SetDefault("sync.max_stored_rows", 0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalizeGroups() {
	for i := range c.Groups {
		g := &c.Groups[i]
		g.Name = strings.TrimSpace(g.Name)
		if g.Ticker == "" {
			g.Ticker = DefaultTicker
		}
		g.Ticker = strings.ToUpper(strings.TrimSpace(g.Ticker))
		cleaned := g.Symbols[:0]
		for _, s := range g.Symbols {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				cleaned = append(cleaned, s)
			}
		}
		g.Symbols = cleaned
	}
}

// Validate performs basic sanity checks on the configuration values.
// Declaration problems fail here, before any lock is ever taken.
func (c *Config) Validate() error {
	if c.Sync.MaxItems <= 0 {
		return fmt.Errorf("sync.max_items must be greater than zero")
	}
	if c.Sync.CallDelay < 0 {
		return fmt.Errorf("sync.call_delay cannot be negative")
	}
	if c.Sync.LockRetries <= 0 {
		return fmt.Errorf("sync.lock_retries must be greater than zero")
	}
	if c.Sync.MaxStoredRows < 0 {
		return fmt.Errorf("sync.max_stored_rows cannot be negative")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	seen := make(map[string]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("groups[]: name is required")
		}
		if _, dup := seen[g.Name]; dup {
			return fmt.Errorf("groups[%s]: duplicate group name", g.Name)
		}
		seen[g.Name] = struct{}{}
		if len(g.Symbols) == 0 {
			return fmt.Errorf("groups[%s]: at least one symbol is required", g.Name)
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
